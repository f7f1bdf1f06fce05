package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"xdao.co/drinkpoap/cidutil"
	"xdao.co/drinkpoap/internal/app"
	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
)

func newDocCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Compose, publish and inspect content documents",
	}

	cidCmd := &cobra.Command{
		Use:   "cid <file>",
		Short: "Print the content address of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", filepath.Base(args[0]), err)
			}
			id, err := cidutil.CIDv1RawSHA256CID(b)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, cidutil.URI(id))
			return nil
		},
	}

	var entriesPath string
	var dryRun bool
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Compose a document from an entries file and publish it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			composer, closeFn, err := c.composer()
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			entries, err := c.readEntries(entriesPath)
			if err != nil {
				return err
			}
			doc, err := composer.Compose(composer.Base(), entries)
			if err != nil {
				return err
			}
			if dryRun {
				b, err := metadata.Encode(doc)
				if err != nil {
					return err
				}
				_, err = c.out.Write(b)
				return err
			}
			p, err := composer.Publish(cmd.Context(), doc)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, p.String())
			return nil
		},
	}
	publishCmd.Flags().StringVar(&entriesPath, "entries", "", "JSON array of entries")
	publishCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the canonical document instead of publishing")

	getCmd := &cobra.Command{
		Use:   "get <pointer>",
		Short: "Print the stored document behind a pointer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := model.ParsePointer(args[0])
			if err != nil {
				return err
			}
			composer, closeFn, err := c.composer()
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			b, err := composer.Raw(cmd.Context(), p)
			if err != nil {
				return err
			}
			_, err = c.out.Write(b)
			return err
		},
	}

	uploadCmd := &cobra.Command{
		Use:   "upload-image <file>",
		Short: "Store an image and print its pointer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", filepath.Base(args[0]), err)
			}
			composer, closeFn, err := c.composer()
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			p, err := composer.UploadImage(cmd.Context(), b)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, p.String())
			return nil
		},
	}

	cmd.AddCommand(cidCmd, publishCmd, getCmd, uploadCmd)
	return cmd
}

// composer opens only the content store; no token or ledger settings are needed.
func (c *cli) composer() (*metadata.Composer, func() error, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, nil, err
	}
	logger := c.logger(cfg)
	store, closeFn, err := app.OpenStore(cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}
	base := metadata.DefaultBase()
	if cfg.Document.Title != "" {
		base.Title = cfg.Document.Title
	}
	if cfg.Document.Description != "" {
		base.Description = cfg.Document.Description
	}
	return metadata.NewComposer(store, base, metadata.WithClock(c.now), metadata.WithLogger(logger)), closeFn, nil
}
