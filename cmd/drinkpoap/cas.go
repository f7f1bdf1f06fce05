package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
	"xdao.co/drinkpoap/storage"
	"xdao.co/drinkpoap/storage/bundle"
	"xdao.co/drinkpoap/storage/casregistry"
)

func newCASCmd(c *cli) *cobra.Command {
	gofs := flag.NewFlagSet("cas", flag.ContinueOnError)
	var backend string
	gofs.StringVar(&backend, "backend", "localfs", "CAS backend name")
	casregistry.RegisterFlags(gofs, casregistry.UsageCLI)

	cmd := &cobra.Command{
		Use:   "cas",
		Short: "Raw content store operations",
		Long:  "Raw content store operations. Backend flags are named after the backend, e.g. --localfs-dir, --grpc-target, --s3-bucket.",
	}
	cmd.PersistentFlags().AddGoFlagSet(gofs)

	open := func() (storage.CAS, func() error, error) {
		return casregistry.Open(backend, casregistry.UsageCLI)
	}
	withCAS := func(fn func(storage.CAS) error) error {
		cas, closeFn, err := open()
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer closeFn()
		}
		return fn(cas)
	}

	backendsCmd := &cobra.Command{
		Use:   "backends",
		Short: "List compiled-in backends",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			for _, b := range casregistry.List(casregistry.UsageCLI) {
				if b.Description == "" {
					fmt.Fprintln(c.out, b.Name)
					continue
				}
				fmt.Fprintf(c.out, "%s\t%s\n", b.Name, b.Description)
			}
			return nil
		},
	}

	putCmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file and print its CID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", filepath.Base(args[0]), err)
			}
			return withCAS(func(cas storage.CAS) error {
				id, err := cas.Put(cmd.Context(), b)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, id.String())
				return nil
			})
		},
	}

	var outPath string
	getCmd := &cobra.Command{
		Use:   "get <cid>",
		Short: "Fetch a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCID(args[0])
			if err != nil {
				return err
			}
			return withCAS(func(cas storage.CAS) error {
				b, err := cas.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if outPath == "" {
					_, err = c.out.Write(b)
					return err
				}
				return os.WriteFile(outPath, b, 0o600)
			})
		},
	}
	getCmd.Flags().StringVar(&outPath, "out", "", "Output file (default stdout)")

	var bundlePath string
	var documents []string
	exportCmd := &cobra.Command{
		Use:   "export [cid...]",
		Short: "Write blocks to a deterministic tar bundle",
		Long:  "Write blocks to a deterministic tar bundle. Each --document also exports the document's cover and drink images.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bundlePath == "" {
				return model.NewError(model.KindInvalidInput, "missing --out")
			}
			var ids []cid.Cid
			for _, a := range args {
				id, err := parseCID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return withCAS(func(cas storage.CAS) error {
				labels := map[string]cid.Cid{}
				composer := metadata.NewComposer(cas, metadata.DefaultBase())
				for i, d := range documents {
					p, err := model.ParsePointer(d)
					if err != nil {
						return err
					}
					doc, err := composer.Load(cmd.Context(), p)
					if err != nil {
						return err
					}
					prefix := "document"
					if len(documents) > 1 {
						prefix = fmt.Sprintf("document/%d", i)
					}
					labels[prefix] = p.CID()
					ids = append(ids, p.CID())
					if doc.Image.Defined() {
						labels[prefix+"/cover"] = doc.Image.CID()
						ids = append(ids, doc.Image.CID())
					}
					for _, e := range doc.Drinks {
						if e.Image.Defined() {
							labels[prefix+"/image/"+e.ID] = e.Image.CID()
							ids = append(ids, e.Image.CID())
						}
					}
				}
				if len(ids) == 0 {
					return model.NewError(model.KindInvalidInput, "nothing to export")
				}
				f, err := os.Create(bundlePath)
				if err != nil {
					return err
				}
				if err := bundle.Export(cmd.Context(), f, cas, ids, bundle.ExportOptions{Labels: labels, IncludeIndex: true}); err != nil {
					_ = f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	exportCmd.Flags().StringVar(&bundlePath, "out", "", "Bundle file to write")
	exportCmd.Flags().StringArrayVar(&documents, "document", nil, "Document pointer to export with its images (repeatable)")

	var ignoreUnknown bool
	importCmd := &cobra.Command{
		Use:   "import <bundle.tar>",
		Short: "Store every block of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withCAS(func(cas storage.CAS) error {
				res, err := bundle.Import(cmd.Context(), f, cas, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
				if err != nil {
					return err
				}
				for _, id := range res.Blocks {
					fmt.Fprintln(c.out, id.String())
				}
				names := make([]string, 0, len(res.Labels))
				for n := range res.Labels {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					fmt.Fprintf(c.out, "%s\t%s\n", n, res.Labels[n])
				}
				return nil
			})
		},
	}
	importCmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip unknown tar entries")

	cmd.AddCommand(backendsCmd, putCmd, getCmd, exportCmd, importCmd)
	return cmd
}

func parseCID(s string) (cid.Cid, error) {
	p, err := model.ParsePointer(strings.TrimSpace(s))
	if err != nil {
		return cid.Undef, err
	}
	return p.CID(), nil
}
