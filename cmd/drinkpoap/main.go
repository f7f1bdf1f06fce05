// Command drinkpoap serves and operates the dynamic drink POAP service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"xdao.co/drinkpoap/internal/app"
	"xdao.co/drinkpoap/internal/config"
	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		if model.IsKind(err, model.KindInvalidInput) {
			return 2
		}
		return 1
	}
	return 0
}

// cli carries the root flags and output streams shared by subcommands.
type cli struct {
	out        io.Writer
	errOut     io.Writer
	configPath string
	logLevel   string
	now        func() time.Time
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut, now: time.Now}
	root := &cobra.Command{
		Use:           "drinkpoap",
		Short:         "Dynamic drink POAP service and operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("DRINKPOAP_CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(c),
		newTokenCmd(c),
		newKeyCmd(c),
		newCatalogCmd(c),
		newDocCmd(c),
		newClaimCmd(c),
		newBatchCmd(c),
		newCASCmd(c),
		newSignRequestCmd(c),
	)
	return root
}

func (c *cli) config() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	return cfg, nil
}

// logger writes human-readable logs to stderr for one-shot commands.
func (c *cli) logger(cfg config.Config) *slog.Logger {
	return app.NewLogger(c.errOut, config.LogConfig{Level: cfg.Log.Level, Format: "text"})
}

func (c *cli) openApp(ctx context.Context) (*app.App, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, c.logger(cfg))
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readEntries loads a JSON array of entries. Missing ids and timestamps are
// assigned here.
func (c *cli) readEntries(path string) ([]metadata.Entry, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidInput, "read entries", err)
	}
	var in []metadata.Entry
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, model.WrapError(model.KindInvalidInput, "parse entries", err)
	}
	out := make([]metadata.Entry, len(in))
	for i, e := range in {
		at := e.AddedAt
		if at.IsZero() {
			at = c.now()
		}
		filled := metadata.NewEntry(e.Name, e.Description, e.Image, at)
		if e.ID != "" {
			filled.ID = e.ID
		}
		out[i] = filled
	}
	return out, nil
}
