package main

import (
	"errors"

	"github.com/spf13/cobra"

	"xdao.co/drinkpoap/catalog"
	"xdao.co/drinkpoap/internal/app"
	"xdao.co/drinkpoap/model"
)

func newCatalogCmd(c *cli) *cobra.Command {
	var raw string
	var noFallback bool
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Fetch the drink catalog for the venue in a token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			tokens, err := app.NewTokenService(cfg)
			if err != nil {
				return err
			}
			if raw == "" {
				tok, err := tokens.Issue(cfg.Venue.ID, "")
				if err != nil {
					return err
				}
				raw = tok.Raw
			}
			gw, err := catalog.NewGateway(catalog.Config{
				BaseURL:         cfg.Catalog.BaseURL,
				APIKey:          cfg.Catalog.APIKey,
				Timeout:         cfg.Catalog.Timeout,
				FallbackEnabled: cfg.Catalog.FallbackEnabled && !noFallback,
			}, tokens, catalog.WithLogger(c.logger(cfg)))
			if err != nil {
				return err
			}
			snap, err := gw.Fetch(cmd.Context(), raw)
			if err != nil {
				return err
			}
			out := map[string]any{"source": snap.Source, "degraded": snap.Degraded, "items": snap.Items}
			if snap.Cause != nil {
				var me *model.Error
				if errors.As(snap.Cause, &me) {
					out["cause"] = me.Message
				} else {
					out["cause"] = snap.Cause.Error()
				}
			}
			return c.printJSON(out)
		},
	}
	cmd.Flags().StringVar(&raw, "token", "", "Access token (default: issue one for venue.id)")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "Fail instead of serving sample data")
	return cmd
}
