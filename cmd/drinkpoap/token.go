package main

import (
	"time"

	"github.com/spf13/cobra"

	"xdao.co/drinkpoap/internal/app"
	"xdao.co/drinkpoap/token"
)

func newTokenCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and check venue access tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(c), newTokenValidateCmd(c))
	return cmd
}

type issuedToken struct {
	Token     string    `json:"token"`
	QRPayload string    `json:"qr_payload"`
	Alg       string    `json:"alg"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenIssueCmd(c *cli) *cobra.Command {
	var venue, purpose string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token for a venue",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			svc, err := app.NewTokenService(cfg)
			if err != nil {
				return err
			}
			if venue == "" {
				venue = cfg.Venue.ID
			}
			tok, err := svc.Issue(venue, purpose)
			if err != nil {
				return err
			}
			return c.printJSON(issuedToken{
				Token:     tok.Raw,
				QRPayload: svc.QRPayload(tok.Raw),
				Alg:       svc.Alg(),
				ExpiresAt: tok.ExpiresAt,
			})
		},
	}
	cmd.Flags().StringVar(&venue, "venue", "", "Venue id (default venue.id)")
	cmd.Flags().StringVar(&purpose, "purpose", token.PurposeMint, "Token purpose")
	return cmd
}

func newTokenValidateCmd(c *cli) *cobra.Command {
	var purpose string
	var qr bool
	cmd := &cobra.Command{
		Use:   "validate <token>",
		Short: "Validate a token and print its venue",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			svc, err := app.NewTokenService(cfg)
			if err != nil {
				return err
			}
			raw := args[0]
			if qr {
				if raw, err = svc.ParseQRPayload(raw); err != nil {
					return err
				}
			}
			tok, err := svc.Parse(raw)
			if err != nil {
				return err
			}
			if _, err := svc.Validate(raw, purpose); err != nil {
				return err
			}
			return c.printJSON(map[string]any{
				"venue_id":   tok.VenueID,
				"purpose":    tok.Purpose,
				"nonce":      tok.Nonce,
				"issued_at":  tok.IssuedAt,
				"expires_at": tok.ExpiresAt,
			})
		},
	}
	cmd.Flags().StringVar(&purpose, "purpose", token.PurposeMint, "Expected purpose")
	cmd.Flags().BoolVar(&qr, "qr", false, "Argument is a scanned QR payload")
	return cmd
}
