package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"xdao.co/drinkpoap/auth"
	"xdao.co/drinkpoap/ledger/evm"
	"xdao.co/drinkpoap/model"
)

func newSignRequestCmd(c *cli) *cobra.Command {
	var method, path, bodyFile, keyFile string
	cmd := &cobra.Command{
		Use:   "sign-request",
		Short: "Print the headers that authenticate an API request",
		Long: "Signs METHOD, PATH and the exact body bytes with an account key.\n" +
			"The key is read from --key-file or DRINKPOAP_SIGNER_KEY (hex).",
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			hexKey := os.Getenv("DRINKPOAP_SIGNER_KEY")
			if keyFile != "" {
				b, err := os.ReadFile(keyFile)
				if err != nil {
					return model.WrapError(model.KindInvalidInput, "read key file", err)
				}
				hexKey = string(b)
			}
			if strings.TrimSpace(hexKey) == "" {
				return model.NewError(model.KindConfiguration, "no signer key: set --key-file or DRINKPOAP_SIGNER_KEY")
			}
			key, err := evm.ParseSignerHex(hexKey)
			if err != nil {
				return err
			}
			var body []byte
			if bodyFile != "" {
				if body, err = os.ReadFile(bodyFile); err != nil {
					return model.WrapError(model.KindInvalidInput, "read body", err)
				}
			}
			ts := time.Now().Unix()
			sig, err := auth.Sign(key, method, path, ts, body)
			if err != nil {
				return err
			}
			return c.printJSON(map[string]string{
				auth.HeaderIdentity:  crypto.PubkeyToAddress(key.PublicKey).Hex(),
				auth.HeaderTimestamp: strconv.FormatInt(ts, 10),
				auth.HeaderSignature: sig,
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method")
	cmd.Flags().StringVar(&path, "path", "/api/batch-updates", "Request path")
	cmd.Flags().StringVar(&bodyFile, "body", "", "File holding the exact request body")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "File holding the hex account key")
	return cmd
}
