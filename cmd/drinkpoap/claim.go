package main

import (
	"github.com/spf13/cobra"

	"xdao.co/drinkpoap/batch"
	"xdao.co/drinkpoap/claim"
	"xdao.co/drinkpoap/model"
)

func newClaimCmd(c *cli) *cobra.Command {
	var identity, entriesPath, pointer string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim a record for an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := claim.Request{Identity: model.Identity(identity)}
			if pointer != "" {
				p, err := model.ParsePointer(pointer)
				if err != nil {
					return err
				}
				req.Pointer = p
			}
			entries, err := c.readEntries(entriesPath)
			if err != nil {
				return err
			}
			req.Entries = entries

			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.Claims.Claim(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.printJSON(out)
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Claiming account address")
	cmd.Flags().StringVar(&entriesPath, "entries", "", "JSON array of entries")
	cmd.Flags().StringVar(&pointer, "pointer", "", "Already published document pointer")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func newBatchCmd(c *cli) *cobra.Command {
	var caller, ids, entriesPath string
	var skip bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Point several records at a newly published document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recordIDs, err := batch.ParseRecordIDs(ids)
			if err != nil {
				return err
			}
			entries, err := c.readEntries(entriesPath)
			if err != nil {
				return err
			}
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Batches.Update(cmd.Context(), batch.Request{
				Caller:          model.Identity(caller),
				RecordIDs:       recordIDs,
				Entries:         entries,
				SkipIfUnchanged: skip,
			})
			if err != nil {
				if len(res.NotAttempted) > 0 {
					_ = c.printJSON(res)
				}
				return err
			}
			return c.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "Privileged account address")
	cmd.Flags().StringVar(&ids, "ids", "", `Record ids, e.g. "0, 1, 2"`)
	cmd.Flags().StringVar(&entriesPath, "entries", "", "JSON array of entries")
	cmd.Flags().BoolVar(&skip, "skip-if-unchanged", false, "Do nothing when the first record already shows these entries")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}
