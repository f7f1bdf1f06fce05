package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/drinkpoap/keys"
	"xdao.co/drinkpoap/model"
)

func newKeyCmd(c *cli) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Local Dilithium3 key management for token signing",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Key store directory (default ~/.drinkpoap/keys)")
	store := func() (*keys.KeyStore, error) { return keys.CreateKeyStore(dir) }

	var name, seedHex string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a root key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := keys.CheckKeyName(name); err != nil {
				return model.WrapError(model.KindInvalidInput, "invalid --name", err)
			}
			ks, err := store()
			if err != nil {
				return err
			}
			var seed []byte
			if seedHex != "" {
				if seed, err = keys.ParseSeedHex(seedHex); err != nil {
					return model.WrapError(model.KindInvalidInput, "invalid --seed-hex", err)
				}
			} else if seed, err = keys.NewSeed(); err != nil {
				return err
			}
			pub, path, err := ks.InitializeRootKey(name, seed, force)
			if err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(c.out, "Created root key: %s\n", pub)
			fmt.Fprintf(c.out, "Stored at: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&name, "name", "", "Key name")
	initCmd.Flags().StringVar(&seedHex, "seed-hex", "", "Optional seed as hex (reproducible keys)")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")

	var from, role string
	var forceDerive bool
	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a role key from a root key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := keys.CheckKeyName(from); err != nil {
				return model.WrapError(model.KindInvalidInput, "invalid --from", err)
			}
			if err := keys.CheckRole(role); err != nil {
				return model.WrapError(model.KindInvalidInput, "invalid --role", err)
			}
			ks, err := store()
			if err != nil {
				return err
			}
			pub, path, err := ks.DeriveKeyFromRole(from, role, forceDerive)
			if err != nil {
				return fmt.Errorf("derive role key: %w", err)
			}
			fmt.Fprintf(c.out, "Created role key: %s\n", pub)
			fmt.Fprintf(c.out, "Stored at: %s\n", path)
			return nil
		},
	}
	deriveCmd.Flags().StringVar(&from, "from", "", "Root key name")
	deriveCmd.Flags().StringVar(&role, "role", "token", "Role identifier")
	deriveCmd.Flags().BoolVar(&forceDerive, "force", false, "Overwrite existing key files")

	var exportName, exportRole string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Print a public key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ks, err := store()
			if err != nil {
				return err
			}
			pub, err := ks.ExportPublicKey(exportName, exportRole)
			if err != nil {
				return fmt.Errorf("export key: %w", err)
			}
			fmt.Fprintln(c.out, pub)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&exportName, "name", "", "Key name")
	exportCmd.Flags().StringVar(&exportRole, "role", "", "Optional role")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List keys and their roles",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ks, err := store()
			if err != nil {
				return err
			}
			entries, err := ks.ListKeys()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintln(c.out, e.Identifier)
				for _, r := range e.Roles {
					fmt.Fprintf(c.out, "  - %s\n", r)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, deriveCmd, exportCmd, listCmd)
	return cmd
}
