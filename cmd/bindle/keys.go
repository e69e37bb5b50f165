package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nitishm/bindle/keys"
)

func newKeysCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the local signing keyring",
	}
	cmd.AddCommand(
		newKeysInitCommand(opts),
		newKeysDeriveCommand(opts),
		newKeysDilithiumCommand(opts),
		newKeysListCommand(opts),
		newKeysExportCommand(opts),
	)
	return cmd
}

func newKeysInitCommand(opts *rootOptions) *cobra.Command {
	var (
		name    string
		seedHex string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a root Ed25519 key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := keys.CheckKeyName(name); err != nil {
				return fmt.Errorf("invalid --name: %w", err)
			}
			ks, err := keys.Open(opts.keysDir)
			if err != nil {
				return err
			}
			var seed []byte
			if seedHex != "" {
				if seed, err = keys.ParseSeedHex(seedHex); err != nil {
					return fmt.Errorf("invalid --seed-hex: %w", err)
				}
			} else {
				seed = make([]byte, ed25519.SeedSize)
				if _, err := rand.Read(seed); err != nil {
					return err
				}
			}
			pub, path, err := ks.InitializeRootKey(name, seed, force)
			if err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(opts.out, "Created root key: %s\n", pub)
			fmt.Fprintf(opts.out, "Stored at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "Ed25519 seed as 64 hex chars (for reproducible setups)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeysDeriveCommand(opts *rootOptions) *cobra.Command {
	var (
		from  string
		role  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a role key from a root key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := keys.CheckRole(role); err != nil {
				return fmt.Errorf("invalid --role: %w", err)
			}
			ks, err := keys.Open(opts.keysDir)
			if err != nil {
				return err
			}
			pub, path, err := ks.DeriveRoleKey(from, role, force)
			if err != nil {
				return fmt.Errorf("derive role key: %w", err)
			}
			fmt.Fprintf(opts.out, "Created role key: %s\n", pub)
			fmt.Fprintf(opts.out, "Stored at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Root key name")
	cmd.Flags().StringVar(&role, "role", "", "Role: creator, proxy, host or approver")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newKeysDilithiumCommand(opts *rootOptions) *cobra.Command {
	var (
		name  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "dilithium",
		Short: "Generate a Dilithium3 key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, err := keys.Open(opts.keysDir)
			if err != nil {
				return err
			}
			_, sk, err := keys.GenerateDilithium3Keypair(rand.Reader)
			if err != nil {
				return err
			}
			pub, err := ks.SaveDilithium3(name, sk, force)
			if err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(opts.out, "Created dilithium3 key: %s\n", pub)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeysListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keys in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, err := keys.Open(opts.keysDir)
			if err != nil {
				return err
			}
			entries, err := ks.List()
			if err != nil {
				return err
			}
			for _, e := range entries {
				extra := ""
				if e.Dilithium3 {
					extra = "\tdilithium3"
				}
				fmt.Fprintf(opts.out, "%s\t%s%s\n", e.Name, strings.Join(e.Roles, ","), extra)
			}
			return nil
		},
	}
}

func newKeysExportCommand(opts *rootOptions) *cobra.Command {
	var name, role string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, err := keys.Open(opts.keysDir)
			if err != nil {
				return err
			}
			pub, err := ks.PublicKey(name, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.out, pub)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringVar(&role, "role", "", "Export the derived role key instead of the root key")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
