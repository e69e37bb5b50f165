package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/keys"
)

func newInvoiceCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Create, fetch, sign and yank invoices",
	}
	cmd.AddCommand(
		newInvoiceCreateCommand(opts),
		newInvoiceGetCommand(opts),
		newInvoiceYankCommand(opts),
		newInvoiceSignCommand(opts),
	)
	return cmd
}

func newInvoiceCreateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <invoice.toml>",
		Short: "Upload an invoice and list the parcels the server still needs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.CreateInvoiceFromFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state := "created"
			if !res.Created {
				state = "exists"
			}
			fmt.Fprintf(opts.out, "%s %s\n", state, res.Invoice.ID())
			printLabels(opts, res.Missing)
			return nil
		},
	}
}

func newInvoiceGetCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <name/version>",
		Short: "Print an invoice as TOML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := invoice.ParseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			defer c.Close()
			inv, err := c.GetInvoice(cmd.Context(), id)
			if err != nil {
				return err
			}
			b, err := invoice.Marshal(inv)
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, b, 0o644)
			}
			_, err = opts.out.Write(b)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newInvoiceYankCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "yank <name/version>",
		Short: "Hide an invoice from every read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := invoice.ParseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.YankInvoice(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "yanked %s\n", id)
			return nil
		},
	}
}

func newInvoiceSignCommand(opts *rootOptions) *cobra.Command {
	var (
		name      string
		role      string
		by        string
		hashAlg   string
		dilithium bool
		output    string
	)
	cmd := &cobra.Command{
		Use:   "sign <invoice.toml>",
		Short: "Append a signature from the local keyring",
		Long: `Append a signature to an invoice file.

Ed25519 signatures use the role key derived from --key (see "keys derive").
With --dilithium the key's Dilithium3 key signs instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := keys.Open(opts.keysDir)
			if err != nil {
				return err
			}
			var signer invoice.Signer
			if dilithium {
				sk, err := ks.LoadDilithium3(name)
				if err != nil {
					return fmt.Errorf("load dilithium3 key: %w", err)
				}
				signer = keys.Dilithium3Signer{Key: sk}
			} else {
				seed, err := ks.LoadSeed(name, role)
				if err != nil {
					return fmt.Errorf("load %s key of %q: %w", role, name, err)
				}
				signer = keys.NewEd25519Signer(seed)
			}

			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			inv, err := invoice.Unmarshal(b)
			if err != nil {
				return err
			}
			if by == "" {
				by = name
			}
			if err := invoice.Sign(inv, signer, by, role, time.Now().Unix(), hashAlg); err != nil {
				return err
			}
			out, err := invoice.Marshal(inv)
			if err != nil {
				return err
			}
			if output == "" {
				output = args[0]
			}
			if err := os.WriteFile(output, out, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "signed %s as %s (%s)\n", inv.ID(), role, signer.PublicKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "key", "", "Key name in the keyring")
	cmd.Flags().StringVar(&role, "role", keys.RoleCreator, "Signing role: creator, proxy, host or approver")
	cmd.Flags().StringVar(&by, "by", "", "Signer identity recorded in the signature (default: key name)")
	cmd.Flags().StringVar(&hashAlg, "hash", keys.HashSHA256, "Digest signed: sha256, sha512 or sha3-256")
	cmd.Flags().BoolVar(&dilithium, "dilithium", false, "Sign with the Dilithium3 key")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the signed invoice here (default: in place)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func printLabels(opts *rootOptions, labels []invoice.Label) {
	for _, l := range labels {
		fmt.Fprintf(opts.out, "missing %s\t%s\t%d\n", l.SHA256, l.Name, l.Size)
	}
}
