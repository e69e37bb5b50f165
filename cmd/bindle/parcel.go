package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/standalone"
)

func newParcelCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parcel",
		Short: "Upload and download parcels",
	}
	cmd.AddCommand(newParcelPushCommand(opts), newParcelGetCommand(opts))
	return cmd
}

func newParcelPushCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <name/version> <file>...",
		Short: "Upload files as parcels of an invoice",
		Args:  cobra.MinimumNArgs(2),
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
			for _, path := range args[1:] {
				d, err := c.CreateParcelFromFile(cmd.Context(), id, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(opts.out, "pushed %s\t%s\n", d, path)
			}
			return nil
		},
	}
}

func newParcelGetCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <name/version> <sha256>",
		Short: "Download a parcel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := invoice.ParseID(args[0])
			if err != nil {
				return err
			}
			d, err := digest.Parse(args[1])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			defer c.Close()
			if output != "" {
				return c.GetParcelToFile(cmd.Context(), id, d, output)
			}
			_, err = c.GetParcelTo(cmd.Context(), id, d, opts.out)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newMissingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "missing <name/version>",
		Short: "List the parcels of an invoice that are not stored yet",
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
			missing, err := c.GetMissingParcels(cmd.Context(), id)
			if err != nil {
				return err
			}
			printLabels(opts, missing)
			return nil
		},
	}
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		output      string
		compress    bool
		skipMissing bool
	)
	cmd := &cobra.Command{
		Use:   "export <name/version>",
		Short: "Write an invoice and its parcels to a standalone archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id, err := invoice.ParseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			defer c.Close()

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					_ = os.Remove(output)
				}
			}()
			if err := standalone.Export(cmd.Context(), f, c, id, standalone.ExportOptions{Compress: compress, SkipMissing: skipMissing}); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "exported %s to %s\n", id, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Archive path")
	cmd.Flags().BoolVar(&compress, "zstd", false, "Compress the archive with zstd")
	cmd.Flags().BoolVar(&skipMissing, "skip-missing", false, "Export even if some parcels are not stored")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var ignoreUnknown bool
	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Upload a standalone archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			c, err := opts.client()
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := standalone.Import(cmd.Context(), f, c, standalone.ImportOptions{IgnoreUnknown: ignoreUnknown})
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "imported %s (%d parcels)\n", res.ID, res.Parcels)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip archive entries that are not part of the format")
	return cmd
}
