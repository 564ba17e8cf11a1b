package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/masrouf/pkg/ledger"
)

func (a *app) exportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all expenses, categories and settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, closeStore, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			data, err := json.MarshalIndent(l.Export(), "", "  ")
			if err != nil {
				return fmt.Errorf("encoding snapshot: %w", err)
			}
			data = append(data, '\n')

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load expenses from an export or a bare JSON array",
		Long: `Import reads a snapshot written by export, or a plain JSON array of
expenses. Snapshots replace the current data and arrays are merged into it,
unless --mode says otherwise. Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			snap, detected, err := ledger.DecodeSnapshot(data)
			if err != nil {
				return err
			}
			if mode != "" {
				if detected, err = ledger.ParseImportMode(mode); err != nil {
					return err
				}
			}

			l, closeStore, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			stats, err := l.Import(cmd.Context(), snap, detected)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d expenses (%s), skipped %d\n", stats.Added, detected, stats.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "replace or merge (default: detected from the input)")
	return cmd
}
