package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List, add and remove categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, closeStore, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			for _, c := range l.Categories() {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Register a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeStore, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			added, err := l.AddCategory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if added {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", args[0])
			}
			return nil
		},
	})

	var cascade bool
	remove := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a category",
		Long:  `Remove drops the category from the list. With --cascade its expenses are deleted too.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeStore, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			removed, err := l.RemoveCategory(cmd.Context(), args[0], cascade)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s", args[0])
			if cascade {
				fmt.Fprintf(cmd.OutOrStdout(), " and %d expenses", removed)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	remove.Flags().BoolVar(&cascade, "cascade", false, "also delete expenses in this category")
	cmd.AddCommand(remove)

	return cmd
}
