package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newOwnerCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Show or change the daemon owner",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			owner, err := opts.client().Owner(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), owner)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <owner>",
		Short: "Replace the owner; --caller must be the current owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if err := opts.client().SetOwner(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "owner set to %s\n", args[0])
			return nil
		},
	})
	return cmd
}
