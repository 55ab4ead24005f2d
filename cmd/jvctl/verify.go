package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	var program, proof uint32

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a stored proof against its program's setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			valid, err := opts.client().Verify(ctx, program, proof)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), valid)
			if !valid {
				return fmt.Errorf("proof %d of program %d is invalid", proof, program)
			}
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&program, "program", "p", 0, "program id")
	cmd.Flags().Uint32Var(&proof, "proof", 0, "proof id")
	_ = cmd.MarkFlagRequired("program")
	_ = cmd.MarkFlagRequired("proof")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending chunks, stored programs and recent uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			c := opts.client()
			pending, err := c.PendingStatus(ctx)
			if err != nil {
				return err
			}
			programs, err := c.Programs(ctx)
			if err != nil {
				return err
			}
			out := map[string]any{"pending": pending, "programs": programs}
			if history > 0 {
				recs, err := c.History(ctx, history)
				if err != nil {
					return err
				}
				out["history"] = recs
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().IntVar(&history, "history", 10, "number of recent finalize records to show")
	return cmd
}
