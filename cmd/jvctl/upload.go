package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flyq/jolt-verifier-canister/internal/chunker"
	"github.com/flyq/jolt-verifier-canister/internal/client"
)

func newUploadCmd(opts *globalOptions, use, short string) *cobra.Command {
	var program uint32
	var fromDir string

	cmd := &cobra.Command{
		Use:   use + " [file]",
		Short: short,
		Long: short + ".\n\nThe daemon's pending chunks are cleared first, every fragment is sent in " +
			"index order and the object is finalized. With --dir the fragments written by split are sent instead of a file.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, chunkSize, err := uploadSource(args, fromDir, opts.chunkSize)
			if err != nil {
				return err
			}
			if c, ok := r.(io.Closer); ok {
				defer c.Close()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			c := opts.client()
			var res *client.UploadResult
			if strings.HasSuffix(use, "setup") {
				res, err = c.UploadSetup(ctx, program, r, chunkSize)
			} else {
				res, err = c.UploadProof(ctx, program, r, chunkSize)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Uploaded %d bytes in %d chunks (digest %s)\n", res.Size, res.Chunks, res.Digest)
			if res.ProofID != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", *res.ProofID)
			}
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&program, "program", "p", 0, "program id")
	cmd.Flags().StringVarP(&fromDir, "dir", "d", "", "upload the fragments in this split directory")
	_ = cmd.MarkFlagRequired("program")
	return cmd
}

// uploadSource opens the file argument, or re-joins a split directory and
// keeps its fragment size.
func uploadSource(args []string, dir string, chunkSize int) (io.Reader, int, error) {
	switch {
	case dir != "" && len(args) > 0:
		return nil, 0, fmt.Errorf("pass either a file or --dir, not both")
	case dir != "":
		data, manifest, err := chunker.JoinDir(dir)
		if err != nil {
			return nil, 0, err
		}
		return bytes.NewReader(data), manifest.ChunkSize, nil
	case len(args) == 1:
		f, err := os.Open(args[0])
		if err != nil {
			return nil, 0, err
		}
		return f, chunkSize, nil
	default:
		return nil, 0, fmt.Errorf("a file or --dir is required")
	}
}
