package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flyq/jolt-verifier-canister/internal/chunker"
)

func newSplitCmd(opts *globalOptions) *cobra.Command {
	var outDir string
	var pretty bool

	cmd := &cobra.Command{
		Use:   "split <file>",
		Short: "Split a file into p0.bin..pN.bin fragments plus a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := chunker.SplitFile(args[0], outDir, chunker.ChunkOptions{ChunkSize: opts.chunkSize})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "File size: %d bytes\n", manifest.FileSize)
			fmt.Fprintf(cmd.ErrOrStderr(), "Chunk size: %d bytes\n", manifest.ChunkSize)
			fmt.Fprintf(cmd.ErrOrStderr(), "Chunks: %d (last index %d)\n", manifest.ChunkCount, manifest.LastIndex())

			var data []byte
			if pretty {
				data, err = json.MarshalIndent(manifest, "", "  ")
			} else {
				data, err = json.Marshal(manifest)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "parts", "output directory")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "pretty-print the manifest")
	return cmd
}

func newCheckSplitCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "check-split <file>",
		Short: "Re-join fragments and compare them with the original file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			original, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			joined, manifest, err := chunker.JoinDir(dir)
			if err != nil {
				return err
			}
			if !bytes.Equal(original, joined) {
				return fmt.Errorf("%s differs from the %d joined fragments in %s", args[0], manifest.ChunkCount, dir)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d fragments match %s (digest %s)\n", manifest.ChunkCount, args[0], manifest.Digest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "parts", "directory written by split")
	return cmd
}
