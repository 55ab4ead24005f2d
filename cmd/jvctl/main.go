// Command jvctl splits artifacts into fragments and drives uploads,
// verification and owner changes against a verifier daemon.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flyq/jolt-verifier-canister/internal/chunker"
	"github.com/flyq/jolt-verifier-canister/internal/client"
)

type globalOptions struct {
	addr      string
	caller    string
	chunkSize int
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "jvctl",
		Short:         "Upload and verify proofs on a jolt verifier daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", envOr("JV_ADDR", "http://127.0.0.1:8080"), "daemon base URL")
	root.PersistentFlags().StringVar(&opts.caller, "caller", os.Getenv("JV_CALLER"), "caller identity sent to the daemon")
	root.PersistentFlags().IntVar(&opts.chunkSize, "chunk-size", chunker.DefaultChunkSize, "fragment size in bytes")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall command timeout")

	root.AddCommand(
		newSplitCmd(opts),
		newCheckSplitCmd(),
		newUploadCmd(opts, "upload-setup", "Upload a setup artifact for a program"),
		newUploadCmd(opts, "upload-proof", "Upload a proof for a program"),
		newVerifyCmd(opts),
		newOwnerCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

func (o *globalOptions) client() *client.Client {
	var copts []client.Option
	if o.caller != "" {
		copts = append(copts, client.WithCaller(o.caller))
	}
	return client.New(o.addr, copts...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
