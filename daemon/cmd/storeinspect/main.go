// Command storeinspect reads an offline object store and reports what it
// holds. The daemon must be stopped first since bolt allows one writer.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flyq/jolt-verifier-canister/daemon/manager"
	"github.com/flyq/jolt-verifier-canister/internal/zk"
)

type programReport struct {
	Program uint32               `json:"program_id"`
	Setup   *manager.ObjectInfo  `json:"setup,omitempty"`
	Proofs  []manager.ObjectInfo `json:"proofs"`
	Corrupt []string             `json:"corrupt,omitempty"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dbPath, curveName string
	var decode bool

	cmd := &cobra.Command{
		Use:          "storeinspect",
		Short:        "List programs, setups and proofs in a bolt object store",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(dbPath); err != nil {
				return err
			}
			curve, err := zk.ParseCurve(curveName)
			if err != nil {
				return err
			}
			store, err := manager.OpenBoltObjectStore(dbPath, zk.NewGroth16(curve))
			if err != nil {
				return err
			}
			defer store.Close()

			reports, err := inspect(store, decode)
			if err != nil {
				return err
			}
			return writeReports(cmd.OutOrStdout(), reports)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "objects.db", "path to the bolt object store")
	cmd.Flags().StringVar(&curveName, "curve", "bn254", "curve the store's objects were encoded for")
	cmd.Flags().BoolVar(&decode, "decode", false, "decode every object and report corrupted entries")
	return cmd
}

func inspect(store manager.ObjectStore, decode bool) ([]programReport, error) {
	programs, err := store.Programs()
	if err != nil {
		return nil, err
	}

	reports := make([]programReport, 0, len(programs))
	for _, program := range programs {
		rep := programReport{Program: program, Proofs: []manager.ObjectInfo{}}

		info, err := store.SetupInfo(program)
		switch {
		case err == nil:
			rep.Setup = &info
			if decode {
				if _, err := store.GetSetup(program); errors.Is(err, manager.ErrCorrupted) {
					rep.Corrupt = append(rep.Corrupt, "setup")
				}
			}
		case !errors.Is(err, manager.ErrSetupNotFound):
			return nil, err
		}

		count, err := store.ProofCount(program)
		if err != nil {
			return nil, err
		}
		for id := uint32(0); id < count; id++ {
			info, err := store.ProofInfo(program, id)
			if err != nil {
				return nil, err
			}
			rep.Proofs = append(rep.Proofs, info)
			if decode {
				if _, err := store.GetProof(program, id); errors.Is(err, manager.ErrCorrupted) {
					rep.Corrupt = append(rep.Corrupt, fmt.Sprintf("proof %d", id))
				}
			}
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func writeReports(w io.Writer, reports []programReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
