// Package zktest builds small groth16 artifacts for tests.
package zktest

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/flyq/jolt-verifier-canister/internal/zk"
)

// SquareCircuit proves knowledge of X such that X*X == Y.
type SquareCircuit struct {
	X frontend.Variable
	Y frontend.Variable `gnark:",public"`
}

// Define declares the circuit constraints.
func (c *SquareCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(api.Mul(c.X, c.X), c.Y)
	return nil
}

// Fixture holds serialized artifacts for one program.
type Fixture struct {
	// SetupBytes is the encoded verifying key.
	SetupBytes []byte
	// ValidProof proves 3*3 == 9.
	ValidProof []byte
	// InvalidProof carries the same proof with public input 10.
	InvalidProof []byte
}

// NewFixture compiles SquareCircuit over BN254, runs a fresh setup and
// produces one valid and one invalid proof bundle.
func NewFixture() (*Fixture, error) {
	field := ecc.BN254.ScalarField()

	ccs, err := frontend.Compile(field, r1cs.NewBuilder, &SquareCircuit{})
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("failed to run setup: %w", err)
	}

	full, err := frontend.NewWitness(&SquareCircuit{X: 3, Y: 9}, field)
	if err != nil {
		return nil, fmt.Errorf("failed to create witness: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, full)
	if err != nil {
		return nil, fmt.Errorf("failed to prove: %w", err)
	}

	public, err := full.Public()
	if err != nil {
		return nil, fmt.Errorf("failed to extract public witness: %w", err)
	}
	wrong, err := frontend.NewWitness(&SquareCircuit{Y: 10}, field, frontend.PublicOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to create public witness: %w", err)
	}

	var vkBuf bytes.Buffer
	if _, err := vk.WriteTo(&vkBuf); err != nil {
		return nil, fmt.Errorf("failed to encode verifying key: %w", err)
	}
	valid, err := zk.EncodeProof(proof, public)
	if err != nil {
		return nil, err
	}
	invalid, err := zk.EncodeProof(proof, wrong)
	if err != nil {
		return nil, err
	}

	return &Fixture{
		SetupBytes:   vkBuf.Bytes(),
		ValidProof:   valid,
		InvalidProof: invalid,
	}, nil
}
