package zk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
)

// proofLenPrefix is the size of the big-endian length header in front of the
// serialized groth16 proof.
const proofLenPrefix = 4

// ParseCurve maps a config curve name onto a gnark curve id.
func ParseCurve(name string) (ecc.ID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bn254":
		return ecc.BN254, nil
	case "bls12-381", "bls12_381":
		return ecc.BLS12_381, nil
	case "bls12-377", "bls12_377":
		return ecc.BLS12_377, nil
	case "bw6-761", "bw6_761":
		return ecc.BW6_761, nil
	default:
		return ecc.UNKNOWN, fmt.Errorf("unsupported curve: %q", name)
	}
}

// VerifyingKey is the setup artifact of the groth16 backend.
type VerifyingKey struct {
	groth16.VerifyingKey
}

// MarshalBinary returns the gnark canonical encoding of the key.
func (k *VerifyingKey) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := k.VerifyingKey.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

// ProofBundle is a groth16 proof together with the public witness it was
// produced for.
type ProofBundle struct {
	Proof  groth16.Proof
	Public witness.Witness
}

// MarshalBinary encodes the bundle as
// [4-byte BE proof length][proof][public witness].
func (p *ProofBundle) MarshalBinary() ([]byte, error) {
	return EncodeProof(p.Proof, p.Public)
}

// EncodeProof frames a proof and its public witness the way DecodeProof
// expects them.
func EncodeProof(proof groth16.Proof, public witness.Witness) ([]byte, error) {
	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("failed to encode proof: %w", err)
	}
	publicBytes, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode public witness: %w", err)
	}

	out := make([]byte, proofLenPrefix+proofBuf.Len()+len(publicBytes))
	binary.BigEndian.PutUint32(out, uint32(proofBuf.Len()))
	copy(out[proofLenPrefix:], proofBuf.Bytes())
	copy(out[proofLenPrefix+proofBuf.Len():], publicBytes)
	return out, nil
}

// Groth16 decodes verifying keys and proof bundles for one curve and checks
// them with groth16.Verify.
type Groth16 struct {
	curve ecc.ID
}

// NewGroth16 creates a backend for the given curve.
func NewGroth16(curve ecc.ID) *Groth16 {
	return &Groth16{curve: curve}
}

// Curve returns the curve the backend decodes for.
func (g *Groth16) Curve() ecc.ID { return g.curve }

// DecodeSetup reads a verifying key. Trailing bytes are rejected.
func (g *Groth16) DecodeSetup(data []byte) (setup Setup, err error) {
	defer recoverMalformed("verifying key", &err)

	layout, err := layoutFor(g.curve)
	if err != nil {
		return nil, err
	}
	if err := checkVerifyingKey(layout, data); err != nil {
		return nil, fmt.Errorf("%w: verifying key: %v", ErrMalformed, err)
	}

	vk := groth16.NewVerifyingKey(g.curve)
	n, err := vk.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: verifying key: %v", ErrMalformed, err)
	}
	if n != int64(len(data)) {
		return nil, fmt.Errorf("%w: verifying key: %d trailing bytes", ErrMalformed, int64(len(data))-n)
	}
	return &VerifyingKey{VerifyingKey: vk}, nil
}

// DecodeProof reads a framed proof bundle.
func (g *Groth16) DecodeProof(data []byte) (bundle Proof, err error) {
	defer recoverMalformed("proof", &err)

	if len(data) < proofLenPrefix {
		return nil, fmt.Errorf("%w: proof: %d bytes is shorter than the length header", ErrMalformed, len(data))
	}
	proofLen := int(binary.BigEndian.Uint32(data))
	if proofLen > len(data)-proofLenPrefix {
		return nil, fmt.Errorf("%w: proof: declared length %d exceeds %d available bytes", ErrMalformed, proofLen, len(data)-proofLenPrefix)
	}
	proofBytes := data[proofLenPrefix : proofLenPrefix+proofLen]
	publicBytes := data[proofLenPrefix+proofLen:]

	layout, err := layoutFor(g.curve)
	if err != nil {
		return nil, err
	}
	if err := checkProof(layout, proofBytes); err != nil {
		return nil, fmt.Errorf("%w: proof: %v", ErrMalformed, err)
	}
	if err := checkWitness(layout, publicBytes); err != nil {
		return nil, fmt.Errorf("%w: public witness: %v", ErrMalformed, err)
	}

	proof := groth16.NewProof(g.curve)
	n, err := proof.ReadFrom(bytes.NewReader(proofBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: proof: %v", ErrMalformed, err)
	}
	if n != int64(len(proofBytes)) {
		return nil, fmt.Errorf("%w: proof: %d trailing bytes", ErrMalformed, int64(len(proofBytes))-n)
	}

	public, err := witness.New(g.curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate witness: %w", err)
	}
	if err := public.UnmarshalBinary(publicBytes); err != nil {
		return nil, fmt.Errorf("%w: public witness: %v", ErrMalformed, err)
	}

	return &ProofBundle{Proof: proof, Public: public}, nil
}

// Verify reports whether proof is valid for setup. Objects of a foreign type
// never verify.
func (g *Groth16) Verify(setup Setup, proof Proof) bool {
	vk, ok := setup.(*VerifyingKey)
	if !ok {
		return false
	}
	bundle, ok := proof.(*ProofBundle)
	if !ok {
		return false
	}
	return groth16.Verify(bundle.Proof, vk.VerifyingKey, bundle.Public) == nil
}

// gnark decoders may still panic on malformed points; surface that as
// ErrMalformed.
func recoverMalformed(what string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrMalformed, what, r)
	}
}
