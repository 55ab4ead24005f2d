// Package zk defines the codec and verifier contracts the daemon consumes and
// provides a groth16 implementation of both.
package zk

import (
	"encoding"
	"errors"
)

// ErrMalformed is returned (wrapped) by a Codec when bytes do not decode into
// a well-formed object.
var ErrMalformed = errors.New("malformed artifact")

// Setup is a decoded setup artifact for one program.
type Setup interface {
	encoding.BinaryMarshaler
}

// Proof is a decoded proof for one program.
type Proof interface {
	encoding.BinaryMarshaler
}

// Codec turns assembled bytes into objects.
type Codec interface {
	DecodeSetup(data []byte) (Setup, error)
	DecodeProof(data []byte) (Proof, error)
}

// Verifier checks a proof against a setup artifact. Implementations must be
// pure: the same pair always yields the same answer.
type Verifier interface {
	Verify(setup Setup, proof Proof) bool
}

// Backend is a Codec and Verifier for the same object family.
type Backend interface {
	Codec
	Verifier
}
