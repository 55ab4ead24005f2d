package zk

import (
	"encoding/binary"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	bw6761 "github.com/consensys/gnark-crypto/ecc/bw6-761"
)

// pointLayout describes how gnark-crypto encodes points of one curve. Each
// point is either compressed (the listed size) or raw (twice that), decided
// by flag bits in its first byte.
type pointLayout struct {
	g1         int
	g2         int
	fr         int
	compressed func(msb byte) bool
}

func layoutFor(curve ecc.ID) (pointLayout, error) {
	fr := (curve.ScalarField().BitLen() + 7) / 8
	switch curve {
	case ecc.BN254:
		return pointLayout{
			g1: bn254.SizeOfG1AffineCompressed,
			g2: bn254.SizeOfG2AffineCompressed,
			fr: fr,
			// 0b00 in the top two bits is the only uncompressed form.
			compressed: func(msb byte) bool { return msb&0xC0 != 0 },
		}, nil
	case ecc.BLS12_381:
		return zcashLayout(bls12381.SizeOfG1AffineCompressed, bls12381.SizeOfG2AffineCompressed, fr), nil
	case ecc.BLS12_377:
		return zcashLayout(bls12377.SizeOfG1AffineCompressed, bls12377.SizeOfG2AffineCompressed, fr), nil
	case ecc.BW6_761:
		return zcashLayout(bw6761.SizeOfG1AffineCompressed, bw6761.SizeOfG2AffineCompressed, fr), nil
	default:
		return pointLayout{}, fmt.Errorf("unsupported curve %s", curve)
	}
}

// zcashLayout covers curves whose compressed forms set the top bit.
func zcashLayout(g1, g2, fr int) pointLayout {
	return pointLayout{
		g1:         g1,
		g2:         g2,
		fr:         fr,
		compressed: func(msb byte) bool { return msb&0x80 != 0 },
	}
}

// boundsScanner walks an encoding without decoding it and fails as soon as
// a declared length needs more bytes than remain, so gnark never sizes an
// allocation from a hostile header.
type boundsScanner struct {
	layout pointLayout
	data   []byte
	off    int
}

func (s *boundsScanner) remaining() int { return len(s.data) - s.off }

func (s *boundsScanner) skip(n int, what string) error {
	if n < 0 || n > s.remaining() {
		return fmt.Errorf("%s needs %d bytes, %d left", what, n, s.remaining())
	}
	s.off += n
	return nil
}

func (s *boundsScanner) u32(what string) (uint32, error) {
	if s.remaining() < 4 {
		return 0, fmt.Errorf("%s: short length header", what)
	}
	v := binary.BigEndian.Uint32(s.data[s.off:])
	s.off += 4
	return v, nil
}

// count reads a slice length and checks that n elements of at least min
// bytes each can still follow.
func (s *boundsScanner) count(min int, what string) (int, error) {
	n, err := s.u32(what)
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(min) > uint64(s.remaining()) {
		return 0, fmt.Errorf("%s declares %d elements, only %d bytes left", what, n, s.remaining())
	}
	return int(n), nil
}

func (s *boundsScanner) point(size int, what string) error {
	if s.remaining() < 1 {
		return fmt.Errorf("%s: missing", what)
	}
	if !s.layout.compressed(s.data[s.off]) {
		size *= 2
	}
	return s.skip(size, what)
}

func (s *boundsScanner) g1(what string) error { return s.point(s.layout.g1, what) }
func (s *boundsScanner) g2(what string) error { return s.point(s.layout.g2, what) }

func (s *boundsScanner) g1Slice(what string) error {
	n, err := s.count(s.layout.g1, what)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := s.g1(what); err != nil {
			return err
		}
	}
	return nil
}

func (s *boundsScanner) u64SliceSlice(what string) error {
	n, err := s.count(4, what)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		m, err := s.count(8, what)
		if err != nil {
			return err
		}
		if err := s.skip(8*m, what); err != nil {
			return err
		}
	}
	return nil
}

// checkVerifyingKey bounds a groth16 verifying key:
// [α]1 [β]1 [β]2 [γ]2 [δ]1 [δ]2, []G1 K, [][]uint64 committed indices,
// uint32 n, n pedersen keys of two G2 points each.
func checkVerifyingKey(layout pointLayout, data []byte) error {
	s := &boundsScanner{layout: layout, data: data}
	steps := []func() error{
		func() error { return s.g1("alpha") },
		func() error { return s.g1("beta") },
		func() error { return s.g2("beta") },
		func() error { return s.g2("gamma") },
		func() error { return s.g1("delta") },
		func() error { return s.g2("delta") },
		func() error { return s.g1Slice("K") },
		func() error { return s.u64SliceSlice("committed indices") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	n, err := s.count(2*layout.g2, "commitment keys")
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := s.g2("commitment key"); err != nil {
			return err
		}
		if err := s.g2("commitment key"); err != nil {
			return err
		}
	}
	return nil
}

// checkProof bounds a groth16 proof: Ar, Bs, Krs, []G1 commitments, PoK.
func checkProof(layout pointLayout, data []byte) error {
	s := &boundsScanner{layout: layout, data: data}
	if err := s.g1("Ar"); err != nil {
		return err
	}
	if err := s.g2("Bs"); err != nil {
		return err
	}
	if err := s.g1("Krs"); err != nil {
		return err
	}
	if err := s.g1Slice("commitments"); err != nil {
		return err
	}
	return s.g1("commitment PoK")
}

// checkWitness requires an exact public witness encoding:
// [uint32 public][uint32 secret][uint32 n][n field elements].
func checkWitness(layout pointLayout, data []byte) error {
	s := &boundsScanner{layout: layout, data: data}
	public, err := s.u32("public count")
	if err != nil {
		return err
	}
	secret, err := s.u32("secret count")
	if err != nil {
		return err
	}
	n, err := s.u32("vector length")
	if err != nil {
		return err
	}
	if uint64(public)+uint64(secret) != uint64(n) {
		return fmt.Errorf("witness declares %d+%d values but holds %d", public, secret, n)
	}
	if uint64(n)*uint64(layout.fr) != uint64(s.remaining()) {
		return fmt.Errorf("witness of %d values needs %d bytes, has %d", n, uint64(n)*uint64(layout.fr), s.remaining())
	}
	return nil
}
