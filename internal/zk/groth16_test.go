package zk_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyq/jolt-verifier-canister/internal/zk"
	"github.com/flyq/jolt-verifier-canister/internal/zk/zktest"
)

func newFixture(t *testing.T) *zktest.Fixture {
	t.Helper()
	fx, err := zktest.NewFixture()
	require.NoError(t, err)
	return fx
}

func TestGroth16_VerifyValidAndInvalid(t *testing.T) {
	fx := newFixture(t)
	backend := zk.NewGroth16(ecc.BN254)

	setup, err := backend.DecodeSetup(fx.SetupBytes)
	require.NoError(t, err)

	good, err := backend.DecodeProof(fx.ValidProof)
	require.NoError(t, err)
	bad, err := backend.DecodeProof(fx.InvalidProof)
	require.NoError(t, err)

	assert.True(t, backend.Verify(setup, good))
	assert.False(t, backend.Verify(setup, bad))

	// Same inputs, same answer.
	assert.True(t, backend.Verify(setup, good))
}

func TestGroth16_CanonicalRoundTrip(t *testing.T) {
	fx := newFixture(t)
	backend := zk.NewGroth16(ecc.BN254)

	setup, err := backend.DecodeSetup(fx.SetupBytes)
	require.NoError(t, err)
	encoded, err := setup.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(fx.SetupBytes, encoded))

	proof, err := backend.DecodeProof(fx.ValidProof)
	require.NoError(t, err)
	encodedProof, err := proof.MarshalBinary()
	require.NoError(t, err)

	again, err := backend.DecodeProof(encodedProof)
	require.NoError(t, err)
	assert.True(t, backend.Verify(setup, again))
}

func TestGroth16_RejectsMalformed(t *testing.T) {
	fx := newFixture(t)
	backend := zk.NewGroth16(ecc.BN254)

	cases := map[string][]byte{
		"empty":          {},
		"truncated":      fx.SetupBytes[:len(fx.SetupBytes)/2],
		"trailing bytes": append(append([]byte{}, fx.SetupBytes...), 0x01),
	}
	for name, data := range cases {
		t.Run("setup/"+name, func(t *testing.T) {
			_, err := backend.DecodeSetup(data)
			require.ErrorIs(t, err, zk.ErrMalformed)
		})
	}

	proofCases := map[string][]byte{
		"short header":    {0x00, 0x01},
		"length overrun":  {0xff, 0xff, 0xff, 0xff, 0x00},
		"truncated":       fx.ValidProof[:len(fx.ValidProof)-3],
		"witness trailer": append(append([]byte{}, fx.ValidProof...), 0x00),
	}
	for name, data := range proofCases {
		t.Run("proof/"+name, func(t *testing.T) {
			_, err := backend.DecodeProof(data)
			require.ErrorIs(t, err, zk.ErrMalformed)
		})
	}
}

// bn254 compressed sizes: G1 32 bytes, G2 64 bytes.
const (
	g1Size = 32
	g2Size = 64
	// alpha, beta, beta, gamma, delta, delta
	vkKOffset = 3*g1Size + 3*g2Size
	// Ar, Bs, Krs
	proofCommitmentsOffset = 2*g1Size + g2Size
)

var hostileLength = []byte{0xff, 0xff, 0xff, 0xff}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func setU32(data []byte, off int, v uint32) []byte {
	out := append([]byte{}, data...)
	binary.BigEndian.PutUint32(out[off:], v)
	return out
}

// committedIndicesOffset returns where the committed index lists start in a
// compressed bn254 verifying key.
func committedIndicesOffset(vk []byte) int {
	k := int(binary.BigEndian.Uint32(vk[vkKOffset:]))
	return vkKOffset + 4 + k*g1Size
}

func commitmentKeysOffset(vk []byte) int {
	off := committedIndicesOffset(vk)
	n := int(binary.BigEndian.Uint32(vk[off:]))
	off += 4
	for i := 0; i < n; i++ {
		m := int(binary.BigEndian.Uint32(vk[off:]))
		off += 4 + 8*m
	}
	return off
}

func TestGroth16_RejectsHostileLengths(t *testing.T) {
	fx := newFixture(t)
	backend := zk.NewGroth16(ecc.BN254)
	setup := fx.SetupBytes

	setupCases := map[string][]byte{
		"K length":               cat(setup[:vkKOffset], hostileLength),
		"committed index count":  setU32(setup, committedIndicesOffset(setup), 0xffffffff),
		"commitment key count":   setU32(setup, commitmentKeysOffset(setup), 0xffffffff),
		"committed index length": cat(setup[:committedIndicesOffset(setup)], []byte{0, 0, 0, 1}, hostileLength),
	}
	for name, data := range setupCases {
		t.Run("setup/"+name, func(t *testing.T) {
			_, err := backend.DecodeSetup(data)
			require.ErrorIs(t, err, zk.ErrMalformed)
		})
	}

	proofLen := int(binary.BigEndian.Uint32(fx.ValidProof))
	framed := fx.ValidProof[:4+proofLen]
	public := fx.ValidProof[4+proofLen:]

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(proofCommitmentsOffset+4))
	commitments := cat(header[:], fx.ValidProof[4:4+proofCommitmentsOffset], hostileLength, public)

	proofCases := map[string][]byte{
		"witness vector":    cat(framed, hostileLength, []byte{0, 0, 0, 0}, hostileLength),
		"witness counts":    cat(framed, setU32(public, 0, 0xffffffff)),
		"commitments count": commitments,
	}
	for name, data := range proofCases {
		t.Run("proof/"+name, func(t *testing.T) {
			_, err := backend.DecodeProof(data)
			require.ErrorIs(t, err, zk.ErrMalformed)
		})
	}
}

func TestGroth16_ForeignObjectsNeverVerify(t *testing.T) {
	backend := zk.NewGroth16(ecc.BN254)
	assert.False(t, backend.Verify(nil, nil))
}

func TestParseCurve(t *testing.T) {
	id, err := zk.ParseCurve("")
	require.NoError(t, err)
	assert.Equal(t, ecc.BN254, id)

	id, err = zk.ParseCurve("BLS12-381")
	require.NoError(t, err)
	assert.Equal(t, ecc.BLS12_381, id)

	_, err = zk.ParseCurve("secp256k1")
	assert.Error(t, err)
}
