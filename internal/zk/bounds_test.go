package zk

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutForSupportedCurves(t *testing.T) {
	for _, name := range []string{"bn254", "bls12-381", "bls12-377", "bw6-761"} {
		curve, err := ParseCurve(name)
		require.NoError(t, err)
		layout, err := layoutFor(curve)
		require.NoError(t, err, name)
		assert.Positive(t, layout.g1, name)
		assert.Positive(t, layout.fr, name)
	}

	_, err := layoutFor(ecc.UNKNOWN)
	assert.Error(t, err)
}

func TestCheckWitnessIsExact(t *testing.T) {
	layout, err := layoutFor(ecc.BN254)
	require.NoError(t, err)

	// one public value, no secret values
	header := []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1}
	value := make([]byte, layout.fr)

	assert.NoError(t, checkWitness(layout, append(append([]byte{}, header...), value...)))
	assert.Error(t, checkWitness(layout, header))
	assert.Error(t, checkWitness(layout, append(append(append([]byte{}, header...), value...), 0)))
	assert.Error(t, checkWitness(layout, header[:8]))
}

func TestBoundsScannerRawPointsCountDouble(t *testing.T) {
	layout, err := layoutFor(ecc.BN254)
	require.NoError(t, err)

	raw := make([]byte, 2*layout.g1)
	s := &boundsScanner{layout: layout, data: raw}
	require.NoError(t, s.g1("raw"))
	assert.Zero(t, s.remaining())

	compressed := make([]byte, layout.g1)
	compressed[0] = 0x80
	s = &boundsScanner{layout: layout, data: compressed}
	require.NoError(t, s.g1("compressed"))
	assert.Zero(t, s.remaining())
}
