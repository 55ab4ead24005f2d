package manager

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingBuffer_PutOverwrites(t *testing.T) {
	pb := NewPendingBuffer(0)

	require.NoError(t, pb.Put(0, []byte("first")))
	require.NoError(t, pb.Put(0, []byte("second")))

	got, ok := pb.Get(0)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
	assert.Equal(t, 1, pb.Len())
	assert.Equal(t, int64(len("second")), pb.Bytes())
}

func TestPendingBuffer_PutCopiesPayload(t *testing.T) {
	pb := NewPendingBuffer(0)
	payload := []byte("abc")
	require.NoError(t, pb.Put(3, payload))
	payload[0] = 'z'

	got, _ := pb.Get(3)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'y'
	again, _ := pb.Get(3)
	assert.Equal(t, []byte("abc"), again)
}

func TestPendingBuffer_AssembleInIndexOrder(t *testing.T) {
	pb := NewPendingBuffer(0)
	require.NoError(t, pb.Put(2, []byte("C")))
	require.NoError(t, pb.Put(0, []byte("A")))
	require.NoError(t, pb.Put(1, []byte("B")))

	out, err := pb.Assemble(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC"), out)

	// Assembly is read-only.
	assert.Equal(t, 3, pb.Len())
}

func TestPendingBuffer_AssembleIgnoresHigherIndices(t *testing.T) {
	pb := NewPendingBuffer(0)
	require.NoError(t, pb.Put(0, []byte("A")))
	require.NoError(t, pb.Put(7, []byte("Z")))

	out, err := pb.Assemble(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), out)
}

func TestPendingBuffer_AssembleReportsFirstMissing(t *testing.T) {
	pb := NewPendingBuffer(0)
	require.NoError(t, pb.Put(0, []byte("A")))
	require.NoError(t, pb.Put(2, []byte("C")))

	_, err := pb.Assemble(4)
	var missing *MissingChunkError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, uint32(1), missing.Index)
	assert.Equal(t, 2, pb.Len())
}

func TestPendingBuffer_AssembleEmptyBuffer(t *testing.T) {
	pb := NewPendingBuffer(0)
	_, err := pb.Assemble(0)
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, uint32(0), missing.Index)
}

func TestPendingBuffer_EmptyFragment(t *testing.T) {
	pb := NewPendingBuffer(0)
	require.NoError(t, pb.Put(0, nil))

	out, err := pb.Assemble(0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPendingBuffer_ChunkTooLarge(t *testing.T) {
	pb := NewPendingBuffer(4)

	require.NoError(t, pb.Put(0, []byte("1234")))
	err := pb.Put(1, []byte("12345"))
	require.ErrorIs(t, err, ErrChunkTooLarge)

	_, ok := pb.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 4, pb.MaxChunkSize())
}

func TestPendingBuffer_Clear(t *testing.T) {
	pb := NewPendingBuffer(0)
	for i := uint32(0); i < 5; i++ {
		require.NoError(t, pb.Put(i, []byte{byte(i)}))
	}

	assert.Equal(t, 5, pb.Clear())
	assert.Equal(t, 0, pb.Len())
	assert.Equal(t, int64(0), pb.Bytes())
	assert.Equal(t, 0, pb.Clear())
}

func TestPendingBuffer_Indices(t *testing.T) {
	pb := NewPendingBuffer(0)
	for _, i := range []uint32{9, 1, 4} {
		require.NoError(t, pb.Put(i, []byte("x")))
	}
	assert.Equal(t, []uint32{1, 4, 9}, pb.Indices())
}

func TestPendingBuffer_ExpireOlderThan(t *testing.T) {
	pb := NewPendingBuffer(0)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pb.now = func() time.Time { return clock }

	require.NoError(t, pb.Put(0, []byte("old")))
	clock = clock.Add(10 * time.Minute)
	require.NoError(t, pb.Put(1, []byte("new")))

	removed := pb.ExpireOlderThan(5 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []uint32{1}, pb.Indices())
	assert.Equal(t, int64(3), pb.Bytes())
}
