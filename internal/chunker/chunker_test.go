package chunker

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestSplit_Sizes(t *testing.T) {
	data := randomBytes(t, 5_000_000)

	parts, err := Split(data, 2_000_000)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 2_000_000)
	assert.Len(t, parts[1], 2_000_000)
	assert.Len(t, parts[2], 1_000_000)
	assert.Equal(t, data, bytes.Join(parts, nil))
}

func TestSplit_EmptyInput(t *testing.T) {
	parts, err := Split(nil, 10)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Empty(t, parts[0])
}

func TestSplit_InvalidSize(t *testing.T) {
	_, err := Split([]byte("abc"), 0)
	assert.Error(t, err)
}

func TestSplitFile_CheckSplit(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "preprocess.bin")
	data := randomBytes(t, 25_001)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	outDir := filepath.Join(tmpDir, "parts")
	manifest, err := SplitFile(src, outDir, ChunkOptions{ChunkSize: 10_000})
	require.NoError(t, err)

	assert.Equal(t, 3, manifest.ChunkCount)
	assert.Equal(t, uint32(2), manifest.LastIndex())
	assert.Equal(t, int64(len(data)), manifest.FileSize)
	assert.Equal(t, Digest(data), manifest.Digest)
	assert.NotEmpty(t, manifest.MerkleRoot)
	assert.Equal(t, 1, manifest.Chunks[2].Length)

	joined, loaded, err := JoinDir(outDir)
	require.NoError(t, err)
	assert.Equal(t, data, joined)
	assert.Equal(t, manifest.MerkleRoot, loaded.MerkleRoot)
}

func TestJoinDir_DetectsTamperedPart(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "blob.bin")
	require.NoError(t, os.WriteFile(src, randomBytes(t, 100), 0o644))

	outDir := filepath.Join(tmpDir, "parts")
	_, err := SplitFile(src, outDir, ChunkOptions{ChunkSize: 40})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(outDir, PartName(1)), []byte("tampered"), 0o644))

	_, _, err = JoinDir(outDir)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestChunker_Streaming(t *testing.T) {
	data := randomBytes(t, 1000)
	c, err := NewChunker(bytes.NewReader(data), 300)
	require.NoError(t, err)

	var got []byte
	var sizes []int
	for {
		part, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(part))
		got = append(got, part...)
	}
	assert.Equal(t, []int{300, 300, 300, 100}, sizes)
	assert.Equal(t, data, got)
}

func TestChunker_EmptyStream(t *testing.T) {
	c, err := NewChunker(bytes.NewReader(nil), 16)
	require.NoError(t, err)

	part, err := c.Next()
	require.NoError(t, err)
	assert.Empty(t, part)

	_, err = c.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestComputeMerkleRoot_Deterministic(t *testing.T) {
	hashes := []string{Digest([]byte("a")), Digest([]byte("b")), Digest([]byte("c"))}

	r1, err := ComputeMerkleRoot(hashes)
	require.NoError(t, err)
	r2, err := ComputeMerkleRoot(hashes)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	swapped := []string{hashes[1], hashes[0], hashes[2]}
	r3, err := ComputeMerkleRoot(swapped)
	require.NoError(t, err)
	assert.NotEqual(t, r1, r3)

	empty, err := ComputeMerkleRoot(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func BenchmarkSplit(b *testing.B) {
	buf := make([]byte, 8<<20)
	rand.Read(buf)
	for n := 0; n < b.N; n++ {
		_, _ = Split(buf, 64<<10)
	}
}
