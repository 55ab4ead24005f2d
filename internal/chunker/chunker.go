package chunker

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultChunkSize matches the per-call payload limit of the original host.
const DefaultChunkSize = 2_000_000

// ManifestFileName is written next to the parts produced by SplitFile.
const ManifestFileName = "manifest.json"

var ErrDigestMismatch = errors.New("joined parts do not match the original digest")

// Digest returns the base64-encoded BLAKE3 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// PartName returns the file name of the part at index.
func PartName(index int) string {
	return fmt.Sprintf("p%d.bin", index)
}

// Split cuts data into consecutive fragments of at most chunkSize bytes. An
// empty input yields a single empty fragment so it can still be finalized.
func Split(data []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if len(data) == 0 {
		return [][]byte{{}}, nil
	}

	parts := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		parts = append(parts, data[off:end])
	}
	return parts, nil
}

// SplitFile writes the parts of filePath into outDir as p0.bin..pN.bin plus a
// manifest, and returns the manifest.
func SplitFile(filePath, outDir string, options ChunkOptions) (*Manifest, error) {
	if options.ChunkSize <= 0 {
		options = DefaultChunkOptions()
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	parts, err := Split(data, options.ChunkSize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	chunks := make([]ChunkDescriptor, 0, len(parts))
	digests := make([]string, 0, len(parts))
	for i, part := range parts {
		if err := os.WriteFile(filepath.Join(outDir, PartName(i)), part, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write part %d: %w", i, err)
		}
		d := Digest(part)
		chunks = append(chunks, ChunkDescriptor{Index: i, Hash: d, Length: len(part)})
		digests = append(digests, d)
	}

	merkleRoot, err := ComputeMerkleRoot(digests)
	if err != nil {
		return nil, fmt.Errorf("failed to compute merkle root: %w", err)
	}

	manifest := &Manifest{
		FileName:   filepath.Base(filePath),
		FileSize:   int64(len(data)),
		ChunkSize:  options.ChunkSize,
		ChunkCount: len(parts),
		HashAlgo:   "BLAKE3",
		Digest:     Digest(data),
		Chunks:     chunks,
		MerkleRoot: merkleRoot,
		CreatedAt:  time.Now().UTC(),
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, ManifestFileName), raw, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return manifest, nil
}

// LoadManifest reads the manifest written by SplitFile.
func LoadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// JoinDir concatenates the parts listed in the manifest of dir and checks the
// result against the recorded digest.
func JoinDir(dir string) ([]byte, *Manifest, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, nil, err
	}

	out := make([]byte, 0, m.FileSize)
	for i := 0; i < m.ChunkCount; i++ {
		part, err := os.ReadFile(filepath.Join(dir, PartName(i)))
		if err != nil {
			return nil, m, fmt.Errorf("failed to read part %d: %w", i, err)
		}
		out = append(out, part...)
	}
	if Digest(out) != m.Digest {
		return out, m, ErrDigestMismatch
	}
	return out, m, nil
}

// Chunker provides streaming chunking of data from an io.Reader
type Chunker struct {
	reader    io.Reader
	chunkSize int
	buffer    []byte
	emitted   int
}

// NewChunker creates a new streaming chunker
func NewChunker(r io.Reader, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	return &Chunker{
		reader:    r,
		chunkSize: chunkSize,
		buffer:    make([]byte, chunkSize),
	}, nil
}

// Next returns the next full-size fragment (the last one may be shorter) or
// io.EOF. An empty stream yields one empty fragment. The returned slice is
// reused by the following call.
func (c *Chunker) Next() ([]byte, error) {
	n, err := io.ReadFull(c.reader, c.buffer)
	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
	case errors.Is(err, io.EOF):
		if c.emitted == 0 {
			c.emitted++
			return c.buffer[:0], nil
		}
		return nil, io.EOF
	default:
		return nil, err
	}
	c.emitted++
	return c.buffer[:n], nil
}
