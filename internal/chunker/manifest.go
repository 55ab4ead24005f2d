package chunker

import "time"

// Manifest describes how a blob was split for upload.
type Manifest struct {
	FileName   string            `json:"file_name"`
	FileSize   int64             `json:"file_size"`
	ChunkSize  int               `json:"chunk_size"`
	ChunkCount int               `json:"chunk_count"`
	HashAlgo   string            `json:"hash_algo"`
	Digest     string            `json:"digest"`
	Chunks     []ChunkDescriptor `json:"chunks"`
	MerkleRoot string            `json:"merkle_root"`
	CreatedAt  time.Time         `json:"created_at"`
}

// LastIndex is the end index to pass to finalize.
func (m *Manifest) LastIndex() uint32 {
	if m.ChunkCount == 0 {
		return 0
	}
	return uint32(m.ChunkCount - 1)
}

// ChunkDescriptor describes a single chunk
type ChunkDescriptor struct {
	Index  int    `json:"index"`
	Hash   string `json:"hash"`   // Base64-encoded BLAKE3 hash
	Length int    `json:"length"` // Actual chunk length in bytes
}

// ChunkOptions configures chunking behavior
type ChunkOptions struct {
	ChunkSize int // Chunk size in bytes (default: 2,000,000)
}

// DefaultChunkOptions returns default chunking options
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize: DefaultChunkSize,
	}
}
