package chunker

import (
	"encoding/base64"

	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot computes the Merkle root from chunk hashes
func ComputeMerkleRoot(chunkHashes []string) (string, error) {
	if len(chunkHashes) == 0 {
		return "", nil
	}

	hashes := make([][]byte, len(chunkHashes))
	for i, hashStr := range chunkHashes {
		decoded, err := base64.StdEncoding.DecodeString(hashStr)
		if err != nil {
			return "", err
		}
		hashes[i] = decoded
	}

	// Build bottom-up; an odd node is paired with itself.
	for len(hashes) > 1 {
		next := make([][]byte, 0, (len(hashes)+1)/2)
		for i := 0; i < len(hashes); i += 2 {
			right := hashes[i]
			if i+1 < len(hashes) {
				right = hashes[i+1]
			}
			hasher := blake3.New()
			hasher.Write(hashes[i])
			hasher.Write(right)
			next = append(next, hasher.Sum(nil))
		}
		hashes = next
	}

	return base64.StdEncoding.EncodeToString(hashes[0]), nil
}
