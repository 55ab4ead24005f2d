package manager

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrChunkTooLarge = errors.New("chunk exceeds size limit")

// MissingChunkError reports the first index absent from the buffer during
// assembly.
type MissingChunkError struct {
	Index uint32
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("chunk %d is missing", e.Index)
}

type fragment struct {
	data      []byte
	updatedAt time.Time
}

// PendingBuffer stages the fragments of the object being assembled. It is a
// single process-wide buffer: uploads for different programs share it.
type PendingBuffer struct {
	fragments map[uint32]fragment
	maxChunk  int
	total     int64
	now       func() time.Time
	mu        sync.RWMutex
}

// NewPendingBuffer creates an empty buffer. maxChunkSize <= 0 disables the
// per-fragment limit.
func NewPendingBuffer(maxChunkSize int) *PendingBuffer {
	return &PendingBuffer{
		fragments: make(map[uint32]fragment),
		maxChunk:  maxChunkSize,
		now:       time.Now,
	}
}

// Put inserts or overwrites the fragment at index. The payload is copied.
func (pb *PendingBuffer) Put(index uint32, payload []byte) error {
	if pb.maxChunk > 0 && len(payload) > pb.maxChunk {
		return fmt.Errorf("%w: chunk %d has %d bytes, limit %d", ErrChunkTooLarge, index, len(payload), pb.maxChunk)
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if old, ok := pb.fragments[index]; ok {
		pb.total -= int64(len(old.data))
	}
	pb.fragments[index] = fragment{data: data, updatedAt: pb.now()}
	pb.total += int64(len(data))
	return nil
}

// Get returns a copy of the fragment at index.
func (pb *PendingBuffer) Get(index uint32) ([]byte, bool) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	f, ok := pb.fragments[index]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, true
}

// Assemble concatenates fragments 0..=end in index order. It fails with a
// *MissingChunkError on the first absent index and never modifies the buffer.
func (pb *PendingBuffer) Assemble(end uint32) ([]byte, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	size := 0
	for i := uint64(0); i <= uint64(end); i++ {
		f, ok := pb.fragments[uint32(i)]
		if !ok {
			return nil, &MissingChunkError{Index: uint32(i)}
		}
		size += len(f.data)
	}

	out := make([]byte, 0, size)
	for i := uint64(0); i <= uint64(end); i++ {
		out = append(out, pb.fragments[uint32(i)].data...)
	}
	return out, nil
}

// Clear drops every fragment and returns how many were removed.
func (pb *PendingBuffer) Clear() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	n := len(pb.fragments)
	pb.fragments = make(map[uint32]fragment)
	pb.total = 0
	return n
}

// ExpireOlderThan drops fragments whose last write is older than maxAge.
func (pb *PendingBuffer) ExpireOlderThan(maxAge time.Duration) int {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	cutoff := pb.now().Add(-maxAge)
	removed := 0
	for idx, f := range pb.fragments {
		if f.updatedAt.Before(cutoff) {
			pb.total -= int64(len(f.data))
			delete(pb.fragments, idx)
			removed++
		}
	}
	return removed
}

// Len returns the number of buffered fragments.
func (pb *PendingBuffer) Len() int {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return len(pb.fragments)
}

// Bytes returns the total number of buffered payload bytes.
func (pb *PendingBuffer) Bytes() int64 {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.total
}

// Indices returns the buffered indices in ascending order.
func (pb *PendingBuffer) Indices() []uint32 {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	out := make([]uint32, 0, len(pb.fragments))
	for idx := range pb.fragments {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MaxChunkSize returns the configured per-fragment limit (0 = unlimited).
func (pb *PendingBuffer) MaxChunkSize() int { return pb.maxChunk }
