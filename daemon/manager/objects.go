package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flyq/jolt-verifier-canister/internal/zk"
)

var (
	ErrSetupNotFound = errors.New("setup not found")
	ErrProofNotFound = errors.New("proof not found")
	// ErrCorrupted marks stored bytes that no longer decode.
	ErrCorrupted = errors.New("stored object is corrupted")
)

// ObjectInfo is the metadata kept next to every stored object.
type ObjectInfo struct {
	Program  uint32    `json:"program_id"`
	ProofID  *uint32   `json:"proof_id,omitempty"`
	Size     int       `json:"size"`
	Digest   string    `json:"digest"`
	StoredAt time.Time `json:"stored_at"`
}

// ObjectStore is the keyed store of setup artifacts and proofs. Proof ids
// are assigned by AppendProof as the count of proofs already stored for the
// program.
type ObjectStore interface {
	PutSetup(program uint32, setup zk.Setup, info ObjectInfo) error
	AppendProof(program uint32, proof zk.Proof, info ObjectInfo) (uint32, error)
	GetSetup(program uint32) (zk.Setup, error)
	GetProof(program, proofID uint32) (zk.Proof, error)
	SetupInfo(program uint32) (ObjectInfo, error)
	ProofInfo(program, proofID uint32) (ObjectInfo, error)
	ProofCount(program uint32) (uint32, error)
	Programs() ([]uint32, error)
	Ping(ctx context.Context) error
	Close() error
}

type setupEntry struct {
	setup zk.Setup
	info  ObjectInfo
}

type proofEntry struct {
	proof zk.Proof
	info  ObjectInfo
}

// MemoryObjectStore keeps objects in process memory; contents are lost on
// restart.
type MemoryObjectStore struct {
	setups map[uint32]setupEntry
	proofs map[uint32][]proofEntry
	mu     sync.RWMutex
}

// NewMemoryObjectStore creates an empty volatile store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		setups: make(map[uint32]setupEntry),
		proofs: make(map[uint32][]proofEntry),
	}
}

func (m *MemoryObjectStore) PutSetup(program uint32, setup zk.Setup, info ObjectInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info.Program = program
	info.ProofID = nil
	m.setups[program] = setupEntry{setup: setup, info: info}
	return nil
}

func (m *MemoryObjectStore) AppendProof(program uint32, proof zk.Proof, info ObjectInfo) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uint32(len(m.proofs[program]))
	info.Program = program
	info.ProofID = &id
	m.proofs[program] = append(m.proofs[program], proofEntry{proof: proof, info: info})
	return id, nil
}

func (m *MemoryObjectStore) GetSetup(program uint32) (zk.Setup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.setups[program]
	if !ok {
		return nil, ErrSetupNotFound
	}
	return e.setup, nil
}

func (m *MemoryObjectStore) GetProof(program, proofID uint32) (zk.Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.proofs[program]
	if uint64(proofID) >= uint64(len(list)) {
		return nil, ErrProofNotFound
	}
	return list[proofID].proof, nil
}

func (m *MemoryObjectStore) SetupInfo(program uint32) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.setups[program]
	if !ok {
		return ObjectInfo{}, ErrSetupNotFound
	}
	return e.info, nil
}

func (m *MemoryObjectStore) ProofInfo(program, proofID uint32) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.proofs[program]
	if uint64(proofID) >= uint64(len(list)) {
		return ObjectInfo{}, ErrProofNotFound
	}
	return list[proofID].info, nil
}

func (m *MemoryObjectStore) ProofCount(program uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.proofs[program])), nil
}

// Programs returns every program id that has a setup or a proof, ascending.
func (m *MemoryObjectStore) Programs() ([]uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uint32]struct{}, len(m.setups)+len(m.proofs))
	for p := range m.setups {
		seen[p] = struct{}{}
	}
	for p := range m.proofs {
		seen[p] = struct{}{}
	}
	return sortedKeys(seen), nil
}

func (m *MemoryObjectStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryObjectStore) Close() error { return nil }
