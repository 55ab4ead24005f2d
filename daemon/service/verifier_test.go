package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyq/jolt-verifier-canister/daemon/manager"
	"github.com/flyq/jolt-verifier-canister/internal/chunker"
	"github.com/flyq/jolt-verifier-canister/internal/observability"
	"github.com/flyq/jolt-verifier-canister/internal/zk"
)

// fakeObject is a setup or proof whose canonical form is its raw bytes.
type fakeObject []byte

func (o fakeObject) MarshalBinary() ([]byte, error) { return []byte(o), nil }

// fakeBackend accepts "SETUP..." and "PROOF..." blobs. A proof is valid when
// its last byte equals the last byte of the setup.
type fakeBackend struct {
	mu       sync.Mutex
	verifies int
}

func (b *fakeBackend) DecodeSetup(data []byte) (zk.Setup, error) {
	if !bytes.HasPrefix(data, []byte("SETUP")) {
		return nil, fmt.Errorf("%w: no setup header", zk.ErrMalformed)
	}
	return fakeObject(bytes.Clone(data)), nil
}

func (b *fakeBackend) DecodeProof(data []byte) (zk.Proof, error) {
	if !bytes.HasPrefix(data, []byte("PROOF")) {
		return nil, fmt.Errorf("%w: no proof header", zk.ErrMalformed)
	}
	return fakeObject(bytes.Clone(data)), nil
}

func (b *fakeBackend) Verify(setup zk.Setup, proof zk.Proof) bool {
	b.mu.Lock()
	b.verifies++
	b.mu.Unlock()

	s, sok := setup.(fakeObject)
	p, pok := proof.(fakeObject)
	if !sok || !pok || len(s) == 0 || len(p) == 0 {
		return false
	}
	return s[len(s)-1] == p[len(p)-1]
}

type memOwners struct {
	owner string
}

func (m *memOwners) Owner() (string, error) {
	if m.owner == "" {
		return manager.AnonymousOwner, nil
	}
	return m.owner, nil
}

func (m *memOwners) SetOwner(owner string) error {
	m.owner = owner
	return nil
}

type fixture struct {
	svc     *VerifierService
	pending *manager.PendingBuffer
	objects manager.ObjectStore
	backend *fakeBackend
}

func newFixture(t *testing.T, maxChunk int) *fixture {
	t.Helper()
	f := &fixture{
		pending: manager.NewPendingBuffer(maxChunk),
		objects: manager.NewMemoryObjectStore(),
		backend: &fakeBackend{},
	}
	svc, err := NewVerifierService(Options{
		Pending: f.pending,
		Objects: f.objects,
		Owners:  &memOwners{},
		Backend: f.backend,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) upload(t *testing.T, data []byte, size int) uint32 {
	t.Helper()
	ctx := context.Background()
	parts, err := chunker.Split(data, size)
	require.NoError(t, err)
	for i, p := range parts {
		require.NoError(t, f.svc.PutChunk(ctx, uint32(i), p))
	}
	return uint32(len(parts) - 1)
}

func (f *fixture) storeSetup(t *testing.T, program uint32, data []byte) {
	t.Helper()
	end := f.upload(t, data, 4)
	require.NoError(t, f.svc.FinalizeSetup(context.Background(), end, program))
}

func (f *fixture) storeProof(t *testing.T, program uint32, data []byte) uint32 {
	t.Helper()
	end := f.upload(t, data, 4)
	id, err := f.svc.FinalizeProof(context.Background(), end, program)
	require.NoError(t, err)
	return id
}

func TestNewVerifierService_RequiresCollaborators(t *testing.T) {
	_, err := NewVerifierService(Options{})
	assert.Error(t, err)

	_, err = NewVerifierService(Options{
		Pending: manager.NewPendingBuffer(0),
		Objects: manager.NewMemoryObjectStore(),
		Owners:  &memOwners{},
	})
	assert.Error(t, err)
}

func TestPutChunk_IdempotentOverwrite(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.svc.PutChunk(ctx, 0, []byte("first")))
	require.NoError(t, f.svc.PutChunk(ctx, 0, []byte("second")))

	got, ok := f.svc.GetChunk(0)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
	assert.Equal(t, 1, f.svc.PendingStatus().Chunks)

	_, ok = f.svc.GetChunk(1)
	assert.False(t, ok)
}

func TestPutChunk_TooLarge(t *testing.T) {
	f := newFixture(t, 8)

	err := f.svc.PutChunk(context.Background(), 3, make([]byte, 9))
	require.ErrorIs(t, err, ErrChunkTooLarge)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, uint32(3), e.Index)
	assert.Equal(t, 9, e.Size)
	assert.Equal(t, 8, e.Limit)
	assert.Equal(t, 0, f.svc.PendingStatus().Chunks)
}

func TestFinalize_MissingChunkStoresNothing(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	for _, i := range []uint32{0, 1, 3} {
		require.NoError(t, f.svc.PutChunk(ctx, i, []byte("SETUP")))
	}

	err := f.svc.FinalizeSetup(ctx, 3, 1)
	require.ErrorIs(t, err, ErrMissingChunk)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, uint32(2), e.Index)

	_, err = f.svc.GetSetupInfo(1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []uint32{0, 1, 3}, f.svc.PendingStatus().Indices)

	_, err = f.svc.FinalizeProof(ctx, 3, 1)
	require.ErrorIs(t, err, ErrMissingChunk)
	n, err := f.svc.ProofCount(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
}

func TestFinalize_EmptyBuffer(t *testing.T) {
	f := newFixture(t, 0)
	err := f.svc.FinalizeSetup(context.Background(), 0, 1)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindMissingChunk, e.Kind)
	assert.Equal(t, uint32(0), e.Index)
}

func TestFinalize_UploadOrderIndependent(t *testing.T) {
	blob := []byte("SETUP-order-independent-blob")
	parts, err := chunker.Split(blob, 5)
	require.NoError(t, err)

	forward := newFixture(t, 0)
	for i, p := range parts {
		require.NoError(t, forward.svc.PutChunk(context.Background(), uint32(i), p))
	}
	require.NoError(t, forward.svc.FinalizeSetup(context.Background(), uint32(len(parts)-1), 1))

	reverse := newFixture(t, 0)
	for i := len(parts) - 1; i >= 0; i-- {
		require.NoError(t, reverse.svc.PutChunk(context.Background(), uint32(i), parts[i]))
	}
	require.NoError(t, reverse.svc.FinalizeSetup(context.Background(), uint32(len(parts)-1), 1))

	a, err := forward.svc.GetSetupInfo(1)
	require.NoError(t, err)
	b, err := reverse.svc.GetSetupInfo(1)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest)
	assert.Equal(t, chunker.Digest(blob), a.Digest)
	assert.Equal(t, len(blob), a.Size)
}

func TestFinalize_RoundTripAtAnyBoundary(t *testing.T) {
	blob := []byte("PROOF:round-trip-payload-with-some-length")
	for _, size := range []int{1, 3, 7, len(blob), len(blob) + 10} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			f := newFixture(t, 0)
			end := f.upload(t, blob, size)

			id, err := f.svc.FinalizeProof(context.Background(), end, 5)
			require.NoError(t, err)

			p, err := f.objects.GetProof(5, id)
			require.NoError(t, err)
			raw, _ := p.MarshalBinary()
			assert.Equal(t, blob, raw)
		})
	}
}

func TestFinalize_ClearsPendingOnSuccess(t *testing.T) {
	f := newFixture(t, 0)
	f.storeSetup(t, 1, []byte("SETUP-x"))
	assert.Equal(t, 0, f.svc.PendingStatus().Chunks)
}

func TestFinalize_DeserializationLeavesStateIntact(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	end := f.upload(t, []byte("garbage bytes"), 4)

	_, err := f.svc.FinalizeProof(ctx, end, 1)
	require.ErrorIs(t, err, ErrDeserialization)
	assert.ErrorIs(t, err, zk.ErrMalformed)

	err = f.svc.FinalizeSetup(ctx, end, 1)
	require.ErrorIs(t, err, ErrDeserialization)

	assert.Equal(t, int(end)+1, f.svc.PendingStatus().Chunks)
	n, err := f.svc.ProofCount(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
	_, err = f.svc.GetSetupInfo(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinalize_SetupReplacedWholesale(t *testing.T) {
	f := newFixture(t, 0)
	f.storeSetup(t, 1, []byte("SETUP-A"))
	f.storeSetup(t, 1, []byte("SETUP-B"))

	id := f.storeProof(t, 1, []byte("PROOF-B"))
	valid, err := f.svc.Verify(context.Background(), 1, id)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestFinalizeProof_DenseIDsPerProgram(t *testing.T) {
	f := newFixture(t, 0)
	for want := uint32(0); want < 4; want++ {
		assert.Equal(t, want, f.storeProof(t, 7, []byte("PROOF-seven")))
	}
	assert.Equal(t, uint32(0), f.storeProof(t, 8, []byte("PROOF-eight")))

	n, err := f.svc.ProofCount(7)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)

	info, err := f.svc.GetProofInfo(7, 3)
	require.NoError(t, err)
	require.NotNil(t, info.ProofID)
	assert.Equal(t, uint32(3), *info.ProofID)

	_, err = f.svc.GetProofInfo(7, 4)
	assert.ErrorIs(t, err, ErrNotFound)

	programs, err := f.svc.ListPrograms()
	require.NoError(t, err)
	assert.Equal(t, []ProgramSummary{
		{Program: 7, HasSetup: false, ProofCount: 4},
		{Program: 8, HasSetup: false, ProofCount: 1},
	}, programs)
}

func TestVerify_Deterministic(t *testing.T) {
	f := newFixture(t, 0)
	f.storeSetup(t, 1, []byte("SETUP-k"))
	good := f.storeProof(t, 1, []byte("PROOF-k"))
	bad := f.storeProof(t, 1, []byte("PROOF-z"))

	for i := 0; i < 3; i++ {
		valid, err := f.svc.Verify(context.Background(), 1, good)
		require.NoError(t, err)
		assert.True(t, valid)

		valid, err = f.svc.Verify(context.Background(), 1, bad)
		require.NoError(t, err)
		assert.False(t, valid)
	}
	assert.Equal(t, 6, f.backend.verifies)
}

func TestVerify_MissingKeys(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, 99, 0)
	require.ErrorIs(t, err, ErrNotFound)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ObjectSetup, e.Object)
	assert.Equal(t, "99", e.Key)

	f.storeSetup(t, 99, []byte("SETUP"))
	_, err = f.svc.Verify(ctx, 99, 0)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ObjectProof, e.Object)
	assert.Equal(t, "99/0", e.Key)

	// A proof without a setup still reports the setup.
	f.storeProof(t, 3, []byte("PROOF"))
	_, err = f.svc.Verify(ctx, 3, 0)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ObjectSetup, e.Object)
	assert.Zero(t, f.backend.verifies)
}

// corruptStore reports every stored proof as undecodable.
type corruptStore struct {
	*manager.MemoryObjectStore
}

func (c corruptStore) GetProof(program, proofID uint32) (zk.Proof, error) {
	if _, err := c.MemoryObjectStore.GetProof(program, proofID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: proof %d/%d", manager.ErrCorrupted, program, proofID)
}

func TestVerify_CorruptStatePanics(t *testing.T) {
	store := corruptStore{manager.NewMemoryObjectStore()}
	svc, err := NewVerifierService(Options{
		Pending: manager.NewPendingBuffer(0),
		Objects: store,
		Owners:  &memOwners{},
		Backend: &fakeBackend{},
	})
	require.NoError(t, err)
	require.NoError(t, store.PutSetup(1, fakeObject("SETUP"), manager.ObjectInfo{}))
	_, err = store.AppendProof(1, fakeObject("PROOF"), manager.ObjectInfo{})
	require.NoError(t, err)

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		_, _ = svc.Verify(context.Background(), 1, 0)
	}()

	cse, ok := recovered.(*CorruptStateError)
	require.True(t, ok, "expected *CorruptStateError, got %T", recovered)
	assert.Equal(t, uint32(1), cse.Program)
	require.NotNil(t, cse.ProofID)
	assert.True(t, errors.Is(cse, manager.ErrCorrupted))

	// The lock was released by the panic.
	_, err = svc.Verify(context.Background(), 2, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOwner_Guard(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	owner, err := f.svc.GetOwner()
	require.NoError(t, err)
	assert.Equal(t, manager.AnonymousOwner, owner)

	// Unset owner lets anyone through.
	require.NoError(t, f.svc.CheckOwner("anyone"))
	require.NoError(t, f.svc.SetOwner(ctx, "anyone", "alice"))

	assert.ErrorIs(t, f.svc.CheckOwner("mallory"), ErrNotAuthorized)
	err = f.svc.SetOwner(ctx, "mallory", "mallory")
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, KindNotAuthorized, KindOf(err))

	owner, err = f.svc.GetOwner()
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	require.NoError(t, f.svc.SetOwner(ctx, "alice", "bob"))
	assert.ErrorIs(t, f.svc.CheckOwner("alice"), ErrNotAuthorized)
	assert.NoError(t, f.svc.CheckOwner("bob"))

	// Handing ownership back to the sentinel reopens the guard.
	require.NoError(t, f.svc.SetOwner(ctx, "bob", manager.AnonymousOwner))
	assert.NoError(t, f.svc.CheckOwner("mallory"))
}

func TestClearPending(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.upload(t, []byte("leftover fragments"), 3)

	require.NoError(t, f.svc.ClearPending(ctx))
	assert.Equal(t, PendingStatus{Indices: []uint32{}}, f.svc.PendingStatus())
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.svc.PutChunk(ctx, 0, []byte("x")))

	assert.Equal(t, 0, f.svc.ExpirePending(time.Hour))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, f.svc.ExpirePending(time.Millisecond))
	assert.Equal(t, 0, f.svc.PendingStatus().Chunks)
}

func TestEvents_FinalizeAndVerify(t *testing.T) {
	f := newFixture(t, 0)
	program := uint32(4)
	sub := f.svc.Events().Subscribe(&program)
	defer f.svc.Events().Unsubscribe(sub.ID)
	other := f.svc.Events().Subscribe(nil)
	defer f.svc.Events().Unsubscribe(other.ID)

	f.storeSetup(t, 5, []byte("SETUP-other"))
	f.storeSetup(t, 4, []byte("SETUP-4"))
	id := f.storeProof(t, 4, []byte("PROOF-4"))
	_, err := f.svc.Verify(context.Background(), 4, id)
	require.NoError(t, err)

	var types []EventType
	for len(sub.Channel) > 0 {
		types = append(types, (<-sub.Channel).EventType)
	}
	assert.Equal(t, []EventType{EventSetupStored, EventProofStored, EventProofVerified}, types)
	assert.Len(t, other.Channel, 4)
}

func TestHistory_RecordsCommittedObjects(t *testing.T) {
	cs, err := manager.OpenConfigStore(filepath.Join(t.TempDir(), "config.db"))
	require.NoError(t, err)
	defer cs.Close()

	svc, err := NewVerifierService(Options{
		Pending: manager.NewPendingBuffer(0),
		Objects: manager.NewMemoryObjectStore(),
		Owners:  cs,
		Audit:   cs,
		Backend: &fakeBackend{},
	})
	require.NoError(t, err)
	f := &fixture{svc: svc}

	f.storeSetup(t, 2, []byte("SETUP-history"))
	f.storeProof(t, 2, []byte("PROOF-history"))
	_, err = svc.FinalizeProof(context.Background(), 9, 2)
	require.Error(t, err)

	recs, err := svc.History(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, kindProof, recs[0].Kind)
	assert.Equal(t, chunker.Digest([]byte("PROOF-history")), recs[0].Digest)
	assert.Equal(t, 4, recs[0].Chunks)
	assert.Equal(t, kindSetup, recs[1].Kind)
}

type failingAudit struct{}

func (failingAudit) RecordFinalize(manager.FinalizeRecord) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingAudit) ListFinalized(int) ([]manager.FinalizeRecord, error) { return nil, nil }

func TestFinalize_AuditFailureIsLoggedNotReturned(t *testing.T) {
	var logs bytes.Buffer
	objects := manager.NewMemoryObjectStore()
	svc, err := NewVerifierService(Options{
		Pending: manager.NewPendingBuffer(0),
		Objects: objects,
		Owners:  &memOwners{},
		Audit:   failingAudit{},
		Backend: &fakeBackend{},
		Logger:  observability.NewLogger("jvd", "test", &logs).WithLevel("warn"),
	})
	require.NoError(t, err)
	f := &fixture{svc: svc}

	f.storeSetup(t, 5, []byte("SETUP-audit"))
	_, err = objects.SetupInfo(5)
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"program_id":5`)
	assert.Contains(t, out, "disk full")
}

func TestEndToEnd_FiveMegabyteObjects(t *testing.T) {
	f := newFixture(t, chunker.DefaultChunkSize)
	ctx := context.Background()

	setup := bytes.Repeat([]byte{0xAB}, 5_000_000)
	copy(setup, "SETUP")
	proof := bytes.Repeat([]byte{0xAB}, 5_000_000)
	copy(proof, "PROOF")

	parts, err := chunker.Split(setup, chunker.DefaultChunkSize)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, []int{2_000_000, 2_000_000, 1_000_000}, []int{len(parts[0]), len(parts[1]), len(parts[2])})

	for i, p := range parts {
		require.NoError(t, f.svc.PutChunk(ctx, uint32(i), p))
	}
	require.NoError(t, f.svc.FinalizeSetup(ctx, 2, 1))

	stored, err := f.objects.GetSetup(1)
	require.NoError(t, err)
	raw, err := stored.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(setup, raw), "stored setup differs from the uploaded blob")

	_, err = f.svc.Verify(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	end := f.upload(t, proof, chunker.DefaultChunkSize)
	require.Equal(t, uint32(2), end)
	id, err := f.svc.FinalizeProof(ctx, end, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	valid, err := f.svc.Verify(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, valid)

	info, err := f.svc.GetSetupInfo(1)
	require.NoError(t, err)
	assert.Equal(t, 5_000_000, info.Size)
}
