package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flyq/jolt-verifier-canister/daemon/manager"
	"github.com/flyq/jolt-verifier-canister/internal/chunker"
	"github.com/flyq/jolt-verifier-canister/internal/observability"
	"github.com/flyq/jolt-verifier-canister/internal/zk"
)

const (
	kindSetup = "setup"
	kindProof = "proof"
)

// OwnerStore persists the single owner identity.
type OwnerStore interface {
	Owner() (string, error)
	SetOwner(owner string) error
}

// AuditLog records committed objects.
type AuditLog interface {
	RecordFinalize(rec manager.FinalizeRecord) (int64, error)
	ListFinalized(limit int) ([]manager.FinalizeRecord, error)
}

// Options wires a VerifierService. Pending, Objects, Owners and Backend are
// required.
type Options struct {
	Pending *manager.PendingBuffer
	Objects manager.ObjectStore
	Owners  OwnerStore
	Audit   AuditLog
	Backend zk.Backend
	Events  *EventPublisher
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
}

// PendingStatus describes the pending buffer.
type PendingStatus struct {
	Chunks       int      `json:"chunks"`
	Bytes        int64    `json:"bytes"`
	Indices      []uint32 `json:"indices"`
	MaxChunkSize int      `json:"max_chunk_size"`
}

// ProgramSummary lists what is stored for one program.
type ProgramSummary struct {
	Program    uint32 `json:"program_id"`
	HasSetup   bool   `json:"has_setup"`
	ProofCount uint32 `json:"proof_count"`
}

// VerifierService accepts chunked uploads, stores setups and proofs per
// program and verifies proofs against setups. Every operation holds one
// lock for its whole duration, so operations never interleave.
type VerifierService struct {
	mu      sync.Mutex
	pending *manager.PendingBuffer
	objects manager.ObjectStore
	owners  OwnerStore
	audit   AuditLog
	backend zk.Backend
	events  *EventPublisher
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewVerifierService creates a service from opts.
func NewVerifierService(opts Options) (*VerifierService, error) {
	switch {
	case opts.Pending == nil:
		return nil, errors.New("pending buffer is required")
	case opts.Objects == nil:
		return nil, errors.New("object store is required")
	case opts.Owners == nil:
		return nil, errors.New("owner store is required")
	case opts.Backend == nil:
		return nil, errors.New("proof backend is required")
	}

	s := &VerifierService{
		pending: opts.Pending,
		objects: opts.Objects,
		owners:  opts.Owners,
		audit:   opts.Audit,
		backend: opts.Backend,
		events:  opts.Events,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		now:     time.Now,
	}
	if s.events == nil {
		s.events = NewEventPublisher(16)
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(nil)
	}
	if s.tracer == nil {
		s.tracer = observability.Tracer()
	}
	return s, nil
}

// Events returns the publisher service events are broadcast on.
func (s *VerifierService) Events() *EventPublisher { return s.events }

// PutChunk stores payload at index in the pending buffer, replacing any
// fragment already there.
func (s *VerifierService) PutChunk(ctx context.Context, index uint32, payload []byte) error {
	_, span := s.tracer.Start(ctx, "VerifierService.PutChunk",
		trace.WithAttributes(attribute.Int64("chunk.index", int64(index)), attribute.Int("chunk.size", len(payload))))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pending.Put(index, payload); err != nil {
		if errors.Is(err, manager.ErrChunkTooLarge) {
			s.metrics.RecordChunkRejected("too_large")
			return spanError(span, chunkTooLarge(index, len(payload), s.pending.MaxChunkSize()))
		}
		return spanError(span, internal("buffer chunk", err))
	}

	s.metrics.RecordChunk(len(payload))
	s.metrics.SetPending(s.pending.Len(), s.pending.Bytes())
	s.logger.ChunkStored(index, len(payload), s.pending.Len())
	return nil
}

// GetChunk returns a copy of the fragment buffered at index.
func (s *VerifierService) GetChunk(index uint32) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Get(index)
}

// ClearPending drops every buffered fragment.
func (s *VerifierService) ClearPending(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "VerifierService.ClearPending")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.pending.Clear()
	s.metrics.SetPending(0, 0)
	s.logger.PendingCleared("request", removed)
	s.events.PublishPendingCleared("request", removed)
	return nil
}

// ExpirePending drops fragments not written for maxAge and returns the
// number removed.
func (s *VerifierService) ExpirePending(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.pending.ExpireOlderThan(maxAge)
	if removed > 0 {
		s.metrics.PendingExpiredTotal.Add(float64(removed))
		s.metrics.SetPending(s.pending.Len(), s.pending.Bytes())
		s.logger.PendingCleared("expired", removed)
		s.events.PublishPendingCleared("expired", removed)
	}
	return removed
}

// PendingStatus reports the buffered fragments.
func (s *VerifierService) PendingStatus() PendingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return PendingStatus{
		Chunks:       s.pending.Len(),
		Bytes:        s.pending.Bytes(),
		Indices:      s.pending.Indices(),
		MaxChunkSize: s.pending.MaxChunkSize(),
	}
}

// FinalizeSetup assembles fragments 0..=end, decodes them as a setup
// artifact and stores it for program, replacing any previous setup.
func (s *VerifierService) FinalizeSetup(ctx context.Context, end, program uint32) error {
	_, err := s.finalize(ctx, kindSetup, end, program, func(data []byte, info manager.ObjectInfo) (*uint32, error) {
		setup, err := s.backend.DecodeSetup(data)
		if err != nil {
			return nil, deserialization(err)
		}
		if err := s.objects.PutSetup(program, setup, info); err != nil {
			return nil, internal("store setup", err)
		}
		return nil, nil
	})
	return err
}

// FinalizeProof assembles fragments 0..=end, decodes them as a proof and
// appends it to program's proofs. It returns the assigned proof id.
func (s *VerifierService) FinalizeProof(ctx context.Context, end, program uint32) (uint32, error) {
	id, err := s.finalize(ctx, kindProof, end, program, func(data []byte, info manager.ObjectInfo) (*uint32, error) {
		proof, err := s.backend.DecodeProof(data)
		if err != nil {
			return nil, deserialization(err)
		}
		id, err := s.objects.AppendProof(program, proof, info)
		if err != nil {
			return nil, internal("store proof", err)
		}
		return &id, nil
	})
	if err != nil {
		return 0, err
	}
	return *id, nil
}

type commitFunc func(data []byte, info manager.ObjectInfo) (*uint32, error)

// finalize runs assemble, decode and commit, then clears the pending
// buffer. Any failure leaves both the store and the buffer untouched.
func (s *VerifierService) finalize(ctx context.Context, kind string, end, program uint32, commit commitFunc) (*uint32, error) {
	_, span := s.tracer.Start(ctx, "VerifierService.Finalize",
		trace.WithAttributes(
			attribute.String("object.kind", kind),
			attribute.Int64("program.id", int64(program)),
			attribute.Int64("chunk.end", int64(end))))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	fail := func(err *Error) (*uint32, error) {
		s.metrics.RecordFinalize(kind, false, 0, time.Since(start).Seconds())
		s.logger.FinalizeFailed(kind, program, end, err)
		s.events.PublishFinalizeFailed(program, kind, err.Error())
		return nil, spanError(span, err)
	}

	data, err := s.pending.Assemble(end)
	if err != nil {
		var missing *manager.MissingChunkError
		if errors.As(err, &missing) {
			return fail(missingChunk(missing.Index))
		}
		return fail(internal("assemble", err))
	}

	info := manager.ObjectInfo{
		Size:     len(data),
		Digest:   chunker.Digest(data),
		StoredAt: s.now().UTC(),
	}
	proofID, err := commit(data, info)
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = internal("commit", err)
		}
		return fail(e)
	}

	chunks := s.pending.Clear()
	s.metrics.SetPending(0, 0)
	s.metrics.RecordFinalize(kind, true, len(data), time.Since(start).Seconds())

	if s.audit != nil {
		rec := manager.FinalizeRecord{
			Kind:      kind,
			Program:   program,
			ProofID:   proofID,
			Size:      info.Size,
			Digest:    info.Digest,
			Chunks:    chunks,
			CreatedAt: info.StoredAt,
		}
		if _, err := s.audit.RecordFinalize(rec); err != nil {
			s.logger.WithProgram(program).Warn(err, "failed to record finalize audit entry")
		}
	}

	s.logger.ObjectFinalized(kind, program, proofID, info.Size, chunks, info.Digest, time.Since(start))
	if proofID != nil {
		s.events.PublishProofStored(program, *proofID, info.Size, info.Digest)
	} else {
		s.events.PublishSetupStored(program, info.Size, info.Digest)
	}
	return proofID, nil
}

// Verify checks proof proofID of program against program's setup and
// returns the verifier's verdict unchanged. Stored objects that no longer
// decode cause a panic with a *CorruptStateError.
func (s *VerifierService) Verify(ctx context.Context, program, proofID uint32) (bool, error) {
	_, span := s.tracer.Start(ctx, "VerifierService.Verify",
		trace.WithAttributes(attribute.Int64("program.id", int64(program)), attribute.Int64("proof.id", int64(proofID))))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()

	setup, err := s.objects.GetSetup(program)
	if err != nil {
		return false, spanError(span, s.lookupError(err, ObjectSetup, strconv.FormatUint(uint64(program), 10), program, nil, start))
	}
	proof, err := s.objects.GetProof(program, proofID)
	if err != nil {
		return false, spanError(span, s.lookupError(err, ObjectProof, fmt.Sprintf("%d/%d", program, proofID), program, &proofID, start))
	}

	valid := s.backend.Verify(setup, proof)

	result := "invalid"
	if valid {
		result = "valid"
	}
	s.metrics.RecordVerification(result, time.Since(start).Seconds())
	s.logger.ProofVerified(program, proofID, valid, time.Since(start))
	s.events.PublishProofVerified(program, proofID, valid)
	span.SetAttributes(attribute.Bool("proof.valid", valid))
	return valid, nil
}

func (s *VerifierService) lookupError(err error, object, key string, program uint32, proofID *uint32, start time.Time) *Error {
	switch {
	case errors.Is(err, manager.ErrSetupNotFound), errors.Is(err, manager.ErrProofNotFound):
		s.metrics.RecordVerification("not_found", time.Since(start).Seconds())
		return notFound(object, key)
	case errors.Is(err, manager.ErrCorrupted):
		s.logger.WithProgram(program).Error(err, "stored object failed to decode")
		panic(&CorruptStateError{Program: program, ProofID: proofID, Err: err})
	default:
		return internal("load "+object, err)
	}
}

// GetSetupInfo returns the metadata of program's setup.
func (s *VerifierService) GetSetupInfo(program uint32) (manager.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.objects.SetupInfo(program)
	if errors.Is(err, manager.ErrSetupNotFound) {
		return info, notFound(ObjectSetup, strconv.FormatUint(uint64(program), 10))
	} else if err != nil {
		return info, internal("load setup info", err)
	}
	return info, nil
}

// GetProofInfo returns the metadata of a stored proof.
func (s *VerifierService) GetProofInfo(program, proofID uint32) (manager.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.objects.ProofInfo(program, proofID)
	if errors.Is(err, manager.ErrProofNotFound) {
		return info, notFound(ObjectProof, fmt.Sprintf("%d/%d", program, proofID))
	} else if err != nil {
		return info, internal("load proof info", err)
	}
	return info, nil
}

// ProofCount returns the number of proofs stored for program, which is
// also the id the next proof receives.
func (s *VerifierService) ProofCount(program uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.objects.ProofCount(program)
	if err != nil {
		return 0, internal("count proofs", err)
	}
	return n, nil
}

// ListPrograms summarises every program with stored objects.
func (s *VerifierService) ListPrograms() ([]ProgramSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	programs, err := s.objects.Programs()
	if err != nil {
		return nil, internal("list programs", err)
	}
	out := make([]ProgramSummary, 0, len(programs))
	for _, p := range programs {
		n, err := s.objects.ProofCount(p)
		if err != nil {
			return nil, internal("count proofs", err)
		}
		_, err = s.objects.SetupInfo(p)
		out = append(out, ProgramSummary{Program: p, HasSetup: err == nil, ProofCount: n})
	}
	return out, nil
}

// History returns the most recent finalize records, newest first.
func (s *VerifierService) History(limit int) ([]manager.FinalizeRecord, error) {
	if s.audit == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.audit.ListFinalized(limit)
	if err != nil {
		return nil, internal("list history", err)
	}
	return recs, nil
}

// GetOwner returns the current owner identity.
func (s *VerifierService) GetOwner() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, err := s.owners.Owner()
	if err != nil {
		return "", internal("load owner", err)
	}
	return owner, nil
}

// CheckOwner passes when caller is the owner or no owner has been set.
func (s *VerifierService) CheckOwner(caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOwner(caller, "check_owner")
}

func (s *VerifierService) checkOwner(caller, operation string) error {
	owner, err := s.owners.Owner()
	if err != nil {
		return internal("load owner", err)
	}
	if owner == caller || owner == manager.AnonymousOwner {
		s.metrics.RecordOwnerCheck(true)
		return nil
	}
	s.metrics.RecordOwnerCheck(false)
	s.logger.AccessDenied(caller, operation)
	return ErrNotAuthorized
}

// SetOwner replaces the owner identity. caller must pass CheckOwner.
func (s *VerifierService) SetOwner(ctx context.Context, caller, owner string) error {
	_, span := s.tracer.Start(ctx, "VerifierService.SetOwner")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, "set_owner"); err != nil {
		return spanError(span, err)
	}
	previous, err := s.owners.Owner()
	if err != nil {
		return spanError(span, internal("load owner", err))
	}
	if err := s.owners.SetOwner(owner); err != nil {
		return spanError(span, internal("save owner", err))
	}

	s.logger.OwnerChanged(caller, previous, owner)
	s.events.PublishOwnerChanged(owner)
	return nil
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
