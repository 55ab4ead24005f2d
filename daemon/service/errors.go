package service

import (
	"errors"
	"fmt"
)

// Kind classifies service errors for callers and transports.
type Kind int

const (
	KindInternal Kind = iota
	KindMissingChunk
	KindDeserialization
	KindNotFound
	KindNotAuthorized
	KindChunkTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindMissingChunk:
		return "MISSING_CHUNK"
	case KindDeserialization:
		return "DESERIALIZATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindNotAuthorized:
		return "NOT_AUTHORIZED"
	case KindChunkTooLarge:
		return "CHUNK_TOO_LARGE"
	default:
		return "INTERNAL"
	}
}

// Object names used in NotFound errors.
const (
	ObjectSetup = "setup"
	ObjectProof = "proof"
)

// Error is the single error type returned by VerifierService. Only the
// fields relevant to Kind are set.
type Error struct {
	Kind   Kind
	Index  uint32 // MissingChunk, ChunkTooLarge
	Object string // NotFound
	Key    string // NotFound
	Size   int    // ChunkTooLarge
	Limit  int    // ChunkTooLarge
	Reason string // Deserialization, Internal
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingChunk:
		return fmt.Sprintf("missing chunk %d", e.Index)
	case KindDeserialization:
		return fmt.Sprintf("deserialization error: %s", e.Reason)
	case KindNotFound:
		return fmt.Sprintf("%s not found: %s", e.Object, e.Key)
	case KindNotAuthorized:
		return "not authorized"
	case KindChunkTooLarge:
		return fmt.Sprintf("chunk %d has %d bytes, limit is %d", e.Index, e.Size, e.Limit)
	default:
		if e.Err != nil {
			return fmt.Sprintf("internal error: %s: %v", e.Reason, e.Err)
		}
		return fmt.Sprintf("internal error: %s", e.Reason)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMissingChunk    = &Error{Kind: KindMissingChunk}
	ErrDeserialization = &Error{Kind: KindDeserialization}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrNotAuthorized   = &Error{Kind: KindNotAuthorized}
	ErrChunkTooLarge   = &Error{Kind: KindChunkTooLarge}
	ErrInternal        = &Error{Kind: KindInternal}
)

func missingChunk(index uint32) *Error {
	return &Error{Kind: KindMissingChunk, Index: index}
}

func deserialization(err error) *Error {
	return &Error{Kind: KindDeserialization, Reason: err.Error(), Err: err}
}

func notFound(object, key string) *Error {
	return &Error{Kind: KindNotFound, Object: object, Key: key}
}

func chunkTooLarge(index uint32, size, limit int) *Error {
	return &Error{Kind: KindChunkTooLarge, Index: index, Size: size, Limit: limit}
}

func internal(reason string, err error) *Error {
	return &Error{Kind: KindInternal, Reason: reason, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CorruptStateError is the panic value raised when persisted objects no
// longer decode. It is never returned as an error.
type CorruptStateError struct {
	Program uint32
	ProofID *uint32
	Err     error
}

func (e *CorruptStateError) Error() string {
	if e.ProofID != nil {
		return fmt.Sprintf("corrupt stored state for program %d proof %d: %v", e.Program, *e.ProofID, e.Err)
	}
	return fmt.Sprintf("corrupt stored state for program %d: %v", e.Program, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }
