package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithLevel returns a copy filtered at the named level ("debug", "info",
// "warn", "error"). Unknown names keep the current level.
func (l *Logger) WithLevel(level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		return l
	}
	return &Logger{logger: l.logger.Level(lvl)}
}

// WithProgram adds program_id context to logger.
func (l *Logger) WithProgram(program uint32) *Logger {
	return &Logger{
		logger: l.logger.With().Uint32("program_id", program).Logger(),
	}
}

// WithRequest adds request_id context to logger.
func (l *Logger) WithRequest(requestID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("request_id", requestID).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning with its cause.
func (l *Logger) Warn(err error, msg string) {
	l.logger.Warn().Err(err).Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// ChunkStored logs a fragment written to the pending buffer.
func (l *Logger) ChunkStored(index uint32, size int, pending int) {
	l.logger.Debug().
		Uint32("chunk_index", index).
		Int("chunk_size", size).
		Int("pending_chunks", pending).
		Msg("chunk stored")
}

// ObjectFinalized logs a setup or proof committed to the object store.
// proofID is ignored for setups.
func (l *Logger) ObjectFinalized(kind string, program uint32, proofID *uint32, size int, chunks int, digest string, duration time.Duration) {
	ev := l.logger.Info().
		Str("kind", kind).
		Uint32("program_id", program).
		Int("size", size).
		Int("chunks", chunks).
		Str("digest", digest).
		Float64("duration_seconds", duration.Seconds())
	if proofID != nil {
		ev = ev.Uint32("proof_id", *proofID)
	}
	ev.Msg("object finalized")
}

// FinalizeFailed logs a finalize that left the store untouched.
func (l *Logger) FinalizeFailed(kind string, program uint32, end uint32, err error) {
	l.logger.Warn().
		Str("kind", kind).
		Uint32("program_id", program).
		Uint32("end", end).
		Err(err).
		Msg("finalize failed")
}

// ProofVerified logs a verification outcome.
func (l *Logger) ProofVerified(program, proofID uint32, valid bool, duration time.Duration) {
	l.logger.Info().
		Uint32("program_id", program).
		Uint32("proof_id", proofID).
		Bool("valid", valid).
		Float64("duration_seconds", duration.Seconds()).
		Msg("proof verified")
}

// PendingCleared logs removal of pending fragments.
func (l *Logger) PendingCleared(reason string, removed int) {
	l.logger.Info().
		Str("reason", reason).
		Int("removed_chunks", removed).
		Msg("pending chunks cleared")
}

// OwnerChanged logs an owner replacement.
func (l *Logger) OwnerChanged(caller, previous, owner string) {
	l.logger.Info().
		Str("caller", caller).
		Str("previous_owner", previous).
		Str("owner", owner).
		Msg("owner changed")
}

// AccessDenied logs a rejected owner check.
func (l *Logger) AccessDenied(caller, operation string) {
	l.logger.Warn().
		Str("caller", caller).
		Str("operation", operation).
		Msg("caller is not the owner")
}

// RequestServed logs an HTTP request.
func (l *Logger) RequestServed(requestID, method, path string, status int, duration time.Duration) {
	l.logger.Info().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Float64("duration_seconds", duration.Seconds()).
		Msg("request served")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
