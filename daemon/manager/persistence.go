package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// AnonymousOwner is the unset owner sentinel. While it is stored, any caller
// passes the owner check.
const AnonymousOwner = "anonymous"

var ErrDatabaseNotInitialized = errors.New("database not initialized")

const ownerKey = "owner"

// FinalizeRecord is one row of the finalize audit log.
type FinalizeRecord struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Program   uint32    `json:"program_id"`
	ProofID   *uint32   `json:"proof_id,omitempty"`
	Size      int       `json:"size"`
	Digest    string    `json:"digest"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

// ConfigStore keeps the owner identity and the finalize audit log in SQLite
// so both survive restarts.
type ConfigStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenConfigStore opens (or creates) the SQLite database at dbPath.
func OpenConfigStore(dbPath string) (*ConfigStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time keeps SQLite free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &ConfigStore{
		db:   db,
		path: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates the database schema if it doesn't exist
func (cs *ConfigStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS finalize_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			program_id INTEGER NOT NULL,
			proof_id INTEGER,
			size INTEGER NOT NULL,
			digest TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_finalize_program ON finalize_log(program_id);
	`

	if _, err := cs.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := cs.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := cs.db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (1, ?)", time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	return nil
}

// Owner returns the stored owner, or AnonymousOwner when none was set.
func (cs *ConfigStore) Owner() (string, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.db == nil {
		return "", ErrDatabaseNotInitialized
	}

	var owner string
	err := cs.db.QueryRow("SELECT value FROM settings WHERE key = ?", ownerKey).Scan(&owner)
	if err == sql.ErrNoRows {
		return AnonymousOwner, nil
	} else if err != nil {
		return "", fmt.Errorf("failed to load owner: %w", err)
	}
	return owner, nil
}

// SetOwner replaces the stored owner.
func (cs *ConfigStore) SetOwner(owner string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	_, err := cs.db.Exec(
		"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		ownerKey, owner, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save owner: %w", err)
	}
	return nil
}

// SeedOwner stores owner only if no owner has been stored yet and reports
// whether it did.
func (cs *ConfigStore) SeedOwner(owner string) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	result, err := cs.db.Exec(
		"INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		ownerKey, owner, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed owner: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RecordFinalize appends an audit row and returns its id.
func (cs *ConfigStore) RecordFinalize(rec FinalizeRecord) (int64, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var proofID sql.NullInt64
	if rec.ProofID != nil {
		proofID = sql.NullInt64{Int64: int64(*rec.ProofID), Valid: true}
	}

	result, err := cs.db.Exec(`
		INSERT INTO finalize_log (kind, program_id, proof_id, size, digest, chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Kind, rec.Program, proofID, rec.Size, rec.Digest, rec.Chunks, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record finalize: %w", err)
	}
	return result.LastInsertId()
}

// ListFinalized returns the most recent audit rows first. A zero limit means
// no limit.
func (cs *ConfigStore) ListFinalized(limit int) ([]FinalizeRecord, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := cs.db.Query(`
		SELECT id, kind, program_id, proof_id, size, digest, chunks, created_at
		FROM finalize_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query finalize log: %w", err)
	}
	defer rows.Close()

	var out []FinalizeRecord
	for rows.Next() {
		var (
			rec     FinalizeRecord
			proofID sql.NullInt64
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Program, &proofID, &rec.Size, &rec.Digest, &rec.Chunks, &created); err != nil {
			return nil, fmt.Errorf("failed to scan finalize row: %w", err)
		}
		if proofID.Valid {
			id := uint32(proofID.Int64)
			rec.ProofID = &id
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (cs *ConfigStore) Ping(ctx context.Context) error {
	return cs.db.PingContext(ctx)
}

// Close closes the database connection
func (cs *ConfigStore) Close() error {
	if cs.db != nil {
		return cs.db.Close()
	}
	return nil
}
