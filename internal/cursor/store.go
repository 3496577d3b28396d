// Package cursor persists the last-processed change-log position.
//
// The store deliberately never surfaces read or write failures to the
// sync pipeline: Load returns an empty state when the backing store is
// missing or unreadable, and Save logs and swallows write errors. A
// failed persistence must not crash a delivery in flight.
package cursor

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Sync status values recorded alongside the cursor.
const (
	StatusSyncing = "SYNCING"
	StatusHooked  = "HOOKED"
	StatusError   = "ERROR"
)

// State is the persisted sync position for one provider.
type State struct {
	Cursor       string
	Status       string
	LastError    string
	LastSyncedAt time.Time
}

// Store is a SQLite-backed cursor store.
type Store struct {
	db       *sql.DB
	provider string
}

// Open opens or creates the cursor database for a provider.
func Open(dbPath, provider string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, provider: provider}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted state. Missing or unreadable state yields
// an empty State, never an error.
func (s *Store) Load(ctx context.Context) State {
	var state State
	var syncedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT cursor, status, last_error, last_synced_at
		FROM sync_state WHERE provider = ?
	`, s.provider).Scan(&state.Cursor, &state.Status, &state.LastError, &syncedAt)

	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("cursor: load failed for %s: %v", s.provider, err)
		}
		return State{}
	}

	if syncedAt > 0 {
		state.LastSyncedAt = time.Unix(syncedAt, 0)
	}
	return state
}

// Save overwrites the persisted state. Write failures are logged and
// swallowed.
func (s *Store) Save(ctx context.Context, state State) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (provider, cursor, status, last_error, last_synced_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			cursor = excluded.cursor,
			status = excluded.status,
			last_error = excluded.last_error,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at
	`, s.provider, state.Cursor, state.Status, state.LastError, now, now)

	if err != nil {
		log.Printf("cursor: save failed for %s: %v", s.provider, err)
	}
}

// SetStatus updates the sync status without touching the cursor. The
// row is created if the provider has never been saved.
func (s *Store) SetStatus(ctx context.Context, status, errMsg string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (provider, cursor, status, last_error, last_synced_at, updated_at)
		VALUES (?, '', ?, ?, 0, ?)
		ON CONFLICT(provider) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, s.provider, status, errMsg, time.Now().Unix())

	if err != nil {
		log.Printf("cursor: status update failed for %s: %v", s.provider, err)
	}
}

// WasForwarded reports whether a message identifier was already
// delivered in a previous pass. An unreadable record reads as not
// forwarded so the message is not lost.
func (s *Store) WasForwarded(ctx context.Context, messageID string) bool {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM forwarded_messages WHERE provider = ? AND message_id = ?
	`, s.provider, messageID).Scan(&one)

	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("cursor: forwarded lookup failed for %s: %v", messageID, err)
		}
		return false
	}
	return true
}

// MarkForwarded records a message identifier as delivered. Write
// failures are logged and swallowed.
func (s *Store) MarkForwarded(ctx context.Context, messageID string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO forwarded_messages (provider, message_id, forwarded_at)
		VALUES (?, ?, ?)
	`, s.provider, messageID, time.Now().Unix())

	if err != nil {
		log.Printf("cursor: mark forwarded failed for %s: %v", messageID, err)
	}
}
