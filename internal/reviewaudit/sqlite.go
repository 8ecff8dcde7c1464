// Package reviewaudit provides a supplementary SQLite-backed audit trail of
// every Review State Engine mutation. It is additive telemetry: nothing in
// the mutation path depends on its success, matching the teacher's own
// audit logger ("non-fatal - continue with agent execution").
//
// Grounded on the teacher's internal/db/sqlite.go (Open, WAL pragma,
// versioned migrate()) and agents/audit.go (AuditLogger interface,
// StoreAuditLogger, truncation-with-marker).
package reviewaudit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB wraps the audit SQLite database.
type DB struct {
	sql  *sql.DB
	path string
}

// Open opens (and migrates) the audit database at dbPath, creating its
// parent directory if needed.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{sql: sqlDB, path: dbPath}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

var migrations = []string{
	// migration 1: the audit log table and its review_id index (migrate
	// creates the schema_migrations bookkeeping table itself).
	`CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		review_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_review ON audit_entries(review_id);`,
}

func (d *DB) migrate() error {
	if _, err := d.sql.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := d.sql.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if _, err := d.sql.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := d.sql.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
	}
	return nil
}

// Entry is one row of the audit_entries table.
type Entry struct {
	ID        string
	ReviewID  string
	EventType string
	EventData string
	CreatedAt time.Time
}

// maxEventDataBytes bounds how much of an event's JSON payload is stored,
// matching the teacher's 50KB truncation-with-marker convention.
const maxEventDataBytes = 50_000

// Add inserts one audit entry, truncating EventData if it exceeds
// maxEventDataBytes.
func (d *DB) Add(e Entry) error {
	data := e.EventData
	if len(data) > maxEventDataBytes {
		data = data[:maxEventDataBytes] + "\n...[truncated]"
	}
	_, err := d.sql.Exec(
		`INSERT INTO audit_entries(id, review_id, event_type, event_data, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ReviewID, e.EventType, data, e.CreatedAt,
	)
	return err
}

// Record implements review.AuditSink, letting a *DB be registered directly
// on an *review.Engine via Engine.SetAuditor. An error from Add is
// discarded -- nothing in the mutation path depends on this
// succeeding, matching the teacher's "non-fatal" audit logger.
func (d *DB) Record(reviewID, eventType, eventData string, at time.Time) {
	_ = d.Add(Entry{
		ID:        uuid.New().String(),
		ReviewID:  reviewID,
		EventType: eventType,
		EventData: eventData,
		CreatedAt: at,
	})
}

// Recent returns up to limit audit entries for reviewID, newest first.
func (d *DB) Recent(reviewID string, limit int) ([]Entry, error) {
	rows, err := d.sql.Query(
		`SELECT id, review_id, event_type, event_data, created_at FROM audit_entries
		 WHERE review_id = ? ORDER BY created_at DESC LIMIT ?`,
		reviewID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ReviewID, &e.EventType, &e.EventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
