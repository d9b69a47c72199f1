// Package audit keeps an append-only local trail of state-changing
// operations in a SQLite file next to the service.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one recorded audit entry.
type Event struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteStore implements the audit recorder using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		detail TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events(entity);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_events(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Record appends one audit event.
func (s *SQLiteStore) Record(ctx context.Context, actor, action, entity, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (actor, action, entity, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, actor, action, entity, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Filter narrows a List query. Zero-value fields are not applied.
type Filter struct {
	Actor  string
	Action string
	Entity string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// List returns events matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Event, error) {
	query := `
		SELECT id, actor, action, entity, detail, created_at
		FROM audit_events
		WHERE 1=1`
	var args []interface{}

	if filter.Actor != "" {
		query += " AND actor = ?"
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Entity != "" {
		query += " AND entity = ?"
		args = append(args, filter.Entity)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += " AND created_at < ?"
		args = append(args, filter.Until.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListByEntity returns the events for one entity, newest first.
func (s *SQLiteStore) ListByEntity(ctx context.Context, entity string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, entity, detail, created_at
		FROM audit_events
		WHERE entity = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Entity, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
