// Package store persists the local-file ↔ remote-track mapping and the crate
// mirror registry in SQLite. Every write commits before returning: a crash
// mid-run never loses a previously confirmed mapping. Writers are serialized
// per run by the caller's run lock, not by the store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Mapping associates one local file with one remote track. At most one row
// exists per local path, enforced by the schema.
type Mapping struct {
	LocalPath  string
	RemoteID   string
	Confidence float64
	Bitrate    int // last synced bitrate in kbps, 0 when never probed
	Stale      bool
	LastSeen   time.Time
}

// Mirror is a crate registered for synchronization.
type Mirror struct {
	CratePath  string
	Name       string
	PlaylistID string
	Folder     string
	Active     bool
}

// Store manages mapping persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the mapping database.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const mappingColumns = "local_path, remote_id, confidence, bitrate, stale, last_seen"

// Get fetches the mapping for a local path, or nil when none exists.
func (s *Store) Get(ctx context.Context, localPath string) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+mappingColumns+" FROM track_mapping WHERE local_path = ?", localPath)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

// FindByRemoteID fetches the mapping holding a remote track ID, or nil.
func (s *Store) FindByRemoteID(ctx context.Context, remoteID string) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+mappingColumns+" FROM track_mapping WHERE remote_id = ? ORDER BY local_path LIMIT 1", remoteID)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping by remote id: %w", err)
	}
	return m, nil
}

// Upsert inserts or refreshes a mapping, stamps last_seen and clears the
// stale flag. A zero bitrate keeps whatever the row already holds.
func (s *Store) Upsert(ctx context.Context, m Mapping) error {
	if m.LocalPath == "" || m.RemoteID == "" {
		return fmt.Errorf("upsert mapping: local path and remote id are required")
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO track_mapping (local_path, remote_id, confidence, bitrate, stale, last_seen)
        VALUES (?, ?, ?, ?, 0, ?)
        ON CONFLICT(local_path) DO UPDATE SET
            remote_id  = excluded.remote_id,
            confidence = excluded.confidence,
            bitrate    = COALESCE(NULLIF(excluded.bitrate, 0), track_mapping.bitrate),
            stale      = 0,
            last_seen  = excluded.last_seen`,
		m.LocalPath, m.RemoteID, m.Confidence, nullableInt(m.Bitrate),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	return nil
}

// MarkStale flags a mapping whose local file has disappeared. The row stays
// so recovery can re-acquire the audio.
func (s *Store) MarkStale(ctx context.Context, localPath string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE track_mapping SET stale = 1 WHERE local_path = ?", localPath); err != nil {
		return fmt.Errorf("mark mapping stale: %w", err)
	}
	return nil
}

// All returns every mapping on record, stale ones included, ordered by
// local path. Nothing is ever deleted, so this is the full mapping universe;
// recovery wants the stale rows most of all.
func (s *Store) All(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+mappingColumns+" FROM track_mapping ORDER BY local_path")
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return mappings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (*Mapping, error) {
	var (
		m        Mapping
		bitrate  sql.NullInt64
		stale    int
		lastSeen string
	)
	if err := row.Scan(&m.LocalPath, &m.RemoteID, &m.Confidence, &bitrate, &stale, &lastSeen); err != nil {
		return nil, err
	}
	if bitrate.Valid {
		m.Bitrate = int(bitrate.Int64)
	}
	m.Stale = stale != 0
	if ts, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
		m.LastSeen = ts
	}
	return &m, nil
}

func nullableInt(v int) any {
	if v <= 0 {
		return nil
	}
	return v
}
