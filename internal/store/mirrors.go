package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DiscoverMirrors registers crate paths as inactive mirrors, skipping ones
// already on record. Returns how many rows were added.
func (s *Store) DiscoverMirrors(ctx context.Context, crates map[string]string) (int, error) {
	added := 0
	for path, name := range crates {
		res, err := s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO crate_mirror (crate_path, name, active) VALUES (?, ?, 0)",
			path, name)
		if err != nil {
			return added, fmt.Errorf("register crate %s: %w", path, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}
	return added, nil
}

// Mirrors lists registered mirrors ordered by name.
func (s *Store) Mirrors(ctx context.Context, onlyActive bool) ([]Mirror, error) {
	query := "SELECT crate_path, name, playlist_id, folder, active FROM crate_mirror"
	if onlyActive {
		query += " WHERE active = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list mirrors: %w", err)
	}
	defer rows.Close()

	var mirrors []Mirror
	for rows.Next() {
		var (
			m          Mirror
			playlistID sql.NullString
			folder     sql.NullString
			active     int
		)
		if err := rows.Scan(&m.CratePath, &m.Name, &playlistID, &folder, &active); err != nil {
			return nil, fmt.Errorf("scan mirror: %w", err)
		}
		m.PlaylistID = playlistID.String
		m.Folder = folder.String
		m.Active = active != 0
		mirrors = append(mirrors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mirrors: %w", err)
	}
	return mirrors, nil
}

// ActivateMirror marks a registered crate for synchronization, optionally
// renaming its target playlist and folder.
func (s *Store) ActivateMirror(ctx context.Context, cratePath, name, folder string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE crate_mirror
        SET active = 1,
            name   = COALESCE(NULLIF(?, ''), name),
            folder = COALESCE(NULLIF(?, ''), folder)
        WHERE crate_path = ?`,
		name, folder, cratePath)
	if err != nil {
		return fmt.Errorf("activate mirror: %w", err)
	}
	return requireRow(res, cratePath)
}

// DeactivateMirror stops synchronizing a crate. The registration and its
// mappings stay on record.
func (s *Store) DeactivateMirror(ctx context.Context, cratePath string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE crate_mirror SET active = 0 WHERE crate_path = ?", cratePath)
	if err != nil {
		return fmt.Errorf("deactivate mirror: %w", err)
	}
	return requireRow(res, cratePath)
}

// SetMirrorPlaylist records (or clears, with "") the remote playlist bound
// to a crate.
func (s *Store) SetMirrorPlaylist(ctx context.Context, cratePath, playlistID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE crate_mirror SET playlist_id = NULLIF(?, '') WHERE crate_path = ?",
		playlistID, cratePath)
	if err != nil {
		return fmt.Errorf("set mirror playlist: %w", err)
	}
	return requireRow(res, cratePath)
}

func requireRow(res sql.Result, cratePath string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("crate %s is not registered (run discover first)", cratePath)
	}
	return nil
}
