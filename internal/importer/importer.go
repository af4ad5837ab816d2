// Package importer creates a playlist from an exported CSV track list. Each
// row names a title and artist; rows are resolved against the remote catalog
// with the same matcher sync uses, and the hits become a new playlist in row
// order.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"cratemirror/internal/crate"
	"cratemirror/internal/logger"
	"cratemirror/internal/match"
	"cratemirror/internal/reconcile"
)

// Playlists is the remote surface an import drives.
type Playlists interface {
	CreatePlaylist(ctx context.Context, name, description, folderID string) (string, error)
	Apply(ctx context.Context, playlistID string, current []string, plan reconcile.Plan) (int, error)
}

// Row is one parsed CSV entry.
type Row struct {
	Line   int
	Title  string
	Artist string
}

// Unresolved is a row no catalog candidate matched.
type Unresolved struct {
	Row
	Reason string
}

// Report summarizes one import.
type Report struct {
	PlaylistID string
	Rows       int
	Matched    int
	Duplicates int
	Unresolved []Unresolved
}

// Importer resolves CSV rows and creates the playlist.
type Importer struct {
	Catalog   reconcile.Catalog
	Playlists Playlists
	Matcher   match.Config
	Log       *logger.Logger
}

// Header names accepted for the two required columns; exports disagree on
// the exact labels.
var (
	titleHeaders  = map[string]bool{"title": true, "track": true, "track_name": true}
	artistHeaders = map[string]bool{"artist": true, "artist_name": true}
)

// ParseRows reads a CSV and returns its usable rows. The header must name a
// title and an artist column; rows missing either value are skipped.
func ParseRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	titleCol, artistCol := -1, -1
	for i, name := range header {
		switch key := strings.ToLower(strings.TrimSpace(name)); {
		case titleHeaders[key] && titleCol < 0:
			titleCol = i
		case artistHeaders[key] && artistCol < 0:
			artistCol = i
		}
	}
	if titleCol < 0 || artistCol < 0 {
		return nil, fmt.Errorf("csv must have title and artist columns, found: %s", strings.Join(header, ", "))
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if titleCol >= len(record) || artistCol >= len(record) {
			continue
		}
		row := Row{Line: line, Title: strings.TrimSpace(record[titleCol]), Artist: strings.TrimSpace(record[artistCol])}
		if row.Title == "" || row.Artist == "" {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no usable rows in csv")
	}
	return rows, nil
}

// Run resolves every row and creates a playlist holding the matches in row
// order. Rows resolving to a track already matched earlier are skipped; no
// playlist is created when nothing resolves.
func (i *Importer) Run(ctx context.Context, rows []Row, name, folder string) (*Report, error) {
	report := &Report{Rows: len(rows)}

	var ids []string
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("import cancelled: %w", err)
		}

		track, err := crate.NewTrack("", row.Title, row.Artist, 0)
		if err != nil {
			report.Unresolved = append(report.Unresolved, Unresolved{Row: row, Reason: err.Error()})
			continue
		}

		candidates, err := i.Catalog.Search(ctx, match.CleanTitle(track.Title), track.Artist)
		if err != nil {
			i.Log.Warn("catalog search failed for %s - %s: %v", row.Artist, row.Title, err)
			report.Unresolved = append(report.Unresolved, Unresolved{Row: row, Reason: fmt.Sprintf("search failed: %v", err)})
			continue
		}
		best, ok := match.Best(track, candidates, i.Matcher)
		if !ok {
			report.Unresolved = append(report.Unresolved, Unresolved{Row: row, Reason: "no candidate above the confidence threshold"})
			continue
		}
		if seen[best.Track.ID] {
			report.Duplicates++
			continue
		}
		seen[best.Track.ID] = true
		ids = append(ids, best.Track.ID)
		report.Matched++
	}

	if len(ids) == 0 {
		return report, fmt.Errorf("no rows resolved, playlist not created")
	}

	playlistID, err := i.Playlists.CreatePlaylist(ctx, name, "Imported track list", folder)
	if err != nil {
		return report, fmt.Errorf("create playlist: %w", err)
	}
	report.PlaylistID = playlistID

	if _, err := i.Playlists.Apply(ctx, playlistID, nil, reconcile.Diff(ids, nil)); err != nil {
		return report, fmt.Errorf("fill playlist: %w", err)
	}
	i.Log.Info("imported %d of %d row(s) into playlist %s", report.Matched, report.Rows, playlistID)
	return report, nil
}
