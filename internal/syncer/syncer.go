// Package syncer orchestrates a mirror run: read each registered crate,
// resolve its tracks against the remote catalog, diff against the mirror
// playlist, and apply the edits.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"cratemirror/internal/crate"
	"cratemirror/internal/logger"
	"cratemirror/internal/match"
	"cratemirror/internal/probe"
	"cratemirror/internal/reconcile"
	"cratemirror/internal/remote"
	"cratemirror/internal/store"
)

// Store is the database surface a run needs.
type Store interface {
	Mirrors(ctx context.Context, onlyActive bool) ([]store.Mirror, error)
	SetMirrorPlaylist(ctx context.Context, cratePath, playlistID string) error
	Get(ctx context.Context, localPath string) (*store.Mapping, error)
	Upsert(ctx context.Context, m store.Mapping) error
	MarkStale(ctx context.Context, localPath string) error
}

// Playlists is the remote playlist surface a run drives.
type Playlists interface {
	PlaylistTracks(ctx context.Context, playlistID string) ([]string, error)
	CreatePlaylist(ctx context.Context, name, description, folderID string) (string, error)
	Apply(ctx context.Context, playlistID string, current []string, plan reconcile.Plan) (int, error)
}

// Options tune one run.
type Options struct {
	// DryRun reports every plan without touching the remote service or the
	// mapping store.
	DryRun bool
	// MaxBitrate, when non-zero, mirrors only tracks at or below this kbps.
	// Lossless files the user already owns have nothing to gain from the
	// mirror playlist.
	MaxBitrate int
}

// MirrorReport is the outcome for one crate.
type MirrorReport struct {
	CratePath  string
	Name       string
	PlaylistID string
	Created    bool // playlist created during this run

	Tracks    int // crate entries
	Skipped   int // over the bitrate limit
	Missing   int // crate entries with no local file
	Matched   int
	CacheHits int
	Unmatched []reconcile.Unmatched

	Adds, Removes, Moves int
	Applied              int

	Err error
}

// Report summarizes a full run across all active mirrors.
type Report struct {
	RunID   string
	Started time.Time
	DryRun  bool
	Mirrors []MirrorReport
}

// Failed counts mirrors that ended in an error.
func (r *Report) Failed() int {
	n := 0
	for _, m := range r.Mirrors {
		if m.Err != nil {
			n++
		}
	}
	return n
}

// Syncer runs the crate → playlist synchronization.
type Syncer struct {
	Store   Store
	Remote  Playlists
	Catalog reconcile.Catalog
	Matcher match.Config
	Folder  string // collection folder for newly created playlists
	Log     *logger.Logger

	// Enrich fills a track's descriptor from the audio file itself;
	// defaults to the tag probe.
	Enrich func(*crate.Track)
	// Exists reports whether a local file is present; defaults to a stat.
	Exists func(path string) bool
}

// Run synchronizes every active mirror sequentially. One crate's failure is
// recorded in its report and does not stop the others; only a cancelled
// context aborts the run.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now(), DryRun: opts.DryRun}

	mirrors, err := s.Store.Mirrors(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load mirror registry: %w", err)
	}
	if len(mirrors) == 0 {
		s.Log.Warn("no active mirrors registered (run discover first)")
		return report, nil
	}

	s.Log.Info("run %s: syncing %d mirror(s)", report.RunID, len(mirrors))
	for _, m := range mirrors {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run cancelled: %w", err)
		}
		mr := s.syncMirror(ctx, m, opts)
		if mr.Err != nil {
			s.Log.Error("mirror %s: %v", m.Name, mr.Err)
		}
		report.Mirrors = append(report.Mirrors, mr)
	}
	return report, nil
}

func (s *Syncer) syncMirror(ctx context.Context, m store.Mirror, opts Options) MirrorReport {
	mr := MirrorReport{CratePath: m.CratePath, Name: m.Name, PlaylistID: m.PlaylistID}

	tracks, err := crate.Read(m.CratePath)
	if err != nil {
		// A corrupt crate is fatal for this mirror only.
		mr.Err = fmt.Errorf("read crate: %w", err)
		return mr
	}
	mr.Tracks = len(tracks)

	locals := s.collectLocals(ctx, tracks, opts, &mr)

	playlistID, current, created, err := s.ensurePlaylist(ctx, m, opts.DryRun)
	if err != nil {
		mr.Err = err
		return mr
	}
	mr.PlaylistID = playlistID
	mr.Created = created

	st := s.Store
	if opts.DryRun {
		st = readOnly{s.Store}
	}
	engine := reconcile.New(st, s.Catalog, s.Matcher, s.Log)
	res, err := engine.Reconcile(ctx, locals, current)
	if err != nil {
		mr.Err = err
		return mr
	}
	mr.Matched = res.Matched
	mr.CacheHits = res.CacheHits
	mr.Unmatched = res.Unmatched
	mr.Adds, mr.Removes, mr.Moves = res.Plan.Counts()

	if res.Plan.Empty() {
		s.Log.Info("mirror %s already in sync (%d tracks)", m.Name, res.Matched)
		return mr
	}
	if opts.DryRun {
		s.Log.Info("mirror %s: would apply %d add(s), %d remove(s), %d move(s)",
			m.Name, mr.Adds, mr.Removes, mr.Moves)
		return mr
	}

	applied, err := s.Remote.Apply(ctx, playlistID, current, res.Plan)
	mr.Applied = applied
	if err != nil {
		var partial *remote.PartialApplyError
		if errors.As(err, &partial) {
			// Already-applied ops stay; the next run's diff corrects
			// the remainder.
			s.Log.Warn("mirror %s: %v", m.Name, partial)
		}
		mr.Err = err
		return mr
	}
	s.Log.Info("mirror %s: applied %d operation(s)", m.Name, applied)
	return mr
}

// collectLocals enriches the crate's tracks and drops the entries a run
// cannot or should not mirror. Missing files also lose their mapping's
// active flag so recovery sees them.
func (s *Syncer) collectLocals(ctx context.Context, tracks []crate.Track, opts Options, mr *MirrorReport) []crate.Track {
	enrich := s.Enrich
	if enrich == nil {
		enrich = probe.Enrich
	}
	exists := s.Exists
	if exists == nil {
		exists = probe.Exists
	}

	var locals []crate.Track
	for _, t := range tracks {
		if !exists(t.Path) {
			mr.Missing++
			s.Log.Warn("crate entry %s has no local file", t.Path)
			if !opts.DryRun {
				if err := s.Store.MarkStale(ctx, t.Path); err != nil {
					s.Log.Warn("could not mark %s stale: %v", t.Path, err)
				}
			}
			continue
		}
		enrich(&t)
		if opts.MaxBitrate > 0 && t.Bitrate > opts.MaxBitrate {
			mr.Skipped++
			s.Log.Debug("skipping %s: %dk exceeds the %dk limit", t.Path, t.Bitrate, opts.MaxBitrate)
			continue
		}
		locals = append(locals, t)
	}
	return locals
}

// ensurePlaylist resolves the mirror's playlist and its current track order,
// creating the playlist when it never existed or was deleted remotely. In
// dry-run mode a missing playlist is simulated as empty.
func (s *Syncer) ensurePlaylist(ctx context.Context, m store.Mirror, dryRun bool) (playlistID string, current []string, created bool, err error) {
	playlistID = m.PlaylistID

	if playlistID != "" {
		current, err = s.Remote.PlaylistTracks(ctx, playlistID)
		switch {
		case errors.Is(err, remote.ErrPlaylistGone):
			s.Log.Warn("playlist for %s was deleted remotely, recreating", m.Name)
			playlistID = ""
			current = nil
		case err != nil:
			return "", nil, false, fmt.Errorf("fetch playlist: %w", err)
		}
	}

	if playlistID == "" {
		if dryRun {
			return "", nil, false, nil
		}
		folder := m.Folder
		if folder == "" {
			folder = s.Folder
		}
		playlistID, err = s.Remote.CreatePlaylist(ctx, m.Name, "Mirror of Serato crate "+crate.Name(m.CratePath), folder)
		if err != nil {
			return "", nil, false, fmt.Errorf("create playlist: %w", err)
		}
		if err := s.Store.SetMirrorPlaylist(ctx, m.CratePath, playlistID); err != nil {
			return "", nil, false, fmt.Errorf("record playlist id: %w", err)
		}
		s.Log.Info("created playlist %s for %s", playlistID, m.Name)
		created = true
	}
	return playlistID, current, created, nil
}

// readOnly makes dry runs side-effect free: lookups pass through, writes
// vanish.
type readOnly struct {
	Store
}

func (readOnly) Upsert(context.Context, store.Mapping) error             { return nil }
func (readOnly) MarkStale(context.Context, string) error                 { return nil }
func (readOnly) SetMirrorPlaylist(context.Context, string, string) error { return nil }

// RunLock serializes sync and recovery runs touching the same database.
// Returns an error immediately when another process holds the lock.
func RunLock(dbPath string) (*flock.Flock, error) {
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another run holds %s", lock.Path())
	}
	return lock, nil
}
