// Package reconcile aligns a remote playlist with a local crate: it resolves
// each local track to a remote identity (mapping cache first, catalog search
// second) and diffs the two orderings into a minimal edit plan.
package reconcile

import (
	"context"
	"fmt"

	"cratemirror/internal/crate"
	"cratemirror/internal/logger"
	"cratemirror/internal/match"
	"cratemirror/internal/remote"
	"cratemirror/internal/store"
)

// Catalog searches the remote service for track candidates. Zero results and
// unordered results are both fine.
type Catalog interface {
	Search(ctx context.Context, title, artist string) ([]remote.Track, error)
}

// MappingStore is the slice of the store the engine needs.
type MappingStore interface {
	Get(ctx context.Context, localPath string) (*store.Mapping, error)
	Upsert(ctx context.Context, m store.Mapping) error
}

// Unmatched is a local track the run could not resolve. Never silently
// dropped: the caller reports these.
type Unmatched struct {
	Path   string
	Title  string
	Artist string
	Reason string
}

// Result is the outcome of one reconciliation.
type Result struct {
	Plan       Plan
	Desired    []string // remote IDs in crate order
	Matched    int
	CacheHits  int
	Unmatched  []Unmatched
	Duplicates []string // local paths whose remote ID already appeared earlier in the crate
}

// Engine consumes the matcher and the mapping store to reconcile one crate
// at a time.
type Engine struct {
	store   MappingStore
	catalog Catalog
	matcher match.Config
	log     *logger.Logger
}

// New creates a reconciliation engine.
func New(st MappingStore, catalog Catalog, matcher match.Config, log *logger.Logger) *Engine {
	return &Engine{store: st, catalog: catalog, matcher: matcher, log: log}
}

// Reconcile resolves the crate's tracks and returns the edit plan aligning
// the current playlist order with the crate order. A catalog failure for one
// track degrades that track to unmatched; a store failure aborts the run and
// the partial plan is discarded.
func (e *Engine) Reconcile(ctx context.Context, locals []crate.Track, current []string) (*Result, error) {
	result := &Result{}
	seen := make(map[string]bool, len(locals))

	for _, local := range locals {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("reconciliation cancelled: %w", ctx.Err())
		default:
		}

		id, ok, err := e.resolve(ctx, local, result)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if seen[id] {
			result.Duplicates = append(result.Duplicates, local.Path)
			e.log.Debug("crate entry %s resolves to %s, already in the desired order", local.Path, id)
			continue
		}
		seen[id] = true
		result.Desired = append(result.Desired, id)
		result.Matched++
	}

	result.Plan = Diff(result.Desired, current)
	return result, nil
}

// resolve maps one local track to a remote ID. The returned error is fatal
// to the run (store failures only).
func (e *Engine) resolve(ctx context.Context, local crate.Track, result *Result) (string, bool, error) {
	mapping, err := e.store.Get(ctx, local.Path)
	if err != nil {
		return "", false, fmt.Errorf("mapping store lookup for %s: %w", local.Path, err)
	}
	if mapping != nil {
		result.CacheHits++
		// Re-confirm the pair so last_seen tracks the runs that saw it.
		refresh := *mapping
		refresh.Bitrate = local.Bitrate
		if err := e.store.Upsert(ctx, refresh); err != nil {
			return "", false, fmt.Errorf("mapping store refresh for %s: %w", local.Path, err)
		}
		return mapping.RemoteID, true, nil
	}

	candidates, err := e.catalog.Search(ctx, match.CleanTitle(local.Title), local.Artist)
	if err != nil {
		e.log.Warn("catalog search failed for %s - %s: %v", local.Artist, local.Title, err)
		result.Unmatched = append(result.Unmatched, Unmatched{
			Path: local.Path, Title: local.Title, Artist: local.Artist,
			Reason: fmt.Sprintf("search failed: %v", err),
		})
		return "", false, nil
	}

	best, ok := match.Best(local, candidates, e.matcher)
	if !ok {
		result.Unmatched = append(result.Unmatched, Unmatched{
			Path: local.Path, Title: local.Title, Artist: local.Artist,
			Reason: "no candidate above the confidence threshold",
		})
		return "", false, nil
	}

	if err := e.store.Upsert(ctx, store.Mapping{
		LocalPath:  local.Path,
		RemoteID:   best.Track.ID,
		Confidence: best.Confidence,
		Bitrate:    local.Bitrate,
	}); err != nil {
		return "", false, fmt.Errorf("mapping store write for %s: %w", local.Path, err)
	}

	e.log.Debug("mapped %s -> %s (confidence %.2f)", local.Path, best.Track.ID, best.Confidence)
	return best.Track.ID, true, nil
}
