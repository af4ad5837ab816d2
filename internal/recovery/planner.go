// Package recovery re-acquires audio for mapped tracks that are locally
// missing or below a bitrate threshold, by driving the external downloader.
package recovery

import (
	"context"
	"fmt"

	"cratemirror/internal/logger"
	"cratemirror/internal/probe"
	"cratemirror/internal/remote"
	"cratemirror/internal/store"
)

// MappingStore is the slice of the store recovery needs.
type MappingStore interface {
	All(ctx context.Context) ([]store.Mapping, error)
	Upsert(ctx context.Context, m store.Mapping) error
	MarkStale(ctx context.Context, localPath string) error
}

// Prober answers local-file questions.
type Prober interface {
	Exists(path string) bool
	Measure(path string) (int, bool)
}

// FS probes the real filesystem.
type FS struct{}

func (FS) Exists(path string) bool         { return probe.Exists(path) }
func (FS) Measure(path string) (int, bool) { return probe.Measure(path) }

// Item is one track to re-download.
type Item struct {
	LocalPath string // intended final location
	RemoteID  string
	Reason    string // why it qualified, for reporting
}

// Job is the computed download work list. Ephemeral: consumed by Run and
// discarded.
type Job struct {
	Quality remote.Quality
	Items   []Item
}

// Planner computes recovery jobs from the mapping store.
type Planner struct {
	store MappingStore
	probe Prober
	log   *logger.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(st MappingStore, pr Prober, log *logger.Logger) *Planner {
	return &Planner{store: st, probe: pr, log: log}
}

// Plan scans every mapping and selects the tracks needing recovery: absent
// locally, or present with a measured bitrate strictly below maxBitrate
// (when non-zero). Selection deduplicates by remote ID, so a track queued
// under one crate is not re-queued for another.
func (p *Planner) Plan(ctx context.Context, maxBitrate int, quality remote.Quality) (*Job, error) {
	mappings, err := p.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("mapping store scan: %w", err)
	}

	job := &Job{Quality: quality}
	queued := make(map[string]bool)

	for _, m := range mappings {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("recovery planning cancelled: %w", ctx.Err())
		default:
		}

		if queued[m.RemoteID] {
			continue
		}

		reason, qualifies := p.qualify(m, maxBitrate)
		if !qualifies {
			continue
		}
		queued[m.RemoteID] = true
		job.Items = append(job.Items, Item{LocalPath: m.LocalPath, RemoteID: m.RemoteID, Reason: reason})
	}

	p.log.Debug("recovery plan: %d of %d mappings qualify", len(job.Items), len(mappings))
	return job, nil
}

func (p *Planner) qualify(m store.Mapping, maxBitrate int) (string, bool) {
	if !p.probe.Exists(m.LocalPath) {
		return "file missing", true
	}
	if maxBitrate <= 0 {
		return "", false
	}
	kbps, ok := p.probe.Measure(m.LocalPath)
	if !ok {
		p.log.Warn("cannot measure bitrate of %s, leaving it alone", m.LocalPath)
		return "", false
	}
	if kbps < maxBitrate {
		return fmt.Sprintf("bitrate %dk below %dk", kbps, maxBitrate), true
	}
	return "", false
}
