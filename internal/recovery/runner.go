package recovery

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"cratemirror/internal/logger"
	"cratemirror/internal/remote"
	"cratemirror/internal/store"
	"cratemirror/pkg/utils"
)

// TrackDownloader is what the Runner needs from the downloader process.
type TrackDownloader interface {
	ConfigureQuality(ctx context.Context, quality remote.Quality) error
	Download(ctx context.Context, remoteID string) (string, error)
}

// ItemResult reports one processed item.
type ItemResult struct {
	Item
	FinalPath string
	Err       error
}

// Report summarizes a recovery run.
type Report struct {
	DryRun    bool
	Planned   []Item
	Recovered []ItemResult
	Failed    []ItemResult
}

// Runner executes recovery jobs. Hooks keep the crate-rewriting and
// tag-cloning side effects injectable.
type Runner struct {
	Store      MappingStore
	Probe      Prober
	Downloader TrackDownloader
	Log        *logger.Logger

	// RewriteCrates updates crate files when a recovered track lands under
	// a new name (extension change). Optional.
	RewriteCrates func(oldPath, newPath string) ([]string, error)
	// CloneTags copies DJ metadata from the replaced file. Optional.
	CloneTags func(src, dst string) error
	// MoveFile relocates the downloaded file; defaults to utils.MoveFile.
	MoveFile func(src, dst string) error
	// OnItem is called after each processed item. Optional.
	OnItem func(ItemResult)
}

// Run executes a job. With dryRun the job is only reported: the downloader
// is never invoked and the store never mutated. Per-track failures are
// collected, not retried; re-running recovery is the retry mechanism.
func (r *Runner) Run(ctx context.Context, job *Job, dryRun bool) (*Report, error) {
	report := &Report{DryRun: dryRun, Planned: job.Items}
	if dryRun || len(job.Items) == 0 {
		return report, nil
	}

	if err := r.Downloader.ConfigureQuality(ctx, job.Quality); err != nil {
		return nil, err
	}

	for _, item := range job.Items {
		select {
		case <-ctx.Done():
			return report, fmt.Errorf("recovery cancelled: %w", ctx.Err())
		default:
		}

		finalPath, err := r.recoverOne(ctx, item)
		res := ItemResult{Item: item, FinalPath: finalPath, Err: err}
		if err != nil {
			r.Log.Warn("recovery of %s failed: %v", item.LocalPath, err)
			report.Failed = append(report.Failed, res)
		} else {
			report.Recovered = append(report.Recovered, res)
		}
		if r.OnItem != nil {
			r.OnItem(res)
		}
	}
	return report, nil
}

func (r *Runner) recoverOne(ctx context.Context, item Item) (string, error) {
	downloaded, err := r.Downloader.Download(ctx, item.RemoteID)
	if err != nil {
		return "", err
	}

	// The tool picks the container; keep the intended name, adopt the
	// downloaded extension.
	intended := item.LocalPath
	finalPath := strings.TrimSuffix(intended, filepath.Ext(intended)) + filepath.Ext(downloaded)

	hadOriginal := r.Probe.Exists(intended)
	if hadOriginal && r.CloneTags != nil {
		if err := r.CloneTags(intended, downloaded); err != nil {
			r.Log.Warn("could not clone DJ tags onto %s: %v", downloaded, err)
		}
	}
	if hadOriginal {
		backup := filepath.Join(filepath.Dir(intended), "BACKUP-"+filepath.Base(intended))
		if err := r.moveFile(intended, backup); err != nil {
			return "", fmt.Errorf("back up replaced file: %w", err)
		}
	}

	if err := r.moveFile(downloaded, finalPath); err != nil {
		return "", fmt.Errorf("install recovered file: %w", err)
	}

	if finalPath != intended {
		if r.RewriteCrates != nil {
			changed, err := r.RewriteCrates(intended, finalPath)
			if err != nil {
				r.Log.Warn("crate rewrite for %s: %v", finalPath, err)
			} else if len(changed) > 0 {
				r.Log.Info("updated %d crate(s) to reference %s", len(changed), filepath.Base(finalPath))
			}
		}
		if err := r.Store.MarkStale(ctx, intended); err != nil {
			return "", fmt.Errorf("mapping store: %w", err)
		}
	}

	bitrate, _ := r.Probe.Measure(finalPath)
	mapping := store.Mapping{LocalPath: finalPath, RemoteID: item.RemoteID, Confidence: 1, Bitrate: bitrate}
	if err := r.Store.Upsert(ctx, mapping); err != nil {
		return "", fmt.Errorf("mapping store: %w", err)
	}
	return finalPath, nil
}

func (r *Runner) moveFile(src, dst string) error {
	if r.MoveFile != nil {
		return r.MoveFile(src, dst)
	}
	return utils.MoveFile(src, dst)
}
