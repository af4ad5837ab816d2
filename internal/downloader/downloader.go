// Package downloader drives the external tidal-dl-ng process used to
// re-acquire audio. The tool drops files under its own download directory
// with names of its choosing, so each download is detected by snapshotting
// the directory before and after the run.
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"cratemirror/internal/logger"
	"cratemirror/internal/remote"
)

// Audio formats tidal-dl-ng can produce.
var audioExtensions = map[string]bool{
	".flac": true,
	".mp3":  true,
	".m4a":  true,
	".mp4":  true,
	".wav":  true,
}

// Runner wraps one configured downloader endpoint. The binary and download
// directory are explicit configuration, never an environment lookup.
type Runner struct {
	Binary      string
	DownloadDir string
	Logger      *logger.Logger
}

// New creates a Runner.
func New(binary, downloadDir string, log *logger.Logger) *Runner {
	return &Runner{Binary: binary, DownloadDir: downloadDir, Logger: log}
}

// Check verifies the downloader binary is installed.
func (r *Runner) Check() error {
	if _, err := exec.LookPath(r.Binary); err != nil {
		return fmt.Errorf("downloader %q not found in PATH (install tidal-dl-ng first)", r.Binary)
	}
	return nil
}

// ConfigureQuality sets the tool's audio quality before a batch. tidal-dl-ng
// has no per-download quality flag; the setting is global to its config.
func (r *Runner) ConfigureQuality(ctx context.Context, quality remote.Quality) error {
	cmd := exec.CommandContext(ctx, r.Binary, "cfg", "quality_audio", string(quality))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("configure downloader quality %s: %w\n%s", quality, err, stderr.String())
	}
	r.Logger.Debug("downloader quality set to %s", quality)
	return nil
}

// Download fetches one remote track and returns the path of the file the
// tool produced. The caller moves it to its final location.
func (r *Runner) Download(ctx context.Context, remoteID string) (string, error) {
	if err := os.MkdirAll(r.DownloadDir, 0755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}

	before, err := r.snapshot()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("https://tidal.com/track/%s", remoteID)
	cmd := exec.CommandContext(ctx, r.Binary, "dl", url)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if r.Logger.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("download cancelled")
		}
		return "", fmt.Errorf("download track %s: %w\n%s", remoteID, err, stderr.String())
	}

	after, err := r.snapshot()
	if err != nil {
		return "", err
	}

	produced := newFiles(before, after)
	if len(produced) == 0 {
		return "", fmt.Errorf("download track %s: tool reported success but produced no new audio file under %s", remoteID, r.DownloadDir)
	}
	if len(produced) > 1 {
		r.Logger.Warn("download of %s produced %d files, using %s", remoteID, len(produced), produced[0])
	}
	return produced[0], nil
}

// snapshot lists the audio files currently under the download directory.
func (r *Runner) snapshot() (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.Walk(r.DownloadDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		if audioExtensions[strings.ToLower(filepath.Ext(path))] {
			files[path] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan download directory %s: %w", r.DownloadDir, err)
	}
	return files, nil
}

// newFiles returns the paths present in after but not before, sorted for a
// deterministic pick.
func newFiles(before, after map[string]bool) []string {
	var out []string
	for path := range after {
		if !before[path] {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}
