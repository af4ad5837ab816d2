package downloader

import (
	"os"
	"path/filepath"
	"testing"

	"cratemirror/internal/logger"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotFiltersToAudio(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Tracks", "a.flac"))
	touch(t, filepath.Join(dir, "Tracks", "cover.jpg"))
	touch(t, filepath.Join(dir, "Tracks", ".hidden.flac"))
	touch(t, filepath.Join(dir, "b.MP3"))

	r := New("tidal-dl-ng", dir, logger.New(false))
	files, err := r.snapshot()
	if err != nil {
		t.Fatalf("snapshot() error: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("snapshot() found %d files, want 2: %v", len(files), files)
	}
	if !files[filepath.Join(dir, "Tracks", "a.flac")] {
		t.Error("snapshot() missed a.flac")
	}
	if !files[filepath.Join(dir, "b.MP3")] {
		t.Error("snapshot() missed b.MP3 (extension case)")
	}
}

func TestNewFiles(t *testing.T) {
	before := map[string]bool{"/d/a.flac": true}
	after := map[string]bool{"/d/a.flac": true, "/d/c.flac": true, "/d/b.flac": true}

	got := newFiles(before, after)
	if len(got) != 2 || got[0] != "/d/b.flac" || got[1] != "/d/c.flac" {
		t.Errorf("newFiles() = %v, want sorted [/d/b.flac /d/c.flac]", got)
	}

	if got := newFiles(after, after); got != nil {
		t.Errorf("newFiles() with no delta = %v, want nil", got)
	}
}
