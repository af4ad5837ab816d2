package crate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Track describes one entry of a crate as seen on the local filesystem.
// It is a per-run snapshot: nothing here is persisted except through the
// mapping it later produces.
type Track struct {
	Path     string // absolute path of the audio file
	Title    string
	Artist   string
	Duration time.Duration
	Bitrate  int // kbps, 0 until probed
}

// Pattern for "NN. Artist - Title.ext" style filenames, the naming scheme
// most DJ libraries follow. The leading track number is optional.
var filenamePattern = regexp.MustCompile(`^(?:\d+\.\s*)?(.+?)\s*-\s*(.+)$`)

// NewTrack builds a validated Track for callers that already hold the
// descriptor fields, such as rows of an imported track list. Title and
// artist must be non-empty and the duration non-negative; the path may be
// empty when no local file backs the track. Callers that only know the file
// path should use TrackFromPath instead.
func NewTrack(path, title, artist string, duration time.Duration) (Track, error) {
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)
	if title == "" {
		return Track{}, fmt.Errorf("track title cannot be empty")
	}
	if artist == "" {
		return Track{}, fmt.Errorf("track %q: artist cannot be empty", title)
	}
	if duration < 0 {
		return Track{}, fmt.Errorf("track %q: negative duration %s", title, duration)
	}
	return Track{Path: path, Title: title, Artist: artist, Duration: duration}, nil
}

// TrackFromPath builds a Track with title and artist guessed from the
// filename. Audio tags, when readable, take precedence later; the filename
// guess keeps missing files matchable.
func TrackFromPath(path string) Track {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	title := stem
	artist := ""
	if m := filenamePattern.FindStringSubmatch(stem); m != nil {
		artist = strings.TrimSpace(m[1])
		title = strings.TrimSpace(m[2])
	}

	return Track{Path: path, Title: title, Artist: artist}
}
