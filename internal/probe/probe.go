// Package probe inspects local audio files: bitrate and duration from the
// stream properties, title and artist from the tags. Unreadable files are
// reported as unknown, never as errors; a missing file is a normal state for
// this tool.
package probe

import (
	"fmt"
	"os"
	"strings"

	"go.senan.xyz/taglib"

	"cratemirror/internal/crate"
)

// Measure returns a file's bitrate in kbps. ok is false when the file is
// unreadable or its format unsupported.
func Measure(path string) (int, bool) {
	props, err := taglib.ReadProperties(path)
	if err != nil || props.Bitrate == 0 {
		return 0, false
	}
	return int(props.Bitrate), true
}

// Exists reports whether the local file is present.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Enrich overlays tag and stream data onto a filename-derived track.
// Missing or untagged files keep their filename guesses.
func Enrich(t *crate.Track) {
	if props, err := taglib.ReadProperties(t.Path); err == nil {
		t.Duration = props.Length
		t.Bitrate = int(props.Bitrate)
	}

	tags, err := taglib.ReadTags(t.Path)
	if err != nil {
		return
	}
	if title := firstTag(tags, taglib.Title); title != "" {
		t.Title = title
	}
	if artist := firstTag(tags, taglib.Artist); artist != "" {
		t.Artist = artist
	}
}

// DJ-relevant tags carried over when recovery replaces a file: musical key,
// tempo, composer credits and any Serato-namespaced analysis blobs.
var clonedTagKeys = []string{"INITIALKEY", "BPM", "COMPOSER"}

// CloneDJTags copies performance metadata from the old file onto its
// replacement, so cue analysis done on the old copy is not lost.
func CloneDJTags(src, dst string) error {
	srcTags, err := taglib.ReadTags(src)
	if err != nil {
		return fmt.Errorf("read tags from %s: %w", src, err)
	}

	out := make(map[string][]string)
	for _, key := range clonedTagKeys {
		if vals, ok := srcTags[key]; ok && len(vals) > 0 {
			out[key] = vals
		}
	}
	for key, vals := range srcTags {
		if strings.HasPrefix(strings.ToUpper(key), "SERATO") && len(vals) > 0 {
			out[key] = vals
		}
	}
	if len(out) == 0 {
		return nil
	}

	if err := taglib.WriteTags(dst, out, 0); err != nil {
		return fmt.Errorf("write tags to %s: %w", dst, err)
	}
	return nil
}

func firstTag(tags map[string][]string, key string) string {
	if vals, ok := tags[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}
