package crate

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf16"
)

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// buildCrate assembles a minimal crate file containing the given paths.
func buildCrate(t *testing.T, dir, name string, paths ...string) string {
	t.Helper()

	var data []byte
	data = appendRecord(data, "vrsn", encodeUTF16("1.0/Serato ScratchLive Crate"))
	for _, p := range paths {
		otrk := appendRecord(nil, "ptrk", encodeUTF16(trimSlash(p)))
		data = appendRecord(data, "otrk", otrk)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture crate: %v", err)
	}
	return path
}

func encodeUTF16(s string) []byte {
	codes := utf16.Encode([]rune(s))
	out := make([]byte, len(codes)*2)
	for i, c := range codes {
		binary.BigEndian.PutUint16(out[2*i:], c)
	}
	return out
}

func trimSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

func TestReadPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	path := buildCrate(t, dir, "House.crate",
		"/Music/01. Moderat - A New Error.mp3",
		"/Music/02. Bicep - Glue.flac",
		"/Music/Untagged.wav",
	)

	tracks, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("Read() returned %d tracks, want 3", len(tracks))
	}

	want := []struct {
		path, title, artist string
	}{
		{"/Music/01. Moderat - A New Error.mp3", "A New Error", "Moderat"},
		{"/Music/02. Bicep - Glue.flac", "Glue", "Bicep"},
		{"/Music/Untagged.wav", "Untagged", ""},
	}
	for i, w := range want {
		if tracks[i].Path != w.path {
			t.Errorf("track[%d].Path = %q, want %q", i, tracks[i].Path, w.path)
		}
		if tracks[i].Title != w.title {
			t.Errorf("track[%d].Title = %q, want %q", i, tracks[i].Title, w.title)
		}
		if tracks[i].Artist != w.artist {
			t.Errorf("track[%d].Artist = %q, want %q", i, tracks[i].Artist, w.artist)
		}
	}
}

func TestReadMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Broken.crate")
	// Record header declares more bytes than the file holds.
	data := []byte("otrk\x00\x00\xff\xff")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Read(path)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Read() error = %v, want *ParseError", err)
	}
}

func TestReplacePath(t *testing.T) {
	dir := t.TempDir()
	path := buildCrate(t, dir, "Techno.crate",
		"/Music/Old - Name.mp3",
		"/Music/Keep - Me.mp3",
	)

	modified, err := ReplacePath(path, "/Music/Old - Name.mp3", "/Music/New - Name.flac")
	if err != nil {
		t.Fatalf("ReplacePath() error: %v", err)
	}
	if !modified {
		t.Fatal("ReplacePath() reported no modification")
	}

	tracks, err := Read(path)
	if err != nil {
		t.Fatalf("Read() after rewrite: %v", err)
	}
	if tracks[0].Path != "/Music/New - Name.flac" {
		t.Errorf("rewritten path = %q, want %q", tracks[0].Path, "/Music/New - Name.flac")
	}
	if tracks[1].Path != "/Music/Keep - Me.mp3" {
		t.Errorf("untouched path = %q, want %q", tracks[1].Path, "/Music/Keep - Me.mp3")
	}

	// A second pass finds nothing to replace.
	modified, err = ReplacePath(path, "/Music/Old - Name.mp3", "/Music/New - Name.flac")
	if err != nil {
		t.Fatalf("ReplacePath() second pass: %v", err)
	}
	if modified {
		t.Error("ReplacePath() modified an already-rewritten crate")
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "Subcrates")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	buildCrate(t, sub, "B Side.crate", "/Music/a.mp3")
	buildCrate(t, sub, "Acid.crate", "/Music/b.mp3")
	if err := os.WriteFile(filepath.Join(sub, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	crates, err := List(dir)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(crates) != 2 {
		t.Fatalf("List() returned %d crates, want 2", len(crates))
	}
	if Name(crates[0]) != "Acid" || Name(crates[1]) != "B Side" {
		t.Errorf("List() order = [%s, %s], want [Acid, B Side]", Name(crates[0]), Name(crates[1]))
	}
}

func TestListMissingDir(t *testing.T) {
	crates, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("List() on missing dir: %v", err)
	}
	if crates != nil {
		t.Errorf("List() on missing dir = %v, want nil", crates)
	}
}

func TestNewTrackValidation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		title   string
		artist  string
		seconds int
		wantErr bool
	}{
		{"valid", "/m/a.mp3", "Glue", "Bicep", 269, false},
		{"pathless descriptor", "", "Glue", "Bicep", 269, false},
		{"empty title", "/m/a.mp3", "", "Bicep", 269, true},
		{"empty artist", "/m/a.mp3", "Glue", "", 269, true},
		{"whitespace title", "/m/a.mp3", "   ", "Bicep", 269, true},
		{"negative duration", "/m/a.mp3", "Glue", "Bicep", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTrack(tt.path, tt.title, tt.artist, secondsToDuration(tt.seconds))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTrack() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
