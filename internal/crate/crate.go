// Package crate reads and rewrites Serato crate files.
//
// A crate is a sequence of big-endian tag/length/value records. Track entries
// live in "otrk" container records whose "ptrk" child holds the file path as
// UTF-16BE text. Serato stores paths without the leading slash.
package crate

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf16"
)

const Extension = ".crate"

// ParseError reports a malformed crate file. A parse failure is fatal for
// that crate only; other crates keep processing.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse crate %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Read parses a crate file into its ordered track list. Titles and artists
// are derived from filenames; callers enrich them from audio tags when the
// files are readable.
func Read(path string) ([]Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crate %s: %w", path, err)
	}

	var tracks []Track
	err = walkRecords(data, func(tag string, value []byte) error {
		if tag != "otrk" {
			return nil
		}
		return walkRecords(value, func(sub string, subValue []byte) error {
			if sub != "ptrk" {
				return nil
			}
			p, err := decodePath(subValue)
			if err != nil {
				return err
			}
			tracks = append(tracks, TrackFromPath(p))
			return nil
		})
	})
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return tracks, nil
}

// walkRecords iterates tag/length/value records, calling fn for each.
func walkRecords(data []byte, fn func(tag string, value []byte) error) error {
	pos := 0
	for pos < len(data) {
		if pos+8 > len(data) {
			return fmt.Errorf("truncated record header at offset %d", pos)
		}
		tag := string(data[pos : pos+4])
		length := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		if pos+8+length > len(data) {
			return fmt.Errorf("record %q at offset %d overruns file", tag, pos)
		}
		if err := fn(tag, data[pos+8:pos+8+length]); err != nil {
			return err
		}
		pos += 8 + length
	}
	return nil
}

func decodePath(value []byte) (string, error) {
	if len(value)%2 != 0 {
		return "", fmt.Errorf("odd-length UTF-16 path value")
	}
	codes := make([]uint16, len(value)/2)
	for i := range codes {
		codes[i] = binary.BigEndian.Uint16(value[2*i : 2*i+2])
	}
	p := strings.Trim(string(utf16.Decode(codes)), "\x00")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p, nil
}

func encodePath(p string) []byte {
	p = strings.TrimPrefix(p, "/")
	codes := utf16.Encode([]rune(p))
	out := make([]byte, len(codes)*2)
	for i, c := range codes {
		binary.BigEndian.PutUint16(out[2*i:], c)
	}
	return out
}

// List returns the crate files under a Serato directory, sorted by name.
func List(seratoDir string) ([]string, error) {
	subcrates := filepath.Join(seratoDir, "Subcrates")
	entries, err := os.ReadDir(subcrates)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list crates in %s: %w", subcrates, err)
	}

	var crates []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}
		crates = append(crates, filepath.Join(subcrates, entry.Name()))
	}
	sort.Strings(crates)
	return crates, nil
}

// Name returns the display name of a crate file (its stem).
func Name(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// ReplacePath rewrites every reference to oldPath inside a crate file to
// newPath, preserving all other records byte for byte. It reports whether
// the file was modified.
func ReplacePath(cratePath, oldPath, newPath string) (bool, error) {
	data, err := os.ReadFile(cratePath)
	if err != nil {
		return false, fmt.Errorf("read crate %s: %w", cratePath, err)
	}

	oldNorm := strings.TrimPrefix(oldPath, "/")
	modified := false
	var out []byte

	err = walkRecords(data, func(tag string, value []byte) error {
		if tag != "otrk" {
			out = appendRecord(out, tag, value)
			return nil
		}
		var newValue []byte
		if err := walkRecords(value, func(sub string, subValue []byte) error {
			if sub == "ptrk" {
				p, err := decodePath(subValue)
				if err != nil {
					return err
				}
				if strings.TrimPrefix(p, "/") == oldNorm {
					newValue = appendRecord(newValue, sub, encodePath(newPath))
					modified = true
					return nil
				}
			}
			newValue = appendRecord(newValue, sub, subValue)
			return nil
		}); err != nil {
			return err
		}
		out = appendRecord(out, tag, newValue)
		return nil
	})
	if err != nil {
		return false, &ParseError{Path: cratePath, Err: err}
	}

	if !modified {
		return false, nil
	}
	if err := os.WriteFile(cratePath, out, 0644); err != nil {
		return false, fmt.Errorf("rewrite crate %s: %w", cratePath, err)
	}
	return true, nil
}

// ReplacePathAll applies ReplacePath to every crate under seratoDir and
// returns the names of the crates that changed.
func ReplacePathAll(seratoDir, oldPath, newPath string) ([]string, error) {
	crates, err := List(seratoDir)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, c := range crates {
		ok, err := ReplacePath(c, oldPath, newPath)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, Name(c))
		}
	}
	return changed, nil
}

func appendRecord(dst []byte, tag string, value []byte) []byte {
	dst = append(dst, tag...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, value...)
}
