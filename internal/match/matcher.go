// Package match resolves a local track's (title, artist, duration) tuple to
// a remote catalog candidate with a confidence score. Matching is a pure
// function of its inputs: no I/O, no store writes, callers decide whether to
// persist the result.
package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"

	"cratemirror/internal/crate"
	"cratemirror/internal/remote"
)

// Config carries the matching knobs. The exact figures are deliberately
// configuration, tuned against real catalogs rather than hard-coded.
type Config struct {
	TitleWeight    float64 `yaml:"title_weight"`
	ArtistWeight   float64 `yaml:"artist_weight"`
	DurationWeight float64 `yaml:"duration_weight"`

	// AcceptThreshold is the minimum combined score for a match to count.
	// Below it the track is reported unmatched rather than risking a wrong
	// mapping.
	AcceptThreshold float64 `yaml:"accept_threshold"`

	// DurationTolerance is the window that still earns a full duration
	// score. DurationCutoff excludes a candidate outright: a delta at or
	// beyond it disqualifies regardless of how well the strings agree.
	DurationTolerance time.Duration `yaml:"duration_tolerance"`
	DurationCutoff    time.Duration `yaml:"duration_cutoff"`
}

// UnmarshalYAML accepts Go duration strings ("3s") for the tolerance knobs
// and keeps existing values for keys the file leaves out.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		TitleWeight       *float64 `yaml:"title_weight"`
		ArtistWeight      *float64 `yaml:"artist_weight"`
		DurationWeight    *float64 `yaml:"duration_weight"`
		AcceptThreshold   *float64 `yaml:"accept_threshold"`
		DurationTolerance string   `yaml:"duration_tolerance"`
		DurationCutoff    string   `yaml:"duration_cutoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.TitleWeight != nil {
		c.TitleWeight = *raw.TitleWeight
	}
	if raw.ArtistWeight != nil {
		c.ArtistWeight = *raw.ArtistWeight
	}
	if raw.DurationWeight != nil {
		c.DurationWeight = *raw.DurationWeight
	}
	if raw.AcceptThreshold != nil {
		c.AcceptThreshold = *raw.AcceptThreshold
	}
	if raw.DurationTolerance != "" {
		d, err := time.ParseDuration(raw.DurationTolerance)
		if err != nil {
			return fmt.Errorf("duration_tolerance: %w", err)
		}
		c.DurationTolerance = d
	}
	if raw.DurationCutoff != "" {
		d, err := time.ParseDuration(raw.DurationCutoff)
		if err != nil {
			return fmt.Errorf("duration_cutoff: %w", err)
		}
		c.DurationCutoff = d
	}
	return nil
}

// MarshalYAML writes the tolerance knobs as duration strings so a saved
// config round-trips.
func (c Config) MarshalYAML() (interface{}, error) {
	return struct {
		TitleWeight       float64 `yaml:"title_weight"`
		ArtistWeight      float64 `yaml:"artist_weight"`
		DurationWeight    float64 `yaml:"duration_weight"`
		AcceptThreshold   float64 `yaml:"accept_threshold"`
		DurationTolerance string  `yaml:"duration_tolerance"`
		DurationCutoff    string  `yaml:"duration_cutoff"`
	}{
		TitleWeight:       c.TitleWeight,
		ArtistWeight:      c.ArtistWeight,
		DurationWeight:    c.DurationWeight,
		AcceptThreshold:   c.AcceptThreshold,
		DurationTolerance: c.DurationTolerance.String(),
		DurationCutoff:    c.DurationCutoff.String(),
	}, nil
}

// DefaultConfig returns the defaults used when the config file stays silent.
func DefaultConfig() Config {
	return Config{
		TitleWeight:       0.45,
		ArtistWeight:      0.35,
		DurationWeight:    0.20,
		AcceptThreshold:   0.70,
		DurationTolerance: 3 * time.Second,
		DurationCutoff:    10 * time.Second,
	}
}

// Validate rejects configurations that cannot score anything.
func (c Config) Validate() error {
	if c.TitleWeight <= 0 {
		return fmt.Errorf("title_weight must be positive, got %v", c.TitleWeight)
	}
	if c.ArtistWeight < 0 || c.DurationWeight < 0 {
		return fmt.Errorf("weights cannot be negative")
	}
	if c.AcceptThreshold < 0 || c.AcceptThreshold > 1 {
		return fmt.Errorf("accept_threshold must be within [0,1], got %v", c.AcceptThreshold)
	}
	if c.DurationCutoff <= c.DurationTolerance {
		return fmt.Errorf("duration_cutoff (%v) must exceed duration_tolerance (%v)", c.DurationCutoff, c.DurationTolerance)
	}
	return nil
}

// Result is an accepted match.
type Result struct {
	Track      remote.Track
	Confidence float64
}

// Best scores every candidate against the local track and returns the
// winner, or ok=false when no candidate clears the acceptance threshold.
// Ties break on smaller duration delta, then on lexicographically smaller
// remote ID, so the outcome never depends on candidate order.
func Best(t crate.Track, candidates []remote.Track, cfg Config) (Result, bool) {
	const eps = 1e-9

	var (
		best      Result
		bestDelta time.Duration
		found     bool
	)
	for _, cand := range candidates {
		score, ok := Score(t, cand, cfg)
		if !ok {
			continue
		}
		delta := durationDelta(t.Duration, cand.Duration)
		switch {
		case !found,
			score > best.Confidence+eps,
			score > best.Confidence-eps && delta < bestDelta,
			score > best.Confidence-eps && delta == bestDelta && cand.ID < best.Track.ID:
			best = Result{Track: cand, Confidence: score}
			bestDelta = delta
			found = true
		}
	}

	if !found || best.Confidence < cfg.AcceptThreshold {
		return Result{}, false
	}
	return best, true
}

// Score computes the weighted similarity of one candidate in [0,1].
// ok is false when the duration delta disqualifies the candidate.
func Score(t crate.Track, cand remote.Track, cfg Config) (float64, bool) {
	durKnown := t.Duration > 0 && cand.Duration > 0

	var durScore float64
	if durKnown {
		delta := durationDelta(t.Duration, cand.Duration)
		if delta >= cfg.DurationCutoff {
			return 0, false
		}
		if delta <= cfg.DurationTolerance {
			durScore = 1
		} else {
			durScore = float64(cfg.DurationCutoff-delta) / float64(cfg.DurationCutoff-cfg.DurationTolerance)
		}
	}

	titleScore := similarity(normalizeTitle(t.Title), normalizeTitle(cand.Title))

	// Weights renormalize over the terms that can actually be scored, so a
	// track with no artist tag or unknown duration is not penalized for it.
	total := cfg.TitleWeight
	sum := cfg.TitleWeight * titleScore
	if t.Artist != "" {
		sum += cfg.ArtistWeight * similarity(normalizeArtist(t.Artist), normalizeArtist(cand.Artist))
		total += cfg.ArtistWeight
	}
	if durKnown {
		sum += cfg.DurationWeight * durScore
		total += cfg.DurationWeight
	}
	return sum / total, true
}

// similarity is a [0,1] string closeness built on edit distance over the
// folded forms, with a compact-equality shortcut for spacing differences.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.ReplaceAll(a, " ", "") == strings.ReplaceAll(b, " ", "") {
		return 1
	}

	dist := levenshtein.ComputeDistance(a, b)
	max := len([]rune(a))
	if l := len([]rune(b)); l > max {
		max = l
	}
	return 1 - float64(dist)/float64(max)
}

func durationDelta(a, b time.Duration) time.Duration {
	if a > b {
		return a - b
	}
	return b - a
}
