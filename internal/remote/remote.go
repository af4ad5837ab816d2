// Package remote holds the value types exchanged with the streaming-service
// collaborators. The core never touches the wire format; clients translate
// their responses into these types.
package remote

import (
	"errors"
	"fmt"
	"time"
)

// Quality is an audio quality tier offered by the remote service.
type Quality string

const (
	QualityLow           Quality = "LOW"
	QualityNormal        Quality = "NORMAL"
	QualityHigh          Quality = "HIGH"
	QualityLossless      Quality = "LOSSLESS"
	QualityHiResLossless Quality = "HI_RES_LOSSLESS"
)

// Qualities lists the accepted tiers in ascending order.
var Qualities = []Quality{QualityLow, QualityNormal, QualityHigh, QualityLossless, QualityHiResLossless}

// ParseQuality validates a user-supplied quality name.
func ParseQuality(s string) (Quality, error) {
	for _, q := range Qualities {
		if string(q) == s {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown quality %q, valid tiers: %v", s, Qualities)
}

// Track is a remote catalog or playlist entry, read-only to the core.
type Track struct {
	ID       string // opaque, unique within the service
	Title    string
	Artist   string
	Duration time.Duration
	Tiers    []Quality // quality tiers the service offers for this track
}

// ErrPlaylistGone reports a mirror playlist deleted server-side. Callers
// recreate the playlist and let the next run repopulate it.
var ErrPlaylistGone = errors.New("playlist no longer exists")

// PartialApplyError reports that a playlist mutation batch stopped midway.
// Operations already applied stay applied; the next run's diff corrects any
// residual skew.
type PartialApplyError struct {
	Applied int
	Total   int
	Err     error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("playlist mutation applied %d of %d operations: %v", e.Applied, e.Total, e.Err)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }
