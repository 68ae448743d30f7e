// Package window maps wall-clock time onto trading-window identifiers at
// 15-minute or hourly granularity. All functions are pure; windows are
// aligned to UTC.
package window

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// Duration returns the wall-clock length of one window.
func Duration(g domain.Granularity) time.Duration {
	if g == domain.Granularity15Min {
		return 15 * time.Minute
	}
	return time.Hour
}

// Key returns the opaque identifier of the window containing now. Keys are
// monotonically comparable by wall clock: a later window always has a
// lexicographically larger key.
func Key(now time.Time, g domain.Granularity) string {
	t := now.UTC()
	switch g {
	case domain.Granularity15Min:
		bucket := (t.Minute() / 15) * 15
		return fmt.Sprintf("%s-%02d:%02d", t.Format("2006-01-02"), t.Hour(), bucket)
	default:
		return fmt.Sprintf("%s-%02d", t.Format("2006-01-02"), t.Hour())
	}
}

// Start returns the instant the window containing now began.
func Start(now time.Time, g domain.Granularity) time.Time {
	t := now.UTC()
	if g == domain.Granularity15Min {
		return t.Truncate(15 * time.Minute)
	}
	return t.Truncate(time.Hour)
}

// End returns the instant the window containing now settles.
func End(now time.Time, g domain.Granularity) time.Time {
	return Start(now, g).Add(Duration(g))
}

// MinutesRemaining returns the fractional minutes left until the window
// containing now settles.
func MinutesRemaining(now time.Time, g domain.Granularity) float64 {
	return End(now, g).Sub(now.UTC()).Minutes()
}
