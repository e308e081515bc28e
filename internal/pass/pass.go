// Package pass holds the raw pass record shared by the pass sources and the
// ranking pipeline, along with the status tag describing where a batch of
// records came from.
package pass

import "time"

// MaxCount is the largest number of passes a single fetch may request. The
// remote prediction service refuses anything above it.
const MaxCount = 100

// RawPass is one predicted pass as delivered by a source: when the satellite
// rises above the observer's horizon and how long it stays up.
type RawPass struct {
	RiseTime        time.Time `json:"rise_time"`
	DurationSeconds int       `json:"duration_seconds"`
}

// Valid reports whether the record carries a usable rise time and duration.
func (p RawPass) Valid() bool {
	return !p.RiseTime.IsZero() && p.DurationSeconds >= 0
}

// Duration returns the pass length as a time.Duration.
func (p RawPass) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

// Data source tags.
const (
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// Status describes the origin of a batch of passes. Reason is empty for live
// data and explains the failover otherwise.
type Status struct {
	Source string `json:"source"`
	Reason string `json:"reason,omitempty"`
}

// Live returns the status of a successful remote fetch.
func Live() Status {
	return Status{Source: SourceLive}
}

// Fallback returns the status of a batch generated because the remote source
// was unusable for the given reason.
func Fallback(reason string) Status {
	return Status{Source: SourceFallback, Reason: reason}
}

// IsLive reports whether the batch came from the remote service.
func (s Status) IsLive() bool {
	return s.Source == SourceLive
}

// String renders the status as "live" or "fallback: <reason>".
func (s Status) String() string {
	if s.IsLive() {
		return SourceLive
	}
	if s.Reason == "" {
		return SourceFallback
	}
	return SourceFallback + ": " + s.Reason
}

// ClampCount bounds a requested pass count to [1, MaxCount].
func ClampCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}
