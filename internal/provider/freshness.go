package provider

import "time"

// DefaultMaxAge is the staleness threshold applied when none is configured.
const DefaultMaxAge = 24 * time.Hour

// IsFresh reports whether a response whose data was replicated at ts is
// usable at now. A response that declares no timestamp cannot be judged and
// is accepted.
func IsFresh(ts *time.Time, now time.Time, maxAge time.Duration) bool {
	if ts == nil || ts.IsZero() {
		return true
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return now.Sub(*ts) <= maxAge
}
