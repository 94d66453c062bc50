package liveness

import (
	"time"
)

// DefaultThreshold is how recently a meter must have been seen to count as
// online
const DefaultThreshold = 2 * time.Minute

// Status values reported to the dashboard
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Evaluator derives online/offline status from last-contact recency. It is
// pure: no state is read or written beyond the arguments.
type Evaluator struct {
	threshold time.Duration
}

// NewEvaluator creates an evaluator with the given recency threshold
func NewEvaluator(threshold time.Duration) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Evaluator{
		threshold: threshold,
	}
}

// IsOnline reports whether a meter last seen at lastSeen counts as online at
// the given evaluation time
func (e *Evaluator) IsOnline(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) < e.threshold
}

// Status returns the dashboard status string for a meter
func (e *Evaluator) Status(lastSeen, now time.Time) string {
	if e.IsOnline(lastSeen, now) {
		return StatusOnline
	}
	return StatusOffline
}
