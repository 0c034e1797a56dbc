package gateway

import "time"

// Backoff computes reconnect delays: base doubled per attempt, capped at
// Max. A pure function of the attempt count so it is testable without
// real timers.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at one second and caps at thirty.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return b.Base
	}
	// Guard the shift against overflow; past 62 doublings everything is
	// beyond any sane cap anyway.
	if attempt > 62 {
		return b.Max
	}
	d := b.Base << uint(attempt)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}
