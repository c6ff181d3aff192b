package live

import "time"

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// Terminal runs stay visible this long before they leave the list.
	removalDelay = 5 * time.Second
)

// Backoff returns the reconnect delay after attempt consecutive failures:
// 1s, 2s, 4s, ... capped at 30s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := initialBackoff * time.Duration(1<<attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Tests substitute a manual implementation.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
