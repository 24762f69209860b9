package coalesce

import "time"

// Scheduler abstracts timer creation so the coalescer's flush window can be
// driven manually in tests.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type Timer interface {
	Stop() bool
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// WallClock returns the real-time scheduler backed by [time.AfterFunc].
func WallClock() Scheduler {
	return wallScheduler{}
}
