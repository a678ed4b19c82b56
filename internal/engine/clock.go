package engine

import "time"

// Clock abstracts wall-clock time so replay backoff is testable without
// sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }
