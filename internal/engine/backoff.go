package engine

import "time"

// backoff returns the delay required before the next replay attempt.
// Exponential in the number of attempts already made, capped at max.
// Zero attempts means the write has never been tried: no delay.
func backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
