package delivery

import "time"

// DefaultBackoffStep is the per-attempt delay of the default linear backoff.
const DefaultBackoffStep = 5 * time.Minute

// Backoff returns the delay before the next try after `attempt` failures.
type Backoff func(attempt int) time.Duration

// LinearBackoff waits step*attempt. A non-positive step uses DefaultBackoffStep.
func LinearBackoff(step time.Duration) Backoff {
	if step <= 0 {
		step = DefaultBackoffStep
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return time.Duration(attempt) * step
	}
}
