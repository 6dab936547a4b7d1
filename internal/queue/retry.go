package queue

import "time"

// DefaultBackoffSchedule is the delay applied before the first, second, and
// third retry. Attempts beyond the table length are clamped to the last entry.
var DefaultBackoffSchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
}

// RetryPolicy decides whether a reported failure is retryable and when the
// next attempt becomes due.
//
// Retryable and permanent failure are distinct statuses, not one overloaded
// "failed" flag: failed_retryable is actionable by the retry sweep,
// failed_permanent is terminal.
type RetryPolicy struct {
	schedule []time.Duration
}

// NewRetryPolicy creates a RetryPolicy with the given backoff schedule.
// An empty schedule falls back to DefaultBackoffSchedule.
func NewRetryPolicy(schedule []time.Duration) RetryPolicy {
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	return RetryPolicy{schedule: schedule}
}

// ShouldRetry reports whether a failure on the given attempt warrants another
// try: the processor must have requested it and attempts must remain.
// attempts is the item's counter after lease acquisition, so the attempt that
// just failed is already counted.
func (p RetryPolicy) ShouldRetry(retryRequested bool, attempts, maxAttempts int) bool {
	return retryRequested && attempts < maxAttempts
}

// BackoffFor returns the delay before the next attempt after the given
// (1-based) failed attempt, clamped to the schedule's last entry.
func (p RetryPolicy) BackoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	idx := attempts - 1
	if idx >= len(p.schedule) {
		idx = len(p.schedule) - 1
	}
	return p.schedule[idx]
}
