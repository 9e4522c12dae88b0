package delivery

import "time"

// maxBackoffShift caps the exponent so the delay stays bounded for
// pathological attempt counts.
const maxBackoffShift = 10

// Backoff returns the delay before the next attempt: 2^n minutes after
// n attempts, so 2m after the first attempt, then 4m, 8m, ...
func Backoff(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	if attemptCount > maxBackoffShift {
		attemptCount = maxBackoffShift
	}
	return time.Duration(1<<uint(attemptCount)) * time.Minute
}
