package dispatch

import "time"

// Backoff computes the delay before retry number attempt (1-based):
// base doubled per previous failure, capped. The schedule is deterministic
// so retry times are predictable for operators and tests alike.
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Minute
	}
	if cap <= 0 {
		cap = time.Hour
	}

	// base * 2^(attempt-1), guarding against shift overflow
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap || delay < 0 {
			return cap
		}
	}

	if delay > cap {
		return cap
	}
	return delay
}
