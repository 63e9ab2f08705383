package retry

import "time"

const MaxAttempts = 4

// Schedule is the wait after a soft failure on attempts 1..4.
type Schedule [MaxAttempts]time.Duration

func DefaultSchedule() Schedule {
	return Schedule{3 * time.Second, 8 * time.Second, 15 * time.Second, 25 * time.Second}
}

// Delay is the wait after the given (1-based) attempt failed softly.
func (s Schedule) Delay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return s[0]
	case attempt >= len(s):
		return s[len(s)-1]
	default:
		return s[attempt-1]
	}
}
