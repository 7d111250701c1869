package session

import (
	"math"
	"time"
)

// BackoffDelay computes the reconnection delay for the given attempt
// (1-based): base * growth^(attempt-1). The schedule is monotonically
// non-decreasing for growth >= 1.
func BackoffDelay(base time.Duration, growth float64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if growth <= 0 {
		growth = 1
	}
	return time.Duration(float64(base) * math.Pow(growth, float64(attempt-1)))
}
