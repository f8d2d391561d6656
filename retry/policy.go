package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy is exponential backoff with symmetric jitter and a bounded budget.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	MaxAttempts int
	// Rand returns a value in [0,1); nil uses math/rand/v2.
	Rand func() float64
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// BaseDelayFor is the un-jittered delay after the attempt-th failure:
// base, 2*base, 4*base ... capped at MaxDelay.
func (p Policy) BaseDelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultPolicy().BaseDelay
	}
	maximum := p.MaxDelay
	if maximum <= 0 {
		maximum = DefaultPolicy().MaxDelay
	}
	next := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if next <= 0 || next > maximum {
		return maximum
	}
	return next
}

// NextDelay is BaseDelayFor(attempt) with ±Jitter applied.
func (p Policy) NextDelay(attempt int) time.Duration {
	delay := p.BaseDelayFor(attempt)
	jitter := p.Jitter
	if jitter <= 0 {
		return delay
	}
	if jitter >= 1 {
		jitter = 0.99
	}
	random := p.Rand
	if random == nil {
		random = rand.Float64
	}
	factor := 1 + jitter*(2*random()-1)
	return time.Duration(float64(delay) * factor)
}

// Exhausted reports whether attemptCount failures used up the budget.
func (p Policy) Exhausted(attemptCount int) bool {
	maximum := p.MaxAttempts
	if maximum <= 0 {
		maximum = DefaultPolicy().MaxAttempts
	}
	return attemptCount >= maximum
}
