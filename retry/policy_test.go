package retry

import (
	"testing"
	"time"
)

func TestPolicy_BaseDelayDoublesAndCaps(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 5}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, want := range expected {
		if got := policy.BaseDelayFor(i + 1); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, got)
		}
	}
}

func TestPolicy_JitterStaysWithinBounds(t *testing.T) {
	for _, sample := range []float64{0, 0.25, 0.5, 0.999} {
		value := sample
		policy := DefaultPolicy()
		policy.Rand = func() float64 { return value }
		delay := policy.NextDelay(3)
		base := policy.BaseDelayFor(3)
		low := time.Duration(float64(base) * 0.8)
		high := time.Duration(float64(base) * 1.2)
		if delay < low || delay > high {
			t.Fatalf("rand=%v: delay %s outside [%s,%s]", value, delay, low, high)
		}
	}
	policy := DefaultPolicy()
	policy.Rand = func() float64 { return 0.5 }
	if got := policy.NextDelay(1); got != time.Second {
		t.Fatalf("midpoint jitter should return the base delay, got %s", got)
	}
}

func TestPolicy_ExhaustedAtBudget(t *testing.T) {
	policy := DefaultPolicy()
	if policy.Exhausted(4) {
		t.Fatalf("4 failures must not exhaust a budget of 5")
	}
	if !policy.Exhausted(5) {
		t.Fatalf("5 failures must exhaust a budget of 5")
	}
}
