package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

// ErrBudgetExhausted is returned once the event has been dead-lettered.
var ErrBudgetExhausted = errors.New("retry: retry budget exhausted")

type DeadLetterer interface {
	DeadLetter(ctx context.Context, event core.InboundEvent, reason string, category core.DeadLetterCategory) (core.DeadLetterEntry, error)
}

type Scheduler struct {
	Events      core.InboundEventStore
	DeadLetters DeadLetterer
	Policy      Policy
	Observer    core.Observer
	Now         func() time.Time
}

func NewScheduler(events core.InboundEventStore, deadLetters DeadLetterer, policy Policy) *Scheduler {
	return &Scheduler{
		Events:      events,
		DeadLetters: deadLetters,
		Policy:      policy,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ScheduleRetry records the attemptCount-th transient failure of event and
// returns when it becomes due again. When the budget is spent the event is
// dead-lettered with its last error and ErrBudgetExhausted is returned.
func (s *Scheduler) ScheduleRetry(ctx context.Context, event core.InboundEvent, attemptCount int) (time.Time, error) {
	if s == nil || s.Events == nil || s.DeadLetters == nil {
		return time.Time{}, fmt.Errorf("retry: scheduler is not configured")
	}
	event.Attempts = attemptCount
	fields := map[string]any{
		"courier_id":       event.CourierID,
		"event_id":         event.EventID,
		"inbound_event_id": event.ID,
		"attempt":          attemptCount,
		"last_error":       event.LastError,
	}

	if s.Policy.Exhausted(attemptCount) {
		if _, err := s.DeadLetters.DeadLetter(ctx, event, event.LastError, core.DeadLetterCategoryTransient); err != nil {
			return time.Time{}, fmt.Errorf("retry: dead-letter exhausted event: %w", err)
		}
		s.Observer.Warn(ctx, "retry: budget exhausted, event dead-lettered", fields)
		return time.Time{}, ErrBudgetExhausted
	}

	nextAttemptAt := s.now().Add(s.Policy.NextDelay(attemptCount))
	event.Status = core.InboundStatusFailed
	event.NextAttemptAt = &nextAttemptAt
	event.ClaimedUntil = nil
	if _, err := s.Events.Update(ctx, event); err != nil {
		return time.Time{}, fmt.Errorf("retry: persist retry schedule: %w", err)
	}
	fields["next_attempt_at"] = nextAttemptAt
	s.Observer.Counter(ctx, core.MetricEventsRetried, 1, map[string]string{"courier_id": event.CourierID})
	s.Observer.Info(ctx, "retry: retry scheduled", fields)
	return nextAttemptAt, nil
}

func (s *Scheduler) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
