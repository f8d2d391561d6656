package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/mapping"
	"github.com/goliatone/go-courier-sync/reconcile"
	"github.com/goliatone/go-courier-sync/retry"
)

const defaultProcessTimeout = 10 * time.Second

type StatusMapper interface {
	MapToCanonical(courierID string, courierCode string) mapping.Result
}

type Applier interface {
	Apply(ctx context.Context, req reconcile.ApplyRequest) (reconcile.ApplyResult, error)
}

type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, event core.InboundEvent, attemptCount int) (time.Time, error)
}

type DeadLetterer interface {
	DeadLetter(ctx context.Context, event core.InboundEvent, reason string, category core.DeadLetterCategory) (core.DeadLetterEntry, error)
}

// Attempt is the result of running one event through mapping and apply.
type Attempt struct {
	Outcome   core.InboundOutcome
	Mapping   mapping.Result
	Apply     reconcile.ApplyResult
	Err       error
	Retryable bool
	Category  core.DeadLetterCategory
}

func (a Attempt) Succeeded() bool {
	return a.Err == nil && (a.Outcome == core.OutcomeApplied || a.Outcome == core.OutcomeStale)
}

// Pipeline drives a verified event from the mapping stage to a terminal
// status, routing failures to retry or dead-letter.
type Pipeline struct {
	Events      core.InboundEventStore
	Mapper      StatusMapper
	Applier     Applier
	Retry       RetryScheduler
	DeadLetters DeadLetterer
	Timeout     time.Duration
	Observer    core.Observer
	Now         func() time.Time
}

func NewPipeline(
	events core.InboundEventStore,
	mapper StatusMapper,
	applier Applier,
	scheduler RetryScheduler,
	deadLetters DeadLetterer,
) *Pipeline {
	return &Pipeline{
		Events:      events,
		Mapper:      mapper,
		Applier:     applier,
		Retry:       scheduler,
		DeadLetters: deadLetters,
		Timeout:     defaultProcessTimeout,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process runs one attempt and records its outcome on the event.
func (p *Pipeline) Process(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	if p == nil || p.Events == nil || p.Mapper == nil || p.Applier == nil {
		return event, fmt.Errorf("webhooks: pipeline is not configured")
	}
	startedAt := time.Now()
	attempt := p.Attempt(ctx, event)
	// Bookkeeping must survive the attempt's deadline.
	bookkeeping := context.WithoutCancel(ctx)

	var err error
	switch {
	case attempt.Succeeded():
		event, err = p.complete(bookkeeping, event, attempt)
	case attempt.Retryable:
		event, err = p.scheduleRetry(bookkeeping, event, attempt)
	default:
		event, err = p.deadLetter(bookkeeping, event, attempt)
	}
	p.record(bookkeeping, startedAt, event, attempt)
	if err != nil {
		return event, err
	}
	return event, attempt.Err
}

// Attempt maps and applies event under the processing timeout without
// persisting anything about the inbound event itself.
func (p *Pipeline) Attempt(ctx context.Context, event core.InboundEvent) Attempt {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	mapped := p.Mapper.MapToCanonical(event.CourierID, event.CourierStatus)
	if mapped.Unmapped() {
		return Attempt{
			Outcome:  core.OutcomeUnmapped,
			Mapping:  mapped,
			Err:      fmt.Errorf("webhooks: unmapped status code %q for courier %s (table v%d)", event.CourierStatus, event.CourierID, mapped.Version),
			Category: core.DeadLetterCategoryValidation,
		}
	}

	result, err := p.Applier.Apply(ctx, reconcile.ApplyRequest{
		TrackingRef:   event.TrackingRef,
		Status:        mapped.Status,
		OccurredAt:    event.OccurredAt,
		CourierID:     event.CourierID,
		CourierStatus: event.CourierStatus,
		EventID:       event.EventID,
		Reason:        mapped.Reason,
		RawReason:     event.RawReason,
		Permanent:     mapped.Permanent,
	})
	attempt := Attempt{Mapping: mapped, Apply: result, Err: err}
	switch result.Outcome {
	case reconcile.OutcomeApplied:
		attempt.Outcome = core.OutcomeApplied
	case reconcile.OutcomeStale:
		attempt.Outcome = core.OutcomeStale
	case reconcile.OutcomeNotFound:
		attempt.Outcome = core.OutcomeNotFound
		attempt.Category = core.DeadLetterCategoryValidation
	case reconcile.OutcomeTransientFailure:
		attempt.Outcome = core.OutcomeTransient
		attempt.Retryable = true
		attempt.Category = core.DeadLetterCategoryTransient
	default:
		if err == nil {
			err = fmt.Errorf("webhooks: applier returned no outcome")
		}
		attempt.Err = err
		attempt.Outcome = core.OutcomeRejected
		attempt.Category = core.DeadLetterCategoryValidation
	}
	if attempt.Err == nil && !attempt.Succeeded() {
		attempt.Err = fmt.Errorf("webhooks: %s", attempt.Outcome)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !attempt.Succeeded() {
		attempt.Outcome = core.OutcomeTransient
		attempt.Retryable = true
		attempt.Category = core.DeadLetterCategoryTransient
	}
	return attempt
}

func (p *Pipeline) complete(ctx context.Context, event core.InboundEvent, attempt Attempt) (core.InboundEvent, error) {
	event.Status = core.InboundStatusApplied
	event.Outcome = attempt.Outcome
	event.LastError = ""
	event.NextAttemptAt = nil
	event.ClaimedUntil = nil
	updated, err := p.Events.Update(ctx, event)
	if err != nil {
		return event, fmt.Errorf("webhooks: record applied event: %w", err)
	}
	return updated, nil
}

func (p *Pipeline) scheduleRetry(ctx context.Context, event core.InboundEvent, attempt Attempt) (core.InboundEvent, error) {
	event.Outcome = attempt.Outcome
	event.LastError = errorText(attempt.Err)
	attemptCount := event.Attempts + 1
	if p.Retry == nil {
		event.Attempts = attemptCount
		return p.deadLetter(ctx, event, attempt)
	}
	nextAttemptAt, err := p.Retry.ScheduleRetry(ctx, event, attemptCount)
	event.Attempts = attemptCount
	if errors.Is(err, retry.ErrBudgetExhausted) {
		event.Status = core.InboundStatusDeadLettered
		event.Outcome = core.OutcomeRetryBudget
		event.NextAttemptAt = nil
		event.ClaimedUntil = nil
		return event, nil
	}
	if err != nil {
		return event, err
	}
	event.Status = core.InboundStatusFailed
	event.NextAttemptAt = &nextAttemptAt
	event.ClaimedUntil = nil
	return event, nil
}

func (p *Pipeline) deadLetter(ctx context.Context, event core.InboundEvent, attempt Attempt) (core.InboundEvent, error) {
	event.Outcome = attempt.Outcome
	event.LastError = errorText(attempt.Err)
	if p.DeadLetters == nil {
		return event, fmt.Errorf("webhooks: dead-letter store is not configured")
	}
	category := attempt.Category
	if category == "" {
		category = core.DeadLetterCategoryValidation
	}
	if _, err := p.DeadLetters.DeadLetter(ctx, event, event.LastError, category); err != nil {
		return event, fmt.Errorf("webhooks: dead-letter event: %w", err)
	}
	event.Status = core.InboundStatusDeadLettered
	event.NextAttemptAt = nil
	event.ClaimedUntil = nil
	return event, nil
}

func (p *Pipeline) record(ctx context.Context, startedAt time.Time, event core.InboundEvent, attempt Attempt) {
	tags := map[string]string{
		"courier_id": event.CourierID,
		"outcome":    string(attempt.Outcome),
	}
	p.Observer.Histogram(ctx, core.MetricProcessingMillis, float64(time.Since(startedAt).Milliseconds()), tags)
	switch attempt.Outcome {
	case core.OutcomeApplied:
		p.Observer.Counter(ctx, core.MetricEventsProcessed, 1, tags)
	case core.OutcomeStale:
		p.Observer.Counter(ctx, core.MetricEventsStale, 1, tags)
	default:
		if attempt.Outcome == core.OutcomeUnmapped {
			p.Observer.Counter(ctx, core.MetricEventsUnmapped, 1, tags)
		}
		p.Observer.Counter(ctx, core.MetricEventsFailed, 1, tags)
	}
	fields := map[string]any{
		"courier_id":       event.CourierID,
		"event_id":         event.EventID,
		"inbound_event_id": event.ID,
		"tracking_ref":     event.TrackingRef,
		"outcome":          string(attempt.Outcome),
		"status":           string(event.Status),
		"attempts":         event.Attempts,
	}
	if attempt.Err != nil && !attempt.Succeeded() {
		fields["error"] = attempt.Err.Error()
		p.Observer.Warn(ctx, "webhooks: event processing failed", fields)
		return
	}
	p.Observer.Debug(ctx, "webhooks: event processed", fields)
}

func (p *Pipeline) timeout() time.Duration {
	if p != nil && p.Timeout > 0 {
		return p.Timeout
	}
	return defaultProcessTimeout
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
