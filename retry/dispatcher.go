package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

type EventProcessor interface {
	Process(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error)
}

type DispatchStats struct {
	Claimed      int
	Applied      int
	Retried      int
	DeadLettered int
	Errors       int
}

type DispatcherConfig struct {
	BatchSize  int
	ClaimLease time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:  100,
		ClaimLease: time.Minute,
	}
}

// Dispatcher re-runs due events. Claims go through the store's conditional
// update so concurrent instances never process the same event twice.
type Dispatcher struct {
	events    core.InboundEventStore
	processor EventProcessor
	config    DispatcherConfig
	observer  core.Observer
	now       func() time.Time
}

func NewDispatcher(events core.InboundEventStore, processor EventProcessor, config DispatcherConfig, observer core.Observer) (*Dispatcher, error) {
	if events == nil {
		return nil, fmt.Errorf("retry: inbound event store is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("retry: event processor is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultDispatcherConfig().BatchSize
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = DefaultDispatcherConfig().ClaimLease
	}
	return &Dispatcher{
		events:    events,
		processor: processor,
		config:    config,
		observer:  observer,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// SetClock overrides the dispatcher clock.
func (d *Dispatcher) SetClock(now func() time.Time) {
	if d != nil && now != nil {
		d.now = now
	}
}

func (d *Dispatcher) DispatchDue(ctx context.Context, limit int) (DispatchStats, error) {
	if d == nil {
		return DispatchStats{}, fmt.Errorf("retry: dispatcher is not configured")
	}
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	startedAt := time.Now()
	events, err := d.events.ClaimDue(ctx, d.now(), d.config.ClaimLease, limit)
	if err != nil {
		return DispatchStats{}, fmt.Errorf("retry: claim due events: %w", err)
	}

	stats := DispatchStats{Claimed: len(events)}
	var dispatchErr error
	for _, event := range events {
		processed, err := d.processor.Process(ctx, event)
		switch processed.Status {
		case core.InboundStatusApplied:
			stats.Applied++
		case core.InboundStatusFailed:
			stats.Retried++
		case core.InboundStatusDeadLettered:
			stats.DeadLettered++
		}
		if err != nil && !isRoutedFailure(processed) {
			stats.Errors++
			dispatchErr = joinErrors(dispatchErr, fmt.Errorf("retry: event %s: %w", event.ID, err))
		}
	}
	if stats.Claimed > 0 {
		d.observer.Observe(ctx, startedAt, "retry_dispatch", dispatchErr, map[string]any{
			"claimed":       stats.Claimed,
			"applied":       stats.Applied,
			"retried":       stats.Retried,
			"dead_lettered": stats.DeadLettered,
		})
	}
	return stats, dispatchErr
}

// isRoutedFailure reports whether the failure was already handed to the
// retry schedule or the dead-letter store.
func isRoutedFailure(event core.InboundEvent) bool {
	return event.Status == core.InboundStatusFailed || event.Status == core.InboundStatusDeadLettered
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return errors.Join(existing, next)
}
