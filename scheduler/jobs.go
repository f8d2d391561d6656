package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-courier-sync/adapters/gojob"
	"github.com/goliatone/go-courier-sync/core"
)

var ErrUnknownSweep = errors.New("scheduler: unknown sweep")

const (
	defaultNackDelay = 30 * time.Second
	idleBackoff      = 250 * time.Millisecond
)

// EnqueueAll publishes one execution message per registered sweep for the
// window starting at at. Used when an external cron drives the sweeps and
// workers on any instance consume them.
func (s *Scheduler) EnqueueAll(ctx context.Context, enqueuer core.JobEnqueuer, at time.Time) error {
	if s == nil || enqueuer == nil {
		return fmt.Errorf("scheduler: enqueuer is required")
	}
	var errs []error
	for _, sweep := range s.Sweeps() {
		window := at
		if sweep.Interval > 0 {
			window = at.Truncate(sweep.Interval)
		}
		if err := enqueuer.Enqueue(ctx, gojob.SweepMessage(sweep.JobID, sweep.Limit, window)); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", sweep.JobID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleDelivery runs the sweep named by the delivery and acknowledges it.
// Failed sweeps are nacked for requeue; unknown jobs are dead-lettered.
func (s *Scheduler) HandleDelivery(ctx context.Context, delivery core.JobDelivery) error {
	if delivery == nil {
		return fmt.Errorf("scheduler: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty message"})
	}
	_, err := s.RunOnce(ctx, msg.JobID, gojob.LimitParameter(msg))
	switch {
	case err == nil:
		return delivery.Ack(ctx)
	case errors.Is(err, ErrUnknownSweep):
		return errors.Join(err, delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()}))
	default:
		return errors.Join(err, delivery.Nack(ctx, core.JobNackOptions{
			Delay:   defaultNackDelay,
			Requeue: true,
			Reason:  err.Error(),
		}))
	}
}

// Consume dequeues and handles sweep deliveries until ctx is done.
func (s *Scheduler) Consume(ctx context.Context, dequeuer core.JobDequeuer) error {
	if s == nil || dequeuer == nil {
		return fmt.Errorf("scheduler: dequeuer is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("scheduler: dequeue: %w", err)
		}
		if delivery == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleBackoff):
			}
			continue
		}
		if err := s.HandleDelivery(ctx, delivery); err != nil {
			s.observer.Warn(ctx, "scheduler: job delivery failed", map[string]any{"error": err.Error()})
		}
	}
}

// JobHook reports go-job worker lifecycle events for sweep jobs. Pass it
// through gojob.NewWorkerHookAdapter when sweeps run on go-job workers.
type JobHook struct {
	observer core.Observer
}

func (s *Scheduler) JobHook() *JobHook {
	if s == nil {
		return &JobHook{}
	}
	return &JobHook{observer: s.observer}
}

func (h *JobHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.observer.Debug(ctx, "scheduler: sweep job started", jobFields(event))
}

func (h *JobHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.observer.Counter(ctx, core.MetricSweepJobs, 1, map[string]string{"job_id": jobID(event), "result": "success"})
}

func (h *JobHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.observer.Counter(ctx, core.MetricSweepJobs, 1, map[string]string{"job_id": jobID(event), "result": "failure"})
	h.observer.Warn(ctx, "scheduler: sweep job failed", jobFields(event))
}

func (h *JobHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.observer.Counter(ctx, core.MetricSweepJobs, 1, map[string]string{"job_id": jobID(event), "result": "retry"})
}

func jobID(event core.JobWorkerEvent) string {
	if event.Message == nil {
		return ""
	}
	return event.Message.JobID
}

func jobFields(event core.JobWorkerEvent) map[string]any {
	fields := map[string]any{
		"job_id":  jobID(event),
		"attempt": event.Attempt,
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

var _ core.JobWorkerHook = (*JobHook)(nil)
