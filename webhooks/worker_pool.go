package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

const (
	defaultWorkerCount = 8
	defaultQueueSize   = 1024
)

type EventProcessor interface {
	Process(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error)
}

// ClaimRenewer re-takes an inbound event lease.
type ClaimRenewer interface {
	RenewClaim(ctx context.Context, id string, held time.Time, until time.Time) (core.InboundEvent, error)
}

// WorkerPool processes admitted events on a fixed number of goroutines fed
// by a bounded queue. With Claims set, a worker renews the event lease as it
// dequeues so time spent queued never hands the event to the retry
// dispatcher as well.
type WorkerPool struct {
	Claims ClaimRenewer
	Lease  time.Duration
	Now    func() time.Time

	processor EventProcessor
	workers   int
	queue     chan core.InboundEvent
	observer  core.Observer

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorkerPool(processor EventProcessor, workers int, queueSize int, observer core.Observer) (*WorkerPool, error) {
	if processor == nil {
		return nil, fmt.Errorf("webhooks: worker pool requires a processor")
	}
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &WorkerPool{
		processor: processor,
		workers:   workers,
		queue:     make(chan core.InboundEvent, queueSize),
		observer:  observer,
	}, nil
}

func (w *WorkerPool) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(runCtx)
	}
}

// Submit enqueues event without blocking.
func (w *WorkerPool) Submit(event core.InboundEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return false
	}
	select {
	case w.queue <- event:
		return true
	default:
		return false
	}
}

// Stop cancels the workers and waits for in-flight events. Events still
// queued keep their claim lease and are picked up by the retry dispatcher.
func (w *WorkerPool) Stop() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.stopped = true
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()
	cancel()
	w.wg.Wait()
}

func (w *WorkerPool) Pending() int {
	return len(w.queue)
}

func (w *WorkerPool) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.queue:
			event, ok := w.renew(ctx, event)
			if !ok {
				continue
			}
			if _, err := w.processor.Process(ctx, event); err != nil {
				w.observer.Debug(ctx, "webhooks: worker finished event with error", map[string]any{
					"inbound_event_id": event.ID,
					"courier_id":       event.CourierID,
					"error":            err.Error(),
				})
			}
		}
	}
}

func (w *WorkerPool) renew(ctx context.Context, event core.InboundEvent) (core.InboundEvent, bool) {
	if w.Claims == nil || event.ClaimedUntil == nil {
		return event, true
	}
	lease := w.Lease
	if lease <= 0 {
		lease = defaultClaimLease
	}
	now := time.Now().UTC()
	if w.Now != nil {
		now = w.Now().UTC()
	}
	renewed, err := w.Claims.RenewClaim(ctx, event.ID, *event.ClaimedUntil, now.Add(lease))
	if err == nil {
		return renewed, true
	}
	fields := map[string]any{
		"inbound_event_id": event.ID,
		"courier_id":       event.CourierID,
		"error":            err.Error(),
	}
	if errors.Is(err, core.ErrClaimLost) {
		w.observer.Debug(ctx, "webhooks: queued event claimed elsewhere, skipping", fields)
		return event, false
	}
	// The lease stays as submitted; the retry dispatcher covers expiry.
	w.observer.Warn(ctx, "webhooks: renew claim failed", fields)
	return event, true
}
