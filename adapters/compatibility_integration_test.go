package adapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-courier-sync/adapters/gocommand"
	"github.com/goliatone/go-courier-sync/adapters/gojob"
	"github.com/goliatone/go-courier-sync/adapters/gologger"
	courierprom "github.com/goliatone/go-courier-sync/adapters/prometheus"
	couriercommand "github.com/goliatone/go-courier-sync/command"
	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/deadletter"
	"github.com/goliatone/go-courier-sync/scheduler"
	memstore "github.com/goliatone/go-courier-sync/store/memory"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

func TestRuntimeCompatibility_OperatorCommandsSweepJobsAndMetrics(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	provider := &compatProvider{logger: compatLogger{}}
	_, _, jobProvider, jobLogger := gologger.ResolveForJob("scheduler", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	recorder := courierprom.NewRecorder(nil)
	stores := memstore.New()
	event, err := stores.InboundEvents.Create(ctx, core.InboundEvent{
		CourierID:     "bluedart",
		EventID:       "evt_1",
		TrackingRef:   "BD100",
		CourierStatus: "ZZ",
		Status:        core.InboundStatusFailed,
		ReceivedAt:    now,
	})
	if err != nil {
		t.Fatalf("create inbound event: %v", err)
	}

	deadLetters := deadletter.NewService(stores.DeadLetters, stores.InboundEvents)
	deadLetters.Observer = gologger.Observer("deadletter", provider, nil, recorder)
	entry, err := deadLetters.DeadLetter(ctx, event, "unmapped status code", core.DeadLetterCategoryValidation)
	if err != nil {
		t.Fatalf("dead-letter event: %v", err)
	}
	if depthGauge(t, recorder) != 1 {
		t.Fatalf("expected depth gauge 1 after dead-letter")
	}

	bus := gocommand.NewBus(command.NewRegistry())
	defer bus.Close()
	if err := gocommand.RegisterCommand(bus, couriercommand.NewAbandonDeadLetterCommand(deadLetters)); err != nil {
		t.Fatalf("register abandon command: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize command bus: %v", err)
	}
	if err := gocommand.Dispatch(ctx, couriercommand.AbandonDeadLetterMessage{
		ID:    entry.ID,
		Actor: "ops@example.com",
		Note:  "courier sent a retired code",
	}); err != nil {
		t.Fatalf("dispatch abandon: %v", err)
	}
	abandoned, err := deadLetters.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if abandoned.Status != core.DeadLetterStatusAbandoned {
		t.Fatalf("expected abandoned entry, got %s", abandoned.Status)
	}

	sweeps := scheduler.New(scheduler.Dependencies{DeadLetters: deadLetters}, core.DefaultConfig(),
		gologger.Observer("scheduler", provider, nil, recorder))
	jobs := &compatQueue{}
	if err := sweeps.EnqueueAll(ctx, gojob.NewEnqueuerAdapter(jobs), now); err != nil {
		t.Fatalf("enqueue sweeps: %v", err)
	}
	if len(jobs.pending) != 2 {
		t.Fatalf("expected replay and depth sweeps queued, got %d", len(jobs.pending))
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	jobs.onEmpty = cancel
	if err := sweeps.Consume(consumeCtx, gojob.NewDequeuerAdapter(jobs, gojob.RetryPolicy{MaxAttempts: 3})); err != nil {
		t.Fatalf("consume sweeps: %v", err)
	}
	for _, delivery := range jobs.delivered {
		if !delivery.acked {
			t.Fatalf("expected sweep %s acked", delivery.msg.JobID)
		}
	}
	if depthGauge(t, recorder) != 0 {
		t.Fatalf("expected depth gauge 0 after abandon and depth sweep")
	}

	hook := gojob.NewWorkerHookAdapter(sweeps.JobHook())
	hook.OnSuccess(ctx, worker.Event{Message: gojob.ToExecutionMessage(gojob.SweepMessage(gojob.JobIDDeadLetterDepth, 0, now))})
	families, err := recorder.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "courier_sweep_jobs_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sweep job counter from worker hook")
	}
}

func depthGauge(t *testing.T, recorder *courierprom.Recorder) float64 {
	t.Helper()
	families, err := recorder.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "courier_deadletter_depth" {
			continue
		}
		for _, metric := range family.GetMetric() {
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("depth gauge not exported")
	return -1
}

type compatQueue struct {
	mu        sync.Mutex
	pending   []*job.ExecutionMessage
	delivered []*compatDelivery
	onEmpty   func()
}

func (q *compatQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
	return nil
}

func (q *compatQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.delivered) >= len(q.pending) {
		if q.onEmpty != nil {
			q.onEmpty()
		}
		return nil, ctx.Err()
	}
	delivery := &compatDelivery{msg: q.pending[len(q.delivered)]}
	q.delivered = append(q.delivered, delivery)
	return delivery, nil
}

type compatDelivery struct {
	msg   *job.ExecutionMessage
	acked bool
	nack  *queue.NackOptions
}

func (d *compatDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *compatDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *compatDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.nack = &opts
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }
