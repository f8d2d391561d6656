// Package scheduler drives the periodic sweeps of the pipeline: retry
// dispatch, NDR actions and deadlines, dead-letter replay and depth,
// admission purge, archival and mapping refresh. Sweeps run either as
// in-process ticker loops or as go-job executions through Consume.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-courier-sync/adapters/gojob"
	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/deadletter"
	"github.com/goliatone/go-courier-sync/ndr"
	"github.com/goliatone/go-courier-sync/retry"
)

type RetryDispatcher interface {
	DispatchDue(ctx context.Context, limit int) (retry.DispatchStats, error)
}

type NDRSweeper interface {
	RunDueActions(ctx context.Context, limit int) (ndr.ActionStats, error)
	SweepDeadlines(ctx context.Context, limit int) (ndr.SweepStats, error)
}

type DeadLetterSweeper interface {
	ReplayBatch(ctx context.Context, limit int) (deadletter.ReplayStats, error)
	Depth(ctx context.Context) (int, error)
}

type AdmissionPurger interface {
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type EventArchiver interface {
	ArchiveTerminal(ctx context.Context, before time.Time, limit int) (int, error)
}

type MappingRefresher interface {
	Refresh(ctx context.Context) error
}

const admissionPurgeInterval = time.Hour

// Dependencies are optional; a sweep is registered only when its
// collaborator is present.
type Dependencies struct {
	Retry       RetryDispatcher
	NDR         NDRSweeper
	DeadLetters DeadLetterSweeper
	Admissions  AdmissionPurger
	Events      EventArchiver
	Mappings    MappingRefresher
}

// Result summarizes one sweep run.
type Result struct {
	JobID  string
	Counts map[string]int
}

// Sweep is one registered periodic job.
type Sweep struct {
	JobID    string
	Interval time.Duration
	Limit    int
	run      func(ctx context.Context, limit int) (map[string]int, error)
}

type Scheduler struct {
	sweeps   map[string]Sweep
	order    []string
	observer core.Observer
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(deps Dependencies, cfg core.Config, observer core.Observer) *Scheduler {
	s := &Scheduler{
		sweeps:   map[string]Sweep{},
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if deps.Retry != nil {
		s.add(gojob.JobIDRetryDispatch, cfg.Retry.Interval, cfg.Retry.BatchSize, func(ctx context.Context, limit int) (map[string]int, error) {
			stats, err := deps.Retry.DispatchDue(ctx, limit)
			return map[string]int{
				"claimed":       stats.Claimed,
				"applied":       stats.Applied,
				"retried":       stats.Retried,
				"dead_lettered": stats.DeadLettered,
				"errors":        stats.Errors,
			}, err
		})
	}
	if deps.NDR != nil {
		s.add(gojob.JobIDNDRActions, cfg.NDR.Interval, cfg.NDR.BatchSize, func(ctx context.Context, limit int) (map[string]int, error) {
			stats, err := deps.NDR.RunDueActions(ctx, limit)
			return map[string]int{
				"claimed":      stats.Claimed,
				"executed":     stats.Executed,
				"task_created": stats.TaskCreated,
				"failed":       stats.Failed,
				"cancelled":    stats.Cancelled,
			}, err
		})
		s.add(gojob.JobIDNDRDeadlines, cfg.NDR.Interval, cfg.NDR.BatchSize, func(ctx context.Context, limit int) (map[string]int, error) {
			stats, err := deps.NDR.SweepDeadlines(ctx, limit)
			return map[string]int{
				"claimed":       stats.Claimed,
				"rto_triggered": stats.RTOTriggered,
				"escalated":     stats.Escalated,
			}, err
		})
	}
	if deps.DeadLetters != nil {
		s.add(gojob.JobIDDeadLetterReplay, cfg.DeadLetter.ReplayInterval, cfg.DeadLetter.ReplayBatchSize, func(ctx context.Context, limit int) (map[string]int, error) {
			stats, err := deps.DeadLetters.ReplayBatch(ctx, limit)
			return map[string]int{
				"claimed":  stats.Claimed,
				"resolved": stats.Resolved,
				"failed":   stats.Failed,
			}, err
		})
		s.add(gojob.JobIDDeadLetterDepth, cfg.DeadLetter.DepthInterval, 0, func(ctx context.Context, _ int) (map[string]int, error) {
			depth, err := deps.DeadLetters.Depth(ctx)
			return map[string]int{"depth": depth}, err
		})
	}
	if deps.Admissions != nil {
		s.add(gojob.JobIDAdmissionPurge, admissionPurgeInterval, cfg.Admission.PurgeBatch, func(ctx context.Context, limit int) (map[string]int, error) {
			purged, err := deps.Admissions.PurgeExpired(ctx, s.now(), limit)
			return map[string]int{"purged": purged}, err
		})
	}
	if deps.Events != nil && cfg.Archive.Retention > 0 {
		retention := cfg.Archive.Retention
		s.add(gojob.JobIDArchive, cfg.Archive.Interval, cfg.Archive.BatchSize, func(ctx context.Context, limit int) (map[string]int, error) {
			archived, err := deps.Events.ArchiveTerminal(ctx, s.now().Add(-retention), limit)
			return map[string]int{"archived": archived}, err
		})
	}
	if deps.Mappings != nil && cfg.Mapping.RefreshInterval > 0 {
		s.add(gojob.JobIDMappingRefresh, cfg.Mapping.RefreshInterval, 0, func(ctx context.Context, _ int) (map[string]int, error) {
			return map[string]int{}, deps.Mappings.Refresh(ctx)
		})
	}
	return s
}

func (s *Scheduler) add(jobID string, interval time.Duration, limit int, run func(context.Context, int) (map[string]int, error)) {
	s.sweeps[jobID] = Sweep{JobID: jobID, Interval: interval, Limit: limit, run: run}
	s.order = append(s.order, jobID)
}

// SetClock overrides the time source used for purge and archive cutoffs.
func (s *Scheduler) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.now = now
}

// Sweeps returns the registered sweeps in registration order.
func (s *Scheduler) Sweeps() []Sweep {
	if s == nil {
		return nil
	}
	out := make([]Sweep, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sweeps[id])
	}
	return out
}

// RunOnce executes one sweep. A limit <= 0 uses the configured batch size.
func (s *Scheduler) RunOnce(ctx context.Context, jobID string, limit int) (Result, error) {
	if s == nil {
		return Result{}, fmt.Errorf("scheduler: not configured")
	}
	sweep, ok := s.sweeps[jobID]
	if !ok {
		return Result{JobID: jobID}, fmt.Errorf("%w: %s", ErrUnknownSweep, jobID)
	}
	if limit <= 0 {
		limit = sweep.Limit
	}
	startedAt := time.Now()
	counts, err := sweep.run(ctx, limit)
	s.observer.Observe(ctx, startedAt, jobID, err, countFields(counts))
	return Result{JobID: jobID, Counts: counts}, err
}

// Start launches one ticker loop per sweep with a positive interval.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, sweep := range s.Sweeps() {
		if sweep.Interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.loop(loopCtx, sweep)
	}
}

// Stop cancels every loop and waits for in-flight sweeps to return.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, sweep Sweep) {
	defer s.wg.Done()
	ticker := time.NewTicker(sweep.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, sweep.JobID, 0); err != nil && ctx.Err() == nil {
				s.observer.Warn(ctx, "scheduler: sweep failed", map[string]any{
					"job_id": sweep.JobID,
					"error":  err.Error(),
				})
			}
		}
	}
}

func countFields(counts map[string]int) map[string]any {
	fields := make(map[string]any, len(counts))
	for key, value := range counts {
		fields[key] = value
	}
	return fields
}
