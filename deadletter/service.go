// Package deadletter stores events that exhausted automatic handling and
// replays them on operator request or on the daily sweep.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

// Replayer re-runs a stored event through the pipeline and records its
// final status.
type Replayer interface {
	Reprocess(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error)
}

type ReplayStats struct {
	Claimed  int
	Resolved int
	Failed   int
}

type Service struct {
	Entries  core.DeadLetterStore
	Events   core.InboundEventStore
	Replayer Replayer
	Observer core.Observer
	Now      func() time.Time
}

func NewService(entries core.DeadLetterStore, events core.InboundEventStore) *Service {
	return &Service{
		Entries: entries,
		Events:  events,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// BindReplayer sets the replay target after construction; the replayer
// itself depends on this service for dead-lettering.
func (s *Service) BindReplayer(replayer Replayer) {
	if s != nil {
		s.Replayer = replayer
	}
}

// DeadLetter marks event dead-lettered and records it for operators. An
// event that was dead-lettered before reopens its existing entry.
func (s *Service) DeadLetter(
	ctx context.Context,
	event core.InboundEvent,
	reason string,
	category core.DeadLetterCategory,
) (core.DeadLetterEntry, error) {
	if s == nil || s.Entries == nil || s.Events == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("deadletter: service is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return core.DeadLetterEntry{}, fmt.Errorf("deadletter: inbound event id is required")
	}
	now := s.now()
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = strings.TrimSpace(event.LastError)
	}

	event.Status = core.InboundStatusDeadLettered
	event.LastError = reason
	event.NextAttemptAt = nil
	event.ClaimedUntil = nil
	if _, err := s.Events.Update(ctx, event); err != nil {
		return core.DeadLetterEntry{}, fmt.Errorf("deadletter: mark event dead-lettered: %w", err)
	}

	firstFailedAt := event.ReceivedAt
	if firstFailedAt.IsZero() {
		firstFailedAt = now
	}
	entry, err := s.Entries.Create(ctx, core.DeadLetterEntry{
		InboundEventID:  event.ID,
		CourierID:       event.CourierID,
		EventID:         event.EventID,
		Category:        category,
		Reason:          reason,
		FirstFailedAt:   firstFailedAt,
		LastAttemptedAt: now,
		AttemptCount:    event.Attempts,
		Status:          core.DeadLetterStatusPending,
	})
	if err != nil {
		return core.DeadLetterEntry{}, fmt.Errorf("deadletter: create entry: %w", err)
	}

	s.Observer.Counter(ctx, core.MetricDeadLetterCreated, 1, map[string]string{
		"courier_id": event.CourierID,
		"category":   string(category),
	})
	s.Observer.Warn(ctx, "deadletter: event dead-lettered", map[string]any{
		"dead_letter_id":   entry.ID,
		"inbound_event_id": event.ID,
		"courier_id":       event.CourierID,
		"event_id":         event.EventID,
		"category":         string(category),
		"attempts":         event.Attempts,
		"reason":           reason,
	})
	s.refreshDepth(ctx)
	return entry, nil
}

func (s *Service) Get(ctx context.Context, id string) (core.DeadLetterEntry, error) {
	if s == nil || s.Entries == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("deadletter: service is not configured")
	}
	return s.Entries.Get(ctx, strings.TrimSpace(id))
}

func (s *Service) List(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, int, error) {
	if s == nil || s.Entries == nil {
		return nil, 0, fmt.Errorf("deadletter: service is not configured")
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.Entries.List(ctx, filter)
}

// Replay re-runs the entry's event. Pending and abandoned entries can be
// replayed; the entry is resolved on success and returned to pending with
// one more attempt on failure.
func (s *Service) Replay(ctx context.Context, id string, actor string) (core.DeadLetterEntry, error) {
	if s == nil || s.Entries == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("deadletter: service is not configured")
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return core.DeadLetterEntry{}, core.ErrActorRequired
	}
	entry, err := s.Entries.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	if err := core.ValidateDeadLetterTransition(entry.Status, core.DeadLetterStatusRetrying); err != nil {
		return core.DeadLetterEntry{}, err
	}
	from := entry.Status
	entry.Status = core.DeadLetterStatusRetrying
	entry, err = s.Entries.Transition(ctx, from, entry)
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	return s.replayClaimed(ctx, entry, actor)
}

// ReplayBatch replays pending transient entries. Validation and security
// rejections wait for operator triage.
func (s *Service) ReplayBatch(ctx context.Context, limit int) (ReplayStats, error) {
	if s == nil || s.Entries == nil {
		return ReplayStats{}, fmt.Errorf("deadletter: service is not configured")
	}
	startedAt := time.Now()
	claimed, err := s.Entries.ClaimPending(ctx, []core.DeadLetterCategory{
		core.DeadLetterCategoryTransient,
	}, limit, s.now())
	if err != nil {
		return ReplayStats{}, fmt.Errorf("deadletter: claim pending entries: %w", err)
	}
	stats := ReplayStats{Claimed: len(claimed)}
	var batchErr error
	for _, entry := range claimed {
		replayed, err := s.replayClaimed(ctx, entry, "system:replay")
		if replayed.Status == core.DeadLetterStatusResolved {
			stats.Resolved++
			continue
		}
		stats.Failed++
		if err != nil && !errors.Is(err, errReplayFailed) {
			batchErr = errors.Join(batchErr, err)
		}
	}
	if stats.Claimed > 0 {
		s.Observer.Observe(ctx, startedAt, "dead_letter_replay", batchErr, map[string]any{
			"claimed":  stats.Claimed,
			"resolved": stats.Resolved,
			"failed":   stats.Failed,
		})
	}
	return stats, batchErr
}

var errReplayFailed = errors.New("deadletter: replay failed")

func (s *Service) replayClaimed(ctx context.Context, entry core.DeadLetterEntry, actor string) (core.DeadLetterEntry, error) {
	if s.Replayer == nil || s.Events == nil {
		return s.returnToPending(ctx, entry, fmt.Errorf("deadletter: replayer is not configured"))
	}
	event, err := s.Events.Get(ctx, entry.InboundEventID)
	if err != nil {
		return s.returnToPending(ctx, entry, fmt.Errorf("deadletter: load inbound event: %w", err))
	}
	if _, err := s.Replayer.Reprocess(ctx, event); err != nil {
		return s.returnToPending(ctx, entry, err)
	}

	entry.Status = core.DeadLetterStatusResolved
	entry.ResolvedBy = actor
	entry.ResolutionNote = "replayed"
	entry.LastAttemptedAt = s.now()
	entry.AttemptCount++
	resolved, err := s.Entries.Transition(context.WithoutCancel(ctx), core.DeadLetterStatusRetrying, entry)
	if err != nil {
		return entry, fmt.Errorf("deadletter: resolve entry: %w", err)
	}
	s.Observer.Info(ctx, "deadletter: entry resolved by replay", map[string]any{
		"dead_letter_id": resolved.ID,
		"actor":          actor,
	})
	s.refreshDepth(ctx)
	return resolved, nil
}

func (s *Service) returnToPending(ctx context.Context, entry core.DeadLetterEntry, cause error) (core.DeadLetterEntry, error) {
	entry.Status = core.DeadLetterStatusPending
	entry.Reason = cause.Error()
	entry.LastAttemptedAt = s.now()
	entry.AttemptCount++
	pending, err := s.Entries.Transition(context.WithoutCancel(ctx), core.DeadLetterStatusRetrying, entry)
	if err != nil {
		return entry, errors.Join(cause, fmt.Errorf("deadletter: return entry to pending: %w", err))
	}
	s.Observer.Warn(ctx, "deadletter: replay failed", map[string]any{
		"dead_letter_id": pending.ID,
		"attempts":       pending.AttemptCount,
		"error":          cause.Error(),
	})
	return pending, fmt.Errorf("%w: %w", errReplayFailed, cause)
}

// Abandon closes an entry that will not be replayed automatically.
func (s *Service) Abandon(ctx context.Context, id string, actor string, note string) (core.DeadLetterEntry, error) {
	if s == nil || s.Entries == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("deadletter: service is not configured")
	}
	actor = strings.TrimSpace(actor)
	note = strings.TrimSpace(note)
	if actor == "" {
		return core.DeadLetterEntry{}, core.ErrActorRequired
	}
	if note == "" {
		return core.DeadLetterEntry{}, core.ErrReasonRequired
	}
	entry, err := s.Entries.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	if err := core.ValidateDeadLetterTransition(entry.Status, core.DeadLetterStatusAbandoned); err != nil {
		return core.DeadLetterEntry{}, err
	}
	from := entry.Status
	entry.Status = core.DeadLetterStatusAbandoned
	entry.ResolvedBy = actor
	entry.ResolutionNote = note
	abandoned, err := s.Entries.Transition(ctx, from, entry)
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	s.Observer.Info(ctx, "deadletter: entry abandoned", map[string]any{
		"dead_letter_id": abandoned.ID,
		"actor":          actor,
	})
	s.refreshDepth(ctx)
	return abandoned, nil
}

// Depth returns the number of pending entries and publishes it as a gauge.
func (s *Service) Depth(ctx context.Context) (int, error) {
	if s == nil || s.Entries == nil {
		return 0, fmt.Errorf("deadletter: service is not configured")
	}
	depth, err := s.Entries.CountByStatus(ctx, core.DeadLetterStatusPending)
	if err != nil {
		return 0, err
	}
	s.Observer.Gauge(ctx, core.MetricDeadLetterDepth, float64(depth), nil)
	return depth, nil
}

func (s *Service) refreshDepth(ctx context.Context) {
	if _, err := s.Depth(context.WithoutCancel(ctx)); err != nil {
		s.Observer.Debug(ctx, "deadletter: depth refresh failed", map[string]any{"error": err.Error()})
	}
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
