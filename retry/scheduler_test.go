package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	memstore "github.com/goliatone/go-courier-sync/store/memory"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type recordingDeadLetterer struct {
	entries []core.DeadLetterEntry
}

func (r *recordingDeadLetterer) DeadLetter(_ context.Context, event core.InboundEvent, reason string, category core.DeadLetterCategory) (core.DeadLetterEntry, error) {
	entry := core.DeadLetterEntry{
		InboundEventID: event.ID,
		Reason:         reason,
		Category:       category,
		AttemptCount:   event.Attempts,
	}
	r.entries = append(r.entries, entry)
	return entry, nil
}

func seedEvent(t *testing.T, store *memstore.Store) core.InboundEvent {
	t.Helper()
	due := t0
	event, err := store.InboundEvents.Create(context.Background(), core.InboundEvent{
		CourierID:     "bluedart",
		EventID:       "evt-1",
		Status:        core.InboundStatusVerified,
		NextAttemptAt: &due,
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func TestScheduleRetry_SchedulesWithBackoff(t *testing.T) {
	store := memstore.New()
	event := seedEvent(t, store)
	deadLetters := &recordingDeadLetterer{}
	scheduler := NewScheduler(store.InboundEvents, deadLetters, Policy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 5})
	scheduler.Now = func() time.Time { return t0 }

	next, err := scheduler.ScheduleRetry(context.Background(), event, 3)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !next.Equal(t0.Add(4 * time.Second)) {
		t.Fatalf("expected +4s, got %s", next.Sub(t0))
	}
	stored, _ := store.InboundEvents.Get(context.Background(), event.ID)
	if stored.Status != core.InboundStatusFailed || stored.Attempts != 3 || stored.NextAttemptAt == nil {
		t.Fatalf("unexpected stored event %+v", stored)
	}
	if len(deadLetters.entries) != 0 {
		t.Fatalf("no dead letter expected")
	}
}

func TestScheduleRetry_ExhaustionDeadLettersWithLastError(t *testing.T) {
	store := memstore.New()
	event := seedEvent(t, store)
	event.LastError = "connection refused"
	deadLetters := &recordingDeadLetterer{}
	scheduler := NewScheduler(store.InboundEvents, deadLetters, DefaultPolicy())

	_, err := scheduler.ScheduleRetry(context.Background(), event, 5)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected budget exhausted, got %v", err)
	}
	if len(deadLetters.entries) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(deadLetters.entries))
	}
	entry := deadLetters.entries[0]
	if entry.AttemptCount != 5 || entry.Reason != "connection refused" || entry.Category != core.DeadLetterCategoryTransient {
		t.Fatalf("unexpected dead letter %+v", entry)
	}
}

type countingProcessor struct {
	seen []string
}

func (p *countingProcessor) Process(_ context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	p.seen = append(p.seen, event.ID)
	event.Status = core.InboundStatusApplied
	return event, nil
}

func TestDispatcher_ClaimsDueEventsOnce(t *testing.T) {
	store := memstore.New()
	event := seedEvent(t, store)
	processor := &countingProcessor{}
	dispatcher, err := NewDispatcher(store.InboundEvents, processor, DispatcherConfig{ClaimLease: time.Minute}, core.Observer{})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	dispatcher.SetClock(func() time.Time { return t0.Add(time.Second) })

	stats, err := dispatcher.DispatchDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Claimed != 1 || stats.Applied != 1 || processor.seen[0] != event.ID {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// The lease still holds, so a second runner claims nothing.
	stats, err = dispatcher.DispatchDue(context.Background(), 10)
	if err != nil || stats.Claimed != 0 {
		t.Fatalf("expected no claims under lease, got %+v %v", stats, err)
	}
}

func TestNewDispatcher_RequiresCollaborators(t *testing.T) {
	if _, err := NewDispatcher(nil, &countingProcessor{}, DispatcherConfig{}, core.Observer{}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewDispatcher(memstore.New().InboundEvents, nil, DispatcherConfig{}, core.Observer{}); err == nil {
		t.Fatalf("expected error without processor")
	}
}
