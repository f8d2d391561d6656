package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	memstore "github.com/goliatone/go-courier-sync/store/memory"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stubPlanner struct {
	calls int
}

func (p *stubPlanner) Plan(_ context.Context, _ core.Shipment, reason core.NDRReason, rawReason string, permanent bool, detectedAt time.Time) (core.NDROpenRequest, error) {
	p.calls++
	return core.NDROpenRequest{
		Reason:     reason,
		RawReason:  rawReason,
		Permanent:  permanent,
		DetectedAt: detectedAt,
		Deadline:   detectedAt.Add(48 * time.Hour),
		Actions: []core.ScheduledAction{
			{Sequence: 1, ActionType: core.ActionNotifyWhatsApp, AutoExecute: true, DueAt: detectedAt.Add(time.Hour)},
		},
	}, nil
}

func newTestApplier(t *testing.T, status core.CanonicalStatus, statusAt time.Time) (*Applier, *memstore.Store, *stubPlanner) {
	t.Helper()
	store := memstore.New()
	store.Shipments.Put(core.Shipment{ID: "shp-1", TrackingRef: "X123", Status: status, StatusAt: statusAt})
	planner := &stubPlanner{}
	applier := NewApplier(store.Shipments, planner)
	applier.Now = func() time.Time { return t0.Add(time.Hour) }
	return applier, store, planner
}

func TestApply_OutOfOrderOlderLowerRankIsStale(t *testing.T) {
	applier, store, _ := newTestApplier(t, core.StatusOutForDelivery, t0.Add(30*time.Minute))
	result, err := applier.Apply(context.Background(), ApplyRequest{
		TrackingRef: "X123",
		Status:      core.StatusInTransit,
		OccurredAt:  t0,
	})
	if err != nil || result.Outcome != OutcomeStale {
		t.Fatalf("expected stale, got %s %v", result.Outcome, err)
	}
	shipment, _ := store.Shipments.GetByTrackingRef(context.Background(), "X123")
	if shipment.Status != core.StatusOutForDelivery || shipment.Version != 1 {
		t.Fatalf("stale update must not write, got %s v%d", shipment.Status, shipment.Version)
	}
}

func TestApply_TerminalStatusIsNeverOverwritten(t *testing.T) {
	applier, _, _ := newTestApplier(t, core.StatusDelivered, t0)
	result, err := applier.Apply(context.Background(), ApplyRequest{
		TrackingRef: "X123",
		Status:      core.StatusOutForDelivery,
		OccurredAt:  t0.Add(time.Hour),
	})
	if err != nil || result.Outcome != OutcomeStale {
		t.Fatalf("expected stale for terminal shipment, got %s %v", result.Outcome, err)
	}
}

func TestApply_HigherStageWithOlderTimestampAdvancesAndKeepsStatusAt(t *testing.T) {
	applier, _, _ := newTestApplier(t, core.StatusInTransit, t0.Add(time.Hour))
	result, err := applier.Apply(context.Background(), ApplyRequest{
		TrackingRef: "X123",
		Status:      core.StatusOutForDelivery,
		OccurredAt:  t0,
	})
	if err != nil || result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s %v", result.Outcome, err)
	}
	if !result.Shipment.StatusAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("status time must not move backwards, got %s", result.Shipment.StatusAt)
	}
	if len(result.Shipment.History) != 1 || !result.Shipment.History[0].OccurredAt.Equal(t0) {
		t.Fatalf("expected history entry with event time, got %+v", result.Shipment.History)
	}
}

func TestApply_SameStatusSameTimestampIsStale(t *testing.T) {
	applier, _, _ := newTestApplier(t, core.StatusInTransit, t0)
	result, err := applier.Apply(context.Background(), ApplyRequest{TrackingRef: "X123", Status: core.StatusInTransit, OccurredAt: t0})
	if err != nil || result.Outcome != OutcomeStale {
		t.Fatalf("expected stale, got %s %v", result.Outcome, err)
	}
}

func TestApply_UnknownShipmentIsNotFound(t *testing.T) {
	applier, _, _ := newTestApplier(t, core.StatusInTransit, t0)
	result, err := applier.Apply(context.Background(), ApplyRequest{TrackingRef: "NOPE", Status: core.StatusDelivered, OccurredAt: t0})
	if result.Outcome != OutcomeNotFound || !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %s %v", result.Outcome, err)
	}
}

func TestApply_DeliveryFailedOpensSingleNDRAndIncrementsAttempt(t *testing.T) {
	applier, store, planner := newTestApplier(t, core.StatusOutForDelivery, t0)
	ctx := context.Background()

	first, err := applier.Apply(ctx, ApplyRequest{
		TrackingRef: "X123",
		Status:      core.StatusDeliveryFailed,
		OccurredAt:  t0.Add(time.Hour),
		Reason:      core.NDRReasonAddressIssue,
		RawReason:   "Incomplete address",
	})
	if err != nil || !first.NDRCreated || first.NDR == nil {
		t.Fatalf("expected ndr created, got %+v %v", first, err)
	}
	if first.NDR.AttemptNumber != 1 || first.NDR.Status != core.NDRStatusDetected {
		t.Fatalf("unexpected ndr %+v", first.NDR)
	}
	if !first.NDR.Deadline.Equal(t0.Add(49 * time.Hour)) {
		t.Fatalf("expected deadline detection+48h, got %s", first.NDR.Deadline)
	}
	if actions := store.NDRs.ScheduledActions(first.NDR.ID); len(actions) != 1 {
		t.Fatalf("expected scheduled actions stored with the ndr, got %d", len(actions))
	}

	second, err := applier.Apply(ctx, ApplyRequest{
		TrackingRef: "X123",
		Status:      core.StatusDeliveryFailed,
		OccurredAt:  t0.Add(2 * time.Hour),
		Reason:      core.NDRReasonAddressIssue,
	})
	if err != nil || second.Outcome != OutcomeApplied {
		t.Fatalf("second failure: %s %v", second.Outcome, err)
	}
	if second.NDRCreated || second.NDR == nil || second.NDR.ID != first.NDR.ID {
		t.Fatalf("an open ndr must be reused, got %+v", second)
	}

	closed := *first.NDR
	if err := closed.TransitionTo(core.NDRStatusResolved, "ops", "new address", t0.Add(3*time.Hour)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := store.NDRs.Update(ctx, closed); err != nil {
		t.Fatalf("update ndr: %v", err)
	}

	third, err := applier.Apply(ctx, ApplyRequest{
		TrackingRef: "X123",
		Status:      core.StatusDeliveryFailed,
		OccurredAt:  t0.Add(30 * time.Hour),
		Reason:      core.NDRReasonCustomerUnavailable,
	})
	if err != nil || !third.NDRCreated || third.NDR.AttemptNumber != 2 {
		t.Fatalf("expected new ndr with attempt 2, got %+v %v", third.NDR, err)
	}
	if planner.calls != 3 {
		t.Fatalf("expected planner called per delivery_failed write, got %d", planner.calls)
	}
}

type conflictingShipments struct {
	core.ShipmentStore
	conflicts int
	calls     int
}

func (s *conflictingShipments) UpdateStatus(ctx context.Context, update core.ShipmentStatusUpdate) (core.ShipmentStatusResult, error) {
	s.calls++
	if s.calls <= s.conflicts {
		return core.ShipmentStatusResult{}, core.ErrVersionConflict
	}
	return s.ShipmentStore.UpdateStatus(ctx, update)
}

func TestApply_RetriesVersionConflictsThenGivesUp(t *testing.T) {
	store := memstore.New()
	store.Shipments.Put(core.Shipment{ID: "shp-1", TrackingRef: "X123", Status: core.StatusInTransit, StatusAt: t0})

	recovering := &conflictingShipments{ShipmentStore: store.Shipments, conflicts: 2}
	applier := NewApplier(recovering, &stubPlanner{})
	result, err := applier.Apply(context.Background(), ApplyRequest{TrackingRef: "X123", Status: core.StatusOutForDelivery, OccurredAt: t0.Add(time.Minute)})
	if err != nil || result.Outcome != OutcomeApplied || result.Conflicts != 2 {
		t.Fatalf("expected applied after 2 conflicts, got %+v %v", result, err)
	}

	stuck := &conflictingShipments{ShipmentStore: store.Shipments, conflicts: 100}
	applier = NewApplier(stuck, &stubPlanner{})
	result, err = applier.Apply(context.Background(), ApplyRequest{TrackingRef: "X123", Status: core.StatusDelivered, OccurredAt: t0.Add(time.Hour)})
	if result.Outcome != OutcomeTransientFailure || !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("expected transient failure, got %s %v", result.Outcome, err)
	}
	if stuck.calls != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got %d", stuck.calls)
	}
}

type recordingReturns struct {
	calls int
}

func (r *recordingReturns) AdvanceOnReturned(context.Context, core.Shipment, string) error {
	r.calls++
	return nil
}

func TestApply_ReturnedAdvancesActiveReturn(t *testing.T) {
	applier, _, _ := newTestApplier(t, core.StatusInTransit, t0)
	returns := &recordingReturns{}
	applier.Returns = returns
	if _, err := applier.Apply(context.Background(), ApplyRequest{TrackingRef: "X123", Status: core.StatusReturned, OccurredAt: t0.Add(time.Hour)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if returns.calls != 1 {
		t.Fatalf("expected return advance, got %d", returns.calls)
	}
}
