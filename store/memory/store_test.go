package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newClockedStore() *Store {
	store := New()
	store.SetClock(func() time.Time { return testNow })
	return store
}

func TestAdmissionLedger_AdmitOnceUntilReleasedOrExpired(t *testing.T) {
	ledger := newClockedStore().Admissions
	ctx := context.Background()
	admission := core.Admission{CourierID: "bluedart", EventID: "evt-1", InboundEventID: "in-1", AdmittedAt: testNow, ExpiresAt: testNow.Add(time.Hour)}

	if ok, err := ledger.Admit(ctx, admission); err != nil || !ok {
		t.Fatalf("first admit: %v %v", ok, err)
	}
	if ok, _ := ledger.Admit(ctx, admission); ok {
		t.Fatalf("second admit must be rejected")
	}
	other := admission
	other.CourierID = "delhivery"
	if ok, _ := ledger.Admit(ctx, other); !ok {
		t.Fatalf("same event id from another courier is a different key")
	}

	if err := ledger.Release(ctx, "bluedart", "evt-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	readmit := admission
	readmit.InboundEventID = "in-2"
	if ok, _ := ledger.Admit(ctx, readmit); !ok {
		t.Fatalf("released admission must be admitted again")
	}
	current, _ := ledger.Get(ctx, "bluedart", "evt-1")
	if current.InboundEventID != "in-2" || current.State != core.AdmissionStateAdmitted {
		t.Fatalf("unexpected admission %+v", current)
	}

	expired := admission
	expired.AdmittedAt = testNow.Add(2 * time.Hour)
	expired.ExpiresAt = testNow.Add(3 * time.Hour)
	if ok, _ := ledger.Admit(ctx, expired); !ok {
		t.Fatalf("expired admission must be admitted again")
	}
	if purged, _ := ledger.PurgeExpired(ctx, testNow.Add(4*time.Hour), 0); purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}
}

func TestInboundEvents_ClaimDueHonoursLeaseAndSchedule(t *testing.T) {
	store := newClockedStore()
	ctx := context.Background()
	due := testNow.Add(-time.Minute)
	later := testNow.Add(time.Hour)
	for _, event := range []core.InboundEvent{
		{ID: "due", Status: core.InboundStatusFailed, NextAttemptAt: &due},
		{ID: "later", Status: core.InboundStatusFailed, NextAttemptAt: &later},
		{ID: "applied", Status: core.InboundStatusApplied, NextAttemptAt: &due},
	} {
		if _, err := store.InboundEvents.Create(ctx, event); err != nil {
			t.Fatalf("create %s: %v", event.ID, err)
		}
	}

	claimed, err := store.InboundEvents.ClaimDue(ctx, testNow, time.Minute, 10)
	if err != nil || len(claimed) != 1 || claimed[0].ID != "due" {
		t.Fatalf("expected only the due event, got %+v %v", claimed, err)
	}
	if again, _ := store.InboundEvents.ClaimDue(ctx, testNow, time.Minute, 10); len(again) != 0 {
		t.Fatalf("claimed event must not be claimed twice within the lease")
	}
	if again, _ := store.InboundEvents.ClaimDue(ctx, testNow.Add(2*time.Minute), time.Minute, 10); len(again) != 1 {
		t.Fatalf("expired lease must be claimable again")
	}
	if err := store.InboundEvents.ReleaseClaim(ctx, "due"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if again, _ := store.InboundEvents.ClaimDue(ctx, testNow, time.Minute, 10); len(again) != 1 {
		t.Fatalf("released event must be claimable")
	}
}

func TestShipments_UpdateStatusOpensSingleNDR(t *testing.T) {
	store := newClockedStore()
	ctx := context.Background()
	store.Shipments.Put(core.Shipment{ID: "shp-1", TrackingRef: "X123", Status: core.StatusOutForDelivery})

	shipment, _ := store.Shipments.GetByTrackingRef(ctx, "X123")
	open := &core.NDROpenRequest{
		Reason:     core.NDRReasonAddressIssue,
		DetectedAt: testNow,
		Deadline:   testNow.Add(48 * time.Hour),
		Actions:    []core.ScheduledAction{{Sequence: 1, ActionType: core.ActionNotifyWhatsApp, DueAt: testNow.Add(time.Hour)}},
	}
	first, err := store.Shipments.UpdateStatus(ctx, core.ShipmentStatusUpdate{
		ShipmentID: shipment.ID, ExpectedVersion: shipment.Version, Status: core.StatusDeliveryFailed, StatusAt: testNow, NDR: open,
	})
	if err != nil || !first.NDRCreated {
		t.Fatalf("expected ndr to be created, got %+v %v", first, err)
	}
	if _, err := store.Shipments.UpdateStatus(ctx, core.ShipmentStatusUpdate{
		ShipmentID: shipment.ID, ExpectedVersion: shipment.Version, Status: core.StatusDeliveryFailed, StatusAt: testNow, NDR: open,
	}); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	second, err := store.Shipments.UpdateStatus(ctx, core.ShipmentStatusUpdate{
		ShipmentID: shipment.ID, ExpectedVersion: first.Shipment.Version, Status: core.StatusDeliveryFailed, StatusAt: testNow, NDR: open,
	})
	if err != nil || second.NDRCreated || second.NDR.ID != first.NDR.ID {
		t.Fatalf("open ndr must be reused, got %+v %v", second, err)
	}
	if actions := store.NDRs.ScheduledActions(first.NDR.ID); len(actions) != 1 || actions[0].Status != core.ScheduledActionScheduled {
		t.Fatalf("unexpected scheduled actions %+v", actions)
	}
}

func TestRTOs_FinancialsAreImmutableOnceSet(t *testing.T) {
	store := newClockedStore()
	ctx := context.Background()
	created, err := store.RTOs.Create(ctx, core.RTOEvent{ShipmentID: "shp-1", NDRID: "ndr-1", Status: core.RTOStatusQCPending})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.RTOs.Create(ctx, core.RTOEvent{ShipmentID: "shp-1", NDRID: "ndr-1"}); !errors.Is(err, core.ErrRTOAlreadyExists) {
		t.Fatalf("expected one rto per ndr, got %v", err)
	}
	created.Financials = &core.FinancialSummary{ReturnShippingCost: 100, Currency: "INR"}
	updated, err := store.RTOs.Update(ctx, created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	updated.Financials = &core.FinancialSummary{ReturnShippingCost: 1, Currency: "INR"}
	if _, err := store.RTOs.Update(ctx, updated); !errors.Is(err, core.ErrFinancialSummaryImmutable) {
		t.Fatalf("expected immutable financials, got %v", err)
	}
	if _, err := store.RTOs.Update(ctx, created); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}
