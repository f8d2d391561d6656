package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeStale            Outcome = "stale"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeTransientFailure Outcome = "transient_failure"
)

const defaultConflictRetries = 3

type ApplyRequest struct {
	TrackingRef   string
	Status        core.CanonicalStatus
	OccurredAt    time.Time
	CourierID     string
	CourierStatus string
	EventID       string
	Reason        core.NDRReason
	RawReason     string
	Permanent     bool
}

type ApplyResult struct {
	Outcome    Outcome
	Shipment   core.Shipment
	NDR        *core.NDREvent
	NDRCreated bool
	Conflicts  int
}

// NDRPlanner builds the NDR that opens together with a delivery_failed status.
type NDRPlanner interface {
	Plan(ctx context.Context, shipment core.Shipment, reason core.NDRReason, rawReason string, permanent bool, detectedAt time.Time) (core.NDROpenRequest, error)
}

// ReturnAdvancer moves an active return forward when the courier reports it delivered back.
type ReturnAdvancer interface {
	AdvanceOnReturned(ctx context.Context, shipment core.Shipment, actor string) error
}

// Applier is the only writer of canonical shipment status.
type Applier struct {
	Shipments          core.ShipmentStore
	Planner            NDRPlanner
	Returns            ReturnAdvancer
	MaxConflictRetries int
	Observer           core.Observer
	Now                func() time.Time
}

func NewApplier(shipments core.ShipmentStore, planner NDRPlanner) *Applier {
	return &Applier{
		Shipments:          shipments,
		Planner:            planner,
		MaxConflictRetries: defaultConflictRetries,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Apply commits req against the shipment if it is forward progress. Errors
// accompany NotFound and TransientFailure outcomes.
func (a *Applier) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	if a == nil || a.Shipments == nil {
		return ApplyResult{Outcome: OutcomeTransientFailure}, fmt.Errorf("reconcile: applier is not configured")
	}
	req.TrackingRef = strings.TrimSpace(req.TrackingRef)
	if req.TrackingRef == "" {
		return ApplyResult{Outcome: OutcomeNotFound}, fmt.Errorf("reconcile: tracking ref is required: %w", core.ErrNotFound)
	}
	if !req.Status.Valid() {
		return ApplyResult{}, fmt.Errorf("reconcile: %w: %q", core.ErrUnknownCanonicalStatus, req.Status)
	}

	conflicts := 0
	for {
		if err := ctx.Err(); err != nil {
			return ApplyResult{Outcome: OutcomeTransientFailure, Conflicts: conflicts}, fmt.Errorf("reconcile: %w", err)
		}
		shipment, err := a.Shipments.GetByTrackingRef(ctx, req.TrackingRef)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return ApplyResult{Outcome: OutcomeNotFound, Conflicts: conflicts}, err
			}
			return ApplyResult{Outcome: OutcomeTransientFailure, Conflicts: conflicts}, fmt.Errorf("reconcile: load shipment: %w", err)
		}
		if IsStale(shipment, req.Status, req.OccurredAt) {
			return ApplyResult{Outcome: OutcomeStale, Shipment: shipment, Conflicts: conflicts}, nil
		}

		update, err := a.buildUpdate(ctx, shipment, req)
		if err != nil {
			return ApplyResult{Outcome: OutcomeTransientFailure, Conflicts: conflicts}, err
		}
		committed, err := a.Shipments.UpdateStatus(ctx, update)
		if errors.Is(err, core.ErrVersionConflict) {
			conflicts++
			if conflicts > a.maxConflictRetries() {
				return ApplyResult{Outcome: OutcomeTransientFailure, Conflicts: conflicts},
					fmt.Errorf("reconcile: shipment %s: %w after %d attempts", req.TrackingRef, core.ErrVersionConflict, conflicts)
			}
			continue
		}
		if err != nil {
			return ApplyResult{Outcome: OutcomeTransientFailure, Conflicts: conflicts}, fmt.Errorf("reconcile: update status: %w", err)
		}

		result := ApplyResult{
			Outcome:    OutcomeApplied,
			Shipment:   committed.Shipment,
			NDR:        committed.NDR,
			NDRCreated: committed.NDRCreated,
			Conflicts:  conflicts,
		}
		a.afterCommit(ctx, result, req)
		return result, nil
	}
}

func (a *Applier) buildUpdate(ctx context.Context, shipment core.Shipment, req ApplyRequest) (core.ShipmentStatusUpdate, error) {
	now := a.now()
	occurredAt := req.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	statusAt := occurredAt
	if shipment.StatusAt.After(statusAt) {
		statusAt = shipment.StatusAt
	}
	update := core.ShipmentStatusUpdate{
		ShipmentID:      shipment.ID,
		ExpectedVersion: shipment.Version,
		Status:          req.Status,
		StatusAt:        statusAt,
		History: core.StatusHistoryEntry{
			Status:        req.Status,
			CourierID:     req.CourierID,
			CourierStatus: req.CourierStatus,
			EventID:       req.EventID,
			OccurredAt:    occurredAt,
			AppliedAt:     now,
		},
		UpdatedAt: now,
	}
	if req.Status != core.StatusDeliveryFailed {
		return update, nil
	}
	if a.Planner == nil {
		return core.ShipmentStatusUpdate{}, fmt.Errorf("reconcile: ndr planner is not configured")
	}
	reason := req.Reason
	if reason == "" {
		reason = core.NDRReasonOther
	}
	plan, err := a.Planner.Plan(ctx, shipment, reason, req.RawReason, req.Permanent, occurredAt)
	if err != nil {
		return core.ShipmentStatusUpdate{}, fmt.Errorf("reconcile: plan ndr: %w", err)
	}
	update.NDR = &plan
	return update, nil
}

func (a *Applier) afterCommit(ctx context.Context, result ApplyResult, req ApplyRequest) {
	fields := map[string]any{
		"tracking_ref": req.TrackingRef,
		"status":       string(req.Status),
		"courier_id":   req.CourierID,
		"event_id":     req.EventID,
	}
	if result.NDRCreated && result.NDR != nil {
		fields["ndr_id"] = result.NDR.ID
		fields["attempt_number"] = result.NDR.AttemptNumber
		a.Observer.Counter(ctx, core.MetricNDROpened, 1, map[string]string{"reason": string(result.NDR.Reason)})
		a.Observer.Info(ctx, "reconcile: ndr opened", fields)
	}
	if req.Status == core.StatusReturned && a.Returns != nil {
		if err := a.Returns.AdvanceOnReturned(ctx, result.Shipment, "courier:"+req.CourierID); err != nil && !errors.Is(err, core.ErrNotFound) {
			fields["error"] = err.Error()
			a.Observer.Warn(ctx, "reconcile: advance rto on returned failed", fields)
		}
	}
}

// IsStale reports whether status at occurredAt must not overwrite the shipment:
// terminal statuses are final, and an update that is neither newer nor a
// later stage is an out-of-order arrival.
func IsStale(shipment core.Shipment, status core.CanonicalStatus, occurredAt time.Time) bool {
	if shipment.Status.Terminal() {
		return true
	}
	if shipment.Status == "" || shipment.StatusAt.IsZero() {
		return false
	}
	if occurredAt.After(shipment.StatusAt) {
		return false
	}
	return status.Rank() <= shipment.Status.Rank()
}

func (a *Applier) maxConflictRetries() int {
	if a != nil && a.MaxConflictRetries > 0 {
		return a.MaxConflictRetries
	}
	return defaultConflictRetries
}

func (a *Applier) now() time.Time {
	if a != nil && a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}
