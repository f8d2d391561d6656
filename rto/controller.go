// Package rto drives a return-to-origin from initiation to disposition.
package rto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

const defaultConflictRetries = 3

type InitiateRequest struct {
	ShipmentID  string
	TrackingRef string
	Actor       string
	Reason      string
}

// NewFromNDR builds the initiated RTO for an NDR closed by an RTO trigger.
func NewFromNDR(ndr core.NDREvent, actor string, reason string, now time.Time) core.RTOEvent {
	return newEvent(ndr.ShipmentID, ndr.TrackingRef, ndr.ID, actor, reason, now)
}

func newEvent(shipmentID, trackingRef, ndrID, actor, reason string, now time.Time) core.RTOEvent {
	actor = strings.TrimSpace(actor)
	reason = strings.TrimSpace(reason)
	return core.RTOEvent{
		ShipmentID:  strings.TrimSpace(shipmentID),
		TrackingRef: strings.TrimSpace(trackingRef),
		NDRID:       strings.TrimSpace(ndrID),
		Status:      core.RTOStatusInitiated,
		InitiatedBy: actor,
		Reason:      reason,
		Transitions: []core.RTOTransition{{
			To:    core.RTOStatusInitiated,
			Actor: actor,
			Note:  reason,
			At:    now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type Controller struct {
	RTOs               core.RTOStore
	MaxConflictRetries int
	Observer           core.Observer
	Now                func() time.Time
}

func NewController(store core.RTOStore) *Controller {
	return &Controller{
		RTOs:               store,
		MaxConflictRetries: defaultConflictRetries,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Initiate opens an operator RTO for a shipment that has no active return.
func (c *Controller) Initiate(ctx context.Context, req InitiateRequest) (core.RTOEvent, error) {
	if c == nil || c.RTOs == nil {
		return core.RTOEvent{}, fmt.Errorf("rto: controller is not configured")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return core.RTOEvent{}, core.ErrActorRequired
	}
	if strings.TrimSpace(req.Reason) == "" {
		return core.RTOEvent{}, core.ErrReasonRequired
	}
	if strings.TrimSpace(req.ShipmentID) == "" {
		return core.RTOEvent{}, fmt.Errorf("rto: shipment id is required")
	}
	if _, err := c.RTOs.GetActiveByShipment(ctx, strings.TrimSpace(req.ShipmentID)); err == nil {
		return core.RTOEvent{}, fmt.Errorf("rto: shipment %s: %w", req.ShipmentID, core.ErrRTOAlreadyExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.RTOEvent{}, err
	}
	created, err := c.RTOs.Create(ctx, newEvent(req.ShipmentID, req.TrackingRef, "", req.Actor, req.Reason, c.now()))
	if err != nil {
		return core.RTOEvent{}, err
	}
	c.recordTransition(ctx, created, core.RTOStatusInitiated, req.Actor)
	return created, nil
}

func (c *Controller) MarkInTransit(ctx context.Context, id string, actor string, note string) (core.RTOEvent, error) {
	return c.advance(ctx, id, actor, core.RTOStatusInTransitReturn, func(event *core.RTOEvent) error {
		return event.Advance(core.RTOStatusInTransitReturn, actor, note, c.now())
	})
}

func (c *Controller) MarkReceived(ctx context.Context, id string, actor string, note string) (core.RTOEvent, error) {
	return c.advance(ctx, id, actor, core.RTOStatusQCPending, func(event *core.RTOEvent) error {
		return event.Advance(core.RTOStatusQCPending, actor, note, c.now())
	})
}

// CompleteQC records the inspection result and the financial summary,
// which cannot change afterwards.
func (c *Controller) CompleteQC(
	ctx context.Context,
	id string,
	actor string,
	result core.QCResult,
	financials core.FinancialSummary,
) (core.RTOEvent, error) {
	if !result.Valid() {
		return core.RTOEvent{}, fmt.Errorf("rto: qc result %q is invalid", result)
	}
	if financials.ReturnShippingCost < 0 || financials.WriteOffAmount < 0 {
		return core.RTOEvent{}, fmt.Errorf("rto: financial amounts must not be negative")
	}
	financials.Currency = strings.ToUpper(strings.TrimSpace(financials.Currency))
	return c.advance(ctx, id, actor, core.RTOStatusQCComplete, func(event *core.RTOEvent) error {
		if event.Financials != nil {
			return core.ErrFinancialSummaryImmutable
		}
		if err := event.Advance(core.RTOStatusQCComplete, actor, string(result), c.now()); err != nil {
			return err
		}
		summary := financials
		event.QCResult = result
		event.Financials = &summary
		return nil
	})
}

func (c *Controller) Dispose(ctx context.Context, id string, actor string, disposition core.Disposition) (core.RTOEvent, error) {
	return c.advance(ctx, id, actor, core.RTOStatusDisposed, func(event *core.RTOEvent) error {
		if event.Status != core.RTOStatusQCComplete {
			return fmt.Errorf("%w: %s -> %s", core.ErrInvalidRTOStatusTransition, event.Status, core.RTOStatusDisposed)
		}
		if err := core.ValidateDisposition(event.QCResult, disposition); err != nil {
			return err
		}
		if err := event.Advance(core.RTOStatusDisposed, actor, string(disposition), c.now()); err != nil {
			return err
		}
		event.Disposition = disposition
		return nil
	})
}

// AdvanceOnReturned moves the shipment's active RTO to qc_pending once the
// courier reports the parcel back at origin.
func (c *Controller) AdvanceOnReturned(ctx context.Context, shipment core.Shipment, actor string) error {
	if c == nil || c.RTOs == nil {
		return fmt.Errorf("rto: controller is not configured")
	}
	active, err := c.RTOs.GetActiveByShipment(ctx, shipment.ID)
	if err != nil {
		return err
	}
	if active.Status != core.RTOStatusInitiated && active.Status != core.RTOStatusInTransitReturn {
		return nil
	}
	_, err = c.advance(ctx, active.ID, actor, core.RTOStatusQCPending, func(event *core.RTOEvent) error {
		now := c.now()
		if event.Status == core.RTOStatusInitiated {
			if err := event.Advance(core.RTOStatusInTransitReturn, actor, "courier reported returned", now); err != nil {
				return err
			}
		}
		return event.Advance(core.RTOStatusQCPending, actor, "courier reported returned", now)
	})
	return err
}

func (c *Controller) Get(ctx context.Context, id string) (core.RTOEvent, error) {
	if c == nil || c.RTOs == nil {
		return core.RTOEvent{}, fmt.Errorf("rto: controller is not configured")
	}
	return c.RTOs.Get(ctx, strings.TrimSpace(id))
}

func (c *Controller) List(ctx context.Context, filter core.RTOFilter) ([]core.RTOEvent, int, error) {
	if c == nil || c.RTOs == nil {
		return nil, 0, fmt.Errorf("rto: controller is not configured")
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return c.RTOs.List(ctx, filter)
}

func (c *Controller) advance(
	ctx context.Context,
	id string,
	actor string,
	to core.RTOStatus,
	mutate func(event *core.RTOEvent) error,
) (core.RTOEvent, error) {
	if c == nil || c.RTOs == nil {
		return core.RTOEvent{}, fmt.Errorf("rto: controller is not configured")
	}
	if strings.TrimSpace(actor) == "" {
		return core.RTOEvent{}, core.ErrActorRequired
	}
	id = strings.TrimSpace(id)
	for attempt := 0; ; attempt++ {
		event, err := c.RTOs.Get(ctx, id)
		if err != nil {
			return core.RTOEvent{}, err
		}
		if err := mutate(&event); err != nil {
			return core.RTOEvent{}, err
		}
		updated, err := c.RTOs.Update(ctx, event)
		if errors.Is(err, core.ErrVersionConflict) && attempt < c.maxConflictRetries() {
			continue
		}
		if err != nil {
			return core.RTOEvent{}, err
		}
		c.recordTransition(ctx, updated, to, actor)
		return updated, nil
	}
}

func (c *Controller) recordTransition(ctx context.Context, event core.RTOEvent, to core.RTOStatus, actor string) {
	c.Observer.Counter(ctx, core.MetricRTOTransitions, 1, map[string]string{"status": string(to)})
	c.Observer.Info(ctx, "rto: transition recorded", map[string]any{
		"rto_id":       event.ID,
		"shipment_id":  event.ShipmentID,
		"tracking_ref": event.TrackingRef,
		"status":       string(to),
		"actor":        strings.TrimSpace(actor),
	})
}

func (c *Controller) maxConflictRetries() int {
	if c != nil && c.MaxConflictRetries > 0 {
		return c.MaxConflictRetries
	}
	return defaultConflictRetries
}

func (c *Controller) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}
