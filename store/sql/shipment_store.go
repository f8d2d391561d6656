package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ShipmentStore writes canonical status for shipments owned by the order
// collaborator. Opening an NDR happens in the same transaction as the
// delivery_failed write.
type ShipmentStore struct {
	db *bun.DB
}

func NewShipmentStore(db *bun.DB) (*ShipmentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ShipmentStore{db: db}, nil
}

// Upsert registers a shipment. Intended for the order collaborator and for seeding.
func (s *ShipmentStore) Upsert(ctx context.Context, shipment core.Shipment) (core.Shipment, error) {
	if s == nil || s.db == nil {
		return core.Shipment{}, fmt.Errorf("sqlstore: shipment store is not configured")
	}
	if strings.TrimSpace(shipment.TrackingRef) == "" {
		return core.Shipment{}, fmt.Errorf("sqlstore: shipment tracking ref is required")
	}
	if strings.TrimSpace(shipment.ID) == "" {
		shipment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if shipment.CreatedAt.IsZero() {
		shipment.CreatedAt = now
	}
	shipment.UpdatedAt = now
	record := newShipmentRecord(shipment)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("tracking_ref = EXCLUDED.tracking_ref").
		Set("company_id = EXCLUDED.company_id").
		Set("status = EXCLUDED.status").
		Set("status_at = EXCLUDED.status_at").
		Set("version = courier_shipments.version + 1").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.Shipment{}, err
	}
	return s.GetByTrackingRef(ctx, shipment.TrackingRef)
}

func (s *ShipmentStore) GetByTrackingRef(ctx context.Context, trackingRef string) (core.Shipment, error) {
	if s == nil || s.db == nil {
		return core.Shipment{}, fmt.Errorf("sqlstore: shipment store is not configured")
	}
	record, err := findShipment(ctx, s.db, "tracking_ref", strings.TrimSpace(trackingRef))
	if err != nil {
		return core.Shipment{}, err
	}
	return record.toDomain(), nil
}

func (s *ShipmentStore) UpdateStatus(ctx context.Context, update core.ShipmentStatusUpdate) (core.ShipmentStatusResult, error) {
	if s == nil || s.db == nil {
		return core.ShipmentStatusResult{}, fmt.Errorf("sqlstore: shipment store is not configured")
	}
	var result core.ShipmentStatusResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := findShipment(ctx, tx, "id", strings.TrimSpace(update.ShipmentID))
		if err != nil {
			return err
		}
		if current.Version != update.ExpectedVersion {
			return core.ErrVersionConflict
		}

		now := update.UpdatedAt.UTC()
		if now.IsZero() {
			now = time.Now().UTC()
		}
		shipment := current.toDomain()
		shipment.Status = update.Status
		shipment.StatusAt = update.StatusAt
		shipment.History = append(shipment.History, update.History)
		shipment.Version = current.Version + 1
		shipment.UpdatedAt = now
		record := newShipmentRecord(shipment)

		res, err := tx.NewUpdate().
			Model(record).
			Column("status", "status_at", "history", "version", "updated_at").
			Where("id = ?", record.ID).
			Where("version = ?", update.ExpectedVersion).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return core.ErrVersionConflict
		}
		result.Shipment = record.toDomain()

		if update.NDR == nil {
			return nil
		}
		open, found, err := findOpenNDR(ctx, tx, shipment.ID)
		if err != nil {
			return err
		}
		if found {
			event := open.toDomain()
			result.NDR = &event
			return nil
		}
		created, err := insertNDR(ctx, tx, shipment, *update.NDR, now)
		if err != nil {
			if isUniqueViolation(err) {
				// Another writer opened the NDR first; the caller re-reads.
				return core.ErrVersionConflict
			}
			return err
		}
		result.NDR = &created
		result.NDRCreated = true
		return nil
	})
	if err != nil {
		return core.ShipmentStatusResult{}, err
	}
	return result, nil
}

func findShipment(ctx context.Context, db bun.IDB, column string, value string) (*shipmentRecord, error) {
	record := &shipmentRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("sqlstore: shipment %s %q: %w", column, value, core.ErrNotFound)
		}
		return nil, err
	}
	return record, nil
}

func findOpenNDR(ctx context.Context, db bun.IDB, shipmentID string) (*ndrRecord, bool, error) {
	record := &ndrRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.shipment_id = ?", shipmentID).
		Where("?TableAlias.status IN (?)", bun.In(openNDRStatuses())).
		OrderExpr("?TableAlias.attempt_number DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return record, true, nil
}

func insertNDR(
	ctx context.Context,
	tx bun.Tx,
	shipment core.Shipment,
	req core.NDROpenRequest,
	now time.Time,
) (core.NDREvent, error) {
	var lastAttempt int
	if err := tx.NewSelect().
		Model((*ndrRecord)(nil)).
		ColumnExpr("COALESCE(MAX(attempt_number), 0)").
		Where("shipment_id = ?", shipment.ID).
		Scan(ctx, &lastAttempt); err != nil {
		return core.NDREvent{}, err
	}
	event := core.NDREvent{
		ID:            uuid.NewString(),
		ShipmentID:    shipment.ID,
		TrackingRef:   shipment.TrackingRef,
		CompanyID:     shipment.CompanyID,
		AttemptNumber: lastAttempt + 1,
		Reason:        req.Reason,
		RawReason:     req.RawReason,
		Permanent:     req.Permanent,
		DetectedAt:    req.DetectedAt.UTC(),
		Deadline:      req.Deadline.UTC(),
		Status:        core.NDRStatusDetected,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := tx.NewInsert().Model(newNDRRecord(event)).Exec(ctx); err != nil {
		return core.NDREvent{}, err
	}
	if len(req.Actions) == 0 {
		return event, nil
	}
	actions := make([]*scheduledActionRecord, 0, len(req.Actions))
	for _, action := range req.Actions {
		action.ID = uuid.NewString()
		action.NDRID = event.ID
		action.Status = core.ScheduledActionScheduled
		action.Attempts = 0
		action.CreatedAt = now
		action.UpdatedAt = now
		actions = append(actions, newScheduledActionRecord(action))
	}
	if _, err := tx.NewInsert().Model(&actions).Exec(ctx); err != nil {
		return core.NDREvent{}, err
	}
	return event, nil
}

func openNDRStatuses() []string {
	open := core.OpenNDRStatuses()
	out := make([]string, 0, len(open))
	for _, status := range open {
		out = append(out, string(status))
	}
	return out
}
