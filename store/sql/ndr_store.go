package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const ndrColumns = `
	id,
	shipment_id,
	tracking_ref,
	company_id,
	attempt_number,
	reason,
	raw_reason,
	permanent,
	detected_at,
	deadline,
	status,
	actions,
	customer_contacted,
	closed_at,
	closed_by,
	close_reason,
	annotations,
	version,
	sweep_claimed_until,
	created_at,
	updated_at`

const scheduledActionColumns = `
	id,
	ndr_id,
	sequence,
	action_type,
	channel,
	auto_execute,
	due_at,
	status,
	claimed_until,
	attempts,
	last_error,
	created_at,
	updated_at`

type NDRStore struct {
	db   *bun.DB
	repo repository.Repository[*ndrRecord]
}

func NewNDRStore(db *bun.DB) (*NDRStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*ndrRecord](db, ndrHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid ndr repository wiring: %w", err)
		}
	}
	return &NDRStore{db: db, repo: repo}, nil
}

func (s *NDRStore) Get(ctx context.Context, id string) (core.NDREvent, error) {
	if s == nil || s.db == nil {
		return core.NDREvent{}, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	record := &ndrRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return core.NDREvent{}, fmt.Errorf("sqlstore: ndr %q: %w", id, core.ErrNotFound)
		}
		return core.NDREvent{}, err
	}
	return record.toDomain(), nil
}

func (s *NDRStore) GetOpenByShipment(ctx context.Context, shipmentID string) (core.NDREvent, error) {
	if s == nil || s.db == nil {
		return core.NDREvent{}, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	record, found, err := findOpenNDR(ctx, s.db, strings.TrimSpace(shipmentID))
	if err != nil {
		return core.NDREvent{}, err
	}
	if !found {
		return core.NDREvent{}, fmt.Errorf("sqlstore: open ndr for %q: %w", shipmentID, core.ErrNotFound)
	}
	return record.toDomain(), nil
}

func (s *NDRStore) List(ctx context.Context, filter core.NDRFilter) ([]core.NDREvent, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("detected_at DESC"),
		repository.OrderBy("attempt_number DESC"),
		repository.SelectPaginate(limit, filter.Offset),
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if value := strings.TrimSpace(filter.ShipmentID); value != "" {
		selectors = append(selectors, repository.SelectBy("shipment_id", "=", value))
	}
	if value := strings.TrimSpace(filter.TrackingRef); value != "" {
		selectors = append(selectors, repository.SelectBy("tracking_ref", "=", value))
	}
	if value := strings.TrimSpace(filter.CompanyID); value != "" {
		selectors = append(selectors, repository.SelectBy("company_id", "=", value))
	}
	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}
	out := make([]core.NDREvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}

func (s *NDRStore) Update(ctx context.Context, event core.NDREvent) (core.NDREvent, error) {
	if s == nil || s.db == nil {
		return core.NDREvent{}, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	if err := updateNDR(ctx, s.db, &event); err != nil {
		return core.NDREvent{}, err
	}
	return s.Get(ctx, event.ID)
}

// updateNDR writes event when the stored version still matches and bumps
// the version on success.
func updateNDR(ctx context.Context, db bun.IDB, event *core.NDREvent) error {
	event.ID = strings.TrimSpace(event.ID)
	expected := event.Version
	record := newNDRRecord(*event)
	record.Version = expected + 1
	record.UpdatedAt = time.Now().UTC()
	result, err := db.NewUpdate().
		Model(record).
		ExcludeColumn("created_at", "sweep_claimed_until").
		Where("id = ?", record.ID).
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		var exists int
		countErr := db.NewSelect().
			Model((*ndrRecord)(nil)).
			ColumnExpr("COUNT(*)").
			Where("id = ?", record.ID).
			Scan(ctx, &exists)
		if countErr != nil {
			return countErr
		}
		if exists == 0 {
			return fmt.Errorf("sqlstore: ndr %q: %w", record.ID, core.ErrNotFound)
		}
		return core.ErrVersionConflict
	}
	event.Version = record.Version
	if event.Status.Terminal() {
		_, err := db.NewUpdate().
			Model((*ndrRecord)(nil)).
			Set("sweep_claimed_until = NULL").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	}
	return nil
}

// ClaimDueActions leases scheduled actions whose due time has passed, plus
// claimed actions whose lease lapsed.
func (s *NDRStore) ClaimDueActions(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]core.ScheduledAction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now = now.UTC()
	scheduled := string(core.ScheduledActionScheduled)
	claimed := string(core.ScheduledActionClaimed)
	var records []scheduledActionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH due AS (
	SELECT id
	FROM courier_ndr_actions
	WHERE due_at <= ?
	  AND (status = ? OR (status = ? AND claimed_until <= ?))
	ORDER BY due_at ASC, sequence ASC
	LIMIT ?
)
UPDATE courier_ndr_actions
SET status = ?, claimed_until = ?, attempts = attempts + 1, updated_at = ?
WHERE id IN (SELECT id FROM due)
  AND (status = ? OR (status = ? AND claimed_until <= ?))
RETURNING` + scheduledActionColumns
		return tx.NewRaw(
			query,
			now,
			scheduled,
			claimed,
			now,
			limit,
			claimed,
			now.Add(lease),
			now,
			scheduled,
			claimed,
			now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.ScheduledAction, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *NDRStore) CompleteAction(ctx context.Context, action core.ScheduledAction, status core.ScheduledActionStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: ndr store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*scheduledActionRecord)(nil)).
		Set("status = ?", string(status)).
		Set("claimed_until = NULL").
		Set("last_error = ?", action.LastError).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(action.ID)).
		Where("status = ?", string(core.ScheduledActionClaimed)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.ErrClaimLost
	}
	return nil
}

func (s *NDRStore) CancelPendingActions(ctx context.Context, ndrID string, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	return cancelPendingActions(ctx, s.db, strings.TrimSpace(ndrID), now)
}

func cancelPendingActions(ctx context.Context, db bun.IDB, ndrID string, now time.Time) (int, error) {
	result, err := db.NewUpdate().
		Model((*scheduledActionRecord)(nil)).
		Set("status = ?", string(core.ScheduledActionCancelled)).
		Set("claimed_until = NULL").
		Set("updated_at = ?", now.UTC()).
		Where("ndr_id = ?", ndrID).
		Where("status IN (?)", bun.In([]string{
			string(core.ScheduledActionScheduled),
			string(core.ScheduledActionClaimed),
		})).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// ScheduledActions lists the action queue of one NDR in sequence order.
func (s *NDRStore) ScheduledActions(ctx context.Context, ndrID string) ([]core.ScheduledAction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	var records []scheduledActionRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.ndr_id = ?", strings.TrimSpace(ndrID)).
		OrderExpr("?TableAlias.sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.ScheduledAction, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

// ClaimOverdue leases open NDRs past their deadline for the deadline sweep.
func (s *NDRStore) ClaimOverdue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]core.NDREvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now = now.UTC()
	var records []ndrRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH overdue AS (
	SELECT id
	FROM courier_ndr_events
	WHERE status IN (?)
	  AND deadline <= ?
	  AND (sweep_claimed_until IS NULL OR sweep_claimed_until <= ?)
	ORDER BY deadline ASC
	LIMIT ?
)
UPDATE courier_ndr_events
SET sweep_claimed_until = ?
WHERE id IN (SELECT id FROM overdue)
  AND (sweep_claimed_until IS NULL OR sweep_claimed_until <= ?)
RETURNING` + ndrColumns
		return tx.NewRaw(
			query,
			bun.In(openNDRStatuses()),
			now,
			now,
			limit,
			now.Add(lease),
			now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.NDREvent, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

// CloseWithRTO persists the terminal NDR, cancels its remaining actions and
// inserts the RTO in one transaction. When the shipment already has an
// active return, that return is linked to the NDR and returned instead.
// Unique indexes keep one return per NDR and one active return per shipment.
func (s *NDRStore) CloseWithRTO(ctx context.Context, event core.NDREvent, rto core.RTOEvent) (core.NDREvent, core.RTOEvent, error) {
	if s == nil || s.db == nil {
		return core.NDREvent{}, core.RTOEvent{}, fmt.Errorf("sqlstore: ndr store is not configured")
	}
	var created core.RTOEvent
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := updateNDR(ctx, tx, &event); err != nil {
			return err
		}
		now := time.Now().UTC()
		if _, err := cancelPendingActions(ctx, tx, event.ID, now); err != nil {
			return err
		}
		active, err := findActiveRTO(ctx, tx, rto.ShipmentID)
		switch {
		case err == nil:
			if err := linkRTO(ctx, tx, active, event.ID, now); err != nil {
				return err
			}
			created = active.toDomain()
			return nil
		case !errors.Is(err, core.ErrNotFound):
			return err
		}
		inserted, err := insertRTO(ctx, tx, rto, now)
		if err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrRTOAlreadyExists) || errors.Is(err, core.ErrVersionConflict) || errors.Is(err, core.ErrNotFound) {
			return core.NDREvent{}, core.RTOEvent{}, err
		}
		return core.NDREvent{}, core.RTOEvent{}, fmt.Errorf("sqlstore: close ndr with rto: %w", err)
	}
	closed, err := s.Get(ctx, event.ID)
	if err != nil {
		return core.NDREvent{}, core.RTOEvent{}, err
	}
	return closed, created, nil
}
