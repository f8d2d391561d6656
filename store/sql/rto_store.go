package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RTOStore struct {
	db   *bun.DB
	repo repository.Repository[*rtoRecord]
}

func NewRTOStore(db *bun.DB) (*RTOStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rtoRecord](db, rtoHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rto repository wiring: %w", err)
		}
	}
	return &RTOStore{db: db, repo: repo}, nil
}

func (s *RTOStore) Create(ctx context.Context, event core.RTOEvent) (core.RTOEvent, error) {
	if s == nil || s.db == nil {
		return core.RTOEvent{}, fmt.Errorf("sqlstore: rto store is not configured")
	}
	return insertRTO(ctx, s.db, event, time.Now().UTC())
}

func insertRTO(ctx context.Context, db bun.IDB, event core.RTOEvent, now time.Time) (core.RTOEvent, error) {
	if strings.TrimSpace(event.ShipmentID) == "" {
		return core.RTOEvent{}, fmt.Errorf("sqlstore: rto shipment id is required")
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	event.Version = 1
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	record := newRTORecord(event)
	if _, err := db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.RTOEvent{}, fmt.Errorf("sqlstore: rto for shipment %q: %w", event.ShipmentID, core.ErrRTOAlreadyExists)
		}
		return core.RTOEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *RTOStore) Get(ctx context.Context, id string) (core.RTOEvent, error) {
	if s == nil || s.db == nil {
		return core.RTOEvent{}, fmt.Errorf("sqlstore: rto store is not configured")
	}
	record, err := findRTO(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return core.RTOEvent{}, err
	}
	return record.toDomain(), nil
}

func findRTO(ctx context.Context, db bun.IDB, id string) (*rtoRecord, error) {
	record := &rtoRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("sqlstore: rto %q: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return record, nil
}

func (s *RTOStore) GetActiveByShipment(ctx context.Context, shipmentID string) (core.RTOEvent, error) {
	if s == nil || s.db == nil {
		return core.RTOEvent{}, fmt.Errorf("sqlstore: rto store is not configured")
	}
	record, err := findActiveRTO(ctx, s.db, shipmentID)
	if err != nil {
		return core.RTOEvent{}, err
	}
	return record.toDomain(), nil
}

func findActiveRTO(ctx context.Context, db bun.IDB, shipmentID string) (*rtoRecord, error) {
	record := &rtoRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.shipment_id = ?", strings.TrimSpace(shipmentID)).
		Where("?TableAlias.status <> ?", string(core.RTOStatusDisposed)).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("sqlstore: active rto for %q: %w", shipmentID, core.ErrNotFound)
		}
		return nil, err
	}
	return record, nil
}

// linkRTO points an NDR-less active return at ndrID.
func linkRTO(ctx context.Context, db bun.IDB, record *rtoRecord, ndrID string, now time.Time) error {
	if record.NDRID != nil && *record.NDRID != "" {
		return nil
	}
	result, err := db.NewUpdate().
		Model((*rtoRecord)(nil)).
		Set("ndr_id = ?", ndrID).
		Set("version = version + 1").
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Where("version = ?", record.Version).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlstore: rto for ndr %q: %w", ndrID, core.ErrRTOAlreadyExists)
		}
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return core.ErrVersionConflict
	}
	record.NDRID = &ndrID
	record.Version++
	record.UpdatedAt = now
	return nil
}

func (s *RTOStore) List(ctx context.Context, filter core.RTOFilter) ([]core.RTOEvent, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: rto store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, filter.Offset),
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if value := strings.TrimSpace(filter.ShipmentID); value != "" {
		selectors = append(selectors, repository.SelectBy("shipment_id", "=", value))
	}
	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}
	out := make([]core.RTOEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}

// Update is optimistic on Version. A financial summary, once written, can
// never change.
func (s *RTOStore) Update(ctx context.Context, event core.RTOEvent) (core.RTOEvent, error) {
	if s == nil || s.db == nil {
		return core.RTOEvent{}, fmt.Errorf("sqlstore: rto store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	var updated *rtoRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := findRTO(ctx, tx, event.ID)
		if err != nil {
			return err
		}
		if current.Version != event.Version {
			return core.ErrVersionConflict
		}
		if current.Financials != nil {
			if event.Financials == nil ||
				event.Financials.ReturnShippingCost != current.Financials.ReturnShippingCost ||
				event.Financials.WriteOffAmount != current.Financials.WriteOffAmount ||
				event.Financials.Currency != current.Financials.Currency {
				return core.ErrFinancialSummaryImmutable
			}
		}
		event.CreatedAt = current.CreatedAt
		event.UpdatedAt = time.Now().UTC()
		record := newRTORecord(event)
		record.Version = current.Version + 1
		result, err := tx.NewUpdate().
			Model(record).
			ExcludeColumn("created_at").
			Where("id = ?", record.ID).
			Where("version = ?", current.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return core.ErrVersionConflict
		}
		updated = record
		return nil
	})
	if err != nil {
		return core.RTOEvent{}, err
	}
	return updated.toDomain(), nil
}
