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

const deadLetterColumns = `
	id,
	inbound_event_id,
	courier_id,
	event_id,
	category,
	reason,
	first_failed_at,
	last_attempted_at,
	attempt_count,
	status,
	resolved_by,
	resolution_note,
	created_at,
	updated_at`

type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo}, nil
}

// Create inserts an entry; an inbound event dead-lettered again reopens its
// existing entry and keeps the original first failure time.
func (s *DeadLetterStore) Create(ctx context.Context, entry core.DeadLetterEntry) (core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	entry.InboundEventID = strings.TrimSpace(entry.InboundEventID)
	if entry.InboundEventID == "" {
		return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter inbound event id is required")
	}
	now := time.Now().UTC()
	var stored *deadLetterRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &deadLetterRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.inbound_event_id = ?", entry.InboundEventID).
			Limit(1).
			Scan(ctx)
		if err != nil && !isNoRows(err) {
			return err
		}
		if err == nil {
			existing.Reason = entry.Reason
			existing.Category = string(entry.Category)
			existing.LastAttemptedAt = entry.LastAttemptedAt.UTC()
			existing.AttemptCount = entry.AttemptCount
			existing.Status = string(core.DeadLetterStatusPending)
			existing.UpdatedAt = now
			if _, err := tx.NewUpdate().Model(existing).Where("id = ?", existing.ID).Exec(ctx); err != nil {
				return err
			}
			stored = existing
			return nil
		}

		if strings.TrimSpace(entry.ID) == "" {
			entry.ID = uuid.NewString()
		}
		if entry.Status == "" {
			entry.Status = core.DeadLetterStatusPending
		}
		entry.CreatedAt = now
		entry.UpdatedAt = now
		record := newDeadLetterRecord(entry)
		if _, err := s.repo.CreateTx(ctx, tx, record); err != nil {
			return err
		}
		stored = record
		return nil
	})
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	return stored.toDomain(), nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	record := &deadLetterRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter %q: %w", id, core.ErrNotFound)
		}
		return core.DeadLetterEntry{}, err
	}
	return record.toDomain(), nil
}

func (s *DeadLetterStore) List(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("first_failed_at DESC"),
		repository.SelectPaginate(limit, filter.Offset),
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if filter.Category != "" {
		selectors = append(selectors, repository.SelectBy("category", "=", string(filter.Category)))
	}
	if courierID := strings.TrimSpace(filter.CourierID); courierID != "" {
		selectors = append(selectors, repository.SelectBy("courier_id", "=", courierID))
	}
	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}
	out := make([]core.DeadLetterEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}

// Transition writes entry only while the stored status still equals from.
func (s *DeadLetterStore) Transition(ctx context.Context, from core.DeadLetterStatus, entry core.DeadLetterEntry) (core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	entry.UpdatedAt = time.Now().UTC()
	record := newDeadLetterRecord(entry)
	result, err := s.db.NewUpdate().
		Model(record).
		Column("category", "reason", "last_attempted_at", "attempt_count", "status", "resolved_by", "resolution_note", "updated_at").
		Where("id = ?", record.ID).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		if _, getErr := s.Get(ctx, record.ID); getErr != nil {
			return core.DeadLetterEntry{}, getErr
		}
		return core.DeadLetterEntry{}, core.ErrClaimLost
	}
	return s.Get(ctx, record.ID)
}

// ClaimPending moves up to limit pending entries of the given categories to
// retrying, oldest failure first.
func (s *DeadLetterStore) ClaimPending(ctx context.Context, categories []core.DeadLetterCategory, limit int, now time.Time) ([]core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if len(categories) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1
	}
	values := make([]string, 0, len(categories))
	for _, category := range categories {
		values = append(values, string(category))
	}
	pending := string(core.DeadLetterStatusPending)
	var records []deadLetterRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM courier_dead_letters
	WHERE status = ?
	  AND category IN (?)
	ORDER BY first_failed_at ASC
	LIMIT ?
)
UPDATE courier_dead_letters
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING` + deadLetterColumns
		return tx.NewRaw(
			query,
			pending,
			bun.In(values),
			limit,
			string(core.DeadLetterStatusRetrying),
			now.UTC(),
			pending,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.DeadLetterEntry, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *DeadLetterStore) CountByStatus(ctx context.Context, status core.DeadLetterStatus) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	return s.db.NewSelect().
		Model((*deadLetterRecord)(nil)).
		Where("status = ?", string(status)).
		Count(ctx)
}
