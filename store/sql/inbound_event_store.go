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

const inboundEventColumns = `
	id,
	courier_id,
	event_id,
	event_type,
	tracking_ref,
	courier_status,
	raw_reason,
	occurred_at,
	payload,
	headers,
	received_at,
	status,
	outcome,
	attempts,
	last_error,
	next_attempt_at,
	claimed_until,
	archived_at,
	created_at,
	updated_at`

type InboundEventStore struct {
	db   *bun.DB
	repo repository.Repository[*inboundEventRecord]
}

func NewInboundEventStore(db *bun.DB) (*InboundEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*inboundEventRecord](db, inboundEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid inbound event repository wiring: %w", err)
		}
	}
	return &InboundEventStore{db: db, repo: repo}, nil
}

func (s *InboundEventStore) Create(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	if s == nil || s.repo == nil {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	if strings.TrimSpace(event.CourierID) == "" {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event courier id is required")
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	created, err := s.repo.Create(ctx, newInboundEventRecord(event))
	if err != nil {
		return core.InboundEvent{}, err
	}
	return created.toDomain(), nil
}

func (s *InboundEventStore) Get(ctx context.Context, id string) (core.InboundEvent, error) {
	if s == nil || s.db == nil {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	record := &inboundEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event %q: %w", id, core.ErrNotFound)
		}
		return core.InboundEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *InboundEventStore) Update(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	if s == nil || s.db == nil {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event id is required")
	}
	event.UpdatedAt = time.Now().UTC()
	record := newInboundEventRecord(event)
	result, err := s.db.NewUpdate().
		Model(record).
		ExcludeColumn("created_at").
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return core.InboundEvent{}, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event %q: %w", event.ID, core.ErrNotFound)
	}
	return s.Get(ctx, event.ID)
}

// ClaimDue leases due verified/failed events in one conditional update so
// concurrent dispatchers never receive the same row.
func (s *InboundEventStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]core.InboundEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now = now.UTC()
	claimedUntil := now.Add(lease)
	statuses := []string{string(core.InboundStatusVerified), string(core.InboundStatusFailed)}
	var records []inboundEventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH due AS (
	SELECT id
	FROM courier_inbound_events
	WHERE status IN (?)
	  AND next_attempt_at IS NOT NULL
	  AND next_attempt_at <= ?
	  AND (claimed_until IS NULL OR claimed_until <= ?)
	ORDER BY next_attempt_at ASC
	LIMIT ?
)
UPDATE courier_inbound_events
SET claimed_until = ?, updated_at = ?
WHERE id IN (SELECT id FROM due)
  AND (claimed_until IS NULL OR claimed_until <= ?)
RETURNING` + inboundEventColumns
		return tx.NewRaw(
			query,
			bun.In(statuses),
			now,
			now,
			limit,
			claimedUntil,
			now,
			now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.InboundEvent, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *InboundEventStore) ReleaseClaim(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*inboundEventRecord)(nil)).
		Set("claimed_until = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

// RenewClaim extends a lease the caller still holds. A dispatcher that
// re-claimed the row always wrote a later claimed_until than held.
func (s *InboundEventStore) RenewClaim(ctx context.Context, id string, held time.Time, until time.Time) (core.InboundEvent, error) {
	if s == nil || s.db == nil {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	id = strings.TrimSpace(id)
	statuses := []string{string(core.InboundStatusVerified), string(core.InboundStatusFailed)}
	result, err := s.db.NewUpdate().
		Model((*inboundEventRecord)(nil)).
		Set("claimed_until = ?", until.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(statuses)).
		Where("claimed_until IS NOT NULL").
		Where("claimed_until <= ?", held.UTC()).
		Exec(ctx)
	if err != nil {
		return core.InboundEvent{}, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event %q: %w", id, core.ErrClaimLost)
	}
	return s.Get(ctx, id)
}

func (s *InboundEventStore) ArchiveTerminal(ctx context.Context, before time.Time, limit int) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	if limit <= 0 {
		limit = 500
	}
	now := time.Now().UTC()
	terminal := []string{string(core.InboundStatusApplied), string(core.InboundStatusDeadLettered)}
	result, err := s.db.NewRaw(`
UPDATE courier_inbound_events
SET archived_at = ?
WHERE id IN (
	SELECT id
	FROM courier_inbound_events
	WHERE status IN (?)
	  AND archived_at IS NULL
	  AND updated_at < ?
	ORDER BY updated_at ASC
	LIMIT ?
)`, now, bun.In(terminal), before.UTC(), limit).Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// List returns recent events for a courier; used by operator tooling.
func (s *InboundEventStore) List(ctx context.Context, courierID string, status core.InboundEventStatus, limit int, offset int) ([]core.InboundEvent, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("received_at DESC"),
		repository.SelectPaginate(limit, offset),
	}
	if courierID = strings.TrimSpace(courierID); courierID != "" {
		selectors = append(selectors, repository.SelectBy("courier_id", "=", courierID))
	}
	if status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(status)))
	}
	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}
	out := make([]core.InboundEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}
