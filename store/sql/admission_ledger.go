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

// AdmissionLedger backs the idempotency guard with a unique
// (courier_id, event_id) index.
type AdmissionLedger struct {
	db *bun.DB
}

func NewAdmissionLedger(db *bun.DB) (*AdmissionLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &AdmissionLedger{db: db}, nil
}

// Admit inserts the admission, or takes over a released or expired row with
// a conditional update. It reports false when a live admission exists.
func (l *AdmissionLedger) Admit(ctx context.Context, admission core.Admission) (bool, error) {
	if l == nil || l.db == nil {
		return false, fmt.Errorf("sqlstore: admission ledger is not configured")
	}
	admission.CourierID = strings.TrimSpace(admission.CourierID)
	admission.EventID = strings.TrimSpace(admission.EventID)
	if admission.CourierID == "" || admission.EventID == "" {
		return false, fmt.Errorf("sqlstore: courier id and event id are required")
	}
	record := &admissionRecord{
		ID:             uuid.NewString(),
		CourierID:      admission.CourierID,
		EventID:        admission.EventID,
		InboundEventID: strings.TrimSpace(admission.InboundEventID),
		State:          string(core.AdmissionStateAdmitted),
		AdmittedAt:     admission.AdmittedAt.UTC(),
		ExpiresAt:      admission.ExpiresAt.UTC(),
	}
	if _, err := l.db.NewInsert().Model(record).Exec(ctx); err == nil {
		return true, nil
	} else if !isUniqueViolation(err) {
		return false, err
	}

	result, err := l.db.NewUpdate().
		Model((*admissionRecord)(nil)).
		Set("inbound_event_id = ?", record.InboundEventID).
		Set("state = ?", record.State).
		Set("admitted_at = ?", record.AdmittedAt).
		Set("expires_at = ?", record.ExpiresAt).
		Where("courier_id = ?", record.CourierID).
		Where("event_id = ?", record.EventID).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("state = ?", string(core.AdmissionStateReleased)).
				WhereOr("expires_at <= ?", record.AdmittedAt)
		}).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

func (l *AdmissionLedger) Get(ctx context.Context, courierID string, eventID string) (core.Admission, error) {
	if l == nil || l.db == nil {
		return core.Admission{}, fmt.Errorf("sqlstore: admission ledger is not configured")
	}
	record := &admissionRecord{}
	err := l.db.NewSelect().
		Model(record).
		Where("?TableAlias.courier_id = ?", strings.TrimSpace(courierID)).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return core.Admission{}, fmt.Errorf("sqlstore: admission %s/%s: %w", courierID, eventID, core.ErrNotFound)
		}
		return core.Admission{}, err
	}
	return record.toDomain(), nil
}

func (l *AdmissionLedger) Release(ctx context.Context, courierID string, eventID string) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("sqlstore: admission ledger is not configured")
	}
	_, err := l.db.NewUpdate().
		Model((*admissionRecord)(nil)).
		Set("state = ?", string(core.AdmissionStateReleased)).
		Where("courier_id = ?", strings.TrimSpace(courierID)).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Exec(ctx)
	return err
}

func (l *AdmissionLedger) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("sqlstore: admission ledger is not configured")
	}
	if limit <= 0 {
		limit = 1000
	}
	result, err := l.db.NewRaw(`
DELETE FROM courier_admissions
WHERE id IN (
	SELECT id
	FROM courier_admissions
	WHERE expires_at <= ?
	ORDER BY expires_at ASC
	LIMIT ?
)`, now.UTC(), limit).Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}
