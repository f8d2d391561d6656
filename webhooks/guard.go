package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

const defaultAdmissionRetention = 14 * 24 * time.Hour

type AdmissionResult struct {
	Admitted  bool
	Admission core.Admission
}

func (r AdmissionResult) Duplicate() bool {
	return !r.Admitted
}

// IdempotencyGuard admits each (courier, event id) pair once within the
// retention window.
type IdempotencyGuard struct {
	Ledger    core.AdmissionLedger
	Retention time.Duration
	Now       func() time.Time
}

func NewIdempotencyGuard(ledger core.AdmissionLedger, retention time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{
		Ledger:    ledger,
		Retention: retention,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (g *IdempotencyGuard) Admit(ctx context.Context, courierID string, eventID string, inboundEventID string) (AdmissionResult, error) {
	if g == nil || g.Ledger == nil {
		return AdmissionResult{}, fmt.Errorf("webhooks: idempotency guard is not configured")
	}
	courierID = strings.TrimSpace(courierID)
	eventID = strings.TrimSpace(eventID)
	if courierID == "" || eventID == "" {
		return AdmissionResult{}, fmt.Errorf("webhooks: courier id and event id are required")
	}
	now := g.now()
	admission := core.Admission{
		CourierID:      courierID,
		EventID:        eventID,
		InboundEventID: strings.TrimSpace(inboundEventID),
		State:          core.AdmissionStateAdmitted,
		AdmittedAt:     now,
		ExpiresAt:      now.Add(g.retention()),
	}
	admitted, err := g.Ledger.Admit(ctx, admission)
	if err != nil {
		return AdmissionResult{}, err
	}
	if admitted {
		return AdmissionResult{Admitted: true, Admission: admission}, nil
	}
	existing, err := g.Ledger.Get(ctx, courierID, eventID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return AdmissionResult{}, err
	}
	return AdmissionResult{Admitted: false, Admission: existing}, nil
}

// Release lets a previously admitted pair be admitted again.
func (g *IdempotencyGuard) Release(ctx context.Context, courierID string, eventID string) error {
	if g == nil || g.Ledger == nil {
		return fmt.Errorf("webhooks: idempotency guard is not configured")
	}
	return g.Ledger.Release(ctx, strings.TrimSpace(courierID), strings.TrimSpace(eventID))
}

func (g *IdempotencyGuard) PurgeExpired(ctx context.Context, limit int) (int, error) {
	if g == nil || g.Ledger == nil {
		return 0, fmt.Errorf("webhooks: idempotency guard is not configured")
	}
	return g.Ledger.PurgeExpired(ctx, g.now(), limit)
}

func (g *IdempotencyGuard) retention() time.Duration {
	if g != nil && g.Retention > 0 {
		return g.Retention
	}
	return defaultAdmissionRetention
}

func (g *IdempotencyGuard) now() time.Time {
	if g != nil && g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}
