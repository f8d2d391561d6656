// Package memstore keeps every courier pipeline record in process memory.
// It backs single-instance deployments and tests; all stores share one lock
// so multi-record writes stay atomic.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/google/uuid"
)

type state struct {
	mu sync.Mutex

	events      map[string]core.InboundEvent
	admissions  map[string]core.Admission
	shipments   map[string]core.Shipment
	deadLetters map[string]core.DeadLetterEntry
	ndrs        map[string]core.NDREvent
	actions     map[string]core.ScheduledAction
	ndrClaims   map[string]time.Time
	rtos        map[string]core.RTOEvent
	workflows   map[string]core.WorkflowDefinition
	mappings    map[string]core.MappingTable

	now func() time.Time
}

type Store struct {
	state *state

	InboundEvents *InboundEventStore
	Admissions    *AdmissionLedger
	Shipments     *ShipmentStore
	DeadLetters   *DeadLetterStore
	NDRs          *NDRStore
	RTOs          *RTOStore
	Workflows     *WorkflowStore
	Mappings      *MappingStore
}

func New() *Store {
	st := &state{
		events:      map[string]core.InboundEvent{},
		admissions:  map[string]core.Admission{},
		shipments:   map[string]core.Shipment{},
		deadLetters: map[string]core.DeadLetterEntry{},
		ndrs:        map[string]core.NDREvent{},
		actions:     map[string]core.ScheduledAction{},
		ndrClaims:   map[string]time.Time{},
		rtos:        map[string]core.RTOEvent{},
		workflows:   map[string]core.WorkflowDefinition{},
		mappings:    map[string]core.MappingTable{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	return &Store{
		state:         st,
		InboundEvents: &InboundEventStore{state: st},
		Admissions:    &AdmissionLedger{state: st},
		Shipments:     &ShipmentStore{state: st},
		DeadLetters:   &DeadLetterStore{state: st},
		NDRs:          &NDRStore{state: st},
		RTOs:          &RTOStore{state: st},
		Workflows:     &WorkflowStore{state: st},
		Mappings:      &MappingStore{state: st},
	}
}

// SetClock overrides the clock used for record timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.now = now
}

func (st *state) clock() time.Time {
	if st.now == nil {
		return time.Now().UTC()
	}
	return st.now().UTC()
}

type InboundEventStore struct {
	state *state
}

func (s *InboundEventStore) Create(_ context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if _, exists := s.state.events[event.ID]; exists {
		return core.InboundEvent{}, fmt.Errorf("memstore: inbound event %q already exists", event.ID)
	}
	now := s.state.clock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	event = cloneInboundEvent(event)
	s.state.events[event.ID] = event
	return cloneInboundEvent(event), nil
}

func (s *InboundEventStore) Get(_ context.Context, id string) (core.InboundEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	event, ok := s.state.events[strings.TrimSpace(id)]
	if !ok {
		return core.InboundEvent{}, fmt.Errorf("memstore: inbound event %q: %w", id, core.ErrNotFound)
	}
	return cloneInboundEvent(event), nil
}

func (s *InboundEventStore) Update(_ context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	current, ok := s.state.events[event.ID]
	if !ok {
		return core.InboundEvent{}, fmt.Errorf("memstore: inbound event %q: %w", event.ID, core.ErrNotFound)
	}
	event.CreatedAt = current.CreatedAt
	event.UpdatedAt = s.state.clock()
	event = cloneInboundEvent(event)
	s.state.events[event.ID] = event
	return cloneInboundEvent(event), nil
}

func (s *InboundEventStore) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]core.InboundEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if limit <= 0 {
		limit = 1
	}
	due := make([]core.InboundEvent, 0)
	for _, event := range s.state.events {
		if event.Status != core.InboundStatusVerified && event.Status != core.InboundStatusFailed {
			continue
		}
		if event.NextAttemptAt == nil || event.NextAttemptAt.After(now) {
			continue
		}
		if event.ClaimedUntil != nil && event.ClaimedUntil.After(now) {
			continue
		}
		due = append(due, event)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	claimedUntil := now.Add(lease)
	out := make([]core.InboundEvent, 0, len(due))
	for _, event := range due {
		until := claimedUntil
		event.ClaimedUntil = &until
		event.UpdatedAt = now
		s.state.events[event.ID] = event
		out = append(out, cloneInboundEvent(event))
	}
	return out, nil
}

func (s *InboundEventStore) ReleaseClaim(_ context.Context, id string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	event, ok := s.state.events[id]
	if !ok {
		return fmt.Errorf("memstore: inbound event %q: %w", id, core.ErrNotFound)
	}
	event.ClaimedUntil = nil
	s.state.events[id] = event
	return nil
}

func (s *InboundEventStore) RenewClaim(_ context.Context, id string, held time.Time, until time.Time) (core.InboundEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	event, ok := s.state.events[id]
	if !ok {
		return core.InboundEvent{}, fmt.Errorf("memstore: inbound event %q: %w", id, core.ErrNotFound)
	}
	if event.Status != core.InboundStatusVerified && event.Status != core.InboundStatusFailed {
		return core.InboundEvent{}, fmt.Errorf("memstore: inbound event %q is %s: %w", id, event.Status, core.ErrClaimLost)
	}
	if event.ClaimedUntil == nil || event.ClaimedUntil.After(held) {
		return core.InboundEvent{}, fmt.Errorf("memstore: inbound event %q: %w", id, core.ErrClaimLost)
	}
	until = until.UTC()
	event.ClaimedUntil = &until
	event.UpdatedAt = s.state.clock()
	s.state.events[id] = event
	return cloneInboundEvent(event), nil
}

func (s *InboundEventStore) ArchiveTerminal(_ context.Context, before time.Time, limit int) (int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	archived := 0
	now := s.state.clock()
	for id, event := range s.state.events {
		if limit > 0 && archived >= limit {
			break
		}
		if !event.Terminal() || event.ArchivedAt != nil || !event.UpdatedAt.Before(before) {
			continue
		}
		at := now
		event.ArchivedAt = &at
		s.state.events[id] = event
		archived++
	}
	return archived, nil
}

type AdmissionLedger struct {
	state *state
}

func admissionKey(courierID, eventID string) string {
	return strings.TrimSpace(courierID) + "\x00" + strings.TrimSpace(eventID)
}

func (l *AdmissionLedger) Admit(_ context.Context, admission core.Admission) (bool, error) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	key := admissionKey(admission.CourierID, admission.EventID)
	if current, ok := l.state.admissions[key]; ok {
		if current.State != core.AdmissionStateReleased && current.ExpiresAt.After(admission.AdmittedAt) {
			return false, nil
		}
		admission.ID = current.ID
	}
	if strings.TrimSpace(admission.ID) == "" {
		admission.ID = uuid.NewString()
	}
	admission.State = core.AdmissionStateAdmitted
	l.state.admissions[key] = admission
	return true, nil
}

func (l *AdmissionLedger) Get(_ context.Context, courierID string, eventID string) (core.Admission, error) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	admission, ok := l.state.admissions[admissionKey(courierID, eventID)]
	if !ok {
		return core.Admission{}, fmt.Errorf("memstore: admission %s/%s: %w", courierID, eventID, core.ErrNotFound)
	}
	return admission, nil
}

func (l *AdmissionLedger) Release(_ context.Context, courierID string, eventID string) error {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	key := admissionKey(courierID, eventID)
	admission, ok := l.state.admissions[key]
	if !ok {
		return nil
	}
	admission.State = core.AdmissionStateReleased
	l.state.admissions[key] = admission
	return nil
}

func (l *AdmissionLedger) PurgeExpired(_ context.Context, now time.Time, limit int) (int, error) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	purged := 0
	for key, admission := range l.state.admissions {
		if limit > 0 && purged >= limit {
			break
		}
		if admission.ExpiresAt.After(now) {
			continue
		}
		delete(l.state.admissions, key)
		purged++
	}
	return purged, nil
}

type ShipmentStore struct {
	state *state
}

// Put inserts or replaces a shipment; the order collaborator owns creation.
func (s *ShipmentStore) Put(shipment core.Shipment) core.Shipment {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if strings.TrimSpace(shipment.ID) == "" {
		shipment.ID = uuid.NewString()
	}
	if shipment.Version == 0 {
		shipment.Version = 1
	}
	shipment = cloneShipment(shipment)
	s.state.shipments[shipment.ID] = shipment
	return cloneShipment(shipment)
}

func (s *ShipmentStore) GetByTrackingRef(_ context.Context, trackingRef string) (core.Shipment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	trackingRef = strings.TrimSpace(trackingRef)
	for _, shipment := range s.state.shipments {
		if shipment.TrackingRef == trackingRef {
			return cloneShipment(shipment), nil
		}
	}
	return core.Shipment{}, fmt.Errorf("memstore: shipment %q: %w", trackingRef, core.ErrNotFound)
}

func (s *ShipmentStore) UpdateStatus(_ context.Context, update core.ShipmentStatusUpdate) (core.ShipmentStatusResult, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	shipment, ok := s.state.shipments[update.ShipmentID]
	if !ok {
		return core.ShipmentStatusResult{}, fmt.Errorf("memstore: shipment %q: %w", update.ShipmentID, core.ErrNotFound)
	}
	if shipment.Version != update.ExpectedVersion {
		return core.ShipmentStatusResult{}, core.ErrVersionConflict
	}

	result := core.ShipmentStatusResult{}
	if update.NDR != nil {
		open, hasOpen := s.state.openNDRLocked(shipment.ID)
		if hasOpen {
			result.NDR = cloneNDR(&open)
		} else {
			created := s.state.newNDRLocked(shipment, *update.NDR)
			result.NDR = cloneNDR(&created)
			result.NDRCreated = true
		}
	}

	shipment.Status = update.Status
	shipment.StatusAt = update.StatusAt
	shipment.History = append(shipment.History, update.History)
	shipment.Version++
	shipment.UpdatedAt = update.UpdatedAt
	s.state.shipments[shipment.ID] = cloneShipment(shipment)
	result.Shipment = cloneShipment(shipment)
	return result, nil
}

func (st *state) openNDRLocked(shipmentID string) (core.NDREvent, bool) {
	for _, event := range st.ndrs {
		if event.ShipmentID == shipmentID && !event.Status.Terminal() {
			return event, true
		}
	}
	return core.NDREvent{}, false
}

func (st *state) newNDRLocked(shipment core.Shipment, req core.NDROpenRequest) core.NDREvent {
	attempt := 1
	for _, event := range st.ndrs {
		if event.ShipmentID == shipment.ID && event.AttemptNumber >= attempt {
			attempt = event.AttemptNumber + 1
		}
	}
	now := st.clock()
	event := core.NDREvent{
		ID:            uuid.NewString(),
		ShipmentID:    shipment.ID,
		TrackingRef:   shipment.TrackingRef,
		CompanyID:     shipment.CompanyID,
		AttemptNumber: attempt,
		Reason:        req.Reason,
		RawReason:     req.RawReason,
		Permanent:     req.Permanent,
		DetectedAt:    req.DetectedAt,
		Deadline:      req.Deadline,
		Status:        core.NDRStatusDetected,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	st.ndrs[event.ID] = event
	for _, action := range req.Actions {
		action.ID = uuid.NewString()
		action.NDRID = event.ID
		action.Status = core.ScheduledActionScheduled
		action.CreatedAt = now
		action.UpdatedAt = now
		st.actions[action.ID] = action
	}
	return event
}

type DeadLetterStore struct {
	state *state
}

func (s *DeadLetterStore) Create(_ context.Context, entry core.DeadLetterEntry) (core.DeadLetterEntry, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	now := s.state.clock()
	for id, existing := range s.state.deadLetters {
		if existing.InboundEventID != entry.InboundEventID || entry.InboundEventID == "" {
			continue
		}
		existing.Reason = entry.Reason
		existing.Category = entry.Category
		existing.LastAttemptedAt = entry.LastAttemptedAt
		existing.AttemptCount = entry.AttemptCount
		existing.Status = core.DeadLetterStatusPending
		existing.UpdatedAt = now
		s.state.deadLetters[id] = existing
		return existing, nil
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = core.DeadLetterStatusPending
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	s.state.deadLetters[entry.ID] = entry
	return entry, nil
}

func (s *DeadLetterStore) Get(_ context.Context, id string) (core.DeadLetterEntry, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	entry, ok := s.state.deadLetters[strings.TrimSpace(id)]
	if !ok {
		return core.DeadLetterEntry{}, fmt.Errorf("memstore: dead letter %q: %w", id, core.ErrNotFound)
	}
	return entry, nil
}

func (s *DeadLetterStore) List(_ context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]core.DeadLetterEntry, 0)
	for _, entry := range s.state.deadLetters {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.Category != "" && entry.Category != filter.Category {
			continue
		}
		if filter.CourierID != "" && entry.CourierID != filter.CourierID {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstFailedAt.After(out[j].FirstFailedAt)
	})
	total := len(out)
	return paginate(out, filter.Limit, filter.Offset), total, nil
}

func (s *DeadLetterStore) Transition(_ context.Context, from core.DeadLetterStatus, entry core.DeadLetterEntry) (core.DeadLetterEntry, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	current, ok := s.state.deadLetters[entry.ID]
	if !ok {
		return core.DeadLetterEntry{}, fmt.Errorf("memstore: dead letter %q: %w", entry.ID, core.ErrNotFound)
	}
	if current.Status != from {
		return core.DeadLetterEntry{}, core.ErrClaimLost
	}
	entry.CreatedAt = current.CreatedAt
	entry.UpdatedAt = s.state.clock()
	s.state.deadLetters[entry.ID] = entry
	return entry, nil
}

func (s *DeadLetterStore) ClaimPending(_ context.Context, categories []core.DeadLetterCategory, limit int, now time.Time) ([]core.DeadLetterEntry, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	allowed := map[core.DeadLetterCategory]bool{}
	for _, category := range categories {
		allowed[category] = true
	}
	candidates := make([]core.DeadLetterEntry, 0)
	for _, entry := range s.state.deadLetters {
		if entry.Status != core.DeadLetterStatusPending || !allowed[entry.Category] {
			continue
		}
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].FirstFailedAt.Before(candidates[j].FirstFailedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for i := range candidates {
		candidates[i].Status = core.DeadLetterStatusRetrying
		candidates[i].UpdatedAt = now
		s.state.deadLetters[candidates[i].ID] = candidates[i]
	}
	return candidates, nil
}

func (s *DeadLetterStore) CountByStatus(_ context.Context, status core.DeadLetterStatus) (int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	count := 0
	for _, entry := range s.state.deadLetters {
		if entry.Status == status {
			count++
		}
	}
	return count, nil
}

type NDRStore struct {
	state *state
}

func (s *NDRStore) Get(_ context.Context, id string) (core.NDREvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	event, ok := s.state.ndrs[strings.TrimSpace(id)]
	if !ok {
		return core.NDREvent{}, fmt.Errorf("memstore: ndr %q: %w", id, core.ErrNotFound)
	}
	return *cloneNDR(&event), nil
}

func (s *NDRStore) GetOpenByShipment(_ context.Context, shipmentID string) (core.NDREvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	event, ok := s.state.openNDRLocked(shipmentID)
	if !ok {
		return core.NDREvent{}, fmt.Errorf("memstore: open ndr for %q: %w", shipmentID, core.ErrNotFound)
	}
	return *cloneNDR(&event), nil
}

func (s *NDRStore) List(_ context.Context, filter core.NDRFilter) ([]core.NDREvent, int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]core.NDREvent, 0)
	for _, event := range s.state.ndrs {
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if filter.ShipmentID != "" && event.ShipmentID != filter.ShipmentID {
			continue
		}
		if filter.TrackingRef != "" && event.TrackingRef != filter.TrackingRef {
			continue
		}
		if filter.CompanyID != "" && event.CompanyID != filter.CompanyID {
			continue
		}
		out = append(out, *cloneNDR(&event))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].AttemptNumber > out[j].AttemptNumber
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	total := len(out)
	return paginate(out, filter.Limit, filter.Offset), total, nil
}

func (s *NDRStore) Update(_ context.Context, event core.NDREvent) (core.NDREvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.updateNDRLocked(event)
}

func (st *state) updateNDRLocked(event core.NDREvent) (core.NDREvent, error) {
	current, ok := st.ndrs[event.ID]
	if !ok {
		return core.NDREvent{}, fmt.Errorf("memstore: ndr %q: %w", event.ID, core.ErrNotFound)
	}
	if current.Version != event.Version {
		return core.NDREvent{}, core.ErrVersionConflict
	}
	event.Version++
	event.CreatedAt = current.CreatedAt
	stored := *cloneNDR(&event)
	st.ndrs[event.ID] = stored
	if stored.Status.Terminal() {
		delete(st.ndrClaims, event.ID)
	}
	return *cloneNDR(&stored), nil
}

func (s *NDRStore) ClaimDueActions(_ context.Context, now time.Time, lease time.Duration, limit int) ([]core.ScheduledAction, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	due := make([]core.ScheduledAction, 0)
	for _, action := range s.state.actions {
		if action.DueAt.After(now) {
			continue
		}
		switch action.Status {
		case core.ScheduledActionScheduled:
		case core.ScheduledActionClaimed:
			if action.ClaimedUntil != nil && action.ClaimedUntil.After(now) {
				continue
			}
		default:
			continue
		}
		due = append(due, action)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].Sequence < due[j].Sequence
		}
		return due[i].DueAt.Before(due[j].DueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	until := now.Add(lease)
	for i := range due {
		claimedUntil := until
		due[i].Status = core.ScheduledActionClaimed
		due[i].ClaimedUntil = &claimedUntil
		due[i].Attempts++
		due[i].UpdatedAt = now
		s.state.actions[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *NDRStore) CompleteAction(_ context.Context, action core.ScheduledAction, status core.ScheduledActionStatus) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	current, ok := s.state.actions[action.ID]
	if !ok {
		return fmt.Errorf("memstore: scheduled action %q: %w", action.ID, core.ErrNotFound)
	}
	if current.Status != core.ScheduledActionClaimed {
		return core.ErrClaimLost
	}
	current.Status = status
	current.ClaimedUntil = nil
	current.LastError = action.LastError
	current.UpdatedAt = s.state.clock()
	s.state.actions[action.ID] = current
	return nil
}

func (s *NDRStore) CancelPendingActions(_ context.Context, ndrID string, now time.Time) (int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.cancelActionsLocked(ndrID, now), nil
}

func (st *state) cancelActionsLocked(ndrID string, now time.Time) int {
	cancelled := 0
	for id, action := range st.actions {
		if action.NDRID != ndrID {
			continue
		}
		if action.Status != core.ScheduledActionScheduled && action.Status != core.ScheduledActionClaimed {
			continue
		}
		action.Status = core.ScheduledActionCancelled
		action.ClaimedUntil = nil
		action.UpdatedAt = now
		st.actions[id] = action
		cancelled++
	}
	return cancelled
}

// ScheduledActions lists the due-item queue for one NDR, ordered by sequence.
func (s *NDRStore) ScheduledActions(ndrID string) []core.ScheduledAction {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]core.ScheduledAction, 0)
	for _, action := range s.state.actions {
		if action.NDRID == ndrID {
			out = append(out, action)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

func (s *NDRStore) ClaimOverdue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]core.NDREvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	due := make([]core.NDREvent, 0)
	for _, event := range s.state.ndrs {
		if event.Status.Terminal() || event.Deadline.After(now) {
			continue
		}
		if until, claimed := s.state.ndrClaims[event.ID]; claimed && until.After(now) {
			continue
		}
		due = append(due, event)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Deadline.Before(due[j].Deadline)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]core.NDREvent, 0, len(due))
	for _, event := range due {
		s.state.ndrClaims[event.ID] = now.Add(lease)
		out = append(out, *cloneNDR(&event))
	}
	return out, nil
}

func (s *NDRStore) CloseWithRTO(_ context.Context, event core.NDREvent, rto core.RTOEvent) (core.NDREvent, core.RTOEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, existing := range s.state.rtos {
		if rto.NDRID != "" && existing.NDRID == rto.NDRID {
			return core.NDREvent{}, core.RTOEvent{}, core.ErrRTOAlreadyExists
		}
	}
	updated, err := s.state.updateNDRLocked(event)
	if err != nil {
		return core.NDREvent{}, core.RTOEvent{}, err
	}
	s.state.cancelActionsLocked(event.ID, s.state.clock())
	for id, existing := range s.state.rtos {
		if existing.ShipmentID != rto.ShipmentID || existing.Status == core.RTOStatusDisposed {
			continue
		}
		if existing.NDRID == "" {
			existing.NDRID = event.ID
			existing.Version++
			existing.UpdatedAt = s.state.clock()
			s.state.rtos[id] = existing
		}
		return updated, cloneRTO(existing), nil
	}
	created := s.state.createRTOLocked(rto)
	return updated, created, nil
}

type RTOStore struct {
	state *state
}

func (s *RTOStore) Create(_ context.Context, event core.RTOEvent) (core.RTOEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, existing := range s.state.rtos {
		if event.NDRID != "" && existing.NDRID == event.NDRID {
			return core.RTOEvent{}, core.ErrRTOAlreadyExists
		}
		if existing.ShipmentID == event.ShipmentID && existing.Status != core.RTOStatusDisposed {
			return core.RTOEvent{}, core.ErrRTOAlreadyExists
		}
	}
	return s.state.createRTOLocked(event), nil
}

func (st *state) createRTOLocked(event core.RTOEvent) core.RTOEvent {
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	now := st.clock()
	event.Version = 1
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	stored := cloneRTO(event)
	st.rtos[event.ID] = stored
	return cloneRTO(stored)
}

func (s *RTOStore) Get(_ context.Context, id string) (core.RTOEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	event, ok := s.state.rtos[strings.TrimSpace(id)]
	if !ok {
		return core.RTOEvent{}, fmt.Errorf("memstore: rto %q: %w", id, core.ErrNotFound)
	}
	return cloneRTO(event), nil
}

func (s *RTOStore) GetActiveByShipment(_ context.Context, shipmentID string) (core.RTOEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, event := range s.state.rtos {
		if event.ShipmentID == shipmentID && event.Status != core.RTOStatusDisposed {
			return cloneRTO(event), nil
		}
	}
	return core.RTOEvent{}, fmt.Errorf("memstore: active rto for %q: %w", shipmentID, core.ErrNotFound)
}

func (s *RTOStore) List(_ context.Context, filter core.RTOFilter) ([]core.RTOEvent, int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]core.RTOEvent, 0)
	for _, event := range s.state.rtos {
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if filter.ShipmentID != "" && event.ShipmentID != filter.ShipmentID {
			continue
		}
		out = append(out, cloneRTO(event))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	return paginate(out, filter.Limit, filter.Offset), total, nil
}

func (s *RTOStore) Update(_ context.Context, event core.RTOEvent) (core.RTOEvent, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	current, ok := s.state.rtos[event.ID]
	if !ok {
		return core.RTOEvent{}, fmt.Errorf("memstore: rto %q: %w", event.ID, core.ErrNotFound)
	}
	if current.Version != event.Version {
		return core.RTOEvent{}, core.ErrVersionConflict
	}
	if current.Financials != nil && (event.Financials == nil || *event.Financials != *current.Financials) {
		return core.RTOEvent{}, core.ErrFinancialSummaryImmutable
	}
	event.Version++
	event.CreatedAt = current.CreatedAt
	stored := cloneRTO(event)
	s.state.rtos[event.ID] = stored
	return cloneRTO(stored), nil
}

type WorkflowStore struct {
	state *state
}

func workflowKey(companyID string, reason core.NDRReason) string {
	return strings.TrimSpace(companyID) + "\x00" + string(reason)
}

func (s *WorkflowStore) Get(_ context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	def, ok := s.state.workflows[workflowKey(companyID, reason)]
	if !ok {
		return core.WorkflowDefinition{}, fmt.Errorf("memstore: workflow %s/%s: %w", companyID, reason, core.ErrNotFound)
	}
	def.Actions = append([]core.WorkflowAction(nil), def.Actions...)
	return def, nil
}

func (s *WorkflowStore) Save(_ context.Context, def core.WorkflowDefinition) (core.WorkflowDefinition, error) {
	if err := def.Validate(); err != nil {
		return core.WorkflowDefinition{}, err
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	key := workflowKey(def.CompanyID, def.Reason)
	if current, ok := s.state.workflows[key]; ok {
		def.ID = current.ID
		def.Version = current.Version + 1
	} else {
		def.ID = uuid.NewString()
		def.Version = 1
	}
	def.Actions = append([]core.WorkflowAction(nil), def.Actions...)
	s.state.workflows[key] = def
	return def, nil
}

type MappingStore struct {
	state *state
}

func (s *MappingStore) LoadTables(context.Context) ([]core.MappingTable, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]core.MappingTable, 0, len(s.state.mappings))
	for _, table := range s.state.mappings {
		table.Entries = append([]core.MappingEntry(nil), table.Entries...)
		out = append(out, table)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CourierID < out[j].CourierID
	})
	return out, nil
}

func (s *MappingStore) SaveTable(_ context.Context, table core.MappingTable) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	courierID := strings.TrimSpace(table.CourierID)
	if courierID == "" {
		return fmt.Errorf("memstore: mapping courier id is required")
	}
	if current, ok := s.state.mappings[courierID]; ok && current.Version >= table.Version {
		return fmt.Errorf("memstore: mapping version %d for %q is not newer than %d: %w",
			table.Version, courierID, current.Version, core.ErrVersionConflict)
	}
	table.Entries = append([]core.MappingEntry(nil), table.Entries...)
	s.state.mappings[courierID] = table
	return nil
}

func paginate[T any](items []T, limit int, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneInboundEvent(event core.InboundEvent) core.InboundEvent {
	event.Payload = append([]byte(nil), event.Payload...)
	if event.Headers != nil {
		headers := make(map[string]string, len(event.Headers))
		for key, value := range event.Headers {
			headers[key] = value
		}
		event.Headers = headers
	}
	event.NextAttemptAt = cloneTime(event.NextAttemptAt)
	event.ClaimedUntil = cloneTime(event.ClaimedUntil)
	event.ArchivedAt = cloneTime(event.ArchivedAt)
	return event
}

func cloneShipment(shipment core.Shipment) core.Shipment {
	shipment.History = append([]core.StatusHistoryEntry(nil), shipment.History...)
	return shipment
}

func cloneNDR(event *core.NDREvent) *core.NDREvent {
	if event == nil {
		return nil
	}
	out := *event
	out.Actions = append([]core.NDRAction(nil), event.Actions...)
	out.Annotations = append([]core.Annotation(nil), event.Annotations...)
	out.ClosedAt = cloneTime(event.ClosedAt)
	return &out
}

func cloneRTO(event core.RTOEvent) core.RTOEvent {
	event.Transitions = append([]core.RTOTransition(nil), event.Transitions...)
	if event.Financials != nil {
		financials := *event.Financials
		event.Financials = &financials
	}
	return event
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

var (
	_ core.InboundEventStore = (*InboundEventStore)(nil)
	_ core.AdmissionLedger   = (*AdmissionLedger)(nil)
	_ core.ShipmentStore     = (*ShipmentStore)(nil)
	_ core.DeadLetterStore   = (*DeadLetterStore)(nil)
	_ core.NDRStore          = (*NDRStore)(nil)
	_ core.RTOStore          = (*RTOStore)(nil)
	_ core.WorkflowStore     = (*WorkflowStore)(nil)
	_ core.MappingStore      = (*MappingStore)(nil)
)
