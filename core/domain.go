package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound                        = errors.New("core: record not found")
	ErrVersionConflict                 = errors.New("core: optimistic version conflict")
	ErrClaimLost                       = errors.New("core: claim no longer held")
	ErrInvalidNDRStatusTransition      = errors.New("core: invalid ndr status transition")
	ErrInvalidRTOStatusTransition      = errors.New("core: invalid rto status transition")
	ErrInvalidDisposition              = errors.New("core: disposition inconsistent with qc result")
	ErrInvalidDeadLetterTransition     = errors.New("core: invalid dead-letter status transition")
	ErrFinancialSummaryImmutable       = errors.New("core: rto financial summary is immutable")
	ErrNDRAlreadyOpen                  = errors.New("core: shipment already has an open ndr")
	ErrRTOAlreadyExists                = errors.New("core: ndr already produced an rto")
	ErrActorRequired                   = errors.New("core: actor is required")
	ErrReasonRequired                  = errors.New("core: reason is required")
	ErrUnknownCanonicalStatus          = errors.New("core: unknown canonical status")
	ErrInvalidWorkflowDefinition       = errors.New("core: invalid workflow definition")
	ErrInboundEventStatusNotReplayable = errors.New("core: inbound event is not replayable")
)

// CanonicalStatus is the courier-agnostic shipment lifecycle stage.
type CanonicalStatus string

const (
	StatusCreated        CanonicalStatus = "created"
	StatusPickedUp       CanonicalStatus = "picked_up"
	StatusInTransit      CanonicalStatus = "in_transit"
	StatusOutForDelivery CanonicalStatus = "out_for_delivery"
	StatusDelivered      CanonicalStatus = "delivered"
	StatusDeliveryFailed CanonicalStatus = "delivery_failed"
	StatusReturned       CanonicalStatus = "returned"
	StatusCancelled      CanonicalStatus = "cancelled"
	StatusUnmapped       CanonicalStatus = "unmapped"
)

var canonicalStageRank = map[CanonicalStatus]int{
	StatusCreated:        0,
	StatusPickedUp:       1,
	StatusInTransit:      2,
	StatusOutForDelivery: 3,
	StatusDeliveryFailed: 3,
	StatusDelivered:      4,
	StatusReturned:       4,
	StatusCancelled:      4,
}

func ParseCanonicalStatus(value string) (CanonicalStatus, error) {
	status := CanonicalStatus(strings.TrimSpace(strings.ToLower(value)))
	if status == StatusUnmapped {
		return status, nil
	}
	if _, ok := canonicalStageRank[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCanonicalStatus, value)
	}
	return status, nil
}

func (s CanonicalStatus) Valid() bool {
	_, ok := canonicalStageRank[s]
	return ok
}

// Rank orders statuses by lifecycle stage. Unknown statuses rank below created.
func (s CanonicalStatus) Rank() int {
	rank, ok := canonicalStageRank[s]
	if !ok {
		return -1
	}
	return rank
}

func (s CanonicalStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusReturned, StatusCancelled:
		return true
	default:
		return false
	}
}

type InboundEventStatus string

const (
	InboundStatusReceived     InboundEventStatus = "received"
	InboundStatusVerified     InboundEventStatus = "verified"
	InboundStatusApplied      InboundEventStatus = "applied"
	InboundStatusFailed       InboundEventStatus = "failed"
	InboundStatusDeadLettered InboundEventStatus = "dead_lettered"
)

// InboundOutcome records why an event reached its current status.
type InboundOutcome string

const (
	OutcomeNone         InboundOutcome = ""
	OutcomeApplied      InboundOutcome = "applied"
	OutcomeStale        InboundOutcome = "stale"
	OutcomeNotFound     InboundOutcome = "not_found"
	OutcomeUnmapped     InboundOutcome = "unmapped"
	OutcomeRejected     InboundOutcome = "rejected"
	OutcomeUndecodable  InboundOutcome = "undecodable"
	OutcomeTransient    InboundOutcome = "transient"
	OutcomeRetryBudget  InboundOutcome = "retry_exhausted"
	OutcomeNDRUnchanged InboundOutcome = "ndr_already_open"
)

type InboundEvent struct {
	ID            string
	CourierID     string
	EventID       string
	EventType     string
	TrackingRef   string
	CourierStatus string
	RawReason     string
	OccurredAt    time.Time
	Payload       []byte
	Headers       map[string]string
	ReceivedAt    time.Time
	Status        InboundEventStatus
	Outcome       InboundOutcome
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	ClaimedUntil  *time.Time
	ArchivedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (e InboundEvent) Terminal() bool {
	return e.Status == InboundStatusApplied || e.Status == InboundStatusDeadLettered
}

type AdmissionState string

const (
	AdmissionStateAdmitted AdmissionState = "admitted"
	AdmissionStateReleased AdmissionState = "released"
)

type Admission struct {
	ID             string
	CourierID      string
	EventID        string
	InboundEventID string
	State          AdmissionState
	AdmittedAt     time.Time
	ExpiresAt      time.Time
}

type StatusHistoryEntry struct {
	Status        CanonicalStatus
	CourierID     string
	CourierStatus string
	EventID       string
	OccurredAt    time.Time
	AppliedAt     time.Time
}

// Shipment is owned by the order collaborator; this core only reads it and
// writes canonical status through ShipmentStore.UpdateStatus.
type Shipment struct {
	ID          string
	TrackingRef string
	CompanyID   string
	Status      CanonicalStatus
	StatusAt    time.Time
	Version     int
	History     []StatusHistoryEntry
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DeadLetterCategory string

const (
	DeadLetterCategorySecurity   DeadLetterCategory = "security"
	DeadLetterCategoryValidation DeadLetterCategory = "validation"
	DeadLetterCategoryTransient  DeadLetterCategory = "transient"
)

type DeadLetterStatus string

const (
	DeadLetterStatusPending   DeadLetterStatus = "pending"
	DeadLetterStatusRetrying  DeadLetterStatus = "retrying"
	DeadLetterStatusResolved  DeadLetterStatus = "resolved"
	DeadLetterStatusAbandoned DeadLetterStatus = "abandoned"
)

type DeadLetterEntry struct {
	ID              string
	InboundEventID  string
	CourierID       string
	EventID         string
	Category        DeadLetterCategory
	Reason          string
	FirstFailedAt   time.Time
	LastAttemptedAt time.Time
	AttemptCount    int
	Status          DeadLetterStatus
	ResolvedBy      string
	ResolutionNote  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func deadLetterTransitionAllowed(from, to DeadLetterStatus) bool {
	switch from {
	case DeadLetterStatusPending:
		return to == DeadLetterStatusRetrying || to == DeadLetterStatusAbandoned || to == DeadLetterStatusResolved
	case DeadLetterStatusRetrying:
		return to == DeadLetterStatusPending || to == DeadLetterStatusResolved
	case DeadLetterStatusAbandoned:
		return to == DeadLetterStatusRetrying
	default:
		return false
	}
}

func ValidateDeadLetterTransition(from, to DeadLetterStatus) error {
	if !deadLetterTransitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidDeadLetterTransition, from, to)
	}
	return nil
}

type DeadLetterFilter struct {
	Status    DeadLetterStatus
	Category  DeadLetterCategory
	CourierID string
	Limit     int
	Offset    int
}

// NDRReason is the classified non-delivery reason.
type NDRReason string

const (
	NDRReasonAddressIssue        NDRReason = "address_issue"
	NDRReasonCustomerUnavailable NDRReason = "customer_unavailable"
	NDRReasonRefused             NDRReason = "refused"
	NDRReasonPaymentIssue        NDRReason = "payment_issue"
	NDRReasonOther               NDRReason = "other"
)

func ParseNDRReason(value string) NDRReason {
	switch NDRReason(strings.TrimSpace(strings.ToLower(value))) {
	case NDRReasonAddressIssue:
		return NDRReasonAddressIssue
	case NDRReasonCustomerUnavailable:
		return NDRReasonCustomerUnavailable
	case NDRReasonRefused:
		return NDRReasonRefused
	case NDRReasonPaymentIssue:
		return NDRReasonPaymentIssue
	default:
		return NDRReasonOther
	}
}

func AllNDRReasons() []NDRReason {
	return []NDRReason{
		NDRReasonAddressIssue,
		NDRReasonCustomerUnavailable,
		NDRReasonRefused,
		NDRReasonPaymentIssue,
		NDRReasonOther,
	}
}

type NDRStatus string

const (
	NDRStatusDetected     NDRStatus = "detected"
	NDRStatusInResolution NDRStatus = "in_resolution"
	NDRStatusResolved     NDRStatus = "resolved"
	NDRStatusEscalated    NDRStatus = "escalated"
	NDRStatusRTOTriggered NDRStatus = "rto_triggered"
)

func (s NDRStatus) Terminal() bool {
	switch s {
	case NDRStatusResolved, NDRStatusEscalated, NDRStatusRTOTriggered:
		return true
	default:
		return false
	}
}

func OpenNDRStatuses() []NDRStatus {
	return []NDRStatus{NDRStatusDetected, NDRStatusInResolution}
}

type NDRActionType string

const (
	ActionNotifyWhatsApp           NDRActionType = "notify_customer_whatsapp"
	ActionNotifySMS                NDRActionType = "notify_customer_sms"
	ActionNotifyEmail              NDRActionType = "notify_customer_email"
	ActionRequestAddressCorrection NDRActionType = "request_address_correction"
	ActionRequestPaymentConfirm    NDRActionType = "request_payment_confirmation"
	ActionScheduleReattempt        NDRActionType = "schedule_reattempt"
	ActionCallCustomer             NDRActionType = "call_customer"
	ActionCustomerResponse         NDRActionType = "customer_response"
)

type NDRActionResult string

const (
	ActionResultSucceeded        NDRActionResult = "succeeded"
	ActionResultFailed           NDRActionResult = "failed"
	ActionResultTaskCreated      NDRActionResult = "task_created"
	ActionResultCustomerResponse NDRActionResult = "customer_response"
)

type NDRAction struct {
	Sequence   int
	Type       NDRActionType
	Actor      string
	Result     NDRActionResult
	Detail     string
	ExecutedAt time.Time
}

type Annotation struct {
	Actor     string
	Note      string
	CreatedAt time.Time
}

type NDREvent struct {
	ID                string
	ShipmentID        string
	TrackingRef       string
	CompanyID         string
	AttemptNumber     int
	Reason            NDRReason
	RawReason         string
	Permanent         bool
	DetectedAt        time.Time
	Deadline          time.Time
	Status            NDRStatus
	Actions           []NDRAction
	CustomerContacted bool
	ClosedAt          *time.Time
	ClosedBy          string
	CloseReason       string
	Annotations       []Annotation
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func ndrTransitionAllowed(from, to NDRStatus) bool {
	switch from {
	case NDRStatusDetected:
		return to == NDRStatusInResolution || to.Terminal()
	case NDRStatusInResolution:
		return to.Terminal()
	default:
		return false
	}
}

// TransitionTo moves the event one way through the NDR state machine.
func (e *NDREvent) TransitionTo(status NDRStatus, actor string, reason string, now time.Time) error {
	if e == nil {
		return nil
	}
	if !ndrTransitionAllowed(e.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidNDRStatusTransition, e.Status, status)
	}
	e.Status = status
	e.UpdatedAt = now
	if status.Terminal() {
		closedAt := now
		e.ClosedAt = &closedAt
		e.ClosedBy = strings.TrimSpace(actor)
		e.CloseReason = strings.TrimSpace(reason)
	}
	return nil
}

func (e NDREvent) NextActionSequence() int {
	next := 1
	for _, action := range e.Actions {
		if action.Sequence >= next {
			next = action.Sequence + 1
		}
	}
	return next
}

type NDRFilter struct {
	Status      NDRStatus
	ShipmentID  string
	TrackingRef string
	CompanyID   string
	Limit       int
	Offset      int
}

type ScheduledActionStatus string

const (
	ScheduledActionScheduled ScheduledActionStatus = "scheduled"
	ScheduledActionClaimed   ScheduledActionStatus = "claimed"
	ScheduledActionDone      ScheduledActionStatus = "done"
	ScheduledActionCancelled ScheduledActionStatus = "cancelled"
)

// ScheduledAction is one workflow step waiting in the durable due-items queue.
type ScheduledAction struct {
	ID           string
	NDRID        string
	Sequence     int
	ActionType   NDRActionType
	Channel      string
	AutoExecute  bool
	DueAt        time.Time
	Status       ScheduledActionStatus
	ClaimedUntil *time.Time
	Attempts     int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RTOStatus string

const (
	RTOStatusInitiated       RTOStatus = "initiated"
	RTOStatusInTransitReturn RTOStatus = "in_transit_return"
	RTOStatusQCPending       RTOStatus = "qc_pending"
	RTOStatusQCComplete      RTOStatus = "qc_complete"
	RTOStatusDisposed        RTOStatus = "disposed"
)

var rtoNextStatus = map[RTOStatus]RTOStatus{
	RTOStatusInitiated:       RTOStatusInTransitReturn,
	RTOStatusInTransitReturn: RTOStatusQCPending,
	RTOStatusQCPending:       RTOStatusQCComplete,
	RTOStatusQCComplete:      RTOStatusDisposed,
}

type QCResult string

const (
	QCResultRestockable QCResult = "restockable"
	QCResultDamaged     QCResult = "damaged"
	QCResultLost        QCResult = "lost"
)

func (r QCResult) Valid() bool {
	switch r {
	case QCResultRestockable, QCResultDamaged, QCResultLost:
		return true
	default:
		return false
	}
}

type Disposition string

const (
	DispositionRestock Disposition = "restock"
	DispositionDonate  Disposition = "donate"
	DispositionDestroy Disposition = "destroy"
)

var allowedDispositions = map[QCResult][]Disposition{
	QCResultRestockable: {DispositionRestock, DispositionDonate, DispositionDestroy},
	QCResultDamaged:     {DispositionDonate, DispositionDestroy},
	QCResultLost:        {DispositionDestroy},
}

func ValidateDisposition(result QCResult, disposition Disposition) error {
	for _, allowed := range allowedDispositions[result] {
		if allowed == disposition {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot be disposed as %s", ErrInvalidDisposition, result, disposition)
}

// FinancialSummary amounts are in minor currency units.
type FinancialSummary struct {
	ReturnShippingCost int64
	WriteOffAmount     int64
	Currency           string
}

type RTOTransition struct {
	From  RTOStatus
	To    RTOStatus
	Actor string
	Note  string
	At    time.Time
}

type RTOEvent struct {
	ID          string
	ShipmentID  string
	TrackingRef string
	NDRID       string
	Status      RTOStatus
	QCResult    QCResult
	Disposition Disposition
	Financials  *FinancialSummary
	InitiatedBy string
	Reason      string
	Transitions []RTOTransition
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Advance moves the RTO one step forward; skipping or reversing stages is rejected.
func (e *RTOEvent) Advance(to RTOStatus, actor string, note string, now time.Time) error {
	if e == nil {
		return nil
	}
	if next, ok := rtoNextStatus[e.Status]; !ok || next != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRTOStatusTransition, e.Status, to)
	}
	e.Transitions = append(e.Transitions, RTOTransition{
		From:  e.Status,
		To:    to,
		Actor: strings.TrimSpace(actor),
		Note:  strings.TrimSpace(note),
		At:    now,
	})
	e.Status = to
	e.UpdatedAt = now
	return nil
}

type RTOFilter struct {
	Status     RTOStatus
	ShipmentID string
	Limit      int
	Offset     int
}

type WorkflowAction struct {
	Sequence    int
	Type        NDRActionType
	Delay       time.Duration
	AutoExecute bool
	Channel     string
}

type RTOTrigger struct {
	MaxAttempts int
	MaxHours    int
	AutoTrigger bool
}

type WorkflowDefinition struct {
	ID        string
	CompanyID string
	Reason    NDRReason
	Version   int
	Actions   []WorkflowAction
	Trigger   RTOTrigger
}

func (d WorkflowDefinition) Validate() error {
	if strings.TrimSpace(string(d.Reason)) == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidWorkflowDefinition)
	}
	seen := map[int]struct{}{}
	for _, action := range d.Actions {
		if action.Sequence <= 0 {
			return fmt.Errorf("%w: action sequence must be positive", ErrInvalidWorkflowDefinition)
		}
		if _, dup := seen[action.Sequence]; dup {
			return fmt.Errorf("%w: duplicate action sequence %d", ErrInvalidWorkflowDefinition, action.Sequence)
		}
		seen[action.Sequence] = struct{}{}
		if strings.TrimSpace(string(action.Type)) == "" {
			return fmt.Errorf("%w: action type is required", ErrInvalidWorkflowDefinition)
		}
		if action.Delay < 0 {
			return fmt.Errorf("%w: action delay must not be negative", ErrInvalidWorkflowDefinition)
		}
	}
	if d.Trigger.MaxAttempts < 0 || d.Trigger.MaxHours < 0 {
		return fmt.Errorf("%w: rto trigger limits must not be negative", ErrInvalidWorkflowDefinition)
	}
	return nil
}

// TriggerMet reports whether the RTO condition holds for the event at now.
func (t RTOTrigger) TriggerMet(event NDREvent, now time.Time) bool {
	if event.Permanent {
		return true
	}
	if t.MaxAttempts > 0 && event.AttemptNumber >= t.MaxAttempts {
		return true
	}
	if t.MaxHours > 0 && now.Sub(event.DetectedAt) >= time.Duration(t.MaxHours)*time.Hour {
		return true
	}
	return false
}

type MappingEntry struct {
	Code      string
	Status    CanonicalStatus
	Reason    NDRReason
	Permanent bool
}

type MappingTable struct {
	CourierID string
	Version   int
	Entries   []MappingEntry
}
