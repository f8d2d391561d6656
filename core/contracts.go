package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
	SetGauge(ctx context.Context, name string, value float64, tags map[string]string)
}

type InboundEventStore interface {
	Create(ctx context.Context, event InboundEvent) (InboundEvent, error)
	Get(ctx context.Context, id string) (InboundEvent, error)
	Update(ctx context.Context, event InboundEvent) (InboundEvent, error)
	// ClaimDue leases verified or failed events whose next attempt is due.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]InboundEvent, error)
	ReleaseClaim(ctx context.Context, id string) error
	// RenewClaim moves the lease to until while the event is still pending
	// and no claim newer than held has replaced it. Otherwise ErrClaimLost.
	RenewClaim(ctx context.Context, id string, held time.Time, until time.Time) (InboundEvent, error)
	ArchiveTerminal(ctx context.Context, before time.Time, limit int) (int, error)
}

// AdmissionLedger is the durable record behind duplicate suppression.
// Admit must be an atomic insert-if-absent; a released row may be taken again.
type AdmissionLedger interface {
	Admit(ctx context.Context, admission Admission) (bool, error)
	Get(ctx context.Context, courierID string, eventID string) (Admission, error)
	Release(ctx context.Context, courierID string, eventID string) error
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// NDROpenRequest asks the shipment store to open an NDR in the same
// transaction as the status write.
type NDROpenRequest struct {
	Reason     NDRReason
	RawReason  string
	Permanent  bool
	DetectedAt time.Time
	Deadline   time.Time
	Actions    []ScheduledAction
}

type ShipmentStatusUpdate struct {
	ShipmentID      string
	ExpectedVersion int
	Status          CanonicalStatus
	StatusAt        time.Time
	History         StatusHistoryEntry
	NDR             *NDROpenRequest
	UpdatedAt       time.Time
}

type ShipmentStatusResult struct {
	Shipment   Shipment
	NDR        *NDREvent
	NDRCreated bool
}

type ShipmentStore interface {
	GetByTrackingRef(ctx context.Context, trackingRef string) (Shipment, error)
	// UpdateStatus returns ErrVersionConflict when ExpectedVersion is stale.
	UpdateStatus(ctx context.Context, update ShipmentStatusUpdate) (ShipmentStatusResult, error)
}

type DeadLetterStore interface {
	// Create records an entry or reopens the existing entry for the same inbound event.
	Create(ctx context.Context, entry DeadLetterEntry) (DeadLetterEntry, error)
	Get(ctx context.Context, id string) (DeadLetterEntry, error)
	List(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterEntry, int, error)
	// Transition writes entry only if the stored status still equals from.
	Transition(ctx context.Context, from DeadLetterStatus, entry DeadLetterEntry) (DeadLetterEntry, error)
	ClaimPending(ctx context.Context, categories []DeadLetterCategory, limit int, now time.Time) ([]DeadLetterEntry, error)
	CountByStatus(ctx context.Context, status DeadLetterStatus) (int, error)
}

type NDRStore interface {
	Get(ctx context.Context, id string) (NDREvent, error)
	GetOpenByShipment(ctx context.Context, shipmentID string) (NDREvent, error)
	List(ctx context.Context, filter NDRFilter) ([]NDREvent, int, error)
	// Update is optimistic on Version and returns ErrVersionConflict.
	Update(ctx context.Context, event NDREvent) (NDREvent, error)
	ClaimDueActions(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]ScheduledAction, error)
	CompleteAction(ctx context.Context, action ScheduledAction, status ScheduledActionStatus) error
	CancelPendingActions(ctx context.Context, ndrID string, now time.Time) (int, error)
	ClaimOverdue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]NDREvent, error)
	// CloseWithRTO persists the terminal NDR and its RTO atomically.
	CloseWithRTO(ctx context.Context, event NDREvent, rto RTOEvent) (NDREvent, RTOEvent, error)
}

type RTOStore interface {
	Create(ctx context.Context, event RTOEvent) (RTOEvent, error)
	Get(ctx context.Context, id string) (RTOEvent, error)
	GetActiveByShipment(ctx context.Context, shipmentID string) (RTOEvent, error)
	List(ctx context.Context, filter RTOFilter) ([]RTOEvent, int, error)
	Update(ctx context.Context, event RTOEvent) (RTOEvent, error)
}

type WorkflowStore interface {
	// Get returns ErrNotFound when the company has no override for reason.
	Get(ctx context.Context, companyID string, reason NDRReason) (WorkflowDefinition, error)
	Save(ctx context.Context, definition WorkflowDefinition) (WorkflowDefinition, error)
}

type MappingSource interface {
	LoadTables(ctx context.Context) ([]MappingTable, error)
}

type MappingStore interface {
	MappingSource
	SaveTable(ctx context.Context, table MappingTable) error
}

type Notification struct {
	NDRID       string
	ShipmentID  string
	TrackingRef string
	CompanyID   string
	Reason      NDRReason
	ActionType  NDRActionType
	Channel     string
}

// Notifier sends customer notifications; delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

type Task struct {
	NDRID       string
	ShipmentID  string
	TrackingRef string
	CompanyID   string
	ActionType  NDRActionType
	DueAt       time.Time
}

type TaskSink interface {
	CreateTask(ctx context.Context, task Task) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type CommandMessage interface {
	Type() string
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg CommandMessage) error
}
