package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type inboundEventRecord struct {
	bun.BaseModel `bun:"table:courier_inbound_events,alias:cie"`

	ID            string            `bun:"id,pk"`
	CourierID     string            `bun:"courier_id,notnull"`
	EventID       string            `bun:"event_id,notnull"`
	EventType     string            `bun:"event_type,notnull"`
	TrackingRef   string            `bun:"tracking_ref,notnull"`
	CourierStatus string            `bun:"courier_status,notnull"`
	RawReason     string            `bun:"raw_reason,notnull"`
	OccurredAt    *time.Time        `bun:"occurred_at,nullzero"`
	Payload       []byte            `bun:"payload"`
	Headers       map[string]string `bun:"headers,type:jsonb,notnull"`
	ReceivedAt    time.Time         `bun:"received_at,notnull"`
	Status        string            `bun:"status,notnull"`
	Outcome       string            `bun:"outcome,notnull"`
	Attempts      int               `bun:"attempts,notnull"`
	LastError     string            `bun:"last_error,notnull"`
	NextAttemptAt *time.Time        `bun:"next_attempt_at,nullzero"`
	ClaimedUntil  *time.Time        `bun:"claimed_until,nullzero"`
	ArchivedAt    *time.Time        `bun:"archived_at,nullzero"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type admissionRecord struct {
	bun.BaseModel `bun:"table:courier_admissions,alias:cad"`

	ID             string    `bun:"id,pk"`
	CourierID      string    `bun:"courier_id,notnull"`
	EventID        string    `bun:"event_id,notnull"`
	InboundEventID string    `bun:"inbound_event_id,notnull"`
	State          string    `bun:"state,notnull"`
	AdmittedAt     time.Time `bun:"admitted_at,notnull"`
	ExpiresAt      time.Time `bun:"expires_at,notnull"`
}

type shipmentRecord struct {
	bun.BaseModel `bun:"table:courier_shipments,alias:cs"`

	ID          string               `bun:"id,pk"`
	TrackingRef string               `bun:"tracking_ref,notnull"`
	CompanyID   string               `bun:"company_id,notnull"`
	Status      string               `bun:"status,notnull"`
	StatusAt    *time.Time           `bun:"status_at,nullzero"`
	Version     int                  `bun:"version,notnull"`
	History     []statusHistoryEntry `bun:"history,type:jsonb,notnull"`
	CreatedAt   time.Time            `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time            `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type statusHistoryEntry struct {
	Status        string    `json:"status"`
	CourierID     string    `json:"courier_id,omitempty"`
	CourierStatus string    `json:"courier_status,omitempty"`
	EventID       string    `json:"event_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	AppliedAt     time.Time `json:"applied_at"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:courier_dead_letters,alias:cdl"`

	ID              string    `bun:"id,pk"`
	InboundEventID  string    `bun:"inbound_event_id,notnull"`
	CourierID       string    `bun:"courier_id,notnull"`
	EventID         string    `bun:"event_id,notnull"`
	Category        string    `bun:"category,notnull"`
	Reason          string    `bun:"reason,notnull"`
	FirstFailedAt   time.Time `bun:"first_failed_at,notnull"`
	LastAttemptedAt time.Time `bun:"last_attempted_at,notnull"`
	AttemptCount    int       `bun:"attempt_count,notnull"`
	Status          string    `bun:"status,notnull"`
	ResolvedBy      string    `bun:"resolved_by,notnull"`
	ResolutionNote  string    `bun:"resolution_note,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type ndrRecord struct {
	bun.BaseModel `bun:"table:courier_ndr_events,alias:cn"`

	ID                string           `bun:"id,pk"`
	ShipmentID        string           `bun:"shipment_id,notnull"`
	TrackingRef       string           `bun:"tracking_ref,notnull"`
	CompanyID         string           `bun:"company_id,notnull"`
	AttemptNumber     int              `bun:"attempt_number,notnull"`
	Reason            string           `bun:"reason,notnull"`
	RawReason         string           `bun:"raw_reason,notnull"`
	Permanent         bool             `bun:"permanent,notnull"`
	DetectedAt        time.Time        `bun:"detected_at,notnull"`
	Deadline          time.Time        `bun:"deadline,notnull"`
	Status            string           `bun:"status,notnull"`
	Actions           []ndrActionEntry `bun:"actions,type:jsonb,notnull"`
	CustomerContacted bool             `bun:"customer_contacted,notnull"`
	ClosedAt          *time.Time       `bun:"closed_at,nullzero"`
	ClosedBy          string           `bun:"closed_by,notnull"`
	CloseReason       string           `bun:"close_reason,notnull"`
	Annotations       []annotation     `bun:"annotations,type:jsonb,notnull"`
	Version           int              `bun:"version,notnull"`
	SweepClaimedUntil *time.Time       `bun:"sweep_claimed_until,nullzero"`
	CreatedAt         time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type ndrActionEntry struct {
	Sequence   int       `json:"sequence"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Result     string    `json:"result"`
	Detail     string    `json:"detail,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

type annotation struct {
	Actor     string    `json:"actor"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type scheduledActionRecord struct {
	bun.BaseModel `bun:"table:courier_ndr_actions,alias:cna"`

	ID           string     `bun:"id,pk"`
	NDRID        string     `bun:"ndr_id,notnull"`
	Sequence     int        `bun:"sequence,notnull"`
	ActionType   string     `bun:"action_type,notnull"`
	Channel      string     `bun:"channel,notnull"`
	AutoExecute  bool       `bun:"auto_execute,notnull"`
	DueAt        time.Time  `bun:"due_at,notnull"`
	Status       string     `bun:"status,notnull"`
	ClaimedUntil *time.Time `bun:"claimed_until,nullzero"`
	Attempts     int        `bun:"attempts,notnull"`
	LastError    string     `bun:"last_error,notnull"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rtoRecord struct {
	bun.BaseModel `bun:"table:courier_rto_events,alias:cr"`

	ID          string            `bun:"id,pk"`
	ShipmentID  string            `bun:"shipment_id,notnull"`
	TrackingRef string            `bun:"tracking_ref,notnull"`
	NDRID       *string           `bun:"ndr_id"`
	Status      string            `bun:"status,notnull"`
	QCResult    string            `bun:"qc_result,notnull"`
	Disposition string            `bun:"disposition,notnull"`
	Financials  *financialSummary `bun:"financials,type:jsonb"`
	InitiatedBy string            `bun:"initiated_by,notnull"`
	Reason      string            `bun:"reason,notnull"`
	Transitions []rtoTransition   `bun:"transitions,type:jsonb,notnull"`
	Version     int               `bun:"version,notnull"`
	CreatedAt   time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type financialSummary struct {
	ReturnShippingCost int64  `json:"return_shipping_cost"`
	WriteOffAmount     int64  `json:"write_off_amount"`
	Currency           string `json:"currency"`
}

type rtoTransition struct {
	From  string    `json:"from,omitempty"`
	To    string    `json:"to"`
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

type workflowRecord struct {
	bun.BaseModel `bun:"table:courier_workflow_definitions,alias:cw"`

	ID        string           `bun:"id,pk"`
	CompanyID string           `bun:"company_id,notnull"`
	Reason    string           `bun:"reason,notnull"`
	Version   int              `bun:"version,notnull"`
	Actions   []workflowAction `bun:"actions,type:jsonb,notnull"`
	Trigger   rtoTrigger       `bun:"rto_trigger,type:jsonb,notnull"`
	CreatedAt time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type workflowAction struct {
	Sequence     int    `json:"sequence"`
	Type         string `json:"type"`
	DelaySeconds int64  `json:"delay_seconds"`
	AutoExecute  bool   `json:"auto_execute"`
	Channel      string `json:"channel,omitempty"`
}

type rtoTrigger struct {
	MaxAttempts int  `json:"max_attempts"`
	MaxHours    int  `json:"max_hours"`
	AutoTrigger bool `json:"auto_trigger"`
}

type statusMappingRecord struct {
	bun.BaseModel `bun:"table:courier_status_mappings,alias:csm"`

	ID        string    `bun:"id,pk"`
	CourierID string    `bun:"courier_id,notnull"`
	Version   int       `bun:"version,notnull"`
	Code      string    `bun:"code,notnull"`
	Status    string    `bun:"status,notnull"`
	Reason    string    `bun:"reason,notnull"`
	Permanent bool      `bun:"permanent,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
