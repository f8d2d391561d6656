package httpapi

import (
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/query"
)

type pageView[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func toPage[S any, T any](page query.Page[S], convert func(S) T) pageView[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, convert(item))
	}
	return pageView[T]{Items: items, Total: page.Total, Limit: page.Limit, Offset: page.Offset}
}

type deadLetterView struct {
	ID              string    `json:"id"`
	InboundEventID  string    `json:"inbound_event_id"`
	CourierID       string    `json:"courier_id"`
	EventID         string    `json:"event_id,omitempty"`
	Category        string    `json:"category"`
	Reason          string    `json:"reason"`
	FirstFailedAt   time.Time `json:"first_failed_at"`
	LastAttemptedAt time.Time `json:"last_attempted_at"`
	AttemptCount    int       `json:"attempt_count"`
	Status          string    `json:"status"`
	ResolvedBy      string    `json:"resolved_by,omitempty"`
	ResolutionNote  string    `json:"resolution_note,omitempty"`
}

func toDeadLetterView(entry core.DeadLetterEntry) deadLetterView {
	return deadLetterView{
		ID:              entry.ID,
		InboundEventID:  entry.InboundEventID,
		CourierID:       entry.CourierID,
		EventID:         entry.EventID,
		Category:        string(entry.Category),
		Reason:          entry.Reason,
		FirstFailedAt:   entry.FirstFailedAt,
		LastAttemptedAt: entry.LastAttemptedAt,
		AttemptCount:    entry.AttemptCount,
		Status:          string(entry.Status),
		ResolvedBy:      entry.ResolvedBy,
		ResolutionNote:  entry.ResolutionNote,
	}
}

type ndrActionView struct {
	Sequence   int       `json:"sequence"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Result     string    `json:"result"`
	Detail     string    `json:"detail,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

type annotationView struct {
	Actor     string    `json:"actor"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type ndrView struct {
	ID                string           `json:"id"`
	ShipmentID        string           `json:"shipment_id"`
	TrackingRef       string           `json:"tracking_ref"`
	CompanyID         string           `json:"company_id,omitempty"`
	AttemptNumber     int              `json:"attempt_number"`
	Reason            string           `json:"reason"`
	RawReason         string           `json:"raw_reason,omitempty"`
	Permanent         bool             `json:"permanent"`
	DetectedAt        time.Time        `json:"detected_at"`
	Deadline          time.Time        `json:"deadline"`
	Status            string           `json:"status"`
	CustomerContacted bool             `json:"customer_contacted"`
	Actions           []ndrActionView  `json:"actions"`
	Annotations       []annotationView `json:"annotations"`
	ClosedAt          *time.Time       `json:"closed_at,omitempty"`
	ClosedBy          string           `json:"closed_by,omitempty"`
	CloseReason       string           `json:"close_reason,omitempty"`
	Version           int              `json:"version"`
}

func toNDRView(event core.NDREvent) ndrView {
	view := ndrView{
		ID:                event.ID,
		ShipmentID:        event.ShipmentID,
		TrackingRef:       event.TrackingRef,
		CompanyID:         event.CompanyID,
		AttemptNumber:     event.AttemptNumber,
		Reason:            string(event.Reason),
		RawReason:         event.RawReason,
		Permanent:         event.Permanent,
		DetectedAt:        event.DetectedAt,
		Deadline:          event.Deadline,
		Status:            string(event.Status),
		CustomerContacted: event.CustomerContacted,
		Actions:           make([]ndrActionView, 0, len(event.Actions)),
		Annotations:       make([]annotationView, 0, len(event.Annotations)),
		ClosedAt:          event.ClosedAt,
		ClosedBy:          event.ClosedBy,
		CloseReason:       event.CloseReason,
		Version:           event.Version,
	}
	for _, action := range event.Actions {
		view.Actions = append(view.Actions, ndrActionView{
			Sequence:   action.Sequence,
			Type:       string(action.Type),
			Actor:      action.Actor,
			Result:     string(action.Result),
			Detail:     action.Detail,
			ExecutedAt: action.ExecutedAt,
		})
	}
	for _, note := range event.Annotations {
		view.Annotations = append(view.Annotations, annotationView{
			Actor:     note.Actor,
			Note:      note.Note,
			CreatedAt: note.CreatedAt,
		})
	}
	return view
}

type financialsView struct {
	ReturnShippingCost int64  `json:"return_shipping_cost"`
	WriteOffAmount     int64  `json:"write_off_amount"`
	Currency           string `json:"currency,omitempty"`
}

type rtoTransitionView struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

type rtoView struct {
	ID          string              `json:"id"`
	ShipmentID  string              `json:"shipment_id"`
	TrackingRef string              `json:"tracking_ref,omitempty"`
	NDRID       string              `json:"ndr_id,omitempty"`
	Status      string              `json:"status"`
	QCResult    string              `json:"qc_result,omitempty"`
	Disposition string              `json:"disposition,omitempty"`
	Financials  *financialsView     `json:"financials,omitempty"`
	InitiatedBy string              `json:"initiated_by"`
	Reason      string              `json:"reason"`
	Transitions []rtoTransitionView `json:"transitions"`
	Version     int                 `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func toRTOView(event core.RTOEvent) rtoView {
	view := rtoView{
		ID:          event.ID,
		ShipmentID:  event.ShipmentID,
		TrackingRef: event.TrackingRef,
		NDRID:       event.NDRID,
		Status:      string(event.Status),
		QCResult:    string(event.QCResult),
		Disposition: string(event.Disposition),
		InitiatedBy: event.InitiatedBy,
		Reason:      event.Reason,
		Transitions: make([]rtoTransitionView, 0, len(event.Transitions)),
		Version:     event.Version,
		CreatedAt:   event.CreatedAt,
		UpdatedAt:   event.UpdatedAt,
	}
	if event.Financials != nil {
		view.Financials = &financialsView{
			ReturnShippingCost: event.Financials.ReturnShippingCost,
			WriteOffAmount:     event.Financials.WriteOffAmount,
			Currency:           event.Financials.Currency,
		}
	}
	for _, transition := range event.Transitions {
		view.Transitions = append(view.Transitions, rtoTransitionView{
			From:  string(transition.From),
			To:    string(transition.To),
			Actor: transition.Actor,
			Note:  transition.Note,
			At:    transition.At,
		})
	}
	return view
}

type workflowActionView struct {
	Sequence    int    `json:"sequence"`
	Type        string `json:"type"`
	Delay       string `json:"delay"`
	AutoExecute bool   `json:"auto_execute"`
	Channel     string `json:"channel,omitempty"`
}

type rtoTriggerView struct {
	MaxAttempts int  `json:"max_attempts"`
	MaxHours    int  `json:"max_hours"`
	AutoTrigger bool `json:"auto_trigger"`
}

type workflowView struct {
	ID        string               `json:"id,omitempty"`
	CompanyID string               `json:"company_id"`
	Reason    string               `json:"reason"`
	Version   int                  `json:"version"`
	Actions   []workflowActionView `json:"actions"`
	Trigger   rtoTriggerView       `json:"trigger"`
}

func toWorkflowView(def core.WorkflowDefinition) workflowView {
	view := workflowView{
		ID:        def.ID,
		CompanyID: def.CompanyID,
		Reason:    string(def.Reason),
		Version:   def.Version,
		Actions:   make([]workflowActionView, 0, len(def.Actions)),
		Trigger: rtoTriggerView{
			MaxAttempts: def.Trigger.MaxAttempts,
			MaxHours:    def.Trigger.MaxHours,
			AutoTrigger: def.Trigger.AutoTrigger,
		},
	}
	for _, action := range def.Actions {
		view.Actions = append(view.Actions, workflowActionView{
			Sequence:    action.Sequence,
			Type:        string(action.Type),
			Delay:       action.Delay.String(),
			AutoExecute: action.AutoExecute,
			Channel:     action.Channel,
		})
	}
	return view
}
