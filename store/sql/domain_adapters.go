package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

func newInboundEventRecord(event core.InboundEvent) *inboundEventRecord {
	record := &inboundEventRecord{
		ID:            strings.TrimSpace(event.ID),
		CourierID:     strings.TrimSpace(event.CourierID),
		EventID:       strings.TrimSpace(event.EventID),
		EventType:     event.EventType,
		TrackingRef:   strings.TrimSpace(event.TrackingRef),
		CourierStatus: event.CourierStatus,
		RawReason:     event.RawReason,
		OccurredAt:    timePointer(event.OccurredAt),
		Payload:       append([]byte(nil), event.Payload...),
		Headers:       copyStringMap(event.Headers),
		ReceivedAt:    event.ReceivedAt.UTC(),
		Status:        string(event.Status),
		Outcome:       string(event.Outcome),
		Attempts:      event.Attempts,
		LastError:     event.LastError,
		NextAttemptAt: copyTimePointer(event.NextAttemptAt),
		ClaimedUntil:  copyTimePointer(event.ClaimedUntil),
		ArchivedAt:    copyTimePointer(event.ArchivedAt),
		CreatedAt:     event.CreatedAt.UTC(),
		UpdatedAt:     event.UpdatedAt.UTC(),
	}
	if record.Headers == nil {
		record.Headers = map[string]string{}
	}
	return record
}

func (r *inboundEventRecord) toDomain() core.InboundEvent {
	if r == nil {
		return core.InboundEvent{}
	}
	event := core.InboundEvent{
		ID:            r.ID,
		CourierID:     r.CourierID,
		EventID:       r.EventID,
		EventType:     r.EventType,
		TrackingRef:   r.TrackingRef,
		CourierStatus: r.CourierStatus,
		RawReason:     r.RawReason,
		Payload:       append([]byte(nil), r.Payload...),
		Headers:       copyStringMap(r.Headers),
		ReceivedAt:    r.ReceivedAt.UTC(),
		Status:        core.InboundEventStatus(r.Status),
		Outcome:       core.InboundOutcome(r.Outcome),
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		NextAttemptAt: copyTimePointer(r.NextAttemptAt),
		ClaimedUntil:  copyTimePointer(r.ClaimedUntil),
		ArchivedAt:    copyTimePointer(r.ArchivedAt),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.OccurredAt != nil {
		event.OccurredAt = r.OccurredAt.UTC()
	}
	return event
}

func (r *admissionRecord) toDomain() core.Admission {
	if r == nil {
		return core.Admission{}
	}
	return core.Admission{
		ID:             r.ID,
		CourierID:      r.CourierID,
		EventID:        r.EventID,
		InboundEventID: r.InboundEventID,
		State:          core.AdmissionState(r.State),
		AdmittedAt:     r.AdmittedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
	}
}

func newShipmentRecord(shipment core.Shipment) *shipmentRecord {
	history := make([]statusHistoryEntry, 0, len(shipment.History))
	for _, entry := range shipment.History {
		history = append(history, statusHistoryEntry{
			Status:        string(entry.Status),
			CourierID:     entry.CourierID,
			CourierStatus: entry.CourierStatus,
			EventID:       entry.EventID,
			OccurredAt:    entry.OccurredAt.UTC(),
			AppliedAt:     entry.AppliedAt.UTC(),
		})
	}
	return &shipmentRecord{
		ID:          strings.TrimSpace(shipment.ID),
		TrackingRef: strings.TrimSpace(shipment.TrackingRef),
		CompanyID:   strings.TrimSpace(shipment.CompanyID),
		Status:      string(shipment.Status),
		StatusAt:    timePointer(shipment.StatusAt),
		Version:     shipment.Version,
		History:     history,
		CreatedAt:   shipment.CreatedAt.UTC(),
		UpdatedAt:   shipment.UpdatedAt.UTC(),
	}
}

func (r *shipmentRecord) toDomain() core.Shipment {
	if r == nil {
		return core.Shipment{}
	}
	shipment := core.Shipment{
		ID:          r.ID,
		TrackingRef: r.TrackingRef,
		CompanyID:   r.CompanyID,
		Status:      core.CanonicalStatus(r.Status),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.StatusAt != nil {
		shipment.StatusAt = r.StatusAt.UTC()
	}
	for _, entry := range r.History {
		shipment.History = append(shipment.History, core.StatusHistoryEntry{
			Status:        core.CanonicalStatus(entry.Status),
			CourierID:     entry.CourierID,
			CourierStatus: entry.CourierStatus,
			EventID:       entry.EventID,
			OccurredAt:    entry.OccurredAt.UTC(),
			AppliedAt:     entry.AppliedAt.UTC(),
		})
	}
	return shipment
}

func newDeadLetterRecord(entry core.DeadLetterEntry) *deadLetterRecord {
	return &deadLetterRecord{
		ID:              strings.TrimSpace(entry.ID),
		InboundEventID:  strings.TrimSpace(entry.InboundEventID),
		CourierID:       strings.TrimSpace(entry.CourierID),
		EventID:         strings.TrimSpace(entry.EventID),
		Category:        string(entry.Category),
		Reason:          entry.Reason,
		FirstFailedAt:   entry.FirstFailedAt.UTC(),
		LastAttemptedAt: entry.LastAttemptedAt.UTC(),
		AttemptCount:    entry.AttemptCount,
		Status:          string(entry.Status),
		ResolvedBy:      strings.TrimSpace(entry.ResolvedBy),
		ResolutionNote:  strings.TrimSpace(entry.ResolutionNote),
		CreatedAt:       entry.CreatedAt.UTC(),
		UpdatedAt:       entry.UpdatedAt.UTC(),
	}
}

func (r *deadLetterRecord) toDomain() core.DeadLetterEntry {
	if r == nil {
		return core.DeadLetterEntry{}
	}
	return core.DeadLetterEntry{
		ID:              r.ID,
		InboundEventID:  r.InboundEventID,
		CourierID:       r.CourierID,
		EventID:         r.EventID,
		Category:        core.DeadLetterCategory(r.Category),
		Reason:          r.Reason,
		FirstFailedAt:   r.FirstFailedAt.UTC(),
		LastAttemptedAt: r.LastAttemptedAt.UTC(),
		AttemptCount:    r.AttemptCount,
		Status:          core.DeadLetterStatus(r.Status),
		ResolvedBy:      r.ResolvedBy,
		ResolutionNote:  r.ResolutionNote,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func newNDRRecord(event core.NDREvent) *ndrRecord {
	record := &ndrRecord{
		ID:                strings.TrimSpace(event.ID),
		ShipmentID:        strings.TrimSpace(event.ShipmentID),
		TrackingRef:       strings.TrimSpace(event.TrackingRef),
		CompanyID:         strings.TrimSpace(event.CompanyID),
		AttemptNumber:     event.AttemptNumber,
		Reason:            string(event.Reason),
		RawReason:         event.RawReason,
		Permanent:         event.Permanent,
		DetectedAt:        event.DetectedAt.UTC(),
		Deadline:          event.Deadline.UTC(),
		Status:            string(event.Status),
		Actions:           make([]ndrActionEntry, 0, len(event.Actions)),
		CustomerContacted: event.CustomerContacted,
		ClosedAt:          copyTimePointer(event.ClosedAt),
		ClosedBy:          event.ClosedBy,
		CloseReason:       event.CloseReason,
		Annotations:       make([]annotation, 0, len(event.Annotations)),
		Version:           event.Version,
		CreatedAt:         event.CreatedAt.UTC(),
		UpdatedAt:         event.UpdatedAt.UTC(),
	}
	for _, action := range event.Actions {
		record.Actions = append(record.Actions, ndrActionEntry{
			Sequence:   action.Sequence,
			Type:       string(action.Type),
			Actor:      action.Actor,
			Result:     string(action.Result),
			Detail:     action.Detail,
			ExecutedAt: action.ExecutedAt.UTC(),
		})
	}
	for _, note := range event.Annotations {
		record.Annotations = append(record.Annotations, annotation{
			Actor:     note.Actor,
			Note:      note.Note,
			CreatedAt: note.CreatedAt.UTC(),
		})
	}
	return record
}

func (r *ndrRecord) toDomain() core.NDREvent {
	if r == nil {
		return core.NDREvent{}
	}
	event := core.NDREvent{
		ID:                r.ID,
		ShipmentID:        r.ShipmentID,
		TrackingRef:       r.TrackingRef,
		CompanyID:         r.CompanyID,
		AttemptNumber:     r.AttemptNumber,
		Reason:            core.NDRReason(r.Reason),
		RawReason:         r.RawReason,
		Permanent:         r.Permanent,
		DetectedAt:        r.DetectedAt.UTC(),
		Deadline:          r.Deadline.UTC(),
		Status:            core.NDRStatus(r.Status),
		CustomerContacted: r.CustomerContacted,
		ClosedAt:          copyTimePointer(r.ClosedAt),
		ClosedBy:          r.ClosedBy,
		CloseReason:       r.CloseReason,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	for _, action := range r.Actions {
		event.Actions = append(event.Actions, core.NDRAction{
			Sequence:   action.Sequence,
			Type:       core.NDRActionType(action.Type),
			Actor:      action.Actor,
			Result:     core.NDRActionResult(action.Result),
			Detail:     action.Detail,
			ExecutedAt: action.ExecutedAt.UTC(),
		})
	}
	for _, note := range r.Annotations {
		event.Annotations = append(event.Annotations, core.Annotation{
			Actor:     note.Actor,
			Note:      note.Note,
			CreatedAt: note.CreatedAt.UTC(),
		})
	}
	return event
}

func newScheduledActionRecord(action core.ScheduledAction) *scheduledActionRecord {
	return &scheduledActionRecord{
		ID:           strings.TrimSpace(action.ID),
		NDRID:        strings.TrimSpace(action.NDRID),
		Sequence:     action.Sequence,
		ActionType:   string(action.ActionType),
		Channel:      strings.TrimSpace(action.Channel),
		AutoExecute:  action.AutoExecute,
		DueAt:        action.DueAt.UTC(),
		Status:       string(action.Status),
		ClaimedUntil: copyTimePointer(action.ClaimedUntil),
		Attempts:     action.Attempts,
		LastError:    action.LastError,
		CreatedAt:    action.CreatedAt.UTC(),
		UpdatedAt:    action.UpdatedAt.UTC(),
	}
}

func (r *scheduledActionRecord) toDomain() core.ScheduledAction {
	if r == nil {
		return core.ScheduledAction{}
	}
	return core.ScheduledAction{
		ID:           r.ID,
		NDRID:        r.NDRID,
		Sequence:     r.Sequence,
		ActionType:   core.NDRActionType(r.ActionType),
		Channel:      r.Channel,
		AutoExecute:  r.AutoExecute,
		DueAt:        r.DueAt.UTC(),
		Status:       core.ScheduledActionStatus(r.Status),
		ClaimedUntil: copyTimePointer(r.ClaimedUntil),
		Attempts:     r.Attempts,
		LastError:    r.LastError,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func newRTORecord(event core.RTOEvent) *rtoRecord {
	record := &rtoRecord{
		ID:          strings.TrimSpace(event.ID),
		ShipmentID:  strings.TrimSpace(event.ShipmentID),
		TrackingRef: strings.TrimSpace(event.TrackingRef),
		Status:      string(event.Status),
		QCResult:    string(event.QCResult),
		Disposition: string(event.Disposition),
		InitiatedBy: strings.TrimSpace(event.InitiatedBy),
		Reason:      event.Reason,
		Transitions: make([]rtoTransition, 0, len(event.Transitions)),
		Version:     event.Version,
		CreatedAt:   event.CreatedAt.UTC(),
		UpdatedAt:   event.UpdatedAt.UTC(),
	}
	if ndrID := strings.TrimSpace(event.NDRID); ndrID != "" {
		record.NDRID = &ndrID
	}
	if event.Financials != nil {
		record.Financials = &financialSummary{
			ReturnShippingCost: event.Financials.ReturnShippingCost,
			WriteOffAmount:     event.Financials.WriteOffAmount,
			Currency:           event.Financials.Currency,
		}
	}
	for _, transition := range event.Transitions {
		record.Transitions = append(record.Transitions, rtoTransition{
			From:  string(transition.From),
			To:    string(transition.To),
			Actor: transition.Actor,
			Note:  transition.Note,
			At:    transition.At.UTC(),
		})
	}
	return record
}

func (r *rtoRecord) toDomain() core.RTOEvent {
	if r == nil {
		return core.RTOEvent{}
	}
	event := core.RTOEvent{
		ID:          r.ID,
		ShipmentID:  r.ShipmentID,
		TrackingRef: r.TrackingRef,
		Status:      core.RTOStatus(r.Status),
		QCResult:    core.QCResult(r.QCResult),
		Disposition: core.Disposition(r.Disposition),
		InitiatedBy: r.InitiatedBy,
		Reason:      r.Reason,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.NDRID != nil {
		event.NDRID = *r.NDRID
	}
	if r.Financials != nil {
		event.Financials = &core.FinancialSummary{
			ReturnShippingCost: r.Financials.ReturnShippingCost,
			WriteOffAmount:     r.Financials.WriteOffAmount,
			Currency:           r.Financials.Currency,
		}
	}
	for _, transition := range r.Transitions {
		event.Transitions = append(event.Transitions, core.RTOTransition{
			From:  core.RTOStatus(transition.From),
			To:    core.RTOStatus(transition.To),
			Actor: transition.Actor,
			Note:  transition.Note,
			At:    transition.At.UTC(),
		})
	}
	return event
}

func newWorkflowRecord(def core.WorkflowDefinition) *workflowRecord {
	record := &workflowRecord{
		ID:        strings.TrimSpace(def.ID),
		CompanyID: strings.TrimSpace(def.CompanyID),
		Reason:    string(def.Reason),
		Version:   def.Version,
		Actions:   make([]workflowAction, 0, len(def.Actions)),
		Trigger: rtoTrigger{
			MaxAttempts: def.Trigger.MaxAttempts,
			MaxHours:    def.Trigger.MaxHours,
			AutoTrigger: def.Trigger.AutoTrigger,
		},
	}
	for _, action := range def.Actions {
		record.Actions = append(record.Actions, workflowAction{
			Sequence:     action.Sequence,
			Type:         string(action.Type),
			DelaySeconds: int64(action.Delay / time.Second),
			AutoExecute:  action.AutoExecute,
			Channel:      action.Channel,
		})
	}
	return record
}

func (r *workflowRecord) toDomain() core.WorkflowDefinition {
	if r == nil {
		return core.WorkflowDefinition{}
	}
	def := core.WorkflowDefinition{
		ID:        r.ID,
		CompanyID: r.CompanyID,
		Reason:    core.NDRReason(r.Reason),
		Version:   r.Version,
		Trigger: core.RTOTrigger{
			MaxAttempts: r.Trigger.MaxAttempts,
			MaxHours:    r.Trigger.MaxHours,
			AutoTrigger: r.Trigger.AutoTrigger,
		},
	}
	for _, action := range r.Actions {
		def.Actions = append(def.Actions, core.WorkflowAction{
			Sequence:    action.Sequence,
			Type:        core.NDRActionType(action.Type),
			Delay:       time.Duration(action.DelaySeconds) * time.Second,
			AutoExecute: action.AutoExecute,
			Channel:     action.Channel,
		})
	}
	return def
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
