// Package ndr runs the non-delivery resolution workflow: scheduled customer
// actions, operator decisions and deadline enforcement ending in resolution,
// escalation or a return to origin.
package ndr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/rto"
	"github.com/google/uuid"
)

const (
	defaultSLA             = 48 * time.Hour
	defaultLease           = 2 * time.Minute
	defaultConflictRetries = 3
	maxTaskAttempts        = 3

	ActorSystemDeadline = "system:deadline"
	ActorSystemWorkflow = "system:workflow"
	ActorCustomer       = "customer"
)

type ActionStats struct {
	Claimed     int
	Executed    int
	TaskCreated int
	Failed      int
	Cancelled   int
}

type SweepStats struct {
	Claimed      int
	RTOTriggered int
	Escalated    int
}

type CustomerResponse struct {
	Channel   string
	Message   string
	Confirmed bool
}

type Engine struct {
	NDRs               core.NDRStore
	Workflows          core.WorkflowStore
	Defaults           map[core.NDRReason]core.WorkflowDefinition
	Notifier           core.Notifier
	Tasks              core.TaskSink
	SLA                time.Duration
	ActionLease        time.Duration
	SweepLease         time.Duration
	MaxConflictRetries int
	Observer           core.Observer
	Now                func() time.Time
}

func NewEngine(ndrs core.NDRStore, workflows core.WorkflowStore, notifier core.Notifier, tasks core.TaskSink) *Engine {
	return &Engine{
		NDRs:               ndrs,
		Workflows:          workflows,
		Defaults:           DefaultWorkflows(),
		Notifier:           notifier,
		Tasks:              tasks,
		SLA:                defaultSLA,
		ActionLease:        defaultLease,
		SweepLease:         defaultLease,
		MaxConflictRetries: defaultConflictRetries,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Plan builds the NDR opened together with a delivery_failed status write.
func (e *Engine) Plan(
	ctx context.Context,
	shipment core.Shipment,
	reason core.NDRReason,
	rawReason string,
	permanent bool,
	detectedAt time.Time,
) (core.NDROpenRequest, error) {
	if e == nil {
		return core.NDROpenRequest{}, fmt.Errorf("ndr: engine is not configured")
	}
	if reason == "" {
		reason = core.NDRReasonOther
	}
	if detectedAt.IsZero() {
		detectedAt = e.now()
	}
	def, err := e.Workflow(ctx, shipment.CompanyID, reason)
	if err != nil {
		return core.NDROpenRequest{}, err
	}
	return core.NDROpenRequest{
		Reason:     reason,
		RawReason:  strings.TrimSpace(rawReason),
		Permanent:  permanent,
		DetectedAt: detectedAt.UTC(),
		Deadline:   detectedAt.UTC().Add(e.sla()),
		Actions:    scheduleActions(def, detectedAt.UTC()),
	}, nil
}

// RunDueActions executes workflow actions whose time has come. Each action
// is claimed before it runs so concurrent runners never execute it twice.
func (e *Engine) RunDueActions(ctx context.Context, limit int) (ActionStats, error) {
	if e == nil || e.NDRs == nil {
		return ActionStats{}, fmt.Errorf("ndr: engine is not configured")
	}
	startedAt := time.Now()
	claimed, err := e.NDRs.ClaimDueActions(ctx, e.now(), e.actionLease(), limit)
	if err != nil {
		return ActionStats{}, fmt.Errorf("ndr: claim due actions: %w", err)
	}
	stats := ActionStats{Claimed: len(claimed)}
	var runErr error
	for _, action := range claimed {
		if err := e.runAction(ctx, action, &stats); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if stats.Claimed > 0 {
		e.Observer.Observe(ctx, startedAt, "ndr_actions", runErr, map[string]any{
			"claimed":      stats.Claimed,
			"executed":     stats.Executed,
			"task_created": stats.TaskCreated,
			"failed":       stats.Failed,
			"cancelled":    stats.Cancelled,
		})
	}
	return stats, runErr
}

func (e *Engine) runAction(ctx context.Context, action core.ScheduledAction, stats *ActionStats) error {
	event, err := e.NDRs.Get(ctx, action.NDRID)
	if err != nil {
		return fmt.Errorf("ndr: load ndr for action %s: %w", action.ID, err)
	}
	if event.Status.Terminal() {
		stats.Cancelled++
		return e.NDRs.CompleteAction(ctx, action, core.ScheduledActionCancelled)
	}

	record := core.NDRAction{
		Type:  action.ActionType,
		Actor: ActorSystemWorkflow,
	}
	contacted := false
	if action.AutoExecute {
		record.Result = core.ActionResultSucceeded
		record.Detail = "sent via " + channelOf(action)
		if err := e.notify(ctx, event, action); err != nil {
			// Notifications are fire-and-forget; the failure is recorded, not retried.
			record.Result = core.ActionResultFailed
			record.Detail = err.Error()
			action.LastError = err.Error()
			stats.Failed++
		} else {
			contacted = true
			stats.Executed++
		}
	} else {
		if err := e.createTask(ctx, event, action); err != nil {
			if action.Attempts < maxTaskAttempts {
				// Left claimed; the lease lapses and the action is retried.
				return fmt.Errorf("ndr: create task for action %s: %w", action.ID, err)
			}
			record.Result = core.ActionResultFailed
			record.Detail = err.Error()
			action.LastError = err.Error()
			stats.Failed++
		} else {
			record.Result = core.ActionResultTaskCreated
			record.Detail = "task created"
			stats.TaskCreated++
		}
	}

	_, err = e.mutate(ctx, event.ID, func(current *core.NDREvent) error {
		if current.Status.Terminal() {
			return nil
		}
		now := e.now()
		entry := record
		entry.Sequence = current.NextActionSequence()
		entry.ExecutedAt = now
		current.Actions = append(current.Actions, entry)
		if contacted {
			current.CustomerContacted = true
		}
		if current.Status == core.NDRStatusDetected {
			if err := current.TransitionTo(core.NDRStatusInResolution, ActorSystemWorkflow, "", now); err != nil {
				return err
			}
		}
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("ndr: record action %s: %w", action.ID, err)
	}
	e.Observer.Counter(ctx, core.MetricNDRActionsExecuted, 1, map[string]string{
		"action_type": string(action.ActionType),
		"result":      string(record.Result),
	})
	return e.NDRs.CompleteAction(ctx, action, core.ScheduledActionDone)
}

func (e *Engine) notify(ctx context.Context, event core.NDREvent, action core.ScheduledAction) error {
	if e.Notifier == nil {
		return fmt.Errorf("ndr: notifier is not configured")
	}
	return e.Notifier.Notify(ctx, core.Notification{
		NDRID:       event.ID,
		ShipmentID:  event.ShipmentID,
		TrackingRef: event.TrackingRef,
		CompanyID:   event.CompanyID,
		Reason:      event.Reason,
		ActionType:  action.ActionType,
		Channel:     channelOf(action),
	})
}

func (e *Engine) createTask(ctx context.Context, event core.NDREvent, action core.ScheduledAction) error {
	if e.Tasks == nil {
		return fmt.Errorf("ndr: task sink is not configured")
	}
	return e.Tasks.CreateTask(ctx, core.Task{
		NDRID:       event.ID,
		ShipmentID:  event.ShipmentID,
		TrackingRef: event.TrackingRef,
		CompanyID:   event.CompanyID,
		ActionType:  action.ActionType,
		DueAt:       action.DueAt,
	})
}

// SweepDeadlines closes open NDRs past their resolution deadline: with an
// auto-trigger workflow whose RTO condition holds they become rto_triggered,
// otherwise escalated.
func (e *Engine) SweepDeadlines(ctx context.Context, limit int) (SweepStats, error) {
	if e == nil || e.NDRs == nil {
		return SweepStats{}, fmt.Errorf("ndr: engine is not configured")
	}
	startedAt := time.Now()
	now := e.now()
	overdue, err := e.NDRs.ClaimOverdue(ctx, now, e.sweepLease(), limit)
	if err != nil {
		return SweepStats{}, fmt.Errorf("ndr: claim overdue ndrs: %w", err)
	}
	stats := SweepStats{Claimed: len(overdue)}
	var sweepErr error
	for _, event := range overdue {
		def, err := e.Workflow(ctx, event.CompanyID, event.Reason)
		if err != nil {
			sweepErr = errors.Join(sweepErr, err)
			continue
		}
		if def.Trigger.AutoTrigger && def.Trigger.TriggerMet(event, now) {
			if _, _, err := e.closeWithRTO(ctx, event.ID, ActorSystemDeadline, "resolution deadline passed, rto condition met"); err != nil {
				sweepErr = errors.Join(sweepErr, err)
				continue
			}
			stats.RTOTriggered++
			continue
		}
		if _, err := e.close(ctx, event.ID, core.NDRStatusEscalated, ActorSystemDeadline, "resolution deadline passed"); err != nil {
			sweepErr = errors.Join(sweepErr, err)
			continue
		}
		stats.Escalated++
	}
	if stats.Claimed > 0 {
		e.Observer.Observe(ctx, startedAt, "ndr_deadline_sweep", sweepErr, map[string]any{
			"claimed":       stats.Claimed,
			"rto_triggered": stats.RTOTriggered,
			"escalated":     stats.Escalated,
		})
	}
	return stats, sweepErr
}

func (e *Engine) Resolve(ctx context.Context, id string, actor string, note string) (core.NDREvent, error) {
	if strings.TrimSpace(actor) == "" {
		return core.NDREvent{}, core.ErrActorRequired
	}
	if strings.TrimSpace(note) == "" {
		return core.NDREvent{}, core.ErrReasonRequired
	}
	return e.close(ctx, id, core.NDRStatusResolved, actor, note)
}

func (e *Engine) Escalate(ctx context.Context, id string, actor string, reason string) (core.NDREvent, error) {
	if strings.TrimSpace(actor) == "" {
		return core.NDREvent{}, core.ErrActorRequired
	}
	if strings.TrimSpace(reason) == "" {
		return core.NDREvent{}, core.ErrReasonRequired
	}
	return e.close(ctx, id, core.NDRStatusEscalated, actor, reason)
}

// TriggerRTO is the operator path to a return, available until the NDR is terminal.
func (e *Engine) TriggerRTO(ctx context.Context, id string, actor string, reason string) (core.NDREvent, core.RTOEvent, error) {
	if strings.TrimSpace(actor) == "" {
		return core.NDREvent{}, core.RTOEvent{}, core.ErrActorRequired
	}
	if strings.TrimSpace(reason) == "" {
		return core.NDREvent{}, core.RTOEvent{}, core.ErrReasonRequired
	}
	return e.closeWithRTO(ctx, id, actor, reason)
}

// RecordCustomerResponse logs a reply from the customer. Only a confirmed
// response resolves the NDR.
func (e *Engine) RecordCustomerResponse(ctx context.Context, id string, response CustomerResponse) (core.NDREvent, error) {
	event, err := e.mutate(ctx, id, func(current *core.NDREvent) error {
		now := e.now()
		if current.Status.Terminal() {
			return fmt.Errorf("%w: %s is closed", core.ErrInvalidNDRStatusTransition, current.ID)
		}
		detail := strings.TrimSpace(response.Message)
		if channel := strings.TrimSpace(response.Channel); channel != "" {
			detail = strings.TrimSpace(channel + ": " + detail)
		}
		current.Actions = append(current.Actions, core.NDRAction{
			Sequence:   current.NextActionSequence(),
			Type:       core.ActionCustomerResponse,
			Actor:      ActorCustomer,
			Result:     core.ActionResultCustomerResponse,
			Detail:     detail,
			ExecutedAt: now,
		})
		current.CustomerContacted = true
		if current.Status == core.NDRStatusDetected {
			if err := current.TransitionTo(core.NDRStatusInResolution, ActorCustomer, "", now); err != nil {
				return err
			}
		}
		if response.Confirmed {
			return current.TransitionTo(core.NDRStatusResolved, ActorCustomer, "customer confirmed: "+strings.TrimSpace(response.Message), now)
		}
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		return core.NDREvent{}, err
	}
	if event.Status.Terminal() {
		e.afterClose(ctx, event)
	}
	return event, nil
}

// Annotate adds an audit note; closed events accept annotations too.
func (e *Engine) Annotate(ctx context.Context, id string, actor string, note string) (core.NDREvent, error) {
	actor = strings.TrimSpace(actor)
	note = strings.TrimSpace(note)
	if actor == "" {
		return core.NDREvent{}, core.ErrActorRequired
	}
	if note == "" {
		return core.NDREvent{}, core.ErrReasonRequired
	}
	return e.mutate(ctx, id, func(current *core.NDREvent) error {
		now := e.now()
		current.Annotations = append(current.Annotations, core.Annotation{Actor: actor, Note: note, CreatedAt: now})
		current.UpdatedAt = now
		return nil
	})
}

func (e *Engine) Get(ctx context.Context, id string) (core.NDREvent, error) {
	if e == nil || e.NDRs == nil {
		return core.NDREvent{}, fmt.Errorf("ndr: engine is not configured")
	}
	return e.NDRs.Get(ctx, strings.TrimSpace(id))
}

func (e *Engine) List(ctx context.Context, filter core.NDRFilter) ([]core.NDREvent, int, error) {
	if e == nil || e.NDRs == nil {
		return nil, 0, fmt.Errorf("ndr: engine is not configured")
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return e.NDRs.List(ctx, filter)
}

func (e *Engine) close(ctx context.Context, id string, status core.NDRStatus, actor string, reason string) (core.NDREvent, error) {
	event, err := e.mutate(ctx, id, func(current *core.NDREvent) error {
		return current.TransitionTo(status, actor, reason, e.now())
	})
	if err != nil {
		return core.NDREvent{}, err
	}
	e.afterClose(ctx, event)
	return event, nil
}

func (e *Engine) closeWithRTO(ctx context.Context, id string, actor string, reason string) (core.NDREvent, core.RTOEvent, error) {
	if e == nil || e.NDRs == nil {
		return core.NDREvent{}, core.RTOEvent{}, fmt.Errorf("ndr: engine is not configured")
	}
	id = strings.TrimSpace(id)
	for attempt := 0; ; attempt++ {
		event, err := e.NDRs.Get(ctx, id)
		if err != nil {
			return core.NDREvent{}, core.RTOEvent{}, err
		}
		now := e.now()
		if err := event.TransitionTo(core.NDRStatusRTOTriggered, actor, reason, now); err != nil {
			return core.NDREvent{}, core.RTOEvent{}, err
		}
		proposal := rto.NewFromNDR(event, actor, reason, now)
		proposal.ID = uuid.NewString()
		closed, created, err := e.NDRs.CloseWithRTO(ctx, event, proposal)
		if errors.Is(err, core.ErrVersionConflict) && attempt < e.maxConflictRetries() {
			continue
		}
		if err != nil {
			return core.NDREvent{}, core.RTOEvent{}, err
		}
		e.afterClose(ctx, closed)
		fields := map[string]any{
			"ndr_id":       closed.ID,
			"rto_id":       created.ID,
			"shipment_id":  closed.ShipmentID,
			"tracking_ref": closed.TrackingRef,
			"actor":        strings.TrimSpace(actor),
		}
		if created.ID != proposal.ID {
			e.Observer.Info(ctx, "ndr: linked to active rto", fields)
		} else {
			e.Observer.Counter(ctx, core.MetricRTOTransitions, 1, map[string]string{"status": string(core.RTOStatusInitiated)})
			e.Observer.Info(ctx, "ndr: rto initiated", fields)
		}
		return closed, created, nil
	}
}

// afterClose cancels the remaining scheduled actions of a terminal NDR.
func (e *Engine) afterClose(ctx context.Context, event core.NDREvent) {
	if _, err := e.NDRs.CancelPendingActions(context.WithoutCancel(ctx), event.ID, e.now()); err != nil {
		e.Observer.Warn(ctx, "ndr: cancel pending actions failed", map[string]any{
			"ndr_id": event.ID,
			"error":  err.Error(),
		})
	}
	e.Observer.Counter(ctx, core.MetricNDRClosed, 1, map[string]string{
		"status": string(event.Status),
		"reason": string(event.Reason),
	})
	e.Observer.Info(ctx, "ndr: closed", map[string]any{
		"ndr_id":       event.ID,
		"shipment_id":  event.ShipmentID,
		"tracking_ref": event.TrackingRef,
		"status":       string(event.Status),
		"closed_by":    event.ClosedBy,
		"close_reason": event.CloseReason,
	})
}

// mutate applies fn to the latest version of the NDR, re-reading on
// version conflicts.
func (e *Engine) mutate(ctx context.Context, id string, fn func(current *core.NDREvent) error) (core.NDREvent, error) {
	if e == nil || e.NDRs == nil {
		return core.NDREvent{}, fmt.Errorf("ndr: engine is not configured")
	}
	id = strings.TrimSpace(id)
	for attempt := 0; ; attempt++ {
		current, err := e.NDRs.Get(ctx, id)
		if err != nil {
			return core.NDREvent{}, err
		}
		if err := fn(&current); err != nil {
			return core.NDREvent{}, err
		}
		updated, err := e.NDRs.Update(ctx, current)
		if errors.Is(err, core.ErrVersionConflict) && attempt < e.maxConflictRetries() {
			continue
		}
		if err != nil {
			return core.NDREvent{}, err
		}
		return updated, nil
	}
}

func channelOf(action core.ScheduledAction) string {
	if channel := strings.TrimSpace(action.Channel); channel != "" {
		return channel
	}
	switch action.ActionType {
	case core.ActionNotifyWhatsApp:
		return ChannelWhatsApp
	case core.ActionNotifySMS:
		return ChannelSMS
	default:
		return ChannelEmail
	}
}

func (e *Engine) sla() time.Duration {
	if e != nil && e.SLA > 0 {
		return e.SLA
	}
	return defaultSLA
}

func (e *Engine) actionLease() time.Duration {
	if e != nil && e.ActionLease > 0 {
		return e.ActionLease
	}
	return defaultLease
}

func (e *Engine) sweepLease() time.Duration {
	if e != nil && e.SweepLease > 0 {
		return e.SweepLease
	}
	return defaultLease
}

func (e *Engine) maxConflictRetries() int {
	if e != nil && e.MaxConflictRetries > 0 {
		return e.MaxConflictRetries
	}
	return defaultConflictRetries
}

func (e *Engine) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}
