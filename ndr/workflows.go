package ndr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelEmail    = "email"
)

// DefaultWorkflows returns the built-in workflow for every reason. Company
// overrides stored in the WorkflowStore take precedence.
func DefaultWorkflows() map[core.NDRReason]core.WorkflowDefinition {
	return map[core.NDRReason]core.WorkflowDefinition{
		core.NDRReasonAddressIssue: {
			Reason: core.NDRReasonAddressIssue,
			Actions: []core.WorkflowAction{
				{Sequence: 1, Type: core.ActionNotifyWhatsApp, Delay: time.Hour, AutoExecute: true, Channel: ChannelWhatsApp},
				{Sequence: 2, Type: core.ActionRequestAddressCorrection, Delay: 2 * time.Hour},
				{Sequence: 3, Type: core.ActionCallCustomer, Delay: 24 * time.Hour},
			},
			Trigger: core.RTOTrigger{MaxAttempts: 3, MaxHours: 48, AutoTrigger: true},
		},
		core.NDRReasonCustomerUnavailable: {
			Reason: core.NDRReasonCustomerUnavailable,
			Actions: []core.WorkflowAction{
				{Sequence: 1, Type: core.ActionNotifySMS, Delay: 30 * time.Minute, AutoExecute: true, Channel: ChannelSMS},
				{Sequence: 2, Type: core.ActionScheduleReattempt, Delay: 4 * time.Hour},
			},
			Trigger: core.RTOTrigger{MaxAttempts: 3, MaxHours: 72, AutoTrigger: true},
		},
		core.NDRReasonRefused: {
			Reason: core.NDRReasonRefused,
			Actions: []core.WorkflowAction{
				{Sequence: 1, Type: core.ActionNotifyWhatsApp, Delay: 15 * time.Minute, AutoExecute: true, Channel: ChannelWhatsApp},
				{Sequence: 2, Type: core.ActionCallCustomer, Delay: time.Hour},
			},
			Trigger: core.RTOTrigger{MaxAttempts: 2, MaxHours: 24, AutoTrigger: true},
		},
		core.NDRReasonPaymentIssue: {
			Reason: core.NDRReasonPaymentIssue,
			Actions: []core.WorkflowAction{
				{Sequence: 1, Type: core.ActionRequestPaymentConfirm, Delay: time.Hour, AutoExecute: true, Channel: ChannelWhatsApp},
				{Sequence: 2, Type: core.ActionCallCustomer, Delay: 12 * time.Hour},
			},
			Trigger: core.RTOTrigger{MaxAttempts: 3, MaxHours: 72, AutoTrigger: true},
		},
		core.NDRReasonOther: {
			Reason: core.NDRReasonOther,
			Actions: []core.WorkflowAction{
				{Sequence: 1, Type: core.ActionNotifyEmail, Delay: time.Hour, AutoExecute: true, Channel: ChannelEmail},
				{Sequence: 2, Type: core.ActionCallCustomer, Delay: 6 * time.Hour},
			},
			Trigger: core.RTOTrigger{MaxAttempts: 3, MaxHours: 72},
		},
	}
}

// Workflow resolves the definition for companyID and reason: the company
// override, then a stored default (empty company), then the built-in one.
func (e *Engine) Workflow(ctx context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error) {
	companyID = strings.TrimSpace(companyID)
	if e.Workflows != nil {
		scopes := []string{companyID}
		if companyID != "" {
			scopes = append(scopes, "")
		}
		for _, scope := range scopes {
			def, err := e.Workflows.Get(ctx, scope, reason)
			if err == nil {
				return def, nil
			}
			if !errors.Is(err, core.ErrNotFound) {
				return core.WorkflowDefinition{}, fmt.Errorf("ndr: load workflow %s/%s: %w", scope, reason, err)
			}
		}
	}
	defaults := e.Defaults
	if defaults == nil {
		defaults = DefaultWorkflows()
	}
	if def, ok := defaults[reason]; ok {
		def.CompanyID = companyID
		return def, nil
	}
	def := defaults[core.NDRReasonOther]
	def.Reason = reason
	def.CompanyID = companyID
	return def, nil
}

func scheduleActions(def core.WorkflowDefinition, detectedAt time.Time) []core.ScheduledAction {
	actions := make([]core.ScheduledAction, 0, len(def.Actions))
	for _, action := range def.Actions {
		actions = append(actions, core.ScheduledAction{
			Sequence:    action.Sequence,
			ActionType:  action.Type,
			Channel:     action.Channel,
			AutoExecute: action.AutoExecute,
			DueAt:       detectedAt.Add(action.Delay),
			Status:      core.ScheduledActionScheduled,
		})
	}
	return actions
}
