package command

import (
	"strings"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/ndr"
	"github.com/goliatone/go-courier-sync/rto"
)

const (
	TypeReplayDeadLetter     = "courier.command.deadletter.replay"
	TypeReplayDeadLetters    = "courier.command.deadletter.replay_batch"
	TypeAbandonDeadLetter    = "courier.command.deadletter.abandon"
	TypeResolveNDR           = "courier.command.ndr.resolve"
	TypeEscalateNDR          = "courier.command.ndr.escalate"
	TypeTriggerNDRRTO        = "courier.command.ndr.trigger_rto"
	TypeAnnotateNDR          = "courier.command.ndr.annotate"
	TypeRecordCustomerReply  = "courier.command.ndr.customer_response"
	TypeInitiateRTO          = "courier.command.rto.initiate"
	TypeMarkRTOInTransit     = "courier.command.rto.in_transit"
	TypeMarkRTOReceived      = "courier.command.rto.received"
	TypeCompleteRTOQC        = "courier.command.rto.qc"
	TypeDisposeRTO           = "courier.command.rto.dispose"
	TypeSaveWorkflow         = "courier.command.workflow.save"
	TypeRefreshStatusMapping = "courier.command.mapping.refresh"
)

func requireField(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return commandValidationError(field, field+" is required")
	}
	return nil
}

type ReplayDeadLetterMessage struct {
	ID    string
	Actor string
}

func (ReplayDeadLetterMessage) Type() string { return TypeReplayDeadLetter }

func (m ReplayDeadLetterMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	return requireField("actor", m.Actor)
}

type ReplayDeadLettersMessage struct {
	Limit int
}

func (ReplayDeadLettersMessage) Type() string { return TypeReplayDeadLetters }

func (m ReplayDeadLettersMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type AbandonDeadLetterMessage struct {
	ID    string
	Actor string
	Note  string
}

func (AbandonDeadLetterMessage) Type() string { return TypeAbandonDeadLetter }

func (m AbandonDeadLetterMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	if err := requireField("actor", m.Actor); err != nil {
		return err
	}
	return requireField("note", m.Note)
}

type ResolveNDRMessage struct {
	ID    string
	Actor string
	Note  string
}

func (ResolveNDRMessage) Type() string { return TypeResolveNDR }

func (m ResolveNDRMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	if err := requireField("actor", m.Actor); err != nil {
		return err
	}
	return requireField("note", m.Note)
}

type EscalateNDRMessage struct {
	ID     string
	Actor  string
	Reason string
}

func (EscalateNDRMessage) Type() string { return TypeEscalateNDR }

func (m EscalateNDRMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	if err := requireField("actor", m.Actor); err != nil {
		return err
	}
	return requireField("reason", m.Reason)
}

type TriggerNDRRTOMessage struct {
	ID     string
	Actor  string
	Reason string
}

func (TriggerNDRRTOMessage) Type() string { return TypeTriggerNDRRTO }

func (m TriggerNDRRTOMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	if err := requireField("actor", m.Actor); err != nil {
		return err
	}
	return requireField("reason", m.Reason)
}

type AnnotateNDRMessage struct {
	ID    string
	Actor string
	Note  string
}

func (AnnotateNDRMessage) Type() string { return TypeAnnotateNDR }

func (m AnnotateNDRMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	if err := requireField("actor", m.Actor); err != nil {
		return err
	}
	return requireField("note", m.Note)
}

type RecordCustomerResponseMessage struct {
	ID       string
	Response ndr.CustomerResponse
}

func (RecordCustomerResponseMessage) Type() string { return TypeRecordCustomerReply }

func (m RecordCustomerResponseMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	return requireField("channel", m.Response.Channel)
}

type InitiateRTOMessage struct {
	Request rto.InitiateRequest
}

func (InitiateRTOMessage) Type() string { return TypeInitiateRTO }

func (m InitiateRTOMessage) Validate() error {
	if err := requireField("shipment_id", m.Request.ShipmentID); err != nil {
		return err
	}
	if err := requireField("actor", m.Request.Actor); err != nil {
		return err
	}
	return requireField("reason", m.Request.Reason)
}

type MarkRTOInTransitMessage struct {
	ID    string
	Actor string
	Note  string
}

func (MarkRTOInTransitMessage) Type() string { return TypeMarkRTOInTransit }

func (m MarkRTOInTransitMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	return requireField("actor", m.Actor)
}

type MarkRTOReceivedMessage struct {
	ID    string
	Actor string
	Note  string
}

func (MarkRTOReceivedMessage) Type() string { return TypeMarkRTOReceived }

func (m MarkRTOReceivedMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	return requireField("actor", m.Actor)
}

type CompleteRTOQCMessage struct {
	ID         string
	Actor      string
	Result     core.QCResult
	Financials core.FinancialSummary
}

func (CompleteRTOQCMessage) Type() string { return TypeCompleteRTOQC }

func (m CompleteRTOQCMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	if err := requireField("actor", m.Actor); err != nil {
		return err
	}
	if !m.Result.Valid() {
		return commandValidationError("result", "result must be restockable, damaged or lost")
	}
	if m.Financials.ReturnShippingCost < 0 || m.Financials.WriteOffAmount < 0 {
		return commandValidationError("financials", "amounts must not be negative")
	}
	return nil
}

type DisposeRTOMessage struct {
	ID          string
	Actor       string
	Disposition core.Disposition
}

func (DisposeRTOMessage) Type() string { return TypeDisposeRTO }

func (m DisposeRTOMessage) Validate() error {
	if err := requireField("id", m.ID); err != nil {
		return err
	}
	if err := requireField("actor", m.Actor); err != nil {
		return err
	}
	return requireField("disposition", string(m.Disposition))
}

type SaveWorkflowMessage struct {
	Definition core.WorkflowDefinition
}

func (SaveWorkflowMessage) Type() string { return TypeSaveWorkflow }

func (m SaveWorkflowMessage) Validate() error {
	if err := m.Definition.Validate(); err != nil {
		return commandValidationError("definition", err.Error())
	}
	return nil
}

type RefreshStatusMappingMessage struct{}

func (RefreshStatusMappingMessage) Type() string { return TypeRefreshStatusMapping }

func (RefreshStatusMappingMessage) Validate() error { return nil }
