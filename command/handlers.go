package command

import (
	"context"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/deadletter"
	"github.com/goliatone/go-courier-sync/ndr"
	"github.com/goliatone/go-courier-sync/rto"
	gocmd "github.com/goliatone/go-command"
)

type DeadLetterService interface {
	Replay(ctx context.Context, id string, actor string) (core.DeadLetterEntry, error)
	ReplayBatch(ctx context.Context, limit int) (deadletter.ReplayStats, error)
	Abandon(ctx context.Context, id string, actor string, note string) (core.DeadLetterEntry, error)
}

type NDRService interface {
	Resolve(ctx context.Context, id string, actor string, note string) (core.NDREvent, error)
	Escalate(ctx context.Context, id string, actor string, reason string) (core.NDREvent, error)
	TriggerRTO(ctx context.Context, id string, actor string, reason string) (core.NDREvent, core.RTOEvent, error)
	Annotate(ctx context.Context, id string, actor string, note string) (core.NDREvent, error)
	RecordCustomerResponse(ctx context.Context, id string, response ndr.CustomerResponse) (core.NDREvent, error)
}

type RTOService interface {
	Initiate(ctx context.Context, req rto.InitiateRequest) (core.RTOEvent, error)
	MarkInTransit(ctx context.Context, id string, actor string, note string) (core.RTOEvent, error)
	MarkReceived(ctx context.Context, id string, actor string, note string) (core.RTOEvent, error)
	CompleteQC(ctx context.Context, id string, actor string, result core.QCResult, financials core.FinancialSummary) (core.RTOEvent, error)
	Dispose(ctx context.Context, id string, actor string, disposition core.Disposition) (core.RTOEvent, error)
}

type MappingRefresher interface {
	Refresh(ctx context.Context) error
}

// TriggerRTOResult is stored by TriggerNDRRTOCommand.
type TriggerRTOResult struct {
	NDR core.NDREvent
	RTO core.RTOEvent
}

type ReplayDeadLetterCommand struct {
	service DeadLetterService
}

func NewReplayDeadLetterCommand(service DeadLetterService) *ReplayDeadLetterCommand {
	return &ReplayDeadLetterCommand{service: service}
}

func (c *ReplayDeadLetterCommand) Execute(ctx context.Context, msg ReplayDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead-letter service is required")
	}
	out, err := c.service.Replay(ctx, msg.ID, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayDeadLettersCommand struct {
	service DeadLetterService
}

func NewReplayDeadLettersCommand(service DeadLetterService) *ReplayDeadLettersCommand {
	return &ReplayDeadLettersCommand{service: service}
}

func (c *ReplayDeadLettersCommand) Execute(ctx context.Context, msg ReplayDeadLettersMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead-letter service is required")
	}
	out, err := c.service.ReplayBatch(ctx, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AbandonDeadLetterCommand struct {
	service DeadLetterService
}

func NewAbandonDeadLetterCommand(service DeadLetterService) *AbandonDeadLetterCommand {
	return &AbandonDeadLetterCommand{service: service}
}

func (c *AbandonDeadLetterCommand) Execute(ctx context.Context, msg AbandonDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead-letter service is required")
	}
	out, err := c.service.Abandon(ctx, msg.ID, msg.Actor, msg.Note)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResolveNDRCommand struct {
	service NDRService
}

func NewResolveNDRCommand(service NDRService) *ResolveNDRCommand {
	return &ResolveNDRCommand{service: service}
}

func (c *ResolveNDRCommand) Execute(ctx context.Context, msg ResolveNDRMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ndr service is required")
	}
	out, err := c.service.Resolve(ctx, msg.ID, msg.Actor, msg.Note)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EscalateNDRCommand struct {
	service NDRService
}

func NewEscalateNDRCommand(service NDRService) *EscalateNDRCommand {
	return &EscalateNDRCommand{service: service}
}

func (c *EscalateNDRCommand) Execute(ctx context.Context, msg EscalateNDRMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ndr service is required")
	}
	out, err := c.service.Escalate(ctx, msg.ID, msg.Actor, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TriggerNDRRTOCommand struct {
	service NDRService
}

func NewTriggerNDRRTOCommand(service NDRService) *TriggerNDRRTOCommand {
	return &TriggerNDRRTOCommand{service: service}
}

func (c *TriggerNDRRTOCommand) Execute(ctx context.Context, msg TriggerNDRRTOMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ndr service is required")
	}
	event, created, err := c.service.TriggerRTO(ctx, msg.ID, msg.Actor, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, TriggerRTOResult{NDR: event, RTO: created})
	return nil
}

type AnnotateNDRCommand struct {
	service NDRService
}

func NewAnnotateNDRCommand(service NDRService) *AnnotateNDRCommand {
	return &AnnotateNDRCommand{service: service}
}

func (c *AnnotateNDRCommand) Execute(ctx context.Context, msg AnnotateNDRMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ndr service is required")
	}
	out, err := c.service.Annotate(ctx, msg.ID, msg.Actor, msg.Note)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RecordCustomerResponseCommand struct {
	service NDRService
}

func NewRecordCustomerResponseCommand(service NDRService) *RecordCustomerResponseCommand {
	return &RecordCustomerResponseCommand{service: service}
}

func (c *RecordCustomerResponseCommand) Execute(ctx context.Context, msg RecordCustomerResponseMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ndr service is required")
	}
	out, err := c.service.RecordCustomerResponse(ctx, msg.ID, msg.Response)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type InitiateRTOCommand struct {
	service RTOService
}

func NewInitiateRTOCommand(service RTOService) *InitiateRTOCommand {
	return &InitiateRTOCommand{service: service}
}

func (c *InitiateRTOCommand) Execute(ctx context.Context, msg InitiateRTOMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: rto service is required")
	}
	out, err := c.service.Initiate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MarkRTOInTransitCommand struct {
	service RTOService
}

func NewMarkRTOInTransitCommand(service RTOService) *MarkRTOInTransitCommand {
	return &MarkRTOInTransitCommand{service: service}
}

func (c *MarkRTOInTransitCommand) Execute(ctx context.Context, msg MarkRTOInTransitMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: rto service is required")
	}
	out, err := c.service.MarkInTransit(ctx, msg.ID, msg.Actor, msg.Note)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MarkRTOReceivedCommand struct {
	service RTOService
}

func NewMarkRTOReceivedCommand(service RTOService) *MarkRTOReceivedCommand {
	return &MarkRTOReceivedCommand{service: service}
}

func (c *MarkRTOReceivedCommand) Execute(ctx context.Context, msg MarkRTOReceivedMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: rto service is required")
	}
	out, err := c.service.MarkReceived(ctx, msg.ID, msg.Actor, msg.Note)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteRTOQCCommand struct {
	service RTOService
}

func NewCompleteRTOQCCommand(service RTOService) *CompleteRTOQCCommand {
	return &CompleteRTOQCCommand{service: service}
}

func (c *CompleteRTOQCCommand) Execute(ctx context.Context, msg CompleteRTOQCMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: rto service is required")
	}
	out, err := c.service.CompleteQC(ctx, msg.ID, msg.Actor, msg.Result, msg.Financials)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisposeRTOCommand struct {
	service RTOService
}

func NewDisposeRTOCommand(service RTOService) *DisposeRTOCommand {
	return &DisposeRTOCommand{service: service}
}

func (c *DisposeRTOCommand) Execute(ctx context.Context, msg DisposeRTOMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: rto service is required")
	}
	out, err := c.service.Dispose(ctx, msg.ID, msg.Actor, msg.Disposition)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SaveWorkflowCommand struct {
	store core.WorkflowStore
}

func NewSaveWorkflowCommand(store core.WorkflowStore) *SaveWorkflowCommand {
	return &SaveWorkflowCommand{store: store}
}

func (c *SaveWorkflowCommand) Execute(ctx context.Context, msg SaveWorkflowMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: workflow store is required")
	}
	out, err := c.store.Save(ctx, msg.Definition)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshStatusMappingCommand struct {
	mapper MappingRefresher
}

func NewRefreshStatusMappingCommand(mapper MappingRefresher) *RefreshStatusMappingCommand {
	return &RefreshStatusMappingCommand{mapper: mapper}
}

func (c *RefreshStatusMappingCommand) Execute(ctx context.Context, _ RefreshStatusMappingMessage) error {
	if c == nil || c.mapper == nil {
		return commandDependencyError("command: status mapper is required")
	}
	return c.mapper.Refresh(ctx)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
