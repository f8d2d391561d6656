package couriersync

import (
	"fmt"

	"github.com/goliatone/go-courier-sync/adapters/gocommand"
	couriercommand "github.com/goliatone/go-courier-sync/command"
	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/httpapi"
	courierquery "github.com/goliatone/go-courier-sync/query"
)

type DeadLetterOperations interface {
	couriercommand.DeadLetterService
	courierquery.DeadLetterReader
}

type NDROperations interface {
	couriercommand.NDRService
	courierquery.NDRReader
	courierquery.WorkflowReader
}

type RTOOperations interface {
	couriercommand.RTOService
	courierquery.RTOReader
}

// FacadeDependencies are the services behind the operator commands and
// queries. Mappings is optional.
type FacadeDependencies struct {
	DeadLetters DeadLetterOperations
	NDR         NDROperations
	RTO         RTOOperations
	Workflows   core.WorkflowStore
	Mappings    couriercommand.MappingRefresher
}

type Commands struct {
	ReplayDeadLetter       *couriercommand.ReplayDeadLetterCommand
	ReplayDeadLetters      *couriercommand.ReplayDeadLettersCommand
	AbandonDeadLetter      *couriercommand.AbandonDeadLetterCommand
	ResolveNDR             *couriercommand.ResolveNDRCommand
	EscalateNDR            *couriercommand.EscalateNDRCommand
	TriggerNDRRTO          *couriercommand.TriggerNDRRTOCommand
	AnnotateNDR            *couriercommand.AnnotateNDRCommand
	RecordCustomerResponse *couriercommand.RecordCustomerResponseCommand
	InitiateRTO            *couriercommand.InitiateRTOCommand
	MarkRTOInTransit       *couriercommand.MarkRTOInTransitCommand
	MarkRTOReceived        *couriercommand.MarkRTOReceivedCommand
	CompleteRTOQC          *couriercommand.CompleteRTOQCCommand
	DisposeRTO             *couriercommand.DisposeRTOCommand
	SaveWorkflow           *couriercommand.SaveWorkflowCommand
	RefreshStatusMapping   *couriercommand.RefreshStatusMappingCommand
}

type Queries struct {
	GetDeadLetter   *courierquery.GetDeadLetterQuery
	ListDeadLetters *courierquery.ListDeadLettersQuery
	DeadLetterDepth *courierquery.DeadLetterDepthQuery
	GetNDR          *courierquery.GetNDRQuery
	ListNDRs        *courierquery.ListNDRsQuery
	GetRTO          *courierquery.GetRTOQuery
	ListRTOs        *courierquery.ListRTOsQuery
	GetWorkflow     *courierquery.GetWorkflowQuery
}

type Facade struct {
	commands Commands
	queries  Queries
}

func NewFacade(deps FacadeDependencies) (*Facade, error) {
	switch {
	case deps.DeadLetters == nil:
		return nil, fmt.Errorf("couriersync: dead-letter operations are required")
	case deps.NDR == nil:
		return nil, fmt.Errorf("couriersync: ndr operations are required")
	case deps.RTO == nil:
		return nil, fmt.Errorf("couriersync: rto operations are required")
	case deps.Workflows == nil:
		return nil, fmt.Errorf("couriersync: workflow store is required")
	}

	facade := &Facade{}
	facade.commands = Commands{
		ReplayDeadLetter:       couriercommand.NewReplayDeadLetterCommand(deps.DeadLetters),
		ReplayDeadLetters:      couriercommand.NewReplayDeadLettersCommand(deps.DeadLetters),
		AbandonDeadLetter:      couriercommand.NewAbandonDeadLetterCommand(deps.DeadLetters),
		ResolveNDR:             couriercommand.NewResolveNDRCommand(deps.NDR),
		EscalateNDR:            couriercommand.NewEscalateNDRCommand(deps.NDR),
		TriggerNDRRTO:          couriercommand.NewTriggerNDRRTOCommand(deps.NDR),
		AnnotateNDR:            couriercommand.NewAnnotateNDRCommand(deps.NDR),
		RecordCustomerResponse: couriercommand.NewRecordCustomerResponseCommand(deps.NDR),
		InitiateRTO:            couriercommand.NewInitiateRTOCommand(deps.RTO),
		MarkRTOInTransit:       couriercommand.NewMarkRTOInTransitCommand(deps.RTO),
		MarkRTOReceived:        couriercommand.NewMarkRTOReceivedCommand(deps.RTO),
		CompleteRTOQC:          couriercommand.NewCompleteRTOQCCommand(deps.RTO),
		DisposeRTO:             couriercommand.NewDisposeRTOCommand(deps.RTO),
		SaveWorkflow:           couriercommand.NewSaveWorkflowCommand(deps.Workflows),
	}
	if deps.Mappings != nil {
		facade.commands.RefreshStatusMapping = couriercommand.NewRefreshStatusMappingCommand(deps.Mappings)
	}
	facade.queries = Queries{
		GetDeadLetter:   courierquery.NewGetDeadLetterQuery(deps.DeadLetters),
		ListDeadLetters: courierquery.NewListDeadLettersQuery(deps.DeadLetters),
		DeadLetterDepth: courierquery.NewDeadLetterDepthQuery(deps.DeadLetters),
		GetNDR:          courierquery.NewGetNDRQuery(deps.NDR),
		ListNDRs:        courierquery.NewListNDRsQuery(deps.NDR),
		GetRTO:          courierquery.NewGetRTOQuery(deps.RTO),
		ListRTOs:        courierquery.NewListRTOsQuery(deps.RTO),
		GetWorkflow:     courierquery.NewGetWorkflowQuery(deps.NDR),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

// HTTPCommands exposes the commands to the operator API.
func (f *Facade) HTTPCommands() httpapi.Commands {
	c := f.Commands()
	out := httpapi.Commands{
		ReplayDeadLetter:       c.ReplayDeadLetter,
		ReplayDeadLetters:      c.ReplayDeadLetters,
		AbandonDeadLetter:      c.AbandonDeadLetter,
		ResolveNDR:             c.ResolveNDR,
		EscalateNDR:            c.EscalateNDR,
		TriggerNDRRTO:          c.TriggerNDRRTO,
		AnnotateNDR:            c.AnnotateNDR,
		RecordCustomerResponse: c.RecordCustomerResponse,
		InitiateRTO:            c.InitiateRTO,
		MarkRTOInTransit:       c.MarkRTOInTransit,
		MarkRTOReceived:        c.MarkRTOReceived,
		CompleteRTOQC:          c.CompleteRTOQC,
		DisposeRTO:             c.DisposeRTO,
		SaveWorkflow:           c.SaveWorkflow,
	}
	// A typed nil pointer would not read as "unconfigured" to the router.
	if c.RefreshStatusMapping != nil {
		out.RefreshStatusMapping = c.RefreshStatusMapping
	}
	return out
}

func (f *Facade) HTTPQueries() httpapi.Queries {
	q := f.Queries()
	return httpapi.Queries{
		GetDeadLetter:   q.GetDeadLetter,
		ListDeadLetters: q.ListDeadLetters,
		DeadLetterDepth: q.DeadLetterDepth,
		GetNDR:          q.GetNDR,
		ListNDRs:        q.ListNDRs,
		GetRTO:          q.GetRTO,
		ListRTOs:        q.ListRTOs,
		GetWorkflow:     q.GetWorkflow,
	}
}

// Register subscribes every operator command and query on bus and
// initializes its registry, so they can be dispatched by message type.
func (f *Facade) Register(bus *gocommand.Bus) error {
	if f == nil {
		return fmt.Errorf("couriersync: facade is nil")
	}
	if bus == nil {
		return fmt.Errorf("couriersync: command bus is required")
	}
	c := f.commands
	q := f.queries
	steps := []func() error{
		func() error { return gocommand.RegisterCommand(bus, c.ReplayDeadLetter) },
		func() error { return gocommand.RegisterCommand(bus, c.ReplayDeadLetters) },
		func() error { return gocommand.RegisterCommand(bus, c.AbandonDeadLetter) },
		func() error { return gocommand.RegisterCommand(bus, c.ResolveNDR) },
		func() error { return gocommand.RegisterCommand(bus, c.EscalateNDR) },
		func() error { return gocommand.RegisterCommand(bus, c.TriggerNDRRTO) },
		func() error { return gocommand.RegisterCommand(bus, c.AnnotateNDR) },
		func() error { return gocommand.RegisterCommand(bus, c.RecordCustomerResponse) },
		func() error { return gocommand.RegisterCommand(bus, c.InitiateRTO) },
		func() error { return gocommand.RegisterCommand(bus, c.MarkRTOInTransit) },
		func() error { return gocommand.RegisterCommand(bus, c.MarkRTOReceived) },
		func() error { return gocommand.RegisterCommand(bus, c.CompleteRTOQC) },
		func() error { return gocommand.RegisterCommand(bus, c.DisposeRTO) },
		func() error { return gocommand.RegisterCommand(bus, c.SaveWorkflow) },
		func() error {
			if c.RefreshStatusMapping == nil {
				return nil
			}
			return gocommand.RegisterCommand(bus, c.RefreshStatusMapping)
		},
		func() error { return gocommand.RegisterQuery(bus, q.GetDeadLetter) },
		func() error { return gocommand.RegisterQuery(bus, q.ListDeadLetters) },
		func() error { return gocommand.RegisterQuery(bus, q.DeadLetterDepth) },
		func() error { return gocommand.RegisterQuery(bus, q.GetNDR) },
		func() error { return gocommand.RegisterQuery(bus, q.ListNDRs) },
		func() error { return gocommand.RegisterQuery(bus, q.GetRTO) },
		func() error { return gocommand.RegisterQuery(bus, q.ListRTOs) },
		func() error { return gocommand.RegisterQuery(bus, q.GetWorkflow) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			bus.Close()
			return err
		}
	}
	return bus.Initialize()
}
