package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReplayDeadLetterMessage]       = (*ReplayDeadLetterCommand)(nil)
	_ gocmd.Commander[ReplayDeadLettersMessage]      = (*ReplayDeadLettersCommand)(nil)
	_ gocmd.Commander[AbandonDeadLetterMessage]      = (*AbandonDeadLetterCommand)(nil)
	_ gocmd.Commander[ResolveNDRMessage]             = (*ResolveNDRCommand)(nil)
	_ gocmd.Commander[EscalateNDRMessage]            = (*EscalateNDRCommand)(nil)
	_ gocmd.Commander[TriggerNDRRTOMessage]          = (*TriggerNDRRTOCommand)(nil)
	_ gocmd.Commander[AnnotateNDRMessage]            = (*AnnotateNDRCommand)(nil)
	_ gocmd.Commander[RecordCustomerResponseMessage] = (*RecordCustomerResponseCommand)(nil)
	_ gocmd.Commander[InitiateRTOMessage]            = (*InitiateRTOCommand)(nil)
	_ gocmd.Commander[MarkRTOInTransitMessage]       = (*MarkRTOInTransitCommand)(nil)
	_ gocmd.Commander[MarkRTOReceivedMessage]        = (*MarkRTOReceivedCommand)(nil)
	_ gocmd.Commander[CompleteRTOQCMessage]          = (*CompleteRTOQCCommand)(nil)
	_ gocmd.Commander[DisposeRTOMessage]             = (*DisposeRTOCommand)(nil)
	_ gocmd.Commander[SaveWorkflowMessage]           = (*SaveWorkflowCommand)(nil)
	_ gocmd.Commander[RefreshStatusMappingMessage]   = (*RefreshStatusMappingCommand)(nil)
)
