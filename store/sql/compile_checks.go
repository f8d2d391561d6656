package sqlstore

import "github.com/goliatone/go-courier-sync/core"

var (
	_ core.InboundEventStore = (*InboundEventStore)(nil)
	_ core.AdmissionLedger   = (*AdmissionLedger)(nil)
	_ core.ShipmentStore     = (*ShipmentStore)(nil)
	_ core.DeadLetterStore   = (*DeadLetterStore)(nil)
	_ core.NDRStore          = (*NDRStore)(nil)
	_ core.RTOStore          = (*RTOStore)(nil)
	_ core.WorkflowStore     = (*WorkflowStore)(nil)
	_ core.WorkflowStore     = (*CachedWorkflowStore)(nil)
	_ core.MappingStore      = (*MappingStore)(nil)
)
