package query

import (
	"github.com/goliatone/go-courier-sync/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetDeadLetterMessage, core.DeadLetterEntry]         = (*GetDeadLetterQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, Page[core.DeadLetterEntry]] = (*ListDeadLettersQuery)(nil)
	_ gocmd.Querier[DeadLetterDepthMessage, int]                        = (*DeadLetterDepthQuery)(nil)
	_ gocmd.Querier[GetNDRMessage, core.NDREvent]                       = (*GetNDRQuery)(nil)
	_ gocmd.Querier[ListNDRsMessage, Page[core.NDREvent]]               = (*ListNDRsQuery)(nil)
	_ gocmd.Querier[GetRTOMessage, core.RTOEvent]                       = (*GetRTOQuery)(nil)
	_ gocmd.Querier[ListRTOsMessage, Page[core.RTOEvent]]               = (*ListRTOsQuery)(nil)
	_ gocmd.Querier[GetWorkflowMessage, core.WorkflowDefinition]        = (*GetWorkflowQuery)(nil)
)
