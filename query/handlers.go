package query

import (
	"context"

	"github.com/goliatone/go-courier-sync/core"
)

type DeadLetterReader interface {
	Get(ctx context.Context, id string) (core.DeadLetterEntry, error)
	List(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, int, error)
	Depth(ctx context.Context) (int, error)
}

type NDRReader interface {
	Get(ctx context.Context, id string) (core.NDREvent, error)
	List(ctx context.Context, filter core.NDRFilter) ([]core.NDREvent, int, error)
}

type RTOReader interface {
	Get(ctx context.Context, id string) (core.RTOEvent, error)
	List(ctx context.Context, filter core.RTOFilter) ([]core.RTOEvent, int, error)
}

type WorkflowReader interface {
	Workflow(ctx context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error)
}

type GetDeadLetterQuery struct {
	reader DeadLetterReader
}

func NewGetDeadLetterQuery(reader DeadLetterReader) *GetDeadLetterQuery {
	return &GetDeadLetterQuery{reader: reader}
}

func (q *GetDeadLetterQuery) Query(ctx context.Context, msg GetDeadLetterMessage) (core.DeadLetterEntry, error) {
	if q == nil || q.reader == nil {
		return core.DeadLetterEntry{}, queryDependencyError("query: dead-letter reader is required")
	}
	return q.reader.Get(ctx, msg.ID)
}

type ListDeadLettersQuery struct {
	reader DeadLetterReader
}

func NewListDeadLettersQuery(reader DeadLetterReader) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

func (q *ListDeadLettersQuery) Query(
	ctx context.Context,
	msg ListDeadLettersMessage,
) (Page[core.DeadLetterEntry], error) {
	if q == nil || q.reader == nil {
		return Page[core.DeadLetterEntry]{}, queryDependencyError("query: dead-letter reader is required")
	}
	items, total, err := q.reader.List(ctx, msg.Filter)
	if err != nil {
		return Page[core.DeadLetterEntry]{}, err
	}
	return newPage(items, total, msg.Filter.Limit, msg.Filter.Offset), nil
}

type DeadLetterDepthQuery struct {
	reader DeadLetterReader
}

func NewDeadLetterDepthQuery(reader DeadLetterReader) *DeadLetterDepthQuery {
	return &DeadLetterDepthQuery{reader: reader}
}

func (q *DeadLetterDepthQuery) Query(ctx context.Context, _ DeadLetterDepthMessage) (int, error) {
	if q == nil || q.reader == nil {
		return 0, queryDependencyError("query: dead-letter reader is required")
	}
	return q.reader.Depth(ctx)
}

type GetNDRQuery struct {
	reader NDRReader
}

func NewGetNDRQuery(reader NDRReader) *GetNDRQuery {
	return &GetNDRQuery{reader: reader}
}

func (q *GetNDRQuery) Query(ctx context.Context, msg GetNDRMessage) (core.NDREvent, error) {
	if q == nil || q.reader == nil {
		return core.NDREvent{}, queryDependencyError("query: ndr reader is required")
	}
	return q.reader.Get(ctx, msg.ID)
}

type ListNDRsQuery struct {
	reader NDRReader
}

func NewListNDRsQuery(reader NDRReader) *ListNDRsQuery {
	return &ListNDRsQuery{reader: reader}
}

func (q *ListNDRsQuery) Query(ctx context.Context, msg ListNDRsMessage) (Page[core.NDREvent], error) {
	if q == nil || q.reader == nil {
		return Page[core.NDREvent]{}, queryDependencyError("query: ndr reader is required")
	}
	items, total, err := q.reader.List(ctx, msg.Filter)
	if err != nil {
		return Page[core.NDREvent]{}, err
	}
	return newPage(items, total, msg.Filter.Limit, msg.Filter.Offset), nil
}

type GetRTOQuery struct {
	reader RTOReader
}

func NewGetRTOQuery(reader RTOReader) *GetRTOQuery {
	return &GetRTOQuery{reader: reader}
}

func (q *GetRTOQuery) Query(ctx context.Context, msg GetRTOMessage) (core.RTOEvent, error) {
	if q == nil || q.reader == nil {
		return core.RTOEvent{}, queryDependencyError("query: rto reader is required")
	}
	return q.reader.Get(ctx, msg.ID)
}

type ListRTOsQuery struct {
	reader RTOReader
}

func NewListRTOsQuery(reader RTOReader) *ListRTOsQuery {
	return &ListRTOsQuery{reader: reader}
}

func (q *ListRTOsQuery) Query(ctx context.Context, msg ListRTOsMessage) (Page[core.RTOEvent], error) {
	if q == nil || q.reader == nil {
		return Page[core.RTOEvent]{}, queryDependencyError("query: rto reader is required")
	}
	items, total, err := q.reader.List(ctx, msg.Filter)
	if err != nil {
		return Page[core.RTOEvent]{}, err
	}
	return newPage(items, total, msg.Filter.Limit, msg.Filter.Offset), nil
}

type GetWorkflowQuery struct {
	reader WorkflowReader
}

func NewGetWorkflowQuery(reader WorkflowReader) *GetWorkflowQuery {
	return &GetWorkflowQuery{reader: reader}
}

func (q *GetWorkflowQuery) Query(ctx context.Context, msg GetWorkflowMessage) (core.WorkflowDefinition, error) {
	if q == nil || q.reader == nil {
		return core.WorkflowDefinition{}, queryDependencyError("query: workflow reader is required")
	}
	return q.reader.Workflow(ctx, msg.CompanyID, msg.Reason)
}

func newPage[T any](items []T, total int, limit int, offset int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Limit: limit, Offset: offset}
}
