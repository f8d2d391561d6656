package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-courier-sync/core"
)

func TestGetDeadLetterQuery_QueryDelegates(t *testing.T) {
	reader := stubDeadLetterReader{
		getFn: func(_ context.Context, id string) (core.DeadLetterEntry, error) {
			if id != "dl_1" {
				t.Fatalf("unexpected id %q", id)
			}
			return core.DeadLetterEntry{ID: id, Category: core.DeadLetterCategoryTransient}, nil
		},
	}
	result, err := NewGetDeadLetterQuery(reader).Query(context.Background(), GetDeadLetterMessage{ID: "dl_1"})
	if err != nil {
		t.Fatalf("query dead letter: %v", err)
	}
	if result.Category != core.DeadLetterCategoryTransient {
		t.Fatalf("unexpected entry %#v", result)
	}
}

func TestListDeadLettersQuery_WrapsPage(t *testing.T) {
	reader := stubDeadLetterReader{
		listFn: func(_ context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, int, error) {
			if filter.Status != core.DeadLetterStatusPending || filter.Limit != 10 {
				t.Fatalf("unexpected filter %#v", filter)
			}
			return []core.DeadLetterEntry{{ID: "dl_1"}, {ID: "dl_2"}}, 7, nil
		},
	}
	page, err := NewListDeadLettersQuery(reader).Query(context.Background(), ListDeadLettersMessage{
		Filter: core.DeadLetterFilter{Status: core.DeadLetterStatusPending, Limit: 10},
	})
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(page.Items) != 2 || page.Total != 7 || page.Limit != 10 {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestListNDRsQuery_EmptyResultIsNotNil(t *testing.T) {
	reader := stubNDRReader{
		listFn: func(context.Context, core.NDRFilter) ([]core.NDREvent, int, error) {
			return nil, 0, nil
		},
	}
	page, err := NewListNDRsQuery(reader).Query(context.Background(), ListNDRsMessage{})
	if err != nil {
		t.Fatalf("list ndrs: %v", err)
	}
	if page.Items == nil {
		t.Fatalf("expected empty slice for json encoding")
	}
}

func TestRTOAndWorkflowQueries_Delegate(t *testing.T) {
	rtos := stubRTOReader{
		getFn: func(_ context.Context, id string) (core.RTOEvent, error) {
			return core.RTOEvent{ID: id, Status: core.RTOStatusQCPending}, nil
		},
		listFn: func(_ context.Context, filter core.RTOFilter) ([]core.RTOEvent, int, error) {
			return []core.RTOEvent{{ID: "rto_1", ShipmentID: filter.ShipmentID}}, 1, nil
		},
	}
	got, err := NewGetRTOQuery(rtos).Query(context.Background(), GetRTOMessage{ID: "rto_1"})
	if err != nil || got.Status != core.RTOStatusQCPending {
		t.Fatalf("unexpected rto %#v err=%v", got, err)
	}
	page, err := NewListRTOsQuery(rtos).Query(context.Background(), ListRTOsMessage{
		Filter: core.RTOFilter{ShipmentID: "shp_1"},
	})
	if err != nil || page.Total != 1 || page.Items[0].ShipmentID != "shp_1" {
		t.Fatalf("unexpected rto page %#v err=%v", page, err)
	}

	workflows := stubWorkflowReader{
		workflowFn: func(_ context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error) {
			if companyID != "acme" || reason != core.NDRReasonAddressIssue {
				t.Fatalf("unexpected workflow lookup %q %q", companyID, reason)
			}
			return core.WorkflowDefinition{CompanyID: companyID, Reason: reason, Version: 3}, nil
		},
	}
	def, err := NewGetWorkflowQuery(workflows).Query(context.Background(), GetWorkflowMessage{
		CompanyID: "acme",
		Reason:    core.NDRReasonAddressIssue,
	})
	if err != nil || def.Version != 3 {
		t.Fatalf("unexpected workflow %#v err=%v", def, err)
	}
}

func TestQueries_PropagateReaderErrors(t *testing.T) {
	reader := stubNDRReader{
		getFn: func(context.Context, string) (core.NDREvent, error) {
			return core.NDREvent{}, core.ErrNotFound
		},
	}
	if _, err := NewGetNDRQuery(reader).Query(context.Background(), GetNDRMessage{ID: "missing"}); err != core.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := NewDeadLetterDepthQuery(stubDeadLetterReader{}).Query(context.Background(), DeadLetterDepthMessage{}); err == nil {
		t.Fatalf("expected unconfigured depth error")
	}
}

func TestListMessages_RejectUnknownStatus(t *testing.T) {
	if err := (ListNDRsMessage{Filter: core.NDRFilter{Status: "lost"}}).Validate(); err == nil {
		t.Fatalf("expected ndr status validation error")
	}
	if err := (ListDeadLettersMessage{Filter: core.DeadLetterFilter{Offset: -1}}).Validate(); err == nil {
		t.Fatalf("expected offset validation error")
	}
	if err := (GetWorkflowMessage{CompanyID: "acme"}).Validate(); err == nil {
		t.Fatalf("expected reason validation error")
	}
}

type stubDeadLetterReader struct {
	getFn   func(ctx context.Context, id string) (core.DeadLetterEntry, error)
	listFn  func(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, int, error)
	depthFn func(ctx context.Context) (int, error)
}

func (s stubDeadLetterReader) Get(ctx context.Context, id string) (core.DeadLetterEntry, error) {
	if s.getFn == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("get not configured")
	}
	return s.getFn(ctx, id)
}

func (s stubDeadLetterReader) List(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, int, error) {
	if s.listFn == nil {
		return nil, 0, fmt.Errorf("list not configured")
	}
	return s.listFn(ctx, filter)
}

func (s stubDeadLetterReader) Depth(ctx context.Context) (int, error) {
	if s.depthFn == nil {
		return 0, fmt.Errorf("depth not configured")
	}
	return s.depthFn(ctx)
}

type stubNDRReader struct {
	getFn  func(ctx context.Context, id string) (core.NDREvent, error)
	listFn func(ctx context.Context, filter core.NDRFilter) ([]core.NDREvent, int, error)
}

func (s stubNDRReader) Get(ctx context.Context, id string) (core.NDREvent, error) {
	if s.getFn == nil {
		return core.NDREvent{}, fmt.Errorf("get not configured")
	}
	return s.getFn(ctx, id)
}

func (s stubNDRReader) List(ctx context.Context, filter core.NDRFilter) ([]core.NDREvent, int, error) {
	if s.listFn == nil {
		return nil, 0, fmt.Errorf("list not configured")
	}
	return s.listFn(ctx, filter)
}

type stubRTOReader struct {
	getFn  func(ctx context.Context, id string) (core.RTOEvent, error)
	listFn func(ctx context.Context, filter core.RTOFilter) ([]core.RTOEvent, int, error)
}

func (s stubRTOReader) Get(ctx context.Context, id string) (core.RTOEvent, error) {
	if s.getFn == nil {
		return core.RTOEvent{}, fmt.Errorf("get not configured")
	}
	return s.getFn(ctx, id)
}

func (s stubRTOReader) List(ctx context.Context, filter core.RTOFilter) ([]core.RTOEvent, int, error) {
	if s.listFn == nil {
		return nil, 0, fmt.Errorf("list not configured")
	}
	return s.listFn(ctx, filter)
}

type stubWorkflowReader struct {
	workflowFn func(ctx context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error)
}

func (s stubWorkflowReader) Workflow(ctx context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error) {
	if s.workflowFn == nil {
		return core.WorkflowDefinition{}, fmt.Errorf("workflow not configured")
	}
	return s.workflowFn(ctx, companyID, reason)
}
