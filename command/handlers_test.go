package command

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/deadletter"
	"github.com/goliatone/go-courier-sync/ndr"
	"github.com/goliatone/go-courier-sync/rto"
	gocmd "github.com/goliatone/go-command"
)

func TestReplayDeadLetterCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.DeadLetterEntry{ID: "dl_1", Status: core.DeadLetterStatusResolved, ResolvedBy: "ops"}
	called := false
	svc := stubDeadLetterService{
		replayFn: func(_ context.Context, id string, actor string) (core.DeadLetterEntry, error) {
			called = true
			if id != "dl_1" || actor != "ops" {
				t.Fatalf("unexpected replay payload: %q %q", id, actor)
			}
			return expected, nil
		},
	}

	collector := gocmd.NewResult[core.DeadLetterEntry]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewReplayDeadLetterCommand(svc).Execute(ctx, ReplayDeadLetterMessage{ID: "dl_1", Actor: "ops"}); err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	if !called {
		t.Fatalf("expected replay invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Status != core.DeadLetterStatusResolved {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestDeadLetterCommands_DelegateToService(t *testing.T) {
	t.Run("replay batch", func(t *testing.T) {
		svc := stubDeadLetterService{
			replayBatchFn: func(_ context.Context, limit int) (deadletter.ReplayStats, error) {
				if limit != 25 {
					t.Fatalf("unexpected limit %d", limit)
				}
				return deadletter.ReplayStats{Claimed: 3, Resolved: 2, Failed: 1}, nil
			},
		}
		collector := gocmd.NewResult[deadletter.ReplayStats]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewReplayDeadLettersCommand(svc).Execute(ctx, ReplayDeadLettersMessage{Limit: 25}); err != nil {
			t.Fatalf("execute replay batch: %v", err)
		}
		stats, ok := collector.Load()
		if !ok || stats.Resolved != 2 {
			t.Fatalf("unexpected stats: %#v", stats)
		}
	})

	t.Run("abandon propagates service error", func(t *testing.T) {
		svc := stubDeadLetterService{
			abandonFn: func(context.Context, string, string, string) (core.DeadLetterEntry, error) {
				return core.DeadLetterEntry{}, core.ErrInvalidDeadLetterTransition
			},
		}
		err := NewAbandonDeadLetterCommand(svc).Execute(context.Background(), AbandonDeadLetterMessage{
			ID: "dl_1", Actor: "ops", Note: "courier confirmed loss",
		})
		if !errors.Is(err, core.ErrInvalidDeadLetterTransition) {
			t.Fatalf("expected transition error, got %v", err)
		}
	})
}

func TestNDRCommands_DelegateToService(t *testing.T) {
	var calls []string
	svc := stubNDRService{
		resolveFn: func(_ context.Context, id string, actor string, _ string) (core.NDREvent, error) {
			calls = append(calls, "resolve")
			return core.NDREvent{ID: id, Status: core.NDRStatusResolved, ClosedBy: actor}, nil
		},
		escalateFn: func(_ context.Context, id string, _ string, _ string) (core.NDREvent, error) {
			calls = append(calls, "escalate")
			return core.NDREvent{ID: id, Status: core.NDRStatusEscalated}, nil
		},
		triggerFn: func(_ context.Context, id string, actor string, _ string) (core.NDREvent, core.RTOEvent, error) {
			calls = append(calls, "rto")
			return core.NDREvent{ID: id, Status: core.NDRStatusRTOTriggered}, core.RTOEvent{ID: "rto_1", NDRID: id, InitiatedBy: actor}, nil
		},
		annotateFn: func(_ context.Context, id string, _ string, _ string) (core.NDREvent, error) {
			calls = append(calls, "annotate")
			return core.NDREvent{ID: id}, nil
		},
		responseFn: func(_ context.Context, id string, response ndr.CustomerResponse) (core.NDREvent, error) {
			calls = append(calls, "response")
			if !response.Confirmed || response.Channel != "whatsapp" {
				t.Fatalf("unexpected response %#v", response)
			}
			return core.NDREvent{ID: id, CustomerContacted: true}, nil
		},
	}
	ctx := context.Background()

	if err := NewResolveNDRCommand(svc).Execute(ctx, ResolveNDRMessage{ID: "ndr_1", Actor: "ops", Note: "rescheduled"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := NewEscalateNDRCommand(svc).Execute(ctx, EscalateNDRMessage{ID: "ndr_1", Actor: "ops", Reason: "vip"}); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	collector := gocmd.NewResult[TriggerRTOResult]()
	rtoCtx := gocmd.ContextWithResult(ctx, collector)
	if err := NewTriggerNDRRTOCommand(svc).Execute(rtoCtx, TriggerNDRRTOMessage{ID: "ndr_1", Actor: "ops", Reason: "refused twice"}); err != nil {
		t.Fatalf("trigger rto: %v", err)
	}
	triggered, ok := collector.Load()
	if !ok || triggered.RTO.NDRID != "ndr_1" || triggered.NDR.Status != core.NDRStatusRTOTriggered {
		t.Fatalf("unexpected trigger result %#v", triggered)
	}
	if err := NewAnnotateNDRCommand(svc).Execute(ctx, AnnotateNDRMessage{ID: "ndr_1", Actor: "ops", Note: "called"}); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if err := NewRecordCustomerResponseCommand(svc).Execute(ctx, RecordCustomerResponseMessage{
		ID:       "ndr_1",
		Response: ndr.CustomerResponse{Channel: "whatsapp", Message: "deliver tomorrow", Confirmed: true},
	}); err != nil {
		t.Fatalf("customer response: %v", err)
	}
	if len(calls) != 5 {
		t.Fatalf("expected five delegated calls, got %v", calls)
	}
}

func TestRTOCommands_DelegateToService(t *testing.T) {
	svc := stubRTOService{
		initiateFn: func(_ context.Context, req rto.InitiateRequest) (core.RTOEvent, error) {
			return core.RTOEvent{ID: "rto_1", ShipmentID: req.ShipmentID, Status: core.RTOStatusInitiated}, nil
		},
		qcFn: func(_ context.Context, id string, _ string, result core.QCResult, financials core.FinancialSummary) (core.RTOEvent, error) {
			summary := financials
			return core.RTOEvent{ID: id, Status: core.RTOStatusQCComplete, QCResult: result, Financials: &summary}, nil
		},
		disposeFn: func(_ context.Context, id string, _ string, disposition core.Disposition) (core.RTOEvent, error) {
			return core.RTOEvent{ID: id, Status: core.RTOStatusDisposed, Disposition: disposition}, nil
		},
	}

	collector := gocmd.NewResult[core.RTOEvent]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewInitiateRTOCommand(svc).Execute(ctx, InitiateRTOMessage{Request: rto.InitiateRequest{
		ShipmentID: "shp_1", Actor: "ops", Reason: "customer cancelled",
	}}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if created, ok := collector.Load(); !ok || created.ShipmentID != "shp_1" {
		t.Fatalf("unexpected initiated rto %#v", created)
	}

	qcCollector := gocmd.NewResult[core.RTOEvent]()
	qcCtx := gocmd.ContextWithResult(context.Background(), qcCollector)
	if err := NewCompleteRTOQCCommand(svc).Execute(qcCtx, CompleteRTOQCMessage{
		ID: "rto_1", Actor: "qc", Result: core.QCResultDamaged,
		Financials: core.FinancialSummary{ReturnShippingCost: 4500, WriteOffAmount: 12000, Currency: "INR"},
	}); err != nil {
		t.Fatalf("complete qc: %v", err)
	}
	if qc, ok := qcCollector.Load(); !ok || qc.Financials == nil || qc.Financials.WriteOffAmount != 12000 {
		t.Fatalf("unexpected qc result %#v", qc)
	}

	if err := NewDisposeRTOCommand(svc).Execute(context.Background(), DisposeRTOMessage{
		ID: "rto_1", Actor: "qc", Disposition: core.DispositionDonate,
	}); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if err := NewMarkRTOInTransitCommand(svc).Execute(context.Background(), MarkRTOInTransitMessage{ID: "rto_1", Actor: "ops"}); err == nil {
		t.Fatalf("expected unconfigured stub to surface an error")
	}
}

func TestSaveWorkflowAndRefreshMappingCommands(t *testing.T) {
	store := &recordingWorkflowStore{}
	collector := gocmd.NewResult[core.WorkflowDefinition]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	def := core.WorkflowDefinition{
		CompanyID: "acme",
		Reason:    core.NDRReasonRefused,
		Actions:   []core.WorkflowAction{{Sequence: 1, Type: core.ActionCallCustomer}},
	}
	if err := NewSaveWorkflowCommand(store).Execute(ctx, SaveWorkflowMessage{Definition: def}); err != nil {
		t.Fatalf("save workflow: %v", err)
	}
	if saved, ok := collector.Load(); !ok || saved.Version != 1 {
		t.Fatalf("unexpected saved workflow %#v", saved)
	}

	refresher := &countingRefresher{}
	if err := NewRefreshStatusMappingCommand(refresher).Execute(context.Background(), RefreshStatusMappingMessage{}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected one refresh, got %d", refresher.calls)
	}
}

func TestMessages_Validate(t *testing.T) {
	cases := []struct {
		name string
		msg  interface{ Validate() error }
		ok   bool
	}{
		{"replay requires actor", ReplayDeadLetterMessage{ID: "dl_1"}, false},
		{"replay ok", ReplayDeadLetterMessage{ID: "dl_1", Actor: "ops"}, true},
		{"abandon requires note", AbandonDeadLetterMessage{ID: "dl_1", Actor: "ops"}, false},
		{"batch rejects negative limit", ReplayDeadLettersMessage{Limit: -1}, false},
		{"resolve requires note", ResolveNDRMessage{ID: "ndr_1", Actor: "ops", Note: " "}, false},
		{"resolve ok", ResolveNDRMessage{ID: "ndr_1", Actor: "ops", Note: "customer rescheduled"}, true},
		{"escalate requires reason", EscalateNDRMessage{ID: "ndr_1", Actor: "ops"}, false},
		{"trigger rto ok", TriggerNDRRTOMessage{ID: "ndr_1", Actor: "ops", Reason: "refused"}, true},
		{"customer response requires channel", RecordCustomerResponseMessage{ID: "ndr_1"}, false},
		{"initiate requires reason", InitiateRTOMessage{Request: rto.InitiateRequest{ShipmentID: "s", Actor: "ops"}}, false},
		{"qc rejects unknown result", CompleteRTOQCMessage{ID: "rto_1", Actor: "qc", Result: "mangled"}, false},
		{"qc rejects negative amounts", CompleteRTOQCMessage{ID: "rto_1", Actor: "qc", Result: core.QCResultLost, Financials: core.FinancialSummary{WriteOffAmount: -1}}, false},
		{"dispose requires disposition", DisposeRTOMessage{ID: "rto_1", Actor: "qc"}, false},
		{"workflow requires reason", SaveWorkflowMessage{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid message, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

type stubDeadLetterService struct {
	replayFn      func(ctx context.Context, id string, actor string) (core.DeadLetterEntry, error)
	replayBatchFn func(ctx context.Context, limit int) (deadletter.ReplayStats, error)
	abandonFn     func(ctx context.Context, id string, actor string, note string) (core.DeadLetterEntry, error)
}

func (s stubDeadLetterService) Replay(ctx context.Context, id string, actor string) (core.DeadLetterEntry, error) {
	if s.replayFn == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("replay not configured")
	}
	return s.replayFn(ctx, id, actor)
}

func (s stubDeadLetterService) ReplayBatch(ctx context.Context, limit int) (deadletter.ReplayStats, error) {
	if s.replayBatchFn == nil {
		return deadletter.ReplayStats{}, fmt.Errorf("replay batch not configured")
	}
	return s.replayBatchFn(ctx, limit)
}

func (s stubDeadLetterService) Abandon(ctx context.Context, id string, actor string, note string) (core.DeadLetterEntry, error) {
	if s.abandonFn == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("abandon not configured")
	}
	return s.abandonFn(ctx, id, actor, note)
}

type stubNDRService struct {
	resolveFn  func(ctx context.Context, id string, actor string, note string) (core.NDREvent, error)
	escalateFn func(ctx context.Context, id string, actor string, reason string) (core.NDREvent, error)
	triggerFn  func(ctx context.Context, id string, actor string, reason string) (core.NDREvent, core.RTOEvent, error)
	annotateFn func(ctx context.Context, id string, actor string, note string) (core.NDREvent, error)
	responseFn func(ctx context.Context, id string, response ndr.CustomerResponse) (core.NDREvent, error)
}

func (s stubNDRService) Resolve(ctx context.Context, id string, actor string, note string) (core.NDREvent, error) {
	if s.resolveFn == nil {
		return core.NDREvent{}, fmt.Errorf("resolve not configured")
	}
	return s.resolveFn(ctx, id, actor, note)
}

func (s stubNDRService) Escalate(ctx context.Context, id string, actor string, reason string) (core.NDREvent, error) {
	if s.escalateFn == nil {
		return core.NDREvent{}, fmt.Errorf("escalate not configured")
	}
	return s.escalateFn(ctx, id, actor, reason)
}

func (s stubNDRService) TriggerRTO(ctx context.Context, id string, actor string, reason string) (core.NDREvent, core.RTOEvent, error) {
	if s.triggerFn == nil {
		return core.NDREvent{}, core.RTOEvent{}, fmt.Errorf("trigger rto not configured")
	}
	return s.triggerFn(ctx, id, actor, reason)
}

func (s stubNDRService) Annotate(ctx context.Context, id string, actor string, note string) (core.NDREvent, error) {
	if s.annotateFn == nil {
		return core.NDREvent{}, fmt.Errorf("annotate not configured")
	}
	return s.annotateFn(ctx, id, actor, note)
}

func (s stubNDRService) RecordCustomerResponse(ctx context.Context, id string, response ndr.CustomerResponse) (core.NDREvent, error) {
	if s.responseFn == nil {
		return core.NDREvent{}, fmt.Errorf("customer response not configured")
	}
	return s.responseFn(ctx, id, response)
}

type stubRTOService struct {
	initiateFn  func(ctx context.Context, req rto.InitiateRequest) (core.RTOEvent, error)
	inTransitFn func(ctx context.Context, id string, actor string, note string) (core.RTOEvent, error)
	receivedFn  func(ctx context.Context, id string, actor string, note string) (core.RTOEvent, error)
	qcFn        func(ctx context.Context, id string, actor string, result core.QCResult, financials core.FinancialSummary) (core.RTOEvent, error)
	disposeFn   func(ctx context.Context, id string, actor string, disposition core.Disposition) (core.RTOEvent, error)
}

func (s stubRTOService) Initiate(ctx context.Context, req rto.InitiateRequest) (core.RTOEvent, error) {
	if s.initiateFn == nil {
		return core.RTOEvent{}, fmt.Errorf("initiate not configured")
	}
	return s.initiateFn(ctx, req)
}

func (s stubRTOService) MarkInTransit(ctx context.Context, id string, actor string, note string) (core.RTOEvent, error) {
	if s.inTransitFn == nil {
		return core.RTOEvent{}, fmt.Errorf("in transit not configured")
	}
	return s.inTransitFn(ctx, id, actor, note)
}

func (s stubRTOService) MarkReceived(ctx context.Context, id string, actor string, note string) (core.RTOEvent, error) {
	if s.receivedFn == nil {
		return core.RTOEvent{}, fmt.Errorf("received not configured")
	}
	return s.receivedFn(ctx, id, actor, note)
}

func (s stubRTOService) CompleteQC(ctx context.Context, id string, actor string, result core.QCResult, financials core.FinancialSummary) (core.RTOEvent, error) {
	if s.qcFn == nil {
		return core.RTOEvent{}, fmt.Errorf("qc not configured")
	}
	return s.qcFn(ctx, id, actor, result, financials)
}

func (s stubRTOService) Dispose(ctx context.Context, id string, actor string, disposition core.Disposition) (core.RTOEvent, error) {
	if s.disposeFn == nil {
		return core.RTOEvent{}, fmt.Errorf("dispose not configured")
	}
	return s.disposeFn(ctx, id, actor, disposition)
}

type recordingWorkflowStore struct {
	saved []core.WorkflowDefinition
}

func (s *recordingWorkflowStore) Get(context.Context, string, core.NDRReason) (core.WorkflowDefinition, error) {
	return core.WorkflowDefinition{}, core.ErrNotFound
}

func (s *recordingWorkflowStore) Save(_ context.Context, def core.WorkflowDefinition) (core.WorkflowDefinition, error) {
	def.Version = len(s.saved) + 1
	s.saved = append(s.saved, def)
	return def, nil
}

type countingRefresher struct {
	calls int
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls++
	return nil
}
