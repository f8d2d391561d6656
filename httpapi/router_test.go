package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-courier-sync/command"
	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/deadletter"
	"github.com/goliatone/go-courier-sync/ndr"
	"github.com/goliatone/go-courier-sync/query"
	"github.com/goliatone/go-courier-sync/webhooks"
	goerrors "github.com/goliatone/go-errors"
)

func TestReceiveWebhook_AcknowledgesAdmittedEvent(t *testing.T) {
	var captured webhooks.Request
	router := newTestRouter(t, Config{
		Webhooks: webhookFunc(func(_ context.Context, req webhooks.Request) (webhooks.Response, error) {
			captured = req
			return webhooks.Response{StatusCode: http.StatusOK, Accepted: true, InboundEventID: "in_1", EventID: "evt_1"}, nil
		}),
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/bluedart", strings.NewReader(`{"event_id":"evt_1"}`))
	req.Header.Set("X-Courier-Signature", "abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.CourierID != "bluedart" {
		t.Fatalf("expected courier from path, got %q", captured.CourierID)
	}
	if captured.Headers["X-Courier-Signature"] != "abc" {
		t.Fatalf("expected headers to be forwarded, got %#v", captured.Headers)
	}
	if !captured.ReceivedAt.Equal(testNow) {
		t.Fatalf("expected receive time from clock, got %s", captured.ReceivedAt)
	}
	var body webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Accepted || body.InboundEventID != "in_1" {
		t.Fatalf("unexpected response body %#v", body)
	}
}

func TestReceiveWebhook_RejectionUsesProcessorStatus(t *testing.T) {
	router := newTestRouter(t, Config{
		Webhooks: webhookFunc(func(context.Context, webhooks.Request) (webhooks.Response, error) {
			return webhooks.Response{StatusCode: http.StatusUnauthorized},
				core.NewCourierError("webhooks: signature mismatch", goerrors.CategoryAuth, core.CourierErrorInvalidSignature)
		}),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/delhivery", strings.NewReader(`{}`)))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != core.CourierErrorInvalidSignature {
		t.Fatalf("expected invalid signature code, got %q", code)
	}
}

func TestReceiveWebhook_RejectsOversizedBody(t *testing.T) {
	called := false
	router := newTestRouter(t, Config{
		MaxBodyBytes: 8,
		Webhooks: webhookFunc(func(context.Context, webhooks.Request) (webhooks.Response, error) {
			called = true
			return webhooks.Response{}, nil
		}),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/delhivery", strings.NewReader(`{"much":"too long"}`)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if called {
		t.Fatalf("oversized body must not reach the processor")
	}
}

func TestGetNDR_NotFoundMapsTo404(t *testing.T) {
	router := newTestRouter(t, Config{
		Queries: Queries{
			GetNDR: query.NewGetNDRQuery(&stubNDRReader{err: core.ErrNotFound}),
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ndr/ndr_missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != core.CourierErrorNotFound {
		t.Fatalf("expected not found code, got %q", code)
	}
}

func TestListNDRs_PassesFilterAndRendersPage(t *testing.T) {
	reader := stubNDRReader{items: []core.NDREvent{{
		ID:     "ndr_1",
		Status: core.NDRStatusDetected,
		Reason: core.NDRReasonRefused,
		Actions: []core.NDRAction{{
			Sequence: 1, Type: core.ActionNotifyWhatsApp, Actor: "system", Result: core.ActionResultSucceeded,
		}},
	}}}
	router := newTestRouter(t, Config{
		Queries: Queries{ListNDRs: query.NewListNDRsQuery(&reader)},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ndr?status=detected&limit=5&company_id=acme", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reader.lastFilter.Status != core.NDRStatusDetected || reader.lastFilter.Limit != 5 || reader.lastFilter.CompanyID != "acme" {
		t.Fatalf("unexpected filter %#v", reader.lastFilter)
	}
	var page pageView[ndrView]
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || len(page.Items[0].Actions) != 1 || page.Items[0].Actions[0].Type != string(core.ActionNotifyWhatsApp) {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestListNDRs_RejectsMalformedLimit(t *testing.T) {
	router := newTestRouter(t, Config{
		Queries: Queries{ListNDRs: query.NewListNDRsQuery(&stubNDRReader{})},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ndr?limit=ten", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResolveNDR_ValidationErrorListsField(t *testing.T) {
	svc := &stubNDRService{}
	router := newTestRouter(t, Config{
		Commands: Commands{ResolveNDR: command.NewResolveNDRCommand(svc)},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ndr/ndr_1/resolve", strings.NewReader(`{"note":"done"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(body.Error.Fields) == 0 || body.Error.Fields[0].Field != "actor" {
		t.Fatalf("expected actor field error, got %#v", body.Error)
	}
	if svc.calls != 0 {
		t.Fatalf("invalid request must not reach the engine")
	}
}

func TestTriggerNDRRTO_ReturnsBothRecords(t *testing.T) {
	svc := &stubNDRService{}
	router := newTestRouter(t, Config{
		Commands: Commands{TriggerNDRRTO: command.NewTriggerNDRRTOCommand(svc)},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ndr/ndr_1/rto",
		strings.NewReader(`{"actor":"ops","reason":"refused twice"}`)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		NDR ndrView `json:"ndr"`
		RTO rtoView `json:"rto"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.NDR.Status != string(core.NDRStatusRTOTriggered) || body.RTO.NDRID != "ndr_1" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestReplayDeadLetter_InvalidTransitionMapsToConflict(t *testing.T) {
	router := newTestRouter(t, Config{
		Commands: Commands{ReplayDeadLetter: command.NewReplayDeadLetterCommand(stubDeadLetterService{
			err: core.ErrInvalidDeadLetterTransition,
		})},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/deadletters/dl_1/replay", strings.NewReader(`{"actor":"ops"}`)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != core.CourierErrorInvalidTransition {
		t.Fatalf("expected invalid transition code, got %q", code)
	}
}

func TestReplayDeadLetters_RendersStats(t *testing.T) {
	router := newTestRouter(t, Config{
		Commands: Commands{ReplayDeadLetters: command.NewReplayDeadLettersCommand(stubDeadLetterService{
			stats: deadletter.ReplayStats{Claimed: 4, Resolved: 3, Failed: 1},
		})},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/deadletters/replay", strings.NewReader(`{"limit":10}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["resolved"] != 3 || stats["failed"] != 1 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

func TestUnconfiguredOperationAnswers501(t *testing.T) {
	router := newTestRouter(t, Config{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rto/rto_1/dispose", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	router := newTestRouter(t, Config{
		Commands: Commands{ResolveNDR: command.NewResolveNDRCommand(&stubNDRService{})},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ndr/ndr_1/resolve", strings.NewReader(`{"actor":"ops","bogus":1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	healthy := true
	metrics := &recordingMetrics{}
	router := newTestRouter(t, Config{
		Health: func(context.Context) error {
			if healthy {
				return nil
			}
			return context.DeadlineExceeded
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Observer: core.Observer{Metrics: metrics},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy 200, got %d", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Fatalf("expected metrics handler output, got %d %q", rec.Code, rec.Body.String())
	}

	if got := metrics.count(core.MetricHTTPRequests, "/healthz", "503"); got != 1 {
		t.Fatalf("expected one recorded 503 for /healthz, got %d", got)
	}
}

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.Webhooks == nil {
		cfg.Webhooks = webhookFunc(func(context.Context, webhooks.Request) (webhooks.Response, error) {
			return webhooks.Response{StatusCode: http.StatusOK, Accepted: true}, nil
		})
	}
	cfg.Now = func() time.Time { return testNow }
	router, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

type webhookFunc func(ctx context.Context, req webhooks.Request) (webhooks.Response, error)

func (f webhookFunc) Handle(ctx context.Context, req webhooks.Request) (webhooks.Response, error) {
	return f(ctx, req)
}

type stubNDRReader struct {
	items      []core.NDREvent
	err        error
	lastFilter core.NDRFilter
}

func (s stubNDRReader) Get(_ context.Context, id string) (core.NDREvent, error) {
	if s.err != nil {
		return core.NDREvent{}, s.err
	}
	return core.NDREvent{ID: id}, nil
}

func (s *stubNDRReader) List(_ context.Context, filter core.NDRFilter) ([]core.NDREvent, int, error) {
	s.lastFilter = filter
	return s.items, len(s.items), s.err
}

type stubNDRService struct {
	calls int
}

func (s *stubNDRService) Resolve(_ context.Context, id string, actor string, note string) (core.NDREvent, error) {
	s.calls++
	return core.NDREvent{ID: id, Status: core.NDRStatusResolved, ClosedBy: actor, CloseReason: note}, nil
}

func (s *stubNDRService) Escalate(_ context.Context, id string, actor string, reason string) (core.NDREvent, error) {
	s.calls++
	return core.NDREvent{ID: id, Status: core.NDRStatusEscalated, ClosedBy: actor, CloseReason: reason}, nil
}

func (s *stubNDRService) TriggerRTO(_ context.Context, id string, actor string, reason string) (core.NDREvent, core.RTOEvent, error) {
	s.calls++
	return core.NDREvent{ID: id, Status: core.NDRStatusRTOTriggered},
		core.RTOEvent{ID: "rto_1", NDRID: id, Status: core.RTOStatusInitiated, InitiatedBy: actor, Reason: reason}, nil
}

func (s *stubNDRService) Annotate(_ context.Context, id string, actor string, note string) (core.NDREvent, error) {
	s.calls++
	return core.NDREvent{ID: id, Annotations: []core.Annotation{{Actor: actor, Note: note}}}, nil
}

func (s *stubNDRService) RecordCustomerResponse(_ context.Context, id string, _ ndr.CustomerResponse) (core.NDREvent, error) {
	s.calls++
	return core.NDREvent{ID: id, CustomerContacted: true}, nil
}

type stubDeadLetterService struct {
	err   error
	stats deadletter.ReplayStats
}

func (s stubDeadLetterService) Replay(_ context.Context, id string, actor string) (core.DeadLetterEntry, error) {
	if s.err != nil {
		return core.DeadLetterEntry{}, s.err
	}
	return core.DeadLetterEntry{ID: id, Status: core.DeadLetterStatusResolved, ResolvedBy: actor}, nil
}

func (s stubDeadLetterService) ReplayBatch(context.Context, int) (deadletter.ReplayStats, error) {
	return s.stats, s.err
}

func (s stubDeadLetterService) Abandon(_ context.Context, id string, actor string, note string) (core.DeadLetterEntry, error) {
	if s.err != nil {
		return core.DeadLetterEntry{}, s.err
	}
	return core.DeadLetterEntry{ID: id, Status: core.DeadLetterStatusAbandoned, ResolvedBy: actor, ResolutionNote: note}, nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters []recordedMetric
}

type recordedMetric struct {
	name string
	tags map[string]string
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, _ int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, recordedMetric{name: name, tags: tags})
}

func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *recordingMetrics) SetGauge(context.Context, string, float64, map[string]string) {}

func (m *recordingMetrics) count(name string, route string, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, metric := range m.counters {
		if metric.name == name && metric.tags["route"] == route && metric.tags["status"] == status {
			total++
		}
	}
	return total
}
