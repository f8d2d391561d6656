package couriersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-courier-sync/adapters/gocommand"
	"github.com/goliatone/go-courier-sync/adapters/gojob"
	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/query"
	memstore "github.com/goliatone/go-courier-sync/store/memory"
	"github.com/goliatone/go-courier-sync/webhooks"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const testSecret = "bluedart-secret"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Couriers = []CourierConfig{{ID: "bluedart", Secret: testSecret}}
	cfg.Workers.Count = 1
	return cfg
}

func newTestService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	clock := func() time.Time { return t0 }
	store.SetClock(clock)
	store.Shipments.Put(core.Shipment{
		ID:          "shp-1",
		TrackingRef: "BD100",
		CompanyID:   "acme",
		Status:      core.StatusOutForDelivery,
		StatusAt:    t0.Add(-time.Hour),
	})
	svc, err := NewService(testConfig(), MemoryStores(store), WithClock(clock))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func signedWebhook(t *testing.T, body string) *http.Request {
	t.Helper()
	timestamp := strconv.FormatInt(t0.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bluedart", strings.NewReader(body))
	req.Header.Set(core.DefaultTimestampHeader, timestamp)
	req.Header.Set(core.DefaultSignatureHeader, webhooks.SignatureHeaderValue(testSecret, timestamp, []byte(body), core.SignatureEncodingHex))
	return req
}

func TestNewService_RejectsInvalidConfigAndMissingStores(t *testing.T) {
	cfg := testConfig()
	cfg.ServiceName = ""
	if _, err := NewService(cfg, MemoryStores(nil)); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}
	stores := MemoryStores(nil)
	stores.Shipments = nil
	if _, err := NewService(testConfig(), stores); err == nil || !strings.Contains(err.Error(), "shipment store") {
		t.Fatalf("expected missing shipment store error, got %v", err)
	}
}

func TestService_WebhookToNDRThroughHTTP(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	if got := svc.Mapper().Version("bluedart"); got < 1 {
		t.Fatalf("expected bundled bluedart table loaded, got version %d", got)
	}

	body := `{"event_id":"evt-1","tracking_ref":"BD100","status":"UD-CNA","occurred_at":"2026-03-10T08:30:00Z"}`
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, signedWebhook(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected webhook ack, got %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		shipment, err := store.Shipments.GetByTrackingRef(ctx, "BD100")
		if err != nil {
			t.Fatalf("get shipment: %v", err)
		}
		if shipment.Status == core.StatusDeliveryFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("shipment never reached delivery_failed, status=%s", shipment.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, signedWebhook(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected duplicate ack, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ndr?shipment_id=shp-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list ndrs: %d %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Items []struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		} `json:"items"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || page.Items[0].Reason != string(core.NDRReasonCustomerUnavailable) {
		t.Fatalf("expected one customer_unavailable ndr, got %+v", page)
	}

	rec = httptest.NewRecorder()
	resolve := httptest.NewRequest(http.MethodPost, "/api/ndr/"+page.Items[0].ID+"/resolve",
		strings.NewReader(`{"actor":"ops@example.com","note":"customer rescheduled"}`))
	svc.Handler().ServeHTTP(rec, resolve)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve ndr: %d %s", rec.Code, rec.Body.String())
	}
	resolved, err := svc.NDR().Get(ctx, page.Items[0].ID)
	if err != nil {
		t.Fatalf("get ndr: %v", err)
	}
	if resolved.Status != core.NDRStatusResolved {
		t.Fatalf("expected resolved ndr, got %s", resolved.Status)
	}

	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "courier_events_received_total") {
		t.Fatalf("expected prometheus exposition with received counter, got %d", rec.Code)
	}
}

func TestService_RegistersSweepsAndRejectsRestart(t *testing.T) {
	svc, _ := newTestService(t)
	ids := map[string]bool{}
	for _, sweep := range svc.Scheduler().Sweeps() {
		ids[sweep.JobID] = true
	}
	for _, want := range []string{gojob.JobIDRetryDispatch, gojob.JobIDNDRActions, gojob.JobIDDeadLetterReplay, gojob.JobIDAdmissionPurge} {
		if !ids[want] {
			t.Fatalf("expected sweep %s registered, got %v", want, ids)
		}
	}
	if svc.JobLogger() == nil {
		t.Fatalf("expected go-job logger bridge")
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Stop()
	if err := svc.Start(context.Background()); err == nil {
		t.Fatalf("expected restart after stop to fail")
	}
}

func TestFacade_RegistersEveryOperatorMessage(t *testing.T) {
	svc, _ := newTestService(t)
	bus := gocommand.NewBus(nil)
	defer bus.Close()

	if err := svc.Facade().Register(bus); err != nil {
		t.Fatalf("register facade: %v", err)
	}
	if got := len(bus.Types()); got != 23 {
		t.Fatalf("expected 15 commands and 8 queries, got %d", got)
	}

	depth, err := gocommand.Query[query.DeadLetterDepthMessage, int](context.Background(), query.DeadLetterDepthMessage{})
	if err != nil {
		t.Fatalf("depth query through dispatcher: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected empty dead-letter queue, got %d", depth)
	}
}

func TestNewFacade_RequiresServices(t *testing.T) {
	if _, err := NewFacade(FacadeDependencies{}); err == nil {
		t.Fatalf("expected missing dependencies error")
	}
}
