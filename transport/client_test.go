package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

func TestNotifier_PostsNotificationWithHeaders(t *testing.T) {
	var (
		got     notificationPayload
		headers http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier, tasks := FromConfig(core.OutboundConfig{
		NotifyURL: server.URL + "/notify",
		Token:     "secret-token",
		Headers:   map[string]string{"X-Tenant": "acme"},
	}, nil)
	if tasks != nil {
		t.Fatalf("expected no task sink without task_url")
	}
	err := notifier.Notify(context.Background(), core.Notification{
		NDRID:       "ndr-1",
		ShipmentID:  "shp-1",
		TrackingRef: "BD100",
		Reason:      core.NDRReasonCustomerUnavailable,
		ActionType:  core.ActionNotifyWhatsApp,
		Channel:     "whatsapp",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.NDRID != "ndr-1" || got.Reason != "customer_unavailable" || got.Channel != "whatsapp" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if headers.Get("Authorization") != "Bearer secret-token" || headers.Get("X-Tenant") != "acme" {
		t.Fatalf("expected auth and static headers, got %v", headers)
	}
	if headers.Get(headerIdempotencyKey) != "notify:ndr-1:notify_customer_whatsapp" {
		t.Fatalf("unexpected idempotency key %q", headers.Get(headerIdempotencyKey))
	}
}

func TestTaskSink_MapsRejectionToOutboundError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, tasks := FromConfig(core.OutboundConfig{TaskURL: server.URL}, nil)
	err := tasks.CreateTask(context.Background(), core.Task{
		NDRID:      "ndr-1",
		ActionType: core.ActionCallCustomer,
		DueAt:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Fatalf("expected rejection error")
	}
	if !core.HasTextCode(err, core.CourierErrorOutboundFailure) {
		t.Fatalf("expected outbound failure text code, got %v", err)
	}
	if mapped := core.MapError(err); mapped.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", mapped.Code)
	}
}

func TestFromConfig_NoURLsYieldsNoHooks(t *testing.T) {
	notifier, tasks := FromConfig(core.OutboundConfig{}, nil)
	if notifier != nil || tasks != nil {
		t.Fatalf("expected nil hooks")
	}
}

func TestClient_DefaultTimeout(t *testing.T) {
	client := NewClient(core.OutboundConfig{}, nil)
	if client.Timeout != defaultTimeout {
		t.Fatalf("expected default timeout, got %s", client.Timeout)
	}
}
