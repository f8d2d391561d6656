package sqlstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubWorkflowStore struct {
	mu        sync.Mutex
	defs      map[string]core.WorkflowDefinition
	getCalls  int
	saveCalls int
	getErr    error
}

func (s *stubWorkflowStore) Get(_ context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.WorkflowDefinition{}, s.getErr
	}
	def, ok := s.defs[companyID+"/"+string(reason)]
	if !ok {
		return core.WorkflowDefinition{}, core.ErrNotFound
	}
	return def, nil
}

func (s *stubWorkflowStore) Save(_ context.Context, def core.WorkflowDefinition) (core.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.defs == nil {
		s.defs = map[string]core.WorkflowDefinition{}
	}
	key := def.CompanyID + "/" + string(def.Reason)
	def.Version = s.defs[key].Version + 1
	s.defs[key] = def
	return def, nil
}

func TestCachedWorkflowStore_Get_MissFetchThenHit(t *testing.T) {
	base := &stubWorkflowStore{defs: map[string]core.WorkflowDefinition{
		"acme/" + string(core.NDRReasonCustomerUnavailable): {
			CompanyID: "acme",
			Reason:    core.NDRReasonCustomerUnavailable,
			Version:   1,
			Actions:   []core.WorkflowAction{{Sequence: 1, Type: core.ActionNotifySMS, Delay: time.Hour}},
			Trigger:   core.RTOTrigger{MaxHours: 24, AutoTrigger: true},
		},
	}}
	store, err := NewCachedWorkflowStore(base, newTestWorkflowCacheService(t))
	if err != nil {
		t.Fatalf("new cached workflow store: %v", err)
	}

	first, err := store.Get(context.Background(), "acme", core.NDRReasonCustomerUnavailable)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.Trigger.MaxHours != 24 || len(first.Actions) != 1 {
		t.Fatalf("unexpected workflow %+v", first)
	}
	if _, err := store.Get(context.Background(), "acme", core.NDRReasonCustomerUnavailable); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected second get to be a cache hit, base get calls=%d", base.getCalls)
	}
}

func TestCachedWorkflowStore_Get_CachesMisses(t *testing.T) {
	base := &stubWorkflowStore{}
	store, err := NewCachedWorkflowStore(base, newTestWorkflowCacheService(t))
	if err != nil {
		t.Fatalf("new cached workflow store: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, err := store.Get(context.Background(), "globex", core.NDRReasonAddressIssue)
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if base.getCalls != 1 {
		t.Fatalf("expected miss to be cached, base get calls=%d", base.getCalls)
	}
}

func TestCachedWorkflowStore_Get_DoesNotCacheErrors(t *testing.T) {
	base := &stubWorkflowStore{getErr: errors.New("db down")}
	store, err := NewCachedWorkflowStore(base, newTestWorkflowCacheService(t))
	if err != nil {
		t.Fatalf("new cached workflow store: %v", err)
	}
	if _, err := store.Get(context.Background(), "acme", core.NDRReasonOther); err == nil {
		t.Fatalf("expected base error")
	}
	base.getErr = nil
	if _, err := store.Get(context.Background(), "acme", core.NDRReasonOther); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected base to be consulted again, got %v", err)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected two base reads, got %d", base.getCalls)
	}
}

func TestCachedWorkflowStore_Save_InvalidatesCachedKey(t *testing.T) {
	base := &stubWorkflowStore{}
	store, err := NewCachedWorkflowStore(base, newTestWorkflowCacheService(t))
	if err != nil {
		t.Fatalf("new cached workflow store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Get(ctx, "acme", core.NDRReasonPaymentIssue); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected cached miss, got %v", err)
	}
	saved, err := store.Save(ctx, core.WorkflowDefinition{
		CompanyID: "acme",
		Reason:    core.NDRReasonPaymentIssue,
		Actions:   []core.WorkflowAction{{Sequence: 1, Type: core.ActionRequestPaymentConfirm}},
		Trigger:   core.RTOTrigger{MaxAttempts: 2},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Get(ctx, "acme", core.NDRReasonPaymentIssue)
	if err != nil {
		t.Fatalf("get after save: %v", err)
	}
	if got.Version != saved.Version || got.Trigger.MaxAttempts != 2 {
		t.Fatalf("expected fresh workflow after save, got %+v", got)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected save to invalidate cached miss, base get calls=%d", base.getCalls)
	}
}

func TestWorkflowCacheKey_EscapesSegments(t *testing.T) {
	key, err := WorkflowCacheKey("acme/eu", core.NDRReasonOther)
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if !strings.HasPrefix(key, workflowCacheKeyPrefix+"::") || !strings.Contains(key, "acme%2Feu") {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := WorkflowCacheKey("acme", ""); err == nil {
		t.Fatalf("expected empty reason to be rejected")
	}
}

func newTestWorkflowCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
