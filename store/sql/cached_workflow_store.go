package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-courier-sync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const workflowCacheKeyPrefix = "go-courier-sync::workflow::v1"

// cachedWorkflow remembers misses too, so companies without an override do
// not hit the database on every NDR.
type cachedWorkflow struct {
	Definition core.WorkflowDefinition
	Found      bool
}

type CachedWorkflowStore struct {
	base  core.WorkflowStore
	cache repositorycache.CacheService
}

func NewCachedWorkflowStore(base core.WorkflowStore, cacheService repositorycache.CacheService) (*CachedWorkflowStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base workflow store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: workflow cache service is required")
	}
	return &CachedWorkflowStore{base: base, cache: cacheService}, nil
}

// WorkflowCacheKey is go-courier-sync::workflow::v1::<company>::<reason>
// with each segment URL-path escaped. The default workflow uses an empty
// company segment.
func WorkflowCacheKey(companyID string, reason core.NDRReason) (string, error) {
	reasonValue := strings.TrimSpace(string(reason))
	if reasonValue == "" {
		return "", fmt.Errorf("sqlstore: workflow reason is required")
	}
	segments := []string{
		url.PathEscape(strings.TrimSpace(companyID)),
		url.PathEscape(reasonValue),
	}
	return strings.Join(append([]string{workflowCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedWorkflowStore) Get(ctx context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WorkflowDefinition{}, fmt.Errorf("sqlstore: cached workflow store is not configured")
	}
	cacheKey, err := WorkflowCacheKey(companyID, reason)
	if err != nil {
		return core.WorkflowDefinition{}, err
	}
	cached, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedWorkflow, error) {
		def, fetchErr := s.base.Get(ctx, companyID, reason)
		if fetchErr != nil {
			if isNotFound(fetchErr) {
				return cachedWorkflow{}, nil
			}
			return cachedWorkflow{}, fetchErr
		}
		return cachedWorkflow{Definition: cloneWorkflow(def), Found: true}, nil
	})
	if err != nil {
		return core.WorkflowDefinition{}, err
	}
	if !cached.Found {
		return core.WorkflowDefinition{}, fmt.Errorf("sqlstore: workflow %s/%s: %w", companyID, reason, core.ErrNotFound)
	}
	return cloneWorkflow(cached.Definition), nil
}

func (s *CachedWorkflowStore) Save(ctx context.Context, def core.WorkflowDefinition) (core.WorkflowDefinition, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WorkflowDefinition{}, fmt.Errorf("sqlstore: cached workflow store is not configured")
	}
	saved, err := s.base.Save(ctx, def)
	if err != nil {
		return core.WorkflowDefinition{}, err
	}
	cacheKey, err := WorkflowCacheKey(saved.CompanyID, saved.Reason)
	if err != nil {
		return core.WorkflowDefinition{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.WorkflowDefinition{}, err
	}
	return saved, nil
}

func cloneWorkflow(def core.WorkflowDefinition) core.WorkflowDefinition {
	def.Actions = append([]core.WorkflowAction(nil), def.Actions...)
	return def
}
