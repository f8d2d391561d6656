package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WorkflowStore keeps one definition per (company, reason). An empty
// company id holds the stored default for that reason.
type WorkflowStore struct {
	db *bun.DB
}

func NewWorkflowStore(db *bun.DB) (*WorkflowStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &WorkflowStore{db: db}, nil
}

func (s *WorkflowStore) Get(ctx context.Context, companyID string, reason core.NDRReason) (core.WorkflowDefinition, error) {
	if s == nil || s.db == nil {
		return core.WorkflowDefinition{}, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	record, err := findWorkflow(ctx, s.db, strings.TrimSpace(companyID), reason)
	if err != nil {
		return core.WorkflowDefinition{}, err
	}
	return record.toDomain(), nil
}

func findWorkflow(ctx context.Context, db bun.IDB, companyID string, reason core.NDRReason) (*workflowRecord, error) {
	record := &workflowRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.company_id = ?", companyID).
		Where("?TableAlias.reason = ?", string(reason)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("sqlstore: workflow %s/%s: %w", companyID, reason, core.ErrNotFound)
		}
		return nil, err
	}
	return record, nil
}

// Save validates def and replaces the stored definition, bumping its version.
func (s *WorkflowStore) Save(ctx context.Context, def core.WorkflowDefinition) (core.WorkflowDefinition, error) {
	if s == nil || s.db == nil {
		return core.WorkflowDefinition{}, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	if err := def.Validate(); err != nil {
		return core.WorkflowDefinition{}, err
	}
	def.CompanyID = strings.TrimSpace(def.CompanyID)
	var saved *workflowRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		current, err := findWorkflow(ctx, tx, def.CompanyID, def.Reason)
		if err != nil && !isNotFound(err) {
			return err
		}
		if current == nil {
			def.ID = uuid.NewString()
			def.Version = 1
			record := newWorkflowRecord(def)
			record.CreatedAt = now
			record.UpdatedAt = now
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				if isUniqueViolation(err) {
					return core.ErrVersionConflict
				}
				return err
			}
			saved = record
			return nil
		}
		def.ID = current.ID
		def.Version = current.Version + 1
		record := newWorkflowRecord(def)
		record.CreatedAt = current.CreatedAt
		record.UpdatedAt = now
		result, err := tx.NewUpdate().
			Model(record).
			ExcludeColumn("created_at").
			Where("id = ?", record.ID).
			Where("version = ?", current.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return core.ErrVersionConflict
		}
		saved = record
		return nil
	})
	if err != nil {
		return core.WorkflowDefinition{}, err
	}
	return saved.toDomain(), nil
}
