package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MappingStore keeps every published table version; LoadTables returns the
// newest version per courier.
type MappingStore struct {
	db *bun.DB
}

func NewMappingStore(db *bun.DB) (*MappingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MappingStore{db: db}, nil
}

func (s *MappingStore) LoadTables(ctx context.Context) ([]core.MappingTable, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: mapping store is not configured")
	}
	var records []statusMappingRecord
	err := s.db.NewSelect().
		Model(&records).
		Where(`?TableAlias.version = (
			SELECT MAX(latest.version)
			FROM courier_status_mappings AS latest
			WHERE latest.courier_id = ?TableAlias.courier_id
		)`).
		OrderExpr("?TableAlias.courier_id ASC, ?TableAlias.code ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	byCourier := map[string]*core.MappingTable{}
	for _, record := range records {
		table, ok := byCourier[record.CourierID]
		if !ok {
			table = &core.MappingTable{CourierID: record.CourierID, Version: record.Version}
			byCourier[record.CourierID] = table
		}
		table.Entries = append(table.Entries, core.MappingEntry{
			Code:      record.Code,
			Status:    core.CanonicalStatus(record.Status),
			Reason:    core.NDRReason(record.Reason),
			Permanent: record.Permanent,
		})
	}
	out := make([]core.MappingTable, 0, len(byCourier))
	for _, table := range byCourier {
		out = append(out, *table)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CourierID < out[j].CourierID
	})
	return out, nil
}

// SaveTable publishes a new table version. A zero Version takes the next
// free number; an explicit one must be newer than the stored one.
func (s *MappingStore) SaveTable(ctx context.Context, table core.MappingTable) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: mapping store is not configured")
	}
	courierID := strings.TrimSpace(table.CourierID)
	if courierID == "" {
		return fmt.Errorf("sqlstore: mapping courier id is required")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var current int
		err := tx.NewSelect().
			Model((*statusMappingRecord)(nil)).
			ColumnExpr("COALESCE(MAX(version), 0)").
			Where("courier_id = ?", courierID).
			Scan(ctx, &current)
		if err != nil {
			return err
		}
		version := table.Version
		if version == 0 {
			version = current + 1
		}
		if version <= current {
			return fmt.Errorf("sqlstore: mapping version %d for %q is not newer than %d: %w",
				version, courierID, current, core.ErrVersionConflict)
		}
		if len(table.Entries) == 0 {
			return nil
		}
		now := time.Now().UTC()
		records := make([]statusMappingRecord, 0, len(table.Entries))
		for _, entry := range table.Entries {
			records = append(records, statusMappingRecord{
				ID:        uuid.NewString(),
				CourierID: courierID,
				Version:   version,
				Code:      strings.ToUpper(strings.TrimSpace(entry.Code)),
				Status:    string(entry.Status),
				Reason:    string(entry.Reason),
				Permanent: entry.Permanent,
				CreatedAt: now,
			})
		}
		if _, err := tx.NewInsert().Model(&records).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return core.ErrVersionConflict
			}
			return err
		}
		return nil
	})
}
