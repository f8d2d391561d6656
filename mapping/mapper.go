package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

var ErrStaleTable = errors.New("mapping: table version is not newer than the active one")

// Result is the outcome of one lookup. Status is core.StatusUnmapped when
// the courier or code is unknown.
type Result struct {
	CourierID   string
	CourierCode string
	Status      core.CanonicalStatus
	Reason      core.NDRReason
	Permanent   bool
	Version     int
}

func (r Result) Unmapped() bool {
	return r.Status == core.StatusUnmapped
}

type compiledTable struct {
	version int
	entries map[string]core.MappingEntry
}

type Mapper struct {
	mu      sync.RWMutex
	tables  map[string]compiledTable
	sources []core.MappingSource
	obs     core.Observer
}

type Option func(*Mapper)

func WithSources(sources ...core.MappingSource) Option {
	return func(m *Mapper) {
		for _, source := range sources {
			if source != nil {
				m.sources = append(m.sources, source)
			}
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(m *Mapper) {
		m.obs = observer
	}
}

func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{tables: map[string]compiledTable{}}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// MapToCanonical is a pure lookup against the active table for courierID.
func (m *Mapper) MapToCanonical(courierID string, courierCode string) Result {
	result := Result{
		CourierID:   strings.TrimSpace(courierID),
		CourierCode: courierCode,
		Status:      core.StatusUnmapped,
	}
	if m == nil {
		return result
	}
	m.mu.RLock()
	table, ok := m.tables[result.CourierID]
	m.mu.RUnlock()
	if !ok {
		return result
	}
	result.Version = table.version
	entry, ok := table.entries[normalizeCode(courierCode)]
	if !ok {
		return result
	}
	result.Status = entry.Status
	result.Permanent = entry.Permanent
	if entry.Status == core.StatusDeliveryFailed {
		result.Reason = entry.Reason
		if result.Reason == "" {
			result.Reason = core.NDRReasonOther
		}
	}
	return result
}

func (m *Mapper) Version(courierID string) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tables[strings.TrimSpace(courierID)].version
}

// Replace activates table if it is newer than the active one for its courier.
func (m *Mapper) Replace(table core.MappingTable) error {
	compiled, err := compile(table)
	if err != nil {
		return err
	}
	courierID := strings.TrimSpace(table.CourierID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.tables[courierID]; ok && current.version >= compiled.version {
		return fmt.Errorf("%w: %s v%d <= v%d", ErrStaleTable, courierID, compiled.version, current.version)
	}
	m.tables[courierID] = compiled
	return nil
}

// ReplaceAll validates every table before swapping any of them in; per
// courier the highest version wins.
func (m *Mapper) ReplaceAll(tables []core.MappingTable) (int, error) {
	next := map[string]compiledTable{}
	for _, table := range tables {
		compiled, err := compile(table)
		if err != nil {
			return 0, err
		}
		courierID := strings.TrimSpace(table.CourierID)
		if existing, ok := next[courierID]; ok && existing.version >= compiled.version {
			continue
		}
		next[courierID] = compiled
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	swapped := 0
	merged := make(map[string]compiledTable, len(m.tables)+len(next))
	for courierID, table := range m.tables {
		merged[courierID] = table
	}
	for courierID, table := range next {
		if current, ok := merged[courierID]; ok && current.version >= table.version {
			continue
		}
		merged[courierID] = table
		swapped++
	}
	m.tables = merged
	return swapped, nil
}

// Refresh reloads tables from the configured sources.
func (m *Mapper) Refresh(ctx context.Context) error {
	if m == nil {
		return nil
	}
	startedAt := time.Now()
	tables := make([]core.MappingTable, 0)
	for _, source := range m.sources {
		loaded, err := source.LoadTables(ctx)
		if err != nil {
			m.obs.Observe(ctx, startedAt, "mapping_refresh", err, nil)
			return fmt.Errorf("mapping: load tables: %w", err)
		}
		tables = append(tables, loaded...)
	}
	swapped, err := m.ReplaceAll(tables)
	m.obs.Observe(ctx, startedAt, "mapping_refresh", err, map[string]any{
		"tables":  len(tables),
		"swapped": swapped,
	})
	return err
}

func compile(table core.MappingTable) (compiledTable, error) {
	courierID := strings.TrimSpace(table.CourierID)
	if courierID == "" {
		return compiledTable{}, fmt.Errorf("mapping: courier id is required")
	}
	if table.Version <= 0 {
		return compiledTable{}, fmt.Errorf("mapping: %s version must be positive", courierID)
	}
	entries := make(map[string]core.MappingEntry, len(table.Entries))
	for _, entry := range table.Entries {
		code := normalizeCode(entry.Code)
		if code == "" {
			return compiledTable{}, fmt.Errorf("mapping: %s v%d has an empty code", courierID, table.Version)
		}
		if _, dup := entries[code]; dup {
			return compiledTable{}, fmt.Errorf("mapping: %s v%d maps code %q twice", courierID, table.Version, code)
		}
		if !entry.Status.Valid() {
			return compiledTable{}, fmt.Errorf("mapping: %s v%d code %q: %w: %q",
				courierID, table.Version, code, core.ErrUnknownCanonicalStatus, entry.Status)
		}
		if entry.Status != core.StatusDeliveryFailed && (entry.Reason != "" || entry.Permanent) {
			return compiledTable{}, fmt.Errorf("mapping: %s v%d code %q: reason and permanent apply to delivery_failed only",
				courierID, table.Version, code)
		}
		entries[code] = entry
	}
	return compiledTable{version: table.Version, entries: entries}, nil
}
