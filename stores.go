package couriersync

import (
	"fmt"

	"github.com/goliatone/go-courier-sync/core"
	memstore "github.com/goliatone/go-courier-sync/store/memory"
	sqlstore "github.com/goliatone/go-courier-sync/store/sql"
)

// Stores bundles the persistence contracts the pipeline runs on. Mappings
// is optional; the rest are required.
type Stores struct {
	InboundEvents core.InboundEventStore
	Admissions    core.AdmissionLedger
	Shipments     core.ShipmentStore
	DeadLetters   core.DeadLetterStore
	NDRs          core.NDRStore
	RTOs          core.RTOStore
	Workflows     core.WorkflowStore
	Mappings      core.MappingStore
}

func MemoryStores(store *memstore.Store) Stores {
	if store == nil {
		store = memstore.New()
	}
	return Stores{
		InboundEvents: store.InboundEvents,
		Admissions:    store.Admissions,
		Shipments:     store.Shipments,
		DeadLetters:   store.DeadLetters,
		NDRs:          store.NDRs,
		RTOs:          store.RTOs,
		Workflows:     store.Workflows,
		Mappings:      store.Mappings,
	}
}

func SQLStores(factory *sqlstore.RepositoryFactory) (Stores, error) {
	if factory == nil || factory.DB() == nil {
		return Stores{}, fmt.Errorf("couriersync: repository factory is not built")
	}
	return Stores{
		InboundEvents: factory.InboundEvents(),
		Admissions:    factory.Admissions(),
		Shipments:     factory.Shipments(),
		DeadLetters:   factory.DeadLetters(),
		NDRs:          factory.NDRs(),
		RTOs:          factory.RTOs(),
		Workflows:     factory.Workflows(),
		Mappings:      factory.Mappings(),
	}, nil
}

func (s Stores) validate() error {
	missing := ""
	switch {
	case s.InboundEvents == nil:
		missing = "inbound event store"
	case s.Admissions == nil:
		missing = "admission ledger"
	case s.Shipments == nil:
		missing = "shipment store"
	case s.DeadLetters == nil:
		missing = "dead-letter store"
	case s.NDRs == nil:
		missing = "ndr store"
	case s.RTOs == nil:
		missing = "rto store"
	case s.Workflows == nil:
		missing = "workflow store"
	}
	if missing != "" {
		return fmt.Errorf("couriersync: %s is required", missing)
	}
	return nil
}
