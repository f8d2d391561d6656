package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds every bun-backed store over one database handle.
type RepositoryFactory struct {
	db *bun.DB

	inboundEvents *InboundEventStore
	admissions    *AdmissionLedger
	shipments     *ShipmentStore
	deadLetters   *DeadLetterStore
	ndrs          *NDRStore
	rtos          *RTOStore
	workflows     *WorkflowStore
	mappings      *MappingStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as
// a go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.inboundEvents != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) InboundEvents() *InboundEventStore {
	if f == nil {
		return nil
	}
	return f.inboundEvents
}

func (f *RepositoryFactory) Admissions() *AdmissionLedger {
	if f == nil {
		return nil
	}
	return f.admissions
}

func (f *RepositoryFactory) Shipments() *ShipmentStore {
	if f == nil {
		return nil
	}
	return f.shipments
}

func (f *RepositoryFactory) DeadLetters() *DeadLetterStore {
	if f == nil {
		return nil
	}
	return f.deadLetters
}

func (f *RepositoryFactory) NDRs() *NDRStore {
	if f == nil {
		return nil
	}
	return f.ndrs
}

func (f *RepositoryFactory) RTOs() *RTOStore {
	if f == nil {
		return nil
	}
	return f.rtos
}

func (f *RepositoryFactory) Workflows() *WorkflowStore {
	if f == nil {
		return nil
	}
	return f.workflows
}

func (f *RepositoryFactory) Mappings() *MappingStore {
	if f == nil {
		return nil
	}
	return f.mappings
}

func (f *RepositoryFactory) initStores() error {
	var err error
	if f.inboundEvents, err = NewInboundEventStore(f.db); err != nil {
		return err
	}
	if f.admissions, err = NewAdmissionLedger(f.db); err != nil {
		return err
	}
	if f.shipments, err = NewShipmentStore(f.db); err != nil {
		return err
	}
	if f.deadLetters, err = NewDeadLetterStore(f.db); err != nil {
		return err
	}
	if f.ndrs, err = NewNDRStore(f.db); err != nil {
		return err
	}
	if f.rtos, err = NewRTOStore(f.db); err != nil {
		return err
	}
	if f.workflows, err = NewWorkflowStore(f.db); err != nil {
		return err
	}
	if f.mappings, err = NewMappingStore(f.db); err != nil {
		return err
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
