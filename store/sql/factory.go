package sqlstore

import (
	"fmt"

	"github.com/uptrace/bun"
)

// StoreFactory builds every SQL-backed store over a shared bun handle
// so callers wire persistence once and pull stores by concern.
type StoreFactory struct {
	db *bun.DB

	entityStore   *EntityStore
	taskStore     *TaskStore
	deliveryStore *DeliveryStore
	dispatchStore *DispatchStore
	rateStore     *RateLimitStateStore
}

func NewStoreFactory(persistenceClient any) (*StoreFactory, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	factory := &StoreFactory{db: db}
	if err := factory.initStores(); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *StoreFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *StoreFactory) EntityStore() *EntityStore {
	if f == nil {
		return nil
	}
	return f.entityStore
}

func (f *StoreFactory) TaskStore() *TaskStore {
	if f == nil {
		return nil
	}
	return f.taskStore
}

func (f *StoreFactory) DeliveryStore() *DeliveryStore {
	if f == nil {
		return nil
	}
	return f.deliveryStore
}

func (f *StoreFactory) DispatchStore() *DispatchStore {
	if f == nil {
		return nil
	}
	return f.dispatchStore
}

func (f *StoreFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateStore
}

func (f *StoreFactory) initStores() error {
	entityStore, err := NewEntityStore(f.db)
	if err != nil {
		return err
	}
	f.entityStore = entityStore

	taskStore, err := NewTaskStore(f.db)
	if err != nil {
		return err
	}
	f.taskStore = taskStore

	deliveryStore, err := NewDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryStore = deliveryStore

	dispatchStore, err := NewDispatchStore(f.db)
	if err != nil {
		return err
	}
	f.dispatchStore = dispatchStore

	rateStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateStore = rateStore

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
