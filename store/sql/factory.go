package sqlstore

import (
	"fmt"
	"time"

	"github.com/goliatone/go-donations/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithSecretProvider seals continuation tokens before they are written.
func WithSecretProvider(secrets core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = secrets
	}
}

func WithPendingGrantTTL(ttl time.Duration) FactoryOption {
	return func(f *RepositoryFactory) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

type RepositoryFactory struct {
	db      *bun.DB
	secrets core.SecretProvider
	ttl     time.Duration

	pendingGrantStore *PendingGrantStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{ttl: defaultPendingGrantTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.PendingGrantStoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.pendingGrantStore != nil {
		return f, nil
	}
	store, err := NewPendingGrantStore(f.db, f.secrets, f.ttl)
	if err != nil {
		return nil, err
	}
	f.pendingGrantStore = store
	return f, nil
}

func (f *RepositoryFactory) PendingGrantStore() core.PendingGrantStore {
	if f == nil || f.pendingGrantStore == nil {
		return nil
	}
	return f.pendingGrantStore
}

func (f *RepositoryFactory) SQLPendingGrantStore() *PendingGrantStore {
	if f == nil {
		return nil
	}
	return f.pendingGrantStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
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
