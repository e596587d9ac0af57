package core

import (
	"context"
	"fmt"
	"sync"

	"shopcore/internal/config"
	"shopcore/internal/infra/persistence/memory"
	"shopcore/internal/infra/persistence/postgres"
	"shopcore/internal/infra/persistence/sqlite"
	"shopcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.DriverMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.DriverSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.DriverPostgres // PostgreSQL server
)

// Opener selects the backend of each environment label from configuration.
// Memory backends outlive registry resets so a reopened context sees the
// writes of the previous one.
type Opener struct {
	cfg *config.Config

	mu     sync.Mutex
	memory map[domain.Label]*memory.Store
}

// NewOpener returns an opener for the backends described by cfg.
func NewOpener(cfg *config.Config) *Opener {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Opener{cfg: cfg, memory: make(map[domain.Label]*memory.Store)}
}

// Open connects the backend configured for label. It satisfies persistence.Opener.
func (o *Opener) Open(ctx context.Context, label domain.Label) (domain.Backend, error) {
	b, ok := o.cfg.Backend(label)
	if !ok {
		return nil, fmt.Errorf("open %s: %w", label, domain.ErrUnknownLabel)
	}
	switch StorageDriver(b.Driver) {
	case StorageMemory:
		return o.memoryStore(label), nil
	case StorageSQLite, "":
		st, err := sqlite.NewStore(ctx, b.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case StoragePostgres:
		st, err := postgres.NewStore(ctx, b.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", b.Driver)
	}
}

func (o *Opener) memoryStore(label domain.Label) *memory.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.memory[label]
	if !ok {
		st = memory.NewStore()
		o.memory[label] = st
		return st
	}
	st.Reopen()
	return st
}
