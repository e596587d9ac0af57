package persistence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"shopcore/internal/environment"
	"shopcore/internal/infra/persistence/memory"
	"shopcore/pkg/domain"
)

type testBackends struct {
	mu     sync.Mutex
	stores map[domain.Label]*memory.Store
	opens  atomic.Int32
	fail   map[domain.Label]error
}

func newTestBackends() *testBackends {
	return &testBackends{
		stores: map[domain.Label]*memory.Store{
			domain.Dev:  memory.NewStore(),
			domain.Prod: memory.NewStore(),
		},
		fail: make(map[domain.Label]error),
	}
}

func (b *testBackends) open(_ context.Context, label domain.Label) (domain.Backend, error) {
	b.opens.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[label]; err != nil {
		return nil, err
	}
	s := b.stores[label]
	s.Reopen()
	return s, nil
}

func newTestRegistry(t *testing.T) (*Registry, *testBackends) {
	t.Helper()
	backends := newTestBackends()
	reg := NewRegistry(backends.open)
	t.Cleanup(func() { _ = reg.Close() })
	return reg, backends
}

func devCtx() context.Context  { return environment.WithLabel(context.Background(), domain.Dev) }
func prodCtx() context.Context { return environment.WithLabel(context.Background(), domain.Prod) }

func mustContext(t *testing.T, reg *Registry, label domain.Label) *Context {
	t.Helper()
	c, err := reg.Context(context.Background(), label)
	if err != nil {
		t.Fatalf("context %s: %v", label, err)
	}
	return c
}

// seedCompany stores a company through a throwaway context and returns its identity.
func seedCompany(t *testing.T, backend domain.Backend, label string) string {
	t.Helper()
	c := newContext(domain.Prod, backend, domain.DefaultSchema(), discardLogger(), nopObserver{})
	company := &domain.Company{Label: label, Siret: "123"}
	if err := c.Persist(company); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return company.ID
}

// failingBackend rejects Apply while fail is set.
type failingBackend struct {
	*memory.Store
	fail bool
}

func (f *failingBackend) Apply(ctx context.Context, m []domain.Mutation) error {
	if f.fail {
		return errors.New("write rejected")
	}
	return f.Store.Apply(ctx, m)
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }
