package validation

import (
	"context"
	"errors"
	"testing"

	"shopcore/internal/environment"
	"shopcore/internal/infra/persistence/memory"
	"shopcore/internal/persistence"
	"shopcore/pkg/domain"
)

type fixture struct {
	reg       *persistence.Registry
	lifecycle *persistence.LifecycleManager
	stores    map[domain.Label]*memory.Store
	failOpen  map[domain.Label]error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		stores: map[domain.Label]*memory.Store{
			domain.Dev:  memory.NewStore(),
			domain.Prod: memory.NewStore(),
		},
		failOpen: make(map[domain.Label]error),
	}
	f.reg = persistence.NewRegistry(func(_ context.Context, label domain.Label) (domain.Backend, error) {
		if err := f.failOpen[label]; err != nil {
			return nil, err
		}
		s := f.stores[label]
		s.Reopen()
		return s, nil
	})
	f.lifecycle = persistence.NewLifecycleManager(f.reg, nil)
	t.Cleanup(func() { _ = f.reg.Close() })
	return f
}

func devCtx() context.Context  { return environment.WithLabel(context.Background(), domain.Dev) }
func prodCtx() context.Context { return environment.WithLabel(context.Background(), domain.Prod) }

// seed stores e directly in the backend for label and returns it with its identity set.
func (f *fixture) seed(t *testing.T, label domain.Label, e domain.Entity) {
	t.Helper()
	rec, err := domain.Encode(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.stores[label].Apply(context.Background(), []domain.Mutation{{Action: domain.ActionCreate, Record: rec}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) validate(t *testing.T, ctx context.Context, root domain.Entity, opts ...Option) domain.ValidationResult {
	t.Helper()
	res, err := NewCascadeValidator(f.lifecycle, opts...).ValidateCascadeOperations(ctx, root)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return res
}

func rulesOf(res domain.ValidationResult, severity domain.Severity) []string {
	var out []string
	for _, v := range res.Violations {
		if v.Severity == severity {
			out = append(out, v.Rule)
		}
	}
	return out
}

var errBoom = errors.New("boom")
