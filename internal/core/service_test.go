package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shopcore/internal/config"
	"shopcore/internal/environment"
	"shopcore/internal/infra/persistence/memory"
	"shopcore/internal/validation"
	"shopcore/pkg/domain"
)

var errBoom = errors.New("boom")

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Dev = config.Backend{Driver: config.DriverMemory}
	cfg.Prod = config.Backend{Driver: config.DriverMemory}
	return cfg
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), memoryConfig(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func devCtx() context.Context  { return environment.WithLabel(context.Background(), domain.Dev) }
func prodCtx() context.Context { return environment.WithLabel(context.Background(), domain.Prod) }

func shopGraph(label string) (*domain.Shop, *domain.Company) {
	company := &domain.Company{Label: "Acme", Siret: "123"}
	shop := &domain.Shop{Label: label, City: "Lyon", Company: domain.Loaded(company)}
	return shop, company
}

func TestSaveGraphPersistsEveryNode(t *testing.T) {
	svc := newTestService(t)
	shop, company := shopGraph("Main")

	saved, res, err := svc.SaveGraph(devCtx(), shop, true)
	if err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}
	if !res.IsValid() {
		t.Fatalf("expected valid result, got %v", res.Errors())
	}
	if saved != domain.Entity(shop) {
		t.Fatalf("transient root should be saved in place")
	}
	if shop.ID == "" || company.ID == "" {
		t.Fatalf("expected identities after flush, shop=%q company=%q", shop.ID, company.ID)
	}

	companies, err := RepositoryFor[*domain.Company](svc).FindAll(devCtx())
	if err != nil || len(companies) != 1 || companies[0].ID != company.ID {
		t.Fatalf("expected the company in dev, got %v err=%v", companies, err)
	}
	prodShops, err := RepositoryFor[*domain.Shop](svc).FindAll(prodCtx())
	if err != nil || len(prodShops) != 0 {
		t.Fatalf("prod must stay untouched, got %v err=%v", prodShops, err)
	}
}

func TestSaveGraphBlocksInvalidGraph(t *testing.T) {
	svc := newTestService(t)
	shop, company := shopGraph("  ")

	saved, res, err := svc.SaveGraph(devCtx(), shop, true)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if saved != nil || res.IsValid() || len(verr.Result.Errors()) == 0 {
		t.Fatalf("unexpected outcome saved=%v result=%+v", saved, res)
	}
	c, ok := svc.Registry().Peek(domain.Dev)
	if !ok {
		t.Fatalf("validation should have opened dev")
	}
	if c.Contains(shop) || c.Contains(company) {
		t.Fatalf("blocked graph must not be staged")
	}
	n, err := RepositoryFor[*domain.Company](svc).Count(devCtx(), nil)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing stored, got %d err=%v", n, err)
	}
}

func TestSaveGraphWithoutFlushStages(t *testing.T) {
	svc := newTestService(t)
	shop, company := shopGraph("Main")
	ctx := devCtx()

	if _, _, err := svc.SaveGraph(ctx, shop, false); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}
	c, _ := svc.Registry().Current(ctx)
	if !c.Contains(shop) || !c.Contains(company) || shop.ID != "" {
		t.Fatalf("expected staged inserts without identity")
	}
	if err := RepositoryFor[*domain.Shop](svc).Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if shop.ID == "" || company.ID == "" {
		t.Fatalf("expected identities after explicit flush")
	}
}

func TestSaveGraphFlushFailureDiscards(t *testing.T) {
	failing := memory.NewStore(memory.WithCommitHook(func(context.Context, domain.Snapshot) error { return errBoom }))
	svc := newTestService(t, WithOpener(func(context.Context, domain.Label) (domain.Backend, error) {
		return failing, nil
	}))
	shop, company := shopGraph("Main")
	ctx := devCtx()

	_, _, err := svc.SaveGraph(ctx, shop, true)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if shop.ID != "" || company.ID != "" {
		t.Fatalf("identities must be withdrawn, shop=%q company=%q", shop.ID, company.ID)
	}
	c, _ := svc.Registry().Current(ctx)
	if c.Contains(shop) || c.Contains(company) {
		t.Fatalf("failed save must be discarded")
	}
}

func TestSaveGraphBackendUnavailable(t *testing.T) {
	svc := newTestService(t, WithOpener(func(context.Context, domain.Label) (domain.Backend, error) {
		return nil, errBoom
	}))
	shop, _ := shopGraph("Main")

	_, _, err := svc.SaveGraph(devCtx(), shop, true)
	var cerr *domain.ContextError
	if !errors.As(err, &cerr) || cerr.Label != domain.Dev || !errors.Is(err, errBoom) {
		t.Fatalf("expected dev context error, got %v", err)
	}
}

func TestSaveGraphNilRoot(t *testing.T) {
	svc := newTestService(t)
	var shop *domain.Shop
	saved, res, err := svc.SaveGraph(devCtx(), shop, true)
	if err != nil || saved != nil || !res.IsValid() {
		t.Fatalf("nil root should be a no-op, saved=%v res=%+v err=%v", saved, res, err)
	}
	if _, ok := svc.Registry().Peek(domain.Dev); ok {
		t.Fatalf("nil root must not open a context")
	}
}

func TestSaveGraphMergesDetachedAcrossEnvironments(t *testing.T) {
	svc := newTestService(t)
	shop, company := shopGraph("Main")
	if _, _, err := svc.SaveGraph(prodCtx(), shop, true); err != nil {
		t.Fatalf("seed prod: %v", err)
	}

	// Switching to dev detaches the prod instances; saving them copies the graph.
	saved, res, err := svc.SaveGraph(devCtx(), shop, true)
	if err != nil {
		t.Fatalf("SaveGraph dev: %v", err)
	}
	if len(res.Warnings()) == 0 {
		t.Fatalf("expected merge warnings, got none")
	}
	if saved == domain.Entity(shop) {
		t.Fatalf("detached root should be replaced by the dev instance")
	}
	if saved.Meta().ID != shop.ID || saved.Meta().Owner() != domain.Dev {
		t.Fatalf("expected dev copy with the same identity, got %s owned by %q", saved.Meta().ID, saved.Meta().Owner())
	}
	got, err := RepositoryFor[*domain.Company](svc).FindByID(devCtx(), company.ID)
	if err != nil || got == nil || got.Label != "Acme" {
		t.Fatalf("expected company copied to dev, got %v err=%v", got, err)
	}
}

func TestSaveGraphIdenticalDetachedCopiesInsertOnce(t *testing.T) {
	svc := newTestService(t)
	company := &domain.Company{Label: "Acme", Siret: "123"}
	if _, _, err := svc.SaveGraph(prodCtx(), company, true); err != nil {
		t.Fatalf("seed prod: %v", err)
	}
	copyOf := func() *domain.Company {
		c := &domain.Company{}
		if err := domain.CopyFields(c, company); err != nil {
			t.Fatalf("copy: %v", err)
		}
		return c
	}
	shop := &domain.Shop{Label: "Main", City: "Lyon", Company: domain.Loaded(copyOf())}
	customer := &domain.Customer{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Company:   domain.Loaded(copyOf()),
		Shop:      domain.Loaded(shop),
	}

	_, res, err := svc.SaveGraph(devCtx(), customer, true)
	if err != nil {
		t.Fatalf("SaveGraph: %v (result %v)", err, res.Errors())
	}
	if len(res.Warnings()) == 0 {
		t.Fatalf("expected merge warnings for the detached copies")
	}
	viaCustomer, _ := customer.Company.Get()
	viaShop, _ := shop.Company.Get()
	if viaCustomer == nil || viaCustomer != viaShop {
		t.Fatalf("both references must point at one dev instance")
	}
	n, err := RepositoryFor[*domain.Company](svc).Count(devCtx(), nil)
	if err != nil || n != 1 {
		t.Fatalf("expected one company in dev, got %d err=%v", n, err)
	}
}

func TestBindResolvesRequest(t *testing.T) {
	svc := newTestService(t)
	ctx, label := svc.Bind(context.Background(), environment.NewRequest("", "dev", ""))
	if label != domain.Dev {
		t.Fatalf("expected dev, got %s", label)
	}
	if got, ok := environment.LabelFrom(ctx); !ok || got != domain.Dev {
		t.Fatalf("expected dev label in context, got %q", got)
	}
	_, label = svc.Bind(context.Background(), environment.NewRequest("staging", "", ""))
	if label != domain.Prod {
		t.Fatalf("unknown values should fall back to prod, got %s", label)
	}
}

func TestNewServiceUsesConfiguredDefault(t *testing.T) {
	cfg := memoryConfig()
	cfg.DefaultEnv = "dev"
	svc, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer func() { _ = svc.Close() }()
	if got := svc.Resolver().Resolve(context.Background(), environment.NewRequest("", "", "")); got != domain.Dev {
		t.Fatalf("expected configured default dev, got %s", got)
	}
	if svc.Config() != cfg || svc.Lifecycle().Registry() != svc.Registry() {
		t.Fatalf("accessors must expose the wired components")
	}
	want := []string{validation.RuleRequiredFields, validation.RuleRelatedState, validation.RuleSameContext}
	if got := svc.Validator().Rules(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected rules %v", got)
	}
}

func TestNewServiceRejectsUnknownSessionDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Session.Driver = "memcached"
	if _, err := NewService(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "unknown session driver") {
		t.Fatalf("expected session driver error, got %v", err)
	}
}
