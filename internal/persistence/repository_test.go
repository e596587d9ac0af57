package persistence

import (
	"context"
	"errors"
	"testing"

	"shopcore/pkg/domain"
)

func seedShops(t *testing.T, reg *Registry, ctx context.Context) (*domain.Company, []*domain.Shop) {
	t.Helper()
	companies := NewRepository[*domain.Company](reg)
	shops := NewRepository[*domain.Shop](reg)
	company := &domain.Company{Label: "Acme"}
	if err := companies.Save(ctx, company, false); err != nil {
		t.Fatalf("save company: %v", err)
	}
	var out []*domain.Shop
	for _, s := range []struct{ label, city string }{{"Lyon Centre", "Lyon"}, {"Paris Nord", "Paris"}, {"Paris Sud", "Paris"}} {
		shop := &domain.Shop{Label: s.label, City: s.city, Company: domain.Loaded(company)}
		if err := shops.Save(ctx, shop, false); err != nil {
			t.Fatalf("save shop: %v", err)
		}
		out = append(out, shop)
	}
	if err := shops.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return company, out
}

func TestRepositoryCRUD(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := devCtx()
	repo := NewRepository[*domain.Company](reg)
	if repo.Type() != domain.EntityCompany {
		t.Fatalf("unexpected type %s", repo.Type())
	}

	company := &domain.Company{Label: "Acme"}
	if err := repo.Save(ctx, company, true); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.FindByID(ctx, company.ID)
	if err != nil || got != company {
		t.Fatalf("FindByID must return the managed instance, got %v err=%v", got, err)
	}
	missing, err := repo.FindByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing entity must yield nil, got %v err=%v", missing, err)
	}
	if err := repo.Remove(ctx, company, true); err != nil {
		t.Fatalf("remove: %v", err)
	}
	all, err := repo.FindAll(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty repository, got %d err=%v", len(all), err)
	}
}

func TestRepositoryUnflushedInsertsAreInvisible(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := devCtx()
	repo := NewRepository[*domain.Company](reg)
	if err := repo.Save(ctx, &domain.Company{Label: "Staged"}, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	n, err := repo.Count(ctx, nil)
	if err != nil || n != 0 {
		t.Fatalf("staged insert must not be visible, count=%d err=%v", n, err)
	}
	if err := repo.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n, _ := repo.Count(ctx, nil); n != 1 {
		t.Fatalf("expected 1 after flush, got %d", n)
	}
}

func TestRepositoryFindByCriteriaAndOrdering(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := devCtx()
	company, _ := seedShops(t, reg, ctx)
	shops := NewRepository[*domain.Shop](reg)

	paris, err := shops.FindBy(ctx, Criteria{"city": "Paris"}, OrderBy("label", Desc))
	if err != nil {
		t.Fatalf("find by: %v", err)
	}
	if len(paris) != 2 || paris[0].Label != "Paris Sud" || paris[1].Label != "Paris Nord" {
		t.Fatalf("unexpected paris shops %+v", paris)
	}

	byCompany, err := shops.FindBy(ctx, Criteria{"company": company}, OrderBy("label", Asc), Offset(1), Limit(1))
	if err != nil {
		t.Fatalf("find by relation: %v", err)
	}
	if len(byCompany) != 1 || byCompany[0].Label != "Paris Nord" {
		t.Fatalf("unexpected paged result %+v", byCompany)
	}

	n, err := shops.Count(ctx, Criteria{"company_id": company.ID, "city": "Lyon"})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 Lyon shop, got %d err=%v", n, err)
	}
	if _, err := shops.FindBy(ctx, Criteria{"colour": "red"}); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if out, _ := shops.FindBy(ctx, nil, Offset(10)); len(out) != 0 {
		t.Fatalf("offset past the end must be empty")
	}
}

func TestRepositoryNumericCriteria(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := devCtx()
	products := NewRepository[*domain.Product](reg)
	for i, stock := range []int{5, 0, 12} {
		p := &domain.Product{Label: "P", SKU: string(rune('A' + i)), Stock: stock}
		if err := products.Save(ctx, p, false); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := products.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out, err := products.FindBy(ctx, Criteria{"stock": 0})
	if err != nil || len(out) != 1 || out[0].SKU != "B" {
		t.Fatalf("unexpected numeric match %+v err=%v", out, err)
	}
	sorted, _ := products.FindBy(ctx, nil, OrderBy("stock", Desc))
	if sorted[0].Stock != 12 || sorted[2].Stock != 0 {
		t.Fatalf("unexpected numeric ordering")
	}
}

func TestRepositorySaveRejectsDetached(t *testing.T) {
	reg, _ := newTestRegistry(t)
	repo := NewRepository[*domain.Company](reg)
	err := repo.Save(devCtx(), &domain.Company{Base: domain.Base{ID: "x"}}, true)
	if !errors.Is(err, ErrDetached) {
		t.Fatalf("expected ErrDetached, got %v", err)
	}
}

func TestRepositoryIsolatesInterleavedEnvironments(t *testing.T) {
	reg, _ := newTestRegistry(t)
	repo := NewRepository[*domain.Company](reg)
	if err := repo.Save(devCtx(), &domain.Company{Label: "Dev Co"}, true); err != nil {
		t.Fatalf("save dev: %v", err)
	}
	if err := repo.Save(prodCtx(), &domain.Company{Label: "Prod Co"}, true); err != nil {
		t.Fatalf("save prod: %v", err)
	}

	devAll, err := repo.FindAll(devCtx())
	if err != nil || len(devAll) != 1 || devAll[0].Label != "Dev Co" {
		t.Fatalf("dev must only see its own data: %+v err=%v", devAll, err)
	}
	prodAll, err := repo.FindAll(prodCtx())
	if err != nil || len(prodAll) != 1 || prodAll[0].Label != "Prod Co" {
		t.Fatalf("prod must only see its own data: %+v err=%v", prodAll, err)
	}

	devContext, _ := reg.Peek(domain.Dev)
	if devContext.Contains(prodAll[0]) {
		t.Fatalf("prod entity must not be managed by dev")
	}
	if prodAll[0].Meta().Owner() != domain.Prod {
		t.Fatalf("expected prod ownership, got %q", prodAll[0].Meta().Owner())
	}
	if devAll[0].Meta().State() != domain.StateDetached {
		t.Fatalf("dev entity must be detached once prod is active")
	}
}

func TestRepositoryContextErrorPropagates(t *testing.T) {
	reg, backends := newTestRegistry(t)
	backends.fail[domain.Dev] = errors.New("unreachable")
	_, err := NewRepository[*domain.Company](reg).FindAll(devCtx())
	var ce *domain.ContextError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ContextError, got %v", err)
	}
}
