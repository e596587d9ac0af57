package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"shopcore/pkg/domain"
)

func company(id, label string) domain.Record {
	return domain.Record{
		Type:   domain.EntityCompany,
		ID:     id,
		Fields: map[string]json.RawMessage{"id": json.RawMessage(`"` + id + `"`), "label": json.RawMessage(`"` + label + `"`)},
	}
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(ctx, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := store.Apply(ctx, []domain.Mutation{
		{Action: domain.ActionCreate, Record: company("c1", "Acme")},
		{Action: domain.ActionCreate, Record: company("c2", "Globex")},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := store.Apply(ctx, []domain.Mutation{{Action: domain.ActionDelete, Record: domain.Record{Type: domain.EntityCompany, ID: "c2"}}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	list, err := reloaded.List(ctx, domain.EntityCompany)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "c1" || string(list[0].Fields["label"]) != `"Acme"` {
		t.Fatalf("unexpected reloaded records %+v", list)
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreImportReplacesBuckets(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(ctx, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := store.Apply(ctx, []domain.Mutation{{Action: domain.ActionCreate, Record: company("c1", "Acme")}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	shop := domain.Record{Type: domain.EntityShop, ID: "s1", Fields: map[string]json.RawMessage{"label": json.RawMessage(`"Main"`)}}
	if err := store.Import(ctx, domain.Snapshot{domain.EntityShop: {"s1": shop}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	var buckets int
	if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM state`).Scan(&buckets); err != nil {
		t.Fatalf("count: %v", err)
	}
	if buckets != 1 {
		t.Fatalf("expected only the imported bucket, got %d", buckets)
	}
	_ = store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}
