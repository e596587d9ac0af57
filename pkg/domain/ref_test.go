package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestRefStates(t *testing.T) {
	var null Ref[*Company]
	if !null.IsNull() || null.IsLoaded() || null.State() != StateTransient {
		t.Fatalf("zero ref must be null")
	}
	company := &Company{Label: "Acme"}
	loaded := Loaded(company)
	if loaded.IsNull() || !loaded.IsLoaded() || loaded.ID() != "" {
		t.Fatalf("loaded transient target has no identity yet: %+v", loaded)
	}
	company.ID = "c1"
	if loaded.ID() != "c1" {
		t.Fatalf("loaded ref must read the live target identity")
	}
	stub := Unloaded[*Company]("c2", nil)
	if stub.IsLoaded() || stub.State() != StateProxy || stub.ID() != "c2" {
		t.Fatalf("unexpected unloaded ref %+v", stub)
	}
	if !Unloaded[*Company]("", nil).IsNull() {
		t.Fatalf("empty identity must yield a null ref")
	}
	var typedNil *Company
	if !Loaded(typedNil).IsNull() {
		t.Fatalf("nil target must yield a null ref")
	}
}

func TestRefResolve(t *testing.T) {
	calls := 0
	ref := Unloaded[*Company]("c1", func(_ context.Context, id string) (*Company, error) {
		calls++
		return &Company{Base: Base{ID: id}, Label: "Loaded"}, nil
	})
	got, err := ref.Resolve(context.Background())
	mustNoError(t, "resolve", err)
	if got.Label != "Loaded" || !ref.IsLoaded() {
		t.Fatalf("expected ref to hold loaded target")
	}
	if _, err := ref.Resolve(context.Background()); err != nil || calls != 1 {
		t.Fatalf("second resolve must reuse the target, calls=%d err=%v", calls, err)
	}

	orphan := Unloaded[*Company]("c9", nil)
	if _, err := orphan.Resolve(context.Background()); !errors.Is(err, ErrNoLoader) {
		t.Fatalf("expected ErrNoLoader, got %v", err)
	}
}

func TestRefJSONKeepsMatchingLoadedTarget(t *testing.T) {
	company := &Company{Base: Base{ID: "c1"}}
	ref := Loaded(company)
	mustNoError(t, "same id", json.Unmarshal([]byte(`"c1"`), &ref))
	if target, ok := ref.Get(); !ok || target != company {
		t.Fatalf("matching identity must keep the loaded target")
	}
	mustNoError(t, "other id", json.Unmarshal([]byte(`"c2"`), &ref))
	if ref.IsLoaded() || ref.ID() != "c2" {
		t.Fatalf("different identity must become an unloaded ref")
	}
	mustNoError(t, "null", json.Unmarshal([]byte(`null`), &ref))
	if !ref.IsNull() {
		t.Fatalf("null must clear the ref")
	}
	if err := json.Unmarshal([]byte(`42`), &ref); err == nil {
		t.Fatalf("expected error for non-string identity")
	}
}

func TestRelationSlotBindAndLoader(t *testing.T) {
	shop := &Shop{Company: Unloaded[*Company]("c1", nil)}
	slot := shop.Relations()[0].Slot
	if slot.TargetType() != EntityCompany || slot.TargetID() != "c1" {
		t.Fatalf("unexpected slot %s/%s", slot.TargetType(), slot.TargetID())
	}
	slot.SetLoader(func(_ context.Context, et EntityType, id string) (Entity, error) {
		return &Company{Base: Base{ID: id}, Label: string(et)}, nil
	})
	company, err := shop.Company.Resolve(context.Background())
	mustNoError(t, "resolve via erased loader", err)
	if company.Label != string(EntityCompany) {
		t.Fatalf("loader received wrong type %q", company.Label)
	}

	other := &Company{Base: Base{ID: "c2"}}
	mustNoError(t, "bind", slot.Bind(other))
	if target, ok := slot.Target(); !ok || target != other {
		t.Fatalf("bind must swap the target")
	}
	if err := slot.Bind(&Shop{}); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	mustNoError(t, "bind nil", slot.Bind(nil))
	if !slot.IsNull() {
		t.Fatalf("binding nil must clear the slot")
	}
}
