package domain

import "testing"

func TestDisplayName(t *testing.T) {
	cases := map[EntityType]string{
		EntityCompany:          "Company",
		EntityReservation:      "Reservation",
		EntityType("line_item"): "LineItem",
		"":                     "Entity",
	}
	for in, want := range cases {
		if got := in.DisplayName(); got != want {
			t.Fatalf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBaseStateTransitions(t *testing.T) {
	c := &Company{}
	if c.Meta().State() != StateTransient || c.Meta().Owner() != "" {
		t.Fatalf("new entity must be transient")
	}
	c.Meta().MarkManaged(Dev)
	if c.Meta().State() != StateManaged || c.Meta().Owner() != Dev {
		t.Fatalf("expected managed by dev")
	}
	c.Meta().MarkDetached()
	if c.Meta().State() != StateTransient {
		t.Fatalf("entity without identity falls back to transient, got %s", c.Meta().State())
	}
	c.ID = "c1"
	c.Meta().MarkManaged(Prod)
	c.Meta().MarkDetached()
	if c.Meta().State() != StateDetached || c.Meta().Owner() != "" {
		t.Fatalf("expected detached, got %s", c.Meta().State())
	}
}

func TestIdentityWithoutContextIsDetached(t *testing.T) {
	c := &Company{Base: Base{ID: "never-persisted"}}
	if c.Meta().State() != StateDetached {
		t.Fatalf("expected detached, got %s", c.Meta().State())
	}
}

func TestEntitiesDeclareLabelCapability(t *testing.T) {
	labeled := []Entity{&Company{}, &Shop{}, &Branch{}, &Product{}}
	for _, e := range labeled {
		if _, ok := e.(HasRequiredLabel); !ok {
			t.Fatalf("%s must declare a required label", e.EntityType())
		}
	}
	unlabeled := []Entity{&Customer{}, &Reservation{}}
	for _, e := range unlabeled {
		if _, ok := e.(HasRequiredLabel); ok {
			t.Fatalf("%s must not declare a required label", e.EntityType())
		}
	}
}

func TestIsNil(t *testing.T) {
	var typed *Company
	if !IsNil(nil) || !IsNil(typed) || IsNil(&Company{}) {
		t.Fatalf("IsNil misclassified input")
	}
}

func TestLabels(t *testing.T) {
	cases := []struct {
		raw  string
		want Label
		ok   bool
	}{
		{"dev", Dev, true},
		{" PROD ", Prod, true},
		{"staging", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseLabel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLabel(%q) = %q,%v", tc.raw, got, ok)
		}
	}
	if DefaultLabel != Prod {
		t.Fatalf("default label must be prod")
	}
	if len(Labels()) != 2 {
		t.Fatalf("expected two labels")
	}
}
