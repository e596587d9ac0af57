package validation

import (
	"reflect"
	"testing"

	"shopcore/pkg/domain"
)

func TestValidateRequiredFields(t *testing.T) {
	v := NewEntityValidator()
	var nilCompany *domain.Company
	cases := []struct {
		name   string
		entity domain.Entity
		errors []string
	}{
		{"nil", nil, nil},
		{"typed nil", nilCompany, nil},
		{"labelled", &domain.Company{Label: "Acme"}, nil},
		{"blank company", &domain.Company{Label: "   "}, []string{"label is required for Company"}},
		{"empty shop", &domain.Shop{}, []string{"label is required for Shop"}},
		{"empty branch", &domain.Branch{Label: "\t"}, []string{"label is required for Branch"}},
		{"empty product", &domain.Product{}, []string{"label is required for Product"}},
		{"customer has no label", &domain.Customer{}, nil},
		{"reservation has no label", &domain.Reservation{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.ValidateRequiredFields(tc.entity)
			if got := res.Errors(); !reflect.DeepEqual(got, tc.errors) {
				t.Fatalf("errors = %v, want %v", got, tc.errors)
			}
			if res.IsValid() != (len(tc.errors) == 0) {
				t.Fatalf("IsValid mismatch")
			}
			for _, viol := range res.Violations {
				if viol.Rule != RuleRequiredFields {
					t.Fatalf("unexpected rule %q", viol.Rule)
				}
			}
		})
	}
}

func TestValidateForPersistenceWalksGraph(t *testing.T) {
	v := NewEntityValidator()
	company := &domain.Company{Label: " "}
	shop := &domain.Shop{Company: domain.Loaded(company)}
	customer := &domain.Customer{
		FirstName: "Ada",
		Company:   domain.Loaded(company),
		Shop:      domain.Loaded(shop),
	}

	res := v.ValidateForPersistence(customer)
	want := []string{"label is required for Company", "label is required for Shop"}
	if got := res.Errors(); !reflect.DeepEqual(got, want) {
		t.Fatalf("errors = %v, want %v", got, want)
	}
}

func TestValidateForPersistenceSkipsNullAndUnloadedRelations(t *testing.T) {
	v := NewEntityValidator()
	shop := &domain.Shop{Label: "Main", Company: domain.Unloaded[*domain.Company]("c-1", nil)}
	customer := &domain.Customer{Shop: domain.Loaded(shop)}
	if res := v.ValidateForPersistence(customer); !res.IsValid() {
		t.Fatalf("unexpected errors %v", res.Errors())
	}
	if res := v.ValidateForPersistence(nil); len(res.Violations) != 0 {
		t.Fatalf("nil graph must be valid")
	}
}

func TestValidateForPersistenceIsPure(t *testing.T) {
	v := NewEntityValidator()
	company := &domain.Company{Label: ""}
	shop := &domain.Shop{Label: "Main", Company: domain.Loaded(company)}
	before, _ := domain.Encode(shop)

	first := v.ValidateForPersistence(shop)
	second := v.ValidateForPersistence(shop)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated validation differs: %v vs %v", first, second)
	}
	after, _ := domain.Encode(shop)
	if !before.Equal(after) {
		t.Fatalf("validation mutated the entity")
	}
	if company.Meta().State() != domain.StateTransient {
		t.Fatalf("validation changed lifecycle state")
	}
}
