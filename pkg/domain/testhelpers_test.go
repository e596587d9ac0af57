package domain

import "testing"

// mustNoError simplifies tests that expect helper methods to succeed.
func mustNoError(t *testing.T, label string, err error) {
	t.Helper()
	if err != nil {
		if label == "" {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Fatalf("%s: %v", label, err)
	}
}

func sampleGraph() (*Customer, *Shop, *Company) {
	company := &Company{Label: "Acme"}
	shop := &Shop{Label: "Acme Paris", City: "Paris", Company: Loaded(company)}
	customer := &Customer{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Company:   Loaded(company),
		Shop:      Loaded(shop),
	}
	return customer, shop, company
}
