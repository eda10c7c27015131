package normalize_test

import (
	"testing"

	"orderline/internal/domain"
	"orderline/internal/normalize"
)

func TestText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"   ", ""},
		{"CT-001", "CT-001"},
		{"  CT-001  ", "CT-001"},
		{"CT  001", "CT 001"},
		{"\tCT\n001 ", "CT 001"},
	}
	for _, c := range cases {
		if got := normalize.Text(c.in); got != c.want {
			t.Errorf("Text(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRefEquivalence(t *testing.T) {
	// The merge key must be identical no matter which spelling arrives.
	variants := []string{"CT 001", " CT 001", "CT  001", "CT 001 "}
	want := normalize.Ref(variants[0])
	for _, v := range variants[1:] {
		if got := normalize.Ref(v); got != want {
			t.Errorf("Ref(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestOrderNormalizesContactFields(t *testing.T) {
	o := normalize.Order(domain.Order{
		ContractRef:  "  CT-1 ",
		Company:      " Acme   Corp ",
		ContactName:  "Jean  Dupont",
		Phone:        " 01 23 45 ",
		SerialNumber: "  SN 42",
	})
	if o.ContractRef != "CT-1" {
		t.Errorf("ContractRef = %q", o.ContractRef)
	}
	if o.Company != "Acme Corp" {
		t.Errorf("Company = %q", o.Company)
	}
	if o.ContactName != "Jean Dupont" {
		t.Errorf("ContactName = %q", o.ContactName)
	}
	if o.Phone != "01 23 45" {
		t.Errorf("Phone = %q", o.Phone)
	}
	if o.SerialNumber != "SN 42" {
		t.Errorf("SerialNumber = %q", o.SerialNumber)
	}
}

func TestOrdersDoesNotMutateInput(t *testing.T) {
	in := []domain.Order{{Company: "  Acme  "}}
	_ = normalize.Orders(in)
	if in[0].Company != "  Acme  " {
		t.Fatalf("input mutated: %q", in[0].Company)
	}
}
