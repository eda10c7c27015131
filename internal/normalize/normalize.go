// Package normalize canonicalizes free-text fields so equivalent values
// compare equal. Every place a business reference or contact field is
// compared or stored must go through the same function, otherwise merge
// keys drift apart.
package normalize

import (
	"strings"

	"orderline/internal/domain"
)

// Text trims leading/trailing whitespace and collapses internal whitespace
// runs to a single space. Empty or whitespace-only input yields "".
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Ref canonicalizes a business reference key.
func Ref(s string) string {
	return Text(s)
}

// Order returns a copy with all reference and contact fields canonicalized.
func Order(o domain.Order) domain.Order {
	o.ContractRef = Ref(o.ContractRef)
	o.ExternalRef = Ref(o.ExternalRef)
	o.Company = Text(o.Company)
	o.ContactName = Text(o.ContactName)
	o.Phone = Text(o.Phone)
	o.Address = Text(o.Address)
	o.City = Text(o.City)
	o.PostalCode = Text(o.PostalCode)
	o.SerialNumber = Text(o.SerialNumber)
	o.VerifiedSerial = Text(o.VerifiedSerial)
	return o
}

// Orders normalizes a whole collection.
func Orders(in []domain.Order) []domain.Order {
	out := make([]domain.Order, len(in))
	for i, o := range in {
		out[i] = Order(o)
	}
	return out
}
