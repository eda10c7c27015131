package store

import (
	"orderline/internal/domain"
	"orderline/internal/normalize"
)

// Snapshot is one full read of the order collection. It is immutable by
// convention: mutations splice a copy and write the whole thing back, which
// is the only versioning the store offers (version-by-replacement).
type Snapshot struct {
	Orders []domain.Order
}

// Keys returns the set of non-empty normalized contract references,
// including soft-deleted records (a deleted order must not be re-imported).
func (s Snapshot) Keys() map[string]bool {
	keys := make(map[string]bool, len(s.Orders))
	for _, o := range s.Orders {
		if k := normalize.Ref(o.ContractRef); k != "" {
			keys[k] = true
		}
	}
	return keys
}

// ManualKeys returns the normalized contract references of manually
// created records.
func (s Snapshot) ManualKeys() map[string]bool {
	keys := map[string]bool{}
	for _, o := range s.Orders {
		if !o.ManuallyCreated {
			continue
		}
		if k := normalize.Ref(o.ContractRef); k != "" {
			keys[k] = true
		}
	}
	return keys
}

// ByID returns the index of the record with the given id, or -1.
func (s Snapshot) ByID(id string) int {
	for i, o := range s.Orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// WithReplaced returns a copy of the snapshot with the record at idx
// replaced.
func (s Snapshot) WithReplaced(idx int, o domain.Order) Snapshot {
	out := make([]domain.Order, len(s.Orders))
	copy(out, s.Orders)
	out[idx] = o
	return Snapshot{Orders: out}
}

// WithPrepended returns a copy with a new record at the front.
func (s Snapshot) WithPrepended(o domain.Order) Snapshot {
	out := make([]domain.Order, 0, len(s.Orders)+1)
	out = append(out, o)
	out = append(out, s.Orders...)
	return Snapshot{Orders: out}
}
