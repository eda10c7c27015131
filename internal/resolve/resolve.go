// Package resolve collapses duplicate order records into one canonical
// record per business key. Repeated imports can leave several copies of the
// same contract in the store; resolution is a read-side projection that
// picks a winner without ever writing back, so a reload always undoes it.
package resolve

import (
	"orderline/internal/domain"
	"orderline/internal/normalize"
)

// Winner is the outcome of a single comparator rule.
type Winner int

const (
	// Tie means the rule is not decisive for this pair.
	Tie Winner = iota
	First
	Second
)

// Rule compares two records sharing a business key. Rules run in order and
// the first decisive one wins.
type Rule struct {
	Name string
	Pick func(a, b domain.Order) Winner
}

// Rules returns the merge priority cascade. Order matters: a manual record
// always beats an imported one, a deliberately edited record must never be
// silently discarded, a record someone touched beats an untouched import,
// and only then does recency break the tie.
func Rules() []Rule {
	return []Rule{
		{Name: "manual", Pick: func(a, b domain.Order) Winner {
			return pickBool(a.ManuallyCreated, b.ManuallyCreated)
		}},
		{Name: "edited", Pick: func(a, b domain.Order) Winner {
			return pickBool(a.LastEditedAt != nil, b.LastEditedAt != nil)
		}},
		{Name: "status-modified", Pick: func(a, b domain.Order) Winner {
			return pickBool(a.StatusModified(), b.StatusModified())
		}},
		{Name: "latest-processed", Pick: func(a, b domain.Order) Winner {
			at, bt := a.ProcessedTime(), b.ProcessedTime()
			switch {
			case at.After(bt):
				return First
			case bt.After(at):
				return Second
			default:
				return Tie
			}
		}},
	}
}

func pickBool(a, b bool) Winner {
	switch {
	case a && !b:
		return First
	case b && !a:
		return Second
	default:
		return Tie
	}
}

// pick returns the winner of a pair; on a full tie the incumbent stays.
func pick(rules []Rule, incumbent, challenger domain.Order) domain.Order {
	for _, r := range rules {
		switch r.Pick(incumbent, challenger) {
		case First:
			return incumbent
		case Second:
			return challenger
		}
	}
	return incumbent
}

// Resolve returns a list with at most one record per non-empty normalized
// contract reference. Records without a contract reference are business
// drafts and pass through untouched. The input is never mutated and output
// order follows first appearance in the input, so Resolve(Resolve(x)) ==
// Resolve(x).
func Resolve(records []domain.Order) []domain.Order {
	rules := Rules()
	winners := map[string]domain.Order{}
	position := map[string]int{}
	out := make([]domain.Order, 0, len(records))

	for _, rec := range records {
		key := normalize.Ref(rec.ContractRef)
		if key == "" {
			out = append(out, rec)
			continue
		}
		if cur, seen := winners[key]; seen {
			winners[key] = pick(rules, cur, rec)
			continue
		}
		winners[key] = rec
		position[key] = len(out)
		out = append(out, rec)
	}
	for key, idx := range position {
		out[idx] = winners[key]
	}
	return out
}
