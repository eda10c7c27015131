// Package view is the display projector: pure filtering, sorting, and
// aggregation over the resolved record set. It never mutates its input and
// never touches the store.
package view

import (
	"sort"
	"strings"
	"time"

	"orderline/internal/domain"
	"orderline/internal/normalize"
)

// Filter selects records for display. Zero values mean "no constraint".
type Filter struct {
	From             time.Time
	To               time.Time
	ValidationStates []string
	ActivationStates []string
	// Query matches normalized free text across contract ref, company,
	// contact, phone, and serial numbers.
	Query string
	// IncludeDeleted keeps soft-deleted records in the view.
	IncludeDeleted bool
}

// Apply filters and sorts a resolved record set, newest first.
func Apply(orders []domain.Order, f Filter) []domain.Order {
	validation := toSet(f.ValidationStates)
	activation := toSet(f.ActivationStates)
	query := strings.ToLower(normalize.Text(f.Query))

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.Deleted() && !f.IncludeDeleted && len(validation) == 0 {
			continue
		}
		if len(validation) > 0 && !validation[o.ValidationState] {
			continue
		}
		if len(activation) > 0 && !activation[o.ActivationState] {
			continue
		}
		if !matchesDates(o, f.From, f.To) {
			continue
		}
		if query != "" && !matchesQuery(o, query) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProcessedTime().After(out[j].ProcessedTime())
	})
	return out
}

// CountByActivation aggregates records per activation state.
func CountByActivation(orders []domain.Order) map[string]int {
	counts := map[string]int{}
	for _, o := range orders {
		if o.Deleted() {
			continue
		}
		state := o.ActivationState
		if state == "" {
			state = domain.ActivationStudy
		}
		counts[state]++
	}
	return counts
}

// CountByMonth aggregates records per creation month (YYYY-MM).
func CountByMonth(orders []domain.Order) map[string]int {
	counts := map[string]int{}
	for _, o := range orders {
		if o.Deleted() {
			continue
		}
		t, err := time.Parse(time.RFC3339, o.CreatedAt)
		if err != nil {
			continue
		}
		counts[t.Format("2006-01")]++
	}
	return counts
}

func toSet(in []string) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	set := make(map[string]bool, len(in))
	for _, s := range in {
		if s != "" {
			set[s] = true
		}
	}
	return set
}

func matchesDates(o domain.Order, from, to time.Time) bool {
	if from.IsZero() && to.IsZero() {
		return true
	}
	t, err := time.Parse(time.RFC3339, o.CreatedAt)
	if err != nil {
		return false
	}
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func matchesQuery(o domain.Order, query string) bool {
	for _, field := range []string{
		o.ContractRef, o.ExternalRef, o.Company, o.ContactName,
		o.Phone, o.SerialNumber, o.VerifiedSerial, o.City,
	} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}
