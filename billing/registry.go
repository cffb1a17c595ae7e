/*
registry.go - Per-date tariff resolution with company->general fallback

RESOLUTION PRIORITY (per date, not per stay):
  1. A company-specific tariff whose window covers the date
  2. The general tariff covering the date
  3. TariffNotFoundError

A company's special tariff may cover only part of a stay; resolution
falls through to general for the dates after its window closes. The
expired special is never consulted for those dates.

The registry is built once per calculation call (or once per batch) from
a consistent snapshot of tariff rows. Tariff histories are held sorted
per scope so each lookup is a binary search, independent of how many
amendments a scope has accumulated.
*/
package billing

import "sort"

// Registry resolves the tariff version applicable to a (scope, date)
// pair. It is immutable after construction and safe for concurrent use.
type Registry struct {
	general   []*Tariff
	byCompany map[string][]*Tariff
}

// NewRegistry validates and indexes a tariff snapshot.
//
// Construction performs the defensive invariant checks: within one scope
// validity windows must not overlap (at most one open-ended window, and
// only as the latest version), and every tariff must carry exactly one
// rate row per size/status combination. Malformed data is rejected
// outright; the engine never silently repairs.
func NewRegistry(tariffs []Tariff) (*Registry, error) {
	r := &Registry{byCompany: make(map[string][]*Tariff)}

	for i := range tariffs {
		t := &tariffs[i]
		if err := t.ValidateRates(); err != nil {
			return nil, err
		}
		if t.EffectiveTo != nil && t.EffectiveTo.Before(t.EffectiveFrom) {
			return nil, ErrInvalidRange
		}
		if t.IsGeneral() {
			r.general = append(r.general, t)
		} else {
			r.byCompany[t.CompanyID] = append(r.byCompany[t.CompanyID], t)
		}
	}

	if err := sortAndCheck(r.general); err != nil {
		return nil, err
	}
	for _, scoped := range r.byCompany {
		if err := sortAndCheck(scoped); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func sortAndCheck(ts []*Tariff) error {
	sort.Slice(ts, func(i, j int) bool {
		return ts[i].EffectiveFrom.Before(ts[j].EffectiveFrom)
	})
	for i := 1; i < len(ts); i++ {
		prev, next := ts[i-1], ts[i]
		// An open-ended window overlaps everything after it, and a bounded
		// one overlaps when it reaches into the next window's start.
		if prev.EffectiveTo == nil || next.EffectiveFrom.BeforeOrEqual(*prev.EffectiveTo) {
			return &TariffOverlapError{CompanyID: prev.CompanyID, FirstID: prev.ID, SecondID: next.ID}
		}
	}
	return nil
}

// Resolve returns the tariff applicable to companyID (or "" for no
// company) on the given date. Pure query, no side effects.
func (r *Registry) Resolve(companyID string, d Date) (*Tariff, error) {
	if companyID != "" {
		if t := lookup(r.byCompany[companyID], d); t != nil {
			return t, nil
		}
	}
	if t := lookup(r.general, d); t != nil {
		return t, nil
	}
	return nil, &TariffNotFoundError{CompanyID: companyID, Date: d}
}

// lookup finds the tariff covering d in a slice sorted by EffectiveFrom.
func lookup(ts []*Tariff, d Date) *Tariff {
	i := sort.Search(len(ts), func(i int) bool {
		return ts[i].EffectiveFrom.After(d)
	})
	if i == 0 {
		return nil
	}
	// Windows don't overlap, so only the latest one starting at or before
	// d can cover it.
	if t := ts[i-1]; t.Covers(d) {
		return t
	}
	return nil
}

// nextStartAfter returns the earliest tariff start strictly after d in
// the scopes consulted for companyID. Resolution can only change at such
// a boundary or at the current tariff's window end.
func (r *Registry) nextStartAfter(companyID string, d Date) (Date, bool) {
	var next Date
	found := false

	consider := func(ts []*Tariff) {
		i := sort.Search(len(ts), func(i int) bool {
			return ts[i].EffectiveFrom.After(d)
		})
		if i == len(ts) {
			return
		}
		if start := ts[i].EffectiveFrom; !found || start.Before(next) {
			next = start
			found = true
		}
	}

	consider(r.general)
	if companyID != "" {
		consider(r.byCompany[companyID])
	}
	return next, found
}
