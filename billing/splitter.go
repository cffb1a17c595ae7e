/*
splitter.go - Partitioning a stay into per-tariff segments

Starting at the entry date, resolve the tariff for the current date and
extend the segment to the last day on which that resolution holds:
min(end of stay, tariff window end, day before the next tariff start in
a consulted scope). Adjacent segments that resolve to the same tariff
version are coalesced, so a general-scope amendment taking effect while
a special tariff is active does not split the breakdown.

The partition invariant: segments are contiguous, non-overlapping, and
their day counts sum exactly to DaysInclusive(entry, end). Failure is
fail-fast and whole-range: if any date in the stay cannot be priced, no
partial output is returned.
*/
package billing

// Segment is a pre-pricing slice of a stay bound to one tariff version.
// Start and End are inclusive.
type Segment struct {
	Start  Date
	End    Date
	Tariff *Tariff
}

// Days returns the inclusive day count of the segment.
func (s Segment) Days() int { return DaysInclusive(s.Start, s.End) }

// Split partitions [entry, end] into maximal per-tariff segments.
// A one-day stay (entry == end) yields exactly one 1-day segment.
func (r *Registry) Split(entry, end Date, companyID string) ([]Segment, error) {
	if end.Before(entry) {
		return nil, ErrInvalidRange
	}

	var segments []Segment
	current := entry
	for current.BeforeOrEqual(end) {
		t, err := r.Resolve(companyID, current)
		if err != nil {
			return nil, err
		}

		segEnd := end
		if t.EffectiveTo != nil && t.EffectiveTo.Before(segEnd) {
			segEnd = *t.EffectiveTo
		}
		if next, ok := r.nextStartAfter(companyID, current); ok {
			if boundary := next.AddDays(-1); boundary.Before(segEnd) {
				segEnd = boundary
			}
		}

		if n := len(segments); n > 0 && segments[n-1].Tariff.ID == t.ID {
			segments[n-1].End = segEnd
		} else {
			segments = append(segments, Segment{Start: current, End: segEnd, Tariff: t})
		}
		current = segEnd.AddDays(1)
	}
	return segments, nil
}
