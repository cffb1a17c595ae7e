package billing

// =============================================================================
// FREE DAYS LEDGER - Single allotment locked at entry, consumed greedily
// =============================================================================

// FreeDaysLedger tracks the free-day allotment of one stay. The
// allotment comes from the tariff active on the entry date only and is
// never re-derived from later tariffs, even when the stay crosses into
// a tariff with a different free-day value. One shared pool for the
// whole stay, not reset per period.
type FreeDaysLedger struct {
	locked    int
	remaining int
}

// NewFreeDaysLedger locks the entitlement. Negative input counts as zero.
func NewFreeDaysLedger(locked int) *FreeDaysLedger {
	if locked < 0 {
		locked = 0
	}
	return &FreeDaysLedger{locked: locked, remaining: locked}
}

// Locked returns the entitlement fixed at entry.
func (l *FreeDaysLedger) Locked() int { return l.locked }

// Remaining returns the unconsumed part of the pool.
func (l *FreeDaysLedger) Remaining() int { return l.remaining }

// Consume draws from the pool for one period. Must be called in
// chronological period order.
func (l *FreeDaysLedger) Consume(periodDays int) (freeUsed, billable int) {
	if periodDays <= 0 {
		return 0, 0
	}
	freeUsed = periodDays
	if l.remaining < freeUsed {
		freeUsed = l.remaining
	}
	l.remaining -= freeUsed
	return freeUsed, periodDays - freeUsed
}
