/*
Package billing implements the storage cost calculation engine for a
container terminal.

PURPOSE:
  Given a container's dwell record (gate entry to gate exit, or still on
  terminal) and a time-versioned tariff schedule, the engine computes the
  exact billable days and monetary charge, split across tariff changes,
  with free-day entitlements locked at entry and company-specific tariffs
  falling back to the general tariff per date.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tariff: A versioned pricing ruleset scoped to "general" or one company
  - RateEntry: One of the four price/free-day rows inside a tariff,
    keyed by container size and load status
  - DwellRecord: A container's terminal stay (read-only input)
  - CostPeriod/CostResult: The computed, on-demand breakdown

DESIGN PRINCIPLES:
  1. Immutability: tariffs are append-only; amendment closes a window and
     opens a new version, never mutates historical rows
  2. Precision: decimal.Decimal for both currencies, never binary floats
  3. Determinism: CostResult is a pure function of (tariff snapshot,
     dwell record, as-of date) and is always safely recomputable

SEE ALSO:
  - registry.go: per-date tariff resolution with company->general fallback
  - splitter.go: partitioning a stay into per-tariff segments
  - calculator.go: the per-record cost aggregation
  - service.go: snapshot loading and bulk calculation
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONTAINER CLASSIFICATION
// =============================================================================

type ContainerSize string

const (
	Size20ft ContainerSize = "20ft"
	Size40ft ContainerSize = "40ft"
)

type LoadStatus string

const (
	StatusLaden LoadStatus = "laden"
	StatusEmpty LoadStatus = "empty"
)

// DeriveSize classifies an ISO type code by its first character:
// '2' is 20ft, '4' is 40ft. The second return reports whether the code
// was recognized; unrecognized codes classify as 40ft, and the caller
// decides whether to accept that default or reject the record.
func DeriveSize(isoType string) (ContainerSize, bool) {
	if len(isoType) == 0 {
		return Size40ft, false
	}
	switch isoType[0] {
	case '2':
		return Size20ft, true
	case '4':
		return Size40ft, true
	default:
		return Size40ft, false
	}
}

// =============================================================================
// TARIFF - Versioned pricing ruleset
// =============================================================================

// RateKey identifies one of the four rate rows inside a tariff.
type RateKey struct {
	Size   ContainerSize
	Status LoadStatus
}

// AllRateKeys is the complete rate table a tariff must carry.
var AllRateKeys = []RateKey{
	{Size20ft, StatusLaden},
	{Size20ft, StatusEmpty},
	{Size40ft, StatusLaden},
	{Size40ft, StatusEmpty},
}

// RateEntry is a single price/free-day row. USD and UZS are independently
// priced; neither is derived from the other.
type RateEntry struct {
	Size         ContainerSize
	Status       LoadStatus
	DailyRateUSD decimal.Decimal
	DailyRateUZS decimal.Decimal
	FreeDays     int
}

// Tariff is a pricing ruleset valid over a bounded or open-ended date
// window. CompanyID "" means the general scope, the fallback of last
// resort. Tariffs are immutable once closed: amending prices means
// closing the current window and inserting a new version.
type Tariff struct {
	ID            string
	CompanyID     string // "" = general scope
	EffectiveFrom Date
	EffectiveTo   *Date // nil = open-ended
	Notes         string

	CreatedBy string
	CreatedAt time.Time

	Rates []RateEntry
}

func (t *Tariff) IsGeneral() bool { return t.CompanyID == "" }

// Covers reports whether the tariff's validity window contains the date.
func (t *Tariff) Covers(d Date) bool {
	if d.Before(t.EffectiveFrom) {
		return false
	}
	return t.EffectiveTo == nil || d.BeforeOrEqual(*t.EffectiveTo)
}

// Rate returns the rate row for a size/status combination. A missing row
// means the rate table invariant was violated upstream; the engine fails
// loudly rather than guessing.
func (t *Tariff) Rate(size ContainerSize, status LoadStatus) (RateEntry, error) {
	for _, r := range t.Rates {
		if r.Size == size && r.Status == status {
			return r, nil
		}
	}
	return RateEntry{}, &IncompleteRateTableError{TariffID: t.ID, Missing: []RateKey{{size, status}}}
}

// ValidateRates checks the exactly-4-rows invariant: one rate row per
// size/status combination, no duplicates.
func (t *Tariff) ValidateRates() error {
	seen := make(map[RateKey]bool, len(t.Rates))
	for _, r := range t.Rates {
		k := RateKey{r.Size, r.Status}
		if seen[k] {
			return &IncompleteRateTableError{TariffID: t.ID, Duplicate: &k}
		}
		seen[k] = true
	}
	var missing []RateKey
	for _, k := range AllRateKeys {
		if !seen[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 || len(t.Rates) != len(AllRateKeys) {
		return &IncompleteRateTableError{TariffID: t.ID, Missing: missing}
	}
	return nil
}

// =============================================================================
// DWELL RECORD - A container's terminal stay (external input, read-only)
// =============================================================================

// DwellRecord is created at gate entry and closed at gate exit.
// The engine never mutates it.
type DwellRecord struct {
	ID          string
	CompanyID   string // "" = no special tariff applies
	ContainerNo string
	ISOType     string
	Status      LoadStatus
	EntryTime   time.Time
	ExitDate    *Date // nil = still on terminal
	CreatedAt   time.Time
}

// EntryDate is the calendar day billing starts on.
func (r DwellRecord) EntryDate() Date { return DateOf(r.EntryTime) }

// =============================================================================
// COST BREAKDOWN - Computed on demand, never a source of truth
// =============================================================================

// CostPeriod is one maximal sub-range of a stay bound to a single tariff
// version. Start and End are inclusive.
type CostPeriod struct {
	Start        Date
	End          Date
	TariffID     string
	IsSpecial    bool
	DailyRateUSD decimal.Decimal
	DailyRateUZS decimal.Decimal
	Days         int
	FreeDaysUsed int
	BillableDays int
	AmountUSD    decimal.Decimal
	AmountUZS    decimal.Decimal
}

// CostResult is the full charge breakdown for one dwell record. The
// ordered period list is required for audit and invoice line items,
// not just the totals.
type CostResult struct {
	DwellID         string
	ContainerNo     string
	CompanyID       string
	Size            ContainerSize
	Status          LoadStatus
	EntryDate       Date
	EndDate         Date
	IsActive        bool
	TotalDays       int
	FreeDaysApplied int
	BillableDays    int
	TotalUSD        decimal.Decimal
	TotalUZS        decimal.Decimal
	Periods         []CostPeriod
	CalculatedAt    time.Time
}
