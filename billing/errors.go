/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Resolution errors - no tariff covers a date an admin must price
  2. Classification errors - an ISO type code the engine refuses to guess
  3. Invariant errors - malformed tariff data reaching the engine

All failures here are structural/configuration issues surfaced to the
caller. Nothing is retried internally: there is no transient-failure
class inside the calculation path.

USAGE:
  Callers match with errors.Is/errors.As:

    if errors.Is(err, billing.ErrTariffNotFound) { ... }

    var nf *billing.TariffNotFoundError
    if errors.As(err, &nf) { log(nf.Date) }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrTariffNotFound is returned when neither a company-specific nor a
	// general tariff covers a required date. Indicates a configuration gap
	// an admin must close; never retried.
	ErrTariffNotFound = errors.New("no tariff covers the requested date")

	// ErrInvalidContainerSize is returned in strict mode when an ISO type
	// code cannot be classified into 20ft/40ft.
	ErrInvalidContainerSize = errors.New("container size cannot be classified")

	// ErrTariffOverlap is returned when two tariff windows in the same
	// scope overlap. The engine refuses to compute rather than pick one.
	ErrTariffOverlap = errors.New("tariff windows overlap within a scope")

	// ErrIncompleteRateTable is returned when a tariff does not carry
	// exactly one rate row per size/status combination.
	ErrIncompleteRateTable = errors.New("tariff rate table is incomplete")

	// ErrDwellNotFound is returned when a referenced dwell record does not exist.
	ErrDwellNotFound = errors.New("dwell record not found")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TariffNotFoundError reports the exact date and scope that could not be priced.
type TariffNotFoundError struct {
	CompanyID string // "" = only the general scope was consulted
	Date      Date
}

func (e *TariffNotFoundError) Error() string {
	if e.CompanyID == "" {
		return fmt.Sprintf("no general tariff covers %s", e.Date)
	}
	return fmt.Sprintf("no tariff covers %s for company %s (general fallback included)", e.Date, e.CompanyID)
}

func (e *TariffNotFoundError) Unwrap() error { return ErrTariffNotFound }

// InvalidContainerSizeError reports an unclassifiable ISO type code.
type InvalidContainerSizeError struct {
	ISOType string
}

func (e *InvalidContainerSizeError) Error() string {
	return fmt.Sprintf("ISO type %q cannot be classified into 20ft/40ft", e.ISOType)
}

func (e *InvalidContainerSizeError) Unwrap() error { return ErrInvalidContainerSize }

// TariffOverlapError identifies the two offending versions.
type TariffOverlapError struct {
	CompanyID string
	FirstID   string
	SecondID  string
}

func (e *TariffOverlapError) Error() string {
	scope := e.CompanyID
	if scope == "" {
		scope = "general"
	}
	return fmt.Sprintf("tariffs %s and %s overlap in scope %s", e.FirstID, e.SecondID, scope)
}

func (e *TariffOverlapError) Unwrap() error { return ErrTariffOverlap }

// IncompleteRateTableError reports missing or duplicated rate rows.
type IncompleteRateTableError struct {
	TariffID  string
	Missing   []RateKey
	Duplicate *RateKey
}

func (e *IncompleteRateTableError) Error() string {
	if e.Duplicate != nil {
		return fmt.Sprintf("tariff %s has a duplicate rate row for %s/%s", e.TariffID, e.Duplicate.Size, e.Duplicate.Status)
	}
	return fmt.Sprintf("tariff %s is missing %d rate row(s)", e.TariffID, len(e.Missing))
}

func (e *IncompleteRateTableError) Unwrap() error { return ErrIncompleteRateTable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigError reports whether the error is a tariff configuration
// problem (as opposed to bad per-record input).
func IsConfigError(err error) bool {
	return errors.Is(err, ErrTariffNotFound) ||
		errors.Is(err, ErrTariffOverlap) ||
		errors.Is(err, ErrIncompleteRateTable)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDwellNotFound) || errors.Is(err, ErrTariffNotFound)
}
