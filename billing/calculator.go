/*
calculator.go - Per-record cost aggregation

Drives the splitter, the free-days ledger and the tariff rate tables to
build the ordered period breakdown and totals for one dwell record.

The calculation is a pure, synchronous function of (registry snapshot,
dwell record, as-of date): no I/O happens inside the per-period loop,
and two calls over identical inputs produce identical results.
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Calculator computes the cost of single dwell records against one
// immutable registry snapshot.
type Calculator struct {
	Registry *Registry

	// StrictSizes makes unclassifiable ISO type codes an error instead
	// of applying the size default.
	StrictSizes bool

	// Clock overrides "today" for the open-ended stay case. Nil means
	// the real calendar.
	Clock func() Date
}

func (c *Calculator) today() Date {
	if c.Clock != nil {
		return c.Clock()
	}
	return Today()
}

// Calculate computes the full cost breakdown for one dwell record as of
// the given date (nil = today). For a still-on-terminal container the
// stay is priced up to the as-of date; for an exited one, up to the exit
// date, whichever is earlier.
func (c *Calculator) Calculate(rec DwellRecord, asOf *Date) (CostResult, error) {
	ref := c.today()
	if asOf != nil {
		ref = *asOf
	}

	entry := rec.EntryDate()
	end := ref
	if rec.ExitDate != nil {
		end = end.Min(*rec.ExitDate)
	}
	if end.Before(entry) {
		// Minimum charge: a stay never bills fewer than one day, even
		// when asked about the entry day itself.
		end = entry
	}

	size, recognized := DeriveSize(rec.ISOType)
	if !recognized && c.StrictSizes {
		return CostResult{}, &InvalidContainerSizeError{ISOType: rec.ISOType}
	}

	segments, err := c.Registry.Split(entry, end, rec.CompanyID)
	if err != nil {
		return CostResult{}, err
	}

	// Free days are locked from the tariff active on the entry date.
	entryRate, err := segments[0].Tariff.Rate(size, rec.Status)
	if err != nil {
		return CostResult{}, err
	}
	ledger := NewFreeDaysLedger(entryRate.FreeDays)

	result := CostResult{
		DwellID:      rec.ID,
		ContainerNo:  rec.ContainerNo,
		CompanyID:    rec.CompanyID,
		Size:         size,
		Status:       rec.Status,
		EntryDate:    entry,
		EndDate:      end,
		IsActive:     rec.ExitDate == nil,
		TotalUSD:     decimal.Zero,
		TotalUZS:     decimal.Zero,
		Periods:      make([]CostPeriod, 0, len(segments)),
		CalculatedAt: time.Now().UTC(),
	}

	for _, seg := range segments {
		rate, err := seg.Tariff.Rate(size, rec.Status)
		if err != nil {
			return CostResult{}, err
		}

		days := seg.Days()
		freeUsed, billable := ledger.Consume(days)
		billableDec := decimal.NewFromInt(int64(billable))

		period := CostPeriod{
			Start:        seg.Start,
			End:          seg.End,
			TariffID:     seg.Tariff.ID,
			IsSpecial:    !seg.Tariff.IsGeneral(),
			DailyRateUSD: rate.DailyRateUSD,
			DailyRateUZS: rate.DailyRateUZS,
			Days:         days,
			FreeDaysUsed: freeUsed,
			BillableDays: billable,
			AmountUSD:    rate.DailyRateUSD.Mul(billableDec),
			AmountUZS:    rate.DailyRateUZS.Mul(billableDec),
		}

		result.Periods = append(result.Periods, period)
		result.TotalDays += days
		result.FreeDaysApplied += freeUsed
		result.BillableDays += billable
		result.TotalUSD = result.TotalUSD.Add(period.AmountUSD)
		result.TotalUZS = result.TotalUZS.Add(period.AmountUZS)
	}

	return result, nil
}
