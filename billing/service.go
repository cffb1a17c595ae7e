/*
service.go - Snapshot loading and bulk calculation

The service is the seam between the engine and its collaborators: a
tariff store and a dwell-record source. All I/O happens once, up front,
per call or per batch; the snapshot is then immutable for the duration
of the calculation, so concurrent tariff edits cannot corrupt an
in-flight result (snapshot isolation).

Bulk calculation fans records out across a worker pool. Records share no
mutable state, so no coordination is needed beyond the job channel.
Cancellation aborts between records; results already produced stay
valid, and each record's computation is all-or-nothing.
*/
package billing

import (
	"context"
	"runtime"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// COLLABORATOR INTERFACES - Provided by the persistence layer
// =============================================================================

// TariffSource provides the single consistent read used to build a
// registry snapshot: all tariffs (with their rate rows) whose scope is
// general or one of the given companies and whose window intersects
// [from, to].
type TariffSource interface {
	FindTariffs(ctx context.Context, companies []string, from, to Date) ([]Tariff, error)
}

// DwellFilter selects dwell records for bulk calculation.
type DwellFilter struct {
	IDs        []string
	CompanyID  string
	ActiveOnly bool
}

// DwellSource provides read-only access to dwell records.
type DwellSource interface {
	GetDwell(ctx context.Context, id string) (*DwellRecord, error)
	ListDwells(ctx context.Context, filter DwellFilter) ([]DwellRecord, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// ServiceConfig carries the deployment policy knobs.
type ServiceConfig struct {
	// StrictSizes rejects unclassifiable ISO type codes instead of
	// defaulting the size.
	StrictSizes bool

	// BulkWorkers bounds the bulk fan-out. <= 0 means NumCPU.
	BulkWorkers int

	// Clock overrides "today"; nil means the real calendar.
	Clock func() Date

	Logger *zap.Logger
}

// Service computes storage costs against consistent tariff snapshots.
type Service struct {
	tariffs TariffSource
	dwells  DwellSource
	cfg     ServiceConfig
	log     *zap.Logger
}

func NewService(tariffs TariffSource, dwells DwellSource, cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{tariffs: tariffs, dwells: dwells, cfg: cfg, log: log}
}

func (s *Service) today() Date {
	if s.cfg.Clock != nil {
		return s.cfg.Clock()
	}
	return Today()
}

// endOf mirrors the calculator's end-date rule so the snapshot read
// covers exactly the range that will be priced.
func (s *Service) endOf(rec DwellRecord, asOf *Date) Date {
	end := s.today()
	if asOf != nil {
		end = *asOf
	}
	if rec.ExitDate != nil {
		end = end.Min(*rec.ExitDate)
	}
	if end.Before(rec.EntryDate()) {
		end = rec.EntryDate()
	}
	return end
}

// Calculate computes the cost of one dwell record by id, against a
// snapshot taken at call start.
func (s *Service) Calculate(ctx context.Context, dwellID string, asOf *Date) (CostResult, error) {
	rec, err := s.dwells.GetDwell(ctx, dwellID)
	if err != nil {
		return CostResult{}, err
	}
	if rec == nil {
		return CostResult{}, ErrDwellNotFound
	}

	var companies []string
	if rec.CompanyID != "" {
		companies = []string{rec.CompanyID}
	}
	end := s.endOf(*rec, asOf)

	tariffs, err := s.tariffs.FindTariffs(ctx, companies, rec.EntryDate(), end)
	if err != nil {
		return CostResult{}, err
	}
	registry, err := NewRegistry(tariffs)
	if err != nil {
		return CostResult{}, err
	}

	calc := &Calculator{Registry: registry, StrictSizes: s.cfg.StrictSizes, Clock: s.cfg.Clock}
	return calc.Calculate(*rec, asOf)
}

// =============================================================================
// BULK CALCULATION
// =============================================================================

// RecordResult is one record's outcome in a batch. Failures are isolated
// per record; one bad record never aborts the rest.
type RecordResult struct {
	DwellID string
	Result  *CostResult
	Err     error
}

// BulkSummary aggregates the successful results of a batch.
type BulkSummary struct {
	TotalContainers   int
	TotalBillableDays int
	TotalUSD          decimal.Decimal
	TotalUZS          decimal.Decimal
}

// BulkResult is the outcome of CalculateMany, ordered as the records
// were selected.
type BulkResult struct {
	Results []RecordResult
	Summary BulkSummary
}

// CalculateMany computes costs for every record matching the filter
// against one shared snapshot. Results are identical, record by record,
// to independent Calculate calls at the same instant. On cancellation
// the partial BulkResult is returned together with the context error.
func (s *Service) CalculateMany(ctx context.Context, filter DwellFilter, asOf *Date) (BulkResult, error) {
	recs, err := s.dwells.ListDwells(ctx, filter)
	if err != nil {
		return BulkResult{}, err
	}
	if len(recs) == 0 {
		return BulkResult{Summary: emptySummary()}, nil
	}

	// One consistent read spanning the whole batch.
	span := s.batchSpan(recs, asOf)
	tariffs, err := s.tariffs.FindTariffs(ctx, span.companies, span.from, span.to)
	if err != nil {
		return BulkResult{}, err
	}
	registry, err := NewRegistry(tariffs)
	if err != nil {
		// A malformed snapshot is a configuration problem, not a
		// per-record one: fail the whole batch.
		return BulkResult{}, err
	}

	calc := &Calculator{Registry: registry, StrictSizes: s.cfg.StrictSizes, Clock: s.cfg.Clock}

	workers := s.cfg.BulkWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(recs) {
		workers = len(recs)
	}

	results := make([]RecordResult, len(recs))
	for i := range recs {
		results[i].DwellID = recs[i].ID
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				res, err := calc.Calculate(recs[i], asOf)
				if err != nil {
					results[i].Err = err
					continue
				}
				results[i].Result = &res
			}
		}()
	}

feed:
	for i := range recs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		for i := range results {
			if results[i].Result == nil && results[i].Err == nil {
				results[i].Err = err
			}
		}
		return BulkResult{Results: results, Summary: summarize(results)}, err
	}

	summary := summarize(results)
	s.log.Debug("bulk cost calculation finished",
		zap.Int("records", len(recs)),
		zap.Int("containers", summary.TotalContainers),
		zap.String("total_usd", summary.TotalUSD.String()),
	)
	return BulkResult{Results: results, Summary: summary}, nil
}

type batchSpan struct {
	companies []string
	from, to  Date
}

func (s *Service) batchSpan(recs []DwellRecord, asOf *Date) batchSpan {
	span := batchSpan{from: recs[0].EntryDate(), to: s.endOf(recs[0], asOf)}
	seen := make(map[string]bool)
	for _, rec := range recs {
		if entry := rec.EntryDate(); entry.Before(span.from) {
			span.from = entry
		}
		if end := s.endOf(rec, asOf); end.After(span.to) {
			span.to = end
		}
		if rec.CompanyID != "" && !seen[rec.CompanyID] {
			seen[rec.CompanyID] = true
			span.companies = append(span.companies, rec.CompanyID)
		}
	}
	return span
}

func summarize(results []RecordResult) BulkSummary {
	summary := emptySummary()
	for _, r := range results {
		if r.Result == nil {
			continue
		}
		summary.TotalContainers++
		summary.TotalBillableDays += r.Result.BillableDays
		summary.TotalUSD = summary.TotalUSD.Add(r.Result.TotalUSD)
		summary.TotalUZS = summary.TotalUZS.Add(r.Result.TotalUZS)
	}
	return summary
}

func emptySummary() BulkSummary {
	return BulkSummary{TotalUSD: decimal.Zero, TotalUZS: decimal.Zero}
}
