package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yardops/tariff-engine/billing"
	"github.com/yardops/tariff-engine/billing/store"
)

func newTestService(t *testing.T) (*billing.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.ReplaceTariffs([]billing.Tariff{
		tariff("gen-1", "", date(2024, time.January, 1), nil, "18.00", "220000", 5),
		tariff("abc-1", "ABC", date(2025, time.January, 1), dptr(date(2025, time.January, 14)), "14.00", "180000", 7),
	})
	svc := billing.NewService(mem, mem, billing.ServiceConfig{BulkWorkers: 4})
	return svc, mem
}

func TestService_Calculate_ByID(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	require.NoError(t, mem.SaveDwell(ctx, dwell("d-1", "ABC", "45G1", billing.StatusLaden,
		time.Date(2025, time.January, 5, 14, 30, 0, 0, time.UTC), nil)))

	asOf := date(2025, time.February, 10)
	result, err := svc.Calculate(ctx, "d-1", &asOf)
	require.NoError(t, err)
	assert.Equal(t, 30, result.BillableDays)
	assert.True(t, result.TotalUSD.Equal(money("528.00")))
}

func TestService_Calculate_UnknownDwell(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Calculate(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, billing.ErrDwellNotFound)
}

func TestService_CalculateMany_MatchesIndependentCalls(t *testing.T) {
	// The shared batch snapshot is strictly a performance optimization:
	// record by record, results must equal independent calculations.
	svc, mem := newTestService(t)
	ctx := context.Background()

	records := []billing.DwellRecord{
		dwell("d-1", "ABC", "45G1", billing.StatusLaden, time.Date(2025, time.January, 5, 14, 30, 0, 0, time.UTC), nil),
		dwell("d-2", "", "22G1", billing.StatusEmpty, time.Date(2025, time.January, 20, 8, 0, 0, 0, time.UTC), dptr(date(2025, time.February, 2))),
		dwell("d-3", "XYZ", "42G1", billing.StatusLaden, time.Date(2024, time.December, 28, 23, 0, 0, 0, time.UTC), nil),
	}
	for _, rec := range records {
		require.NoError(t, mem.SaveDwell(ctx, rec))
	}

	asOf := date(2025, time.February, 10)
	bulk, err := svc.CalculateMany(ctx, billing.DwellFilter{}, &asOf)
	require.NoError(t, err)
	require.Len(t, bulk.Results, 3)

	for _, rr := range bulk.Results {
		require.NoError(t, rr.Err, "record %s", rr.DwellID)
		require.NotNil(t, rr.Result)

		single, err := svc.Calculate(ctx, rr.DwellID, &asOf)
		require.NoError(t, err)
		single.CalculatedAt = rr.Result.CalculatedAt
		assert.Equal(t, single, *rr.Result, "record %s", rr.DwellID)
	}

	assert.Equal(t, 3, bulk.Summary.TotalContainers)
	wantDays := 0
	wantUSD := money("0")
	for _, rr := range bulk.Results {
		wantDays += rr.Result.BillableDays
		wantUSD = wantUSD.Add(rr.Result.TotalUSD)
	}
	assert.Equal(t, wantDays, bulk.Summary.TotalBillableDays)
	assert.True(t, bulk.Summary.TotalUSD.Equal(wantUSD))
}

func TestService_CalculateMany_BadRecordIsolated(t *testing.T) {
	// One record whose range has no tariff coverage fails alone; the
	// rest of the batch still prices.
	mem := store.NewMemory()
	mem.ReplaceTariffs([]billing.Tariff{
		tariff("gen-1", "", date(2025, time.January, 1), dptr(date(2025, time.June, 30)), "18.00", "220000", 5),
	})
	svc := billing.NewService(mem, mem, billing.ServiceConfig{})
	ctx := context.Background()

	require.NoError(t, mem.SaveDwell(ctx, dwell("good", "", "22G1", billing.StatusLaden,
		time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), dptr(date(2025, time.February, 10)))))
	require.NoError(t, mem.SaveDwell(ctx, dwell("bad", "", "22G1", billing.StatusLaden,
		time.Date(2025, time.June, 20, 0, 0, 0, 0, time.UTC), nil)))

	asOf := date(2025, time.July, 15)
	bulk, err := svc.CalculateMany(ctx, billing.DwellFilter{}, &asOf)
	require.NoError(t, err)
	require.Len(t, bulk.Results, 2)

	byID := make(map[string]billing.RecordResult)
	for _, rr := range bulk.Results {
		byID[rr.DwellID] = rr
	}
	require.NoError(t, byID["good"].Err)
	assert.Equal(t, 5, byID["good"].Result.BillableDays)
	assert.ErrorIs(t, byID["bad"].Err, billing.ErrTariffNotFound)
	assert.Nil(t, byID["bad"].Result)

	assert.Equal(t, 1, bulk.Summary.TotalContainers)
}

func TestService_CalculateMany_Filters(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	require.NoError(t, mem.SaveDwell(ctx, dwell("d-1", "ABC", "45G1", billing.StatusLaden,
		time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC), nil)))
	require.NoError(t, mem.SaveDwell(ctx, dwell("d-2", "XYZ", "22G1", billing.StatusLaden,
		time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC), dptr(date(2025, time.January, 9)))))

	asOf := date(2025, time.February, 1)

	bulk, err := svc.CalculateMany(ctx, billing.DwellFilter{CompanyID: "ABC"}, &asOf)
	require.NoError(t, err)
	require.Len(t, bulk.Results, 1)
	assert.Equal(t, "d-1", bulk.Results[0].DwellID)

	bulk, err = svc.CalculateMany(ctx, billing.DwellFilter{ActiveOnly: true}, &asOf)
	require.NoError(t, err)
	require.Len(t, bulk.Results, 1)
	assert.Equal(t, "d-1", bulk.Results[0].DwellID)

	bulk, err = svc.CalculateMany(ctx, billing.DwellFilter{IDs: []string{"d-2"}}, &asOf)
	require.NoError(t, err)
	require.Len(t, bulk.Results, 1)
	assert.Equal(t, "d-2", bulk.Results[0].DwellID)
}

func TestService_CalculateMany_EmptyBatch(t *testing.T) {
	svc, _ := newTestService(t)

	bulk, err := svc.CalculateMany(context.Background(), billing.DwellFilter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, bulk.Results)
	assert.Equal(t, 0, bulk.Summary.TotalContainers)
	assert.True(t, bulk.Summary.TotalUSD.IsZero())
}

func TestService_CalculateMany_Canceled(t *testing.T) {
	// A canceled context aborts between records; every unprocessed
	// record carries the context error, and the call reports it.
	svc, mem := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 20; i++ {
		require.NoError(t, mem.SaveDwell(context.Background(),
			dwell(string(rune('a'+i)), "", "22G1", billing.StatusLaden,
				time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC), nil)))
	}
	cancel()

	asOf := date(2025, time.February, 1)
	bulk, err := svc.CalculateMany(ctx, billing.DwellFilter{}, &asOf)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, bulk.Results, 20)
	for _, rr := range bulk.Results {
		// Already-produced results stay valid; everything else reports
		// the cancellation.
		if rr.Result == nil {
			assert.ErrorIs(t, rr.Err, context.Canceled)
		}
	}
}

func TestService_MalformedSnapshot_FailsWholeBatch(t *testing.T) {
	mem := store.NewMemory()
	mem.ReplaceTariffs([]billing.Tariff{
		tariff("gen-1", "", date(2025, time.January, 1), nil, "18.00", "220000", 5),
		tariff("gen-2", "", date(2025, time.March, 1), nil, "20.00", "240000", 5),
	})
	svc := billing.NewService(mem, mem, billing.ServiceConfig{})
	ctx := context.Background()

	require.NoError(t, mem.SaveDwell(ctx, dwell("d-1", "", "22G1", billing.StatusLaden,
		time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), nil)))

	asOf := date(2025, time.April, 10)
	_, err := svc.CalculateMany(ctx, billing.DwellFilter{}, &asOf)
	assert.ErrorIs(t, err, billing.ErrTariffOverlap)

	_, err = svc.Calculate(ctx, "d-1", &asOf)
	assert.ErrorIs(t, err, billing.ErrTariffOverlap)
}
