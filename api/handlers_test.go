package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yardops/tariff-engine/api"
	"github.com/yardops/tariff-engine/billing"
	"github.com/yardops/tariff-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fixedToday pins "today" so cost responses with no as_of stay deterministic.
var fixedToday = billing.NewDate(2025, time.February, 10)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h, err := api.NewHandler(store, billing.ServiceConfig{
		BulkWorkers: 2,
		Clock:       func() billing.Date { return fixedToday },
	})
	require.NoError(t, err)
	return api.NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func rateRows(usd, uzs string, freeDays int) []map[string]any {
	rows := make([]map[string]any, 0, 4)
	for _, size := range []string{"20ft", "40ft"} {
		for _, status := range []string{"laden", "empty"} {
			rows = append(rows, map[string]any{
				"size":           size,
				"status":         status,
				"daily_rate_usd": usd,
				"daily_rate_uzs": uzs,
				"free_days":      freeDays,
			})
		}
	}
	return rows
}

func tariffBody(id, companyID, from string, to *string, usd, uzs string, freeDays int) map[string]any {
	body := map[string]any{
		"id":             id,
		"company_id":     companyID,
		"effective_from": from,
		"rates":          rateRows(usd, uzs, freeDays),
	}
	if to != nil {
		body["effective_to"] = *to
	}
	return body
}

func postTariff(t *testing.T, router http.Handler, body map[string]any) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/tariffs", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func strPtr(s string) *string { return &s }

// seedScenario loads the two tariffs of the worked ABC example: an
// open-ended general tariff and a two-week special rate.
func seedScenario(t *testing.T, router http.Handler) {
	t.Helper()
	postTariff(t, router, tariffBody("gen-1", "", "2024-01-01", nil, "18.00", "220000", 5))
	postTariff(t, router, tariffBody("abc-1", "ABC", "2025-01-01", strPtr("2025-01-14"), "14.00", "180000", 7))
}

func postDwell(t *testing.T, router http.Handler, companyID, containerNo, isoType, entryTime string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/dwells", map[string]any{
		"company_id":   companyID,
		"container_no": containerNo,
		"iso_type":     isoType,
		"status":       "laden",
		"entry_time":   entryTime,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.DwellDTO](t, rec).ID
}

func assertAmount(t *testing.T, want, got string) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(got)),
		"want %s, got %s", want, got)
}

// =============================================================================
// TARIFF ENDPOINTS
// =============================================================================

func TestTariffLifecycle(t *testing.T) {
	router := newTestRouter(t)

	postTariff(t, router, tariffBody("gen-1", "", "2024-01-01", nil, "18.00", "220000", 5))

	// GIVEN an open general tariff
	// WHEN listing tariffs
	rec := doJSON(t, router, http.MethodGet, "/api/tariffs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.TariffDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "gen-1", list[0].ID)
	assert.Nil(t, list[0].EffectiveTo)
	assert.Len(t, list[0].Rates, 4)

	// WHEN fetching it by id
	rec = doJSON(t, router, http.MethodGet, "/api/tariffs/gen-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gen-1", decode[api.TariffDTO](t, rec).ID)

	// WHEN closing it
	rec = doJSON(t, router, http.MethodPost, "/api/tariffs/gen-1/close",
		map[string]any{"effective_to": "2024-12-31"})
	require.Equal(t, http.StatusOK, rec.Code)
	closed := decode[api.TariffDTO](t, rec)
	require.NotNil(t, closed.EffectiveTo)
	assert.Equal(t, "2024-12-31", *closed.EffectiveTo)

	// THEN closing again conflicts: historical versions are immutable
	rec = doJSON(t, router, http.MethodPost, "/api/tariffs/gen-1/close",
		map[string]any{"effective_to": "2024-11-30"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateTariff_OverlapRejected(t *testing.T) {
	router := newTestRouter(t)

	postTariff(t, router, tariffBody("gen-1", "", "2024-01-01", nil, "18.00", "220000", 5))

	// A second open-ended general tariff overlaps the first.
	rec := doJSON(t, router, http.MethodPost, "/api/tariffs",
		tariffBody("gen-2", "", "2025-01-01", nil, "20.00", "240000", 5))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The same window under a company scope is fine.
	postTariff(t, router, tariffBody("abc-1", "ABC", "2025-01-01", nil, "14.00", "180000", 7))
}

func TestCreateTariff_Validation(t *testing.T) {
	router := newTestRouter(t)

	body := tariffBody("bad-1", "", "2024-01-01", nil, "18.00", "220000", 5)
	body["rates"] = rateRows("18.00", "220000", 5)[:3]
	rec := doJSON(t, router, http.MethodPost, "/api/tariffs", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/tariffs/bad-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTariff_GeneratesID(t *testing.T) {
	router := newTestRouter(t)

	body := tariffBody("", "", "2024-01-01", nil, "18.00", "220000", 5)
	rec := doJSON(t, router, http.MethodPost, "/api/tariffs", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, decode[api.TariffDTO](t, rec).ID)
}

// =============================================================================
// DWELL ENDPOINTS
// =============================================================================

func TestDwellLifecycle(t *testing.T) {
	router := newTestRouter(t)

	id := postDwell(t, router, "ABC", "MSKU1234567", "45G1", "2025-01-05T14:30:00Z")

	rec := doJSON(t, router, http.MethodGet, "/api/dwells/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dwell := decode[api.DwellDTO](t, rec)
	assert.Equal(t, "MSKU1234567", dwell.ContainerNo)
	assert.Nil(t, dwell.ExitDate)

	// Exit before entry is rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/dwells/"+id+"/exit",
		map[string]any{"exit_date": "2025-01-04"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/dwells/"+id+"/exit",
		map[string]any{"exit_date": "2025-01-20"})
	require.Equal(t, http.StatusOK, rec.Code)
	closed := decode[api.DwellDTO](t, rec)
	require.NotNil(t, closed.ExitDate)
	assert.Equal(t, "2025-01-20", *closed.ExitDate)

	// Closed dwells are immutable.
	rec = doJSON(t, router, http.MethodPost, "/api/dwells/"+id+"/exit",
		map[string]any{"exit_date": "2025-01-25"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListDwells_Filters(t *testing.T) {
	router := newTestRouter(t)

	active := postDwell(t, router, "ABC", "CONT-A", "22G1", "2025-01-01T08:00:00Z")
	exited := postDwell(t, router, "ABC", "CONT-B", "42G1", "2025-01-02T08:00:00Z")
	postDwell(t, router, "XYZ", "CONT-C", "22G1", "2025-01-03T08:00:00Z")

	rec := doJSON(t, router, http.MethodPost, "/api/dwells/"+exited+"/exit",
		map[string]any{"exit_date": "2025-01-10"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/dwells?company_id=ABC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.DwellDTO](t, rec), 2)

	rec = doJSON(t, router, http.MethodGet, "/api/dwells?company_id=ABC&active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.DwellDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, active, list[0].ID)
}

// =============================================================================
// COST ENDPOINTS
// =============================================================================

func TestGetCost_WorkedScenario(t *testing.T) {
	// Company ABC: special rate $14/day with 7 free days through Jan 14,
	// general $18/day with 5 free days after. Entry Jan 5, priced Feb 10.
	router := newTestRouter(t)
	seedScenario(t, router)

	id := postDwell(t, router, "ABC", "MSKU1234567", "45G1", "2025-01-05T14:30:00Z")

	rec := doJSON(t, router, http.MethodGet, "/api/dwells/"+id+"/cost?as_of=2025-02-10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cost := decode[api.CostResultDTO](t, rec)

	assert.Equal(t, "40ft", cost.Size)
	assert.Equal(t, "2025-01-05", cost.EntryDate)
	assert.Equal(t, "2025-02-10", cost.EndDate)
	assert.True(t, cost.IsActive)
	assert.Equal(t, 37, cost.TotalDays)
	assert.Equal(t, 7, cost.FreeDaysApplied)
	assert.Equal(t, 30, cost.BillableDays)
	assertAmount(t, "528.00", cost.TotalUSD)
	assertAmount(t, "6480000", cost.TotalUZS)

	require.Len(t, cost.Periods, 2)
	assert.Equal(t, "abc-1", cost.Periods[0].TariffID)
	assert.True(t, cost.Periods[0].IsSpecial)
	assert.Equal(t, 10, cost.Periods[0].Days)
	assert.Equal(t, 7, cost.Periods[0].FreeDaysUsed)
	assertAmount(t, "42.00", cost.Periods[0].AmountUSD)
	assert.Equal(t, "gen-1", cost.Periods[1].TariffID)
	assert.Equal(t, 27, cost.Periods[1].Days)
	assertAmount(t, "486.00", cost.Periods[1].AmountUSD)
}

func TestGetCost_DefaultsToToday(t *testing.T) {
	router := newTestRouter(t)
	seedScenario(t, router)

	id := postDwell(t, router, "ABC", "MSKU1234567", "45G1", "2025-01-05T14:30:00Z")

	rec := doJSON(t, router, http.MethodGet, "/api/dwells/"+id+"/cost", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fixedToday.String(), decode[api.CostResultDTO](t, rec).EndDate)
}

func TestGetCost_Errors(t *testing.T) {
	router := newTestRouter(t)
	seedScenario(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/dwells/nope/cost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := postDwell(t, router, "", "CONT-A", "22G1", "2025-01-05T08:00:00Z")
	rec = doJSON(t, router, http.MethodGet, "/api/dwells/"+id+"/cost?as_of=02/10/2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Entry before any tariff coverage is a configuration gap.
	early := postDwell(t, router, "", "CONT-B", "22G1", "2023-06-01T08:00:00Z")
	rec = doJSON(t, router, http.MethodGet, "/api/dwells/"+early+"/cost?as_of=2025-02-10", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetCost_RecomputedAfterTariffWrite(t *testing.T) {
	// A cached result must not survive a tariff change.
	router := newTestRouter(t)
	postTariff(t, router, tariffBody("gen-1", "", "2024-01-01", nil, "18.00", "220000", 0))

	id := postDwell(t, router, "", "CONT-A", "22G1", "2025-02-01T08:00:00Z")

	rec := doJSON(t, router, http.MethodGet, "/api/dwells/"+id+"/cost?as_of=2025-02-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertAmount(t, "180.00", decode[api.CostResultDTO](t, rec).TotalUSD)

	// Close gen-1 and open a pricier general tariff for February.
	rec = doJSON(t, router, http.MethodPost, "/api/tariffs/gen-1/close",
		map[string]any{"effective_to": "2025-01-31"})
	require.Equal(t, http.StatusOK, rec.Code)
	postTariff(t, router, tariffBody("gen-2", "", "2025-02-01", nil, "20.00", "240000", 0))

	rec = doJSON(t, router, http.MethodGet, "/api/dwells/"+id+"/cost?as_of=2025-02-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertAmount(t, "200.00", decode[api.CostResultDTO](t, rec).TotalUSD)
}

func TestBulkCost(t *testing.T) {
	router := newTestRouter(t)
	seedScenario(t, router)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, postDwell(t, router, "ABC",
			fmt.Sprintf("CONT-%d", i), "22G1", "2025-02-01T08:00:00Z"))
	}
	// One record outside tariff coverage fails alone.
	bad := postDwell(t, router, "", "CONT-BAD", "22G1", "2023-06-01T08:00:00Z")
	ids = append(ids, bad)

	rec := doJSON(t, router, http.MethodPost, "/api/costs/bulk", map[string]any{
		"ids":   ids,
		"as_of": "2025-02-10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.BulkCostResponse](t, rec)

	require.Len(t, resp.Results, 4)
	failures := 0
	for _, r := range resp.Results {
		if r.Error != "" {
			failures++
			assert.Equal(t, bad, r.DwellID)
			assert.Nil(t, r.Result)
		} else {
			require.NotNil(t, r.Result)
		}
	}
	assert.Equal(t, 1, failures)

	// Feb 1-10 on the general tariff: 10 days, 5 free, 5 billable each.
	assert.Equal(t, 3, resp.Summary.TotalContainers)
	assert.Equal(t, 15, resp.Summary.TotalBillableDays)
	assertAmount(t, "270.00", resp.Summary.TotalUSD)
	assertAmount(t, "3300000", resp.Summary.TotalUZS)
}

func TestBulkCost_EmptySelection(t *testing.T) {
	router := newTestRouter(t)
	seedScenario(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/costs/bulk",
		map[string]any{"company_id": "NOBODY"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.BulkCostResponse](t, rec)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Summary.TotalContainers)
}
