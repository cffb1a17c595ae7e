/*
handlers.go - HTTP API handlers for the storage cost engine

PURPOSE:
  Exposes the tariff and cost calculation engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Tariffs:
    GET    /api/tariffs                List tariff versions
    POST   /api/tariffs                Create a tariff version
    GET    /api/tariffs/{id}           Get one tariff version
    POST   /api/tariffs/{id}/close     End an open tariff version

  Dwells:
    GET    /api/dwells                 List dwell records
    POST   /api/dwells                 Register a gate entry
    GET    /api/dwells/{id}            Get one dwell record
    POST   /api/dwells/{id}/exit       Record a gate exit
    GET    /api/dwells/{id}/cost       Compute the storage cost

  Costs:
    POST   /api/costs/bulk             Batch calculation with summary

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Service: Snapshot loading and (bulk) calculation
  - Factory: JSON to Tariff conversion
  - Cache: Short-lived cost result cache

CACHING:
  Cost results are cached keyed by dwell id and reference date. Any
  tariff or dwell write resets the cache: results are cheap to recompute
  and must never survive the data they were derived from.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Conflict (overlapping tariff windows, closing twice)
  - 422: Tariff configuration prevents calculation
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yardops/tariff-engine/billing"
	"github.com/yardops/tariff-engine/factory"
	"github.com/yardops/tariff-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *billing.Service
	Factory *factory.TariffFactory

	cache *bigcache.BigCache
	log   *zap.Logger
}

// NewHandler creates a new handler backed by the given store.
func NewHandler(store *sqlite.Store, cfg billing.ServiceConfig) (*Handler, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(10*time.Minute))
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:   store,
		Service: billing.NewService(store, store, cfg),
		Factory: factory.NewTariffFactory(),
		cache:   cache,
		log:     log,
	}, nil
}

// invalidateCosts drops every cached cost result. Called after any write
// that could change a calculation.
func (h *Handler) invalidateCosts() {
	if err := h.cache.Reset(); err != nil {
		h.log.Warn("cost cache reset failed", zap.Error(err))
	}
}

// =============================================================================
// TARIFF HANDLERS
// =============================================================================

// ListTariffs returns all tariff versions, optionally filtered by scope.
// GET /api/tariffs?company_id=ABC
func (h *Handler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	tariffs, err := h.Store.ListTariffs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tariffs", err)
		return
	}

	companyID, filtered := queryScope(r)
	dtos := make([]TariffDTO, 0, len(tariffs))
	for _, t := range tariffs {
		if filtered && t.CompanyID != companyID {
			continue
		}
		dtos = append(dtos, h.toTariffDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTariff returns a single tariff version.
func (h *Handler) GetTariff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tariff, err := h.Store.GetTariff(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get tariff", err)
		return
	}
	if tariff == nil {
		writeError(w, http.StatusNotFound, "Tariff not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.toTariffDTO(*tariff))
}

// CreateTariff creates a new tariff version. The new window must not
// overlap any existing version in the same scope.
func (h *Handler) CreateTariff(w http.ResponseWriter, r *http.Request) {
	var tj factory.TariffJSON
	if err := json.NewDecoder(r.Body).Decode(&tj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if tj.ID == "" {
		tj.ID = uuid.NewString()
	}

	tariff, err := h.Factory.FromJSON(tj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tariff", err)
		return
	}

	existing, err := h.Store.ListTariffs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load tariffs", err)
		return
	}
	for _, t := range existing {
		if t.ID == tariff.ID {
			writeError(w, http.StatusConflict, "Tariff id already exists", nil)
			return
		}
	}
	// Registry construction performs the scope-wide overlap check.
	if _, err := billing.NewRegistry(append(existing, tariff)); err != nil {
		if errors.Is(err, billing.ErrTariffOverlap) {
			writeError(w, http.StatusConflict, "Tariff window overlaps an existing version", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid tariff", err)
		return
	}

	if err := h.Store.SaveTariff(r.Context(), tariff); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save tariff", err)
		return
	}
	h.invalidateCosts()
	h.log.Info("tariff created",
		zap.String("tariff_id", tariff.ID),
		zap.String("company_id", tariff.CompanyID),
		zap.String("effective_from", tariff.EffectiveFrom.String()),
	)

	writeJSON(w, http.StatusCreated, h.toTariffDTO(tariff))
}

// CloseTariff ends an open tariff version. Historical versions are
// immutable; the only permitted update is closing an open window.
// POST /api/tariffs/{id}/close
func (h *Handler) CloseTariff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CloseTariffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	to, err := billing.ParseDate(req.EffectiveTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_to format (use YYYY-MM-DD)", err)
		return
	}

	tariff, err := h.Store.GetTariff(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get tariff", err)
		return
	}
	if tariff == nil {
		writeError(w, http.StatusNotFound, "Tariff not found", nil)
		return
	}
	if tariff.EffectiveTo != nil {
		writeError(w, http.StatusConflict, "Tariff is already closed", nil)
		return
	}
	if to.Before(tariff.EffectiveFrom) {
		writeError(w, http.StatusBadRequest, "effective_to precedes effective_from", nil)
		return
	}

	if err := h.Store.CloseTariff(r.Context(), id, to); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to close tariff", err)
		return
	}
	h.invalidateCosts()

	tariff.EffectiveTo = &to
	writeJSON(w, http.StatusOK, h.toTariffDTO(*tariff))
}

// =============================================================================
// DWELL HANDLERS
// =============================================================================

// ListDwells returns dwell records matching the query filters.
// GET /api/dwells?company_id=ABC&active=true
func (h *Handler) ListDwells(w http.ResponseWriter, r *http.Request) {
	filter := billing.DwellFilter{
		CompanyID:  r.URL.Query().Get("company_id"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}

	recs, err := h.Store.ListDwells(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list dwell records", err)
		return
	}

	dtos := make([]DwellDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toDwellDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDwell returns a single dwell record.
func (h *Handler) GetDwell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.Store.GetDwell(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get dwell record", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Dwell record not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDwellDTO(*rec))
}

// CreateDwell registers a container's gate entry.
func (h *Handler) CreateDwell(w http.ResponseWriter, r *http.Request) {
	var req CreateDwellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ContainerNo == "" {
		writeError(w, http.StatusBadRequest, "container_no is required", nil)
		return
	}

	status, err := parseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status (use laden or empty)", err)
		return
	}
	entry, err := time.Parse(time.RFC3339, req.EntryTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry_time format (use RFC3339)", err)
		return
	}

	rec := billing.DwellRecord{
		ID:          req.ID,
		CompanyID:   req.CompanyID,
		ContainerNo: req.ContainerNo,
		ISOType:     req.ISOType,
		Status:      status,
		EntryTime:   entry.UTC(),
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if err := h.Store.SaveDwell(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save dwell record", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDwellDTO(rec))
}

// CloseDwell records a container's gate exit.
// POST /api/dwells/{id}/exit
func (h *Handler) CloseDwell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CloseDwellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	exit, err := billing.ParseDate(req.ExitDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid exit_date format (use YYYY-MM-DD)", err)
		return
	}

	rec, err := h.Store.GetDwell(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get dwell record", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Dwell record not found", nil)
		return
	}
	if rec.ExitDate != nil {
		writeError(w, http.StatusConflict, "Dwell record is already closed", nil)
		return
	}
	if exit.Before(rec.EntryDate()) {
		writeError(w, http.StatusBadRequest, "exit_date precedes the entry date", nil)
		return
	}

	if err := h.Store.CloseDwell(r.Context(), id, exit); err != nil {
		writeError(w, statusFor(err), "Failed to close dwell record", err)
		return
	}
	h.invalidateCosts()

	rec.ExitDate = &exit
	writeJSON(w, http.StatusOK, toDwellDTO(*rec))
}

// =============================================================================
// COST HANDLERS
// =============================================================================

// GetCost computes the storage cost of one dwell record.
// GET /api/dwells/{id}/cost?as_of=2025-02-10
func (h *Handler) GetCost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
		return
	}

	key := costCacheKey(id, asOf)
	if cached, err := h.cache.Get(key); err == nil {
		var dto CostResultDTO
		if json.Unmarshal(cached, &dto) == nil {
			writeJSON(w, http.StatusOK, dto)
			return
		}
	}

	res, err := h.Service.Calculate(r.Context(), id, asOf)
	if err != nil {
		writeError(w, statusFor(err), "Cost calculation failed", err)
		return
	}

	dto := toCostResultDTO(res)
	if payload, err := json.Marshal(dto); err == nil {
		if err := h.cache.Set(key, payload); err != nil {
			h.log.Warn("cost cache set failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// BulkCost computes costs for a whole set of dwell records against one
// tariff snapshot and returns per-record outcomes plus a summary.
// POST /api/costs/bulk
func (h *Handler) BulkCost(w http.ResponseWriter, r *http.Request) {
	var req BulkCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	asOf, err := parseAsOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
		return
	}

	filter := billing.DwellFilter{
		IDs:        req.IDs,
		CompanyID:  req.CompanyID,
		ActiveOnly: req.ActiveOnly,
	}
	bulk, err := h.Service.CalculateMany(r.Context(), filter, asOf)
	if err != nil {
		writeError(w, statusFor(err), "Bulk calculation failed", err)
		return
	}

	resp := BulkCostResponse{
		Results: make([]BulkRecordDTO, len(bulk.Results)),
		Summary: BulkSummaryDTO{
			TotalContainers:   bulk.Summary.TotalContainers,
			TotalBillableDays: bulk.Summary.TotalBillableDays,
			TotalUSD:          bulk.Summary.TotalUSD.String(),
			TotalUZS:          bulk.Summary.TotalUZS.String(),
		},
	}
	for i, rr := range bulk.Results {
		resp.Results[i].DwellID = rr.DwellID
		if rr.Result != nil {
			dto := toCostResultDTO(*rr.Result)
			resp.Results[i].Result = &dto
		}
		if rr.Err != nil {
			resp.Results[i].Error = rr.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) toTariffDTO(t billing.Tariff) TariffDTO {
	dto := TariffDTO{TariffJSON: h.Factory.ToJSON(t)}
	if !t.CreatedAt.IsZero() {
		dto.CreatedAt = t.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// queryScope distinguishes "no filter" from "general scope only"
// (company_id present but empty).
func queryScope(r *http.Request) (string, bool) {
	if !r.URL.Query().Has("company_id") {
		return "", false
	}
	return r.URL.Query().Get("company_id"), true
}

func parseAsOf(s string) (*billing.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := billing.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// costCacheKey ties a cached result to its reference date, so results
// for an active dwell expire when the calendar turns over.
func costCacheKey(dwellID string, asOf *billing.Date) string {
	ref := billing.Today()
	if asOf != nil {
		ref = *asOf
	}
	return dwellID + "|" + ref.String()
}

func parseStatus(s string) (billing.LoadStatus, error) {
	switch s {
	case "laden":
		return billing.StatusLaden, nil
	case "empty":
		return billing.StatusEmpty, nil
	default:
		return "", errors.New("unknown load status " + s)
	}
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrDwellNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrTariffOverlap):
		return http.StatusConflict
	case billing.IsConfigError(err), errors.Is(err, billing.ErrInvalidContainerSize):
		return http.StatusUnprocessableEntity
	case errors.Is(err, billing.ErrInvalidRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
