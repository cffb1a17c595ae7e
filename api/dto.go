/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Decimal amounts cross the wire as strings ("528.00", "6480000") so no
  client-side float parsing can corrupt them.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/tariff.go: TariffJSON type reused as the tariff wire format
*/
package api

import (
	"time"

	"github.com/yardops/tariff-engine/billing"
	"github.com/yardops/tariff-engine/factory"
)

// =============================================================================
// TARIFF TYPES
// =============================================================================

// TariffDTO represents a tariff version in API responses.
type TariffDTO struct {
	factory.TariffJSON
	CreatedAt string `json:"created_at,omitempty"`
}

// CloseTariffRequest ends an open tariff version.
type CloseTariffRequest struct {
	EffectiveTo string `json:"effective_to"`
}

// =============================================================================
// DWELL TYPES
// =============================================================================

// DwellDTO represents a dwell record in API responses.
type DwellDTO struct {
	ID          string  `json:"id"`
	CompanyID   string  `json:"company_id,omitempty"`
	ContainerNo string  `json:"container_no"`
	ISOType     string  `json:"iso_type"`
	Status      string  `json:"status"`
	EntryTime   string  `json:"entry_time"`
	ExitDate    *string `json:"exit_date,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// CreateDwellRequest registers a container's gate entry.
type CreateDwellRequest struct {
	ID          string `json:"id,omitempty"` // generated when empty
	CompanyID   string `json:"company_id,omitempty"`
	ContainerNo string `json:"container_no"`
	ISOType     string `json:"iso_type"`
	Status      string `json:"status"`
	EntryTime   string `json:"entry_time"` // RFC3339
}

// CloseDwellRequest records a container's gate exit.
type CloseDwellRequest struct {
	ExitDate string `json:"exit_date"`
}

// =============================================================================
// COST TYPES
// =============================================================================

// CostPeriodDTO is one tariff-homogeneous slice of a stay.
type CostPeriodDTO struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	TariffID     string `json:"tariff_id"`
	IsSpecial    bool   `json:"is_special"`
	DailyRateUSD string `json:"daily_rate_usd"`
	DailyRateUZS string `json:"daily_rate_uzs"`
	Days         int    `json:"days"`
	FreeDaysUsed int    `json:"free_days_used"`
	BillableDays int    `json:"billable_days"`
	AmountUSD    string `json:"amount_usd"`
	AmountUZS    string `json:"amount_uzs"`
}

// CostResultDTO is the full charge breakdown for one dwell record.
type CostResultDTO struct {
	DwellID         string          `json:"dwell_id"`
	ContainerNo     string          `json:"container_no"`
	CompanyID       string          `json:"company_id,omitempty"`
	Size            string          `json:"size"`
	Status          string          `json:"status"`
	EntryDate       string          `json:"entry_date"`
	EndDate         string          `json:"end_date"`
	IsActive        bool            `json:"is_active"`
	TotalDays       int             `json:"total_days"`
	FreeDaysApplied int             `json:"free_days_applied"`
	BillableDays    int             `json:"billable_days"`
	TotalUSD        string          `json:"total_usd"`
	TotalUZS        string          `json:"total_uzs"`
	Periods         []CostPeriodDTO `json:"periods"`
	CalculatedAt    string          `json:"calculated_at"`
}

// BulkCostRequest selects the records of a batch calculation.
type BulkCostRequest struct {
	IDs        []string `json:"ids,omitempty"`
	CompanyID  string   `json:"company_id,omitempty"`
	ActiveOnly bool     `json:"active_only,omitempty"`
	AsOf       string   `json:"as_of,omitempty"`
}

// BulkRecordDTO is one record's outcome inside a batch response.
type BulkRecordDTO struct {
	DwellID string         `json:"dwell_id"`
	Result  *CostResultDTO `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// BulkSummaryDTO aggregates the successful records of a batch.
type BulkSummaryDTO struct {
	TotalContainers   int    `json:"total_containers"`
	TotalBillableDays int    `json:"total_billable_days"`
	TotalUSD          string `json:"total_usd"`
	TotalUZS          string `json:"total_uzs"`
}

// BulkCostResponse is the batch calculation response.
type BulkCostResponse struct {
	Results []BulkRecordDTO `json:"results"`
	Summary BulkSummaryDTO  `json:"summary"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toDwellDTO(rec billing.DwellRecord) DwellDTO {
	dto := DwellDTO{
		ID:          rec.ID,
		CompanyID:   rec.CompanyID,
		ContainerNo: rec.ContainerNo,
		ISOType:     rec.ISOType,
		Status:      string(rec.Status),
		EntryTime:   rec.EntryTime.Format(time.RFC3339),
	}
	if rec.ExitDate != nil {
		s := rec.ExitDate.String()
		dto.ExitDate = &s
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toCostResultDTO(res billing.CostResult) CostResultDTO {
	dto := CostResultDTO{
		DwellID:         res.DwellID,
		ContainerNo:     res.ContainerNo,
		CompanyID:       res.CompanyID,
		Size:            string(res.Size),
		Status:          string(res.Status),
		EntryDate:       res.EntryDate.String(),
		EndDate:         res.EndDate.String(),
		IsActive:        res.IsActive,
		TotalDays:       res.TotalDays,
		FreeDaysApplied: res.FreeDaysApplied,
		BillableDays:    res.BillableDays,
		TotalUSD:        res.TotalUSD.String(),
		TotalUZS:        res.TotalUZS.String(),
		Periods:         make([]CostPeriodDTO, 0, len(res.Periods)),
		CalculatedAt:    res.CalculatedAt.Format(time.RFC3339),
	}
	for _, p := range res.Periods {
		dto.Periods = append(dto.Periods, CostPeriodDTO{
			Start:        p.Start.String(),
			End:          p.End.String(),
			TariffID:     p.TariffID,
			IsSpecial:    p.IsSpecial,
			DailyRateUSD: p.DailyRateUSD.String(),
			DailyRateUZS: p.DailyRateUZS.String(),
			Days:         p.Days,
			FreeDaysUsed: p.FreeDaysUsed,
			BillableDays: p.BillableDays,
			AmountUSD:    p.AmountUSD.String(),
			AmountUZS:    p.AmountUZS.String(),
		})
	}
	return dto
}
