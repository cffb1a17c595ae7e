/*
Package factory provides JSON to Go tariff conversion.

PURPOSE:
  Converts JSON tariff definitions into billing.Tariff values. This enables
  tariff configuration without code changes - commercial staff can define
  rate tables in JSON, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can author rate tables
  - Easy integration with admin UI
  - Version control for tariff definitions
  - Seed files for fresh deployments

JSON SCHEMA:
  {
    "id": "gen-2025",
    "company_id": "",
    "effective_from": "2025-01-01",
    "effective_to": null,
    "notes": "2025 general tariff",
    "created_by": "admin",
    "rates": [
      {"size": "20ft", "status": "laden", "daily_rate_usd": "18.00",
       "daily_rate_uzs": "220000", "free_days": 5},
      ...
    ]
  }

KEY FEATURES:
  - Validates dates and decimal amounts at parse time
  - Rejects rate tables that are incomplete or contain duplicates
  - Loads seed files holding an array of tariffs

USAGE:
  factory := NewTariffFactory()

  // From a JSON document (e.g. an HTTP request body)
  tariff, err := factory.ParseTariff(body)

  // From a seed file at startup
  tariffs, err := factory.LoadSeedFile("seed/tariffs.json")
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/yardops/tariff-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TariffJSON is the JSON representation of a tariff version.
type TariffJSON struct {
	ID            string     `json:"id"`
	CompanyID     string     `json:"company_id,omitempty"` // empty = general tariff
	EffectiveFrom string     `json:"effective_from"`
	EffectiveTo   *string    `json:"effective_to,omitempty"` // null = open-ended
	Notes         string     `json:"notes,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	Rates         []RateJSON `json:"rates"`
}

// RateJSON represents one row of a tariff's rate table.
type RateJSON struct {
	Size         string `json:"size"`   // "20ft" or "40ft"
	Status       string `json:"status"` // "laden" or "empty"
	DailyRateUSD string `json:"daily_rate_usd"`
	DailyRateUZS string `json:"daily_rate_uzs"`
	FreeDays     int    `json:"free_days"`
}

// =============================================================================
// TARIFF FACTORY
// =============================================================================

// TariffFactory converts JSON tariffs to Go structs.
type TariffFactory struct{}

// NewTariffFactory creates a new tariff factory.
func NewTariffFactory() *TariffFactory {
	return &TariffFactory{}
}

// ParseTariff parses a JSON document into a billing.Tariff.
func (f *TariffFactory) ParseTariff(data []byte) (billing.Tariff, error) {
	var tj TariffJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return billing.Tariff{}, fmt.Errorf("failed to parse tariff JSON: %w", err)
	}
	return f.FromJSON(tj)
}

// FromJSON converts TariffJSON to a billing.Tariff. The returned tariff has
// passed full validation: parsable dates, a sane effective window, and a
// complete rate table with valid decimal amounts.
func (f *TariffFactory) FromJSON(tj TariffJSON) (billing.Tariff, error) {
	if tj.ID == "" {
		return billing.Tariff{}, fmt.Errorf("tariff id is required")
	}

	from, err := billing.ParseDate(tj.EffectiveFrom)
	if err != nil {
		return billing.Tariff{}, fmt.Errorf("tariff %s: invalid effective_from: %w", tj.ID, err)
	}

	tariff := billing.Tariff{
		ID:            tj.ID,
		CompanyID:     tj.CompanyID,
		EffectiveFrom: from,
		Notes:         tj.Notes,
		CreatedBy:     tj.CreatedBy,
	}

	if tj.EffectiveTo != nil {
		to, err := billing.ParseDate(*tj.EffectiveTo)
		if err != nil {
			return billing.Tariff{}, fmt.Errorf("tariff %s: invalid effective_to: %w", tj.ID, err)
		}
		if to.Before(from) {
			return billing.Tariff{}, fmt.Errorf("tariff %s: effective_to precedes effective_from", tj.ID)
		}
		tariff.EffectiveTo = &to
	}

	for _, rj := range tj.Rates {
		rate, err := parseRate(rj)
		if err != nil {
			return billing.Tariff{}, fmt.Errorf("tariff %s: %w", tj.ID, err)
		}
		tariff.Rates = append(tariff.Rates, rate)
	}

	if err := tariff.ValidateRates(); err != nil {
		return billing.Tariff{}, err
	}

	return tariff, nil
}

// ToJSON converts a billing.Tariff to TariffJSON.
func (f *TariffFactory) ToJSON(tariff billing.Tariff) TariffJSON {
	tj := TariffJSON{
		ID:            tariff.ID,
		CompanyID:     tariff.CompanyID,
		EffectiveFrom: tariff.EffectiveFrom.String(),
		Notes:         tariff.Notes,
		CreatedBy:     tariff.CreatedBy,
	}
	if tariff.EffectiveTo != nil {
		s := tariff.EffectiveTo.String()
		tj.EffectiveTo = &s
	}
	for _, rate := range tariff.Rates {
		tj.Rates = append(tj.Rates, RateJSON{
			Size:         string(rate.Size),
			Status:       string(rate.Status),
			DailyRateUSD: rate.DailyRateUSD.String(),
			DailyRateUZS: rate.DailyRateUZS.String(),
			FreeDays:     rate.FreeDays,
		})
	}
	return tj
}

// LoadSeedFile reads a JSON array of tariffs from disk. Used at startup to
// seed a fresh database.
func (f *TariffFactory) LoadSeedFile(path string) ([]billing.Tariff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var docs []TariffJSON
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	tariffs := make([]billing.Tariff, 0, len(docs))
	for _, tj := range docs {
		tariff, err := f.FromJSON(tj)
		if err != nil {
			return nil, err
		}
		tariffs = append(tariffs, tariff)
	}
	return tariffs, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRate(rj RateJSON) (billing.RateEntry, error) {
	size, err := parseSize(rj.Size)
	if err != nil {
		return billing.RateEntry{}, err
	}
	status, err := parseStatus(rj.Status)
	if err != nil {
		return billing.RateEntry{}, err
	}

	usd, err := decimal.NewFromString(rj.DailyRateUSD)
	if err != nil {
		return billing.RateEntry{}, fmt.Errorf("invalid daily_rate_usd %q: %w", rj.DailyRateUSD, err)
	}
	uzs, err := decimal.NewFromString(rj.DailyRateUZS)
	if err != nil {
		return billing.RateEntry{}, fmt.Errorf("invalid daily_rate_uzs %q: %w", rj.DailyRateUZS, err)
	}
	if usd.IsNegative() || uzs.IsNegative() {
		return billing.RateEntry{}, fmt.Errorf("daily rates must not be negative")
	}
	if rj.FreeDays < 0 {
		return billing.RateEntry{}, fmt.Errorf("free_days must not be negative")
	}

	return billing.RateEntry{
		Size:         size,
		Status:       status,
		DailyRateUSD: usd,
		DailyRateUZS: uzs,
		FreeDays:     rj.FreeDays,
	}, nil
}

func parseSize(s string) (billing.ContainerSize, error) {
	switch s {
	case "20ft":
		return billing.Size20ft, nil
	case "40ft":
		return billing.Size40ft, nil
	default:
		return "", fmt.Errorf("unknown container size %q", s)
	}
}

func parseStatus(s string) (billing.LoadStatus, error) {
	switch s {
	case "laden":
		return billing.StatusLaden, nil
	case "empty":
		return billing.StatusEmpty, nil
	default:
		return "", fmt.Errorf("unknown load status %q", s)
	}
}
