// Package store provides in-memory billing.TariffSource and
// billing.DwellSource implementations (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/yardops/tariff-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds tariffs behind an atomic snapshot pointer: readers always
// see a complete, consistent tariff set even while an admin write swaps
// it out. Dwell records live behind a plain RWMutex.
type Memory struct {
	tariffs atomic.Value // []billing.Tariff, copy-on-write

	mu     sync.RWMutex
	dwells map[string]billing.DwellRecord
}

func NewMemory() *Memory {
	m := &Memory{dwells: make(map[string]billing.DwellRecord)}
	m.tariffs.Store([]billing.Tariff{})
	return m
}

// ReplaceTariffs swaps the whole tariff set atomically.
func (m *Memory) ReplaceTariffs(ts []billing.Tariff) {
	snapshot := make([]billing.Tariff, len(ts))
	copy(snapshot, ts)
	m.tariffs.Store(snapshot)
}

// AddTariff appends one tariff version.
func (m *Memory) AddTariff(t billing.Tariff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.tariffs.Load().([]billing.Tariff)
	snapshot := make([]billing.Tariff, len(current), len(current)+1)
	copy(snapshot, current)
	m.tariffs.Store(append(snapshot, t))
}

// CloseTariff bounds an open window. This is the only permitted tariff
// mutation: amendment closes the current version, never edits its prices.
func (m *Memory) CloseTariff(id string, effectiveTo billing.Date) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.tariffs.Load().([]billing.Tariff)
	snapshot := make([]billing.Tariff, len(current))
	copy(snapshot, current)
	for i := range snapshot {
		if snapshot[i].ID == id && snapshot[i].EffectiveTo == nil {
			to := effectiveTo
			snapshot[i].EffectiveTo = &to
			m.tariffs.Store(snapshot)
			return true
		}
	}
	return false
}

// FindTariffs implements billing.TariffSource. General-scope tariffs are
// always included; company scopes only for the requested companies.
func (m *Memory) FindTariffs(_ context.Context, companies []string, from, to billing.Date) ([]billing.Tariff, error) {
	wanted := make(map[string]bool, len(companies))
	for _, c := range companies {
		wanted[c] = true
	}

	snapshot := m.tariffs.Load().([]billing.Tariff)
	var result []billing.Tariff
	for _, t := range snapshot {
		if !t.IsGeneral() && !wanted[t.CompanyID] {
			continue
		}
		if t.EffectiveFrom.After(to) {
			continue
		}
		if t.EffectiveTo != nil && t.EffectiveTo.Before(from) {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// =============================================================================
// DWELL RECORDS
// =============================================================================

func (m *Memory) SaveDwell(_ context.Context, rec billing.DwellRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dwells[rec.ID] = rec
	return nil
}

func (m *Memory) GetDwell(_ context.Context, id string) (*billing.DwellRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.dwells[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// CloseDwell records the gate exit. A dwell is immutable once closed.
func (m *Memory) CloseDwell(_ context.Context, id string, exit billing.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.dwells[id]
	if !ok {
		return billing.ErrDwellNotFound
	}
	if rec.ExitDate == nil {
		rec.ExitDate = &exit
		m.dwells[id] = rec
	}
	return nil
}

func (m *Memory) ListDwells(_ context.Context, filter billing.DwellFilter) ([]billing.DwellRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.DwellRecord
	if len(filter.IDs) > 0 {
		for _, id := range filter.IDs {
			if rec, ok := m.dwells[id]; ok && matches(rec, filter) {
				result = append(result, rec)
			}
		}
		return result, nil
	}

	for _, rec := range m.dwells {
		if matches(rec, filter) {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func matches(rec billing.DwellRecord, filter billing.DwellFilter) bool {
	if filter.CompanyID != "" && rec.CompanyID != filter.CompanyID {
		return false
	}
	if filter.ActiveOnly && rec.ExitDate != nil {
		return false
	}
	return true
}
