/*
Package sqlite provides the SQLite-backed persistence for tariffs and
dwell records.

INTERFACES IMPLEMENTED:
  billing.TariffSource: the per-call/per-batch snapshot read
  billing.DwellSource:  read-only dwell record access

APPEND-ONLY VERSIONING:
  Tariff rows are never edited in place. "Editing" a tariff means
  closing the current window (setting effective_to on the open row) and
  inserting a new version. CloseTariff is the single permitted UPDATE on
  the tariffs table; the rate rows of a version are immutable once
  written. This guarantees that changing today's prices cannot
  retroactively alter previously computed historical charges.

KEY TABLES:
  tariffs:       versioned pricing rulesets, scoped general or per company
  rate_entries:  the 4 size/status rows belonging to one tariff version
  dwell_records: container stays from gate entry to gate exit

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so snapshot reads for
  in-flight calculations do not block admin writes.

USAGE:
  store, err := sqlite.New("./data/terminal.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := billing.NewService(store, store, billing.ServiceConfig{})

SEE ALSO:
  - billing/service.go: the collaborator interfaces this package serves
  - billing/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/yardops/tariff-engine/billing"
)

// Store implements the billing collaborator interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Tariffs (versioned, append-only: the only UPDATE is bounding an open window)
	CREATE TABLE IF NOT EXISTS tariffs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL DEFAULT '',
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		notes TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tariffs_scope_from
		ON tariffs(company_id, effective_from);
	CREATE INDEX IF NOT EXISTS idx_tariffs_open
		ON tariffs(company_id) WHERE effective_to IS NULL;

	-- Rate entries (exactly 4 per tariff version, immutable)
	CREATE TABLE IF NOT EXISTS rate_entries (
		tariff_id TEXT NOT NULL REFERENCES tariffs(id),
		size TEXT NOT NULL,
		status TEXT NOT NULL,
		daily_rate_usd TEXT NOT NULL,
		daily_rate_uzs TEXT NOT NULL,
		free_days INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tariff_id, size, status)
	);

	-- Dwell records (immutable once exited)
	CREATE TABLE IF NOT EXISTS dwell_records (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL DEFAULT '',
		container_no TEXT NOT NULL,
		iso_type TEXT NOT NULL,
		status TEXT NOT NULL,
		entry_time TEXT NOT NULL,
		exit_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dwells_company
		ON dwell_records(company_id);
	CREATE INDEX IF NOT EXISTS idx_dwells_active
		ON dwell_records(company_id) WHERE exit_date IS NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TARIFFS (billing.TariffSource)
// =============================================================================

// SaveTariff inserts a new tariff version with its rate rows atomically.
func (s *Store) SaveTariff(ctx context.Context, t billing.Tariff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var effectiveTo any
	if t.EffectiveTo != nil {
		effectiveTo = t.EffectiveTo.String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tariffs (id, company_id, effective_from, effective_to, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.CompanyID,
		t.EffectiveFrom.String(),
		effectiveTo,
		t.Notes,
		t.CreatedBy,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tariff: %w", err)
	}

	for _, r := range t.Rates {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rate_entries (tariff_id, size, status, daily_rate_usd, daily_rate_uzs, free_days)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			t.ID, string(r.Size), string(r.Status),
			r.DailyRateUSD.String(), r.DailyRateUZS.String(), r.FreeDays,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rate entry: %w", err)
		}
	}

	return tx.Commit()
}

// CloseTariff bounds an open validity window. This is the only mutation
// the tariffs table permits; amending prices means inserting a new
// version afterwards.
func (s *Store) CloseTariff(ctx context.Context, id string, effectiveTo billing.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tariffs SET effective_to = ? WHERE id = ? AND effective_to IS NULL`,
		effectiveTo.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close tariff: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tariff %s not found or already closed", id)
	}
	return nil
}

// GetTariff returns one tariff version with its rate rows, or nil.
func (s *Store) GetTariff(ctx context.Context, id string) (*billing.Tariff, error) {
	tariffs, err := s.queryTariffs(ctx, `WHERE t.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tariffs) == 0 {
		return nil, nil
	}
	return &tariffs[0], nil
}

// ListTariffs returns every tariff version, ordered by scope and start.
func (s *Store) ListTariffs(ctx context.Context) ([]billing.Tariff, error) {
	return s.queryTariffs(ctx, ``)
}

// FindTariffs implements billing.TariffSource: one consistent read of
// all tariffs whose scope is general or one of the given companies and
// whose window intersects [from, to].
func (s *Store) FindTariffs(ctx context.Context, companies []string, from, to billing.Date) ([]billing.Tariff, error) {
	where := `WHERE t.company_id = ''`
	args := []any{}
	if len(companies) > 0 {
		where = fmt.Sprintf(`WHERE (t.company_id = '' OR t.company_id IN (%s))`,
			strings.TrimSuffix(strings.Repeat("?,", len(companies)), ","))
		for _, c := range companies {
			args = append(args, c)
		}
	}
	where += ` AND t.effective_from <= ? AND (t.effective_to IS NULL OR t.effective_to >= ?)`
	args = append(args, to.String(), from.String())

	return s.queryTariffs(ctx, where, args...)
}

func (s *Store) queryTariffs(ctx context.Context, where string, args ...any) ([]billing.Tariff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT t.id, t.company_id, t.effective_from, t.effective_to, t.notes, t.created_by, t.created_at,
		       r.size, r.status, r.daily_rate_usd, r.daily_rate_uzs, r.free_days
		FROM tariffs t
		JOIN rate_entries r ON r.tariff_id = t.id
		` + where + `
		ORDER BY t.company_id, t.effective_from, t.id
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tariffs: %w", err)
	}
	defer rows.Close()

	var tariffs []billing.Tariff
	for rows.Next() {
		var (
			id, companyID, from  string
			to, notes, createdBy sql.NullString
			createdAt            string
			size, status         string
			rateUSD, rateUZS     string
			freeDays             int
		)
		if err := rows.Scan(&id, &companyID, &from, &to, &notes, &createdBy, &createdAt,
			&size, &status, &rateUSD, &rateUZS, &freeDays); err != nil {
			return nil, fmt.Errorf("failed to scan tariff row: %w", err)
		}

		if len(tariffs) == 0 || tariffs[len(tariffs)-1].ID != id {
			t, err := buildTariff(id, companyID, from, to, notes.String, createdBy.String, createdAt)
			if err != nil {
				return nil, err
			}
			tariffs = append(tariffs, t)
		}
		current := &tariffs[len(tariffs)-1]

		usd, err := decimal.NewFromString(rateUSD)
		if err != nil {
			return nil, fmt.Errorf("bad daily_rate_usd for tariff %s: %w", id, err)
		}
		uzs, err := decimal.NewFromString(rateUZS)
		if err != nil {
			return nil, fmt.Errorf("bad daily_rate_uzs for tariff %s: %w", id, err)
		}
		current.Rates = append(current.Rates, billing.RateEntry{
			Size:         billing.ContainerSize(size),
			Status:       billing.LoadStatus(status),
			DailyRateUSD: usd,
			DailyRateUZS: uzs,
			FreeDays:     freeDays,
		})
	}
	return tariffs, rows.Err()
}

func buildTariff(id, companyID, from string, to sql.NullString, notes, createdBy, createdAt string) (billing.Tariff, error) {
	effectiveFrom, err := billing.ParseDate(from)
	if err != nil {
		return billing.Tariff{}, fmt.Errorf("bad effective_from for tariff %s: %w", id, err)
	}
	t := billing.Tariff{
		ID:            id,
		CompanyID:     companyID,
		EffectiveFrom: effectiveFrom,
		Notes:         notes,
		CreatedBy:     createdBy,
	}
	if to.Valid {
		effectiveTo, err := billing.ParseDate(to.String)
		if err != nil {
			return billing.Tariff{}, fmt.Errorf("bad effective_to for tariff %s: %w", id, err)
		}
		t.EffectiveTo = &effectiveTo
	}
	if created, err := time.Parse(time.RFC3339, createdAt); err == nil {
		t.CreatedAt = created
	}
	return t, nil
}

// =============================================================================
// DWELL RECORDS (billing.DwellSource)
// =============================================================================

// SaveDwell inserts a gate-entry record.
func (s *Store) SaveDwell(ctx context.Context, rec billing.DwellRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exitDate any
	if rec.ExitDate != nil {
		exitDate = rec.ExitDate.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dwell_records (id, company_id, container_no, iso_type, status, entry_time, exit_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.CompanyID, rec.ContainerNo, rec.ISOType, string(rec.Status),
		rec.EntryTime.UTC().Format(time.RFC3339),
		exitDate,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dwell record: %w", err)
	}
	return nil
}

// CloseDwell records the gate exit. A dwell is immutable once closed.
func (s *Store) CloseDwell(ctx context.Context, id string, exit billing.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE dwell_records SET exit_date = ? WHERE id = ? AND exit_date IS NULL`,
		exit.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close dwell record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrDwellNotFound
	}
	return nil
}

// GetDwell returns one dwell record, or nil when absent.
func (s *Store) GetDwell(ctx context.Context, id string) (*billing.DwellRecord, error) {
	recs, err := s.queryDwells(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// ListDwells returns records matching the filter, ordered by entry time.
func (s *Store) ListDwells(ctx context.Context, filter billing.DwellFilter) ([]billing.DwellRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.IDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("id IN (%s)",
			strings.TrimSuffix(strings.Repeat("?,", len(filter.IDs)), ",")))
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.CompanyID != "" {
		clauses = append(clauses, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "exit_date IS NULL")
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return s.queryDwells(ctx, where, args...)
}

func (s *Store) queryDwells(ctx context.Context, where string, args ...any) ([]billing.DwellRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, company_id, container_no, iso_type, status, entry_time, exit_date, created_at
		FROM dwell_records
		` + where + `
		ORDER BY entry_time ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dwell records: %w", err)
	}
	defer rows.Close()

	var recs []billing.DwellRecord
	for rows.Next() {
		var (
			rec       billing.DwellRecord
			status    string
			entryTime string
			exitDate  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.CompanyID, &rec.ContainerNo, &rec.ISOType,
			&status, &entryTime, &exitDate, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dwell record: %w", err)
		}
		rec.Status = billing.LoadStatus(status)
		if t, err := time.Parse(time.RFC3339, entryTime); err == nil {
			rec.EntryTime = t
		}
		if exitDate.Valid {
			d, err := billing.ParseDate(exitDate.String)
			if err != nil {
				return nil, fmt.Errorf("bad exit_date for dwell %s: %w", rec.ID, err)
			}
			rec.ExitDate = &d
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
