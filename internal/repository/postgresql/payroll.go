package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

type payrollRepository struct {
	db *database.DB
}

func NewPayrollRepository(db *database.DB) payroll.PayrollRepository {
	return &payrollRepository{db: db}
}

// ========== PERIODS ==========

const periodColumns = `
	id, month, year, status, batch_in_progress, processing_date,
	total_employees, total_basic_salary, total_allowances, total_overtime, total_bonuses,
	total_gross_pay, total_deductions, total_net_salary, compliance_checks,
	created_at, updated_at
`

func scanPeriod(row pgx.Row) (payroll.Period, error) {
	var (
		p          payroll.Period
		compliance []byte
	)
	err := row.Scan(
		&p.ID, &p.Month, &p.Year, &p.Status, &p.BatchInProgress, &p.ProcessingDate,
		&p.TotalEmployees, &p.TotalBasicSalary, &p.TotalAllowances, &p.TotalOvertime, &p.TotalBonuses,
		&p.TotalGrossPay, &p.TotalDeductions, &p.TotalNetSalary, &compliance,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return payroll.Period{}, err
	}
	if err := json.Unmarshal(compliance, &p.ComplianceChecks); err != nil {
		return payroll.Period{}, fmt.Errorf("failed to decode compliance checks: %w", err)
	}
	return p, nil
}

// GetOrCreatePeriod returns the period for a month, creating it on first use.
// The processing date is fixed to the month's last day at creation.
func (r *payrollRepository) GetOrCreatePeriod(ctx context.Context, month, year int) (payroll.Period, error) {
	q := GetQuerier(ctx, r.db)

	_, processingDate := payroll.PeriodBounds(month, year)
	_, err := q.Exec(ctx, `
		INSERT INTO payroll_periods (month, year, processing_date)
		VALUES ($1, $2, $3)
		ON CONFLICT (month, year) DO NOTHING
	`, month, year, processingDate)
	if err != nil {
		return payroll.Period{}, fmt.Errorf("failed to create payroll period: %w", err)
	}

	p, err := scanPeriod(q.QueryRow(ctx, "SELECT "+periodColumns+" FROM payroll_periods WHERE month = $1 AND year = $2", month, year))
	if err != nil {
		return payroll.Period{}, fmt.Errorf("failed to get payroll period: %w", err)
	}
	return p, nil
}

func (r *payrollRepository) GetPeriodByID(ctx context.Context, id string) (payroll.Period, error) {
	q := GetQuerier(ctx, r.db)

	p, err := scanPeriod(q.QueryRow(ctx, "SELECT "+periodColumns+" FROM payroll_periods WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Period{}, payroll.ErrPeriodNotFound
		}
		return payroll.Period{}, fmt.Errorf("failed to get payroll period: %w", err)
	}
	return p, nil
}

// LockPeriod reads a period under a row lock held until the transaction ends.
func (r *payrollRepository) LockPeriod(ctx context.Context, id string) (payroll.Period, error) {
	q := GetQuerier(ctx, r.db)

	p, err := scanPeriod(q.QueryRow(ctx, "SELECT "+periodColumns+" FROM payroll_periods WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Period{}, payroll.ErrPeriodNotFound
		}
		return payroll.Period{}, fmt.Errorf("failed to lock payroll period: %w", err)
	}
	return p, nil
}

func (r *payrollRepository) ListPeriods(ctx context.Context, filter payroll.PeriodFilter) ([]payroll.Period, int64, error) {
	q := GetQuerier(ctx, r.db)

	baseQuery := "FROM payroll_periods WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filter.Year != nil {
		baseQuery += fmt.Sprintf(" AND year = $%d", argIdx)
		args = append(args, *filter.Year)
		argIdx++
	}
	if filter.Status != nil {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}

	// Count query
	var totalCount int64
	if err := q.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count payroll periods: %w", err)
	}

	// Pagination
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.Limit

	selectQuery := fmt.Sprintf(`SELECT %s %s ORDER BY year DESC, month DESC LIMIT $%d OFFSET $%d`,
		periodColumns, baseQuery, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	rows, err := q.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payroll periods: %w", err)
	}
	defer rows.Close()

	periods := make([]payroll.Period, 0)
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payroll period: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list payroll periods: %w", err)
	}

	return periods, totalCount, nil
}

func (r *payrollRepository) UpdatePeriod(ctx context.Context, p payroll.Period) error {
	q := GetQuerier(ctx, r.db)

	compliance, err := json.Marshal(p.ComplianceChecks)
	if err != nil {
		return fmt.Errorf("failed to encode compliance checks: %w", err)
	}

	tag, err := q.Exec(ctx, `
		UPDATE payroll_periods SET
			status = $2, batch_in_progress = $3,
			total_employees = $4, total_basic_salary = $5, total_allowances = $6,
			total_overtime = $7, total_bonuses = $8, total_gross_pay = $9,
			total_deductions = $10, total_net_salary = $11, compliance_checks = $12,
			updated_at = $13
		WHERE id = $1
	`,
		p.ID, p.Status, p.BatchInProgress,
		p.TotalEmployees, p.TotalBasicSalary, p.TotalAllowances,
		p.TotalOvertime, p.TotalBonuses, p.TotalGrossPay,
		p.TotalDeductions, p.TotalNetSalary, compliance,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payroll period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrPeriodNotFound
	}
	return nil
}

// ========== ENTRIES ==========

// AcquireEntryLock takes a transaction-scoped advisory lock on an
// (employee, period) pair. It fails fast instead of waiting.
func (r *payrollRepository) AcquireEntryLock(ctx context.Context, employeeID, periodID string) error {
	q := GetQuerier(ctx, r.db)

	var acquired bool
	err := q.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1), hashtext($2))`, employeeID, periodID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire payroll entry lock: %w", err)
	}
	if !acquired {
		return &payroll.CalculationInProgressError{EmployeeID: employeeID, PeriodID: periodID}
	}
	return nil
}

func scanEntry(row pgx.Row) (payroll.Entry, error) {
	var document []byte
	if err := row.Scan(&document); err != nil {
		return payroll.Entry{}, err
	}
	var e payroll.Entry
	if err := json.Unmarshal(document, &e); err != nil {
		return payroll.Entry{}, fmt.Errorf("failed to decode payroll entry: %w", err)
	}
	return e, nil
}

func (r *payrollRepository) GetEntryByID(ctx context.Context, id string) (payroll.Entry, error) {
	q := GetQuerier(ctx, r.db)

	e, err := scanEntry(q.QueryRow(ctx, `SELECT document FROM payroll_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Entry{}, payroll.ErrEntryNotFound
		}
		return payroll.Entry{}, fmt.Errorf("failed to get payroll entry: %w", err)
	}
	return e, nil
}

func (r *payrollRepository) GetEntry(ctx context.Context, employeeID, periodID string) (*payroll.Entry, error) {
	q := GetQuerier(ctx, r.db)

	e, err := scanEntry(q.QueryRow(ctx,
		`SELECT document FROM payroll_entries WHERE employee_id = $1 AND period_id = $2`, employeeID, periodID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payroll entry: %w", err)
	}
	return &e, nil
}

func (r *payrollRepository) listEntries(ctx context.Context, query string, args ...interface{}) ([]payroll.Entry, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payroll entries: %w", err)
	}
	defer rows.Close()

	entries := make([]payroll.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payroll entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payroll entries: %w", err)
	}
	return entries, nil
}

func (r *payrollRepository) ListEntriesByPeriod(ctx context.Context, periodID string) ([]payroll.Entry, error) {
	return r.listEntries(ctx,
		`SELECT document FROM payroll_entries WHERE period_id = $1 ORDER BY employee_id`, periodID)
}

func (r *payrollRepository) ListEntriesByEmployee(ctx context.Context, employeeID string) ([]payroll.Entry, error) {
	return r.listEntries(ctx,
		`SELECT document FROM payroll_entries WHERE employee_id = $1 ORDER BY year DESC, month DESC`, employeeID)
}

// UpsertEntry writes the entry document, replacing the row for the same
// (employee, period) in place.
func (r *payrollRepository) UpsertEntry(ctx context.Context, e payroll.Entry) (payroll.Entry, error) {
	q := GetQuerier(ctx, r.db)

	document, err := json.Marshal(e)
	if err != nil {
		return payroll.Entry{}, fmt.Errorf("failed to encode payroll entry: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payroll_entries (
			id, employee_id, period_id, department_id, month, year,
			status, net_pay, document, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (employee_id, period_id) DO UPDATE SET
			department_id = EXCLUDED.department_id,
			status = EXCLUDED.status,
			net_pay = EXCLUDED.net_pay,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`,
		e.ID, e.EmployeeID, e.PeriodID, nullIfEmpty(e.DepartmentID), e.Month, e.Year,
		e.Status, e.Totals.NetPay, document, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return payroll.Entry{}, fmt.Errorf("failed to upsert payroll entry: %w", err)
	}
	return e, nil
}

// ========== BATCH RUNS ==========

const batchRunColumns = `
	r.id, r.period_id, p.month, p.year, r.department_id, r.employee_ids, r.status, r.outcome,
	r.rejection_reason, r.processed, r.skipped, r.failures, r.started_at, r.completed_at
`

func scanBatchRun(row pgx.Row) (payroll.BatchRun, error) {
	var (
		run      payroll.BatchRun
		failures []byte
	)
	err := row.Scan(
		&run.ID, &run.PeriodID, &run.Month, &run.Year, &run.DepartmentID, &run.EmployeeIDs, &run.Status, &run.Outcome,
		&run.RejectionReason, &run.Processed, &run.Skipped, &failures, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return payroll.BatchRun{}, err
	}
	if err := json.Unmarshal(failures, &run.Failures); err != nil {
		return payroll.BatchRun{}, fmt.Errorf("failed to decode batch failures: %w", err)
	}
	return run, nil
}

func (r *payrollRepository) CreateBatchRun(ctx context.Context, run payroll.BatchRun) (payroll.BatchRun, error) {
	q := GetQuerier(ctx, r.db)

	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return payroll.BatchRun{}, fmt.Errorf("failed to encode batch failures: %w", err)
	}
	employeeIDs := run.EmployeeIDs
	if employeeIDs == nil {
		employeeIDs = []string{}
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payroll_batch_runs (
			id, period_id, department_id, employee_ids, status, processed, skipped, failures, started_at
		) VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)
	`, run.ID, run.PeriodID, run.DepartmentID, employeeIDs, run.Status, failures, run.StartedAt)
	if err != nil {
		return payroll.BatchRun{}, fmt.Errorf("failed to create batch run: %w", err)
	}
	return run, nil
}

func (r *payrollRepository) GetBatchRun(ctx context.Context, id string) (payroll.BatchRun, error) {
	q := GetQuerier(ctx, r.db)

	run, err := scanBatchRun(q.QueryRow(ctx, `
		SELECT `+batchRunColumns+`
		FROM payroll_batch_runs r
		JOIN payroll_periods p ON p.id = r.period_id
		WHERE r.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.BatchRun{}, payroll.ErrBatchRunNotFound
		}
		return payroll.BatchRun{}, fmt.Errorf("failed to get batch run: %w", err)
	}
	return run, nil
}

func (r *payrollRepository) UpdateBatchRun(ctx context.Context, run payroll.BatchRun) error {
	q := GetQuerier(ctx, r.db)

	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode batch failures: %w", err)
	}

	tag, err := q.Exec(ctx, `
		UPDATE payroll_batch_runs SET
			status = $2, outcome = $3, rejection_reason = $4,
			processed = $5, skipped = $6, failures = $7, completed_at = $8
		WHERE id = $1
	`, run.ID, run.Status, run.Outcome, run.RejectionReason, run.Processed, run.Skipped, failures, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update batch run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrBatchRunNotFound
	}
	return nil
}

func (r *payrollRepository) ListStaleBatchRuns(ctx context.Context, startedBefore time.Time) ([]payroll.BatchRun, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT `+batchRunColumns+`
		FROM payroll_batch_runs r
		JOIN payroll_periods p ON p.id = r.period_id
		WHERE r.status = 'running' AND r.started_at < $1
		ORDER BY r.started_at
	`, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale batch runs: %w", err)
	}
	defer rows.Close()

	runs := make([]payroll.BatchRun, 0)
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
