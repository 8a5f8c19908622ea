package payroll

import (
	"context"
	"time"
)

// Transactor runs fn inside a database transaction carried by the context.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository reads and maintains grades, deductions, bonuses and overtime.
type CatalogRepository interface {
	// Grades
	CreateGrade(ctx context.Context, grade SalaryGrade) (SalaryGrade, error)
	GetGradeByID(ctx context.Context, id string) (SalaryGrade, error)
	ListGradesByLevel(ctx context.Context, level string, asOf time.Time) ([]SalaryGrade, error)
	ListGrades(ctx context.Context, asOf *time.Time) ([]SalaryGrade, error)

	// Deductions
	CreateDeduction(ctx context.Context, deduction Deduction) (Deduction, error)
	ListDeductions(ctx context.Context, asOf *time.Time) ([]Deduction, error)
	SetDeductionActive(ctx context.Context, id string, active bool) (Deduction, error)

	// Bonuses
	CreateBonus(ctx context.Context, bonus Bonus) (Bonus, error)
	GetBonusByID(ctx context.Context, id string) (Bonus, error)
	UpdateBonusApproval(ctx context.Context, id string, status ApprovalStatus) (Bonus, error)
	ListBonuses(ctx context.Context, employeeID string, from, to time.Time) ([]Bonus, error)

	// Overtime
	UpsertOvertime(ctx context.Context, record OvertimeRecord) (OvertimeRecord, error)
	GetOvertime(ctx context.Context, employeeID string, month, year int) (*OvertimeRecord, error)
}

// EmployeeDirectory is the read side of the HR employee module.
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id string) (Employee, error)
	ListActiveEmployees(ctx context.Context, departmentID *string, ids []string) ([]Employee, error)
}

// PayrollRepository persists periods, entries and batch runs.
type PayrollRepository interface {
	// Periods
	GetOrCreatePeriod(ctx context.Context, month, year int) (Period, error)
	GetPeriodByID(ctx context.Context, id string) (Period, error)
	LockPeriod(ctx context.Context, id string) (Period, error)
	ListPeriods(ctx context.Context, filter PeriodFilter) ([]Period, int64, error)
	UpdatePeriod(ctx context.Context, period Period) error

	// Entries
	AcquireEntryLock(ctx context.Context, employeeID, periodID string) error
	GetEntryByID(ctx context.Context, id string) (Entry, error)
	GetEntry(ctx context.Context, employeeID, periodID string) (*Entry, error)
	ListEntriesByPeriod(ctx context.Context, periodID string) ([]Entry, error)
	ListEntriesByEmployee(ctx context.Context, employeeID string) ([]Entry, error)
	UpsertEntry(ctx context.Context, entry Entry) (Entry, error)

	// Batch runs
	CreateBatchRun(ctx context.Context, run BatchRun) (BatchRun, error)
	GetBatchRun(ctx context.Context, id string) (BatchRun, error)
	UpdateBatchRun(ctx context.Context, run BatchRun) error
	ListStaleBatchRuns(ctx context.Context, startedBefore time.Time) ([]BatchRun, error)
}
