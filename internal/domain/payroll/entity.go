package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// ========== CATALOG ==========

type ComponentKind string

const (
	ComponentKindFixed      ComponentKind = "fixed"
	ComponentKindPercentage ComponentKind = "percentage"
)

// Component is an allowance attached to a salary grade.
type Component struct {
	ID      string          `json:"id"`
	GradeID string          `json:"grade_id"`
	Name    string          `json:"name"`
	Kind    ComponentKind   `json:"kind"`
	Value   decimal.Decimal `json:"value"`
}

// SalaryGrade is one version of a grade level. A grade with DepartmentID set
// applies only to that department and overrides the global grade of the same level.
type SalaryGrade struct {
	ID            string          `json:"id"`
	Level         string          `json:"level"`
	BasicSalary   decimal.Decimal `json:"basic_salary"`
	DepartmentID  *string         `json:"department_id,omitempty"`
	Components    []Component     `json:"components"`
	EffectiveDate time.Time       `json:"effective_date"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type DeductionCategory string

const (
	DeductionCategoryStatutory DeductionCategory = "statutory"
	DeductionCategoryVoluntary DeductionCategory = "voluntary"
)

// Statutory deduction codes reported in dedicated entry slots.
const (
	DeductionCodePAYE    = "paye"
	DeductionCodePension = "pension"
	DeductionCodeNHF     = "nhf"
)

// Deduction is one version of a catalog deduction, identified across versions by Code.
type Deduction struct {
	ID            string            `json:"id"`
	Code          string            `json:"code"`
	Name          string            `json:"name"`
	Category      DeductionCategory `json:"category"`
	Rule          DeductionRule     `json:"-"`
	IsActive      bool              `json:"is_active"`
	EffectiveDate time.Time         `json:"effective_date"`
	DepartmentID  *string           `json:"department_id,omitempty"`
	Priority      int               `json:"priority"`
	// DependsOn lists codes whose amounts are subtracted from gross pay
	// before this deduction is computed.
	DependsOn     []string          `json:"depends_on,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AppliesTo reports whether the deduction covers an employee of the given department.
func (d Deduction) AppliesTo(departmentID string) bool {
	return d.DepartmentID == nil || *d.DepartmentID == departmentID
}

type BonusType string

const (
	BonusTypePerformance     BonusType = "performance"
	BonusTypeThirteenthMonth BonusType = "thirteenth_month"
	BonusTypeRetention       BonusType = "retention"
	BonusTypeSigning         BonusType = "signing"
	BonusTypeHoliday         BonusType = "holiday"
	BonusTypeOther           BonusType = "other"
)

var ValidBonusTypes = []string{
	string(BonusTypePerformance), string(BonusTypeThirteenthMonth), string(BonusTypeRetention),
	string(BonusTypeSigning), string(BonusTypeHoliday), string(BonusTypeOther),
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type Bonus struct {
	ID             string          `json:"id"`
	EmployeeID     string          `json:"employee_id"`
	Type           BonusType       `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentDate    time.Time       `json:"payment_date"`
	ApprovalStatus ApprovalStatus  `json:"approval_status"`
	Taxable        bool            `json:"taxable"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OvertimeRecord struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	Month      int             `json:"month"`
	Year       int             `json:"year"`
	Hours      decimal.Decimal `json:"hours"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Employee is the read-only view of an employee owned by the HR module.
type Employee struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name"`
	DepartmentID   string `json:"department_id"`
	DepartmentName string `json:"department_name"`
	SalaryGradeID  string `json:"salary_grade_id"`
	Active         bool   `json:"active"`
}

// ========== ENTRIES ==========

type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusApproved   EntryStatus = "approved"
	EntryStatusPaid       EntryStatus = "paid"
	EntryStatusRejected   EntryStatus = "rejected"
	EntryStatusCancelled  EntryStatus = "cancelled"
)

var ValidEntryStatuses = []string{
	string(EntryStatusPending), string(EntryStatusProcessing), string(EntryStatusApproved),
	string(EntryStatusPaid), string(EntryStatusRejected), string(EntryStatusCancelled),
}

type AllowanceLine struct {
	Name   string          `json:"name"`
	Kind   ComponentKind   `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

type Allowances struct {
	GradeAllowances []AllowanceLine `json:"gradeAllowances"`
	TotalAllowances decimal.Decimal `json:"totalAllowances"`
}

type Overtime struct {
	Hours      decimal.Decimal `json:"hours"`
	HourlyRate decimal.Decimal `json:"hourlyRate"`
	Amount     decimal.Decimal `json:"amount"`
}

type BonusLine struct {
	BonusID string          `json:"bonusId"`
	Type    BonusType       `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Taxable bool            `json:"taxable"`
}

type Bonuses struct {
	Lines          []BonusLine     `json:"lines,omitempty"`
	TaxableBonuses decimal.Decimal `json:"taxableBonuses"`
	TotalBonuses   decimal.Decimal `json:"totalBonuses"`
}

type DeductionAmount struct {
	Amount decimal.Decimal `json:"amount"`
}

type DeductionLine struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Deductions keeps statutory lines in dedicated slots. A nil slot means the
// deduction was not calculated for the entry, which is different from zero.
type Deductions struct {
	Tax             *DeductionAmount `json:"tax,omitempty"`
	Pension         *DeductionAmount `json:"pension,omitempty"`
	NHF             *DeductionAmount `json:"nhf,omitempty"`
	Others          []DeductionLine  `json:"others"`
	TotalDeductions decimal.Decimal  `json:"totalDeductions"`
	Capped          bool             `json:"capped,omitempty"`
}

type Totals struct {
	GrossPay decimal.Decimal `json:"grossPay"`
	NetPay   decimal.Decimal `json:"netPay"`
}

// Entry is the payroll result for one employee in one period.
// (EmployeeID, PeriodID) identifies it; recalculation replaces it in place.
type Entry struct {
	ID               string          `json:"id"`
	EmployeeID       string          `json:"employeeId"`
	PeriodID         string          `json:"periodId"`
	Month            int             `json:"month"`
	Year             int             `json:"year"`
	EmployeeName     string          `json:"employeeName"`
	DepartmentID     string          `json:"departmentId"`
	DepartmentName   string          `json:"departmentName"`
	SalaryGradeID    string          `json:"salaryGradeId"`
	GradeLevel       string          `json:"gradeLevel"`
	BasicSalary      decimal.Decimal `json:"basicSalary"`
	Allowances       Allowances      `json:"allowances"`
	Overtime         Overtime        `json:"overtime"`
	Bonuses          Bonuses         `json:"bonuses"`
	Deductions       Deductions      `json:"deductions"`
	Totals           Totals          `json:"totals"`
	Status           EntryStatus     `json:"status"`
	RejectionReason  *string         `json:"rejectionReason,omitempty"`
	PaymentReference *string         `json:"paymentReference,omitempty"`
	PaymentDate      *time.Time      `json:"paymentDate,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// TotalCost is everything paid out before deductions.
func (e Entry) TotalCost() decimal.Decimal {
	return e.BasicSalary.Add(e.Allowances.TotalAllowances).Add(e.Overtime.Amount).Add(e.Bonuses.TotalBonuses)
}

// SameFigures reports whether two entries carry identical computed fields,
// every line included.
func (e Entry) SameFigures(other Entry) bool {
	if e.EmployeeName != other.EmployeeName || e.DepartmentID != other.DepartmentID ||
		e.DepartmentName != other.DepartmentName || e.SalaryGradeID != other.SalaryGradeID {
		return false
	}
	if !e.BasicSalary.Equal(other.BasicSalary) ||
		!e.Allowances.TotalAllowances.Equal(other.Allowances.TotalAllowances) ||
		!e.Overtime.Hours.Equal(other.Overtime.Hours) ||
		!e.Overtime.HourlyRate.Equal(other.Overtime.HourlyRate) ||
		!e.Overtime.Amount.Equal(other.Overtime.Amount) ||
		!e.Bonuses.TaxableBonuses.Equal(other.Bonuses.TaxableBonuses) ||
		!e.Bonuses.TotalBonuses.Equal(other.Bonuses.TotalBonuses) ||
		!e.Deductions.TotalDeductions.Equal(other.Deductions.TotalDeductions) ||
		!e.Totals.GrossPay.Equal(other.Totals.GrossPay) ||
		!e.Totals.NetPay.Equal(other.Totals.NetPay) {
		return false
	}
	if e.Deductions.Capped != other.Deductions.Capped {
		return false
	}
	if len(e.Allowances.GradeAllowances) != len(other.Allowances.GradeAllowances) ||
		len(e.Bonuses.Lines) != len(other.Bonuses.Lines) ||
		len(e.Deductions.Others) != len(other.Deductions.Others) {
		return false
	}
	for i, a := range e.Allowances.GradeAllowances {
		b := other.Allowances.GradeAllowances[i]
		if a.Name != b.Name || a.Kind != b.Kind || !a.Amount.Equal(b.Amount) {
			return false
		}
	}
	for i, a := range e.Bonuses.Lines {
		b := other.Bonuses.Lines[i]
		if a.BonusID != b.BonusID || a.Type != b.Type || a.Taxable != b.Taxable || !a.Amount.Equal(b.Amount) {
			return false
		}
	}
	for i, a := range e.Deductions.Others {
		b := other.Deductions.Others[i]
		if a.Code != b.Code || a.Name != b.Name || !a.Amount.Equal(b.Amount) {
			return false
		}
	}
	return sameSlot(e.Deductions.Tax, other.Deductions.Tax) &&
		sameSlot(e.Deductions.Pension, other.Deductions.Pension) &&
		sameSlot(e.Deductions.NHF, other.Deductions.NHF)
}

func sameSlot(a, b *DeductionAmount) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Amount.Equal(b.Amount)
}

// ========== PERIODS ==========

type PeriodStatus string

const (
	PeriodStatusDraft      PeriodStatus = "draft"
	PeriodStatusProcessing PeriodStatus = "processing"
	PeriodStatusApproved   PeriodStatus = "approved"
	PeriodStatusPaid       PeriodStatus = "paid"
)

type ComplianceChecks struct {
	PayeCalculated     bool `json:"paye_calculated"`
	PensionDeducted    bool `json:"pension_deducted"`
	NHFDeducted        bool `json:"nhf_deducted"`
	TaxReportGenerated bool `json:"tax_report_generated"`
}

type Period struct {
	ID               string           `json:"id"`
	Month            int              `json:"month"`
	Year             int              `json:"year"`
	Status           PeriodStatus     `json:"status"`
	BatchInProgress  bool             `json:"batch_in_progress"`
	ProcessingDate   time.Time        `json:"processing_date"`
	TotalEmployees   int              `json:"total_employees"`
	TotalBasicSalary decimal.Decimal  `json:"total_basic_salary"`
	TotalAllowances  decimal.Decimal  `json:"total_allowances"`
	TotalOvertime    decimal.Decimal  `json:"total_overtime"`
	TotalBonuses     decimal.Decimal  `json:"total_bonuses"`
	TotalGrossPay    decimal.Decimal  `json:"total_gross_pay"`
	TotalDeductions  decimal.Decimal  `json:"total_deductions"`
	TotalNetSalary   decimal.Decimal  `json:"total_net_salary"`
	ComplianceChecks ComplianceChecks `json:"compliance_checks"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// PeriodBounds returns the first and last calendar day of a month.
func PeriodBounds(month, year int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start, end
}

// Contains reports whether t falls on a day of the period month.
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && int(t.Month()) == p.Month
}

// ========== BATCHES ==========

type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusRejected  BatchStatus = "rejected"
)

type BatchOutcome string

const (
	BatchOutcomeSucceeded          BatchOutcome = "succeeded"
	BatchOutcomePartiallySucceeded BatchOutcome = "partially_succeeded"
	BatchOutcomeRejected           BatchOutcome = "rejected"
)

type BatchFailure struct {
	EmployeeID string `json:"employee_id"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

// BatchRun is persisted so an interrupted batch can be resumed.
type BatchRun struct {
	ID              string         `json:"id"`
	PeriodID        string         `json:"period_id"`
	Month           int            `json:"month"`
	Year            int            `json:"year"`
	DepartmentID    *string        `json:"department_id,omitempty"`
	EmployeeIDs     []string       `json:"employee_ids,omitempty"`
	Status          BatchStatus    `json:"status"`
	Outcome         *BatchOutcome  `json:"outcome,omitempty"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	Processed       int            `json:"processed"`
	Skipped         int            `json:"skipped"`
	Failures        []BatchFailure `json:"failures"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// ========== CALLER ==========

// CallerContext identifies who is invoking an operation. DepartmentScope
// restricts visibility to one department when set.
type CallerContext struct {
	UserID          string
	EmployeeID      string
	DepartmentScope *string
	Role            string
}

const (
	RoleAdmin        = "admin"
	RolePayrollAdmin = "payroll_admin"
	RoleEmployee     = "employee"
)

// IsPayrollAdmin reports whether the caller may manage payroll for others.
func (c CallerContext) IsPayrollAdmin() bool {
	return c.Role == RoleAdmin || c.Role == RolePayrollAdmin
}

// SystemCaller is the unscoped caller used by background jobs and seeding.
func SystemCaller() CallerContext {
	return CallerContext{UserID: "system", Role: RolePayrollAdmin}
}

// CanView reports whether the caller may see an entry.
func (c CallerContext) CanView(e Entry) bool {
	if c.EmployeeID != "" && c.EmployeeID == e.EmployeeID {
		return true
	}
	if !c.IsPayrollAdmin() {
		return false
	}
	return c.DepartmentScope == nil || *c.DepartmentScope == e.DepartmentID
}
