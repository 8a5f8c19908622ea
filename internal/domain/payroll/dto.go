package payroll

import (
	"strings"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

func validatePeriod(errs validator.ValidationErrors, month, year int) validator.ValidationErrors {
	if !validator.InRange(month, 1, 12) {
		errs = append(errs, validator.ValidationError{Field: "month", Message: "must be between 1 and 12"})
	}
	if !validator.InRange(year, 2000, 2100) {
		errs = append(errs, validator.ValidationError{Field: "year", Message: "must be between 2000 and 2100"})
	}
	return errs
}

// ========== CALCULATION DTOs ==========

type CalculatePayrollRequest struct {
	EmployeeID    string `json:"employee_id"`
	Month         int    `json:"month"`
	Year          int    `json:"year"`
	SalaryGradeID string `json:"salary_grade_id"`
}

func (r *CalculatePayrollRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.EmployeeID) {
		errs = append(errs, validator.ValidationError{Field: "employee_id", Message: "is required"})
	}
	if validator.IsEmpty(r.SalaryGradeID) {
		errs = append(errs, validator.ValidationError{Field: "salary_grade_id", Message: "is required"})
	}
	errs = validatePeriod(errs, r.Month, r.Year)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type RunBatchRequest struct {
	Month        int      `json:"month"`
	Year         int      `json:"year"`
	DepartmentID *string  `json:"department_id,omitempty"`
	EmployeeIDs  []string `json:"employee_ids,omitempty"`
}

func (r *RunBatchRequest) Validate() error {
	var errs validator.ValidationErrors

	errs = validatePeriod(errs, r.Month, r.Year)
	for _, id := range r.EmployeeIDs {
		if validator.IsEmpty(id) {
			errs = append(errs, validator.ValidationError{Field: "employee_ids", Message: "must not contain empty ids"})
			break
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type BatchResult struct {
	BatchID         string         `json:"batch_id"`
	PeriodID        string         `json:"period_id"`
	Outcome         BatchOutcome   `json:"outcome"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	Processed       int            `json:"processed"`
	Skipped         int            `json:"skipped"`
	Failures        []BatchFailure `json:"failures"`
	Summary         *Summary       `json:"summary,omitempty"`
}

// ========== LIFECYCLE DTOs ==========

type TransitionRequest struct {
	EntryID          string      `json:"-"`
	Status           EntryStatus `json:"status"`
	Reason           *string     `json:"reason,omitempty"`
	PaymentReference *string     `json:"payment_reference,omitempty"`
}

func (r *TransitionRequest) Validate() error {
	var errs validator.ValidationErrors

	if !validator.IsInSlice(string(r.Status), ValidEntryStatuses) {
		errs = append(errs, validator.ValidationError{Field: "status", Message: "must be one of " + strings.Join(ValidEntryStatuses, ", ")})
	}
	if r.Status == EntryStatusRejected && (r.Reason == nil || validator.IsEmpty(*r.Reason)) {
		errs = append(errs, validator.ValidationError{Field: "reason", Message: "is required when rejecting"})
	}
	if r.Status == EntryStatusPaid && (r.PaymentReference == nil || validator.IsEmpty(*r.PaymentReference)) {
		errs = append(errs, validator.ValidationError{Field: "payment_reference", Message: "is required when marking paid"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type PaymentReferenceRequest struct {
	EntryID          string `json:"-"`
	PaymentReference string `json:"payment_reference"`
}

func (r *PaymentReferenceRequest) Validate() error {
	if validator.IsEmpty(r.PaymentReference) {
		return validator.ValidationErrors{{Field: "payment_reference", Message: "is required"}}
	}
	return nil
}

// ========== QUERY DTOs ==========

type PeriodFilter struct {
	Year   *int          `json:"year,omitempty"`
	Status *PeriodStatus `json:"status,omitempty"`
	Page   int           `json:"page"`
	Limit  int           `json:"limit"`
}

func (f *PeriodFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
}

type PeriodListResponse struct {
	Periods    []Period `json:"periods"`
	TotalCount int64    `json:"total_count"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"total_pages"`
}

type DepartmentBreakdown struct {
	DepartmentID   string          `json:"department_id"`
	DepartmentName string          `json:"department_name"`
	EmployeeCount  int             `json:"employee_count"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	TotalNet       decimal.Decimal `json:"total_net"`
}

// Summary is the read-only aggregate of a period's entries.
type Summary struct {
	PeriodID         string                `json:"period_id"`
	Month            int                   `json:"month"`
	Year             int                   `json:"year"`
	Status           PeriodStatus          `json:"status"`
	TotalEmployees   int                   `json:"total_employees"`
	TotalBasicSalary decimal.Decimal       `json:"total_basic_salary"`
	TotalAllowances  decimal.Decimal       `json:"total_allowances"`
	TotalOvertime    decimal.Decimal       `json:"total_overtime"`
	TotalBonuses     decimal.Decimal       `json:"total_bonuses"`
	TotalGrossPay    decimal.Decimal       `json:"total_gross_pay"`
	TotalDeductions  decimal.Decimal       `json:"total_deductions"`
	TotalNetSalary   decimal.Decimal       `json:"total_net_salary"`
	Departments      []DepartmentBreakdown `json:"departments"`
	StatusCounts     map[EntryStatus]int   `json:"status_counts"`
	ComplianceChecks ComplianceChecks      `json:"compliance_checks"`
	MissingPAYE      []string              `json:"missing_paye,omitempty"`
}

type TaxReportLine struct {
	EntryID        string          `json:"entry_id"`
	EmployeeID     string          `json:"employee_id"`
	EmployeeName   string          `json:"employee_name"`
	DepartmentName string          `json:"department_name"`
	GrossPay       decimal.Decimal `json:"gross_pay"`
	PAYE           decimal.Decimal `json:"paye"`
}

type TaxReport struct {
	PeriodID  string          `json:"period_id"`
	Month     int             `json:"month"`
	Year      int             `json:"year"`
	Lines     []TaxReportLine `json:"lines"`
	TotalPAYE decimal.Decimal `json:"total_paye"`
}

// ========== CATALOG DTOs ==========

type ComponentRequest struct {
	Name  string          `json:"name"`
	Kind  ComponentKind   `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type CreateSalaryGradeRequest struct {
	Level         string             `json:"level"`
	BasicSalary   decimal.Decimal    `json:"basic_salary"`
	DepartmentID  *string            `json:"department_id,omitempty"`
	EffectiveDate string             `json:"effective_date"`
	Components    []ComponentRequest `json:"components"`
}

// Validate checks the request. minimumBasic is the configured salary floor.
func (r *CreateSalaryGradeRequest) Validate(minimumBasic decimal.Decimal) error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.Level) {
		errs = append(errs, validator.ValidationError{Field: "level", Message: "is required"})
	}
	if r.BasicSalary.IsNegative() || r.BasicSalary.LessThan(minimumBasic) {
		errs = append(errs, validator.ValidationError{Field: "basic_salary", Message: "must be at least " + minimumBasic.String()})
	}
	if _, ok := validator.IsValidDate(r.EffectiveDate); !ok {
		errs = append(errs, validator.ValidationError{Field: "effective_date", Message: "must be in YYYY-MM-DD format"})
	}
	hundred := decimal.NewFromInt(100)
	for _, c := range r.Components {
		if validator.IsEmpty(c.Name) {
			errs = append(errs, validator.ValidationError{Field: "components.name", Message: "is required"})
		}
		switch c.Kind {
		case ComponentKindFixed:
			if c.Value.IsNegative() {
				errs = append(errs, validator.ValidationError{Field: "components.value", Message: "fixed value must be non-negative"})
			}
		case ComponentKindPercentage:
			if c.Value.IsNegative() || c.Value.GreaterThan(hundred) {
				errs = append(errs, validator.ValidationError{Field: "components.value", Message: "percentage must be between 0 and 100"})
			}
		default:
			errs = append(errs, validator.ValidationError{Field: "components.kind", Message: "must be 'fixed' or 'percentage'"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type CreateDeductionRequest struct {
	Code          string            `json:"code"`
	Name          string            `json:"name"`
	Category      DeductionCategory `json:"category"`
	Rule          RuleSpec          `json:"rule"`
	IsActive      *bool             `json:"is_active,omitempty"`
	EffectiveDate string            `json:"effective_date"`
	DepartmentID  *string           `json:"department_id,omitempty"`
	Priority      int               `json:"priority"`
	DependsOn     []string          `json:"depends_on,omitempty"`
}

func (r *CreateDeductionRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.Code) {
		errs = append(errs, validator.ValidationError{Field: "code", Message: "is required"})
	}
	if validator.IsEmpty(r.Name) {
		errs = append(errs, validator.ValidationError{Field: "name", Message: "is required"})
	}
	if r.Category != DeductionCategoryStatutory && r.Category != DeductionCategoryVoluntary {
		errs = append(errs, validator.ValidationError{Field: "category", Message: "must be 'statutory' or 'voluntary'"})
	}
	if !validator.IsInSlice(string(r.Rule.Method), ValidCalculationMethods) {
		errs = append(errs, validator.ValidationError{Field: "rule.method", Message: "must be one of " + strings.Join(ValidCalculationMethods, ", ")})
	} else if r.Rule.Method != MethodProgressive && r.Rule.Value == nil {
		errs = append(errs, validator.ValidationError{Field: "rule.value", Message: "is required"})
	}
	if _, ok := validator.IsValidDate(r.EffectiveDate); !ok {
		errs = append(errs, validator.ValidationError{Field: "effective_date", Message: "must be in YYYY-MM-DD format"})
	}
	for _, dep := range r.DependsOn {
		if dep == r.Code {
			errs = append(errs, validator.ValidationError{Field: "depends_on", Message: "must not reference itself"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDeductionActiveRequest switches a deduction on or off from EffectiveDate
// onwards. An empty EffectiveDate means today.
type SetDeductionActiveRequest struct {
	ID            string `json:"-"`
	IsActive      bool   `json:"is_active"`
	EffectiveDate string `json:"effective_date,omitempty"`
}

func (r *SetDeductionActiveRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.ID) {
		errs = append(errs, validator.ValidationError{Field: "id", Message: "is required"})
	}
	if r.EffectiveDate != "" {
		if _, ok := validator.IsValidDate(r.EffectiveDate); !ok {
			errs = append(errs, validator.ValidationError{Field: "effective_date", Message: "must be in YYYY-MM-DD format"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type CreateBonusRequest struct {
	EmployeeID  string          `json:"employee_id"`
	Type        BonusType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	Taxable     *bool           `json:"taxable,omitempty"`
}

func (r *CreateBonusRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.EmployeeID) {
		errs = append(errs, validator.ValidationError{Field: "employee_id", Message: "is required"})
	}
	if !validator.IsInSlice(string(r.Type), ValidBonusTypes) {
		errs = append(errs, validator.ValidationError{Field: "type", Message: "must be one of " + strings.Join(ValidBonusTypes, ", ")})
	}
	if !r.Amount.IsPositive() {
		errs = append(errs, validator.ValidationError{Field: "amount", Message: "must be positive"})
	}
	if _, ok := validator.IsValidDate(r.PaymentDate); !ok {
		errs = append(errs, validator.ValidationError{Field: "payment_date", Message: "must be in YYYY-MM-DD format"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type DecideBonusRequest struct {
	BonusID string         `json:"-"`
	Status  ApprovalStatus `json:"status"`
}

func (r *DecideBonusRequest) Validate() error {
	if r.Status != ApprovalApproved && r.Status != ApprovalRejected {
		return validator.ValidationErrors{{Field: "status", Message: "must be 'approved' or 'rejected'"}}
	}
	return nil
}

type RecordOvertimeRequest struct {
	EmployeeID string          `json:"employee_id"`
	Month      int             `json:"month"`
	Year       int             `json:"year"`
	Hours      decimal.Decimal `json:"hours"`
}

func (r *RecordOvertimeRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.EmployeeID) {
		errs = append(errs, validator.ValidationError{Field: "employee_id", Message: "is required"})
	}
	if r.Hours.IsNegative() {
		errs = append(errs, validator.ValidationError{Field: "hours", Message: "must be non-negative"})
	}
	errs = validatePeriod(errs, r.Month, r.Year)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParseDate parses a validated YYYY-MM-DD string.
func ParseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}
