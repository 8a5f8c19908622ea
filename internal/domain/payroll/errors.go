package payroll

import (
	"errors"
	"fmt"
)

var (
	ErrCatalogIntegrity      = errors.New("deduction catalog integrity violated")
	ErrAlreadyPaid           = errors.New("payroll entry already paid, cannot modify")
	ErrInvalidTransition     = errors.New("invalid payroll entry status transition")
	ErrCalculationInProgress = errors.New("payroll calculation already in progress")
	ErrMissingGrade          = errors.New("salary grade not found")
	ErrMissingEmployee       = errors.New("employee not found")

	ErrPeriodNotFound      = errors.New("payroll period not found")
	ErrEntryNotFound       = errors.New("payroll entry not found")
	ErrBatchRunNotFound    = errors.New("payroll batch run not found")
	ErrBonusNotFound       = errors.New("bonus not found")
	ErrDeductionNotFound   = errors.New("deduction not found")
	ErrComplianceNotMet    = errors.New("payroll compliance checks not met")
	ErrBonusAlreadyDecided = errors.New("bonus approval already decided")
	ErrForbidden           = errors.New("caller is not allowed to access this payroll")
)

// CatalogIntegrityError reports a malformed deduction definition.
type CatalogIntegrityError struct {
	Code   string
	Reason string
}

func (e *CatalogIntegrityError) Error() string {
	return fmt.Sprintf("deduction %q: %s", e.Code, e.Reason)
}

func (e *CatalogIntegrityError) Is(target error) bool { return target == ErrCatalogIntegrity }

type AlreadyPaidError struct {
	EntryID    string
	EmployeeID string
	PeriodID   string
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("payroll entry %s for employee %s already paid", e.EntryID, e.EmployeeID)
}

func (e *AlreadyPaidError) Is(target error) bool { return target == ErrAlreadyPaid }

type InvalidTransitionError struct {
	From EntryStatus
	To   EntryStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move payroll entry from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type CalculationInProgressError struct {
	EmployeeID string
	PeriodID   string
}

func (e *CalculationInProgressError) Error() string {
	return fmt.Sprintf("payroll for employee %s in period %s is being calculated", e.EmployeeID, e.PeriodID)
}

func (e *CalculationInProgressError) Is(target error) bool { return target == ErrCalculationInProgress }

type MissingGradeError struct {
	GradeID      string
	Level        string
	DepartmentID string
}

func (e *MissingGradeError) Error() string {
	if e.Level != "" {
		return fmt.Sprintf("no salary grade %s effective for department %s", e.Level, e.DepartmentID)
	}
	return fmt.Sprintf("salary grade %s not found", e.GradeID)
}

func (e *MissingGradeError) Is(target error) bool { return target == ErrMissingGrade }

type MissingEmployeeError struct {
	EmployeeID string
}

func (e *MissingEmployeeError) Error() string {
	return fmt.Sprintf("employee %s not found", e.EmployeeID)
}

func (e *MissingEmployeeError) Is(target error) bool { return target == ErrMissingEmployee }

// FailureCode returns a short machine-readable code for batch failure reports.
func FailureCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingGrade):
		return "missing_grade"
	case errors.Is(err, ErrMissingEmployee):
		return "missing_employee"
	case errors.Is(err, ErrCalculationInProgress):
		return "calculation_in_progress"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrCatalogIntegrity):
		return "catalog_integrity"
	default:
		return "internal"
	}
}
