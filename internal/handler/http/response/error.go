package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
)

// RetryAfterSeconds is sent with 409 responses for a calculation that is
// already running.
const RetryAfterSeconds = 2

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	// Auth
	case errors.Is(err, jwt.ErrInvalidToken):
		Unauthorized(w, err.Error())
	case errors.Is(err, payroll.ErrForbidden):
		Forbidden(w, err.Error())

	// Calculation
	case errors.Is(err, payroll.ErrCatalogIntegrity):
		UnprocessableEntity(w, "CATALOG_INTEGRITY", err.Error())
	case errors.Is(err, payroll.ErrAlreadyPaid):
		Conflict(w, err.Error())
	case errors.Is(err, payroll.ErrInvalidTransition):
		Conflict(w, err.Error())
	case errors.Is(err, payroll.ErrCalculationInProgress):
		ConflictRetryAfter(w, err.Error(), RetryAfterSeconds)
	case errors.Is(err, payroll.ErrMissingGrade):
		NotFound(w, err.Error())
	case errors.Is(err, payroll.ErrMissingEmployee):
		NotFound(w, err.Error())

	// Periods and entries
	case errors.Is(err, payroll.ErrPeriodNotFound):
		NotFound(w, "Payroll period not found")
	case errors.Is(err, payroll.ErrEntryNotFound):
		NotFound(w, "Payroll entry not found")
	case errors.Is(err, payroll.ErrBatchRunNotFound):
		NotFound(w, "Payroll batch run not found")
	case errors.Is(err, payroll.ErrComplianceNotMet):
		UnprocessableEntity(w, "COMPLIANCE_NOT_MET", err.Error())

	// Catalog
	case errors.Is(err, payroll.ErrBonusNotFound):
		NotFound(w, "Bonus not found")
	case errors.Is(err, payroll.ErrDeductionNotFound):
		NotFound(w, "Deduction not found")
	case errors.Is(err, payroll.ErrBonusAlreadyDecided):
		Conflict(w, "Bonus approval already decided")

	// Default
	default:
		slog.Error("unhandled error", slog.String("error", err.Error()))
		InternalServerError(w, "An unexpected error occurred")
	}
}
