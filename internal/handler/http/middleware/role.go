package middleware

import (
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/response"
)

// RequirePayrollAdmin requires admin or payroll_admin role
func RequirePayrollAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			response.Unauthorized(w, "Unauthorized")
			return
		}

		if !caller.IsPayrollAdmin() {
			response.Forbidden(w, "Insufficient permissions: payroll admin role required")
			return
		}

		next.ServeHTTP(w, r)
	})
}
