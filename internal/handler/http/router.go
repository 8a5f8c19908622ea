package http

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/middleware"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/jwt"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
)

type RouterOptions struct {
	AppName        string
	Version        string
	Env            string
	AllowedOrigins []string
}

func NewRouter(JWTService jwt.Service, opts RouterOptions, payrollHandler PayrollHandler, catalogHandler CatalogHandler, eventsHandler EventsHandler) *chi.Mux {
	r := chi.NewRouter()
	logFormat := httplog.SchemaECS.Concise(opts.Env != "production")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", opts.AppName),
		slog.String("version", opts.Version),
		slog.String("env", opts.Env),
	)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		MaxAge:           300,
	}))

	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
		// SSE connections stay open; logging them on close is noise.
		Skip: func(req *http.Request, respStatus int) bool {
			return req.URL.Path == "/api/v1/payroll/events"
		},
	}))

	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	r.Route("/api/v1/payroll", func(r chi.Router) {
		// SSE authenticates with a short-lived token in the query string
		r.Get("/events", eventsHandler.Stream)

		// Requires authentication
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentEncoding("application/json"))
			r.Use(jwtauth.Verifier(JWTService.JWTAuth()))
			r.Use(middleware.AuthRequired(JWTService.JWTAuth()))

			r.Post("/events/token", eventsHandler.GetSSEToken)

			// Visibility is enforced per entry by the service
			r.Get("/entries/{id}", payrollHandler.GetEntry)
			r.Get("/employees/{id}/history", payrollHandler.GetEmployeeHistory)

			// Payroll admin only
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePayrollAdmin)

				r.Post("/calculate", payrollHandler.Calculate)
				r.Post("/batches", payrollHandler.RunBatch)
				r.Get("/batches/{id}", payrollHandler.GetBatchRun)

				r.Route("/periods", func(r chi.Router) {
					r.Get("/", payrollHandler.ListPeriods)
					r.Get("/{id}/summary", payrollHandler.GetPeriodSummary)
					r.Post("/{id}/approve", payrollHandler.ApprovePeriod)
					r.Post("/{id}/tax-report", payrollHandler.GenerateTaxReport)
				})

				r.Post("/entries/{id}/transitions", payrollHandler.TransitionEntry)
				r.Put("/entries/{id}/payment-reference", payrollHandler.AttachPaymentReference)

				r.Route("/grades", func(r chi.Router) {
					r.Get("/", catalogHandler.ListGrades)
					r.Post("/", catalogHandler.CreateGrade)
				})
				r.Route("/deductions", func(r chi.Router) {
					r.Get("/", catalogHandler.ListDeductions)
					r.Post("/", catalogHandler.CreateDeduction)
					r.Patch("/{id}/active", catalogHandler.SetDeductionActive)
				})
				r.Post("/bonuses", catalogHandler.CreateBonus)
				r.Post("/bonuses/{id}/decision", catalogHandler.DecideBonus)
				r.Post("/overtime", catalogHandler.RecordOvertime)
			})
		})
	})
	return r
}
