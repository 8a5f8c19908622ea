package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds payroll service settings.
type Config struct {
	StandardMonthlyHours decimal.Decimal
	MinimumBasicSalary   decimal.Decimal
	BatchConcurrency     int           // default: 8
	StaleBatchAfter      time.Duration // default: 30 minutes
}

type PayrollServiceImpl struct {
	tx          payroll.Transactor
	payrollRepo payroll.PayrollRepository
	catalogRepo payroll.CatalogRepository
	employees   payroll.EmployeeDirectory
	publisher   payroll.EventPublisher
	calculator  *Calculator
	config      Config
	logger      *slog.Logger
	now         func() time.Time
}

func NewPayrollService(
	tx payroll.Transactor,
	payrollRepo payroll.PayrollRepository,
	catalogRepo payroll.CatalogRepository,
	employees payroll.EmployeeDirectory,
	publisher payroll.EventPublisher,
	cfg Config,
) payroll.PayrollService {
	return newPayrollService(tx, payrollRepo, catalogRepo, employees, publisher, cfg)
}

func newPayrollService(
	tx payroll.Transactor,
	payrollRepo payroll.PayrollRepository,
	catalogRepo payroll.CatalogRepository,
	employees payroll.EmployeeDirectory,
	publisher payroll.EventPublisher,
	cfg Config,
) *PayrollServiceImpl {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	if cfg.StaleBatchAfter <= 0 {
		cfg.StaleBatchAfter = 30 * time.Minute
	}
	return &PayrollServiceImpl{
		tx:          tx,
		payrollRepo: payrollRepo,
		catalogRepo: catalogRepo,
		employees:   employees,
		publisher:   publisher,
		calculator:  NewCalculator(cfg.StandardMonthlyHours),
		config:      cfg,
		logger:      slog.Default().With(slog.String("component", "payroll")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func requireAdmin(caller payroll.CallerContext) error {
	if !caller.IsPayrollAdmin() {
		return payroll.ErrForbidden
	}
	return nil
}

func inScope(caller payroll.CallerContext, departmentID string) bool {
	return caller.DepartmentScope == nil || *caller.DepartmentScope == departmentID
}

// ========== CALCULATION ==========

func (s *PayrollServiceImpl) CalculatePayroll(ctx context.Context, caller payroll.CallerContext, req payroll.CalculatePayrollRequest) (payroll.Entry, error) {
	if err := req.Validate(); err != nil {
		return payroll.Entry{}, err
	}
	if err := requireAdmin(caller); err != nil {
		return payroll.Entry{}, err
	}

	var (
		result  payroll.Entry
		changed bool
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		period, err := s.payrollRepo.GetOrCreatePeriod(ctx, req.Month, req.Year)
		if err != nil {
			return err
		}

		entry, statusChanged, figuresChanged, err := s.calculateEntry(ctx, caller, period, req.EmployeeID, req.SalaryGradeID)
		if err != nil {
			return err
		}
		if figuresChanged {
			if err := s.refreshPeriod(ctx, period.ID, true); err != nil {
				return err
			}
		}

		result, changed = entry, statusChanged
		return nil
	})
	if err != nil {
		return payroll.Entry{}, err
	}

	s.logger.Info("Payroll calculated",
		slog.String("entry_id", result.ID),
		slog.String("employee_id", result.EmployeeID),
		slog.String("period_id", result.PeriodID),
		slog.String("net_pay", result.Totals.NetPay.String()),
	)
	if changed {
		s.publisher.Publish(ctx, payroll.NewEvent(result))
	}
	return result, nil
}

// calculateEntry computes and stores the entry for one employee. It must run
// inside a transaction so the (employee, period) lock is held until commit.
// gradeID overrides the employee's own grade when not empty.
func (s *PayrollServiceImpl) calculateEntry(ctx context.Context, caller payroll.CallerContext, period payroll.Period, employeeID, gradeID string) (entry payroll.Entry, statusChanged, figuresChanged bool, err error) {
	if err = s.payrollRepo.AcquireEntryLock(ctx, employeeID, period.ID); err != nil {
		return payroll.Entry{}, false, false, err
	}

	existing, err := s.payrollRepo.GetEntry(ctx, employeeID, period.ID)
	if err != nil {
		return payroll.Entry{}, false, false, err
	}
	if existing != nil {
		switch existing.Status {
		case payroll.EntryStatusPaid:
			return *existing, false, false, &payroll.AlreadyPaidError{EntryID: existing.ID, EmployeeID: employeeID, PeriodID: period.ID}
		case payroll.EntryStatusCancelled, payroll.EntryStatusRejected:
			return *existing, false, false, &payroll.InvalidTransitionError{From: existing.Status, To: payroll.EntryStatusPending}
		}
	}

	employee, err := s.employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return payroll.Entry{}, false, false, err
	}
	if !inScope(caller, employee.DepartmentID) {
		return payroll.Entry{}, false, false, payroll.ErrForbidden
	}

	input, err := s.loadInput(ctx, period, employee, gradeID)
	if err != nil {
		return payroll.Entry{}, false, false, err
	}
	computed, err := s.calculator.Calculate(input)
	if err != nil {
		return payroll.Entry{}, false, false, err
	}

	now := s.now()
	if existing != nil {
		if existing.SameFigures(computed) {
			return *existing, false, false, nil
		}
		computed.ID = existing.ID
		computed.Status = existing.Status
		computed.CreatedAt = existing.CreatedAt
		computed.UpdatedAt = now
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return payroll.Entry{}, false, false, fmt.Errorf("failed to generate entry id: %w", err)
		}
		computed.ID = id.String()
		computed.CreatedAt = now
		computed.UpdatedAt = now
		statusChanged = true
	}

	saved, err := s.payrollRepo.UpsertEntry(ctx, computed)
	if err != nil {
		return payroll.Entry{}, false, false, err
	}
	return saved, statusChanged, true, nil
}

func (s *PayrollServiceImpl) loadInput(ctx context.Context, period payroll.Period, employee payroll.Employee, gradeID string) (CalculationInput, error) {
	if gradeID == "" {
		gradeID = employee.SalaryGradeID
	}
	if gradeID == "" {
		return CalculationInput{}, &payroll.MissingGradeError{DepartmentID: employee.DepartmentID}
	}

	ref, err := s.catalogRepo.GetGradeByID(ctx, gradeID)
	if err != nil {
		if errors.Is(err, payroll.ErrMissingGrade) {
			return CalculationInput{}, &payroll.MissingGradeError{GradeID: gradeID, DepartmentID: employee.DepartmentID}
		}
		return CalculationInput{}, err
	}
	grades, err := s.catalogRepo.ListGradesByLevel(ctx, ref.Level, period.ProcessingDate)
	if err != nil {
		return CalculationInput{}, err
	}

	deductions, err := s.catalogSnapshot(ctx, period)
	if err != nil {
		return CalculationInput{}, err
	}

	overtime, err := s.catalogRepo.GetOvertime(ctx, employee.ID, period.Month, period.Year)
	if err != nil {
		return CalculationInput{}, err
	}
	start, end := payroll.PeriodBounds(period.Month, period.Year)
	bonuses, err := s.catalogRepo.ListBonuses(ctx, employee.ID, start, end)
	if err != nil {
		return CalculationInput{}, err
	}

	return CalculationInput{
		Employee:   employee,
		Period:     period,
		Level:      ref.Level,
		Grades:     grades,
		Deductions: deductions,
		Overtime:   overtime,
		Bonuses:    bonuses,
	}, nil
}

// catalogSnapshot returns the validated deduction catalog as of the period's processing date.
func (s *PayrollServiceImpl) catalogSnapshot(ctx context.Context, period payroll.Period) ([]payroll.Deduction, error) {
	all, err := s.catalogRepo.ListDeductions(ctx, &period.ProcessingDate)
	if err != nil {
		return nil, err
	}
	snapshot := CurrentDeductions(all, period.ProcessingDate)
	if err := ValidateCatalog(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// refreshPeriod re-aggregates a period under its row lock.
func (s *PayrollServiceImpl) refreshPeriod(ctx context.Context, periodID string, invalidateReport bool) error {
	_, err := s.refreshPeriodSummary(ctx, periodID, invalidateReport, nil)
	return err
}

func (s *PayrollServiceImpl) refreshPeriodSummary(ctx context.Context, periodID string, invalidateReport bool, mutate func(*payroll.Period)) (payroll.Summary, error) {
	period, err := s.payrollRepo.LockPeriod(ctx, periodID)
	if err != nil {
		return payroll.Summary{}, err
	}
	if invalidateReport {
		period.ComplianceChecks.TaxReportGenerated = false
	}
	if mutate != nil {
		mutate(&period)
	}

	entries, err := s.payrollRepo.ListEntriesByPeriod(ctx, periodID)
	if err != nil {
		return payroll.Summary{}, err
	}
	summary := Aggregate(period, entries)
	ApplySummary(&period, summary)
	period.UpdatedAt = s.now()

	if err := s.payrollRepo.UpdatePeriod(ctx, period); err != nil {
		return payroll.Summary{}, err
	}
	return summary, nil
}

// ========== QUERIES ==========

func (s *PayrollServiceImpl) GetPayrollPeriods(ctx context.Context, caller payroll.CallerContext, filter payroll.PeriodFilter) (payroll.PeriodListResponse, error) {
	if err := requireAdmin(caller); err != nil {
		return payroll.PeriodListResponse{}, err
	}
	filter.Normalize()

	periods, total, err := s.payrollRepo.ListPeriods(ctx, filter)
	if err != nil {
		return payroll.PeriodListResponse{}, err
	}

	totalPages := int(total) / filter.Limit
	if int(total)%filter.Limit > 0 {
		totalPages++
	}
	return payroll.PeriodListResponse{
		Periods:    periods,
		TotalCount: total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: totalPages,
	}, nil
}

func (s *PayrollServiceImpl) GetPayrollByID(ctx context.Context, caller payroll.CallerContext, id string) (payroll.Entry, error) {
	entry, err := s.payrollRepo.GetEntryByID(ctx, id)
	if err != nil {
		return payroll.Entry{}, err
	}
	if !caller.CanView(entry) {
		return payroll.Entry{}, payroll.ErrForbidden
	}
	return entry, nil
}

func (s *PayrollServiceImpl) GetEmployeePayrollHistory(ctx context.Context, caller payroll.CallerContext, employeeID string) ([]payroll.Entry, error) {
	if caller.EmployeeID != employeeID && !caller.IsPayrollAdmin() {
		return nil, payroll.ErrForbidden
	}

	entries, err := s.payrollRepo.ListEntriesByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	visible := make([]payroll.Entry, 0, len(entries))
	for _, e := range entries {
		if caller.CanView(e) {
			visible = append(visible, e)
		}
	}
	return visible, nil
}

func (s *PayrollServiceImpl) GetPeriodSummary(ctx context.Context, caller payroll.CallerContext, periodID string) (payroll.Summary, error) {
	if err := requireAdmin(caller); err != nil {
		return payroll.Summary{}, err
	}

	period, err := s.payrollRepo.GetPeriodByID(ctx, periodID)
	if err != nil {
		return payroll.Summary{}, err
	}
	entries, err := s.payrollRepo.ListEntriesByPeriod(ctx, periodID)
	if err != nil {
		return payroll.Summary{}, err
	}

	if caller.DepartmentScope != nil {
		scoped := make([]payroll.Entry, 0, len(entries))
		for _, e := range entries {
			if e.DepartmentID == *caller.DepartmentScope {
				scoped = append(scoped, e)
			}
		}
		entries = scoped
	}
	return Aggregate(period, entries), nil
}

// ========== LIFECYCLE ==========

func (s *PayrollServiceImpl) TransitionEntry(ctx context.Context, caller payroll.CallerContext, req payroll.TransitionRequest) (payroll.Entry, error) {
	if err := req.Validate(); err != nil {
		return payroll.Entry{}, err
	}
	if err := requireAdmin(caller); err != nil {
		return payroll.Entry{}, err
	}

	var result payroll.Entry
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		entry, err := s.payrollRepo.GetEntryByID(ctx, req.EntryID)
		if err != nil {
			return err
		}
		if !inScope(caller, entry.DepartmentID) {
			return payroll.ErrForbidden
		}
		if err := s.payrollRepo.AcquireEntryLock(ctx, entry.EmployeeID, entry.PeriodID); err != nil {
			return err
		}

		if req.Status == payroll.EntryStatusApproved && CanTransition(entry.Status, req.Status) {
			period, err := s.payrollRepo.GetPeriodByID(ctx, entry.PeriodID)
			if err != nil {
				return err
			}
			if err := s.checkApprovable(ctx, period, []payroll.Entry{entry}); err != nil {
				return err
			}
		}

		updated, err := Transition(entry, req.Status, req.Reason, req.PaymentReference, s.now())
		if err != nil {
			return err
		}
		if result, err = s.payrollRepo.UpsertEntry(ctx, updated); err != nil {
			return err
		}
		return s.refreshPeriod(ctx, entry.PeriodID, false)
	})
	if err != nil {
		return payroll.Entry{}, err
	}

	s.logger.Info("Payroll entry transitioned",
		slog.String("entry_id", result.ID),
		slog.String("status", string(result.Status)),
	)
	s.publisher.Publish(ctx, payroll.NewEvent(result))
	return result, nil
}

// checkApprovable verifies the period's catalog is intact and no entry has negative net pay.
func (s *PayrollServiceImpl) checkApprovable(ctx context.Context, period payroll.Period, entries []payroll.Entry) error {
	if _, err := s.catalogSnapshot(ctx, period); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Totals.NetPay.IsNegative() {
			return fmt.Errorf("%w: entry %s has negative net pay", payroll.ErrComplianceNotMet, e.ID)
		}
	}
	return nil
}

func (s *PayrollServiceImpl) AttachPaymentReference(ctx context.Context, caller payroll.CallerContext, req payroll.PaymentReferenceRequest) (payroll.Entry, error) {
	if err := req.Validate(); err != nil {
		return payroll.Entry{}, err
	}
	if err := requireAdmin(caller); err != nil {
		return payroll.Entry{}, err
	}

	var result payroll.Entry
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		entry, err := s.payrollRepo.GetEntryByID(ctx, req.EntryID)
		if err != nil {
			return err
		}
		if !inScope(caller, entry.DepartmentID) {
			return payroll.ErrForbidden
		}
		if entry.Status != payroll.EntryStatusPaid {
			return &payroll.InvalidTransitionError{From: entry.Status, To: payroll.EntryStatusPaid}
		}

		ref := req.PaymentReference
		entry.PaymentReference = &ref
		entry.UpdatedAt = s.now()
		result, err = s.payrollRepo.UpsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return payroll.Entry{}, err
	}
	return result, nil
}

// ApprovePeriod approves every processing entry of a period in one transaction.
func (s *PayrollServiceImpl) ApprovePeriod(ctx context.Context, caller payroll.CallerContext, periodID string) (payroll.Summary, error) {
	if err := requireAdmin(caller); err != nil {
		return payroll.Summary{}, err
	}

	var (
		summary  payroll.Summary
		approved []payroll.Entry
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		period, err := s.payrollRepo.LockPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		entries, err := s.payrollRepo.ListEntriesByPeriod(ctx, periodID)
		if err != nil {
			return err
		}

		var candidates []payroll.Entry
		for _, e := range entries {
			if e.Status == payroll.EntryStatusProcessing && inScope(caller, e.DepartmentID) {
				candidates = append(candidates, e)
			}
		}
		if err := s.checkApprovable(ctx, period, candidates); err != nil {
			return err
		}

		now := s.now()
		for _, e := range candidates {
			updated, err := Transition(e, payroll.EntryStatusApproved, nil, nil, now)
			if err != nil {
				return err
			}
			saved, err := s.payrollRepo.UpsertEntry(ctx, updated)
			if err != nil {
				return err
			}
			approved = append(approved, saved)
		}

		summary, err = s.refreshPeriodSummary(ctx, periodID, false, nil)
		return err
	})
	if err != nil {
		return payroll.Summary{}, err
	}

	s.logger.Info("Payroll period approved", slog.String("period_id", periodID), slog.Int("approved", len(approved)))
	for _, e := range approved {
		s.publisher.Publish(ctx, payroll.NewEvent(e))
	}
	return summary, nil
}

// GenerateTaxReport lists PAYE per employee and marks the period's report as generated.
func (s *PayrollServiceImpl) GenerateTaxReport(ctx context.Context, caller payroll.CallerContext, periodID string) (payroll.TaxReport, error) {
	if err := requireAdmin(caller); err != nil {
		return payroll.TaxReport{}, err
	}

	var report payroll.TaxReport
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		period, err := s.payrollRepo.LockPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		entries, err := s.payrollRepo.ListEntriesByPeriod(ctx, periodID)
		if err != nil {
			return err
		}

		summary := Aggregate(period, entries)
		if !summary.ComplianceChecks.PayeCalculated {
			return fmt.Errorf("%w: PAYE missing for %d employee(s)", payroll.ErrComplianceNotMet, len(summary.MissingPAYE))
		}

		report = payroll.TaxReport{
			PeriodID:  period.ID,
			Month:     period.Month,
			Year:      period.Year,
			Lines:     make([]payroll.TaxReportLine, 0, len(entries)),
			TotalPAYE: decimal.Zero,
		}
		for _, e := range entries {
			if e.Status == payroll.EntryStatusCancelled {
				continue
			}
			report.Lines = append(report.Lines, payroll.TaxReportLine{
				EntryID:        e.ID,
				EmployeeID:     e.EmployeeID,
				EmployeeName:   e.EmployeeName,
				DepartmentName: e.DepartmentName,
				GrossPay:       e.Totals.GrossPay,
				PAYE:           e.Deductions.Tax.Amount,
			})
			report.TotalPAYE = report.TotalPAYE.Add(e.Deductions.Tax.Amount)
		}

		_, err = s.refreshPeriodSummary(ctx, periodID, false, func(p *payroll.Period) {
			p.ComplianceChecks.TaxReportGenerated = true
		})
		return err
	})
	if err != nil {
		return payroll.TaxReport{}, err
	}
	return report, nil
}
