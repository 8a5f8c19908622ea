package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ========== BATCH ==========

func (s *PayrollServiceImpl) RunBatch(ctx context.Context, caller payroll.CallerContext, req payroll.RunBatchRequest) (payroll.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return payroll.BatchResult{}, err
	}
	if err := requireAdmin(caller); err != nil {
		return payroll.BatchResult{}, err
	}
	if caller.DepartmentScope != nil {
		if req.DepartmentID != nil && *req.DepartmentID != *caller.DepartmentScope {
			return payroll.BatchResult{}, payroll.ErrForbidden
		}
		req.DepartmentID = caller.DepartmentScope
	}

	period, err := s.payrollRepo.GetOrCreatePeriod(ctx, req.Month, req.Year)
	if err != nil {
		return payroll.BatchResult{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return payroll.BatchResult{}, fmt.Errorf("failed to generate batch id: %w", err)
	}
	run, err := s.payrollRepo.CreateBatchRun(ctx, payroll.BatchRun{
		ID:           id.String(),
		PeriodID:     period.ID,
		Month:        period.Month,
		Year:         period.Year,
		DepartmentID: req.DepartmentID,
		EmployeeIDs:  req.EmployeeIDs,
		Status:       payroll.BatchStatusRunning,
		Failures:     make([]payroll.BatchFailure, 0),
		StartedAt:    s.now(),
	})
	if err != nil {
		return payroll.BatchResult{}, err
	}

	return s.executeBatch(ctx, run)
}

// ResumeBatch re-runs a batch that never completed. Employees already past
// pending are skipped.
func (s *PayrollServiceImpl) ResumeBatch(ctx context.Context, batchID string) (payroll.BatchResult, error) {
	run, err := s.payrollRepo.GetBatchRun(ctx, batchID)
	if err != nil {
		return payroll.BatchResult{}, err
	}
	if run.Status != payroll.BatchStatusRunning {
		return resultOf(run, nil), nil
	}
	return s.executeBatch(ctx, run)
}

// ResumeStaleBatches resumes every batch left running past the stale threshold.
func (s *PayrollServiceImpl) ResumeStaleBatches(ctx context.Context) error {
	runs, err := s.payrollRepo.ListStaleBatchRuns(ctx, s.now().Add(-s.config.StaleBatchAfter))
	if err != nil {
		return err
	}

	var errs []error
	for _, run := range runs {
		s.logger.Info("Resuming payroll batch", slog.String("batch_id", run.ID), slog.String("period_id", run.PeriodID))
		if _, err := s.ResumeBatch(ctx, run.ID); err != nil {
			errs = append(errs, fmt.Errorf("batch %s: %w", run.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *PayrollServiceImpl) GetBatchRun(ctx context.Context, caller payroll.CallerContext, id string) (payroll.BatchRun, error) {
	if err := requireAdmin(caller); err != nil {
		return payroll.BatchRun{}, err
	}
	return s.payrollRepo.GetBatchRun(ctx, id)
}

func (s *PayrollServiceImpl) executeBatch(ctx context.Context, run payroll.BatchRun) (payroll.BatchResult, error) {
	logger := s.logger.With(slog.String("batch_id", run.ID), slog.String("period_id", run.PeriodID))

	period, err := s.payrollRepo.GetPeriodByID(ctx, run.PeriodID)
	if err != nil {
		return payroll.BatchResult{}, err
	}
	if period.Status == payroll.PeriodStatusPaid {
		return s.rejectBatch(ctx, run, "period already paid")
	}
	if _, err := s.catalogSnapshot(ctx, period); err != nil {
		if errors.Is(err, payroll.ErrCatalogIntegrity) {
			logger.Warn("Payroll batch rejected", slog.String("error", err.Error()))
			return s.rejectBatch(ctx, run, err.Error())
		}
		return payroll.BatchResult{}, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := s.refreshPeriodSummary(ctx, period.ID, false, func(p *payroll.Period) {
			p.BatchInProgress = true
		})
		return err
	})
	if err != nil {
		return payroll.BatchResult{}, err
	}

	employees, err := s.employees.ListActiveEmployees(ctx, run.DepartmentID, run.EmployeeIDs)
	if err != nil {
		return payroll.BatchResult{}, err
	}
	entries, err := s.payrollRepo.ListEntriesByPeriod(ctx, period.ID)
	if err != nil {
		return payroll.BatchResult{}, err
	}
	statusByEmployee := make(map[string]payroll.EntryStatus, len(entries))
	for _, e := range entries {
		statusByEmployee[e.EmployeeID] = e.Status
	}

	var (
		mu        sync.Mutex
		processed int
		skipped   int
		failures  = missingEmployees(run.EmployeeIDs, employees)
	)
	for _, f := range failures {
		logger.Warn("Payroll batch employee failed", slog.String("employee_id", f.EmployeeID), slog.String("error", f.Reason))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.BatchConcurrency)
	for _, emp := range employees {
		if status, ok := statusByEmployee[emp.ID]; ok && status != payroll.EntryStatusPending {
			skipped++
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			entry, changed, err := s.processBatchEmployee(gctx, period.ID, emp.ID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				logger.Warn("Payroll batch employee failed", slog.String("employee_id", emp.ID), slog.String("error", err.Error()))
				mu.Lock()
				failures = append(failures, payroll.BatchFailure{
					EmployeeID: emp.ID,
					Code:       payroll.FailureCode(err),
					Reason:     err.Error(),
				})
				mu.Unlock()
				return nil
			}

			mu.Lock()
			processed++
			mu.Unlock()
			if changed {
				s.publisher.Publish(gctx, payroll.NewEvent(entry))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// The run stays running so the resume job can pick it up.
		logger.Error("Payroll batch interrupted", slog.String("error", err.Error()))
		return payroll.BatchResult{}, fmt.Errorf("payroll batch interrupted: %w", err)
	}

	var summary payroll.Summary
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		summary, err = s.refreshPeriodSummary(ctx, period.ID, processed > 0, func(p *payroll.Period) {
			p.BatchInProgress = false
		})
		return err
	})
	if err != nil {
		return payroll.BatchResult{}, err
	}

	outcome := payroll.BatchOutcomeSucceeded
	if len(failures) > 0 {
		outcome = payroll.BatchOutcomePartiallySucceeded
	}
	completedAt := s.now()
	run.Status = payroll.BatchStatusCompleted
	run.Outcome = &outcome
	run.Processed = processed
	run.Skipped = skipped
	run.Failures = failures
	run.CompletedAt = &completedAt
	if err := s.payrollRepo.UpdateBatchRun(ctx, run); err != nil {
		return payroll.BatchResult{}, err
	}

	logger.Info("Payroll batch completed",
		slog.String("outcome", string(outcome)),
		slog.Int("processed", processed),
		slog.Int("skipped", skipped),
		slog.Int("failed", len(failures)),
	)
	return resultOf(run, &summary), nil
}

// processBatchEmployee calculates one employee and moves a pending entry to processing.
func (s *PayrollServiceImpl) processBatchEmployee(ctx context.Context, periodID, employeeID string) (payroll.Entry, bool, error) {
	var (
		result  payroll.Entry
		changed bool
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		period, err := s.payrollRepo.GetPeriodByID(ctx, periodID)
		if err != nil {
			return err
		}

		entry, statusChanged, _, err := s.calculateEntry(ctx, payroll.SystemCaller(), period, employeeID, "")
		if err != nil {
			return err
		}

		if entry.Status == payroll.EntryStatusPending {
			entry, err = Transition(entry, payroll.EntryStatusProcessing, nil, nil, s.now())
			if err != nil {
				return err
			}
			if entry, err = s.payrollRepo.UpsertEntry(ctx, entry); err != nil {
				return err
			}
			statusChanged = true
		}

		result, changed = entry, statusChanged
		return nil
	})
	return result, changed, err
}

// missingEmployees reports every requested id the directory did not return as
// an active employee.
func missingEmployees(requested []string, found []payroll.Employee) []payroll.BatchFailure {
	failures := make([]payroll.BatchFailure, 0)
	if len(requested) == 0 {
		return failures
	}

	present := make(map[string]bool, len(found))
	for _, e := range found {
		present[e.ID] = true
	}
	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if present[id] || seen[id] {
			continue
		}
		seen[id] = true
		err := &payroll.MissingEmployeeError{EmployeeID: id}
		failures = append(failures, payroll.BatchFailure{
			EmployeeID: id,
			Code:       payroll.FailureCode(err),
			Reason:     err.Error(),
		})
	}
	return failures
}

func (s *PayrollServiceImpl) rejectBatch(ctx context.Context, run payroll.BatchRun, reason string) (payroll.BatchResult, error) {
	outcome := payroll.BatchOutcomeRejected
	completedAt := s.now()
	run.Status = payroll.BatchStatusRejected
	run.Outcome = &outcome
	run.RejectionReason = &reason
	run.CompletedAt = &completedAt
	if err := s.payrollRepo.UpdateBatchRun(ctx, run); err != nil {
		return payroll.BatchResult{}, err
	}
	return resultOf(run, nil), nil
}

func resultOf(run payroll.BatchRun, summary *payroll.Summary) payroll.BatchResult {
	result := payroll.BatchResult{
		BatchID:         run.ID,
		PeriodID:        run.PeriodID,
		RejectionReason: run.RejectionReason,
		Processed:       run.Processed,
		Skipped:         run.Skipped,
		Failures:        run.Failures,
		Summary:         summary,
	}
	if run.Outcome != nil {
		result.Outcome = *run.Outcome
	}
	if result.Failures == nil {
		result.Failures = make([]payroll.BatchFailure, 0)
	}
	return result
}
