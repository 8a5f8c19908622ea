package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CatalogServiceImpl struct {
	catalogRepo  payroll.CatalogRepository
	employees    payroll.EmployeeDirectory
	minimumBasic decimal.Decimal
	now          func() time.Time
}

func NewCatalogService(catalogRepo payroll.CatalogRepository, employees payroll.EmployeeDirectory, cfg Config) payroll.CatalogService {
	return &CatalogServiceImpl{
		catalogRepo:  catalogRepo,
		employees:    employees,
		minimumBasic: cfg.MinimumBasicSalary,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

// scopedDepartment resolves the department a new catalog record belongs to.
// Scoped admins default to their own department and cannot create global or
// foreign records.
func scopedDepartment(caller payroll.CallerContext, requested *string) (*string, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if caller.DepartmentScope == nil {
		return requested, nil
	}
	if requested != nil && *requested != *caller.DepartmentScope {
		return nil, payroll.ErrForbidden
	}
	scope := *caller.DepartmentScope
	return &scope, nil
}

func (s *CatalogServiceImpl) checkEmployeeScope(ctx context.Context, caller payroll.CallerContext, employeeID string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	emp, err := s.employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return err
	}
	if !inScope(caller, emp.DepartmentID) {
		return payroll.ErrForbidden
	}
	return nil
}

// ========== GRADES ==========

func (s *CatalogServiceImpl) CreateSalaryGrade(ctx context.Context, caller payroll.CallerContext, req payroll.CreateSalaryGradeRequest) (payroll.SalaryGrade, error) {
	if err := req.Validate(s.minimumBasic); err != nil {
		return payroll.SalaryGrade{}, err
	}
	departmentID, err := scopedDepartment(caller, req.DepartmentID)
	if err != nil {
		return payroll.SalaryGrade{}, err
	}
	req.DepartmentID = departmentID

	gradeID, err := newID()
	if err != nil {
		return payroll.SalaryGrade{}, err
	}
	now := s.now()
	grade := payroll.SalaryGrade{
		ID:            gradeID,
		Level:         req.Level,
		BasicSalary:   req.BasicSalary,
		DepartmentID:  req.DepartmentID,
		EffectiveDate: payroll.ParseDate(req.EffectiveDate),
		Components:    make([]payroll.Component, 0, len(req.Components)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, c := range req.Components {
		compID, err := newID()
		if err != nil {
			return payroll.SalaryGrade{}, err
		}
		grade.Components = append(grade.Components, payroll.Component{
			ID:      compID,
			GradeID: gradeID,
			Name:    c.Name,
			Kind:    c.Kind,
			Value:   c.Value,
		})
	}

	return s.catalogRepo.CreateGrade(ctx, grade)
}

func (s *CatalogServiceImpl) ListSalaryGrades(ctx context.Context, caller payroll.CallerContext) ([]payroll.SalaryGrade, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	grades, err := s.catalogRepo.ListGrades(ctx, nil)
	if err != nil {
		return nil, err
	}
	if caller.DepartmentScope == nil {
		return grades, nil
	}

	visible := make([]payroll.SalaryGrade, 0, len(grades))
	for _, g := range grades {
		if g.DepartmentID == nil || *g.DepartmentID == *caller.DepartmentScope {
			visible = append(visible, g)
		}
	}
	return visible, nil
}

// ========== DEDUCTIONS ==========

// CreateDeduction stores a new deduction version after checking it against the
// rest of the catalog.
func (s *CatalogServiceImpl) CreateDeduction(ctx context.Context, caller payroll.CallerContext, req payroll.CreateDeductionRequest) (payroll.Deduction, error) {
	if err := req.Validate(); err != nil {
		return payroll.Deduction{}, err
	}
	departmentID, err := scopedDepartment(caller, req.DepartmentID)
	if err != nil {
		return payroll.Deduction{}, err
	}
	req.DepartmentID = departmentID

	rule, err := req.Rule.Rule()
	if err != nil {
		return payroll.Deduction{}, &payroll.CatalogIntegrityError{Code: req.Code, Reason: err.Error()}
	}
	id, err := newID()
	if err != nil {
		return payroll.Deduction{}, err
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := s.now()
	deduction := payroll.Deduction{
		ID:            id,
		Code:          req.Code,
		Name:          req.Name,
		Category:      req.Category,
		Rule:          rule,
		IsActive:      active,
		EffectiveDate: payroll.ParseDate(req.EffectiveDate),
		DepartmentID:  req.DepartmentID,
		Priority:      req.Priority,
		DependsOn:     req.DependsOn,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	existing, err := s.catalogRepo.ListDeductions(ctx, nil)
	if err != nil {
		return payroll.Deduction{}, err
	}
	if err := ValidateCatalog(CurrentDeductions(append(existing, deduction), deduction.EffectiveDate)); err != nil {
		return payroll.Deduction{}, err
	}

	return s.catalogRepo.CreateDeduction(ctx, deduction)
}

func (s *CatalogServiceImpl) ListDeductions(ctx context.Context, caller payroll.CallerContext) ([]payroll.Deduction, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	deductions, err := s.catalogRepo.ListDeductions(ctx, nil)
	if err != nil {
		return nil, err
	}
	if caller.DepartmentScope == nil {
		return deductions, nil
	}

	visible := make([]payroll.Deduction, 0, len(deductions))
	for _, d := range deductions {
		if d.AppliesTo(*caller.DepartmentScope) {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

// SetDeductionActive switches a deduction on or off by adding a new version
// dated req.EffectiveDate. Versions already in force are left as they are, so
// earlier periods keep their figures. A toggle dated on the version's own
// effective date updates that version.
func (s *CatalogServiceImpl) SetDeductionActive(ctx context.Context, caller payroll.CallerContext, req payroll.SetDeductionActiveRequest) (payroll.Deduction, error) {
	if err := req.Validate(); err != nil {
		return payroll.Deduction{}, err
	}
	if err := requireAdmin(caller); err != nil {
		return payroll.Deduction{}, err
	}

	existing, err := s.catalogRepo.ListDeductions(ctx, nil)
	if err != nil {
		return payroll.Deduction{}, err
	}
	idx := -1
	for i, d := range existing {
		if d.ID == req.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return payroll.Deduction{}, payroll.ErrDeductionNotFound
	}
	current := existing[idx]
	if current.DepartmentID == nil && caller.DepartmentScope != nil {
		return payroll.Deduction{}, payroll.ErrForbidden
	}
	if current.DepartmentID != nil && !inScope(caller, *current.DepartmentID) {
		return payroll.Deduction{}, payroll.ErrForbidden
	}

	now := s.now()
	effective := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if req.EffectiveDate != "" {
		effective = payroll.ParseDate(req.EffectiveDate)
	}
	if effective.Before(current.EffectiveDate) {
		return payroll.Deduction{}, validator.ValidationErrors{
			{Field: "effective_date", Message: "must not be before the deduction's effective date"},
		}
	}

	if effective.Equal(current.EffectiveDate) {
		existing[idx].IsActive = req.IsActive
		if err := ValidateCatalog(CurrentDeductions(existing, effective)); err != nil {
			return payroll.Deduction{}, err
		}
		return s.catalogRepo.SetDeductionActive(ctx, current.ID, req.IsActive)
	}

	id, err := newID()
	if err != nil {
		return payroll.Deduction{}, err
	}
	version := current
	version.ID = id
	version.IsActive = req.IsActive
	version.EffectiveDate = effective
	version.CreatedAt = now
	version.UpdatedAt = now

	if err := ValidateCatalog(CurrentDeductions(append(existing, version), effective)); err != nil {
		return payroll.Deduction{}, err
	}
	return s.catalogRepo.CreateDeduction(ctx, version)
}

// ========== BONUSES ==========

func (s *CatalogServiceImpl) CreateBonus(ctx context.Context, caller payroll.CallerContext, req payroll.CreateBonusRequest) (payroll.Bonus, error) {
	if err := req.Validate(); err != nil {
		return payroll.Bonus{}, err
	}
	if err := s.checkEmployeeScope(ctx, caller, req.EmployeeID); err != nil {
		return payroll.Bonus{}, err
	}

	id, err := newID()
	if err != nil {
		return payroll.Bonus{}, err
	}
	taxable := true
	if req.Taxable != nil {
		taxable = *req.Taxable
	}
	now := s.now()
	return s.catalogRepo.CreateBonus(ctx, payroll.Bonus{
		ID:             id,
		EmployeeID:     req.EmployeeID,
		Type:           req.Type,
		Amount:         req.Amount,
		PaymentDate:    payroll.ParseDate(req.PaymentDate),
		ApprovalStatus: payroll.ApprovalPending,
		Taxable:        taxable,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (s *CatalogServiceImpl) DecideBonus(ctx context.Context, caller payroll.CallerContext, req payroll.DecideBonusRequest) (payroll.Bonus, error) {
	if err := req.Validate(); err != nil {
		return payroll.Bonus{}, err
	}

	bonus, err := s.catalogRepo.GetBonusByID(ctx, req.BonusID)
	if err != nil {
		return payroll.Bonus{}, err
	}
	if err := s.checkEmployeeScope(ctx, caller, bonus.EmployeeID); err != nil {
		return payroll.Bonus{}, err
	}
	if bonus.ApprovalStatus != payroll.ApprovalPending {
		return payroll.Bonus{}, payroll.ErrBonusAlreadyDecided
	}
	return s.catalogRepo.UpdateBonusApproval(ctx, req.BonusID, req.Status)
}

// ========== OVERTIME ==========

func (s *CatalogServiceImpl) RecordOvertime(ctx context.Context, caller payroll.CallerContext, req payroll.RecordOvertimeRequest) (payroll.OvertimeRecord, error) {
	if err := req.Validate(); err != nil {
		return payroll.OvertimeRecord{}, err
	}
	if err := s.checkEmployeeScope(ctx, caller, req.EmployeeID); err != nil {
		return payroll.OvertimeRecord{}, err
	}

	id, err := newID()
	if err != nil {
		return payroll.OvertimeRecord{}, err
	}
	return s.catalogRepo.UpsertOvertime(ctx, payroll.OvertimeRecord{
		ID:         id,
		EmployeeID: req.EmployeeID,
		Month:      req.Month,
		Year:       req.Year,
		Hours:      req.Hours,
		CreatedAt:  s.now(),
	})
}
