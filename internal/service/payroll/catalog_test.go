package payroll

import (
	"context"
	"testing"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*CatalogServiceImpl, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	store.deductions = []payroll.Deduction{payeDeduction(), pensionDeduction()}
	store.employees["emp-1"] = scenarioEmployee()

	svc := NewCatalogService(store, store, Config{MinimumBasicSalary: dec("30000")}).(*CatalogServiceImpl)
	svc.now = func() time.Time { return fixedNow }
	return svc, store
}

func TestCreateSalaryGrade(t *testing.T) {
	svc, store := newTestCatalog(t)
	ctx := context.Background()

	grade, err := svc.CreateSalaryGrade(ctx, adminCaller(), payroll.CreateSalaryGradeRequest{
		Level:         "L2",
		BasicSalary:   dec("450000"),
		EffectiveDate: "2024-01-01",
		Components: []payroll.ComponentRequest{
			{Name: "Housing", Kind: payroll.ComponentKindFixed, Value: dec("50000")},
			{Name: "Meal", Kind: payroll.ComponentKindPercentage, Value: dec("2.5")},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, grade.ID)
	require.Len(t, grade.Components, 2)
	assert.Equal(t, grade.ID, grade.Components[0].GradeID)
	assert.Equal(t, date("2024-01-01"), grade.EffectiveDate)
	assert.Contains(t, store.grades, grade.ID)

	_, err = svc.CreateSalaryGrade(ctx, adminCaller(), payroll.CreateSalaryGradeRequest{
		Level:         "L0",
		BasicSalary:   dec("1000"),
		EffectiveDate: "2024-01-01",
		Components:    []payroll.ComponentRequest{{Name: "Risk", Kind: payroll.ComponentKindPercentage, Value: dec("120")}},
	})
	var errs validator.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)
}

func TestCreateDeduction(t *testing.T) {
	ctx := context.Background()

	t.Run("new version", func(t *testing.T) {
		svc, store := newTestCatalog(t)
		rate := dec("2.5")

		d, err := svc.CreateDeduction(ctx, adminCaller(), payroll.CreateDeductionRequest{
			Code:          payroll.DeductionCodeNHF,
			Name:          "National Housing Fund",
			Category:      payroll.DeductionCategoryStatutory,
			Rule:          payroll.RuleSpec{Method: payroll.MethodPercentage, Value: &rate},
			EffectiveDate: "2024-01-01",
			Priority:      30,
		})
		require.NoError(t, err)
		assert.True(t, d.IsActive)
		assert.Equal(t, payroll.PercentageRule{Value: rate}, d.Rule)
		assert.Len(t, store.deductions, 3)
	})

	t.Run("cycle refused", func(t *testing.T) {
		svc, store := newTestCatalog(t)
		pension := pensionDeduction()
		pension.DependsOn = []string{"levy"}
		store.deductions = []payroll.Deduction{payeDeduction(), pension}
		rate := dec("1")

		_, err := svc.CreateDeduction(ctx, adminCaller(), payroll.CreateDeductionRequest{
			Code:          "levy",
			Name:          "Levy",
			Category:      payroll.DeductionCategoryVoluntary,
			Rule:          payroll.RuleSpec{Method: payroll.MethodPercentage, Value: &rate},
			EffectiveDate: "2024-02-01",
			DependsOn:     []string{payroll.DeductionCodePension},
		})
		assert.ErrorIs(t, err, payroll.ErrCatalogIntegrity)
		assert.Len(t, store.deductions, 2)
	})

	t.Run("malformed brackets refused", func(t *testing.T) {
		svc, store := newTestCatalog(t)

		_, err := svc.CreateDeduction(ctx, adminCaller(), payroll.CreateDeductionRequest{
			Code:          payroll.DeductionCodePAYE,
			Name:          "PAYE",
			Category:      payroll.DeductionCategoryStatutory,
			Rule:          payroll.RuleSpec{Method: payroll.MethodProgressive, Brackets: []payroll.TaxBracket{{Min: dec("0"), Max: decPtr("100"), Rate: dec("5")}}},
			EffectiveDate: "2024-03-01",
		})
		assert.ErrorIs(t, err, payroll.ErrCatalogIntegrity)
		assert.Len(t, store.deductions, 2)
	})
}

func TestSetDeductionActive(t *testing.T) {
	ctx := context.Background()

	t.Run("adds a dated version", func(t *testing.T) {
		svc, store := newTestCatalog(t)

		d, err := svc.SetDeductionActive(ctx, adminCaller(), payroll.SetDeductionActiveRequest{
			ID: "ded-pension", IsActive: false, EffectiveDate: "2024-07-01",
		})
		require.NoError(t, err)
		assert.False(t, d.IsActive)
		assert.NotEqual(t, "ded-pension", d.ID)
		assert.Equal(t, date("2024-07-01"), d.EffectiveDate)
		assert.Equal(t, payroll.DeductionCodePension, d.Code)

		require.Len(t, store.deductions, 3)
		assert.True(t, store.deductions[1].IsActive)
		assert.Equal(t, date("2024-01-01"), store.deductions[1].EffectiveDate)
	})

	t.Run("defaults to today", func(t *testing.T) {
		svc, _ := newTestCatalog(t)

		d, err := svc.SetDeductionActive(ctx, adminCaller(), payroll.SetDeductionActiveRequest{ID: "ded-pension", IsActive: false})
		require.NoError(t, err)
		assert.Equal(t, date("2024-06-28"), d.EffectiveDate)
	})

	t.Run("same day updates the version", func(t *testing.T) {
		svc, store := newTestCatalog(t)

		d, err := svc.SetDeductionActive(ctx, adminCaller(), payroll.SetDeductionActiveRequest{
			ID: "ded-pension", IsActive: false, EffectiveDate: "2024-01-01",
		})
		require.NoError(t, err)
		assert.Equal(t, "ded-pension", d.ID)
		require.Len(t, store.deductions, 2)
		assert.False(t, store.deductions[1].IsActive)
	})

	t.Run("date before version refused", func(t *testing.T) {
		svc, store := newTestCatalog(t)

		_, err := svc.SetDeductionActive(ctx, adminCaller(), payroll.SetDeductionActiveRequest{
			ID: "ded-pension", IsActive: false, EffectiveDate: "2023-12-01",
		})
		var errs validator.ValidationErrors
		require.ErrorAs(t, err, &errs)
		assert.Len(t, store.deductions, 2)
	})

	t.Run("unknown id", func(t *testing.T) {
		svc, _ := newTestCatalog(t)

		_, err := svc.SetDeductionActive(ctx, adminCaller(), payroll.SetDeductionActiveRequest{ID: "nope"})
		assert.ErrorIs(t, err, payroll.ErrDeductionNotFound)
	})

	t.Run("activating a malformed deduction refused", func(t *testing.T) {
		svc, store := newTestCatalog(t)
		store.deductions = append(store.deductions, payroll.Deduction{
			ID:            "ded-levy",
			Code:          "levy",
			Name:          "Levy",
			Category:      payroll.DeductionCategoryVoluntary,
			Rule:          payroll.ProgressiveRule{Brackets: []payroll.TaxBracket{{Min: dec("0"), Max: decPtr("100"), Rate: dec("5")}}},
			IsActive:      false,
			EffectiveDate: date("2024-01-01"),
		})

		_, err := svc.SetDeductionActive(ctx, adminCaller(), payroll.SetDeductionActiveRequest{
			ID: "ded-levy", IsActive: true, EffectiveDate: "2024-07-01",
		})
		assert.ErrorIs(t, err, payroll.ErrCatalogIntegrity)

		_, err = svc.SetDeductionActive(ctx, adminCaller(), payroll.SetDeductionActiveRequest{
			ID: "ded-levy", IsActive: true, EffectiveDate: "2024-01-01",
		})
		assert.ErrorIs(t, err, payroll.ErrCatalogIntegrity)

		require.Len(t, store.deductions, 3)
		assert.False(t, store.deductions[2].IsActive)
	})
}

func TestSetDeductionActive_EarlierPeriodKeepsFigures(t *testing.T) {
	payrollSvc, store, _ := newTestService(t)
	catalog := NewCatalogService(store, store, Config{}).(*CatalogServiceImpl)
	catalog.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	june, err := payrollSvc.CalculatePayroll(ctx, adminCaller(), calculateRequest("emp-1"))
	require.NoError(t, err)
	assertAmount(t, "603300", june.Totals.NetPay)

	_, err = catalog.SetDeductionActive(ctx, adminCaller(), payroll.SetDeductionActiveRequest{
		ID: "ded-paye", IsActive: false, EffectiveDate: "2024-07-01",
	})
	require.NoError(t, err)

	recalculated, err := payrollSvc.CalculatePayroll(ctx, adminCaller(), calculateRequest("emp-1"))
	require.NoError(t, err)
	assertAmount(t, "603300", recalculated.Totals.NetPay)
	require.NotNil(t, recalculated.Deductions.Tax)
	assertAmount(t, "68300", recalculated.Deductions.Tax.Amount)

	july := calculateRequest("emp-1")
	july.Month = 7
	entry, err := payrollSvc.CalculatePayroll(ctx, adminCaller(), july)
	require.NoError(t, err)
	assert.Nil(t, entry.Deductions.Tax)
	assertAmount(t, "671600", entry.Totals.NetPay)
}

func TestCatalog_DepartmentScope(t *testing.T) {
	ctx := context.Background()
	scoped := payroll.CallerContext{UserID: "user-ops", Role: payroll.RolePayrollAdmin, DepartmentScope: strPtr("dept-ops")}
	rate := dec("1")
	levy := func(dept *string) payroll.CreateDeductionRequest {
		return payroll.CreateDeductionRequest{
			Code:          "levy",
			Name:          "Levy",
			Category:      payroll.DeductionCategoryVoluntary,
			Rule:          payroll.RuleSpec{Method: payroll.MethodPercentage, Value: &rate},
			EffectiveDate: "2024-01-01",
			DepartmentID:  dept,
		}
	}

	t.Run("new records default to own department", func(t *testing.T) {
		svc, _ := newTestCatalog(t)

		d, err := svc.CreateDeduction(ctx, scoped, levy(nil))
		require.NoError(t, err)
		require.NotNil(t, d.DepartmentID)
		assert.Equal(t, "dept-ops", *d.DepartmentID)

		g, err := svc.CreateSalaryGrade(ctx, scoped, payroll.CreateSalaryGradeRequest{
			Level: "L3", BasicSalary: dec("300000"), EffectiveDate: "2024-01-01",
		})
		require.NoError(t, err)
		require.NotNil(t, g.DepartmentID)
		assert.Equal(t, "dept-ops", *g.DepartmentID)
	})

	t.Run("foreign and global records refused", func(t *testing.T) {
		svc, store := newTestCatalog(t)

		_, err := svc.CreateDeduction(ctx, scoped, levy(strPtr("dept-eng")))
		assert.ErrorIs(t, err, payroll.ErrForbidden)

		_, err = svc.SetDeductionActive(ctx, scoped, payroll.SetDeductionActiveRequest{ID: "ded-pension", IsActive: false})
		assert.ErrorIs(t, err, payroll.ErrForbidden)

		_, err = svc.CreateBonus(ctx, scoped, payroll.CreateBonusRequest{
			EmployeeID: "emp-1", Type: payroll.BonusTypePerformance, Amount: dec("100"), PaymentDate: "2024-06-15",
		})
		assert.ErrorIs(t, err, payroll.ErrForbidden)

		_, err = svc.RecordOvertime(ctx, scoped, payroll.RecordOvertimeRequest{EmployeeID: "emp-1", Month: 6, Year: 2024, Hours: dec("2")})
		assert.ErrorIs(t, err, payroll.ErrForbidden)

		assert.Len(t, store.deductions, 2)
		assert.Empty(t, store.bonuses)
	})

	t.Run("lists hide other departments", func(t *testing.T) {
		svc, _ := newTestCatalog(t)
		_, err := svc.CreateDeduction(ctx, adminCaller(), levy(strPtr("dept-eng")))
		require.NoError(t, err)

		all, err := svc.ListDeductions(ctx, adminCaller())
		require.NoError(t, err)
		assert.Len(t, all, 3)

		visible, err := svc.ListDeductions(ctx, scoped)
		require.NoError(t, err)
		assert.Len(t, visible, 2)
	})

	t.Run("employees refused", func(t *testing.T) {
		svc, _ := newTestCatalog(t)
		employee := payroll.CallerContext{UserID: "user-1", EmployeeID: "emp-1", Role: payroll.RoleEmployee}

		_, err := svc.CreateDeduction(ctx, employee, levy(nil))
		assert.ErrorIs(t, err, payroll.ErrForbidden)

		_, err = svc.ListSalaryGrades(ctx, employee)
		assert.ErrorIs(t, err, payroll.ErrForbidden)
	})
}

func TestBonusApproval(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	bonus, err := svc.CreateBonus(ctx, adminCaller(), payroll.CreateBonusRequest{
		EmployeeID:  "emp-1",
		Type:        payroll.BonusTypePerformance,
		Amount:      dec("50000"),
		PaymentDate: "2024-06-15",
	})
	require.NoError(t, err)
	assert.Equal(t, payroll.ApprovalPending, bonus.ApprovalStatus)
	assert.True(t, bonus.Taxable)

	decided, err := svc.DecideBonus(ctx, adminCaller(), payroll.DecideBonusRequest{BonusID: bonus.ID, Status: payroll.ApprovalApproved})
	require.NoError(t, err)
	assert.Equal(t, payroll.ApprovalApproved, decided.ApprovalStatus)

	_, err = svc.DecideBonus(ctx, adminCaller(), payroll.DecideBonusRequest{BonusID: bonus.ID, Status: payroll.ApprovalRejected})
	assert.ErrorIs(t, err, payroll.ErrBonusAlreadyDecided)

	_, err = svc.CreateBonus(ctx, adminCaller(), payroll.CreateBonusRequest{
		EmployeeID: "emp-404", Type: payroll.BonusTypeHoliday, Amount: dec("10"), PaymentDate: "2024-06-15",
	})
	assert.ErrorIs(t, err, payroll.ErrMissingEmployee)
}

func TestRecordOvertime_FeedsCalculation(t *testing.T) {
	payrollSvc, store, _ := newTestService(t)
	catalog := NewCatalogService(store, store, Config{}).(*CatalogServiceImpl)
	ctx := context.Background()

	_, err := catalog.RecordOvertime(ctx, adminCaller(), payroll.RecordOvertimeRequest{EmployeeID: "emp-1", Month: 6, Year: 2024, Hours: dec("10")})
	require.NoError(t, err)

	entry, err := payrollSvc.CalculatePayroll(ctx, adminCaller(), calculateRequest("emp-1"))
	require.NoError(t, err)
	assertAmount(t, "3750", entry.Overtime.HourlyRate)
	assertAmount(t, "37500", entry.Overtime.Amount)
	assertAmount(t, "767500", entry.Totals.GrossPay)
}
