package payroll

import (
	"testing"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2024, 6, 28, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string {
	return &s
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func payeBrackets() []payroll.TaxBracket {
	return []payroll.TaxBracket{
		{Min: dec("0"), Max: decPtr("300000"), Rate: dec("7")},
		{Min: dec("300000"), Rate: dec("11")},
	}
}

func payeDeduction() payroll.Deduction {
	return payroll.Deduction{
		ID:            "ded-paye",
		Code:          payroll.DeductionCodePAYE,
		Name:          "PAYE",
		Category:      payroll.DeductionCategoryStatutory,
		Rule:          payroll.ProgressiveRule{Brackets: payeBrackets()},
		IsActive:      true,
		EffectiveDate: date("2024-01-01"),
		Priority:      10,
	}
}

func pensionDeduction() payroll.Deduction {
	return payroll.Deduction{
		ID:            "ded-pension",
		Code:          payroll.DeductionCodePension,
		Name:          "Pension",
		Category:      payroll.DeductionCategoryStatutory,
		Rule:          payroll.PercentageRule{Value: dec("8")},
		IsActive:      true,
		EffectiveDate: date("2024-01-01"),
		Priority:      20,
	}
}

func scenarioGrade() payroll.SalaryGrade {
	return payroll.SalaryGrade{
		ID:          "grade-l1",
		Level:       "L1",
		BasicSalary: dec("600000"),
		Components: []payroll.Component{
			{ID: "comp-housing", GradeID: "grade-l1", Name: "Housing", Kind: payroll.ComponentKindFixed, Value: dec("100000")},
			{ID: "comp-transport", GradeID: "grade-l1", Name: "Transport", Kind: payroll.ComponentKindPercentage, Value: dec("5")},
		},
		EffectiveDate: date("2024-01-01"),
	}
}

func scenarioEmployee() payroll.Employee {
	return payroll.Employee{
		ID:             "emp-1",
		FullName:       "Ada Obi",
		DepartmentID:   "dept-eng",
		DepartmentName: "Engineering",
		SalaryGradeID:  "grade-l1",
		Active:         true,
	}
}

func scenarioPeriod() payroll.Period {
	return payroll.Period{
		ID:             "period-2024-06",
		Month:          6,
		Year:           2024,
		Status:         payroll.PeriodStatusDraft,
		ProcessingDate: date("2024-06-30"),
	}
}

func scenarioInput() CalculationInput {
	return CalculationInput{
		Employee:   scenarioEmployee(),
		Period:     scenarioPeriod(),
		Level:      "L1",
		Grades:     []payroll.SalaryGrade{scenarioGrade()},
		Deductions: []payroll.Deduction{payeDeduction(), pensionDeduction()},
	}
}

func adminCaller() payroll.CallerContext {
	return payroll.CallerContext{UserID: "user-admin", Role: payroll.RolePayrollAdmin}
}

// newTestService returns a service backed by a memory store seeded with the
// reference grade, deductions and one employee.
func newTestService(t *testing.T) (*PayrollServiceImpl, *memoryStore, *recordingPublisher) {
	t.Helper()
	store := newMemoryStore()
	store.grades["grade-l1"] = scenarioGrade()
	store.deductions = []payroll.Deduction{payeDeduction(), pensionDeduction()}
	store.employees["emp-1"] = scenarioEmployee()

	pub := &recordingPublisher{}
	svc := newPayrollService(store, store, store, store, pub, Config{BatchConcurrency: 4})
	svc.now = func() time.Time { return fixedNow }
	return svc, store, pub
}

func calculateRequest(employeeID string) payroll.CalculatePayrollRequest {
	return payroll.CalculatePayrollRequest{
		EmployeeID:    employeeID,
		Month:         6,
		Year:          2024,
		SalaryGradeID: "grade-l1",
	}
}
