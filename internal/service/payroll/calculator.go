package payroll

import (
	"sort"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
)

// DefaultStandardMonthlyHours is the divisor for the overtime hourly rate.
const DefaultStandardMonthlyHours = 160

// CalculationInput is everything the calculator needs for one employee and period.
type CalculationInput struct {
	Employee payroll.Employee
	Period   payroll.Period
	// Level is the requested grade level; Grades holds its candidate versions.
	Level      string
	Grades     []payroll.SalaryGrade
	Deductions []payroll.Deduction
	Overtime   *payroll.OvertimeRecord
	Bonuses    []payroll.Bonus
}

// Calculator turns catalog data into a payroll entry. It has no side effects.
type Calculator struct {
	standardHours decimal.Decimal
}

func NewCalculator(standardMonthlyHours decimal.Decimal) *Calculator {
	if !standardMonthlyHours.IsPositive() {
		standardMonthlyHours = decimal.NewFromInt(DefaultStandardMonthlyHours)
	}
	return &Calculator{standardHours: standardMonthlyHours}
}

// ResolveGrade picks the newest grade version of level effective on asOf,
// preferring a version scoped to the employee's department over a global one.
func ResolveGrade(grades []payroll.SalaryGrade, level, departmentID string, asOf time.Time) (payroll.SalaryGrade, error) {
	var scoped, global *payroll.SalaryGrade
	for i := range grades {
		g := &grades[i]
		if g.Level != level || g.EffectiveDate.After(asOf) {
			continue
		}
		switch {
		case g.DepartmentID == nil:
			if global == nil || g.EffectiveDate.After(global.EffectiveDate) {
				global = g
			}
		case *g.DepartmentID == departmentID:
			if scoped == nil || g.EffectiveDate.After(scoped.EffectiveDate) {
				scoped = g
			}
		}
	}

	if scoped != nil {
		return *scoped, nil
	}
	if global != nil {
		return *global, nil
	}
	return payroll.SalaryGrade{}, &payroll.MissingGradeError{Level: level, DepartmentID: departmentID}
}

type deductionResult struct {
	deduction payroll.Deduction
	amount    decimal.Decimal
}

// Calculate produces the entry for in. ID and timestamps are left to the caller.
func (c *Calculator) Calculate(in CalculationInput) (payroll.Entry, error) {
	grade, err := ResolveGrade(in.Grades, in.Level, in.Employee.DepartmentID, in.Period.ProcessingDate)
	if err != nil {
		return payroll.Entry{}, err
	}
	basic := Round(grade.BasicSalary)

	allowances := c.allowances(grade, basic)
	overtime := c.overtime(in.Overtime, basic)
	bonuses := c.bonuses(in)

	gross := basic.Add(allowances.TotalAllowances).Add(overtime.Amount).Add(bonuses.TaxableBonuses)

	deductions, err := c.deductions(in.Deductions, in.Employee.DepartmentID, gross)
	if err != nil {
		return payroll.Entry{}, err
	}

	nonTaxable := bonuses.TotalBonuses.Sub(bonuses.TaxableBonuses)
	net := gross.Sub(deductions.TotalDeductions).Add(nonTaxable)

	status := payroll.EntryStatusPending
	if in.Period.BatchInProgress {
		status = payroll.EntryStatusProcessing
	}

	return payroll.Entry{
		EmployeeID:     in.Employee.ID,
		PeriodID:       in.Period.ID,
		Month:          in.Period.Month,
		Year:           in.Period.Year,
		EmployeeName:   in.Employee.FullName,
		DepartmentID:   in.Employee.DepartmentID,
		DepartmentName: in.Employee.DepartmentName,
		SalaryGradeID:  grade.ID,
		GradeLevel:     grade.Level,
		BasicSalary:    basic,
		Allowances:     allowances,
		Overtime:       overtime,
		Bonuses:        bonuses,
		Deductions:     deductions,
		Totals: payroll.Totals{
			GrossPay: gross,
			NetPay:   net,
		},
		Status: status,
	}, nil
}

func (c *Calculator) allowances(grade payroll.SalaryGrade, basic decimal.Decimal) payroll.Allowances {
	result := payroll.Allowances{
		GradeAllowances: make([]payroll.AllowanceLine, 0, len(grade.Components)),
		TotalAllowances: decimal.Zero,
	}
	for _, comp := range grade.Components {
		amount := comp.Value
		if comp.Kind == payroll.ComponentKindPercentage {
			amount = basic.Mul(comp.Value).Div(hundred)
		}
		if amount.IsNegative() {
			amount = decimal.Zero
		}
		amount = Round(amount)
		result.GradeAllowances = append(result.GradeAllowances, payroll.AllowanceLine{
			Name:   comp.Name,
			Kind:   comp.Kind,
			Amount: amount,
		})
		result.TotalAllowances = result.TotalAllowances.Add(amount)
	}
	return result
}

func (c *Calculator) overtime(record *payroll.OvertimeRecord, basic decimal.Decimal) payroll.Overtime {
	if record == nil || !record.Hours.IsPositive() {
		return payroll.Overtime{Hours: decimal.Zero, HourlyRate: decimal.Zero, Amount: decimal.Zero}
	}
	return payroll.Overtime{
		Hours:      record.Hours,
		HourlyRate: Round(basic.Div(c.standardHours)),
		Amount:     Round(record.Hours.Mul(basic).Div(c.standardHours)),
	}
}

func (c *Calculator) bonuses(in CalculationInput) payroll.Bonuses {
	var eligible []payroll.Bonus
	for _, b := range in.Bonuses {
		if b.EmployeeID != in.Employee.ID || b.ApprovalStatus != payroll.ApprovalApproved {
			continue
		}
		if !in.Period.Contains(b.PaymentDate) || !b.Amount.IsPositive() {
			continue
		}
		eligible = append(eligible, b)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].PaymentDate.Equal(eligible[j].PaymentDate) {
			return eligible[i].PaymentDate.Before(eligible[j].PaymentDate)
		}
		return eligible[i].ID < eligible[j].ID
	})

	result := payroll.Bonuses{TaxableBonuses: decimal.Zero, TotalBonuses: decimal.Zero}
	for _, b := range eligible {
		amount := Round(b.Amount)
		result.Lines = append(result.Lines, payroll.BonusLine{
			BonusID: b.ID,
			Type:    b.Type,
			Amount:  amount,
			Taxable: b.Taxable,
		})
		result.TotalBonuses = result.TotalBonuses.Add(amount)
		if b.Taxable {
			result.TaxableBonuses = result.TaxableBonuses.Add(amount)
		}
	}
	return result
}

// deductions evaluates every applicable deduction against gross pay, or gross
// pay net of its dependencies, then caps the total at gross pay.
func (c *Calculator) deductions(catalog []payroll.Deduction, departmentID string, gross decimal.Decimal) (payroll.Deductions, error) {
	order, err := EvaluationOrder(ApplicableDeductions(catalog, departmentID))
	if err != nil {
		return payroll.Deductions{}, err
	}

	amounts := make(map[string]decimal.Decimal, len(order))
	results := make([]deductionResult, 0, len(order))
	total := decimal.Zero
	for _, d := range order {
		base := gross
		for _, dep := range d.DependsOn {
			if amt, ok := amounts[dep]; ok {
				base = base.Sub(amt)
			}
		}
		amount, err := ResolveDeductionAmount(d, base)
		if err != nil {
			return payroll.Deductions{}, err
		}
		amounts[d.Code] = amount
		results = append(results, deductionResult{deduction: d, amount: amount})
		total = total.Add(amount)
	}

	capped := false
	if total.GreaterThan(gross) {
		capped = true
		excess := total.Sub(gross)
		for i := len(results) - 1; i >= 0 && excess.IsPositive(); i-- {
			cut := decimal.Min(excess, results[i].amount)
			results[i].amount = results[i].amount.Sub(cut)
			excess = excess.Sub(cut)
		}
		total = gross
	}

	out := payroll.Deductions{
		Others:          make([]payroll.DeductionLine, 0),
		TotalDeductions: total,
		Capped:          capped,
	}
	for _, r := range results {
		switch r.deduction.Code {
		case payroll.DeductionCodePAYE:
			out.Tax = &payroll.DeductionAmount{Amount: r.amount}
		case payroll.DeductionCodePension:
			out.Pension = &payroll.DeductionAmount{Amount: r.amount}
		case payroll.DeductionCodeNHF:
			out.NHF = &payroll.DeductionAmount{Amount: r.amount}
		default:
			out.Others = append(out.Others, payroll.DeductionLine{
				Code:   r.deduction.Code,
				Name:   r.deduction.Name,
				Amount: r.amount,
			})
		}
	}
	return out, nil
}
