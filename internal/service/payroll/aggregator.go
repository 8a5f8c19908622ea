package payroll

import (
	"sort"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
)

// Aggregate summarises the non-cancelled entries of a period.
func Aggregate(period payroll.Period, entries []payroll.Entry) payroll.Summary {
	summary := payroll.Summary{
		PeriodID:         period.ID,
		Month:            period.Month,
		Year:             period.Year,
		Status:           DerivePeriodStatus(entries),
		TotalBasicSalary: decimal.Zero,
		TotalAllowances:  decimal.Zero,
		TotalOvertime:    decimal.Zero,
		TotalBonuses:     decimal.Zero,
		TotalGrossPay:    decimal.Zero,
		TotalDeductions:  decimal.Zero,
		TotalNetSalary:   decimal.Zero,
		Departments:      make([]payroll.DepartmentBreakdown, 0),
		StatusCounts:     make(map[payroll.EntryStatus]int),
	}

	departments := make(map[string]*payroll.DepartmentBreakdown)
	payeOK, pensionOK, nhfOK := true, true, true
	for _, e := range entries {
		summary.StatusCounts[e.Status]++
		if e.Status == payroll.EntryStatusCancelled {
			continue
		}

		summary.TotalEmployees++
		summary.TotalBasicSalary = summary.TotalBasicSalary.Add(e.BasicSalary)
		summary.TotalAllowances = summary.TotalAllowances.Add(e.Allowances.TotalAllowances)
		summary.TotalOvertime = summary.TotalOvertime.Add(e.Overtime.Amount)
		summary.TotalBonuses = summary.TotalBonuses.Add(e.Bonuses.TotalBonuses)
		summary.TotalGrossPay = summary.TotalGrossPay.Add(e.Totals.GrossPay)
		summary.TotalDeductions = summary.TotalDeductions.Add(e.Deductions.TotalDeductions)
		summary.TotalNetSalary = summary.TotalNetSalary.Add(e.Totals.NetPay)

		dept, ok := departments[e.DepartmentID]
		if !ok {
			dept = &payroll.DepartmentBreakdown{
				DepartmentID:   e.DepartmentID,
				DepartmentName: e.DepartmentName,
				TotalCost:      decimal.Zero,
				TotalNet:       decimal.Zero,
			}
			departments[e.DepartmentID] = dept
		}
		dept.EmployeeCount++
		dept.TotalCost = dept.TotalCost.Add(e.TotalCost())
		dept.TotalNet = dept.TotalNet.Add(e.Totals.NetPay)

		if !slotPresent(e.Deductions.Tax) {
			payeOK = false
			summary.MissingPAYE = append(summary.MissingPAYE, e.EmployeeID)
		}
		if !slotPresent(e.Deductions.Pension) {
			pensionOK = false
		}
		if !slotPresent(e.Deductions.NHF) {
			nhfOK = false
		}
	}

	for _, dept := range departments {
		summary.Departments = append(summary.Departments, *dept)
	}
	sort.Slice(summary.Departments, func(i, j int) bool {
		if summary.Departments[i].DepartmentName != summary.Departments[j].DepartmentName {
			return summary.Departments[i].DepartmentName < summary.Departments[j].DepartmentName
		}
		return summary.Departments[i].DepartmentID < summary.Departments[j].DepartmentID
	})
	sort.Strings(summary.MissingPAYE)

	// An empty period has calculated nothing.
	counted := summary.TotalEmployees > 0
	summary.ComplianceChecks = payroll.ComplianceChecks{
		PayeCalculated:     counted && payeOK,
		PensionDeducted:    counted && pensionOK,
		NHFDeducted:        counted && nhfOK,
		TaxReportGenerated: period.ComplianceChecks.TaxReportGenerated,
	}
	return summary
}

func slotPresent(slot *payroll.DeductionAmount) bool {
	return slot != nil && !slot.Amount.IsNegative()
}

// ApplySummary copies aggregate figures onto the period record.
func ApplySummary(period *payroll.Period, s payroll.Summary) {
	period.Status = s.Status
	period.TotalEmployees = s.TotalEmployees
	period.TotalBasicSalary = s.TotalBasicSalary
	period.TotalAllowances = s.TotalAllowances
	period.TotalOvertime = s.TotalOvertime
	period.TotalBonuses = s.TotalBonuses
	period.TotalGrossPay = s.TotalGrossPay
	period.TotalDeductions = s.TotalDeductions
	period.TotalNetSalary = s.TotalNetSalary
	period.ComplianceChecks = s.ComplianceChecks
}
