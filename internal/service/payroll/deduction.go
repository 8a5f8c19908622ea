package payroll

import (
	"sort"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round rounds half-up to two decimal places. Amounts are never negative here,
// so half-away-from-zero and half-up agree.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func clamp(amount, base decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(base) {
		return base
	}
	return amount
}

// ResolveDeductionAmount computes one deduction line against base.
func ResolveDeductionAmount(d payroll.Deduction, base decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsActive {
		return decimal.Zero, nil
	}
	if base.IsNegative() {
		base = decimal.Zero
	}

	switch rule := d.Rule.(type) {
	case payroll.FixedRule:
		return Round(clamp(rule.Value, base)), nil
	case payroll.PercentageRule:
		return Round(clamp(base.Mul(rule.Value).Div(hundred), base)), nil
	case payroll.ProgressiveRule:
		if err := ValidateBrackets(d.Code, rule.Brackets); err != nil {
			return decimal.Zero, err
		}
		return Round(clamp(progressiveAmount(rule.Brackets, base), base)), nil
	default:
		return decimal.Zero, &payroll.CatalogIntegrityError{Code: d.Code, Reason: "deduction has no calculation rule"}
	}
}

// progressiveAmount taxes each slice of base at its bracket's marginal rate.
func progressiveAmount(brackets []payroll.TaxBracket, base decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, b := range brackets {
		if !base.GreaterThan(b.Min) {
			break
		}
		upper := base
		if b.Max != nil && b.Max.LessThan(base) {
			upper = *b.Max
		}
		total = total.Add(upper.Sub(b.Min).Mul(b.Rate).Div(hundred))
	}
	return total
}

// ValidateBrackets checks that brackets are sorted, contiguous, non-overlapping
// and end with a single open bracket.
func ValidateBrackets(code string, brackets []payroll.TaxBracket) error {
	fail := func(reason string) error {
		return &payroll.CatalogIntegrityError{Code: code, Reason: reason}
	}

	if len(brackets) == 0 {
		return fail("progressive rule has no brackets")
	}
	for i, b := range brackets {
		if b.Min.IsNegative() {
			return fail("bracket minimum must be non-negative")
		}
		if b.Rate.IsNegative() || b.Rate.GreaterThan(hundred) {
			return fail("bracket rate must be between 0 and 100")
		}
		if b.Max != nil && !b.Max.GreaterThan(b.Min) {
			return fail("bracket maximum must exceed its minimum")
		}
		if i > 0 {
			prev := brackets[i-1]
			switch {
			case prev.Max == nil:
				return fail("only the last bracket may be open-ended")
			case b.Min.LessThan(prev.Min):
				return fail("brackets must be sorted by minimum")
			case b.Min.LessThan(*prev.Max):
				return fail("brackets overlap")
			case b.Min.GreaterThan(*prev.Max):
				return fail("brackets leave a gap")
			}
		}
	}
	if brackets[len(brackets)-1].Max != nil {
		return fail("last bracket must be open-ended")
	}
	return nil
}

// ValidateCatalog checks every active deduction's rule and the depends_on graph.
func ValidateCatalog(deductions []payroll.Deduction) error {
	codes := make(map[string]bool, len(deductions))
	for _, d := range deductions {
		codes[d.Code] = true
	}

	var active []payroll.Deduction
	for _, d := range deductions {
		if !d.IsActive {
			continue
		}
		switch rule := d.Rule.(type) {
		case payroll.ProgressiveRule:
			if err := ValidateBrackets(d.Code, rule.Brackets); err != nil {
				return err
			}
		case payroll.FixedRule, payroll.PercentageRule:
		default:
			return &payroll.CatalogIntegrityError{Code: d.Code, Reason: "deduction has no calculation rule"}
		}
		for _, dep := range d.DependsOn {
			if !codes[dep] {
				return &payroll.CatalogIntegrityError{Code: d.Code, Reason: "depends on unknown deduction " + dep}
			}
		}
		active = append(active, d)
	}

	// Department-scoped versions share codes with global ones; check each scope separately.
	scopes := map[string]bool{"": true}
	for _, d := range active {
		if d.DepartmentID != nil {
			scopes[*d.DepartmentID] = true
		}
	}
	for scope := range scopes {
		if _, err := EvaluationOrder(ApplicableDeductions(active, scope)); err != nil {
			return err
		}
	}
	return nil
}

// CurrentDeductions keeps the newest version effective on asOf for each
// (code, department) pair.
func CurrentDeductions(deductions []payroll.Deduction, asOf time.Time) []payroll.Deduction {
	type key struct{ code, dept string }
	latest := make(map[key]payroll.Deduction)
	for _, d := range deductions {
		if d.EffectiveDate.After(asOf) {
			continue
		}
		k := key{code: d.Code}
		if d.DepartmentID != nil {
			k.dept = *d.DepartmentID
		}
		if cur, ok := latest[k]; !ok || d.EffectiveDate.After(cur.EffectiveDate) {
			latest[k] = d
		}
	}

	result := make([]payroll.Deduction, 0, len(latest))
	for _, d := range latest {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].DepartmentID == nil && result[j].DepartmentID != nil
	})
	return result
}

// ApplicableDeductions returns the active deductions covering a department.
// A department-scoped deduction replaces the global one with the same code.
func ApplicableDeductions(deductions []payroll.Deduction, departmentID string) []payroll.Deduction {
	byCode := make(map[string]payroll.Deduction)
	var codes []string
	for _, d := range deductions {
		if !d.IsActive || !d.AppliesTo(departmentID) {
			continue
		}
		cur, seen := byCode[d.Code]
		if !seen {
			codes = append(codes, d.Code)
		}
		if !seen || (cur.DepartmentID == nil && d.DepartmentID != nil) {
			byCode[d.Code] = d
		}
	}

	result := make([]payroll.Deduction, 0, len(codes))
	for _, code := range codes {
		result = append(result, byCode[code])
	}
	return result
}

// EvaluationOrder sorts deductions by priority, then code, with every
// deduction placed after the deductions it depends on.
func EvaluationOrder(deductions []payroll.Deduction) ([]payroll.Deduction, error) {
	sorted := make([]payroll.Deduction, len(deductions))
	copy(sorted, deductions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Code < sorted[j].Code
	})

	present := make(map[string]bool, len(sorted))
	for _, d := range sorted {
		present[d.Code] = true
	}

	done := make(map[string]bool, len(sorted))
	order := make([]payroll.Deduction, 0, len(sorted))
	for len(order) < len(sorted) {
		picked := false
		for _, d := range sorted {
			if done[d.Code] || !dependenciesMet(d, present, done) {
				continue
			}
			order = append(order, d)
			done[d.Code] = true
			picked = true
			break
		}
		if !picked {
			for _, d := range sorted {
				if !done[d.Code] {
					return nil, &payroll.CatalogIntegrityError{Code: d.Code, Reason: "circular depends_on"}
				}
			}
			return nil, &payroll.CatalogIntegrityError{Code: sorted[0].Code, Reason: "duplicate deduction code"}
		}
	}
	return order, nil
}

func dependenciesMet(d payroll.Deduction, present, done map[string]bool) bool {
	for _, dep := range d.DependsOn {
		if present[dep] && !done[dep] {
			return false
		}
	}
	return true
}
