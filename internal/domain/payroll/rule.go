package payroll

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type CalculationMethod string

const (
	MethodFixed       CalculationMethod = "fixed"
	MethodPercentage  CalculationMethod = "percentage"
	MethodProgressive CalculationMethod = "progressive"
)

var ValidCalculationMethods = []string{string(MethodFixed), string(MethodPercentage), string(MethodProgressive)}

// DeductionRule is one of FixedRule, PercentageRule or ProgressiveRule.
type DeductionRule interface {
	Method() CalculationMethod
	isDeductionRule()
}

// FixedRule deducts a flat amount.
type FixedRule struct {
	Value decimal.Decimal
}

// PercentageRule deducts Value percent of the base.
type PercentageRule struct {
	Value decimal.Decimal
}

// ProgressiveRule applies marginal rates over ascending brackets.
type ProgressiveRule struct {
	Brackets []TaxBracket
}

func (FixedRule) Method() CalculationMethod       { return MethodFixed }
func (PercentageRule) Method() CalculationMethod  { return MethodPercentage }
func (ProgressiveRule) Method() CalculationMethod { return MethodProgressive }

func (FixedRule) isDeductionRule()       {}
func (PercentageRule) isDeductionRule()  {}
func (ProgressiveRule) isDeductionRule() {}

// TaxBracket covers income in [Min, Max). Max is nil for the open top bracket.
// Rate is a percentage.
type TaxBracket struct {
	Min  decimal.Decimal  `json:"min" yaml:"min"`
	Max  *decimal.Decimal `json:"max,omitempty" yaml:"max,omitempty"`
	Rate decimal.Decimal  `json:"rate" yaml:"rate"`
}

// RuleSpec is the storage and wire form of a DeductionRule.
type RuleSpec struct {
	Method   CalculationMethod `json:"method" yaml:"method"`
	Value    *decimal.Decimal  `json:"value,omitempty" yaml:"value,omitempty"`
	Brackets []TaxBracket      `json:"brackets,omitempty" yaml:"brackets,omitempty"`
}

// Rule converts the stored form into a DeductionRule.
func (s RuleSpec) Rule() (DeductionRule, error) {
	switch s.Method {
	case MethodFixed:
		if s.Value == nil {
			return nil, fmt.Errorf("fixed rule requires a value")
		}
		return FixedRule{Value: *s.Value}, nil
	case MethodPercentage:
		if s.Value == nil {
			return nil, fmt.Errorf("percentage rule requires a value")
		}
		return PercentageRule{Value: *s.Value}, nil
	case MethodProgressive:
		return ProgressiveRule{Brackets: s.Brackets}, nil
	default:
		return nil, fmt.Errorf("unknown calculation method %q", s.Method)
	}
}

// SpecOf converts a DeductionRule back to its storage form.
func SpecOf(rule DeductionRule) RuleSpec {
	switch r := rule.(type) {
	case FixedRule:
		v := r.Value
		return RuleSpec{Method: MethodFixed, Value: &v}
	case PercentageRule:
		v := r.Value
		return RuleSpec{Method: MethodPercentage, Value: &v}
	case ProgressiveRule:
		return RuleSpec{Method: MethodProgressive, Brackets: r.Brackets}
	default:
		return RuleSpec{}
	}
}

// MarshalJSON renders the rule inline next to the other deduction fields.
func (d Deduction) MarshalJSON() ([]byte, error) {
	type plain Deduction
	return json.Marshal(struct {
		plain
		Rule RuleSpec `json:"rule"`
	}{plain: plain(d), Rule: SpecOf(d.Rule)})
}
