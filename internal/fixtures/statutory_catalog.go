package fixtures

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"gopkg.in/yaml.v3"
)

// CatalogVersion is the only statutory catalog file format understood.
const CatalogVersion = 1

//go:embed statutory_catalog.yaml
var defaultCatalog []byte

// StatutoryCatalog is the file form of the default deductions.
type StatutoryCatalog struct {
	Version       int                  `yaml:"version"`
	EffectiveDate string               `yaml:"effective_date"`
	Deductions    []StatutoryDeduction `yaml:"deductions"`
}

type StatutoryDeduction struct {
	Code      string                    `yaml:"code"`
	Name      string                    `yaml:"name"`
	Category  payroll.DeductionCategory `yaml:"category"`
	Priority  int                       `yaml:"priority"`
	DependsOn []string                  `yaml:"depends_on"`
	Rule      payroll.RuleSpec          `yaml:"rule"`
}

// LoadStatutoryCatalog reads the catalog at path, or the embedded defaults
// when path is empty.
func LoadStatutoryCatalog(path string) (StatutoryCatalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return StatutoryCatalog{}, fmt.Errorf("failed to read statutory catalog: %w", err)
		}
	}
	return ParseStatutoryCatalog(data)
}

func ParseStatutoryCatalog(data []byte) (StatutoryCatalog, error) {
	var c StatutoryCatalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return StatutoryCatalog{}, fmt.Errorf("failed to parse statutory catalog: %w", err)
	}
	if c.Version != CatalogVersion {
		return StatutoryCatalog{}, fmt.Errorf("unsupported statutory catalog version %d", c.Version)
	}
	return c, nil
}

// Requests converts the catalog into deduction create requests.
func (c StatutoryCatalog) Requests() []payroll.CreateDeductionRequest {
	reqs := make([]payroll.CreateDeductionRequest, 0, len(c.Deductions))
	for _, d := range c.Deductions {
		reqs = append(reqs, payroll.CreateDeductionRequest{
			Code:          d.Code,
			Name:          d.Name,
			Category:      d.Category,
			Rule:          d.Rule,
			EffectiveDate: c.EffectiveDate,
			Priority:      d.Priority,
			DependsOn:     d.DependsOn,
		})
	}
	return reqs
}

// SeedStatutoryCatalog creates the catalog deductions when no deduction exists
// yet. It returns how many were created.
func SeedStatutoryCatalog(ctx context.Context, svc payroll.CatalogService, c StatutoryCatalog) (int, error) {
	existing, err := svc.ListDeductions(ctx, payroll.SystemCaller())
	if err != nil {
		return 0, fmt.Errorf("failed to check deduction catalog: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	created := 0
	for _, req := range c.Requests() {
		if _, err := svc.CreateDeduction(ctx, payroll.SystemCaller(), req); err != nil {
			return created, fmt.Errorf("failed to seed deduction %s: %w", req.Code, err)
		}
		created++
	}
	slog.Info("statutory catalog seeded", slog.Int("deductions", created), slog.String("effective_date", c.EffectiveDate))
	return created, nil
}
