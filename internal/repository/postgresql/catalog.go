package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type catalogRepositoryImpl struct {
	db *database.DB
}

func NewCatalogRepository(db *database.DB) payroll.CatalogRepository {
	return &catalogRepositoryImpl{db: db}
}

// ========== GRADES ==========

// CreateGrade inserts a grade version together with its components.
func (r *catalogRepositoryImpl) CreateGrade(ctx context.Context, g payroll.SalaryGrade) (payroll.SalaryGrade, error) {
	q := GetQuerier(ctx, r.db)

	_, err := q.Exec(ctx, `
		INSERT INTO salary_grades (id, level, basic_salary, department_id, effective_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, g.ID, g.Level, g.BasicSalary, g.DepartmentID, g.EffectiveDate, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return payroll.SalaryGrade{}, fmt.Errorf("failed to create salary grade: %w", err)
	}

	for i, c := range g.Components {
		_, err := q.Exec(ctx, `
			INSERT INTO grade_components (id, grade_id, name, kind, value, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, g.ID, c.Name, c.Kind, c.Value, i)
		if err != nil {
			return payroll.SalaryGrade{}, fmt.Errorf("failed to create grade component %s: %w", c.Name, err)
		}
	}

	return g, nil
}

const gradeColumns = `id, level, basic_salary, department_id, effective_date, created_at, updated_at`

func (r *catalogRepositoryImpl) GetGradeByID(ctx context.Context, id string) (payroll.SalaryGrade, error) {
	q := GetQuerier(ctx, r.db)

	var g payroll.SalaryGrade
	err := q.QueryRow(ctx, "SELECT "+gradeColumns+" FROM salary_grades WHERE id = $1", id).Scan(
		&g.ID, &g.Level, &g.BasicSalary, &g.DepartmentID, &g.EffectiveDate, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.SalaryGrade{}, &payroll.MissingGradeError{GradeID: id}
		}
		return payroll.SalaryGrade{}, fmt.Errorf("failed to get salary grade: %w", err)
	}

	grades := []payroll.SalaryGrade{g}
	if err := r.attachComponents(ctx, grades); err != nil {
		return payroll.SalaryGrade{}, err
	}
	return grades[0], nil
}

// ListGradesByLevel returns every version of a level effective on or before asOf,
// newest first. Department-scoped versions are included.
func (r *catalogRepositoryImpl) ListGradesByLevel(ctx context.Context, level string, asOf time.Time) ([]payroll.SalaryGrade, error) {
	return r.listGrades(ctx, `
		SELECT `+gradeColumns+`
		FROM salary_grades
		WHERE level = $1 AND effective_date <= $2
		ORDER BY effective_date DESC, created_at DESC
	`, level, asOf)
}

func (r *catalogRepositoryImpl) ListGrades(ctx context.Context, asOf *time.Time) ([]payroll.SalaryGrade, error) {
	return r.listGrades(ctx, `
		SELECT `+gradeColumns+`
		FROM salary_grades
		WHERE $1::date IS NULL OR effective_date <= $1::date
		ORDER BY level ASC, effective_date DESC
	`, asOf)
}

func (r *catalogRepositoryImpl) listGrades(ctx context.Context, query string, args ...interface{}) ([]payroll.SalaryGrade, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list salary grades: %w", err)
	}
	defer rows.Close()

	grades := make([]payroll.SalaryGrade, 0)
	for rows.Next() {
		var g payroll.SalaryGrade
		if err := rows.Scan(&g.ID, &g.Level, &g.BasicSalary, &g.DepartmentID, &g.EffectiveDate, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan salary grade: %w", err)
		}
		grades = append(grades, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list salary grades: %w", err)
	}

	if err := r.attachComponents(ctx, grades); err != nil {
		return nil, err
	}
	return grades, nil
}

// attachComponents loads the components of all grades in one query.
func (r *catalogRepositoryImpl) attachComponents(ctx context.Context, grades []payroll.SalaryGrade) error {
	if len(grades) == 0 {
		return nil
	}
	q := GetQuerier(ctx, r.db)

	ids := make([]string, len(grades))
	index := make(map[string]int, len(grades))
	for i, g := range grades {
		ids[i] = g.ID
		index[g.ID] = i
		grades[i].Components = []payroll.Component{}
	}

	rows, err := q.Query(ctx, `
		SELECT id, grade_id, name, kind, value
		FROM grade_components
		WHERE grade_id = ANY($1)
		ORDER BY grade_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to list grade components: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c payroll.Component
		if err := rows.Scan(&c.ID, &c.GradeID, &c.Name, &c.Kind, &c.Value); err != nil {
			return fmt.Errorf("failed to scan grade component: %w", err)
		}
		i := index[c.GradeID]
		grades[i].Components = append(grades[i].Components, c)
	}
	return rows.Err()
}

// ========== DEDUCTIONS ==========

const deductionColumns = `
	id, code, name, category, rule, is_active, effective_date,
	department_id, priority, depends_on, created_at, updated_at
`

func scanDeduction(row pgx.Row) (payroll.Deduction, error) {
	var (
		d    payroll.Deduction
		rule []byte
	)
	err := row.Scan(
		&d.ID, &d.Code, &d.Name, &d.Category, &rule, &d.IsActive, &d.EffectiveDate,
		&d.DepartmentID, &d.Priority, &d.DependsOn, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return payroll.Deduction{}, err
	}

	var stored payroll.RuleSpec
	if err := json.Unmarshal(rule, &stored); err != nil {
		return payroll.Deduction{}, &payroll.CatalogIntegrityError{Code: d.Code, Reason: "unreadable rule: " + err.Error()}
	}
	d.Rule, err = stored.Rule()
	if err != nil {
		return payroll.Deduction{}, &payroll.CatalogIntegrityError{Code: d.Code, Reason: err.Error()}
	}
	return d, nil
}

func (r *catalogRepositoryImpl) CreateDeduction(ctx context.Context, d payroll.Deduction) (payroll.Deduction, error) {
	q := GetQuerier(ctx, r.db)

	rule, err := json.Marshal(payroll.SpecOf(d.Rule))
	if err != nil {
		return payroll.Deduction{}, fmt.Errorf("failed to encode deduction rule: %w", err)
	}
	dependsOn := d.DependsOn
	if dependsOn == nil {
		dependsOn = []string{}
	}

	_, err = q.Exec(ctx, `
		INSERT INTO deductions (
			id, code, name, category, rule, is_active, effective_date,
			department_id, priority, depends_on, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		d.ID, d.Code, d.Name, d.Category, rule, d.IsActive, d.EffectiveDate,
		d.DepartmentID, d.Priority, dependsOn, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return payroll.Deduction{}, &payroll.CatalogIntegrityError{Code: d.Code, Reason: "duplicate deduction code"}
		}
		return payroll.Deduction{}, fmt.Errorf("failed to create deduction: %w", err)
	}
	return d, nil
}

// ListDeductions returns every stored version, active or not, effective on or
// before asOf. Version selection is left to the caller.
func (r *catalogRepositoryImpl) ListDeductions(ctx context.Context, asOf *time.Time) ([]payroll.Deduction, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT `+deductionColumns+`
		FROM deductions
		WHERE $1::date IS NULL OR effective_date <= $1::date
		ORDER BY code ASC, effective_date DESC
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list deductions: %w", err)
	}
	defer rows.Close()

	deductions := make([]payroll.Deduction, 0)
	for rows.Next() {
		d, err := scanDeduction(rows)
		if err != nil {
			if errors.Is(err, payroll.ErrCatalogIntegrity) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to scan deduction: %w", err)
		}
		deductions = append(deductions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list deductions: %w", err)
	}
	return deductions, nil
}

func (r *catalogRepositoryImpl) SetDeductionActive(ctx context.Context, id string, active bool) (payroll.Deduction, error) {
	q := GetQuerier(ctx, r.db)

	d, err := scanDeduction(q.QueryRow(ctx, `
		UPDATE deductions SET is_active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+deductionColumns, id, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Deduction{}, payroll.ErrDeductionNotFound
		}
		if errors.Is(err, payroll.ErrCatalogIntegrity) {
			return payroll.Deduction{}, err
		}
		return payroll.Deduction{}, fmt.Errorf("failed to update deduction: %w", err)
	}
	return d, nil
}

// ========== BONUSES ==========

const bonusColumns = `id, employee_id, type, amount, payment_date, approval_status, taxable, created_at, updated_at`

func scanBonus(row pgx.Row) (payroll.Bonus, error) {
	var b payroll.Bonus
	err := row.Scan(&b.ID, &b.EmployeeID, &b.Type, &b.Amount, &b.PaymentDate, &b.ApprovalStatus, &b.Taxable, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *catalogRepositoryImpl) CreateBonus(ctx context.Context, b payroll.Bonus) (payroll.Bonus, error) {
	q := GetQuerier(ctx, r.db)

	_, err := q.Exec(ctx, `
		INSERT INTO bonuses (id, employee_id, type, amount, payment_date, approval_status, taxable, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.EmployeeID, b.Type, b.Amount, b.PaymentDate, b.ApprovalStatus, b.Taxable, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return payroll.Bonus{}, fmt.Errorf("failed to create bonus: %w", err)
	}
	return b, nil
}

func (r *catalogRepositoryImpl) GetBonusByID(ctx context.Context, id string) (payroll.Bonus, error) {
	q := GetQuerier(ctx, r.db)

	b, err := scanBonus(q.QueryRow(ctx, "SELECT "+bonusColumns+" FROM bonuses WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Bonus{}, payroll.ErrBonusNotFound
		}
		return payroll.Bonus{}, fmt.Errorf("failed to get bonus: %w", err)
	}
	return b, nil
}

func (r *catalogRepositoryImpl) UpdateBonusApproval(ctx context.Context, id string, status payroll.ApprovalStatus) (payroll.Bonus, error) {
	q := GetQuerier(ctx, r.db)

	b, err := scanBonus(q.QueryRow(ctx, `
		UPDATE bonuses SET approval_status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+bonusColumns, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Bonus{}, payroll.ErrBonusNotFound
		}
		return payroll.Bonus{}, fmt.Errorf("failed to update bonus approval: %w", err)
	}
	return b, nil
}

// ListBonuses returns an employee's bonuses paid between from and to inclusive,
// whatever their approval status.
func (r *catalogRepositoryImpl) ListBonuses(ctx context.Context, employeeID string, from, to time.Time) ([]payroll.Bonus, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT `+bonusColumns+`
		FROM bonuses
		WHERE employee_id = $1 AND payment_date BETWEEN $2 AND $3
		ORDER BY payment_date ASC, id ASC
	`, employeeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonuses: %w", err)
	}
	defer rows.Close()

	bonuses := make([]payroll.Bonus, 0)
	for rows.Next() {
		b, err := scanBonus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bonus: %w", err)
		}
		bonuses = append(bonuses, b)
	}
	return bonuses, rows.Err()
}

// ========== OVERTIME ==========

func (r *catalogRepositoryImpl) UpsertOvertime(ctx context.Context, rec payroll.OvertimeRecord) (payroll.OvertimeRecord, error) {
	q := GetQuerier(ctx, r.db)

	var result payroll.OvertimeRecord
	err := q.QueryRow(ctx, `
		INSERT INTO overtime_records (id, employee_id, month, year, hours, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (employee_id, month, year) DO UPDATE SET hours = EXCLUDED.hours
		RETURNING id, employee_id, month, year, hours, created_at
	`, rec.ID, rec.EmployeeID, rec.Month, rec.Year, rec.Hours, rec.CreatedAt).Scan(
		&result.ID, &result.EmployeeID, &result.Month, &result.Year, &result.Hours, &result.CreatedAt,
	)
	if err != nil {
		return payroll.OvertimeRecord{}, fmt.Errorf("failed to record overtime: %w", err)
	}
	return result, nil
}

func (r *catalogRepositoryImpl) GetOvertime(ctx context.Context, employeeID string, month, year int) (*payroll.OvertimeRecord, error) {
	q := GetQuerier(ctx, r.db)

	var rec payroll.OvertimeRecord
	err := q.QueryRow(ctx, `
		SELECT id, employee_id, month, year, hours, created_at
		FROM overtime_records
		WHERE employee_id = $1 AND month = $2 AND year = $3
	`, employeeID, month, year).Scan(&rec.ID, &rec.EmployeeID, &rec.Month, &rec.Year, &rec.Hours, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get overtime: %w", err)
	}
	return &rec, nil
}
