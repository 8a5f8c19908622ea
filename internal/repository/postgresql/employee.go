package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

type employeeDirectoryImpl struct {
	db *database.DB
}

// NewEmployeeDirectory reads employees owned by the HR module. The payroll
// engine never writes to these tables.
func NewEmployeeDirectory(db *database.DB) payroll.EmployeeDirectory {
	return &employeeDirectoryImpl{db: db}
}

const employeeSelect = `
	SELECT e.id, e.full_name, COALESCE(e.department_id::text, ''), COALESCE(d.name, ''),
		COALESCE(e.salary_grade_id::text, ''), e.is_active
	FROM employees e
	LEFT JOIN departments d ON d.id = e.department_id
`

func (r *employeeDirectoryImpl) GetEmployee(ctx context.Context, id string) (payroll.Employee, error) {
	q := GetQuerier(ctx, r.db)

	var e payroll.Employee
	err := q.QueryRow(ctx, employeeSelect+" WHERE e.id = $1", id).Scan(
		&e.ID, &e.FullName, &e.DepartmentID, &e.DepartmentName, &e.SalaryGradeID, &e.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Employee{}, &payroll.MissingEmployeeError{EmployeeID: id}
		}
		return payroll.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

// ListActiveEmployees filters by department when departmentID is set and by
// id when ids is non-empty.
func (r *employeeDirectoryImpl) ListActiveEmployees(ctx context.Context, departmentID *string, ids []string) ([]payroll.Employee, error) {
	q := GetQuerier(ctx, r.db)

	query := employeeSelect + " WHERE e.is_active = TRUE"
	args := []interface{}{}
	argIdx := 1

	if departmentID != nil {
		query += fmt.Sprintf(" AND e.department_id = $%d", argIdx)
		args = append(args, *departmentID)
		argIdx++
	}
	if len(ids) > 0 {
		query += fmt.Sprintf(" AND e.id::text = ANY($%d)", argIdx)
		args = append(args, ids)
	}
	query += " ORDER BY e.id"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active employees: %w", err)
	}
	defer rows.Close()

	employees := make([]payroll.Employee, 0)
	for rows.Next() {
		var e payroll.Employee
		if err := rows.Scan(&e.ID, &e.FullName, &e.DepartmentID, &e.DepartmentName, &e.SalaryGradeID, &e.Active); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}
