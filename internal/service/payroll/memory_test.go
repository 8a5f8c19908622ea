package payroll

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/google/uuid"
)

// memoryStore implements every repository used by the service on top of maps.
type memoryStore struct {
	mu         sync.Mutex
	periods    map[string]payroll.Period
	entries    map[string]payroll.Entry
	batches    map[string]payroll.BatchRun
	grades     map[string]payroll.SalaryGrade
	deductions []payroll.Deduction
	bonuses    map[string]payroll.Bonus
	overtime   map[string]payroll.OvertimeRecord
	employees  map[string]payroll.Employee
	locks      map[string]bool

	// failEmployee makes GetEmployee fail for the given id.
	failEmployee map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		periods:      make(map[string]payroll.Period),
		entries:      make(map[string]payroll.Entry),
		batches:      make(map[string]payroll.BatchRun),
		grades:       make(map[string]payroll.SalaryGrade),
		bonuses:      make(map[string]payroll.Bonus),
		overtime:     make(map[string]payroll.OvertimeRecord),
		employees:    make(map[string]payroll.Employee),
		locks:        make(map[string]bool),
		failEmployee: make(map[string]error),
	}
}

type txKey struct{}

type txState struct {
	locks []string
}

// WithinTransaction releases locks taken during fn, like an advisory xact lock.
func (m *memoryStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	state := &txState{}
	err := fn(context.WithValue(ctx, txKey{}, state))

	m.mu.Lock()
	for _, k := range state.locks {
		delete(m.locks, k)
	}
	m.mu.Unlock()
	return err
}

// ========== PAYROLL REPOSITORY ==========

func (m *memoryStore) GetOrCreatePeriod(ctx context.Context, month, year int) (payroll.Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.periods {
		if p.Month == month && p.Year == year {
			return p, nil
		}
	}
	_, end := payroll.PeriodBounds(month, year)
	p := payroll.Period{
		ID:             uuid.NewString(),
		Month:          month,
		Year:           year,
		Status:         payroll.PeriodStatusDraft,
		ProcessingDate: end,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	m.periods[p.ID] = p
	return p, nil
}

func (m *memoryStore) GetPeriodByID(ctx context.Context, id string) (payroll.Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return payroll.Period{}, payroll.ErrPeriodNotFound
	}
	return p, nil
}

func (m *memoryStore) LockPeriod(ctx context.Context, id string) (payroll.Period, error) {
	return m.GetPeriodByID(ctx, id)
}

func (m *memoryStore) ListPeriods(ctx context.Context, filter payroll.PeriodFilter) ([]payroll.Period, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []payroll.Period
	for _, p := range m.periods {
		if filter.Year != nil && p.Year != *filter.Year {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year > result[j].Year
		}
		return result[i].Month > result[j].Month
	})
	return result, int64(len(result)), nil
}

func (m *memoryStore) UpdatePeriod(ctx context.Context, period payroll.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.periods[period.ID]; !ok {
		return payroll.ErrPeriodNotFound
	}
	m.periods[period.ID] = period
	return nil
}

func lockKey(employeeID, periodID string) string {
	return employeeID + "/" + periodID
}

func (m *memoryStore) AcquireEntryLock(ctx context.Context, employeeID, periodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lockKey(employeeID, periodID)
	if m.locks[k] {
		return &payroll.CalculationInProgressError{EmployeeID: employeeID, PeriodID: periodID}
	}
	m.locks[k] = true
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.locks = append(state.locks, k)
	}
	return nil
}

func (m *memoryStore) GetEntryByID(ctx context.Context, id string) (payroll.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return payroll.Entry{}, payroll.ErrEntryNotFound
	}
	return e, nil
}

func (m *memoryStore) GetEntry(ctx context.Context, employeeID, periodID string) (*payroll.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EmployeeID == employeeID && e.PeriodID == periodID {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) ListEntriesByPeriod(ctx context.Context, periodID string) ([]payroll.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []payroll.Entry
	for _, e := range m.entries {
		if e.PeriodID == periodID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EmployeeID < result[j].EmployeeID })
	return result, nil
}

func (m *memoryStore) ListEntriesByEmployee(ctx context.Context, employeeID string) ([]payroll.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []payroll.Entry
	for _, e := range m.entries {
		if e.EmployeeID == employeeID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year > result[j].Year
		}
		return result[i].Month > result[j].Month
	})
	return result, nil
}

func (m *memoryStore) UpsertEntry(ctx context.Context, entry payroll.Entry) (payroll.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return entry, nil
}

func (m *memoryStore) CreateBatchRun(ctx context.Context, run payroll.BatchRun) (payroll.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[run.ID] = run
	return run, nil
}

func (m *memoryStore) GetBatchRun(ctx context.Context, id string) (payroll.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.batches[id]
	if !ok {
		return payroll.BatchRun{}, payroll.ErrBatchRunNotFound
	}
	return run, nil
}

func (m *memoryStore) UpdateBatchRun(ctx context.Context, run payroll.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[run.ID] = run
	return nil
}

func (m *memoryStore) ListStaleBatchRuns(ctx context.Context, startedBefore time.Time) ([]payroll.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []payroll.BatchRun
	for _, run := range m.batches {
		if run.Status == payroll.BatchStatusRunning && run.StartedAt.Before(startedBefore) {
			result = append(result, run)
		}
	}
	return result, nil
}

// ========== CATALOG REPOSITORY ==========

func (m *memoryStore) CreateGrade(ctx context.Context, grade payroll.SalaryGrade) (payroll.SalaryGrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grades[grade.ID] = grade
	return grade, nil
}

func (m *memoryStore) GetGradeByID(ctx context.Context, id string) (payroll.SalaryGrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grades[id]
	if !ok {
		return payroll.SalaryGrade{}, payroll.ErrMissingGrade
	}
	return g, nil
}

func (m *memoryStore) ListGradesByLevel(ctx context.Context, level string, asOf time.Time) ([]payroll.SalaryGrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []payroll.SalaryGrade
	for _, g := range m.grades {
		if g.Level == level && !g.EffectiveDate.After(asOf) {
			result = append(result, g)
		}
	}
	return result, nil
}

func (m *memoryStore) ListGrades(ctx context.Context, asOf *time.Time) ([]payroll.SalaryGrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []payroll.SalaryGrade
	for _, g := range m.grades {
		if asOf == nil || !g.EffectiveDate.After(*asOf) {
			result = append(result, g)
		}
	}
	return result, nil
}

func (m *memoryStore) CreateDeduction(ctx context.Context, d payroll.Deduction) (payroll.Deduction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deductions = append(m.deductions, d)
	return d, nil
}

func (m *memoryStore) ListDeductions(ctx context.Context, asOf *time.Time) ([]payroll.Deduction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []payroll.Deduction
	for _, d := range m.deductions {
		if asOf == nil || !d.EffectiveDate.After(*asOf) {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *memoryStore) SetDeductionActive(ctx context.Context, id string, active bool) (payroll.Deduction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.deductions {
		if m.deductions[i].ID == id {
			m.deductions[i].IsActive = active
			return m.deductions[i], nil
		}
	}
	return payroll.Deduction{}, payroll.ErrDeductionNotFound
}

func (m *memoryStore) CreateBonus(ctx context.Context, bonus payroll.Bonus) (payroll.Bonus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bonuses[bonus.ID] = bonus
	return bonus, nil
}

func (m *memoryStore) GetBonusByID(ctx context.Context, id string) (payroll.Bonus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bonuses[id]
	if !ok {
		return payroll.Bonus{}, payroll.ErrBonusNotFound
	}
	return b, nil
}

func (m *memoryStore) UpdateBonusApproval(ctx context.Context, id string, status payroll.ApprovalStatus) (payroll.Bonus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bonuses[id]
	if !ok {
		return payroll.Bonus{}, payroll.ErrBonusNotFound
	}
	b.ApprovalStatus = status
	m.bonuses[id] = b
	return b, nil
}

func (m *memoryStore) ListBonuses(ctx context.Context, employeeID string, from, to time.Time) ([]payroll.Bonus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []payroll.Bonus
	for _, b := range m.bonuses {
		if b.EmployeeID == employeeID && !b.PaymentDate.Before(from) && !b.PaymentDate.After(to) {
			result = append(result, b)
		}
	}
	return result, nil
}

func (m *memoryStore) UpsertOvertime(ctx context.Context, record payroll.OvertimeRecord) (payroll.OvertimeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overtime[lockKey(record.EmployeeID, time.Date(record.Year, time.Month(record.Month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01"))] = record
	return record, nil
}

func (m *memoryStore) GetOvertime(ctx context.Context, employeeID string, month, year int) (*payroll.OvertimeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.overtime[lockKey(employeeID, time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01"))]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// ========== EMPLOYEE DIRECTORY ==========

func (m *memoryStore) GetEmployee(ctx context.Context, id string) (payroll.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failEmployee[id]; ok {
		return payroll.Employee{}, err
	}
	e, ok := m.employees[id]
	if !ok {
		return payroll.Employee{}, &payroll.MissingEmployeeError{EmployeeID: id}
	}
	return e, nil
}

func (m *memoryStore) ListActiveEmployees(ctx context.Context, departmentID *string, ids []string) ([]payroll.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var result []payroll.Employee
	for _, e := range m.employees {
		if !e.Active {
			continue
		}
		if departmentID != nil && e.DepartmentID != *departmentID {
			continue
		}
		if len(ids) > 0 && !wanted[e.ID] {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ========== PUBLISHER ==========

type recordingPublisher struct {
	mu     sync.Mutex
	events []payroll.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event payroll.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []payroll.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]payroll.Event, len(p.events))
	copy(out, p.events)
	return out
}
