package payroll

import "context"

type PayrollService interface {
	// Calculation
	CalculatePayroll(ctx context.Context, caller CallerContext, req CalculatePayrollRequest) (Entry, error)
	RunBatch(ctx context.Context, caller CallerContext, req RunBatchRequest) (BatchResult, error)
	ResumeBatch(ctx context.Context, batchID string) (BatchResult, error)
	ResumeStaleBatches(ctx context.Context) error
	GetBatchRun(ctx context.Context, caller CallerContext, id string) (BatchRun, error)

	// Queries
	GetPayrollPeriods(ctx context.Context, caller CallerContext, filter PeriodFilter) (PeriodListResponse, error)
	GetPayrollByID(ctx context.Context, caller CallerContext, id string) (Entry, error)
	GetEmployeePayrollHistory(ctx context.Context, caller CallerContext, employeeID string) ([]Entry, error)
	GetPeriodSummary(ctx context.Context, caller CallerContext, periodID string) (Summary, error)

	// Lifecycle
	TransitionEntry(ctx context.Context, caller CallerContext, req TransitionRequest) (Entry, error)
	AttachPaymentReference(ctx context.Context, caller CallerContext, req PaymentReferenceRequest) (Entry, error)
	ApprovePeriod(ctx context.Context, caller CallerContext, periodID string) (Summary, error)
	GenerateTaxReport(ctx context.Context, caller CallerContext, periodID string) (TaxReport, error)
}

// CatalogService maintains the catalog. A caller with a department scope may
// only touch records of that department.
type CatalogService interface {
	CreateSalaryGrade(ctx context.Context, caller CallerContext, req CreateSalaryGradeRequest) (SalaryGrade, error)
	ListSalaryGrades(ctx context.Context, caller CallerContext) ([]SalaryGrade, error)
	CreateDeduction(ctx context.Context, caller CallerContext, req CreateDeductionRequest) (Deduction, error)
	ListDeductions(ctx context.Context, caller CallerContext) ([]Deduction, error)
	SetDeductionActive(ctx context.Context, caller CallerContext, req SetDeductionActiveRequest) (Deduction, error)
	CreateBonus(ctx context.Context, caller CallerContext, req CreateBonusRequest) (Bonus, error)
	DecideBonus(ctx context.Context, caller CallerContext, req DecideBonusRequest) (Bonus, error)
	RecordOvertime(ctx context.Context, caller CallerContext, req RecordOvertimeRequest) (OvertimeRecord, error)
}

// Event is emitted on every entry status change, including creation.
type Event struct {
	Type           string      `json:"type"`
	PayrollID      string      `json:"payrollId"`
	Month          int         `json:"month"`
	Year           int         `json:"year"`
	Status         EntryStatus `json:"status"`
	EmployeeID     string      `json:"employeeId"`
	EmployeeName   string      `json:"employeeName"`
	DepartmentID   string      `json:"departmentId"`
	DepartmentName string      `json:"departmentName"`
}

const EventTypePayroll = "payroll"

// NewEvent builds the notification event for an entry's current status.
func NewEvent(e Entry) Event {
	return Event{
		Type:           EventTypePayroll,
		PayrollID:      e.ID,
		Month:          e.Month,
		Year:           e.Year,
		Status:         e.Status,
		EmployeeID:     e.EmployeeID,
		EmployeeName:   e.EmployeeName,
		DepartmentID:   e.DepartmentID,
		DepartmentName: e.DepartmentName,
	}
}

// EventPublisher delivers events without blocking the caller. Delivery
// failures never affect the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}
