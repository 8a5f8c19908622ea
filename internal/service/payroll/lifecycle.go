package payroll

import (
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
)

// transitions lists every allowed entry status change. Paid, rejected and
// cancelled are terminal.
var transitions = map[payroll.EntryStatus][]payroll.EntryStatus{
	payroll.EntryStatusPending:    {payroll.EntryStatusProcessing, payroll.EntryStatusCancelled},
	payroll.EntryStatusProcessing: {payroll.EntryStatusApproved, payroll.EntryStatusRejected, payroll.EntryStatusCancelled},
	payroll.EntryStatusApproved:   {payroll.EntryStatusPaid, payroll.EntryStatusCancelled},
}

func CanTransition(from, to payroll.EntryStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves entry to status to. Reason is required for rejection and
// reference for payment.
func Transition(entry payroll.Entry, to payroll.EntryStatus, reason, reference *string, now time.Time) (payroll.Entry, error) {
	if !CanTransition(entry.Status, to) {
		return entry, &payroll.InvalidTransitionError{From: entry.Status, To: to}
	}

	switch to {
	case payroll.EntryStatusRejected:
		if reason == nil || validator.IsEmpty(*reason) {
			return entry, validator.ValidationErrors{{Field: "reason", Message: "is required when rejecting"}}
		}
		r := *reason
		entry.RejectionReason = &r
	case payroll.EntryStatusPaid:
		if reference == nil || validator.IsEmpty(*reference) {
			return entry, validator.ValidationErrors{{Field: "payment_reference", Message: "is required when marking paid"}}
		}
		ref := *reference
		paidAt := now
		entry.PaymentReference = &ref
		entry.PaymentDate = &paidAt
	}

	entry.Status = to
	entry.UpdatedAt = now
	return entry, nil
}

// DerivePeriodStatus computes a period's status from its entries.
// Cancelled entries are ignored.
func DerivePeriodStatus(entries []payroll.Entry) payroll.PeriodStatus {
	counted, paid, approved, processing := 0, 0, 0, 0
	for _, e := range entries {
		switch e.Status {
		case payroll.EntryStatusCancelled:
			continue
		case payroll.EntryStatusPaid:
			paid++
		case payroll.EntryStatusApproved:
			approved++
		case payroll.EntryStatusProcessing:
			processing++
		}
		counted++
	}

	switch {
	case counted == 0:
		return payroll.PeriodStatusDraft
	case paid == counted:
		return payroll.PeriodStatusPaid
	case paid+approved == counted:
		return payroll.PeriodStatusApproved
	case processing > 0:
		return payroll.PeriodStatusProcessing
	default:
		return payroll.PeriodStatusDraft
	}
}
