/*
Package agreement owns the installment financing lifecycle.

PURPOSE:
  An Agreement is a financing contract for one order, split into fixed
  monthly installments. This package creates the agreement together with its
  full schedule, drives both state machines (agreement and installment), and
  serves the read-side projections.

KEY CONCEPTS IN THIS FILE (types.go):
  - Agreement: the aggregate root, one per financed order
  - Installment: one scheduled payment period, owned by its agreement
  - Status enums: closed sets; display strings are a boundary concern

STATE MACHINES:
  Agreement:   PENDING --approve--> APPROVED --(all paid)--> COMPLETED
               PENDING/APPROVED --cancel--> CANCELLED
  Installment: PENDING --pay--> PAID

  COMPLETED is derived: the manager flips it inside the same transaction
  that records the final payment. OVERDUE is never stored; it is the
  read-time predicate OverdueAt.

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money (whole rial, no fractions)
  2. Type safety: closed status enums, never raw strings in business logic
  3. Single writer: all mutation goes through the Manager

SEE ALSO:
  - manager.go: lifecycle operations
  - store.go: persistence contract
  - errors.go: failure taxonomy
*/
package agreement

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/taqsit/installment-engine/jalali"
)

// =============================================================================
// STATUS ENUMS
// =============================================================================

type AgreementStatus string

const (
	StatusPending   AgreementStatus = "PENDING"
	StatusApproved  AgreementStatus = "APPROVED"
	StatusCompleted AgreementStatus = "COMPLETED"
	StatusCancelled AgreementStatus = "CANCELLED"
)

// Valid reports whether s is a member of the closed status set.
func (s AgreementStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s AgreementStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// =============================================================================
// AGREEMENT - Aggregate root
// =============================================================================

// Agreement is a financing contract tied 1:1 to an order and owned by a
// customer. Mutated only through the Manager.
type Agreement struct {
	ID         string
	OrderID    string
	CustomerID string

	TotalAmount     decimal.Decimal
	DownPayment     decimal.Decimal
	PrincipalAmount decimal.Decimal // TotalAmount - DownPayment

	InstallmentCount   int
	AnnualRatePercent  decimal.Decimal
	MonthlyRatePercent decimal.Decimal
	InstallmentAmount  decimal.Decimal // fixed per-period payment
	TotalInterest      decimal.Decimal
	TotalPayment       decimal.Decimal

	GuaranteeType string
	OriginDate    jalali.Date // anchor for every due date

	Status      AgreementStatus
	CreatedBy   string
	ApprovedBy  string
	CancelledBy string

	// Version guards the status against lost updates. Every status write
	// is a compare-and-swap on this counter.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// INSTALLMENT
// =============================================================================

// Installment is one scheduled payment period. All of an agreement's
// installments are created in a single batch with the agreement itself.
type Installment struct {
	ID          string
	AgreementID string
	Number      int // 1..InstallmentCount

	DueDate   jalali.Date
	Amount    decimal.Decimal // the agreement's fixed installment amount
	Interest  decimal.Decimal
	Principal decimal.Decimal
	Remaining decimal.Decimal // balance owed after this period

	Status InstallmentStatus

	// Payment facts, set exactly once by MarkInstallmentPaid.
	PaidAt      *time.Time
	PaymentDate jalali.Date // zero until paid
	PaidAmount  decimal.Decimal
	PaidBy      string
	Notes       string

	CreatedAt time.Time
}

// OverdueAt reports whether the installment is past due as of today.
// Overdue is a read-time label; it is never written to storage.
func (i Installment) OverdueAt(today jalali.Date) bool {
	return i.Status == InstallmentPending && i.DueDate.Before(today)
}

// =============================================================================
// READ-SIDE PROJECTIONS
// =============================================================================

// AgreementDetail is an agreement with its full installment set, read as
// one consistent snapshot.
type AgreementDetail struct {
	Agreement    *Agreement
	Installments []*Installment
}

// UnpaidInstallment pairs a pending installment with its parent agreement
// reference for cross-agreement listings.
type UnpaidInstallment struct {
	AgreementID string
	OrderID     string
	Installment *Installment
	Overdue     bool
}

// CustomerSummary aggregates a customer's position across agreements.
type CustomerSummary struct {
	CustomerID       string
	AgreementCount   int
	OutstandingTotal decimal.Decimal // unpaid installment amounts
	PaidCount        int
	UnpaidCount      int
	OverdueCount     int
}
