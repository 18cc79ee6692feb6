/*
store.go - Persistence contract for agreements and installments

PURPOSE:
  The interface between the lifecycle manager and the database. An
  agreement and its installments are one logical unit: creation is a single
  atomic batch, and status writes are compare-and-swap guarded so the
  completion invariant survives concurrent final payments.

WRITE DISCIPLINE:
  - CreateAgreement is all-or-nothing: no reader ever sees an agreement
    with a partial installment set.
  - UpdateAgreementStatus is a CAS on the agreement's version counter.
  - SetInstallmentPaid only succeeds while the installment is PENDING;
    payment facts are written exactly once.
  - UpdateInstallmentDueDate touches the due date and nothing else
    (backfill's only write).

IMPLEMENTATIONS:
  - store/sqlite: production store
  - store/memory: in-memory store for tests and dev

SEE ALSO:
  - manager.go: the only caller
*/
package agreement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taqsit/installment-engine/jalali"
)

// =============================================================================
// PATCHES - Field sets for the guarded writes
// =============================================================================

// StatusPatch is the field set UpdateAgreementStatus may touch.
type StatusPatch struct {
	Status      AgreementStatus
	ApprovedBy  string // written only when non-empty
	CancelledBy string // written only when non-empty
	UpdatedAt   time.Time
}

// PaymentPatch is the field set SetInstallmentPaid writes.
type PaymentPatch struct {
	PaidAt      time.Time
	PaymentDate jalali.Date
	PaidAmount  decimal.Decimal
	PaidBy      string
	Notes       string
}

// =============================================================================
// STORE
// =============================================================================

// Store persists agreements and installments.
type Store interface {
	// CreateAgreement persists the agreement and its complete installment
	// set atomically.
	CreateAgreement(ctx context.Context, ag *Agreement, installments []*Installment) error

	// GetAgreement returns the agreement or ErrNotFound.
	GetAgreement(ctx context.Context, id string) (*Agreement, error)

	// GetAgreementByOrder returns the agreement financing the given order,
	// or ErrNotFound.
	GetAgreementByOrder(ctx context.Context, orderID string) (*Agreement, error)

	// ListAgreements returns all agreements, newest-created first.
	ListAgreements(ctx context.Context) ([]*Agreement, error)

	// ListAgreementsByStatus filters by status, newest-created first.
	ListAgreementsByStatus(ctx context.Context, status AgreementStatus) ([]*Agreement, error)

	// ListAgreementsByCustomer returns a customer's agreements,
	// newest-created first.
	ListAgreementsByCustomer(ctx context.Context, customerID string) ([]*Agreement, error)

	// GetInstallment returns the installment or ErrNotFound.
	GetInstallment(ctx context.Context, id string) (*Installment, error)

	// ListInstallments returns an agreement's installments ordered by
	// installment number.
	ListInstallments(ctx context.Context, agreementID string) ([]*Installment, error)

	// UpdateAgreementStatus applies patch if and only if the stored version
	// equals expectedVersion, incrementing the version. A lost CAS returns
	// ErrConcurrencyConflict; an unknown id returns ErrNotFound.
	UpdateAgreementStatus(ctx context.Context, id string, expectedVersion int, patch StatusPatch) error

	// SetInstallmentPaid writes the payment facts and flips the installment
	// to PAID, only while it is PENDING. Returns ErrAlreadyPaid if it is
	// PAID, ErrNotFound if it does not exist.
	SetInstallmentPaid(ctx context.Context, id string, patch PaymentPatch) error

	// UpdateInstallmentDueDate rewrites the due date only.
	UpdateInstallmentDueDate(ctx context.Context, id string, due jalali.Date) error
}

// TxStore is a Store whose operations can be grouped into one transaction.
// Both provided stores implement it; the manager requires it.
type TxStore interface {
	Store

	// WithTx executes fn against a Store view scoped to one transaction.
	// fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
