/*
manager.go - Lifecycle operations for agreements and their installments

PURPOSE:
  The Manager is the single writer for agreement and installment state.
  It creates an agreement together with its full amortization schedule in
  one transaction, drives the approve/cancel transitions, and records
  payments - flipping the agreement to COMPLETED inside the same
  transaction that records the final payment.

COMPLETION INVARIANT:
  An agreement is COMPLETED if and only if every installment is PAID.
  MarkInstallmentPaid re-reads all siblings after its own write, within one
  store transaction, and completes the agreement with a version CAS. Two
  racing final payments cannot both observe an unpaid sibling; the loser of
  the CAS either finds COMPLETED already set (no-op) or surfaces
  ErrConcurrencyConflict for the caller to retry. CANCELLED never completes:
  payment recording against a cancelled agreement is rejected outright.

DUE DATES:
  Installment i is due OriginDate + i months, first installment one month
  after origin. All due-date computation goes through jalali.Date.AddMonths
  so creation and backfill can never disagree.

SEE ALSO:
  - finance/: schedule computation invoked at creation
  - backfill.go: due-date repair
  - queries.go: read-side projections
*/
package agreement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/taqsit/installment-engine/finance"
	"github.com/taqsit/installment-engine/jalali"
)

// Manager owns all agreement and installment mutation.
type Manager struct {
	store TxStore
	clock Clock
}

// NewManager creates a Manager. A nil clock defaults to the system clock.
func NewManager(store TxStore, clock Clock) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Manager{store: store, clock: clock}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateParams is the input to Create. Monetary fields are whole
// smallest-currency-unit values; OriginDate is a Jalali "YYYY/MM/DD" string.
type CreateParams struct {
	OrderID           string
	CustomerID        string
	TotalAmount       decimal.Decimal
	DownPayment       decimal.Decimal
	InstallmentCount  int
	AnnualRatePercent decimal.Decimal
	GuaranteeType     string
	OriginDate        string
	CreatedBy         string
}

// Create computes the amortization schedule and persists the agreement with
// its complete installment set atomically. A reader can never observe the
// agreement with a partial schedule.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Agreement, error) {
	if strings.TrimSpace(p.OrderID) == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(p.CustomerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}
	if p.TotalAmount.IsNegative() {
		return nil, fmt.Errorf("%w: total amount must not be negative", ErrInvalidArgument)
	}
	if p.DownPayment.IsNegative() {
		return nil, fmt.Errorf("%w: down payment must not be negative", ErrInvalidArgument)
	}
	if p.DownPayment.GreaterThan(p.TotalAmount) {
		return nil, fmt.Errorf("%w: down payment exceeds total amount", ErrInvalidArgument)
	}

	origin, err := jalali.Parse(p.OriginDate)
	if err != nil {
		return nil, err
	}

	principal := p.TotalAmount.Sub(p.DownPayment)
	schedule, err := finance.ComputeSchedule(principal, p.AnnualRatePercent, p.InstallmentCount)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	ag := &Agreement{
		ID:                 uuid.NewString(),
		OrderID:            p.OrderID,
		CustomerID:         p.CustomerID,
		TotalAmount:        p.TotalAmount,
		DownPayment:        p.DownPayment,
		PrincipalAmount:    principal,
		InstallmentCount:   p.InstallmentCount,
		AnnualRatePercent:  p.AnnualRatePercent,
		MonthlyRatePercent: schedule.MonthlyRatePercent,
		InstallmentAmount:  schedule.InstallmentAmount,
		TotalInterest:      schedule.TotalInterest,
		TotalPayment:       schedule.TotalPayment,
		GuaranteeType:      p.GuaranteeType,
		OriginDate:         origin,
		Status:             StatusPending,
		CreatedBy:          p.CreatedBy,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	installments := make([]*Installment, 0, len(schedule.Lines))
	for _, line := range schedule.Lines {
		installments = append(installments, &Installment{
			ID:          uuid.NewString(),
			AgreementID: ag.ID,
			Number:      line.Period,
			DueDate:     origin.AddMonths(line.Period),
			Amount:      schedule.InstallmentAmount,
			Interest:    line.Interest,
			Principal:   line.Principal,
			Remaining:   line.Remaining,
			Status:      InstallmentPending,
			PaidAmount:  decimal.Zero,
			CreatedAt:   now,
		})
	}

	if err := m.store.CreateAgreement(ctx, ag, installments); err != nil {
		return nil, err
	}
	return ag, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Approve moves a PENDING agreement to APPROVED.
func (m *Manager) Approve(ctx context.Context, agreementID, approvedBy string) error {
	ag, err := m.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return err
	}
	if ag.Status != StatusPending {
		return &InvalidStateError{AgreementID: agreementID, Current: ag.Status, Attempted: "approve"}
	}

	return m.store.UpdateAgreementStatus(ctx, agreementID, ag.Version, StatusPatch{
		Status:     StatusApproved,
		ApprovedBy: approvedBy,
		UpdatedAt:  m.clock.Now(),
	})
}

// Cancel moves a PENDING or APPROVED agreement to CANCELLED.
func (m *Manager) Cancel(ctx context.Context, agreementID, cancelledBy string) error {
	ag, err := m.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return err
	}
	if ag.Status.Terminal() {
		return &InvalidStateError{AgreementID: agreementID, Current: ag.Status, Attempted: "cancel"}
	}

	return m.store.UpdateAgreementStatus(ctx, agreementID, ag.Version, StatusPatch{
		Status:      StatusCancelled,
		CancelledBy: cancelledBy,
		UpdatedAt:   m.clock.Now(),
	})
}

// =============================================================================
// PAYMENT
// =============================================================================

// PaymentParams is the input to MarkInstallmentPaid.
type PaymentParams struct {
	PaidBy      string
	PaidAmount  decimal.Decimal
	PaymentDate string // Jalali "YYYY/MM/DD"
	PaidAt      *time.Time
	Notes       string
}

// PaymentReceipt reports a recorded payment.
type PaymentReceipt struct {
	InstallmentID      string
	AgreementID        string
	PaidAt             time.Time
	PaymentDate        jalali.Date
	PaidAmount         decimal.Decimal
	AgreementCompleted bool
}

// MarkInstallmentPaid records a payment against one installment and, when
// it is the last unpaid one, completes the parent agreement in the same
// transaction. Short payments and payments against a cancelled agreement
// are rejected outright; overpayments are recorded as offered, never
// redistributed.
func (m *Manager) MarkInstallmentPaid(ctx context.Context, installmentID string, p PaymentParams) (*PaymentReceipt, error) {
	paymentDate, err := jalali.Parse(p.PaymentDate)
	if err != nil {
		return nil, err
	}

	paidAt := m.clock.Now()
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}

	var receipt *PaymentReceipt
	err = m.store.WithTx(ctx, func(s Store) error {
		inst, err := s.GetInstallment(ctx, installmentID)
		if err != nil {
			return err
		}
		ag, err := s.GetAgreement(ctx, inst.AgreementID)
		if err != nil {
			return err
		}
		if ag.Status == StatusCancelled {
			// CANCELLED is terminal; its installments are dead.
			return &InvalidStateError{AgreementID: ag.ID, Current: ag.Status, Attempted: "record payment for"}
		}
		if inst.Status == InstallmentPaid {
			return fmt.Errorf("installment %s: %w", installmentID, ErrAlreadyPaid)
		}
		if p.PaidAmount.LessThan(inst.Amount) {
			return &InsufficientPaymentError{
				InstallmentID: installmentID,
				Required:      inst.Amount,
				Offered:       p.PaidAmount,
			}
		}

		if err := s.SetInstallmentPaid(ctx, installmentID, PaymentPatch{
			PaidAt:      paidAt,
			PaymentDate: paymentDate,
			PaidAmount:  p.PaidAmount,
			PaidBy:      p.PaidBy,
			Notes:       p.Notes,
		}); err != nil {
			return err
		}

		receipt = &PaymentReceipt{
			InstallmentID: installmentID,
			AgreementID:   inst.AgreementID,
			PaidAt:        paidAt,
			PaymentDate:   paymentDate,
			PaidAmount:    p.PaidAmount,
		}

		completed, err := m.completeIfFullyPaid(ctx, s, inst.AgreementID)
		if err != nil {
			return err
		}
		receipt.AgreementCompleted = completed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// completeIfFullyPaid flips the agreement to COMPLETED when every
// installment is PAID. Runs inside the payment transaction; the sibling
// read therefore observes its own write.
func (m *Manager) completeIfFullyPaid(ctx context.Context, s Store, agreementID string) (bool, error) {
	siblings, err := s.ListInstallments(ctx, agreementID)
	if err != nil {
		return false, err
	}
	for _, sib := range siblings {
		if sib.Status != InstallmentPaid {
			return false, nil
		}
	}

	ag, err := s.GetAgreement(ctx, agreementID)
	if err != nil {
		return false, err
	}
	if ag.Status.Terminal() {
		// Either a concurrent final payment already completed it
		// (idempotent no-op) or it is CANCELLED, which is never exited.
		return false, nil
	}

	err = s.UpdateAgreementStatus(ctx, agreementID, ag.Version, StatusPatch{
		Status:    StatusCompleted,
		UpdatedAt: m.clock.Now(),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
