/*
queries.go - Read-side projections

PURPOSE:
  Pure reads over agreements and installments. No side effects. Reads that
  span an agreement and its installments run inside one store transaction
  so they see a single consistent snapshot, never a half-applied payment.

SORTING:
  - Agreement listings: newest-created first
  - Unpaid installments: due date ascending across all of the customer's
    agreements
*/
package agreement

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// GetWithInstallments returns an agreement with its full installment set as
// one snapshot, or ErrNotFound.
func (m *Manager) GetWithInstallments(ctx context.Context, agreementID string) (*AgreementDetail, error) {
	var detail *AgreementDetail
	err := m.store.WithTx(ctx, func(s Store) error {
		ag, err := s.GetAgreement(ctx, agreementID)
		if err != nil {
			return err
		}
		installments, err := s.ListInstallments(ctx, agreementID)
		if err != nil {
			return err
		}
		detail = &AgreementDetail{Agreement: ag, Installments: installments}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// GetByOrder returns the agreement financing an order, or ErrNotFound.
func (m *Manager) GetByOrder(ctx context.Context, orderID string) (*Agreement, error) {
	return m.store.GetAgreementByOrder(ctx, orderID)
}

// ListByCustomer returns a customer's agreements, newest first.
func (m *Manager) ListByCustomer(ctx context.Context, customerID string) ([]*Agreement, error) {
	return m.store.ListAgreementsByCustomer(ctx, customerID)
}

// List returns all agreements, newest first.
func (m *Manager) List(ctx context.Context) ([]*Agreement, error) {
	return m.store.ListAgreements(ctx)
}

// ListByStatus returns agreements in the given status, newest first.
// An unknown status is a caller input error, not a state-machine violation.
func (m *Manager) ListByStatus(ctx context.Context, status AgreementStatus) ([]*Agreement, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	return m.store.ListAgreementsByStatus(ctx, status)
}

// UnpaidByCustomer returns every unpaid installment across all of the
// customer's agreements, due date ascending. Overdue is derived against
// the injected clock at read time.
func (m *Manager) UnpaidByCustomer(ctx context.Context, customerID string) ([]*UnpaidInstallment, error) {
	today := TodayJalali(m.clock)

	var unpaid []*UnpaidInstallment
	err := m.store.WithTx(ctx, func(s Store) error {
		agreements, err := s.ListAgreementsByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		for _, ag := range agreements {
			installments, err := s.ListInstallments(ctx, ag.ID)
			if err != nil {
				return err
			}
			for _, inst := range installments {
				if inst.Status == InstallmentPaid {
					continue
				}
				unpaid = append(unpaid, &UnpaidInstallment{
					AgreementID: ag.ID,
					OrderID:     ag.OrderID,
					Installment: inst,
					Overdue:     inst.OverdueAt(today),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(unpaid, func(i, j int) bool {
		return unpaid[i].Installment.DueDate.Before(unpaid[j].Installment.DueDate)
	})
	return unpaid, nil
}

// Summary aggregates a customer's position across all agreements.
func (m *Manager) Summary(ctx context.Context, customerID string) (*CustomerSummary, error) {
	today := TodayJalali(m.clock)

	summary := &CustomerSummary{CustomerID: customerID, OutstandingTotal: decimal.Zero}
	err := m.store.WithTx(ctx, func(s Store) error {
		agreements, err := s.ListAgreementsByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		summary.AgreementCount = len(agreements)
		for _, ag := range agreements {
			installments, err := s.ListInstallments(ctx, ag.ID)
			if err != nil {
				return err
			}
			for _, inst := range installments {
				if inst.Status == InstallmentPaid {
					summary.PaidCount++
					continue
				}
				summary.UnpaidCount++
				summary.OutstandingTotal = summary.OutstandingTotal.Add(inst.Amount)
				if inst.OverdueAt(today) {
					summary.OverdueCount++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
