/*
backfill.go - Due-date repair

PURPOSE:
  Historical installments can carry due dates produced by a since-replaced
  month-arithmetic implementation. BackfillDueDates recomputes every due
  date from the agreement's origin date through the one calendar
  implementation in jalali/ and patches only the rows that differ.

GUARANTEES:
  - Touches the due-date column only: amounts, breakdowns, and payment
    facts are never rewritten, so a PAID installment keeps its payment
    record even if its due date moves.
  - Idempotent: a second run over unchanged data patches zero rows.
*/
package agreement

import "context"

// BackfillDueDates recomputes due dates for one agreement, or for every
// agreement when agreementID is empty, and returns the number of
// installments actually modified.
func (m *Manager) BackfillDueDates(ctx context.Context, agreementID string) (int, error) {
	var agreements []*Agreement
	if agreementID != "" {
		ag, err := m.store.GetAgreement(ctx, agreementID)
		if err != nil {
			return 0, err
		}
		agreements = []*Agreement{ag}
	} else {
		all, err := m.store.ListAgreements(ctx)
		if err != nil {
			return 0, err
		}
		agreements = all
	}

	updated := 0
	for _, ag := range agreements {
		if ag.OriginDate.IsZero() {
			continue
		}

		installments, err := m.store.ListInstallments(ctx, ag.ID)
		if err != nil {
			return updated, err
		}
		for _, inst := range installments {
			want := ag.OriginDate.AddMonths(inst.Number)
			if inst.DueDate.Equal(want) {
				continue // skip no-op writes, keeps reruns silent
			}
			if err := m.store.UpdateInstallmentDueDate(ctx, inst.ID, want); err != nil {
				return updated, err
			}
			updated++
		}
	}
	return updated, nil
}
