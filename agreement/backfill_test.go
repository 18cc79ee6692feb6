package agreement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taqsit/installment-engine/agreement"
	"github.com/taqsit/installment-engine/jalali"
	"github.com/taqsit/installment-engine/store/memory"
)

func corruptDueDate(t *testing.T, store *memory.Store, installmentID string, due string) {
	t.Helper()
	d, err := jalali.Parse(due)
	require.NoError(t, err)
	require.NoError(t, store.UpdateInstallmentDueDate(context.Background(), installmentID, d))
}

func TestBackfill_RepairsDriftedDueDates(t *testing.T) {
	store := memory.New()
	mgr := agreement.NewManager(store, fixedClock{now: testNow})
	ctx := context.Background()

	ag, err := mgr.Create(ctx, createParams())
	require.NoError(t, err)
	detail, err := mgr.GetWithInstallments(ctx, ag.ID)
	require.NoError(t, err)

	// Simulate drift from an older month-arithmetic implementation.
	corruptDueDate(t, store, detail.Installments[0].ID, "1403/02/14")
	corruptDueDate(t, store, detail.Installments[4].ID, "1403/06/31")

	updated, err := mgr.BackfillDueDates(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	got, err := mgr.GetWithInstallments(ctx, ag.ID)
	require.NoError(t, err)
	assert.Equal(t, "1403/02/15", got.Installments[0].DueDate.String())
	assert.Equal(t, "1403/06/15", got.Installments[4].DueDate.String())
}

func TestBackfill_SecondRunIsANoOp(t *testing.T) {
	store := memory.New()
	mgr := agreement.NewManager(store, fixedClock{now: testNow})
	ctx := context.Background()

	ag, err := mgr.Create(ctx, createParams())
	require.NoError(t, err)
	detail, err := mgr.GetWithInstallments(ctx, ag.ID)
	require.NoError(t, err)
	corruptDueDate(t, store, detail.Installments[7].ID, "1403/01/01")

	first, err := mgr.BackfillDueDates(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := mgr.BackfillDueDates(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestBackfill_ScopedToOneAgreement(t *testing.T) {
	store := memory.New()
	mgr := agreement.NewManager(store, fixedClock{now: testNow})
	ctx := context.Background()

	ag1, err := mgr.Create(ctx, createParams())
	require.NoError(t, err)
	p2 := createParams()
	p2.OrderID = "order-2"
	ag2, err := mgr.Create(ctx, p2)
	require.NoError(t, err)

	d1, err := mgr.GetWithInstallments(ctx, ag1.ID)
	require.NoError(t, err)
	d2, err := mgr.GetWithInstallments(ctx, ag2.ID)
	require.NoError(t, err)
	corruptDueDate(t, store, d1.Installments[0].ID, "1403/02/01")
	corruptDueDate(t, store, d2.Installments[0].ID, "1403/02/01")

	updated, err := mgr.BackfillDueDates(ctx, ag1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	// The other agreement's drifted date is untouched.
	got2, err := mgr.GetWithInstallments(ctx, ag2.ID)
	require.NoError(t, err)
	assert.Equal(t, "1403/02/01", got2.Installments[0].DueDate.String())
}

func TestBackfill_PaymentFactsSurviveRepair(t *testing.T) {
	store := memory.New()
	mgr := agreement.NewManager(store, fixedClock{now: testNow})
	ctx := context.Background()

	ag, err := mgr.Create(ctx, createParams())
	require.NoError(t, err)
	detail, err := mgr.GetWithInstallments(ctx, ag.ID)
	require.NoError(t, err)

	first := detail.Installments[0]
	_, err = mgr.MarkInstallmentPaid(ctx, first.ID, agreement.PaymentParams{
		PaidBy:      "cashier-1",
		PaidAmount:  first.Amount,
		PaymentDate: "1403/02/10",
	})
	require.NoError(t, err)

	corruptDueDate(t, store, first.ID, "1403/02/01")

	updated, err := mgr.BackfillDueDates(ctx, ag.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got, err := mgr.GetWithInstallments(ctx, ag.ID)
	require.NoError(t, err)
	repaired := got.Installments[0]
	assert.Equal(t, "1403/02/15", repaired.DueDate.String())
	assert.Equal(t, agreement.InstallmentPaid, repaired.Status)
	require.NotNil(t, repaired.PaidAt)
	assert.Equal(t, "cashier-1", repaired.PaidBy)
	assert.Equal(t, "1403/02/10", repaired.PaymentDate.String())
}

func TestBackfill_UnknownAgreement(t *testing.T) {
	mgr := agreement.NewManager(memory.New(), fixedClock{now: testNow})
	_, err := mgr.BackfillDueDates(context.Background(), "nope")
	assert.ErrorIs(t, err, agreement.ErrNotFound)
}
