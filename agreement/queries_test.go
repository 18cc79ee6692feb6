package agreement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taqsit/installment-engine/agreement"
	"github.com/taqsit/installment-engine/store/memory"
)

// seedCustomer creates two agreements for cust-1 with different origin dates
// so their installments interleave when sorted by due date.
func seedCustomer(t *testing.T, mgr *agreement.Manager) (early, late *agreement.Agreement) {
	t.Helper()
	ctx := context.Background()

	p1 := createParams()
	p1.OrderID = "order-early"
	p1.OriginDate = "1402/10/01" // first due 1402/11/01, well before testNow (1403/03/26)
	p1.InstallmentCount = 4
	early, err := mgr.Create(ctx, p1)
	require.NoError(t, err)

	p2 := createParams()
	p2.OrderID = "order-late"
	p2.OriginDate = "1403/03/20" // first due 1403/04/20, after testNow
	p2.InstallmentCount = 4
	late, err = mgr.Create(ctx, p2)
	require.NoError(t, err)
	return early, late
}

func TestUnpaidByCustomer_SortedAcrossAgreements(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	early, late := seedCustomer(t, mgr)

	unpaid, err := mgr.UnpaidByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, unpaid, 8)

	// Due dates strictly ascending across both agreements.
	for i := 1; i < len(unpaid); i++ {
		prev, cur := unpaid[i-1].Installment.DueDate, unpaid[i].Installment.DueDate
		assert.True(t, prev.Before(cur) || prev.Equal(cur),
			"due dates out of order at %d: %s > %s", i, prev, cur)
	}

	// All four early installments come before the first late one.
	for i := 0; i < 4; i++ {
		assert.Equal(t, early.ID, unpaid[i].AgreementID)
	}
	assert.Equal(t, late.ID, unpaid[4].AgreementID)
	assert.Equal(t, "order-late", unpaid[4].OrderID)
}

func TestUnpaidByCustomer_ExcludesPaidAndDerivesOverdue(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	early, _ := seedCustomer(t, mgr)

	detail, err := mgr.GetWithInstallments(ctx, early.ID)
	require.NoError(t, err)
	_, err = mgr.MarkInstallmentPaid(ctx, detail.Installments[0].ID, agreement.PaymentParams{
		PaidBy:      "cashier-1",
		PaidAmount:  detail.Installments[0].Amount,
		PaymentDate: "1402/11/01",
	})
	require.NoError(t, err)

	unpaid, err := mgr.UnpaidByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, unpaid, 7)

	for _, u := range unpaid {
		assert.NotEqual(t, detail.Installments[0].ID, u.Installment.ID)
	}

	// testNow is 1403/03/26: the early agreement's remaining installments
	// (due 1402/12/01, 1403/01/01, 1403/02/01) are overdue, the late
	// agreement's (first due 1403/04/20) are not.
	overdue := 0
	for _, u := range unpaid {
		if u.Overdue {
			overdue++
			assert.Equal(t, early.ID, u.AgreementID)
		}
	}
	assert.Equal(t, 3, overdue)
}

func TestUnpaidByCustomer_NoAgreements(t *testing.T) {
	mgr := newTestManager(t)
	unpaid, err := mgr.UnpaidByCustomer(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, unpaid)
}

func TestListings_NewestFirstAndStatusFilter(t *testing.T) {
	store := memory.New()
	mgr := agreement.NewManager(store, fixedClock{now: testNow})
	ctx := context.Background()

	p1 := createParams()
	p1.OrderID = "order-a"
	a, err := mgr.Create(ctx, p1)
	require.NoError(t, err)

	p2 := createParams()
	p2.OrderID = "order-b"
	b, err := mgr.Create(ctx, p2)
	require.NoError(t, err)
	require.NoError(t, mgr.Approve(ctx, b.ID, "manager-1"))

	all, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Same fixed-clock timestamp: insertion order breaks the tie, newest first.
	assert.Equal(t, b.ID, all[0].ID)
	assert.Equal(t, a.ID, all[1].ID)

	approved, err := mgr.ListByStatus(ctx, agreement.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, b.ID, approved[0].ID)

	_, err = mgr.ListByStatus(ctx, agreement.AgreementStatus("BOGUS"))
	assert.ErrorIs(t, err, agreement.ErrInvalidArgument)
	assert.True(t, agreement.IsClientError(err))

	byCustomer, err := mgr.ListByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, byCustomer, 2)
}

func TestGetByOrder(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	ag, err := mgr.Create(ctx, createParams())
	require.NoError(t, err)

	got, err := mgr.GetByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, ag.ID, got.ID)

	_, err = mgr.GetByOrder(ctx, "order-missing")
	assert.ErrorIs(t, err, agreement.ErrNotFound)
}

func TestSummary_AggregatesAcrossAgreements(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	early, _ := seedCustomer(t, mgr)

	detail, err := mgr.GetWithInstallments(ctx, early.ID)
	require.NoError(t, err)
	_, err = mgr.MarkInstallmentPaid(ctx, detail.Installments[0].ID, agreement.PaymentParams{
		PaidBy:      "cashier-1",
		PaidAmount:  detail.Installments[0].Amount,
		PaymentDate: "1402/11/01",
	})
	require.NoError(t, err)

	sum, err := mgr.Summary(ctx, "cust-1")
	require.NoError(t, err)

	assert.Equal(t, "cust-1", sum.CustomerID)
	assert.Equal(t, 2, sum.AgreementCount)
	assert.Equal(t, 1, sum.PaidCount)
	assert.Equal(t, 7, sum.UnpaidCount)
	assert.Equal(t, 3, sum.OverdueCount)

	// Outstanding = 7 unpaid installments at the fixed per-period amount.
	perPeriod := detail.Installments[0].Amount
	assert.True(t, sum.OutstandingTotal.Equal(perPeriod.Mul(dec(7))),
		"outstanding %s", sum.OutstandingTotal)
}
