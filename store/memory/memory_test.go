package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taqsit/installment-engine/agreement"
	"github.com/taqsit/installment-engine/jalali"
)

var memNow = time.Date(2024, time.June, 15, 10, 30, 0, 0, time.UTC)

func seedAgreement(t *testing.T, store *Store, id, orderID string) []*agreement.Installment {
	t.Helper()
	ag := &agreement.Agreement{
		ID:              id,
		OrderID:         orderID,
		CustomerID:      "cust-1",
		PrincipalAmount: decimal.NewFromInt(12_000_000),
		Status:          agreement.StatusPending,
		OriginDate:      jalali.MustNew(1403, 1, 15),
		Version:         1,
		CreatedAt:       memNow,
		UpdatedAt:       memNow,
	}
	installments := []*agreement.Installment{
		{
			ID: id + "-1", AgreementID: id, Number: 1,
			DueDate: jalali.MustNew(1403, 2, 15),
			Amount:  decimal.NewFromInt(4_200_000),
			Status:  agreement.InstallmentPending,
		},
		{
			ID: id + "-2", AgreementID: id, Number: 2,
			DueDate: jalali.MustNew(1403, 3, 15),
			Amount:  decimal.NewFromInt(4_200_000),
			Status:  agreement.InstallmentPending,
		},
	}
	require.NoError(t, store.CreateAgreement(context.Background(), ag, installments))
	return installments
}

func TestWithTx_RollbackRestoresEverything(t *testing.T) {
	store := New()
	ctx := context.Background()
	installments := seedAgreement(t, store, "ag-1", "order-1")

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s agreement.Store) error {
		if err := s.SetInstallmentPaid(ctx, installments[0].ID, agreement.PaymentPatch{
			PaidAt:      memNow,
			PaymentDate: jalali.MustNew(1403, 2, 10),
			PaidAmount:  decimal.NewFromInt(4_200_000),
		}); err != nil {
			return err
		}
		if err := s.UpdateAgreementStatus(ctx, "ag-1", 1, agreement.StatusPatch{
			Status:    agreement.StatusCompleted,
			UpdatedAt: memNow,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	inst, err := store.GetInstallment(ctx, installments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, agreement.InstallmentPending, inst.Status)
	assert.Nil(t, inst.PaidAt)

	ag, err := store.GetAgreement(ctx, "ag-1")
	require.NoError(t, err)
	assert.Equal(t, agreement.StatusPending, ag.Status)
	assert.Equal(t, 1, ag.Version)
}

func TestWithTx_CommitKeepsWritesAndSeesOwn(t *testing.T) {
	store := New()
	ctx := context.Background()
	installments := seedAgreement(t, store, "ag-1", "order-1")

	err := store.WithTx(ctx, func(s agreement.Store) error {
		if err := s.SetInstallmentPaid(ctx, installments[0].ID, agreement.PaymentPatch{
			PaidAt:      memNow,
			PaymentDate: jalali.MustNew(1403, 2, 10),
			PaidAmount:  decimal.NewFromInt(4_200_000),
			PaidBy:      "cashier-1",
		}); err != nil {
			return err
		}
		// The transaction observes its own write.
		inst, err := s.GetInstallment(ctx, installments[0].ID)
		if err != nil {
			return err
		}
		assert.Equal(t, agreement.InstallmentPaid, inst.Status)
		return nil
	})
	require.NoError(t, err)

	inst, err := store.GetInstallment(ctx, installments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, agreement.InstallmentPaid, inst.Status)
	assert.Equal(t, "cashier-1", inst.PaidBy)
}

func TestReads_ReturnIsolatedCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	installments := seedAgreement(t, store, "ag-1", "order-1")

	ag, err := store.GetAgreement(ctx, "ag-1")
	require.NoError(t, err)
	ag.Status = agreement.StatusCancelled
	ag.CustomerID = "mutated"

	again, err := store.GetAgreement(ctx, "ag-1")
	require.NoError(t, err)
	assert.Equal(t, agreement.StatusPending, again.Status)
	assert.Equal(t, "cust-1", again.CustomerID)

	require.NoError(t, store.SetInstallmentPaid(ctx, installments[0].ID, agreement.PaymentPatch{
		PaidAt:      memNow,
		PaymentDate: jalali.MustNew(1403, 2, 10),
		PaidAmount:  decimal.NewFromInt(4_200_000),
	}))
	inst, err := store.GetInstallment(ctx, installments[0].ID)
	require.NoError(t, err)
	*inst.PaidAt = inst.PaidAt.Add(time.Hour) // caller scribbles on the copy

	again2, err := store.GetInstallment(ctx, installments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, memNow, *again2.PaidAt)
}

func TestConcurrencyGuards(t *testing.T) {
	store := New()
	ctx := context.Background()
	installments := seedAgreement(t, store, "ag-1", "order-1")

	require.NoError(t, store.UpdateAgreementStatus(ctx, "ag-1", 1, agreement.StatusPatch{
		Status: agreement.StatusApproved, ApprovedBy: "m-1", UpdatedAt: memNow,
	}))
	err := store.UpdateAgreementStatus(ctx, "ag-1", 1, agreement.StatusPatch{
		Status: agreement.StatusCancelled, UpdatedAt: memNow,
	})
	assert.ErrorIs(t, err, agreement.ErrConcurrencyConflict)

	patch := agreement.PaymentPatch{
		PaidAt:      memNow,
		PaymentDate: jalali.MustNew(1403, 2, 10),
		PaidAmount:  decimal.NewFromInt(4_200_000),
	}
	require.NoError(t, store.SetInstallmentPaid(ctx, installments[0].ID, patch))
	assert.ErrorIs(t, store.SetInstallmentPaid(ctx, installments[0].ID, patch), agreement.ErrAlreadyPaid)
}
