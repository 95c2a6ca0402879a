package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/boxoffice/internal/gateway"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/queue"
)

func bank() model.BankDetails {
	return model.BankDetails{HolderName: "Vendor One", AccountNumber: "000123456789", IFSC: "hdfc0000001"}
}

// funded posts a credit of gross and releases it.
func funded(t *testing.T, f *fixture, gross int64) {
	t.Helper()
	ctx := context.Background()
	e, err := f.Ledger.PostPendingCredit(ctx, vendorID, "INR", gross, decimal.RequireFromString("0.10"), "booking-x")
	require.NoError(t, err)
	f.clock.Advance(7 * 24 * time.Hour)
	ok, err := f.Ledger.ReleaseToAvailable(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLedger_PendingCreditAndRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.Ledger.PostPendingCredit(ctx, vendorID, "INR", 1000, decimal.RequireFromString("0.10"), "booking-1")
	require.NoError(t, err)
	assert.Equal(t, model.EntryPendingCredit, e.Type)
	assert.Equal(t, int64(100), e.PlatformFee)
	assert.Equal(t, int64(900), e.NetAmount)
	require.NotNil(t, e.AvailableAt)
	assert.Equal(t, epoch.Add(7*24*time.Hour), *e.AvailableAt)

	_, err = f.Ledger.ReleaseToAvailable(ctx, e.ID)
	assert.ErrorIs(t, err, model.ErrHoldNotDue)

	n, err := f.Ledger.ReleaseDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(7 * 24 * time.Hour)
	n, err = f.Ledger.ReleaseDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := f.Ledger.ReleaseToAvailable(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok, "already released")

	a := f.account(t, vendorID)
	assert.Equal(t, int64(900), a.Balance)
	assert.Equal(t, int64(0), a.PendingBalance)
	f.requireBalanced(t, vendorID)

	entries, err := f.Ledger.Entries(ctx, vendorID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.EntryPendingToAvailable, entries[1].Type)
}

func TestLedger_ZeroFee(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, err := f.Ledger.PostPendingCredit(ctx, vendorID, "INR", 1000, decimal.Zero, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), e.NetAmount)
	_, err = f.Ledger.Account(ctx, "platform")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLedger_CurrencyMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.Ledger.PostPendingCredit(ctx, vendorID, "INR", 1000, decimal.Zero, "b1")
	require.NoError(t, err)
	_, err = f.Ledger.PostPendingCredit(ctx, vendorID, "USD", 1000, decimal.Zero, "b2")
	assert.ErrorIs(t, err, model.ErrCurrencyMismatch)
}

func TestLedger_ReverseEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, err := f.Ledger.PostPendingCredit(ctx, vendorID, "INR", 1000, decimal.RequireFromString("0.10"), "booking-1")
	require.NoError(t, err)

	_, err = f.Ledger.ReverseEntry(ctx, e.ID, "oops", model.EntryCompleted)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	ok, err := f.Ledger.ReverseEntry(ctx, e.ID, "chargeback", model.EntryFailed)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.Ledger.ReverseEntry(ctx, e.ID, "chargeback", model.EntryFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	a := f.account(t, vendorID)
	assert.Equal(t, int64(0), a.PendingBalance)
	assert.Equal(t, int64(900), a.TotalReversed)
	f.requireBalanced(t, vendorID)
	f.requireBalanced(t, "platform")
}

func TestLedger_Withdrawal(t *testing.T) {
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.Ledger.RequestWithdrawal(ctx, vendorID, 50, bank())
		assert.ErrorIs(t, err, model.ErrInvalidAmount)
		_, err = f.Ledger.RequestWithdrawal(ctx, vendorID, 500, model.BankDetails{HolderName: "x"})
		assert.ErrorIs(t, err, model.ErrInvalidInput)
		_, err = f.Ledger.RequestWithdrawal(ctx, vendorID, 500, bank())
		assert.ErrorIs(t, err, model.ErrInsufficientFunds, "no account yet")
	})

	t.Run("insufficient funds leaves account untouched", func(t *testing.T) {
		f := newFixture(t)
		funded(t, f, 1000)
		_, err := f.Ledger.RequestWithdrawal(ctx, vendorID, 901, bank())
		assert.ErrorIs(t, err, model.ErrInsufficientFunds)
		a := f.account(t, vendorID)
		assert.Equal(t, int64(900), a.Balance)
		assert.Equal(t, int64(0), a.ProcessingBalance)
		ws, err := f.Ledger.Withdrawals(ctx, vendorID, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, ws)
	})

	t.Run("complete via payout webhook", func(t *testing.T) {
		f := newFixture(t)
		funded(t, f, 1000)
		w, err := f.Ledger.RequestWithdrawal(ctx, vendorID, 400, bank())
		require.NoError(t, err)
		assert.Equal(t, model.WithdrawalPending, w.Status)
		assert.Equal(t, "HDFC0000001", w.Bank.IFSC)
		assert.Contains(t, f.pub.queues(), queue.WithdrawalRequested)

		a := f.account(t, vendorID)
		assert.Equal(t, int64(500), a.Balance)
		assert.Equal(t, int64(400), a.ProcessingBalance)

		res, err := f.deliver(t, gateway.GenericEvent{EventID: "po-1", Kind: "payout", Reference: w.ID, Outcome: "success"})
		require.NoError(t, err)
		assert.Equal(t, ResultApplied, res)
		res, err = f.deliver(t, gateway.GenericEvent{EventID: "po-2", Kind: "payout", Reference: w.ID, Outcome: "reversal"})
		require.NoError(t, err)
		assert.Equal(t, ResultIgnored, res, "closed withdrawals stay closed")

		a = f.account(t, vendorID)
		assert.Equal(t, int64(0), a.ProcessingBalance)
		assert.Equal(t, int64(400), a.TotalWithdrawn)
		f.requireBalanced(t, vendorID)

		got, err := f.Ledger.GetWithdrawal(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, model.WithdrawalCompleted, got.Status)
		assert.Equal(t, "po-1", got.TransferRef)

		ws, err := f.Ledger.Withdrawals(ctx, vendorID, 10, 0)
		require.NoError(t, err)
		require.Len(t, ws, 1)
		assert.Equal(t, "********6789", ws[0].Bank.AccountNumber)
	})

	t.Run("failure returns funds", func(t *testing.T) {
		f := newFixture(t)
		funded(t, f, 1000)
		w, err := f.Ledger.RequestWithdrawal(ctx, vendorID, 400, bank())
		require.NoError(t, err)
		ok, err := f.Ledger.FailWithdrawal(ctx, w.ID, "account closed")
		require.NoError(t, err)
		assert.True(t, ok)

		a := f.account(t, vendorID)
		assert.Equal(t, int64(900), a.Balance)
		assert.Equal(t, int64(0), a.ProcessingBalance)
		f.requireBalanced(t, vendorID)
	})

	t.Run("owner cancels while pending", func(t *testing.T) {
		f := newFixture(t)
		funded(t, f, 1000)
		w, err := f.Ledger.RequestWithdrawal(ctx, vendorID, 400, bank())
		require.NoError(t, err)

		assert.ErrorIs(t, f.Ledger.CancelWithdrawal(ctx, "other-vendor", w.ID), model.ErrForbidden)
		require.NoError(t, f.Ledger.CancelWithdrawal(ctx, vendorID, w.ID))
		assert.ErrorIs(t, f.Ledger.CancelWithdrawal(ctx, vendorID, w.ID), model.ErrInvalidTransition)

		got, _ := f.Ledger.GetWithdrawal(ctx, w.ID)
		assert.Equal(t, model.WithdrawalCancelled, got.Status)
		assert.Equal(t, int64(900), f.account(t, vendorID).Balance)
		f.requireBalanced(t, vendorID)
	})

	t.Run("processing cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		funded(t, f, 1000)
		w, err := f.Ledger.RequestWithdrawal(ctx, vendorID, 400, bank())
		require.NoError(t, err)
		_, ok, err := f.Ledger.MarkWithdrawalProcessing(ctx, w.ID)
		require.NoError(t, err)
		require.True(t, ok)
		_, ok, err = f.Ledger.MarkWithdrawalProcessing(ctx, w.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, f.Ledger.CancelWithdrawal(ctx, vendorID, w.ID), model.ErrInvalidTransition)
	})
}

func TestLedger_ReconcileDetectsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	funded(t, f, 1000)
	a := f.account(t, vendorID)

	// corrupt the stored balance behind the ledger's back
	require.NoError(t, f.store.ApplyAccountDelta(ctx, a.ID, model.AccountDelta{Balance: 5}, epoch))

	rep, err := f.Ledger.Reconcile(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, rep.Balanced)
	assert.Equal(t, int64(5), rep.Drift.Balance)
	assert.Equal(t, 2, rep.Entries)
}
