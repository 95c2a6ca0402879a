package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/boxoffice/internal/gateway"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/queue"
)

func TestCreateSeatBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pool(t, 3, 250)

	b := f.book(t, p.ID, "1", "2")
	assert.Equal(t, model.BookingPending, b.Status)
	assert.Equal(t, model.PaymentPending, b.PaymentStatus)
	assert.Equal(t, int64(500), b.Amount)
	assert.Equal(t, vendorID, b.VendorID)
	assert.NotEmpty(t, b.HoldID)
	assert.NotEmpty(t, b.GatewayRef)
	assert.Equal(t, epoch.Add(10*time.Minute), b.ExpiresAt)

	t.Run("amount must match price", func(t *testing.T) {
		_, err := f.Bookings.CreateSeatBooking(ctx, SeatBookingInput{UserID: customerID, PoolID: p.ID, Units: []string{"3"}, Amount: 1})
		assert.ErrorIs(t, err, model.ErrAmountMismatch)
	})

	t.Run("currency must match pool", func(t *testing.T) {
		_, err := f.Bookings.CreateSeatBooking(ctx, SeatBookingInput{UserID: customerID, PoolID: p.ID, Units: []string{"3"}, Currency: "usd"})
		assert.ErrorIs(t, err, model.ErrAmountMismatch)
	})

	t.Run("failed hold leaves no booking", func(t *testing.T) {
		_, err := f.Bookings.CreateSeatBooking(ctx, SeatBookingInput{UserID: customerID, PoolID: p.ID, Units: []string{"2", "3"}})
		assert.ErrorIs(t, err, model.ErrAlreadyHeld)
		list, err := f.Bookings.ListForUser(ctx, customerID, 10, 0)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("no units", func(t *testing.T) {
		_, err := f.Bookings.CreateSeatBooking(ctx, SeatBookingInput{UserID: customerID, PoolID: p.ID, Units: []string{" "}})
		assert.ErrorIs(t, err, model.ErrInvalidUnits)
	})

	t.Run("unknown pool", func(t *testing.T) {
		_, err := f.Bookings.CreateSeatBooking(ctx, SeatBookingInput{UserID: customerID, PoolID: "nope", Units: []string{"1"}})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestApplyPayment_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pool(t, 2, 1000)
	b := f.book(t, p.ID, "1")

	assert.Equal(t, ResultApplied, f.pay(t, b, "evt-1"))

	got, err := f.Bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, got.Status)
	assert.Equal(t, model.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, "confirmed", got.SeatStatus())
	assert.Equal(t, gateway.Generic, got.Gateway)
	require.NotEmpty(t, got.CreditEntryID)

	h, err := f.store.GetHold(ctx, b.HoldID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldCommitted, h.Status)

	vendor := f.account(t, vendorID)
	assert.Equal(t, int64(900), vendor.PendingBalance)
	assert.Equal(t, int64(900), vendor.TotalEarnings)
	assert.Equal(t, int64(0), vendor.Balance)
	platform := f.account(t, "platform")
	assert.Equal(t, int64(100), platform.Balance)

	f.requireBalanced(t, vendorID)
	f.requireBalanced(t, "platform")
	assert.Contains(t, f.pub.queues(), queue.BookingCompleted)
}

func TestApplyPayment_Idempotent(t *testing.T) {
	f := newFixture(t)
	p := f.pool(t, 2, 1000)
	b := f.book(t, p.ID, "1")

	assert.Equal(t, ResultApplied, f.pay(t, b, "evt-1"))
	assert.Equal(t, ResultDuplicate, f.pay(t, b, "evt-1"))
	// A different delivery of the same success finds the booking settled.
	assert.Equal(t, ResultIgnored, f.pay(t, b, "evt-2"))

	vendor := f.account(t, vendorID)
	assert.Equal(t, int64(900), vendor.PendingBalance)
	entries, err := f.Ledger.Entries(context.Background(), vendorID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApplyPayment_AmountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pool(t, 2, 1000)
	b := f.book(t, p.ID, "1")

	res, err := f.deliver(t, gateway.GenericEvent{
		EventID: "evt-1", Kind: "payment", Reference: b.GatewayRef, Outcome: "success", Amount: 999, Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, res)

	got, err := f.Bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingFailed, got.Status)
	a, err := f.Inventory.Availability(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Held)

	_, err = f.Ledger.Account(ctx, vendorID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestApplyPayment_FailureReleasesHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pool(t, 1, 1000)
	b := f.book(t, p.ID, "1")

	res, err := f.deliver(t, gateway.GenericEvent{EventID: "evt-1", Reference: b.GatewayRef, Outcome: "failure", Reason: "card declined"})
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	got, _ := f.Bookings.Get(ctx, b.ID)
	assert.Equal(t, model.BookingFailed, got.Status)
	assert.Equal(t, model.PaymentFailed, got.PaymentStatus)

	// the unit is bookable again
	f.book(t, p.ID, "1")
}

func TestApplyPayment_UnknownReference(t *testing.T) {
	f := newFixture(t)
	res, err := f.deliver(t, gateway.GenericEvent{EventID: "evt-1", Reference: "bkg_missing", Outcome: "success", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res)

	fresh, err := f.store.MarkProcessed(context.Background(), gateway.Generic, "evt-1", "", epoch)
	require.NoError(t, err)
	assert.False(t, fresh, "ignored events are still recorded")
}

func TestApplyPayment_ReversalRefundsCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pool(t, 1, 1000)
	b := f.book(t, p.ID, "1")
	f.pay(t, b, "evt-1")

	// past the cancellation window; a gateway reversal ignores it
	f.clock.Advance(72 * time.Hour)
	res, err := f.deliver(t, gateway.GenericEvent{EventID: "evt-2", Reference: b.GatewayRef, Outcome: "reversal", Amount: 1000, Currency: "INR"})
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	got, _ := f.Bookings.Get(ctx, b.ID)
	assert.Equal(t, model.BookingCancelled, got.Status)
	assert.Equal(t, model.PaymentRefunded, got.PaymentStatus)

	credit, err := f.store.GetEntry(ctx, got.CreditEntryID)
	require.NoError(t, err)
	assert.Equal(t, model.EntryFailed, credit.Status)

	vendor := f.account(t, vendorID)
	assert.Equal(t, int64(0), vendor.PendingBalance)
	assert.Equal(t, int64(900), vendor.TotalReversed)
	platform := f.account(t, "platform")
	assert.Equal(t, int64(0), platform.Balance)
	assert.Equal(t, int64(100), platform.TotalReversed)
	f.requireBalanced(t, vendorID)
	f.requireBalanced(t, "platform")

	a, _ := f.Inventory.Availability(ctx, p.ID)
	assert.Equal(t, 1, a.Available)
}

func TestApplyPayment_ReversalMustMatchBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pool(t, 1, 2000)
	b := f.book(t, p.ID, "1")
	f.pay(t, b, "evt-1")

	for i, ev := range []gateway.GenericEvent{
		{EventID: "evt-partial", Reference: b.GatewayRef, Outcome: "reversal", Amount: 100, Currency: "INR"},
		{EventID: "evt-currency", Reference: b.GatewayRef, Outcome: "reversal", Amount: 2000, Currency: "USD"},
	} {
		res, err := f.deliver(t, ev)
		require.NoError(t, err, i)
		assert.Equal(t, ResultIgnored, res, ev.EventID)
	}

	got, _ := f.Bookings.Get(ctx, b.ID)
	assert.Equal(t, model.BookingCompleted, got.Status)
	vendor := f.account(t, vendorID)
	assert.Equal(t, int64(1800), vendor.PendingBalance)
	assert.Equal(t, int64(0), vendor.TotalReversed)
	f.requireBalanced(t, vendorID)
}

func TestApplyPayment_ReversalAfterPayoutIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pool(t, 1, 1000)
	b := f.book(t, p.ID, "1")
	f.pay(t, b, "evt-1")

	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.Ledger.ReleaseDue(ctx, 10)
	require.NoError(t, err)
	_, err = f.Ledger.RequestWithdrawal(ctx, vendorID, 900, bank())
	require.NoError(t, err)

	ev := gateway.GenericEvent{EventID: "evt-rev", Reference: b.GatewayRef, Outcome: "reversal", Amount: 1000, Currency: "INR"}
	res, err := f.deliver(t, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res)

	// recorded, so redelivery is a duplicate rather than another failure
	res, err = f.deliver(t, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)

	got, _ := f.Bookings.Get(ctx, b.ID)
	assert.Equal(t, model.BookingCompleted, got.Status)
	vendor := f.account(t, vendorID)
	assert.Equal(t, int64(900), vendor.ProcessingBalance)
	assert.Equal(t, int64(0), vendor.TotalReversed)
	f.requireBalanced(t, vendorID)
	f.requireBalanced(t, "platform")
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending", func(t *testing.T) {
		f := newFixture(t)
		p := f.pool(t, 1, 1000)
		b := f.book(t, p.ID, "1")

		_, err := f.Bookings.Cancel(ctx, "intruder", b.ID)
		assert.ErrorIs(t, err, model.ErrForbidden)

		got, err := f.Bookings.Cancel(ctx, customerID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BookingCancelled, got.Status)
		assert.Equal(t, model.PaymentCancelled, got.PaymentStatus)
		assert.Equal(t, "cancelled", got.SeatStatus())
		a, _ := f.Inventory.Availability(ctx, p.ID)
		assert.Equal(t, 0, a.Held)

		_, err = f.Bookings.Cancel(ctx, customerID, b.ID)
		assert.ErrorIs(t, err, model.ErrNotCancellable)
	})

	t.Run("completed within window", func(t *testing.T) {
		f := newFixture(t)
		p := f.pool(t, 1, 1000)
		b := f.book(t, p.ID, "1")
		f.pay(t, b, "evt-1")
		f.clock.Advance(23 * time.Hour)

		got, err := f.Bookings.Cancel(ctx, customerID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentRefunded, got.PaymentStatus)
		credit, err := f.store.GetEntry(ctx, got.CreditEntryID)
		require.NoError(t, err)
		assert.Equal(t, model.EntryCancelled, credit.Status)
		f.requireBalanced(t, vendorID)
		assert.Contains(t, f.pub.queues(), queue.BookingCancelled)
	})

	t.Run("completed after window", func(t *testing.T) {
		f := newFixture(t)
		p := f.pool(t, 1, 1000)
		b := f.book(t, p.ID, "1")
		f.pay(t, b, "evt-1")
		f.clock.Advance(25 * time.Hour)

		_, err := f.Bookings.Cancel(ctx, customerID, b.ID)
		assert.ErrorIs(t, err, model.ErrNotCancellable)
		got, _ := f.Bookings.Get(ctx, b.ID)
		assert.Equal(t, model.BookingCompleted, got.Status)
	})

	t.Run("funds already withdrawn", func(t *testing.T) {
		f := newFixture(t)
		p := f.pool(t, 1, 1000)
		b := f.book(t, p.ID, "1")
		f.pay(t, b, "evt-1")

		// release early by moving the clock past the hold period, withdraw,
		// then rewind inside the cancellation window
		f.clock.Advance(8 * 24 * time.Hour)
		n, err := f.Ledger.ReleaseDue(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		_, err = f.Ledger.RequestWithdrawal(ctx, vendorID, 900, bank())
		require.NoError(t, err)
		f.clock.Set(epoch.Add(time.Hour))

		_, err = f.Bookings.Cancel(ctx, customerID, b.ID)
		assert.ErrorIs(t, err, model.ErrNotCancellable)
		got, _ := f.Bookings.Get(ctx, b.ID)
		assert.Equal(t, model.BookingCompleted, got.Status)
		f.requireBalanced(t, vendorID)
	})
}

func TestMediaPurchase_Access(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.Bookings.CreateMediaPurchase(ctx, MediaPurchaseInput{UserID: customerID, VendorID: vendorID, MediaRef: "film-1", Amount: 0})
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	_, err = f.Bookings.CreateMediaPurchase(ctx, MediaPurchaseInput{UserID: customerID, VendorID: vendorID, MediaRef: "film-1", PurchaseType: "lease", Amount: 10})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	b, err := f.Bookings.CreateMediaPurchase(ctx, MediaPurchaseInput{
		UserID: customerID, VendorID: vendorID, MediaRef: "film-1", PurchaseType: model.PurchaseRent, Amount: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, "INR", b.Currency)
	assert.Empty(t, b.HoldID)

	ok, _, err := f.Bookings.HasAccess(ctx, customerID, "film-1")
	require.NoError(t, err)
	assert.False(t, ok)

	f.pay(t, b, "evt-1")
	ok, grant, err := f.Bookings.HasAccess(ctx, customerID, "film-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, grant.AccessExpiresAt)
	assert.Equal(t, epoch.Add(48*time.Hour), *grant.AccessExpiresAt)

	f.clock.Advance(49 * time.Hour)
	ok, _, err = f.Bookings.HasAccess(ctx, customerID, "film-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetForUser_HidesOtherUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pool(t, 1, 100)
	b := f.book(t, p.ID, "1")

	_, err := f.Bookings.GetForUser(ctx, "someone-else", b.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	got, err := f.Bookings.GetForUser(ctx, customerID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	vendorList, err := f.Bookings.ListForVendor(ctx, vendorID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, vendorList, 1)
}
