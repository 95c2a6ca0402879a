package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to BookingStatus
		ok       bool
	}{
		{BookingPending, BookingCompleted, true},
		{BookingPending, BookingFailed, true},
		{BookingPending, BookingCancelled, true},
		{BookingPending, BookingExpired, true},
		{BookingCompleted, BookingCancelled, true},
		{BookingCompleted, BookingFailed, false},
		{BookingCompleted, BookingPending, false},
		{BookingFailed, BookingCompleted, false},
		{BookingExpired, BookingCompleted, false},
		{BookingCancelled, BookingCompleted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, BookingExpired.IsFinal())
	assert.False(t, BookingCompleted.IsFinal())
}

func TestBooking_Transition(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("complete then cancel refunds", func(t *testing.T) {
		b := Booking{Status: BookingPending, PaymentStatus: PaymentPending}
		require.NoError(t, b.Transition(BookingCompleted, at))
		assert.Equal(t, PaymentCompleted, b.PaymentStatus)
		require.NotNil(t, b.CompletedAt)
		assert.Equal(t, "confirmed", b.SeatStatus())

		require.NoError(t, b.Transition(BookingCancelled, at.Add(time.Hour)))
		assert.Equal(t, PaymentRefunded, b.PaymentStatus)
		require.NotNil(t, b.CancelledAt)
		assert.Equal(t, "cancelled", b.SeatStatus())
	})

	t.Run("cancel pending", func(t *testing.T) {
		b := Booking{Status: BookingPending}
		require.NoError(t, b.Transition(BookingCancelled, at))
		assert.Equal(t, PaymentCancelled, b.PaymentStatus)
	})

	t.Run("illegal edge leaves booking untouched", func(t *testing.T) {
		b := Booking{Status: BookingExpired, PaymentStatus: PaymentCancelled}
		before := b
		assert.ErrorIs(t, b.Transition(BookingCompleted, at), ErrInvalidTransition)
		assert.Equal(t, before, b)
	})

	t.Run("pending has no seat status", func(t *testing.T) {
		assert.Empty(t, Booking{Status: BookingPending}.SeatStatus())
		assert.Empty(t, Booking{Status: BookingFailed}.SeatStatus())
	})
}

func TestBooking_GrantsAccess(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	buy := Booking{Kind: BookingKindMedia, PurchaseType: PurchaseBuy, Status: BookingCompleted}
	assert.True(t, buy.GrantsAccess(now))

	rent := Booking{Kind: BookingKindMedia, PurchaseType: PurchaseRent, Status: BookingCompleted, AccessExpiresAt: &later}
	assert.True(t, rent.GrantsAccess(now))
	rent.AccessExpiresAt = &earlier
	assert.False(t, rent.GrantsAccess(now))

	pending := Booking{Kind: BookingKindMedia, PurchaseType: PurchaseBuy, Status: BookingPending}
	assert.False(t, pending.GrantsAccess(now))

	seat := Booking{Kind: BookingKindSeat, Status: BookingCompleted}
	assert.False(t, seat.GrantsAccess(now))
}
