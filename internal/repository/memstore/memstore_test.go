package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/boxoffice/internal/model"
)

var now = time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)

func seedPool(t *testing.T, s *Store, total int) model.InventoryPool {
	t.Helper()
	p := model.InventoryPool{
		ID: "pool-1", VendorID: "vendor-1", Kind: model.PoolKindShowtime,
		Title: "Matinee", Currency: "INR", UnitPrice: 250, Total: total, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreatePool(context.Background(), p, model.GenerateUnits(total)))
	return p
}

func hold(id string, units ...string) model.Hold {
	return model.Hold{
		ID: id, PoolID: "pool-1", BookingID: "b-" + id, Units: units,
		Status: model.HoldActive, ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now,
	}
}

func TestHoldUnits(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPool(t, s, 3)

	require.NoError(t, s.HoldUnits(ctx, hold("h1", "1", "2")))

	err := s.HoldUnits(ctx, hold("h2", "2", "3"))
	var ue *model.UnitError
	require.ErrorAs(t, err, &ue)
	assert.ErrorIs(t, err, model.ErrAlreadyHeld)
	assert.Equal(t, []string{"2"}, ue.Units)

	err = s.HoldUnits(ctx, hold("h3", "9"))
	assert.ErrorIs(t, err, model.ErrUnknownUnit)

	assert.ErrorIs(t, s.HoldUnits(ctx, hold("h4")), model.ErrInvalidUnits)

	p, err := s.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Held)

	held, err := s.HeldUnits(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, held)
}

func TestHoldUnits_InactivePool(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPool(t, s, 2)
	require.NoError(t, s.SetPoolActive(ctx, "pool-1", false, now))
	assert.ErrorIs(t, s.HoldUnits(ctx, hold("h1", "1")), model.ErrPoolInactive)
}

func TestReleaseHold(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPool(t, s, 2)
	require.NoError(t, s.HoldUnits(ctx, hold("h1", "1", "2")))

	ok, err := s.ReleaseHold(ctx, "h1", now, true)
	require.NoError(t, err)
	assert.False(t, ok, "not expired yet")

	ok, err = s.ReleaseHold(ctx, "h1", now.Add(10*time.Minute), true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReleaseHold(ctx, "h1", now.Add(11*time.Minute), false)
	require.NoError(t, err)
	assert.False(t, ok, "second release is a no-op")

	p, _ := s.GetPool(ctx, "pool-1")
	assert.Equal(t, 0, p.Held)
	require.NoError(t, s.HoldUnits(ctx, hold("h2", "1", "2")))
}

func TestCommitHold_KeepsUnits(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPool(t, s, 2)
	require.NoError(t, s.HoldUnits(ctx, hold("h1", "1")))

	ok, err := s.CommitHold(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)

	expired, err := s.ListExpiredHolds(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.ErrorIs(t, s.HoldUnits(ctx, hold("h2", "1")), model.ErrAlreadyHeld)
}

func TestWithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPool(t, s, 2)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.HoldUnits(ctx, hold("h1", "1")))
		require.NoError(t, s.CreateBooking(ctx, model.Booking{ID: "b-h1", GatewayRef: "ref-1", Status: model.BookingPending}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, _ := s.GetPool(ctx, "pool-1")
	assert.Equal(t, 0, p.Held)
	_, err = s.GetHold(ctx, "h1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetBooking(ctx, "b-h1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestHoldUnits_ConcurrentSameUnit(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedPool(t, s, 1)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := hold(string(rune('a'+i)), "1")
			errs[i] = s.HoldUnits(ctx, h)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, model.ErrAlreadyHeld)
	}
	assert.Equal(t, 1, wins)
}

func TestApplyAccountDelta_NonNegative(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.GetOrCreateAccount(ctx, model.LedgerAccount{ID: "acc-1", OwnerID: "vendor-1", Currency: "INR", CreatedAt: now})
	require.NoError(t, err)

	require.NoError(t, s.ApplyAccountDelta(ctx, a.ID, model.AccountDelta{Pending: 500, Earnings: 500}, now))
	err = s.ApplyAccountDelta(ctx, a.ID, model.AccountDelta{Balance: -1}, now)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	got, err := s.GetAccountByOwner(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.PendingBalance)
	assert.Equal(t, int64(0), got.Balance)
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()
	s := New()
	fresh, err := s.MarkProcessed(ctx, "razorpay", "evt_1", "ref", now)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = s.MarkProcessed(ctx, "razorpay", "evt_1", "ref", now)
	require.NoError(t, err)
	assert.False(t, fresh)
	fresh, err = s.MarkProcessed(ctx, "cashfree", "evt_1", "ref", now)
	require.NoError(t, err)
	assert.True(t, fresh)
}
