package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/boxoffice/internal/gateway"
	"github.com/iliyamo/boxoffice/internal/model"
)

type memDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (d *memDeduper) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.keys[key] {
		return false, nil
	}
	d.keys[key] = true
	return true, nil
}

func (d *memDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}

func TestIngest_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.Payments.Ingest(ctx, "paypal", http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, model.ErrUnknownGateway)

	h := http.Header{}
	h.Set("X-Signature", "deadbeef")
	_, err = f.Payments.Ingest(ctx, "GENERIC", h, []byte(`{"reference":"x","outcome":"success"}`))
	assert.ErrorIs(t, err, model.ErrInvalidSignature)

	assert.Equal(t, []string{gateway.Generic}, f.Payments.Gateways())
}

func TestApply_DedupeFastPath(t *testing.T) {
	f := newFixture(t)
	d := &memDeduper{keys: map[string]bool{}}
	f.Payments = NewPaymentService(f.store, f.store, f.Bookings, f.Ledger, d, time.Hour, f.clock, quietLog(),
		gateway.GenericVerifier{Secret: testSecret})

	p := f.pool(t, 1, 100)
	b := f.book(t, p.ID, "1")
	assert.Equal(t, ResultApplied, f.pay(t, b, "evt-1"))
	assert.True(t, d.keys["webhook:generic:evt-1"])
	assert.Equal(t, ResultDuplicate, f.pay(t, b, "evt-1"))
}

func TestApply_DedupeUnavailableFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	d := &memDeduper{keys: map[string]bool{}, err: errors.New("redis down")}
	f.Payments = NewPaymentService(f.store, f.store, f.Bookings, f.Ledger, d, time.Hour, f.clock, quietLog(),
		gateway.GenericVerifier{Secret: testSecret})

	p := f.pool(t, 1, 100)
	b := f.book(t, p.ID, "1")
	assert.Equal(t, ResultApplied, f.pay(t, b, "evt-1"))
	assert.Equal(t, ResultDuplicate, f.pay(t, b, "evt-1"))
}

func TestApply_FailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	d := &memDeduper{keys: map[string]bool{}}
	f.Payments = NewPaymentService(f.store, f.store, f.Bookings, f.Ledger, d, time.Hour, f.clock, quietLog())

	_, err := f.Payments.Apply(context.Background(), model.GatewayEvent{
		Gateway: "generic", EventID: "evt-1", Kind: "refund", Reference: "x", Outcome: model.OutcomeSuccess,
	})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.False(t, d.keys["webhook:generic:evt-1"])

	fresh, err := f.store.MarkProcessed(context.Background(), "generic", "evt-1", "x", epoch)
	require.NoError(t, err)
	assert.True(t, fresh, "failed events are not recorded")
}

func TestApply_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	p := f.pool(t, 1, 1000)
	b := f.book(t, p.ID, "1")

	const n = 10
	results := make([]PaymentResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.Payments.Apply(context.Background(), model.GatewayEvent{
				Gateway: "generic", EventID: "evt-1", Kind: model.EventPayment, Reference: b.GatewayRef,
				Outcome: model.OutcomeSuccess, Amount: b.Amount, Currency: b.Currency,
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		if r == ResultApplied {
			applied++
		} else {
			assert.Equal(t, ResultDuplicate, r)
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(900), f.account(t, vendorID).PendingBalance)
}
