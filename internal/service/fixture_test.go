package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/gateway"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/repository/memstore"
)

const (
	testSecret = "whsec_test"
	vendorID   = "vendor-1"
	customerID = "customer-1"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type published struct {
	queue   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, queue string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{queue: queue, payload: payload})
	return nil
}

func (p *recordingPublisher) queues() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.queue
	}
	return out
}

type fixture struct {
	store *memstore.Store
	clock *clock.Manual
	pub   *recordingPublisher
	*Services
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func memRepos(s *memstore.Store) Repositories {
	return Repositories{Tx: s, Inventory: s, Bookings: s, Ledger: s, Events: s, Users: s, Tokens: s}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), clock: clock.NewManual(epoch), pub: &recordingPublisher{}}
	f.Services = New(memRepos(f.store), DefaultPolicy(), f.clock, quietLog(), Options{
		Publisher: f.pub,
		Verifiers: []Verifier{gateway.GenericVerifier{Secret: testSecret}},
	})
	return f
}

func (f *fixture) pool(t *testing.T, total int, price int64) model.InventoryPool {
	t.Helper()
	p, err := f.Inventory.CreatePool(context.Background(), CreatePoolInput{
		VendorID: vendorID, Kind: model.PoolKindShowtime, Title: "Evening show",
		Currency: "INR", UnitPrice: price, Total: total,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) book(t *testing.T, poolID string, units ...string) model.Booking {
	t.Helper()
	b, err := f.Bookings.CreateSeatBooking(context.Background(), SeatBookingInput{
		UserID: customerID, PoolID: poolID, Units: units,
	})
	require.NoError(t, err)
	return b
}

// deliver sends a signed generic webhook.
func (f *fixture) deliver(t *testing.T, ev gateway.GenericEvent) (PaymentResult, error) {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	h := http.Header{}
	h.Set("X-Signature", gateway.SignHex(testSecret, body))
	return f.Payments.Ingest(context.Background(), gateway.Generic, h, body)
}

func (f *fixture) pay(t *testing.T, b model.Booking, eventID string) PaymentResult {
	t.Helper()
	res, err := f.deliver(t, gateway.GenericEvent{
		EventID: eventID, Kind: "payment", Reference: b.GatewayRef,
		Outcome: "success", Amount: b.Amount, Currency: b.Currency,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) account(t *testing.T, owner string) model.LedgerAccount {
	t.Helper()
	a, err := f.Ledger.Account(context.Background(), owner)
	require.NoError(t, err)
	return a
}

func (f *fixture) requireBalanced(t *testing.T, owner string) {
	t.Helper()
	a := f.account(t, owner)
	rep, err := f.Ledger.Reconcile(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, rep.Balanced, "drift: %+v", rep.Drift)
	require.True(t, a.Reconciles(), "identity broken: %+v", a)
}
