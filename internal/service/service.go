// Package service holds the reservation, booking, ledger and payment logic.
// Services depend on the contracts in repository.go and never on a storage
// engine; every multi-step change runs inside TxRunner.WithTx so its side
// effects commit or roll back together.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/config"
	"github.com/iliyamo/boxoffice/internal/model"
)

// EventPublisher delivers integration events after a transaction commits.
// queue.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// NopPublisher drops every event. Used when RABBITMQ_URL is unset.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// Policy carries the business constants the services enforce.
type Policy struct {
	HoldTTL            time.Duration
	CancellationWindow time.Duration
	RentalPeriod       time.Duration
	WalletHoldPeriod   time.Duration
	FeeRate            decimal.Decimal
	MinWithdrawal      int64
	PlatformOwner      string
	DefaultCurrency    string
	SweepBatch         int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		HoldTTL:            10 * time.Minute,
		CancellationWindow: 24 * time.Hour,
		RentalPeriod:       48 * time.Hour,
		WalletHoldPeriod:   7 * 24 * time.Hour,
		FeeRate:            decimal.RequireFromString("0.10"),
		MinWithdrawal:      100,
		PlatformOwner:      "platform",
		DefaultCurrency:    "INR",
		SweepBatch:         200,
	}
}

// PolicyFromConfig validates and converts the policy keys of cfg.
func PolicyFromConfig(cfg config.Config) (Policy, error) {
	rate, err := model.ParseFeeRate(cfg.PlatformFeeRate)
	if err != nil {
		return Policy{}, err
	}
	p := Policy{
		HoldTTL:            cfg.HoldTTL,
		CancellationWindow: cfg.CancellationWindow,
		RentalPeriod:       cfg.RentalPeriod,
		WalletHoldPeriod:   cfg.WalletHoldPeriod,
		FeeRate:            rate,
		MinWithdrawal:      cfg.MinWithdrawalMinor,
		PlatformOwner:      strings.TrimSpace(cfg.PlatformAccountOwner),
		DefaultCurrency:    model.NormalizeCurrency(cfg.DefaultCurrency),
		SweepBatch:         cfg.SweepBatch,
	}
	if p.PlatformOwner == "" {
		return Policy{}, fmt.Errorf("PLATFORM_ACCOUNT_OWNER must not be empty")
	}
	if p.MinWithdrawal < 1 {
		p.MinWithdrawal = 1
	}
	return p, nil
}

// Services is the wired set handed to the HTTP layer and background jobs.
type Services struct {
	Inventory *InventoryService
	Bookings  *BookingService
	Ledger    *LedgerService
	Payments  *PaymentService
	Sweeper   *Sweeper
}

// Options are the optional collaborators of New.
type Options struct {
	Publisher EventPublisher
	Deduper   Deduper
	Verifiers []Verifier
	DedupeTTL time.Duration
}

// New wires every service over repos.
func New(repos Repositories, policy Policy, clk clock.Clock, log *logrus.Entry, opts Options) *Services {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	pub := opts.Publisher
	if pub == nil {
		pub = NopPublisher{}
	}
	inv := NewInventoryService(repos.Tx, repos.Inventory, policy, clk, log)
	led := NewLedgerService(repos.Tx, repos.Ledger, policy, clk, pub, log)
	bk := NewBookingService(repos.Tx, repos.Inventory, repos.Bookings, led, policy, clk, pub, log)
	return &Services{
		Inventory: inv,
		Bookings:  bk,
		Ledger:    led,
		Payments:  NewPaymentService(repos.Tx, repos.Events, bk, led, opts.Deduper, opts.DedupeTTL, clk, log, opts.Verifiers...),
		Sweeper:   NewSweeper(repos.Tx, repos.Inventory, bk, policy.SweepBatch, clk, log),
	}
}

func newID() string { return uuid.NewString() }

// newGatewayRef is the merchant order reference handed to the gateway.
func newGatewayRef() string {
	return "bkg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func component(log *logrus.Entry, name string) *logrus.Entry {
	return log.WithField("component", name)
}
