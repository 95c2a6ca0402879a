package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/metrics"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/queue"
)

// BookingService drives the booking state machine. Every transition is a
// check-and-set on (id, status) committed together with its hold and ledger
// side effects.
type BookingService struct {
	tx       TxRunner
	inv      InventoryRepository
	bookings BookingRepository
	ledger   *LedgerService
	policy   Policy
	clock    clock.Clock
	pub      EventPublisher
	log      *logrus.Entry
}

func NewBookingService(tx TxRunner, inv InventoryRepository, bookings BookingRepository, ledger *LedgerService,
	policy Policy, clk clock.Clock, pub EventPublisher, log *logrus.Entry) *BookingService {
	return &BookingService{
		tx: tx, inv: inv, bookings: bookings, ledger: ledger,
		policy: policy, clock: clk, pub: pub, log: component(log, "booking"),
	}
}

// SeatBookingInput requests units of a pool. Amount and Currency are
// optional; when given they must match the pool price.
type SeatBookingInput struct {
	UserID   string
	PoolID   string
	Units    []string
	Amount   int64
	Currency string
}

// CreateSeatBooking holds the units and inserts a pending booking in one
// transaction.
func (s *BookingService) CreateSeatBooking(ctx context.Context, in SeatBookingInput) (model.Booking, error) {
	units := model.NormalizeUnits(in.Units)
	if len(units) == 0 {
		return model.Booking{}, model.ErrInvalidUnits
	}
	var b model.Booking
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		pool, err := s.inv.GetPool(ctx, in.PoolID)
		if err != nil {
			return err
		}
		if !pool.Active {
			return model.ErrPoolInactive
		}
		amount := pool.UnitPrice * int64(len(units))
		if in.Amount != 0 && in.Amount != amount {
			return fmt.Errorf("amount %d, expected %d: %w", in.Amount, amount, model.ErrAmountMismatch)
		}
		if c := model.NormalizeCurrency(in.Currency); c != "" && c != pool.Currency {
			return fmt.Errorf("currency %s, expected %s: %w", c, pool.Currency, model.ErrAmountMismatch)
		}

		now := s.clock.Now()
		b = model.Booking{
			ID:            newID(),
			UserID:        in.UserID,
			VendorID:      pool.VendorID,
			Kind:          model.BookingKindSeat,
			PoolID:        pool.ID,
			Units:         units,
			Amount:        amount,
			Currency:      pool.Currency,
			Status:        model.BookingPending,
			PaymentStatus: model.PaymentPending,
			GatewayRef:    newGatewayRef(),
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		h := model.Hold{
			ID:        newID(),
			PoolID:    pool.ID,
			BookingID: b.ID,
			Units:     units,
			Status:    model.HoldActive,
			ExpiresAt: now.Add(s.policy.HoldTTL),
			CreatedAt: now,
		}
		if err := s.inv.HoldUnits(ctx, h); err != nil {
			metrics.HoldsTotal.WithLabelValues(holdResult(err)).Inc()
			return err
		}
		b.HoldID = h.ID
		b.ExpiresAt = h.ExpiresAt
		return s.bookings.CreateBooking(ctx, b)
	})
	if err != nil {
		return model.Booking{}, err
	}
	metrics.HoldsTotal.WithLabelValues("ok").Inc()
	s.log.WithFields(logrus.Fields{
		"booking_id": b.ID, "hold_id": b.HoldID, "pool_id": b.PoolID, "gateway_ref": b.GatewayRef,
	}).Info("seat booking created")
	return b, nil
}

// MediaPurchaseInput requests a pay-per-view purchase.
type MediaPurchaseInput struct {
	UserID       string
	VendorID     string
	MediaRef     string
	PurchaseType model.PurchaseType
	Amount       int64
	Currency     string
}

// CreateMediaPurchase inserts a pending purchase. There is no inventory to
// hold; completion grants access.
func (s *BookingService) CreateMediaPurchase(ctx context.Context, in MediaPurchaseInput) (model.Booking, error) {
	in.MediaRef = strings.TrimSpace(in.MediaRef)
	if in.MediaRef == "" || strings.TrimSpace(in.VendorID) == "" {
		return model.Booking{}, model.ErrInvalidInput
	}
	if in.PurchaseType == "" {
		in.PurchaseType = model.PurchaseBuy
	}
	if in.PurchaseType != model.PurchaseBuy && in.PurchaseType != model.PurchaseRent {
		return model.Booking{}, model.ErrInvalidInput
	}
	if in.Amount <= 0 {
		return model.Booking{}, model.ErrInvalidAmount
	}
	currency := model.NormalizeCurrency(in.Currency)
	if currency == "" {
		currency = s.policy.DefaultCurrency
	}
	now := s.clock.Now()
	b := model.Booking{
		ID:            newID(),
		UserID:        in.UserID,
		VendorID:      in.VendorID,
		Kind:          model.BookingKindMedia,
		MediaRef:      in.MediaRef,
		PurchaseType:  in.PurchaseType,
		Amount:        in.Amount,
		Currency:      currency,
		Status:        model.BookingPending,
		PaymentStatus: model.PaymentPending,
		GatewayRef:    newGatewayRef(),
		ExpiresAt:     now.Add(s.policy.HoldTTL),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := withRetry(ctx, func() error { return s.bookings.CreateBooking(ctx, b) }); err != nil {
		return model.Booking{}, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "media_ref": b.MediaRef, "gateway_ref": b.GatewayRef}).Info("media purchase created")
	return b, nil
}

// PaymentResult is how a gateway event was applied.
type PaymentResult string

const (
	ResultApplied   PaymentResult = "applied"
	ResultDuplicate PaymentResult = "duplicate"
	ResultIgnored   PaymentResult = "ignored"
	ResultRejected  PaymentResult = "rejected"
)

// ApplyPayment applies a verified payment event to the booking it
// references. Replaying an event is a no-op.
func (s *BookingService) ApplyPayment(ctx context.Context, ev model.GatewayEvent) (PaymentResult, error) {
	var (
		res     PaymentResult
		changed *model.Booking
	)
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		res, changed, err = s.applyPayment(ctx, ev)
		return err
	})
	if err != nil {
		return "", err
	}
	if changed != nil {
		s.publish(ctx, *changed)
	}
	return res, nil
}

// applyPayment must run inside a transaction. It returns the booking when
// the event moved it so the caller can publish after commit.
func (s *BookingService) applyPayment(ctx context.Context, ev model.GatewayEvent) (PaymentResult, *model.Booking, error) {
	b, err := s.bookings.GetBookingByGatewayRefForUpdate(ctx, ev.Reference)
	if errors.Is(err, model.ErrNotFound) {
		return "", nil, fmt.Errorf("%s: %w", ev.Reference, model.ErrUnknownReference)
	}
	if err != nil {
		return "", nil, err
	}
	log := s.log.WithFields(logrus.Fields{"booking_id": b.ID, "gateway_ref": b.GatewayRef, "outcome": ev.Outcome})

	switch ev.Outcome {
	case model.OutcomeSuccess:
		if b.Status != model.BookingPending {
			log.WithField("status", b.Status).Info("late or repeated success ignored")
			return ResultIgnored, nil, nil
		}
		if ev.Amount != b.Amount || model.NormalizeCurrency(ev.Currency) != b.Currency {
			log.WithFields(logrus.Fields{"amount": ev.Amount, "currency": ev.Currency}).Warn("payment amount mismatch")
			if err := s.settleFailed(ctx, &b, model.BookingFailed, "amount mismatch"); err != nil {
				return "", nil, err
			}
			return ResultRejected, &b, nil
		}
		if err := s.complete(ctx, &b, ev.Gateway); err != nil {
			return "", nil, err
		}
		log.Info("booking completed")
		return ResultApplied, &b, nil

	case model.OutcomeFailure:
		if b.Status != model.BookingPending {
			return ResultIgnored, nil, nil
		}
		if err := s.settleFailed(ctx, &b, model.BookingFailed, ev.Reason); err != nil {
			return "", nil, err
		}
		log.Info("booking failed")
		return ResultApplied, &b, nil

	case model.OutcomeReversal:
		switch b.Status {
		case model.BookingPending:
			if err := s.settleFailed(ctx, &b, model.BookingFailed, ev.Reason); err != nil {
				return "", nil, err
			}
		case model.BookingCompleted:
			if ev.Amount != b.Amount || model.NormalizeCurrency(ev.Currency) != b.Currency {
				log.WithFields(logrus.Fields{"amount": ev.Amount, "currency": ev.Currency}).
					Warn("partial or mismatched reversal ignored")
				return ResultIgnored, nil, nil
			}
			covered, err := s.ledger.canReverse(ctx, b.CreditEntryID)
			if err != nil {
				return "", nil, err
			}
			if !covered {
				metrics.UnrecoverableReversals.Inc()
				log.Error("reversal after payout, vendor funds already withdrawn; needs manual recovery")
				return ResultIgnored, nil, nil
			}
			if err := s.refund(ctx, &b, model.EntryFailed, "gateway reversal"); err != nil {
				return "", nil, err
			}
		default:
			return ResultIgnored, nil, nil
		}
		log.Info("payment reversed")
		return ResultApplied, &b, nil
	}
	return "", nil, fmt.Errorf("unknown outcome %q: %w", ev.Outcome, model.ErrInvalidInput)
}

func (s *BookingService) complete(ctx context.Context, b *model.Booking, gatewayName string) error {
	now := s.clock.Now()
	if b.Kind == model.BookingKindSeat {
		ok, err := s.inv.CommitHold(ctx, b.HoldID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("hold %s is no longer active: %w", b.HoldID, model.ErrInvalidTransition)
		}
	}
	entry, err := s.ledger.postPendingCredit(ctx, b.VendorID, b.Currency, b.Amount, s.policy.FeeRate, b.ID)
	if err != nil {
		return err
	}
	if err := b.Transition(model.BookingCompleted, now); err != nil {
		return err
	}
	b.Gateway = gatewayName
	b.CreditEntryID = entry.ID
	if b.Kind == model.BookingKindMedia && b.PurchaseType == model.PurchaseRent {
		until := now.Add(s.policy.RentalPeriod)
		b.AccessExpiresAt = &until
	}
	return s.save(ctx, b, model.BookingPending)
}

// settleFailed moves a pending booking to to and releases its hold.
func (s *BookingService) settleFailed(ctx context.Context, b *model.Booking, to model.BookingStatus, reason string) error {
	if err := b.Transition(to, s.clock.Now()); err != nil {
		return err
	}
	if err := s.releaseHold(ctx, b, string(to)); err != nil {
		return err
	}
	if reason != "" {
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "reason": reason}).Debug("booking settled")
	}
	return s.save(ctx, b, model.BookingPending)
}

// refund cancels a completed booking, reversing its credit and returning its
// units to the pool.
func (s *BookingService) refund(ctx context.Context, b *model.Booking, entryStatus model.EntryStatus, reason string) error {
	if b.CreditEntryID != "" {
		if _, err := s.ledger.reverseEntry(ctx, b.CreditEntryID, reason, entryStatus); err != nil {
			if errors.Is(err, model.ErrInsufficientFunds) {
				return fmt.Errorf("%w: vendor funds already withdrawn", model.ErrNotCancellable)
			}
			return err
		}
	}
	if err := b.Transition(model.BookingCancelled, s.clock.Now()); err != nil {
		return err
	}
	if err := s.releaseHold(ctx, b, "refund"); err != nil {
		return err
	}
	return s.save(ctx, b, model.BookingCompleted)
}

func (s *BookingService) releaseHold(ctx context.Context, b *model.Booking, cause string) error {
	if b.HoldID == "" {
		return nil
	}
	released, err := s.inv.ReleaseHold(ctx, b.HoldID, s.clock.Now(), false)
	if err != nil {
		return err
	}
	if released {
		metrics.HoldsReleased.WithLabelValues(cause).Inc()
	}
	return nil
}

func (s *BookingService) save(ctx context.Context, b *model.Booking, from model.BookingStatus) error {
	ok, err := s.bookings.UpdateBooking(ctx, *b, from)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrConflict
	}
	b.Version++
	metrics.BookingTransitions.WithLabelValues(string(from), string(b.Status)).Inc()
	return nil
}

// Cancel cancels the user's booking. A pending booking is cancelled and its
// hold released. A completed booking can be cancelled within the
// cancellation window; its credit is reversed and its units returned.
func (s *BookingService) Cancel(ctx context.Context, userID, bookingID string) (model.Booking, error) {
	var b model.Booking
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		b, err = s.bookings.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return model.ErrForbidden
		}
		switch b.Status {
		case model.BookingPending:
			return s.settleFailed(ctx, &b, model.BookingCancelled, "cancelled by user")
		case model.BookingCompleted:
			if b.CompletedAt == nil || s.clock.Now().After(b.CompletedAt.Add(s.policy.CancellationWindow)) {
				return fmt.Errorf("%w: cancellation window has passed", model.ErrNotCancellable)
			}
			return s.refund(ctx, &b, model.EntryCancelled, "booking cancelled")
		}
		return fmt.Errorf("%w: booking is %s", model.ErrNotCancellable, b.Status)
	})
	if err != nil {
		return model.Booking{}, err
	}
	s.log.WithField("booking_id", b.ID).Info("booking cancelled")
	s.publish(ctx, b)
	return b, nil
}

// expirePending must run inside a transaction. It reports whether the
// booking moved to expired. The caller releases the hold.
func (s *BookingService) expirePending(ctx context.Context, holdID string) (bool, error) {
	b, err := s.bookings.GetBookingByHoldForUpdate(ctx, holdID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if b.Status != model.BookingPending {
		return false, nil
	}
	if err := b.Transition(model.BookingExpired, s.clock.Now()); err != nil {
		return false, err
	}
	if err := s.save(ctx, &b, model.BookingPending); err != nil {
		return false, err
	}
	return true, nil
}

func (s *BookingService) Get(ctx context.Context, id string) (model.Booking, error) {
	return s.bookings.GetBooking(ctx, id)
}

// GetForUser returns the booking only if it belongs to userID.
func (s *BookingService) GetForUser(ctx context.Context, userID, id string) (model.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if b.UserID != userID {
		return model.Booking{}, model.ErrNotFound
	}
	return b, nil
}

func (s *BookingService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Booking, error) {
	return s.bookings.ListBookingsByUser(ctx, userID, limit, offset)
}

func (s *BookingService) ListForVendor(ctx context.Context, vendorID string, limit, offset int) ([]model.Booking, error) {
	return s.bookings.ListBookingsByVendor(ctx, vendorID, limit, offset)
}

// HasAccess reports whether the user holds a usable purchase of mediaRef,
// returning the granting booking.
func (s *BookingService) HasAccess(ctx context.Context, userID, mediaRef string) (bool, *model.Booking, error) {
	grants, err := s.bookings.FindMediaGrants(ctx, userID, mediaRef)
	if err != nil {
		return false, nil, err
	}
	now := s.clock.Now()
	for i := range grants {
		if grants[i].GrantsAccess(now) {
			return true, &grants[i], nil
		}
	}
	return false, nil, nil
}

// publish emits booking.completed or booking.cancelled. Other transitions
// have no integration event.
func (s *BookingService) publish(ctx context.Context, b model.Booking) {
	var q string
	switch b.Status {
	case model.BookingCompleted:
		q = queue.BookingCompleted
	case model.BookingCancelled:
		q = queue.BookingCancelled
	default:
		return
	}
	evt := queue.BookingEvent{
		BookingID:  b.ID,
		UserID:     b.UserID,
		VendorID:   b.VendorID,
		Kind:       string(b.Kind),
		PoolID:     b.PoolID,
		MediaRef:   b.MediaRef,
		Units:      b.Units,
		Amount:     b.Amount,
		Currency:   b.Currency,
		Status:     string(b.Status),
		GatewayRef: b.GatewayRef,
		OccurredAt: b.UpdatedAt,
	}
	if err := s.pub.Publish(ctx, q, evt); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("publish " + q + " failed")
	}
}
