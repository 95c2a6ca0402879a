package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/metrics"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/queue"
)

// LedgerService keeps vendor and platform wallets. Every balance change is
// an entry insert plus one conditional account update in the same
// transaction, so an account can never go negative and the account identity
// holds after every commit.
type LedgerService struct {
	tx     TxRunner
	repo   LedgerRepository
	policy Policy
	clock  clock.Clock
	pub    EventPublisher
	log    *logrus.Entry
}

func NewLedgerService(tx TxRunner, repo LedgerRepository, policy Policy, clk clock.Clock, pub EventPublisher, log *logrus.Entry) *LedgerService {
	return &LedgerService{tx: tx, repo: repo, policy: policy, clock: clk, pub: pub, log: component(log, "ledger")}
}

// EnsureAccount returns the owner's account, creating it on first use.
func (s *LedgerService) EnsureAccount(ctx context.Context, ownerID, currency string) (model.LedgerAccount, error) {
	if strings.TrimSpace(ownerID) == "" {
		return model.LedgerAccount{}, model.ErrInvalidInput
	}
	currency = model.NormalizeCurrency(currency)
	if currency == "" {
		currency = s.policy.DefaultCurrency
	}
	a, err := s.repo.GetAccountByOwner(ctx, ownerID)
	if errors.Is(err, model.ErrNotFound) {
		now := s.clock.Now()
		a, err = s.repo.GetOrCreateAccount(ctx, model.LedgerAccount{
			ID:        newID(),
			OwnerID:   ownerID,
			Currency:  currency,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err != nil {
		return model.LedgerAccount{}, err
	}
	if a.Currency != currency {
		return model.LedgerAccount{}, fmt.Errorf("account %s holds %s, not %s: %w", a.ID, a.Currency, currency, model.ErrCurrencyMismatch)
	}
	return a, nil
}

func (s *LedgerService) Account(ctx context.Context, ownerID string) (model.LedgerAccount, error) {
	return s.repo.GetAccountByOwner(ctx, ownerID)
}

func (s *LedgerService) AccountByID(ctx context.Context, id string) (model.LedgerAccount, error) {
	return s.repo.GetAccount(ctx, id)
}

// Entries lists the owner's entries in insertion order.
func (s *LedgerService) Entries(ctx context.Context, ownerID string, limit, offset int) ([]model.LedgerEntry, error) {
	a, err := s.repo.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, a.ID, limit, offset)
}

// PostPendingCredit credits gross, less the platform fee at feeRate, to the
// owner's account as pending until the wallet hold period elapses.
func (s *LedgerService) PostPendingCredit(ctx context.Context, ownerID, currency string, gross int64, feeRate decimal.Decimal, bookingRef string) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		e, err = s.postPendingCredit(ctx, ownerID, currency, gross, feeRate, bookingRef)
		return err
	})
	return e, err
}

func (s *LedgerService) postPendingCredit(ctx context.Context, ownerID, currency string, gross int64, feeRate decimal.Decimal, bookingRef string) (model.LedgerEntry, error) {
	fee, net, err := model.SplitFee(gross, feeRate)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	acct, err := s.EnsureAccount(ctx, ownerID, currency)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	now := s.clock.Now()
	availableAt := now.Add(s.policy.WalletHoldPeriod)
	e := model.LedgerEntry{
		ID:          newID(),
		AccountID:   acct.ID,
		Type:        model.EntryPendingCredit,
		GrossAmount: gross,
		PlatformFee: fee,
		NetAmount:   net,
		Currency:    acct.Currency,
		Status:      model.EntryPending,
		BookingID:   bookingRef,
		AvailableAt: &availableAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertEntry(ctx, e); err != nil {
		return model.LedgerEntry{}, err
	}
	if err := s.repo.ApplyAccountDelta(ctx, acct.ID, model.AccountDelta{Pending: net, Earnings: net}, now); err != nil {
		return model.LedgerEntry{}, err
	}
	metrics.LedgerEntries.WithLabelValues(string(e.Type)).Inc()

	if fee > 0 {
		platform, err := s.EnsureAccount(ctx, s.policy.PlatformOwner, acct.Currency)
		if err != nil {
			return model.LedgerEntry{}, err
		}
		feeEntry := model.LedgerEntry{
			ID:            newID(),
			AccountID:     platform.ID,
			Type:          model.EntryPlatformFee,
			GrossAmount:   gross,
			PlatformFee:   fee,
			NetAmount:     fee,
			Currency:      platform.Currency,
			Status:        model.EntryCompleted,
			BookingID:     bookingRef,
			ParentEntryID: e.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.InsertEntry(ctx, feeEntry); err != nil {
			return model.LedgerEntry{}, err
		}
		if err := s.repo.ApplyAccountDelta(ctx, platform.ID, model.AccountDelta{Balance: fee, Earnings: fee}, now); err != nil {
			return model.LedgerEntry{}, err
		}
		metrics.LedgerEntries.WithLabelValues(string(feeEntry.Type)).Inc()
	}

	s.log.WithFields(logrus.Fields{
		"account_id": acct.ID, "entry_id": e.ID, "booking_id": bookingRef, "gross": gross, "fee": fee,
	}).Info("pending credit posted")
	return e, nil
}

// ReleaseToAvailable moves a due pending credit into the available balance.
// It reports false when the entry was already released or reversed.
func (s *LedgerService) ReleaseToAvailable(ctx context.Context, entryID string) (bool, error) {
	var released bool
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		released, err = s.releaseToAvailable(ctx, entryID)
		return err
	})
	return released, err
}

func (s *LedgerService) releaseToAvailable(ctx context.Context, entryID string) (bool, error) {
	e, err := s.repo.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return false, err
	}
	if e.Type != model.EntryPendingCredit {
		return false, model.ErrInvalidTransition
	}
	if e.Status != model.EntryPending {
		return false, nil
	}
	now := s.clock.Now()
	if e.AvailableAt != nil && now.Before(*e.AvailableAt) {
		return false, model.ErrHoldNotDue
	}
	ok, err := s.repo.UpdateEntryStatus(ctx, e.ID, model.EntryPending, model.EntryCompleted, "", now)
	if err != nil || !ok {
		return false, err
	}
	if err := s.repo.ApplyAccountDelta(ctx, e.AccountID, model.AccountDelta{Pending: -e.NetAmount, Balance: e.NetAmount}, now); err != nil {
		return false, err
	}
	audit := model.LedgerEntry{
		ID:            newID(),
		AccountID:     e.AccountID,
		Type:          model.EntryPendingToAvailable,
		GrossAmount:   e.NetAmount,
		NetAmount:     e.NetAmount,
		Currency:      e.Currency,
		Status:        model.EntryCompleted,
		BookingID:     e.BookingID,
		ParentEntryID: e.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertEntry(ctx, audit); err != nil {
		return false, err
	}
	metrics.LedgerEntries.WithLabelValues(string(audit.Type)).Inc()
	s.log.WithFields(logrus.Fields{"account_id": e.AccountID, "entry_id": e.ID}).Info("credit released")
	return true, nil
}

// ReleaseDue releases up to batch pending credits whose hold period has
// elapsed. Failures on single entries are logged and skipped.
func (s *LedgerService) ReleaseDue(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = s.policy.SweepBatch
	}
	due, err := s.repo.ListDueEntries(ctx, s.clock.Now(), batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		ok, err := s.ReleaseToAvailable(ctx, e.ID)
		if err != nil {
			s.log.WithError(err).WithField("entry_id", e.ID).Warn("release failed")
			continue
		}
		if ok {
			n++
		}
	}
	metrics.SweepRuns.WithLabelValues("ledger_release").Inc()
	metrics.SweepItems.WithLabelValues("ledger_release").Add(float64(n))
	return n, nil
}

// ReverseEntry takes back a credit. status is EntryFailed for a gateway
// reversal and EntryCancelled for a booking cancellation. The platform fee
// posted with the credit is reversed with it. Reversing an already reversed
// entry is a no-op reporting false. ErrInsufficientFunds means the vendor
// already withdrew the funds and nothing was changed.
func (s *LedgerService) ReverseEntry(ctx context.Context, entryID, reason string, status model.EntryStatus) (bool, error) {
	var ok bool
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		ok, err = s.reverseEntry(ctx, entryID, reason, status)
		return err
	})
	return ok, err
}

func (s *LedgerService) reverseEntry(ctx context.Context, entryID, reason string, status model.EntryStatus) (bool, error) {
	if !status.Reversed() {
		return false, model.ErrInvalidTransition
	}
	e, err := s.repo.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return false, err
	}
	if e.Type != model.EntryPendingCredit && e.Type != model.EntryCredit {
		return false, model.ErrInvalidTransition
	}
	ok, err := s.reverseOne(ctx, e, reason, status)
	if err != nil || !ok {
		return false, err
	}
	if e.BookingID != "" {
		related, err := s.repo.EntriesForBooking(ctx, e.BookingID)
		if err != nil {
			return false, err
		}
		for _, fe := range related {
			if fe.Type != model.EntryPlatformFee || fe.ParentEntryID != e.ID {
				continue
			}
			if _, err := s.reverseOne(ctx, fe, reason, status); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// canReverse reports whether the account still holds the net amount of the
// credit entry and every fee entry booked against it.
func (s *LedgerService) canReverse(ctx context.Context, entryID string) (bool, error) {
	if entryID == "" {
		return true, nil
	}
	e, err := s.repo.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return false, err
	}
	ok, err := s.covers(ctx, e)
	if err != nil || !ok || e.BookingID == "" {
		return ok, err
	}
	related, err := s.repo.EntriesForBooking(ctx, e.BookingID)
	if err != nil {
		return false, err
	}
	for _, fe := range related {
		if fe.Type != model.EntryPlatformFee || fe.ParentEntryID != e.ID {
			continue
		}
		if ok, err := s.covers(ctx, fe); err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (s *LedgerService) covers(ctx context.Context, e model.LedgerEntry) (bool, error) {
	a, err := s.repo.GetAccount(ctx, e.AccountID)
	if err != nil {
		return false, err
	}
	switch e.Status {
	case model.EntryPending:
		return a.PendingBalance >= e.NetAmount, nil
	case model.EntryCompleted:
		return a.Balance >= e.NetAmount, nil
	}
	return true, nil
}

// reverseOne flips e to status, takes its net amount back from the balance
// it currently sits in and records a compensating debit for the audit trail.
func (s *LedgerService) reverseOne(ctx context.Context, e model.LedgerEntry, reason string, status model.EntryStatus) (bool, error) {
	var delta model.AccountDelta
	switch e.Status {
	case model.EntryPending:
		delta = model.AccountDelta{Pending: -e.NetAmount, Reversed: e.NetAmount}
	case model.EntryCompleted:
		delta = model.AccountDelta{Balance: -e.NetAmount, Reversed: e.NetAmount}
	default:
		return false, nil
	}
	now := s.clock.Now()
	ok, err := s.repo.UpdateEntryStatus(ctx, e.ID, e.Status, status, reason, now)
	if err != nil || !ok {
		return false, err
	}
	if err := s.repo.ApplyAccountDelta(ctx, e.AccountID, delta, now); err != nil {
		return false, err
	}
	debit := model.LedgerEntry{
		ID:            newID(),
		AccountID:     e.AccountID,
		Type:          model.EntryDebit,
		GrossAmount:   e.NetAmount,
		NetAmount:     e.NetAmount,
		Currency:      e.Currency,
		Status:        model.EntryCompleted,
		BookingID:     e.BookingID,
		ParentEntryID: e.ID,
		Reason:        reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertEntry(ctx, debit); err != nil {
		return false, err
	}
	metrics.LedgerEntries.WithLabelValues(string(debit.Type)).Inc()
	s.log.WithFields(logrus.Fields{
		"account_id": e.AccountID, "entry_id": e.ID, "status": status, "reason": reason,
	}).Info("entry reversed")
	return true, nil
}

// RequestWithdrawal reserves amount of the owner's available balance for a
// payout. The payout itself is driven by the withdrawal.requested consumer.
func (s *LedgerService) RequestWithdrawal(ctx context.Context, ownerID string, amount int64, bank model.BankDetails) (model.WithdrawalRequest, error) {
	if amount <= 0 || amount < s.policy.MinWithdrawal {
		return model.WithdrawalRequest{}, model.ErrInvalidAmount
	}
	bank.HolderName = strings.TrimSpace(bank.HolderName)
	bank.AccountNumber = strings.TrimSpace(bank.AccountNumber)
	bank.IFSC = strings.ToUpper(strings.TrimSpace(bank.IFSC))
	if bank.HolderName == "" || bank.AccountNumber == "" || bank.IFSC == "" {
		return model.WithdrawalRequest{}, model.ErrInvalidInput
	}

	var w model.WithdrawalRequest
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		acct, err := s.repo.GetAccountByOwner(ctx, ownerID)
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		now := s.clock.Now()
		w = model.WithdrawalRequest{
			ID:        newID(),
			AccountID: acct.ID,
			Amount:    amount,
			Currency:  acct.Currency,
			Status:    model.WithdrawalPending,
			Bank:      bank,
			EntryID:   newID(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.ApplyAccountDelta(ctx, acct.ID, model.AccountDelta{Balance: -amount, Processing: amount}, now); err != nil {
			return err
		}
		if err := s.repo.InsertWithdrawal(ctx, w); err != nil {
			return err
		}
		return s.repo.InsertEntry(ctx, model.LedgerEntry{
			ID:           w.EntryID,
			AccountID:    acct.ID,
			Type:         model.EntryDebit,
			GrossAmount:  amount,
			NetAmount:    amount,
			Currency:     acct.Currency,
			Status:       model.EntryPending,
			WithdrawalID: w.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	metrics.LedgerEntries.WithLabelValues(string(model.EntryDebit)).Inc()
	s.log.WithFields(logrus.Fields{"account_id": w.AccountID, "withdrawal_id": w.ID, "amount": amount}).Info("withdrawal requested")

	evt := queue.WithdrawalRequestedEvent{
		WithdrawalID: w.ID, AccountID: w.AccountID, Amount: w.Amount, Currency: w.Currency, RequestedAt: w.CreatedAt,
	}
	if err := s.pub.Publish(ctx, queue.WithdrawalRequested, evt); err != nil {
		s.log.WithError(err).WithField("withdrawal_id", w.ID).Warn("publish withdrawal.requested failed")
	}
	return w, nil
}

func (s *LedgerService) GetWithdrawal(ctx context.Context, id string) (model.WithdrawalRequest, error) {
	return s.repo.GetWithdrawal(ctx, id)
}

// MarkWithdrawalProcessing claims a pending withdrawal for the payout
// worker. It reports false when someone else already moved it.
func (s *LedgerService) MarkWithdrawalProcessing(ctx context.Context, id string) (model.WithdrawalRequest, bool, error) {
	var (
		w  model.WithdrawalRequest
		ok bool
	)
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		w, err = s.repo.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalPending {
			ok = false
			return nil
		}
		w.Status = model.WithdrawalProcessing
		w.UpdatedAt = s.clock.Now()
		ok, err = s.repo.UpdateWithdrawal(ctx, w, model.WithdrawalPending)
		return err
	})
	return w, ok, err
}

// StaleWithdrawals returns processing withdrawals nobody has touched for
// idle, oldest first.
func (s *LedgerService) StaleWithdrawals(ctx context.Context, idle time.Duration, batch int) ([]model.WithdrawalRequest, error) {
	return s.repo.ListIdleWithdrawals(ctx, model.WithdrawalProcessing, s.clock.Now().Add(-idle), batch)
}

// TouchWithdrawal bumps the update time of a processing withdrawal before a
// resubmission. It reports false once the withdrawal has left processing.
func (s *LedgerService) TouchWithdrawal(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		w, err := s.repo.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalProcessing {
			ok = false
			return nil
		}
		w.UpdatedAt = s.clock.Now()
		ok, err = s.repo.UpdateWithdrawal(ctx, w, model.WithdrawalProcessing)
		return err
	})
	return ok, err
}

// CompleteWithdrawal settles an open withdrawal. It reports false when the
// withdrawal was already closed.
func (s *LedgerService) CompleteWithdrawal(ctx context.Context, id, transferRef string) (bool, error) {
	var ok bool
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		ok, err = s.completeWithdrawal(ctx, id, transferRef)
		return err
	})
	return ok, err
}

func (s *LedgerService) completeWithdrawal(ctx context.Context, id, transferRef string) (bool, error) {
	return s.closeWithdrawal(ctx, id, model.WithdrawalCompleted, model.EntryCompleted, transferRef, "")
}

// FailWithdrawal returns the reserved funds of an open withdrawal to the
// available balance.
func (s *LedgerService) FailWithdrawal(ctx context.Context, id, reason string) (bool, error) {
	var ok bool
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		ok, err = s.failWithdrawal(ctx, id, reason)
		return err
	})
	return ok, err
}

func (s *LedgerService) failWithdrawal(ctx context.Context, id, reason string) (bool, error) {
	return s.closeWithdrawal(ctx, id, model.WithdrawalFailed, model.EntryFailed, "", reason)
}

// CancelWithdrawal lets the owner withdraw a request the payout worker has
// not picked up yet.
func (s *LedgerService) CancelWithdrawal(ctx context.Context, ownerID, id string) error {
	return atomically(ctx, s.tx, func(ctx context.Context) error {
		w, err := s.repo.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		acct, err := s.repo.GetAccount(ctx, w.AccountID)
		if err != nil {
			return err
		}
		if acct.OwnerID != ownerID {
			return model.ErrForbidden
		}
		if w.Status != model.WithdrawalPending {
			return model.ErrInvalidTransition
		}
		ok, err := s.closeWithdrawal(ctx, id, model.WithdrawalCancelled, model.EntryCancelled, "", "cancelled by owner")
		if err != nil {
			return err
		}
		if !ok {
			return model.ErrConflict
		}
		return nil
	})
}

func (s *LedgerService) closeWithdrawal(ctx context.Context, id string, to model.WithdrawalStatus, entryTo model.EntryStatus, transferRef, reason string) (bool, error) {
	w, err := s.repo.GetWithdrawalForUpdate(ctx, id)
	if err != nil {
		return false, err
	}
	if !w.Status.Open() {
		return false, nil
	}
	from := w.Status
	now := s.clock.Now()
	w.Status = to
	w.UpdatedAt = now
	if transferRef != "" {
		w.TransferRef = transferRef
	}
	if reason != "" {
		w.FailureReason = reason
	}
	ok, err := s.repo.UpdateWithdrawal(ctx, w, from)
	if err != nil || !ok {
		return false, err
	}
	if _, err := s.repo.UpdateEntryStatus(ctx, w.EntryID, model.EntryPending, entryTo, reason, now); err != nil {
		return false, err
	}
	delta := model.AccountDelta{Processing: -w.Amount, Balance: w.Amount}
	if to == model.WithdrawalCompleted {
		delta = model.AccountDelta{Processing: -w.Amount, Withdrawn: w.Amount}
	}
	if err := s.repo.ApplyAccountDelta(ctx, w.AccountID, delta, now); err != nil {
		return false, err
	}
	metrics.PayoutsTotal.WithLabelValues(string(to)).Inc()
	s.log.WithFields(logrus.Fields{"withdrawal_id": w.ID, "account_id": w.AccountID, "status": to}).Info("withdrawal closed")
	return true, nil
}

// Withdrawals lists the owner's withdrawal requests with bank details masked.
func (s *LedgerService) Withdrawals(ctx context.Context, ownerID string, limit, offset int) ([]model.WithdrawalRequest, error) {
	a, err := s.repo.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ws, err := s.repo.ListWithdrawals(ctx, a.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range ws {
		ws[i].Bank = ws[i].Bank.Masked()
	}
	return ws, nil
}

// Reconcile replays every entry of the account and reports how far the
// stored fields drifted from the replay.
func (s *LedgerService) Reconcile(ctx context.Context, accountID string) (model.ReconcileReport, error) {
	var rep model.ReconcileReport
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		stored, err := s.repo.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		entries, err := s.repo.ListEntries(ctx, accountID, 0, 0)
		if err != nil {
			return err
		}
		replayed := model.ReplayEntries(entries)
		replayed.ID, replayed.OwnerID, replayed.Currency = stored.ID, stored.OwnerID, stored.Currency
		drift := model.AccountDelta{
			Balance:    stored.Balance - replayed.Balance,
			Pending:    stored.PendingBalance - replayed.PendingBalance,
			Processing: stored.ProcessingBalance - replayed.ProcessingBalance,
			Earnings:   stored.TotalEarnings - replayed.TotalEarnings,
			Withdrawn:  stored.TotalWithdrawn - replayed.TotalWithdrawn,
			Reversed:   stored.TotalReversed - replayed.TotalReversed,
		}
		rep = model.ReconcileReport{
			AccountID: accountID,
			Stored:    stored,
			Replayed:  replayed,
			Drift:     drift,
			Balanced:  drift == (model.AccountDelta{}) && stored.Reconciles(),
			Entries:   len(entries),
		}
		return nil
	})
	if err == nil && !rep.Balanced {
		s.log.WithFields(logrus.Fields{"account_id": accountID, "drift": rep.Drift}).Error("ledger drift detected")
	}
	return rep, err
}
