package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/gateway"
	"github.com/iliyamo/boxoffice/internal/metrics"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/queue"
)

// PayoutTransferer is the payout provider. gateway.PayoutClient satisfies it.
type PayoutTransferer interface {
	Transfer(ctx context.Context, req gateway.PayoutRequest) (gateway.PayoutResult, error)
}

// PayoutWorker consumes withdrawal.requested and pushes each withdrawal
// through the payout provider.
type PayoutWorker struct {
	ledger    *LedgerService
	client    PayoutTransferer
	log       *logrus.Entry
	retry     time.Duration
	failAfter time.Duration
}

func NewPayoutWorker(ledger *LedgerService, client PayoutTransferer, log *logrus.Entry) *PayoutWorker {
	return &PayoutWorker{
		ledger:    ledger,
		client:    client,
		log:       component(log, "payout_worker"),
		retry:     10 * time.Minute,
		failAfter: 24 * time.Hour,
	}
}

// WithRetry sets how long a processing withdrawal may sit idle before
// RetryStale resubmits it, and how old it may get before it is failed.
// Non-positive values keep the defaults.
func (w *PayoutWorker) WithRetry(idle, failAfter time.Duration) *PayoutWorker {
	if idle > 0 {
		w.retry = idle
	}
	if failAfter > 0 {
		w.failAfter = failAfter
	}
	return w
}

// Handle is a queue.HandlerFunc. Returning an error nacks the message; the
// withdrawal then stays in processing until RetryStale, a payout webhook or
// an operator settles it.
func (w *PayoutWorker) Handle(ctx context.Context, body []byte) error {
	var evt queue.WithdrawalRequestedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		w.log.WithError(err).Warn("drop malformed withdrawal event")
		return nil
	}
	return w.Process(ctx, evt.WithdrawalID)
}

// Process claims a pending withdrawal and submits it. Withdrawals that are
// no longer pending are skipped.
func (w *PayoutWorker) Process(ctx context.Context, withdrawalID string) error {
	log := w.log.WithField("withdrawal_id", withdrawalID)
	wr, claimed, err := w.ledger.MarkWithdrawalProcessing(ctx, withdrawalID)
	if errors.Is(err, model.ErrNotFound) {
		log.Warn("withdrawal not found")
		return nil
	}
	if err != nil {
		return err
	}
	if !claimed {
		log.WithField("status", wr.Status).Debug("withdrawal already claimed")
		return nil
	}
	return w.submit(ctx, wr)
}

// RetryStale resubmits processing withdrawals that have been idle longer
// than the retry interval and fails the ones older than the fail-after
// window, returning their funds to the balance. The provider deduplicates
// on the withdrawal id, so a resubmission never pays twice.
func (w *PayoutWorker) RetryStale(ctx context.Context, batch int) (retried, failed int, err error) {
	stale, err := w.ledger.StaleWithdrawals(ctx, w.retry, batch)
	if err != nil {
		return 0, 0, err
	}
	now := w.ledger.clock.Now()
	for _, wr := range stale {
		if ctx.Err() != nil {
			return retried, failed, ctx.Err()
		}
		log := w.log.WithField("withdrawal_id", wr.ID)
		if now.Sub(wr.CreatedAt) >= w.failAfter {
			ok, err := w.ledger.FailWithdrawal(ctx, wr.ID, "payout timed out")
			if err != nil {
				log.WithError(err).Warn("fail stale withdrawal")
				continue
			}
			if ok {
				failed++
				metrics.StaleWithdrawals.WithLabelValues("failed").Inc()
				log.Warn("stale withdrawal failed, funds returned")
			}
			continue
		}
		ok, err := w.ledger.TouchWithdrawal(ctx, wr.ID)
		if err != nil {
			log.WithError(err).Warn("touch stale withdrawal")
			continue
		}
		if !ok {
			continue
		}
		retried++
		metrics.StaleWithdrawals.WithLabelValues("retried").Inc()
		if err := w.submit(ctx, wr); err != nil {
			log.WithError(err).Warn("payout retry failed")
		}
	}
	return retried, failed, nil
}

func (w *PayoutWorker) submit(ctx context.Context, wr model.WithdrawalRequest) error {
	res, err := w.client.Transfer(ctx, gateway.PayoutRequest{
		WithdrawalID: wr.ID,
		Amount:       wr.Amount,
		Currency:     wr.Currency,
		Bank:         wr.Bank,
	})
	switch {
	case errors.Is(err, gateway.ErrPayoutRejected):
		metrics.PayoutsTotal.WithLabelValues("rejected").Inc()
		_, ferr := w.ledger.FailWithdrawal(ctx, wr.ID, err.Error())
		return ferr
	case err != nil:
		metrics.PayoutsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("transfer %s: %w", wr.ID, err)
	}

	switch res.Status {
	case gateway.PayoutProcessed:
		_, err = w.ledger.CompleteWithdrawal(ctx, wr.ID, res.TransferID)
	case gateway.PayoutFailed:
		_, err = w.ledger.FailWithdrawal(ctx, wr.ID, res.FailureReason)
	default:
		w.log.WithFields(logrus.Fields{"withdrawal_id": wr.ID, "transfer_id": res.TransferID}).
			Info("payout queued, waiting for webhook")
	}
	return err
}
