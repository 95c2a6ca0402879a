package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iliyamo/boxoffice/internal/metrics"
	"github.com/iliyamo/boxoffice/internal/model"
)

const (
	retryAttempts = 5
	retryInitial  = 20 * time.Millisecond
	retryMax      = 500 * time.Millisecond
)

// withRetry runs op until it succeeds, fails with anything other than
// model.ErrConflict, or the attempts run out. The last conflict is returned
// as is so handlers can answer 503.
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitial
	b.MaxInterval = retryMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retryAttempts-1), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrConflict) {
			metrics.ConflictRetries.Inc()
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// atomically runs fn in one transaction, retrying conflicts.
func atomically(ctx context.Context, tx TxRunner, fn func(ctx context.Context) error) error {
	return withRetry(ctx, func() error { return tx.WithTx(ctx, fn) })
}
