package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/metrics"
	"github.com/iliyamo/boxoffice/internal/model"
)

// Sweeper returns the units of expired holds to their pools and expires the
// pending bookings that owned them.
type Sweeper struct {
	tx       TxRunner
	inv      InventoryRepository
	bookings *BookingService
	batch    int
	clock    clock.Clock
	log      *logrus.Entry
}

func NewSweeper(tx TxRunner, inv InventoryRepository, bookings *BookingService, batch int, clk clock.Clock, log *logrus.Entry) *Sweeper {
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{tx: tx, inv: inv, bookings: bookings, batch: batch, clock: clk, log: component(log, "sweeper")}
}

// SweepExpired releases up to one batch of holds whose expiry is at or
// before now. Committed holds are never touched. It returns the number of
// holds released.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	holds, err := s.inv.ListExpiredHolds(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, h := range holds {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		released, err := s.expire(ctx, h)
		if err != nil {
			s.log.WithError(err).WithField("hold_id", h.ID).Warn("expire hold failed")
			continue
		}
		if released {
			n++
		}
	}
	metrics.SweepRuns.WithLabelValues("hold_sweep").Inc()
	metrics.SweepItems.WithLabelValues("hold_sweep").Add(float64(n))
	if n > 0 {
		s.log.WithField("released", n).Info("expired holds released")
	}
	return n, nil
}

// Run is the cron entry point.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.SweepExpired(ctx)
	return err
}

// expire locks the booking before the hold, the same order payment
// processing uses.
func (s *Sweeper) expire(ctx context.Context, h model.Hold) (bool, error) {
	var released bool
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		if _, err := s.bookings.expirePending(ctx, h.ID); err != nil {
			return err
		}
		var err error
		released, err = s.inv.ReleaseHold(ctx, h.ID, s.clock.Now(), true)
		return err
	})
	if err == nil && released {
		metrics.HoldsReleased.WithLabelValues("expired").Inc()
	}
	return released, err
}
