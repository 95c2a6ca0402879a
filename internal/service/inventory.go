package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/metrics"
	"github.com/iliyamo/boxoffice/internal/model"
)

// InventoryService owns pools and the held set. Holding is all or nothing:
// an error leaves held counts and held units exactly as they were.
type InventoryService struct {
	tx     TxRunner
	repo   InventoryRepository
	policy Policy
	clock  clock.Clock
	log    *logrus.Entry
}

func NewInventoryService(tx TxRunner, repo InventoryRepository, policy Policy, clk clock.Clock, log *logrus.Entry) *InventoryService {
	return &InventoryService{tx: tx, repo: repo, policy: policy, clock: clk, log: component(log, "inventory")}
}

// CreatePoolInput describes a pool to publish. Either Units or Total must be
// given; with only Total the catalogue is "1".."Total".
type CreatePoolInput struct {
	VendorID  string
	Kind      model.PoolKind
	Ref       string
	Title     string
	StartsAt  *time.Time
	Currency  string
	UnitPrice int64
	Total     int
	Units     []string
}

func (in CreatePoolInput) units() ([]string, error) {
	if len(in.Units) > 0 {
		units := model.NormalizeUnits(in.Units)
		if len(units) == 0 || (in.Total != 0 && in.Total != len(units)) {
			return nil, model.ErrInvalidUnits
		}
		return units, nil
	}
	if in.Total <= 0 {
		return nil, model.ErrInvalidUnits
	}
	return model.GenerateUnits(in.Total), nil
}

func (s *InventoryService) CreatePool(ctx context.Context, in CreatePoolInput) (model.InventoryPool, error) {
	if strings.TrimSpace(in.VendorID) == "" || strings.TrimSpace(in.Title) == "" {
		return model.InventoryPool{}, model.ErrInvalidInput
	}
	if in.Kind == "" {
		in.Kind = model.PoolKindShowtime
	}
	if in.Kind != model.PoolKindShowtime && in.Kind != model.PoolKindEvent {
		return model.InventoryPool{}, model.ErrInvalidInput
	}
	if in.UnitPrice <= 0 {
		return model.InventoryPool{}, model.ErrInvalidAmount
	}
	units, err := in.units()
	if err != nil {
		return model.InventoryPool{}, err
	}
	currency := model.NormalizeCurrency(in.Currency)
	if currency == "" {
		currency = s.policy.DefaultCurrency
	}
	now := s.clock.Now()
	p := model.InventoryPool{
		ID:        newID(),
		VendorID:  in.VendorID,
		Kind:      in.Kind,
		Ref:       strings.TrimSpace(in.Ref),
		Title:     strings.TrimSpace(in.Title),
		StartsAt:  in.StartsAt,
		Currency:  currency,
		UnitPrice: in.UnitPrice,
		Total:     len(units),
		Active:    true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreatePool(ctx, p, units); err != nil {
		return model.InventoryPool{}, err
	}
	s.log.WithFields(logrus.Fields{"pool_id": p.ID, "vendor_id": p.VendorID, "total": p.Total}).Info("pool created")
	return p, nil
}

func (s *InventoryService) GetPool(ctx context.Context, id string) (model.InventoryPool, error) {
	return s.repo.GetPool(ctx, id)
}

func (s *InventoryService) ListPools(ctx context.Context, vendorID string) ([]model.InventoryPool, error) {
	return s.repo.ListPoolsByVendor(ctx, vendorID)
}

// DeactivatePool stops new holds on a pool. Existing holds and bookings are
// untouched.
func (s *InventoryService) DeactivatePool(ctx context.Context, vendorID, poolID string) error {
	return atomically(ctx, s.tx, func(ctx context.Context) error {
		p, err := s.repo.GetPool(ctx, poolID)
		if err != nil {
			return err
		}
		if p.VendorID != vendorID {
			return model.ErrForbidden
		}
		if !p.Active {
			return nil
		}
		if err := s.repo.SetPoolActive(ctx, poolID, false, s.clock.Now()); err != nil {
			return err
		}
		s.log.WithField("pool_id", poolID).Info("pool deactivated")
		return nil
	})
}

// Availability reports total, held and available counts with the held unit ids.
func (s *InventoryService) Availability(ctx context.Context, poolID string) (model.PoolAvailability, error) {
	var out model.PoolAvailability
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetPool(ctx, poolID)
		if err != nil {
			return err
		}
		held, err := s.repo.HeldUnits(ctx, poolID)
		if err != nil {
			return err
		}
		out = model.PoolAvailability{
			PoolID:    p.ID,
			Total:     p.Total,
			Held:      p.Held,
			Available: p.Available(),
			HeldUnits: held,
			Active:    p.Active,
		}
		return nil
	})
	return out, err
}

// Hold reserves units of a pool for bookingRef until now+ttl. A ttl of zero
// uses the configured hold TTL.
func (s *InventoryService) Hold(ctx context.Context, poolID string, units []string, bookingRef string, ttl time.Duration) (model.Hold, error) {
	units = model.NormalizeUnits(units)
	if len(units) == 0 {
		return model.Hold{}, model.ErrInvalidUnits
	}
	if ttl <= 0 {
		ttl = s.policy.HoldTTL
	}
	var h model.Hold
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		h, err = s.hold(ctx, poolID, units, bookingRef, ttl)
		return err
	})
	return h, err
}

// hold must run inside a transaction.
func (s *InventoryService) hold(ctx context.Context, poolID string, units []string, bookingRef string, ttl time.Duration) (model.Hold, error) {
	now := s.clock.Now()
	h := model.Hold{
		ID:        newID(),
		PoolID:    poolID,
		BookingID: bookingRef,
		Units:     units,
		Status:    model.HoldActive,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.repo.HoldUnits(ctx, h); err != nil {
		metrics.HoldsTotal.WithLabelValues(holdResult(err)).Inc()
		return model.Hold{}, err
	}
	metrics.HoldsTotal.WithLabelValues("ok").Inc()
	s.log.WithFields(logrus.Fields{"hold_id": h.ID, "pool_id": poolID, "units": len(units)}).Debug("units held")
	return h, nil
}

func holdResult(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientCapacity):
		return "insufficient_capacity"
	case errors.Is(err, model.ErrAlreadyHeld):
		return "already_held"
	case errors.Is(err, model.ErrUnknownUnit):
		return "unknown_unit"
	case errors.Is(err, model.ErrPoolInactive):
		return "inactive"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	}
	return "error"
}

// Release returns a hold's units to the pool. Releasing a released hold is
// a no-op reporting false.
func (s *InventoryService) Release(ctx context.Context, holdID string) (bool, error) {
	var released bool
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		released, err = s.release(ctx, holdID, "manual")
		return err
	})
	return released, err
}

func (s *InventoryService) release(ctx context.Context, holdID, cause string) (bool, error) {
	released, err := s.repo.ReleaseHold(ctx, holdID, s.clock.Now(), false)
	if err != nil {
		return false, err
	}
	if released {
		metrics.HoldsReleased.WithLabelValues(cause).Inc()
	}
	return released, nil
}

// Commit converts an active hold into permanent allocation. It reports
// false when the hold is no longer active.
func (s *InventoryService) Commit(ctx context.Context, holdID string) (bool, error) {
	var ok bool
	err := atomically(ctx, s.tx, func(ctx context.Context) error {
		var err error
		ok, err = s.repo.CommitHold(ctx, holdID)
		return err
	})
	return ok, err
}
