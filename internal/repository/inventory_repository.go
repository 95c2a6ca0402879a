package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/boxoffice/internal/model"
)

// InventoryRepo stores pools, their unit catalogue, holds and the held set.
// Every mutation of a pool's held set takes the pool row lock first
// (SELECT ... FOR UPDATE) and then touches the hold, so concurrent holds and
// releases against one pool serialise in MySQL rather than in application
// code. The held_units primary key rejects a second hold of a unit even if
// that ordering were bypassed.
type InventoryRepo struct{ conn }

func NewInventoryRepo(db *sql.DB) *InventoryRepo { return &InventoryRepo{conn{db: db}} }

type scanner interface {
	Scan(dest ...any) error
}

const poolColumns = `id, vendor_id, kind, ref, title, starts_at, currency, unit_price, total, held, active, version, created_at, updated_at`

func scanPool(s scanner) (model.InventoryPool, error) {
	var (
		p        model.InventoryPool
		startsAt sql.NullTime
	)
	err := s.Scan(&p.ID, &p.VendorID, &p.Kind, &p.Ref, &p.Title, &startsAt, &p.Currency,
		&p.UnitPrice, &p.Total, &p.Held, &p.Active, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.InventoryPool{}, err
	}
	p.StartsAt = nullTimePtr(startsAt)
	return p, nil
}

// CreatePool inserts the pool and its unit catalogue.
func (r *InventoryRepo) CreatePool(ctx context.Context, p model.InventoryPool, units []string) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		_, err := r.q(ctx).ExecContext(ctx,
			`INSERT INTO inventory_pools (`+poolColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.ID, p.VendorID, p.Kind, p.Ref, p.Title, timePtrArg(p.StartsAt), p.Currency,
			p.UnitPrice, p.Total, p.Held, p.Active, p.Version, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return mapErr("insert pool", err)
		}
		return r.insertUnits(ctx, "pool_units", p.ID, units, "")
	})
}

// GetPool returns model.ErrNotFound for unknown IDs.
func (r *InventoryRepo) GetPool(ctx context.Context, id string) (model.InventoryPool, error) {
	p, err := scanPool(r.q(ctx).QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM inventory_pools WHERE id=?`, id))
	if err != nil {
		return model.InventoryPool{}, mapErr("get pool", err)
	}
	return p, nil
}

func (r *InventoryRepo) ListPoolsByVendor(ctx context.Context, vendorID string) ([]model.InventoryPool, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+poolColumns+` FROM inventory_pools WHERE vendor_id=? ORDER BY created_at DESC`, vendorID)
	if err != nil {
		return nil, mapErr("list pools", err)
	}
	defer rows.Close()
	var out []model.InventoryPool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, mapErr("scan pool", err)
		}
		out = append(out, p)
	}
	return out, mapErr("list pools", rows.Err())
}

// SetPoolActive flips the active flag. Pools are never deleted.
func (r *InventoryRepo) SetPoolActive(ctx context.Context, id string, active bool, now time.Time) error {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE inventory_pools SET active=?, version=version+1, updated_at=? WHERE id=?`,
		active, now, id)
	if err != nil {
		return mapErr("set pool active", err)
	}
	ok, err := affected(res)
	if err != nil {
		return mapErr("set pool active", err)
	}
	if !ok {
		return model.ErrNotFound
	}
	return nil
}

// HoldUnits adds h.Units to the pool's held set and records h. The request is
// all or nothing: unknown units, units already held or a capacity shortfall
// fail the whole hold without touching the held set.
func (r *InventoryRepo) HoldUnits(ctx context.Context, h model.Hold) error {
	if len(h.Units) == 0 {
		return model.ErrInvalidUnits
	}
	units, err := json.Marshal(h.Units)
	if err != nil {
		return fmt.Errorf("encode hold units: %w", err)
	}
	return r.inTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		var (
			total, held int
			active      bool
		)
		err := q.QueryRowContext(ctx,
			`SELECT total, held, active FROM inventory_pools WHERE id=? FOR UPDATE`, h.PoolID).
			Scan(&total, &held, &active)
		if err != nil {
			return mapErr("lock pool", err)
		}
		if !active {
			return model.ErrPoolInactive
		}

		known, err := r.matchUnits(ctx, "pool_units", h.PoolID, h.Units)
		if err != nil {
			return err
		}
		if unknown := missing(h.Units, known); len(unknown) > 0 {
			return &model.UnitError{Err: model.ErrUnknownUnit, Units: unknown}
		}
		taken, err := r.matchUnits(ctx, "held_units", h.PoolID, h.Units)
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return &model.UnitError{Err: model.ErrAlreadyHeld, Units: ordered(h.Units, taken)}
		}
		if held+len(h.Units) > total {
			return model.ErrInsufficientCapacity
		}

		res, err := q.ExecContext(ctx,
			`UPDATE inventory_pools SET held=held+?, version=version+1, updated_at=? WHERE id=? AND held+? <= total`,
			len(h.Units), h.CreatedAt, h.PoolID, len(h.Units))
		if err != nil {
			return mapErr("increment held", err)
		}
		if ok, err := affected(res); err != nil {
			return mapErr("increment held", err)
		} else if !ok {
			return model.ErrInsufficientCapacity
		}

		if err := r.insertUnits(ctx, "held_units", h.PoolID, h.Units, h.ID); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx,
			`INSERT INTO holds (id, pool_id, booking_id, units, status, expires_at, created_at) VALUES (?,?,?,?,?,?,?)`,
			h.ID, h.PoolID, h.BookingID, string(units), h.Status, h.ExpiresAt, h.CreatedAt)
		return mapErr("insert hold", err)
	})
}

const holdColumns = `id, pool_id, booking_id, units, status, expires_at, created_at, released_at`

func scanHold(s scanner) (model.Hold, error) {
	var (
		h        model.Hold
		units    string
		released sql.NullTime
	)
	if err := s.Scan(&h.ID, &h.PoolID, &h.BookingID, &units, &h.Status, &h.ExpiresAt, &h.CreatedAt, &released); err != nil {
		return model.Hold{}, err
	}
	if err := json.Unmarshal([]byte(units), &h.Units); err != nil {
		return model.Hold{}, err
	}
	h.ReleasedAt = nullTimePtr(released)
	return h, nil
}

func (r *InventoryRepo) GetHold(ctx context.Context, id string) (model.Hold, error) {
	h, err := scanHold(r.q(ctx).QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE id=?`, id))
	if err != nil {
		return model.Hold{}, mapErr("get hold", err)
	}
	return h, nil
}

// CommitHold marks an active hold committed. It reports false when the hold
// was not active, so a repeated commit is a no-op.
func (r *InventoryRepo) CommitHold(ctx context.Context, id string) (bool, error) {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE holds SET status=? WHERE id=? AND status=?`, model.HoldCommitted, id, model.HoldActive)
	if err != nil {
		return false, mapErr("commit hold", err)
	}
	ok, err := affected(res)
	return ok, mapErr("commit hold", err)
}

// ReleaseHold removes the hold's units from the held set exactly once. With
// onlyExpired it releases only an active hold whose expiry has passed, which
// is the guard the sweeper relies on. It reports whether this call released.
func (r *InventoryRepo) ReleaseHold(ctx context.Context, id string, now time.Time, onlyExpired bool) (bool, error) {
	var released bool
	err := r.inTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		var poolID string
		if err := q.QueryRowContext(ctx, `SELECT pool_id FROM holds WHERE id=?`, id).Scan(&poolID); err != nil {
			return mapErr("find hold", err)
		}
		var lockedPool string
		if err := q.QueryRowContext(ctx, `SELECT id FROM inventory_pools WHERE id=? FOR UPDATE`, poolID).Scan(&lockedPool); err != nil {
			return mapErr("lock pool", err)
		}
		var (
			status    model.HoldStatus
			expiresAt time.Time
		)
		err := q.QueryRowContext(ctx, `SELECT status, expires_at FROM holds WHERE id=? FOR UPDATE`, id).
			Scan(&status, &expiresAt)
		if err != nil {
			return mapErr("lock hold", err)
		}
		if status == model.HoldReleased {
			return nil
		}
		if onlyExpired && (status != model.HoldActive || now.Before(expiresAt)) {
			return nil
		}

		res, err := q.ExecContext(ctx, `DELETE FROM held_units WHERE hold_id=?`, id)
		if err != nil {
			return mapErr("delete held units", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return mapErr("delete held units", err)
		}
		if n > 0 {
			res, err = q.ExecContext(ctx,
				`UPDATE inventory_pools SET held=held-?, version=version+1, updated_at=? WHERE id=? AND held >= ?`,
				n, now, poolID, n)
			if err != nil {
				return mapErr("decrement held", err)
			}
			if ok, err := affected(res); err != nil || !ok {
				return mapErr("decrement held", firstErr(err, model.ErrConflict))
			}
		}
		_, err = q.ExecContext(ctx,
			`UPDATE holds SET status=?, released_at=? WHERE id=? AND status=?`,
			model.HoldReleased, now, id, status)
		if err != nil {
			return mapErr("release hold", err)
		}
		released = true
		return nil
	})
	return released, err
}

// ListExpiredHolds returns active holds whose expiry is at or before now,
// oldest first.
func (r *InventoryRepo) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE status=? AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
		model.HoldActive, now, limit)
	if err != nil {
		return nil, mapErr("list expired holds", err)
	}
	defer rows.Close()
	var out []model.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, mapErr("scan hold", err)
		}
		out = append(out, h)
	}
	return out, mapErr("list expired holds", rows.Err())
}

// HeldUnits lists the pool's held set.
func (r *InventoryRepo) HeldUnits(ctx context.Context, poolID string) ([]string, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT unit_id FROM held_units WHERE pool_id=? ORDER BY unit_id`, poolID)
	if err != nil {
		return nil, mapErr("list held units", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, mapErr("scan held unit", err)
		}
		out = append(out, u)
	}
	return out, mapErr("list held units", rows.Err())
}

// matchUnits returns the subset of units present in table for the pool.
func (r *InventoryRepo) matchUnits(ctx context.Context, table, poolID string, units []string) (map[string]bool, error) {
	args := make([]any, 0, len(units)+1)
	args = append(args, poolID)
	for _, u := range units {
		args = append(args, u)
	}
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT unit_id FROM `+table+` WHERE pool_id=? AND unit_id IN (`+placeholders(len(units))+`)`, args...)
	if err != nil {
		return nil, mapErr("match "+table, err)
	}
	defer rows.Close()
	found := make(map[string]bool, len(units))
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, mapErr("scan "+table, err)
		}
		found[u] = true
	}
	return found, mapErr("match "+table, rows.Err())
}

// insertUnits bulk inserts (pool_id, unit_id[, hold_id]) rows. A duplicate
// key on held_units means another hold won the unit; it is reported as a
// conflict so the caller retries and sees the unit as held.
func (r *InventoryRepo) insertUnits(ctx context.Context, table, poolID string, units []string, holdID string) error {
	if len(units) == 0 {
		return nil
	}
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`INSERT INTO ` + table)
	if holdID != "" {
		b.WriteString(` (pool_id, unit_id, hold_id) VALUES `)
	} else {
		b.WriteString(` (pool_id, unit_id) VALUES `)
	}
	for i, u := range units {
		if i > 0 {
			b.WriteString(",")
		}
		if holdID != "" {
			b.WriteString("(?,?,?)")
			args = append(args, poolID, u, holdID)
		} else {
			b.WriteString("(?,?)")
			args = append(args, poolID, u)
		}
	}
	if _, err := r.q(ctx).ExecContext(ctx, b.String(), args...); err != nil {
		if isDuplicate(err) && holdID != "" {
			return model.ErrConflict
		}
		return mapErr("insert "+table, err)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func missing(units []string, found map[string]bool) []string {
	var out []string
	for _, u := range units {
		if !found[u] {
			out = append(out, u)
		}
	}
	return out
}

func ordered(units []string, found map[string]bool) []string {
	var out []string
	for _, u := range units {
		if found[u] {
			out = append(out, u)
		}
	}
	return out
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timePtrArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
