package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iliyamo/boxoffice/internal/model"
)

// BookingRepo provides persistence for bookings and media purchases. Status
// changes go through UpdateBooking, a check-and-set on (id, status).
type BookingRepo struct{ conn }

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{conn{db: db}} }

const bookingColumns = `id, user_id, vendor_id, kind, pool_id, hold_id, units, media_ref, purchase_type,
amount, currency, status, payment_status, gateway, gateway_ref, credit_entry_id, expires_at,
completed_at, cancelled_at, access_expires_at, version, created_at, updated_at`

func scanBooking(s scanner) (model.Booking, error) {
	var (
		b                                  model.Booking
		poolID, holdID, mediaRef, purchase sql.NullString
		units, gateway, creditEntry        sql.NullString
		completed, cancelled, access       sql.NullTime
	)
	err := s.Scan(&b.ID, &b.UserID, &b.VendorID, &b.Kind, &poolID, &holdID, &units, &mediaRef, &purchase,
		&b.Amount, &b.Currency, &b.Status, &b.PaymentStatus, &gateway, &b.GatewayRef, &creditEntry, &b.ExpiresAt,
		&completed, &cancelled, &access, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Booking{}, err
	}
	b.PoolID = poolID.String
	b.HoldID = holdID.String
	b.MediaRef = mediaRef.String
	b.PurchaseType = model.PurchaseType(purchase.String)
	b.Gateway = gateway.String
	b.CreditEntryID = creditEntry.String
	if units.Valid && units.String != "" {
		if err := json.Unmarshal([]byte(units.String), &b.Units); err != nil {
			return model.Booking{}, err
		}
	}
	b.CompletedAt = nullTimePtr(completed)
	b.CancelledAt = nullTimePtr(cancelled)
	b.AccessExpiresAt = nullTimePtr(access)
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateBooking inserts a new booking. A duplicate gateway reference is
// reported as model.ErrConflict.
func (r *BookingRepo) CreateBooking(ctx context.Context, b model.Booking) error {
	var units sql.NullString
	if len(b.Units) > 0 {
		raw, _ := json.Marshal(b.Units)
		units = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.UserID, b.VendorID, b.Kind, nullString(b.PoolID), nullString(b.HoldID), units,
		nullString(b.MediaRef), nullString(string(b.PurchaseType)), b.Amount, b.Currency, b.Status,
		b.PaymentStatus, nullString(b.Gateway), b.GatewayRef, nullString(b.CreditEntryID), b.ExpiresAt,
		timePtrArg(b.CompletedAt), timePtrArg(b.CancelledAt), timePtrArg(b.AccessExpiresAt),
		b.Version, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return model.ErrConflict
		}
		return mapErr("insert booking", err)
	}
	return nil
}

func (r *BookingRepo) getOne(ctx context.Context, op, where string, arg any, forUpdate bool) (model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBooking(r.q(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		return model.Booking{}, mapErr(op, err)
	}
	return b, nil
}

func (r *BookingRepo) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	return r.getOne(ctx, "get booking", "id=?", id, false)
}

// GetBookingForUpdate row-locks the booking for the rest of the transaction.
func (r *BookingRepo) GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error) {
	return r.getOne(ctx, "lock booking", "id=?", id, true)
}

func (r *BookingRepo) GetBookingByGatewayRefForUpdate(ctx context.Context, ref string) (model.Booking, error) {
	return r.getOne(ctx, "lock booking by ref", "gateway_ref=?", ref, true)
}

func (r *BookingRepo) GetBookingByHoldForUpdate(ctx context.Context, holdID string) (model.Booking, error) {
	return r.getOne(ctx, "lock booking by hold", "hold_id=?", holdID, true)
}

// UpdateBooking writes the mutable fields of b if the stored status is still
// from. It reports false when another writer moved the booking first.
func (r *BookingRepo) UpdateBooking(ctx context.Context, b model.Booking, from model.BookingStatus) (bool, error) {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE bookings SET status=?, payment_status=?, gateway=?, credit_entry_id=?, completed_at=?,
		cancelled_at=?, access_expires_at=?, version=version+1, updated_at=?
		WHERE id=? AND status=?`,
		b.Status, b.PaymentStatus, nullString(b.Gateway), nullString(b.CreditEntryID),
		timePtrArg(b.CompletedAt), timePtrArg(b.CancelledAt), timePtrArg(b.AccessExpiresAt), b.UpdatedAt,
		b.ID, from)
	if err != nil {
		return false, mapErr("update booking", err)
	}
	ok, err := affected(res)
	return ok, mapErr("update booking", err)
}

func (r *BookingRepo) list(ctx context.Context, op, where string, args ...any) ([]model.Booking, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE `+where, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, b)
	}
	return out, mapErr(op, rows.Err())
}

// ListBookingsByUser returns the user's bookings, newest first.
func (r *BookingRepo) ListBookingsByUser(ctx context.Context, userID string, limit, offset int) ([]model.Booking, error) {
	return r.list(ctx, "list user bookings",
		`user_id=? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, userID, limit, offset)
}

// ListBookingsByVendor returns bookings against the vendor's inventory and media.
func (r *BookingRepo) ListBookingsByVendor(ctx context.Context, vendorID string, limit, offset int) ([]model.Booking, error) {
	return r.list(ctx, "list vendor bookings",
		`vendor_id=? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, vendorID, limit, offset)
}

// FindMediaGrants returns the user's completed purchases of mediaRef.
func (r *BookingRepo) FindMediaGrants(ctx context.Context, userID, mediaRef string) ([]model.Booking, error) {
	return r.list(ctx, "find media grants",
		`user_id=? AND media_ref=? AND kind=? AND status=? ORDER BY completed_at DESC`,
		userID, mediaRef, model.BookingKindMedia, model.BookingCompleted)
}
