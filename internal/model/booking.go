package model

import "time"

// BookingKind separates seat/ticket bookings, which hold pool inventory,
// from pay-per-view media purchases, which do not.
type BookingKind string

const (
	BookingKindSeat  BookingKind = "seat"
	BookingKindMedia BookingKind = "media"
)

// PurchaseType applies to media purchases.
type PurchaseType string

const (
	PurchaseBuy  PurchaseType = "buy"
	PurchaseRent PurchaseType = "rent"
)

// BookingStatus is the booking state machine.
//
//	pending -> completed | failed | cancelled | expired
//	completed -> cancelled
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingCompleted BookingStatus = "completed"
	BookingFailed    BookingStatus = "failed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

// PaymentStatus is the payment-facing projection of a booking.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingCompleted, BookingFailed, BookingCancelled, BookingExpired},
	BookingCompleted: {BookingCancelled},
}

// CanTransitionTo reports whether s -> to is a legal edge.
func (s BookingStatus) CanTransitionTo(to BookingStatus) bool {
	for _, next := range bookingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsFinal reports whether no further transition is possible.
func (s BookingStatus) IsFinal() bool {
	return len(bookingTransitions[s]) == 0
}

// Booking ties a user, an optional inventory hold and a payment intent.
type Booking struct {
	ID              string        `json:"id"`                          // bookings.id
	UserID          string        `json:"user_id"`                     // bookings.user_id
	VendorID        string        `json:"vendor_id"`                   // bookings.vendor_id
	Kind            BookingKind   `json:"kind"`                        // bookings.kind
	PoolID          string        `json:"pool_id,omitempty"`           // bookings.pool_id (seat bookings)
	HoldID          string        `json:"hold_id,omitempty"`           // bookings.hold_id (seat bookings)
	Units           []string      `json:"units,omitempty"`             // bookings.units (json)
	MediaRef        string        `json:"media_ref,omitempty"`         // bookings.media_ref (media purchases)
	PurchaseType    PurchaseType  `json:"purchase_type,omitempty"`     // bookings.purchase_type
	Amount          int64         `json:"amount"`                      // bookings.amount (minor units)
	Currency        string        `json:"currency"`                    // bookings.currency
	Status          BookingStatus `json:"status"`                      // bookings.status
	PaymentStatus   PaymentStatus `json:"payment_status"`              // bookings.payment_status
	Gateway         string        `json:"gateway,omitempty"`           // bookings.gateway (set on settlement)
	GatewayRef      string        `json:"gateway_ref"`                 // bookings.gateway_ref (unique)
	CreditEntryID   string        `json:"credit_entry_id,omitempty"`   // bookings.credit_entry_id
	ExpiresAt       time.Time     `json:"expires_at"`                  // bookings.expires_at
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`      // bookings.completed_at
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`      // bookings.cancelled_at
	AccessExpiresAt *time.Time    `json:"access_expires_at,omitempty"` // bookings.access_expires_at (rentals)
	Version         int64         `json:"version"`                     // bookings.version
	CreatedAt       time.Time     `json:"created_at"`                  // bookings.created_at
	UpdatedAt       time.Time     `json:"updated_at"`                  // bookings.updated_at
}

// Transition moves the booking to `to`, stamping timestamps and the payment
// projection. It rejects illegal edges with ErrInvalidTransition and leaves
// the booking untouched in that case.
func (b *Booking) Transition(to BookingStatus, at time.Time) error {
	if !b.Status.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	from := b.Status
	switch to {
	case BookingCompleted:
		b.PaymentStatus = PaymentCompleted
		b.CompletedAt = &at
	case BookingFailed:
		b.PaymentStatus = PaymentFailed
	case BookingExpired:
		b.PaymentStatus = PaymentCancelled
	case BookingCancelled:
		if from == BookingCompleted {
			b.PaymentStatus = PaymentRefunded
		} else {
			b.PaymentStatus = PaymentCancelled
		}
		b.CancelledAt = &at
	}
	b.Status = to
	b.UpdatedAt = at
	return nil
}

// SeatStatus is the seat-facing projection: confirmed, cancelled or expired.
// Pending and failed bookings have no seat status.
func (b Booking) SeatStatus() string {
	switch b.Status {
	case BookingCompleted:
		return "confirmed"
	case BookingCancelled:
		return "cancelled"
	case BookingExpired:
		return "expired"
	}
	return ""
}

// GrantsAccess reports whether a completed media purchase is usable at now.
func (b Booking) GrantsAccess(now time.Time) bool {
	if b.Kind != BookingKindMedia || b.Status != BookingCompleted {
		return false
	}
	if b.PurchaseType == PurchaseRent {
		return b.AccessExpiresAt != nil && now.Before(*b.AccessExpiresAt)
	}
	return true
}
