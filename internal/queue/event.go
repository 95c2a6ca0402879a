// Package queue defines message payloads exchanged over the message broker
// and the RabbitMQ publisher and consumer that carry them.
package queue

import "time"

// Queue names. Each is a durable queue on the default exchange.
const (
	BookingCompleted    = "booking.completed"
	BookingCancelled    = "booking.cancelled"
	WithdrawalRequested = "withdrawal.requested"
)

// BookingEvent is published when a booking completes or is cancelled. It
// carries enough for downstream consumers to notify or report without
// querying the primary database.
type BookingEvent struct {
	BookingID  string    `json:"booking_id"`
	UserID     string    `json:"user_id"`
	VendorID   string    `json:"vendor_id"`
	Kind       string    `json:"kind"`
	PoolID     string    `json:"pool_id,omitempty"`
	MediaRef   string    `json:"media_ref,omitempty"`
	Units      []string  `json:"units,omitempty"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	GatewayRef string    `json:"gateway_ref"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WithdrawalRequestedEvent asks the payout worker to transfer funds.
type WithdrawalRequestedEvent struct {
	WithdrawalID string    `json:"withdrawal_id"`
	AccountID    string    `json:"account_id"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	RequestedAt  time.Time `json:"requested_at"`
}
