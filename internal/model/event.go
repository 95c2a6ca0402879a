package model

// EventKind says which state machine a gateway event drives.
type EventKind string

const (
	EventPayment EventKind = "payment"
	EventPayout  EventKind = "payout"
)

// Outcome is the normalised result reported by a gateway.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeReversal Outcome = "reversal"
)

// GatewayEvent is a verified, provider independent callback. For payment
// events Reference is the booking's gateway reference; for payout events it
// is the withdrawal ID.
type GatewayEvent struct {
	Gateway   string    `json:"gateway"`
	EventID   string    `json:"event_id"`
	Kind      EventKind `json:"kind"`
	Reference string    `json:"reference"`
	Outcome   Outcome   `json:"outcome"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Reason    string    `json:"reason,omitempty"`
	Raw       []byte    `json:"-"`
}

