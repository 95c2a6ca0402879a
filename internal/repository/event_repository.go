package repository

import (
	"context"
	"database/sql"
	"time"
)

// EventRepo is the durable idempotency record of gateway deliveries.
type EventRepo struct{ conn }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{conn{db: db}} }

// MarkProcessed records (gateway, eventID). It reports false when the event
// was already recorded; run inside the transaction that applies the event so
// the record and the state change commit together.
func (r *EventRepo) MarkProcessed(ctx context.Context, gateway, eventID, reference string, at time.Time) (bool, error) {
	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO processed_events (gateway, event_id, reference, processed_at) VALUES (?,?,?,?)`,
		gateway, eventID, reference, at)
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, mapErr("mark event processed", err)
	}
	return true, nil
}
