package repository

import "database/sql"

// Store bundles the MySQL repositories that share one connection pool.
type Store struct {
	*TxManager
	Inventory *InventoryRepo
	Bookings  *BookingRepo
	Ledger    *LedgerRepo
	Events    *EventRepo
	Users     *UserRepo
	Tokens    *TokenRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		TxManager: NewTxManager(db),
		Inventory: NewInventoryRepo(db),
		Bookings:  NewBookingRepo(db),
		Ledger:    NewLedgerRepo(db),
		Events:    NewEventRepo(db),
		Users:     NewUserRepo(db),
		Tokens:    NewTokenRepo(db),
	}
}
