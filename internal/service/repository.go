package service

import (
	"context"
	"time"

	"github.com/iliyamo/boxoffice/internal/model"
)

// TxRunner runs fn atomically. Repository calls made with the context passed
// to fn join the same transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type InventoryRepository interface {
	CreatePool(ctx context.Context, p model.InventoryPool, units []string) error
	GetPool(ctx context.Context, id string) (model.InventoryPool, error)
	ListPoolsByVendor(ctx context.Context, vendorID string) ([]model.InventoryPool, error)
	SetPoolActive(ctx context.Context, id string, active bool, now time.Time) error
	HoldUnits(ctx context.Context, h model.Hold) error
	GetHold(ctx context.Context, id string) (model.Hold, error)
	CommitHold(ctx context.Context, id string) (bool, error)
	ReleaseHold(ctx context.Context, id string, now time.Time, onlyExpired bool) (bool, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error)
	HeldUnits(ctx context.Context, poolID string) ([]string, error)
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, b model.Booking) error
	GetBooking(ctx context.Context, id string) (model.Booking, error)
	GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error)
	GetBookingByGatewayRefForUpdate(ctx context.Context, ref string) (model.Booking, error)
	GetBookingByHoldForUpdate(ctx context.Context, holdID string) (model.Booking, error)
	UpdateBooking(ctx context.Context, b model.Booking, from model.BookingStatus) (bool, error)
	ListBookingsByUser(ctx context.Context, userID string, limit, offset int) ([]model.Booking, error)
	ListBookingsByVendor(ctx context.Context, vendorID string, limit, offset int) ([]model.Booking, error)
	FindMediaGrants(ctx context.Context, userID, mediaRef string) ([]model.Booking, error)
}

type LedgerRepository interface {
	GetOrCreateAccount(ctx context.Context, a model.LedgerAccount) (model.LedgerAccount, error)
	GetAccount(ctx context.Context, id string) (model.LedgerAccount, error)
	GetAccountByOwner(ctx context.Context, ownerID string) (model.LedgerAccount, error)
	ApplyAccountDelta(ctx context.Context, id string, d model.AccountDelta, now time.Time) error
	InsertEntry(ctx context.Context, e model.LedgerEntry) error
	GetEntry(ctx context.Context, id string) (model.LedgerEntry, error)
	GetEntryForUpdate(ctx context.Context, id string) (model.LedgerEntry, error)
	UpdateEntryStatus(ctx context.Context, id string, from, to model.EntryStatus, reason string, now time.Time) (bool, error)
	ListEntries(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error)
	ListDueEntries(ctx context.Context, now time.Time, limit int) ([]model.LedgerEntry, error)
	EntriesForBooking(ctx context.Context, bookingID string) ([]model.LedgerEntry, error)
	InsertWithdrawal(ctx context.Context, w model.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (model.WithdrawalRequest, error)
	GetWithdrawalForUpdate(ctx context.Context, id string) (model.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w model.WithdrawalRequest, from model.WithdrawalStatus) (bool, error)
	ListWithdrawals(ctx context.Context, accountID string, limit, offset int) ([]model.WithdrawalRequest, error)
	// ListIdleWithdrawals returns withdrawals in status that were last
	// updated before the cutoff, oldest first.
	ListIdleWithdrawals(ctx context.Context, status model.WithdrawalStatus, before time.Time, limit int) ([]model.WithdrawalRequest, error)
}

type EventRepository interface {
	MarkProcessed(ctx context.Context, gateway, eventID, reference string, at time.Time) (bool, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, u model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, id string) (model.User, error)
}

type TokenRepository interface {
	StoreRefresh(ctx context.Context, userID, tokenHash string, exp, now time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (string, error)
	RevokeByHash(ctx context.Context, tokenHash string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) error
}

// Repositories is the storage a Services set is built on.
type Repositories struct {
	Tx        TxRunner
	Inventory InventoryRepository
	Bookings  BookingRepository
	Ledger    LedgerRepository
	Events    EventRepository
	Users     UserRepository
	Tokens    TokenRepository
}
