package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/boxoffice/internal/model"
)

// LedgerRepo stores accounts, entries and withdrawal requests. Balances only
// ever change through ApplyAccountDelta, a single conditional UPDATE that
// refuses to drive any balance negative.
type LedgerRepo struct{ conn }

func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{conn{db: db}} }

const accountColumns = `id, owner_id, currency, balance, pending_balance, processing_balance,
total_earnings, total_withdrawn, total_reversed, version, created_at, updated_at`

func scanAccount(s scanner) (model.LedgerAccount, error) {
	var a model.LedgerAccount
	err := s.Scan(&a.ID, &a.OwnerID, &a.Currency, &a.Balance, &a.PendingBalance, &a.ProcessingBalance,
		&a.TotalEarnings, &a.TotalWithdrawn, &a.TotalReversed, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// GetOrCreateAccount returns the owner's account, inserting a as the new
// account when none exists. Concurrent callers converge on one row.
func (r *LedgerRepo) GetOrCreateAccount(ctx context.Context, a model.LedgerAccount) (model.LedgerAccount, error) {
	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO ledger_accounts (id, owner_id, currency, created_at, updated_at) VALUES (?,?,?,?,?)
		ON DUPLICATE KEY UPDATE id=id`,
		a.ID, a.OwnerID, a.Currency, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return model.LedgerAccount{}, mapErr("insert account", err)
	}
	return r.GetAccountByOwner(ctx, a.OwnerID)
}

func (r *LedgerRepo) GetAccount(ctx context.Context, id string) (model.LedgerAccount, error) {
	a, err := scanAccount(r.q(ctx).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM ledger_accounts WHERE id=?`, id))
	if err != nil {
		return model.LedgerAccount{}, mapErr("get account", err)
	}
	return a, nil
}

func (r *LedgerRepo) GetAccountByOwner(ctx context.Context, ownerID string) (model.LedgerAccount, error) {
	a, err := scanAccount(r.q(ctx).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM ledger_accounts WHERE owner_id=?`, ownerID))
	if err != nil {
		return model.LedgerAccount{}, mapErr("get account by owner", err)
	}
	return a, nil
}

// ApplyAccountDelta adds d to the account in one statement. It returns
// model.ErrInsufficientFunds, leaving the row untouched, when any balance
// would become negative.
func (r *LedgerRepo) ApplyAccountDelta(ctx context.Context, id string, d model.AccountDelta, now time.Time) error {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE ledger_accounts SET
			balance=balance+?, pending_balance=pending_balance+?, processing_balance=processing_balance+?,
			total_earnings=total_earnings+?, total_withdrawn=total_withdrawn+?, total_reversed=total_reversed+?,
			version=version+1, updated_at=?
		WHERE id=? AND balance+? >= 0 AND pending_balance+? >= 0 AND processing_balance+? >= 0`,
		d.Balance, d.Pending, d.Processing, d.Earnings, d.Withdrawn, d.Reversed, now,
		id, d.Balance, d.Pending, d.Processing)
	if err != nil {
		return mapErr("apply account delta", err)
	}
	ok, err := affected(res)
	if err != nil {
		return mapErr("apply account delta", err)
	}
	if ok {
		return nil
	}
	if _, err := r.GetAccount(ctx, id); err != nil {
		return err
	}
	return model.ErrInsufficientFunds
}

const entryColumns = `id, account_id, type, gross_amount, platform_fee, net_amount, currency, status,
booking_id, withdrawal_id, parent_entry_id, available_at, reason, created_at, updated_at`

func scanEntry(s scanner) (model.LedgerEntry, error) {
	var (
		e                               model.LedgerEntry
		bookingID, withdrawalID, parent sql.NullString
		availableAt                     sql.NullTime
	)
	err := s.Scan(&e.ID, &e.AccountID, &e.Type, &e.GrossAmount, &e.PlatformFee, &e.NetAmount, &e.Currency,
		&e.Status, &bookingID, &withdrawalID, &parent, &availableAt, &e.Reason, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	e.BookingID = bookingID.String
	e.WithdrawalID = withdrawalID.String
	e.ParentEntryID = parent.String
	e.AvailableAt = nullTimePtr(availableAt)
	return e, nil
}

func (r *LedgerRepo) InsertEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.AccountID, e.Type, e.GrossAmount, e.PlatformFee, e.NetAmount, e.Currency, e.Status,
		nullString(e.BookingID), nullString(e.WithdrawalID), nullString(e.ParentEntryID),
		timePtrArg(e.AvailableAt), e.Reason, e.CreatedAt, e.UpdatedAt)
	return mapErr("insert entry", err)
}

func (r *LedgerRepo) getEntry(ctx context.Context, id string, forUpdate bool) (model.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id=?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEntry(r.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		return model.LedgerEntry{}, mapErr("get entry", err)
	}
	return e, nil
}

func (r *LedgerRepo) GetEntry(ctx context.Context, id string) (model.LedgerEntry, error) {
	return r.getEntry(ctx, id, false)
}

func (r *LedgerRepo) GetEntryForUpdate(ctx context.Context, id string) (model.LedgerEntry, error) {
	return r.getEntry(ctx, id, true)
}

// UpdateEntryStatus flips the entry status from -> to. It reports false when
// the entry was no longer in from, so a second release or reversal is a
// no-op.
func (r *LedgerRepo) UpdateEntryStatus(ctx context.Context, id string, from, to model.EntryStatus, reason string, now time.Time) (bool, error) {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE ledger_entries SET status=?, reason=IF(?='', reason, ?), updated_at=? WHERE id=? AND status=?`,
		to, reason, reason, now, id, from)
	if err != nil {
		return false, mapErr("update entry status", err)
	}
	ok, err := affected(res)
	return ok, mapErr("update entry status", err)
}

func (r *LedgerRepo) listEntries(ctx context.Context, op, where string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE `+where, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()
	out := []model.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, e)
	}
	return out, mapErr(op, rows.Err())
}

// ListEntries returns the account's entries oldest first. A limit of zero
// returns all of them.
func (r *LedgerRepo) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		return r.listEntries(ctx, "list entries", `account_id=? ORDER BY created_at, id`, accountID)
	}
	return r.listEntries(ctx, "list entries",
		`account_id=? ORDER BY created_at, id LIMIT ? OFFSET ?`, accountID, limit, offset)
}

// ListDueEntries returns pending credits whose hold period ended by now.
func (r *LedgerRepo) ListDueEntries(ctx context.Context, now time.Time, limit int) ([]model.LedgerEntry, error) {
	return r.listEntries(ctx, "list due entries",
		`type=? AND status=? AND available_at <= ? ORDER BY available_at, id LIMIT ?`,
		model.EntryPendingCredit, model.EntryPending, now, limit)
}

// EntriesForBooking returns every entry referencing the booking on any account.
func (r *LedgerRepo) EntriesForBooking(ctx context.Context, bookingID string) ([]model.LedgerEntry, error) {
	return r.listEntries(ctx, "entries for booking", `booking_id=? ORDER BY created_at, id`, bookingID)
}

const withdrawalColumns = `id, account_id, amount, currency, status, holder_name, account_number, ifsc,
transfer_ref, failure_reason, entry_id, created_at, updated_at`

func scanWithdrawal(s scanner) (model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := s.Scan(&w.ID, &w.AccountID, &w.Amount, &w.Currency, &w.Status, &w.Bank.HolderName,
		&w.Bank.AccountNumber, &w.Bank.IFSC, &w.TransferRef, &w.FailureReason, &w.EntryID, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r *LedgerRepo) InsertWithdrawal(ctx context.Context, w model.WithdrawalRequest) error {
	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO withdrawals (`+withdrawalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.AccountID, w.Amount, w.Currency, w.Status, w.Bank.HolderName, w.Bank.AccountNumber,
		w.Bank.IFSC, w.TransferRef, w.FailureReason, w.EntryID, w.CreatedAt, w.UpdatedAt)
	return mapErr("insert withdrawal", err)
}

func (r *LedgerRepo) getWithdrawal(ctx context.Context, id string, forUpdate bool) (model.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id=?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	w, err := scanWithdrawal(r.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		return model.WithdrawalRequest{}, mapErr("get withdrawal", err)
	}
	return w, nil
}

func (r *LedgerRepo) GetWithdrawal(ctx context.Context, id string) (model.WithdrawalRequest, error) {
	return r.getWithdrawal(ctx, id, false)
}

func (r *LedgerRepo) GetWithdrawalForUpdate(ctx context.Context, id string) (model.WithdrawalRequest, error) {
	return r.getWithdrawal(ctx, id, true)
}

// UpdateWithdrawal writes status, transfer reference and failure reason if the
// stored status is still from.
func (r *LedgerRepo) UpdateWithdrawal(ctx context.Context, w model.WithdrawalRequest, from model.WithdrawalStatus) (bool, error) {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE withdrawals SET status=?, transfer_ref=?, failure_reason=?, updated_at=? WHERE id=? AND status=?`,
		w.Status, w.TransferRef, w.FailureReason, w.UpdatedAt, w.ID, from)
	if err != nil {
		return false, mapErr("update withdrawal", err)
	}
	ok, err := affected(res)
	return ok, mapErr("update withdrawal", err)
}

func (r *LedgerRepo) ListWithdrawals(ctx context.Context, accountID string, limit, offset int) ([]model.WithdrawalRequest, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE account_id=? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		accountID, limit, offset)
	if err != nil {
		return nil, mapErr("list withdrawals", err)
	}
	defer rows.Close()
	out := []model.WithdrawalRequest{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, mapErr("scan withdrawal", err)
		}
		out = append(out, w)
	}
	return out, mapErr("list withdrawals", rows.Err())
}

func (r *LedgerRepo) ListIdleWithdrawals(ctx context.Context, status model.WithdrawalStatus, before time.Time, limit int) ([]model.WithdrawalRequest, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE status=? AND updated_at<? ORDER BY updated_at, id LIMIT ?`,
		status, before, limit)
	if err != nil {
		return nil, mapErr("list idle withdrawals", err)
	}
	defer rows.Close()
	out := []model.WithdrawalRequest{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, mapErr("scan withdrawal", err)
		}
		out = append(out, w)
	}
	return out, mapErr("list idle withdrawals", rows.Err())
}
