package model

import "time"

// LedgerAccount is the wallet of a vendor or of the platform. All amounts
// are minor units of Currency.
//
// Balance + PendingBalance + ProcessingBalance ==
// TotalEarnings - TotalWithdrawn - TotalReversed, and every balance is >= 0.
type LedgerAccount struct {
	ID                string    `json:"id"`                 // ledger_accounts.id
	OwnerID           string    `json:"owner_id"`           // ledger_accounts.owner_id
	Currency          string    `json:"currency"`           // ledger_accounts.currency
	Balance           int64     `json:"balance"`            // available for withdrawal
	PendingBalance    int64     `json:"pending_balance"`    // credited, still in the hold period
	ProcessingBalance int64     `json:"processing_balance"` // reserved by in-flight withdrawals
	TotalEarnings     int64     `json:"total_earnings"`     // cumulative net credited
	TotalWithdrawn    int64     `json:"total_withdrawn"`    // cumulative paid out
	TotalReversed     int64     `json:"total_reversed"`     // cumulative net reversed
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Reconciles reports whether the account fields satisfy the ledger identity.
func (a LedgerAccount) Reconciles() bool {
	if a.Balance < 0 || a.PendingBalance < 0 || a.ProcessingBalance < 0 {
		return false
	}
	return a.Balance+a.PendingBalance+a.ProcessingBalance == a.TotalEarnings-a.TotalWithdrawn-a.TotalReversed
}

// NetEarnings is earnings after reversals.
func (a LedgerAccount) NetEarnings() int64 {
	return a.TotalEarnings - a.TotalReversed
}

// AccountDelta is a set of signed increments applied to an account in one
// conditional update. The update fails with ErrInsufficientFunds when any
// balance would drop below zero.
type AccountDelta struct {
	Balance    int64
	Pending    int64
	Processing int64
	Earnings   int64
	Withdrawn  int64
	Reversed   int64
}

// Apply returns a with d added. It does not check the non-negative rule.
func (d AccountDelta) Apply(a LedgerAccount) LedgerAccount {
	a.Balance += d.Balance
	a.PendingBalance += d.Pending
	a.ProcessingBalance += d.Processing
	a.TotalEarnings += d.Earnings
	a.TotalWithdrawn += d.Withdrawn
	a.TotalReversed += d.Reversed
	return a
}

// EntryType is the kind of balance-affecting event an entry records.
type EntryType string

const (
	EntryCredit             EntryType = "credit"
	EntryDebit              EntryType = "debit"
	EntryPendingCredit      EntryType = "pending_credit"
	EntryPendingToAvailable EntryType = "pending_to_available"
	EntryPlatformFee        EntryType = "platform_fee"
)

// EntryStatus is the only mutable field of a LedgerEntry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
	EntryCancelled EntryStatus = "cancelled"
)

// Reversed reports whether the entry's funds were taken back.
func (s EntryStatus) Reversed() bool {
	return s == EntryFailed || s == EntryCancelled
}

// LedgerEntry is an immutable record of one balance-affecting event.
type LedgerEntry struct {
	ID            string      `json:"id"`
	AccountID     string      `json:"account_id"`
	Type          EntryType   `json:"type"`
	GrossAmount   int64       `json:"gross_amount"`
	PlatformFee   int64       `json:"platform_fee"`
	NetAmount     int64       `json:"net_amount"`
	Currency      string      `json:"currency"`
	Status        EntryStatus `json:"status"`
	BookingID     string      `json:"booking_id,omitempty"`
	WithdrawalID  string      `json:"withdrawal_id,omitempty"`
	ParentEntryID string      `json:"parent_entry_id,omitempty"`
	AvailableAt   *time.Time  `json:"available_at,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ReplayEntries rebuilds account totals purely from entries. Audit entries
// (pending_to_available, and debits that are not withdrawals) carry no
// balance effect of their own; the status of the entry they describe does.
func ReplayEntries(entries []LedgerEntry) LedgerAccount {
	var a LedgerAccount
	for _, e := range entries {
		switch e.Type {
		case EntryPendingCredit, EntryPlatformFee, EntryCredit:
			a.TotalEarnings += e.NetAmount
			switch {
			case e.Status == EntryPending:
				a.PendingBalance += e.NetAmount
			case e.Status == EntryCompleted:
				a.Balance += e.NetAmount
			case e.Status.Reversed():
				a.TotalReversed += e.NetAmount
			}
		case EntryDebit:
			if e.WithdrawalID == "" {
				continue
			}
			switch e.Status {
			case EntryPending:
				a.Balance -= e.NetAmount
				a.ProcessingBalance += e.NetAmount
			case EntryCompleted:
				a.Balance -= e.NetAmount
				a.TotalWithdrawn += e.NetAmount
			}
		}
	}
	return a
}

// WithdrawalStatus is the lifecycle of a payout request.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// Open reports whether funds are still reserved for this withdrawal.
func (s WithdrawalStatus) Open() bool {
	return s == WithdrawalPending || s == WithdrawalProcessing
}

// BankDetails is the payout destination.
type BankDetails struct {
	HolderName    string `json:"holder_name"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
}

// Masked returns a copy with all but the last four account digits hidden.
func (b BankDetails) Masked() BankDetails {
	n := len(b.AccountNumber)
	if n > 4 {
		masked := make([]byte, n)
		for i := 0; i < n-4; i++ {
			masked[i] = '*'
		}
		copy(masked[n-4:], b.AccountNumber[n-4:])
		b.AccountNumber = string(masked)
	}
	return b
}

// WithdrawalRequest debits the available balance of an account.
type WithdrawalRequest struct {
	ID            string           `json:"id"`
	AccountID     string           `json:"account_id"`
	Amount        int64            `json:"amount"`
	Currency      string           `json:"currency"`
	Status        WithdrawalStatus `json:"status"`
	Bank          BankDetails      `json:"bank"`
	TransferRef   string           `json:"transfer_ref,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	EntryID       string           `json:"entry_id"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ReconcileReport compares stored account fields with a replay of entries.
type ReconcileReport struct {
	AccountID string        `json:"account_id"`
	Stored    LedgerAccount `json:"stored"`
	Replayed  LedgerAccount `json:"replayed"`
	Drift     AccountDelta  `json:"drift"`
	Balanced  bool          `json:"balanced"`
	Entries   int           `json:"entries"`
}
