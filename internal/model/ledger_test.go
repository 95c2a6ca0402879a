package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayEntries(t *testing.T) {
	entries := []LedgerEntry{
		// released credit
		{Type: EntryPendingCredit, NetAmount: 900, Status: EntryCompleted},
		{Type: EntryPendingToAvailable, NetAmount: 900, Status: EntryCompleted},
		// still in the hold period
		{Type: EntryPendingCredit, NetAmount: 450, Status: EntryPending},
		// reversed before release
		{Type: EntryPendingCredit, NetAmount: 300, Status: EntryFailed},
		{Type: EntryDebit, NetAmount: 300, Status: EntryCompleted},
		// withdrawals: one in flight, one paid, one failed
		{Type: EntryDebit, NetAmount: 200, Status: EntryPending, WithdrawalID: "w1"},
		{Type: EntryDebit, NetAmount: 100, Status: EntryCompleted, WithdrawalID: "w2"},
		{Type: EntryDebit, NetAmount: 50, Status: EntryFailed, WithdrawalID: "w3"},
	}

	a := ReplayEntries(entries)
	assert.Equal(t, int64(600), a.Balance)
	assert.Equal(t, int64(450), a.PendingBalance)
	assert.Equal(t, int64(200), a.ProcessingBalance)
	assert.Equal(t, int64(1650), a.TotalEarnings)
	assert.Equal(t, int64(100), a.TotalWithdrawn)
	assert.Equal(t, int64(300), a.TotalReversed)
	assert.True(t, a.Reconciles())
	assert.Equal(t, int64(1350), a.NetEarnings())
}

func TestLedgerAccount_Reconciles(t *testing.T) {
	assert.True(t, LedgerAccount{}.Reconciles())
	assert.False(t, LedgerAccount{Balance: 10}.Reconciles())
	assert.False(t, LedgerAccount{Balance: -10, PendingBalance: 10}.Reconciles())

	a := AccountDelta{Pending: 900, Earnings: 900}.Apply(LedgerAccount{})
	a = AccountDelta{Pending: -900, Balance: 900}.Apply(a)
	assert.Equal(t, int64(900), a.Balance)
	assert.True(t, a.Reconciles())
}

func TestBankDetails_Masked(t *testing.T) {
	b := BankDetails{HolderName: "A Vendor", AccountNumber: "1234567890", IFSC: "HDFC0001"}
	m := b.Masked()
	assert.Equal(t, "******7890", m.AccountNumber)
	assert.Equal(t, "1234567890", b.AccountNumber)
	assert.Equal(t, "123", BankDetails{AccountNumber: "123"}.Masked().AccountNumber)
}

func TestNormalizeUnits(t *testing.T) {
	assert.Equal(t, []string{"A1", "A2"}, NormalizeUnits([]string{" A1", "", "A2", "A1 "}))
	assert.Equal(t, []string{"1", "2", "3"}, GenerateUnits(3))
	assert.Equal(t, 2, InventoryPool{Total: 5, Held: 3}.Available())
}
