package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/ledger-engine/ledger"
	"github.com/meridianpay/ledger-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(id string, account ledger.AccountID, amount int64, at ledger.Millis, kind ledger.EntryKind) ledger.JournalEntry {
	return ledger.JournalEntry{ID: id, AccountID: account, Amount: amount, At: at, Kind: kind}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestSQLite_AccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	got, err := s.GetAccount(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	account := ledger.Account{ID: "a", CreatedAt: 5, Active: true, Balance: 1234}
	require.NoError(t, s.PutAccount(ctx, account))

	got, err = s.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, account, *got)

	// Upsert flips the mutable fields in place.
	account.Active = false
	account.MergedInto = "b"
	account.Balance = 0
	require.NoError(t, s.PutAccount(ctx, account))

	got, err = s.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Active)
	assert.Equal(t, ledger.AccountID("b"), got.MergedInto)
	assert.EqualValues(t, 0, got.Balance)
}

func TestSQLite_ListAccountIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []ledger.AccountID{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.PutAccount(ctx, ledger.Account{ID: id, Active: true}))
	}

	ids, err := s.ListAccountIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.AccountID{"alpha", "bravo", "charlie"}, ids)
}

// =============================================================================
// JOURNAL
// =============================================================================

func TestSQLite_EntriesOrderedWithInsertionTieBreak(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendEntry(ctx, entry("e1", "a", 100, 5, ledger.KindDeposit)))
	require.NoError(t, s.AppendEntry(ctx, entry("e2", "a", -40, 5, ledger.KindTransfer)))
	require.NoError(t, s.AppendEntry(ctx, entry("e3", "a", 10, 2, ledger.KindDeposit)))

	entries, err := s.EntriesFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e3", entries[0].ID)
	assert.Equal(t, "e1", entries[1].ID)
	assert.Equal(t, "e2", entries[2].ID)
}

func TestSQLite_EntriesFoldRedirectsTransitively(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendEntry(ctx, entry("e1", "b", 100, 1, ledger.KindDeposit)))
	require.NoError(t, s.AppendEntry(ctx, entry("e2", "a", 200, 2, ledger.KindDeposit)))
	require.NoError(t, s.AppendEntry(ctx, entry("e3", "c", 300, 3, ledger.KindDeposit)))

	require.NoError(t, s.PutRedirect(ctx, "b", "a"))
	require.NoError(t, s.PutRedirect(ctx, "a", "c"))

	entries, err := s.EntriesFor(ctx, "c")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, "e2", entries[1].ID)
	assert.Equal(t, "e3", entries[2].ID)

	entries, err = s.EntriesFor(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = s.EntriesFor(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLite_PaymentFieldsSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	paid := ledger.JournalEntry{
		ID:                 "e1",
		AccountID:          "a",
		Amount:             -500,
		At:                 10,
		Kind:               ledger.KindPayment,
		PaymentRef:         "payment1",
		CashbackEligibleAt: 10 + ledger.CashbackDelay,
	}
	require.NoError(t, s.AppendEntry(ctx, paid))
	require.NoError(t, s.AppendEntry(ctx, entry("e2", "a", 100, 11, ledger.KindDeposit)))

	entries, err := s.EntriesFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, paid, entries[0])
	// Non-payment rows come back with the payment fields zeroed.
	assert.Empty(t, entries[1].PaymentRef)
	assert.EqualValues(t, 0, entries[1].CashbackEligibleAt)
}

func TestSQLite_CountEntriesByKind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.AppendEntry(ctx, entry("e1", "a", 100, 1, ledger.KindDeposit)))
	require.NoError(t, s.AppendEntry(ctx, ledger.JournalEntry{ID: "e2", AccountID: "b", Amount: -50, At: 2, Kind: ledger.KindPayment, PaymentRef: "payment1"}))
	require.NoError(t, s.AppendEntry(ctx, ledger.JournalEntry{ID: "e3", AccountID: "a", Amount: -50, At: 3, Kind: ledger.KindPayment, PaymentRef: "payment2"}))

	count, err := s.CountEntriesByKind(ctx, ledger.KindPayment)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.CountEntriesByKind(ctx, ledger.KindTransfer)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestSQLite_SnapshotsShareTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendSnapshot(ctx, ledger.BalanceSnapshot{ID: "s1", AccountID: "a", Balance: 10, RecordedAt: 5}))
	require.NoError(t, s.AppendSnapshot(ctx, ledger.BalanceSnapshot{ID: "s2", AccountID: "a", Balance: 20, RecordedAt: 5}))
	require.NoError(t, s.AppendSnapshot(ctx, ledger.BalanceSnapshot{ID: "s3", AccountID: "a", Balance: 5, RecordedAt: 1}))

	snaps, err := s.SnapshotsFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "s3", snaps[0].ID)
	assert.Equal(t, "s1", snaps[1].ID)
	assert.Equal(t, "s2", snaps[2].ID)
}

func TestSQLite_MergeMarkerNullHandling(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendSnapshot(ctx, ledger.BalanceSnapshot{ID: "s1", AccountID: "a", Balance: 10, RecordedAt: 1}))
	require.NoError(t, s.AppendSnapshot(ctx, ledger.BalanceSnapshot{ID: "s2", AccountID: "a", Balance: 0, RecordedAt: 5, MergeMarker: 5}))

	snaps, err := s.SnapshotsFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.EqualValues(t, 0, snaps[0].MergeMarker)
	assert.EqualValues(t, 5, snaps[1].MergeMarker)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTxRollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PutAccount(ctx, ledger.Account{ID: "a", Active: true, Balance: 100}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		account, err := tx.GetAccount(ctx, "a")
		if err != nil {
			return err
		}
		account.Balance = 0
		if err := tx.PutAccount(ctx, *account); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, entry("e1", "a", -100, 1, ledger.KindTransfer)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	account, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.EqualValues(t, 100, account.Balance)

	entries, err := s.EntriesFor(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLite_WithTxReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.PutAccount(ctx, ledger.Account{ID: "a", Active: true, Balance: 10}); err != nil {
			return err
		}
		account, err := tx.GetAccount(ctx, "a")
		if err != nil {
			return err
		}
		assert.NotNil(t, account)
		return tx.AppendSnapshot(ctx, ledger.BalanceSnapshot{ID: "s1", AccountID: "a", Balance: 10, RecordedAt: 1})
	})
	require.NoError(t, err)

	snaps, err := s.SnapshotsFor(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

// =============================================================================
// BANK OVER SQLITE - the engine behaves identically on either store
// =============================================================================

func TestSQLite_BankEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	bank := ledger.NewBank(s)

	created, err := bank.CreateAccount(ctx, 1, "a")
	require.NoError(t, err)
	require.True(t, created)
	created, err = bank.CreateAccount(ctx, 2, "b")
	require.NoError(t, err)
	require.True(t, created)

	balance, err := bank.Deposit(ctx, 3, "a", 2000)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, balance)

	balance, err = bank.Transfer(ctx, 5, "a", "b", 500)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, balance)

	ref, err := bank.Pay(ctx, 6, "b", 100)
	require.NoError(t, err)
	assert.Equal(t, "payment1", ref)

	status, err := bank.GetPaymentStatus(ctx, 7, "b", ref)
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentInProgress, status)

	merged, err := bank.MergeAccounts(ctx, 10, "a", "b")
	require.NoError(t, err)
	require.True(t, merged)

	at := ledger.Millis(6) + ledger.CashbackDelay
	got, err := bank.GetBalance(ctx, at+1, "a", at)
	require.NoError(t, err)
	require.NotNil(t, got)
	// 1500 + 400 stored, plus floor(100 * 0.02) = 2
	assert.EqualValues(t, 1902, *got)

	// Merged identity answers before the merge point, not at it.
	got, err = bank.GetBalance(ctx, at, "b", 9)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 400, *got)
	got, err = bank.GetBalance(ctx, at, "b", 10)
	require.NoError(t, err)
	assert.Nil(t, got)
}
