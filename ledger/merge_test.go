package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/ledger-engine/ledger"
)

// =============================================================================
// MERGE VALIDATION
// =============================================================================

func TestMerge_Rejections(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	mustCreate(t, bank, 1, "a")
	mustCreate(t, bank, 1, "b")
	mustCreate(t, bank, 1, "c")

	merged, err := bank.MergeAccounts(ctx, 2, "a", "a")
	require.NoError(t, err)
	assert.False(t, merged)

	merged, err = bank.MergeAccounts(ctx, 2, "a", "ghost")
	require.NoError(t, err)
	assert.False(t, merged)

	merged, err = bank.MergeAccounts(ctx, 2, "ghost", "a")
	require.NoError(t, err)
	assert.False(t, merged)

	// A merged-away account can be neither side of a later merge, which
	// also rules out redirect cycles.
	merged, err = bank.MergeAccounts(ctx, 3, "a", "b")
	require.NoError(t, err)
	assert.True(t, merged)

	merged, err = bank.MergeAccounts(ctx, 4, "b", "a")
	require.NoError(t, err)
	assert.False(t, merged)

	merged, err = bank.MergeAccounts(ctx, 4, "c", "b")
	require.NoError(t, err)
	assert.False(t, merged)
}

// =============================================================================
// MERGE EFFECTS
// =============================================================================

func TestMerge_ConservesValue(t *testing.T) {
	// GIVEN: two funded accounts
	// WHEN: merging the second into the first
	// THEN: the survivor holds the sum and the merged account is inactive

	ctx := context.Background()
	bank := newTestBank()
	mustCreate(t, bank, 1, "a")
	mustCreate(t, bank, 2, "b")
	_, err := bank.Deposit(ctx, 3, "a", 2000)
	require.NoError(t, err)
	_, err = bank.Deposit(ctx, 4, "b", 1000)
	require.NoError(t, err)

	merged, err := bank.MergeAccounts(ctx, 5, "a", "b")
	require.NoError(t, err)
	require.True(t, merged)

	got := balanceAt(t, bank, 6, "a", 5)
	require.NotNil(t, got)
	assert.EqualValues(t, 3000, *got)

	active, err := bank.IsActive(ctx, "b")
	require.NoError(t, err)
	assert.False(t, active)

	account, err := bank.Account(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, ledger.AccountID("a"), account.MergedInto)

	// The merged-away id is gone for mutations.
	_, err = bank.Deposit(ctx, 6, "b", 100)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestMerge_SurvivorOwnsPaymentReferences(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	mustCreate(t, bank, 1, "a")
	mustCreate(t, bank, 1, "b")
	_, err := bank.Deposit(ctx, 2, "b", 1000)
	require.NoError(t, err)
	ref, err := bank.Pay(ctx, 3, "b", 100)
	require.NoError(t, err)
	require.Equal(t, "payment1", ref)

	merged, err := bank.MergeAccounts(ctx, 4, "a", "b")
	require.NoError(t, err)
	require.True(t, merged)

	status, err := bank.GetPaymentStatus(ctx, 5, "a", "payment1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentInProgress, status)

	status, err = bank.GetPaymentStatus(ctx, 3+ledger.CashbackDelay, "a", "payment1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentCashbackReceived, status)

	// The merged-away account no longer answers.
	_, err = bank.GetPaymentStatus(ctx, 5, "b", "payment1")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestMerge_RedirectedCashbackAccruesToSurvivor(t *testing.T) {
	// A payment made on the merged account before the merge pays its
	// cashback to the survivor once eligible.

	ctx := context.Background()
	bank := newTestBank()
	mustCreate(t, bank, 1, "a")
	mustCreate(t, bank, 1, "b")
	_, err := bank.Deposit(ctx, 2, "b", 1000)
	require.NoError(t, err)
	_, err = bank.Pay(ctx, 3, "b", 500)
	require.NoError(t, err)

	merged, err := bank.MergeAccounts(ctx, 4, "a", "b")
	require.NoError(t, err)
	require.True(t, merged)

	at := ledger.Millis(3) + ledger.CashbackDelay
	got := balanceAt(t, bank, at+1, "a", at)
	require.NotNil(t, got)
	// combined stored balance 500, plus floor(500 * 0.02) = 10
	assert.EqualValues(t, 510, *got)

	pending, err := bank.PendingCashback(ctx, "a", at)
	require.NoError(t, err)
	assert.EqualValues(t, 10, pending)
}

// =============================================================================
// MERGED-AWAY IDENTITY: QUERYABLE STRICTLY BEFORE THE MERGE POINT
// =============================================================================

func TestMerge_HistoryQueryableBeforeMergePoint(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	mustCreate(t, bank, 1, "a")
	mustCreate(t, bank, 2, "b")
	_, err := bank.Deposit(ctx, 3, "b", 1000)
	require.NoError(t, err)

	merged, err := bank.MergeAccounts(ctx, 10, "a", "b")
	require.NoError(t, err)
	require.True(t, merged)

	// Pre-merge history stays answerable.
	got := balanceAt(t, bank, 20, "b", 2)
	require.NotNil(t, got)
	assert.EqualValues(t, 0, *got)

	got = balanceAt(t, bank, 20, "b", 9)
	require.NotNil(t, got)
	assert.EqualValues(t, 1000, *got)

	// At and after the merge point the identity is closed.
	assert.Nil(t, balanceAt(t, bank, 20, "b", 10))
	assert.Nil(t, balanceAt(t, bank, 20, "b", 11))

	// The survivor answers at and after the merge point.
	got = balanceAt(t, bank, 20, "a", 10)
	require.NotNil(t, got)
	assert.EqualValues(t, 1000, *got)
}

func TestMerge_SurvivorReconstructsAcrossMergePoint(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	mustCreate(t, bank, 1, "a")
	mustCreate(t, bank, 1, "b")
	_, err := bank.Deposit(ctx, 2, "a", 300)
	require.NoError(t, err)
	_, err = bank.Deposit(ctx, 3, "b", 700)
	require.NoError(t, err)

	merged, err := bank.MergeAccounts(ctx, 5, "a", "b")
	require.NoError(t, err)
	require.True(t, merged)

	_, err = bank.Deposit(ctx, 6, "a", 50)
	require.NoError(t, err)

	// Before the merge the survivor's own chain answers.
	got := balanceAt(t, bank, 10, "a", 4)
	require.NotNil(t, got)
	assert.EqualValues(t, 300, *got)

	// From the merge point on, the combined balance.
	got = balanceAt(t, bank, 10, "a", 5)
	require.NotNil(t, got)
	assert.EqualValues(t, 1000, *got)

	got = balanceAt(t, bank, 10, "a", 6)
	require.NotNil(t, got)
	assert.EqualValues(t, 1050, *got)
}

func TestMerge_ChainedMergesFoldTransitively(t *testing.T) {
	// b merges into a, then a merges into c: c inherits both histories.

	ctx := context.Background()
	bank := newTestBank()
	mustCreate(t, bank, 1, "a")
	mustCreate(t, bank, 1, "b")
	mustCreate(t, bank, 1, "c")
	_, err := bank.Deposit(ctx, 2, "b", 1000)
	require.NoError(t, err)
	ref, err := bank.Pay(ctx, 3, "b", 200)
	require.NoError(t, err)

	merged, err := bank.MergeAccounts(ctx, 4, "a", "b")
	require.NoError(t, err)
	require.True(t, merged)
	merged, err = bank.MergeAccounts(ctx, 5, "c", "a")
	require.NoError(t, err)
	require.True(t, merged)

	status, err := bank.GetPaymentStatus(ctx, 6, "c", ref)
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentInProgress, status)

	at := ledger.Millis(3) + ledger.CashbackDelay
	pending, err := bank.PendingCashback(ctx, "c", at)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pending)
}
