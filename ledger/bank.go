/*
bank.go - The Bank service: every public operation of the engine

PURPOSE:
  Orchestrates the account registry, transaction journal, snapshot chain,
  cashback computation, and merge resolution on top of a TxStore. This is
  the only entry point; all mutating operations run inside WithTx so that
  a transfer's two-account mutation or a merge's multi-row write is
  all-or-nothing to any concurrent reader.

OPERATIONS:
  CreateAccount     Register a new account with a zero opening snapshot
  Deposit           Credit an account; reports balance plus pending cashback
  Transfer          Atomic two-account movement, source-leg journal entry
  Pay               Debit with a delayed 2% cashback schedule
  GetPaymentStatus  IN_PROGRESS until the cashback waiting period elapses
  MergeAccounts     Fold one account's balance and history into another
  GetBalance        Point-in-time balance reconstruction
  TopSpenders       Accounts ranked by outgoing volume
  PendingCashback   Aggregate cashback owed as of a timestamp

FAILURE MODEL:
  Expected conditions (missing account, duplicate id, insufficient funds,
  invalid argument) surface as distinguishable bool/error results. Storage
  failures propagate to the caller unrecovered; no partial state is ever
  left visible.

SEE ALSO:
  - store.go: The storage collaborator contract
  - cashback.go: The two cashback rounding paths
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// perEntryCashbackThreshold is the journal-entry count at which a
// point-in-time query switches from aggregate-floored cashback to the
// per-entry-floored sum. Histories of nine or more entries take the
// per-entry path. The two paths can disagree by a few minor units on
// large histories; both are kept exactly as specified.
const perEntryCashbackThreshold = 9

// Bank is the ledger service. All state lives in the injected store; Bank
// itself is stateless and safe for concurrent use to the extent the store
// serializes writers.
type Bank struct {
	store TxStore
}

// NewBank creates a Bank backed by the given transactional store.
func NewBank(store TxStore) *Bank {
	return &Bank{store: store}
}

// =============================================================================
// ACCOUNT REGISTRY
// =============================================================================

// CreateAccount registers id at the given timestamp with a zero balance and
// an opening snapshot. Returns false, with no side effects, when the id is
// already taken.
func (b *Bank) CreateAccount(ctx context.Context, ts Millis, id AccountID) (bool, error) {
	created := false
	err := b.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		account := Account{ID: id, CreatedAt: ts, Active: true}
		if err := s.PutAccount(ctx, account); err != nil {
			return err
		}
		if err := s.AppendSnapshot(ctx, BalanceSnapshot{
			ID:         uuid.NewString(),
			AccountID:  id,
			Balance:    0,
			RecordedAt: ts,
		}); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// Account returns the registry row for id, or nil if it was never created.
func (b *Bank) Account(ctx context.Context, id AccountID) (*Account, error) {
	return b.store.GetAccount(ctx, id)
}

// Exists reports whether id was ever created, merged-away accounts included.
func (b *Bank) Exists(ctx context.Context, id AccountID) (bool, error) {
	account, err := b.store.GetAccount(ctx, id)
	return account != nil, err
}

// IsActive reports whether id exists and has not been merged away.
func (b *Bank) IsActive(ctx context.Context, id AccountID) (bool, error) {
	account, err := b.store.GetAccount(ctx, id)
	return account != nil && account.Active, err
}

// activeAccount loads id and fails with ErrAccountNotFound when the account
// is missing or merged away.
func activeAccount(ctx context.Context, s Store, id AccountID) (*Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.Active {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return account, nil
}

// =============================================================================
// BALANCE OPERATIONS
// =============================================================================

// Deposit credits amount to the account. The stored balance excludes
// cashback; the returned balance reports pending cashback on top, as every
// read path does.
func (b *Bank) Deposit(ctx context.Context, ts Millis, id AccountID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: deposit amount must be positive, got %d", ErrInvalidArgument, amount)
	}
	var reported int64
	err := b.store.WithTx(ctx, func(s Store) error {
		account, err := activeAccount(ctx, s, id)
		if err != nil {
			return err
		}
		account.Balance += amount
		if err := s.PutAccount(ctx, *account); err != nil {
			return err
		}
		if err := s.AppendEntry(ctx, JournalEntry{
			ID:        uuid.NewString(),
			AccountID: id,
			Amount:    amount,
			At:        ts,
			Kind:      KindDeposit,
		}); err != nil {
			return err
		}
		if err := s.AppendSnapshot(ctx, BalanceSnapshot{
			ID:         uuid.NewString(),
			AccountID:  id,
			Balance:    account.Balance,
			RecordedAt: ts,
		}); err != nil {
			return err
		}
		pending, err := pendingIn(ctx, s, id, ts)
		if err != nil {
			return err
		}
		reported = account.Balance + pending
		return nil
	})
	return reported, err
}

// Transfer atomically moves amount from source to target. Exactly one
// journal entry is written, for the source leg with the amount negated;
// each account gets its own snapshot. Returns the new source balance plus
// the source's pending cashback.
func (b *Bank) Transfer(ctx context.Context, ts Millis, source, target AccountID, amount int64) (int64, error) {
	if source == target {
		return 0, ErrSameAccount
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: transfer amount must be positive, got %d", ErrInvalidArgument, amount)
	}
	var reported int64
	err := b.store.WithTx(ctx, func(s Store) error {
		sourceAccount, err := activeAccount(ctx, s, source)
		if err != nil {
			return err
		}
		targetAccount, err := activeAccount(ctx, s, target)
		if err != nil {
			return err
		}
		if amount > sourceAccount.Balance {
			return &InsufficientFundsError{AccountID: source, Available: sourceAccount.Balance, Requested: amount}
		}

		sourceAccount.Balance -= amount
		targetAccount.Balance += amount
		if err := s.PutAccount(ctx, *sourceAccount); err != nil {
			return err
		}
		if err := s.PutAccount(ctx, *targetAccount); err != nil {
			return err
		}
		if err := s.AppendEntry(ctx, JournalEntry{
			ID:        uuid.NewString(),
			AccountID: source,
			Amount:    -amount,
			At:        ts,
			Kind:      KindTransfer,
		}); err != nil {
			return err
		}
		for _, snap := range []BalanceSnapshot{
			{ID: uuid.NewString(), AccountID: source, Balance: sourceAccount.Balance, RecordedAt: ts},
			{ID: uuid.NewString(), AccountID: target, Balance: targetAccount.Balance, RecordedAt: ts},
		} {
			if err := s.AppendSnapshot(ctx, snap); err != nil {
				return err
			}
		}
		pending, err := pendingIn(ctx, s, source, ts)
		if err != nil {
			return err
		}
		reported = sourceAccount.Balance + pending
		return nil
	})
	return reported, err
}

// Pay debits amount and schedules 2% cashback one day out. The stored
// balance is reduced by the full amount; cashback is never folded into it.
// Returns the allocated payment reference, sequenced across the whole
// ledger.
func (b *Bank) Pay(ctx context.Context, ts Millis, id AccountID, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: payment amount must be positive, got %d", ErrInvalidArgument, amount)
	}
	var ref string
	err := b.store.WithTx(ctx, func(s Store) error {
		account, err := activeAccount(ctx, s, id)
		if err != nil {
			return err
		}
		if account.Balance-amount < 0 {
			return &InsufficientFundsError{AccountID: id, Available: account.Balance, Requested: amount}
		}
		payments, err := s.CountEntriesByKind(ctx, KindPayment)
		if err != nil {
			return err
		}
		ref = fmt.Sprintf("payment%d", payments+1)

		account.Balance -= amount
		if err := s.PutAccount(ctx, *account); err != nil {
			return err
		}
		if err := s.AppendEntry(ctx, JournalEntry{
			ID:                 uuid.NewString(),
			AccountID:          id,
			Amount:             -amount,
			At:                 ts,
			Kind:               KindPayment,
			PaymentRef:         ref,
			CashbackEligibleAt: ts + CashbackDelay,
		}); err != nil {
			return err
		}
		return s.AppendSnapshot(ctx, BalanceSnapshot{
			ID:         uuid.NewString(),
			AccountID:  id,
			Balance:    account.Balance,
			RecordedAt: ts,
		})
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

// GetPaymentStatus reports whether ref's cashback waiting period has
// elapsed as of ts. After a merge the surviving account owns the merged
// account's references.
func (b *Bank) GetPaymentStatus(ctx context.Context, ts Millis, id AccountID, ref string) (PaymentStatus, error) {
	if _, err := activeAccount(ctx, b.store, id); err != nil {
		return "", err
	}
	entries, err := b.store.EntriesFor(ctx, id)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Kind == KindPayment && e.PaymentRef == ref {
			if e.CashbackEligibleAt.After(ts) {
				return PaymentInProgress, nil
			}
			return PaymentCashbackReceived, nil
		}
	}
	return "", fmt.Errorf("%w: %s on %s", ErrPaymentNotFound, ref, id)
}

// =============================================================================
// CASHBACK
// =============================================================================

// PendingCashback returns the aggregate-floored cashback owed to id across
// all payments whose waiting period has elapsed as of asOf.
func (b *Bank) PendingCashback(ctx context.Context, id AccountID, asOf Millis) (int64, error) {
	return pendingIn(ctx, b.store, id, asOf)
}

func pendingIn(ctx context.Context, s Store, id AccountID, asOf Millis) (int64, error) {
	entries, err := s.EntriesFor(ctx, id)
	if err != nil {
		return 0, err
	}
	return aggregateCashback(entries, asOf), nil
}

// =============================================================================
// MERGE RESOLVER
// =============================================================================

// MergeAccounts folds merged's balance and history into survivor. Returns
// false when the two ids are equal or either account is missing or already
// merged away; requiring both sides active also makes redirect cycles
// unconstructible.
//
// History is redirected through the store's indirection table rather than
// rewritten: snapshots stay immutable and merged's chain remains queryable
// strictly before the merge point. The final snapshot on merged's chain
// carries the merge marker that closes its identity for later queries.
func (b *Bank) MergeAccounts(ctx context.Context, ts Millis, survivor, merged AccountID) (bool, error) {
	if survivor == merged {
		return false, nil
	}
	done := false
	err := b.store.WithTx(ctx, func(s Store) error {
		survivorAccount, err := s.GetAccount(ctx, survivor)
		if err != nil {
			return err
		}
		mergedAccount, err := s.GetAccount(ctx, merged)
		if err != nil {
			return err
		}
		if survivorAccount == nil || mergedAccount == nil ||
			!survivorAccount.Active || !mergedAccount.Active {
			return nil
		}

		combined := survivorAccount.Balance + mergedAccount.Balance
		survivorAccount.Balance = combined
		mergedAccount.Active = false
		mergedAccount.MergedInto = survivor
		mergedAccount.Balance = 0

		if err := s.PutAccount(ctx, *survivorAccount); err != nil {
			return err
		}
		if err := s.PutAccount(ctx, *mergedAccount); err != nil {
			return err
		}
		if err := s.PutRedirect(ctx, merged, survivor); err != nil {
			return err
		}
		if err := s.AppendSnapshot(ctx, BalanceSnapshot{
			ID:          uuid.NewString(),
			AccountID:   merged,
			Balance:     combined,
			RecordedAt:  ts,
			MergeMarker: ts,
		}); err != nil {
			return err
		}
		if err := s.AppendSnapshot(ctx, BalanceSnapshot{
			ID:         uuid.NewString(),
			AccountID:  survivor,
			Balance:    combined,
			RecordedAt: ts,
		}); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

// =============================================================================
// POINT-IN-TIME BALANCE QUERY
// =============================================================================

// GetBalance reconstructs id's balance as of at. A nil result means the
// question has no answer: the account did not exist yet, or its identity
// was already closed by a merge. The now argument is the query time; the
// reconstruction itself is driven entirely by at.
//
// The cashback term depends on history size: at nine or more journal
// entries dated at or before at, each eligible payment's cashback is
// floored individually and the floors summed; below that, one floor is
// applied to the aggregate.
func (b *Bank) GetBalance(ctx context.Context, now Millis, id AccountID, at Millis) (*int64, error) {
	account, err := b.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil || at.Before(account.CreatedAt) {
		return nil, nil
	}

	snaps, err := b.store.SnapshotsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}

	// The identity is closed at its merge point: when the marker is the
	// latest recorded activity and falls at or before at, there is nothing
	// independently queryable.
	latest := snaps[len(snaps)-1]
	for _, snap := range snaps {
		if snap.MergeMarker != 0 && snap.MergeMarker.BeforeOrEqual(at) &&
			!latest.RecordedAt.After(snap.MergeMarker) {
			return nil, nil
		}
	}

	var base *BalanceSnapshot
	for i := range snaps {
		if snaps[i].RecordedAt.BeforeOrEqual(at) {
			base = &snaps[i]
		}
	}
	if base == nil {
		return nil, nil
	}

	entries, err := b.store.EntriesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	dated := 0
	for _, e := range entries {
		if e.At.BeforeOrEqual(at) {
			dated++
		}
	}

	var term int64
	if dated >= perEntryCashbackThreshold {
		term = perEntryCashback(entries, at)
	} else {
		term = aggregateCashback(entries, at)
	}

	balance := base.Balance + term
	return &balance, nil
}

// =============================================================================
// SPENDING RANK
// =============================================================================

// TopSpenders ranks active accounts by total outgoing volume dated at or
// before ts, descending, ties broken by account id ascending, truncated to
// n rows. Merged histories count toward the surviving account.
func (b *Bank) TopSpenders(ctx context.Context, ts Millis, n int) ([]SpenderRank, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: rank size must be positive, got %d", ErrInvalidArgument, n)
	}
	ids, err := b.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	var ranks []SpenderRank
	for _, id := range ids {
		account, err := b.store.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if account == nil || !account.Active {
			continue
		}
		entries, err := b.store.EntriesFor(ctx, id)
		if err != nil {
			return nil, err
		}
		var outgoing int64
		for _, e := range entries {
			if e.At.BeforeOrEqual(ts) {
				outgoing += e.Outgoing()
			}
		}
		ranks = append(ranks, SpenderRank{AccountID: id, Outgoing: outgoing})
	}

	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Outgoing != ranks[j].Outgoing {
			return ranks[i].Outgoing > ranks[j].Outgoing
		}
		return ranks[i].AccountID < ranks[j].AccountID
	})
	if len(ranks) > n {
		ranks = ranks[:n]
	}
	return ranks, nil
}
