/*
Package ledger provides the core temporal banking engine.

PURPOSE:
  This package contains the domain types and algorithms for a ledger-backed
  banking service: accounts, deposits, transfers, payments with delayed
  cashback, account merging, and point-in-time balance reconstruction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Millis: A caller-supplied timestamp in milliseconds (the engine never
    reads a wall clock)
  - Account: Registry record with balance, active flag, and merge target
  - JournalEntry: An immutable ledger entry recording a money movement
  - BalanceSnapshot: A (timestamp, balance) pair appended on every mutation

DESIGN PRINCIPLES:
  1. Immutability: Journal entries and snapshots are never modified
  2. Precision: Money is int64 minor units; cashback math uses decimal.Decimal
  3. Reconstructability: Any historical balance is derived from the snapshot
     chain plus the cashback schedule, never from mutable state

USAGE:
  bank := ledger.NewBank(store)
  created, err := bank.CreateAccount(ctx, 1, "account1")
  balance, err := bank.Deposit(ctx, 3, "account1", 2000)

SEE ALSO:
  - bank.go: The Bank service implementing all public operations
  - store.go: Storage collaborator interfaces
  - cashback.go: Cashback computation (both rounding paths)
*/
package ledger

// =============================================================================
// TIME - Opaque caller-supplied milliseconds
// =============================================================================

// Millis is a point in time expressed as milliseconds in a single global
// unit supplied entirely by the caller. The engine never reads a wall clock.
type Millis int64

// CashbackDelay is the waiting period before a payment's cashback becomes
// eligible: one day in milliseconds.
const CashbackDelay Millis = 86_400_000

func (m Millis) Before(other Millis) bool        { return m < other }
func (m Millis) After(other Millis) bool         { return m > other }
func (m Millis) BeforeOrEqual(other Millis) bool { return m <= other }
func (m Millis) AfterOrEqual(other Millis) bool  { return m >= other }

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID is a caller-supplied opaque string, case-sensitive.
type AccountID string

// =============================================================================
// ACCOUNT - Registry record
// =============================================================================

// Account tracks existence, active/merged status, creation time, and the
// stored balance in minor units.
//
// INVARIANT: Balance >= 0 at all times, except transiently inside a
// transfer's two-step mutation, which is atomic to any external observer.
//
// Accounts are never physically deleted. A merged-away account is marked
// inactive and its id remains resolvable for historical queries.
type Account struct {
	ID         AccountID
	CreatedAt  Millis
	Active     bool
	MergedInto AccountID // empty unless merged away

	// Balance is the stored balance, excluding any cashback owed.
	// Read paths report Balance plus pending cashback on top.
	Balance int64
}

// =============================================================================
// JOURNAL ENTRY - Immutable money movement record
// =============================================================================

type EntryKind string

const (
	KindDeposit  EntryKind = "deposit"
	KindTransfer EntryKind = "transfer"
	KindPayment  EntryKind = "payment"
)

// JournalEntry is one leg of a money movement. Immutable once written.
//
// A transfer writes exactly one entry, for the source leg with the amount
// negated; the target's change is carried by its own snapshot. Payments
// store a negative amount plus the cashback eligibility timestamp.
type JournalEntry struct {
	ID        string // row id, assigned by the caller (uuid)
	AccountID AccountID
	Amount    int64 // signed; negative = outgoing
	At        Millis
	Kind      EntryKind

	// PaymentRef is set only for payments: "payment<N>" with N a
	// ledger-global sequence.
	PaymentRef string

	// CashbackEligibleAt is set only for payments: At + CashbackDelay.
	CashbackEligibleAt Millis
}

// Outgoing reports the absolute outgoing amount of the entry, zero for
// incoming movements.
func (e JournalEntry) Outgoing() int64 {
	if e.Amount < 0 {
		return -e.Amount
	}
	return 0
}

// =============================================================================
// BALANCE SNAPSHOT - Append-only (timestamp, balance) chain
// =============================================================================

// BalanceSnapshot records the stored balance after a mutating operation.
// Snapshots are append-only and ordered by (RecordedAt, insertion order);
// multiple snapshots may share a timestamp.
type BalanceSnapshot struct {
	ID         string // row id, assigned by the caller (uuid)
	AccountID  AccountID
	Balance    int64
	RecordedAt Millis

	// MergeMarker is the timestamp at which this account's history was
	// folded into another account, zero otherwise. It appears on the final
	// snapshot of a merged-away account's chain.
	MergeMarker Millis
}

// =============================================================================
// PAYMENT STATUS
// =============================================================================

type PaymentStatus string

const (
	PaymentInProgress       PaymentStatus = "IN_PROGRESS"
	PaymentCashbackReceived PaymentStatus = "CASHBACK_RECEIVED"
)

// =============================================================================
// SPENDER RANK - TopSpenders result row
// =============================================================================

// SpenderRank is one row of a TopSpenders result: an account and its total
// outgoing volume as of the query timestamp.
type SpenderRank struct {
	AccountID AccountID
	Outgoing  int64
}
