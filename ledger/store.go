/*
store.go - Storage collaborator interfaces

PURPOSE:
  Defines the boundary between the banking engine and its durable store.
  The engine consumes point-lookup, ordered-scan, and atomic-write
  primitives; it does not care how the collaborator stores bytes.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Account registry rows, journal entries, snapshot chains, and the
           merge redirect table
  TxStore: Store plus WithTx for all-or-nothing multi-row mutations

APPEND-ONLY CONTRACT:
  Journal entries and snapshots are append-only:
  - AppendEntry() / AppendSnapshot() are the only writes
  - NO update or delete methods exist for either
  Account rows are the single mutable entity (balance, active, merge target)
  and are updated via atomic upsert.

MERGE REDIRECTION:
  Merging accounts never rewrites history rows. Instead the store keeps an
  indirection table (merged id -> surviving id) and EntriesFor resolves it
  at read time: entries for an account include the entries of every account
  whose redirect chain terminates at it.

ATOMICITY:
  WithTx() ensures all-or-nothing semantics. A transfer's two-account
  mutation (two upserts, one entry, two snapshots) either fully commits or
  fully aborts; no partial state is ever externally visible.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite store
  - ledger/store/memory.go: In-memory store for testing

SEE ALSO:
  - bank.go: The only consumer of these interfaces
*/
package ledger

import "context"

// =============================================================================
// STORE - Storage collaborator primitives
// =============================================================================

// Store is the narrow query interface the engine depends on. All scans
// return rows ordered by the entity's natural timestamp field ascending,
// with insertion order as the tie-break (oldest first).
type Store interface {
	// GetAccount returns the account row, or nil if the id was never created.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// PutAccount atomically upserts an account row.
	PutAccount(ctx context.Context, account Account) error

	// ListAccountIDs returns every known account id, ascending.
	ListAccountIDs(ctx context.Context) ([]AccountID, error)

	// AppendEntry persists one immutable journal entry.
	AppendEntry(ctx context.Context, entry JournalEntry) error

	// EntriesFor returns the journal entries attributed to id: its own
	// entries plus those of every account merged (transitively) into it,
	// ordered by (At, insertion order).
	EntriesFor(ctx context.Context, id AccountID) ([]JournalEntry, error)

	// CountEntriesByKind returns the ledger-wide number of entries of the
	// given kind. Backs sequential payment reference numbering.
	CountEntriesByKind(ctx context.Context, kind EntryKind) (int, error)

	// AppendSnapshot persists one immutable balance snapshot.
	AppendSnapshot(ctx context.Context, snap BalanceSnapshot) error

	// SnapshotsFor returns the snapshot chain physically recorded against
	// id, ordered by (RecordedAt, insertion order). Unlike EntriesFor, no
	// merge redirection applies: a chain belongs to exactly one identity.
	SnapshotsFor(ctx context.Context, id AccountID) ([]BalanceSnapshot, error)

	// PutRedirect records that from's history is attributed to to from now
	// on. The redirect table forms a forest; the engine guarantees no
	// cycle-forming request reaches the store.
	PutRedirect(ctx context.Context, from, to AccountID) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic multi-row mutations
// =============================================================================

// TxStore wraps Store with transaction support. Every mutating engine
// operation runs inside WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
