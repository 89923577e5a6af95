/*
Package sqlite provides a SQLite-backed implementation of the storage
collaborator.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on journal_entries or balance_snapshots
  - Account rows are the single mutable entity, written via upsert
  - Merge history redirection lives in its own table; historical rows are
    never rewritten

KEY TABLES:
  accounts:          Registry rows (balance, active flag, merge target)
  journal_entries:   Immutable ledger of all money movements
  balance_snapshots: Per-account (timestamp, balance) chains
  merge_redirects:   Indirection table (merged id -> surviving id)

QUERIES:
  All statements are parameterized; caller-supplied ids and amounts are
  never interpolated into query text. EntriesFor resolves the redirect
  forest with a recursive CTE over merge_redirects.

ROW ORDER:
  journal_entries and balance_snapshots carry an AUTOINCREMENT seq column.
  Scans order by (timestamp, seq) so rows sharing a timestamp come back in
  insertion order, oldest first.

CONCURRENCY:
  A sync.RWMutex serializes writers per store instance; reads run
  concurrently. SQLite is opened in WAL mode so readers don't block.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  bank := ledger.NewBank(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/meridianpay/ledger-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Account registry (the single mutable entity)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		active INTEGER NOT NULL,
		merged_into TEXT,
		balance INTEGER NOT NULL
	);

	-- Journal (append-only ledger of money movements)
	CREATE TABLE IF NOT EXISTS journal_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payment_ref TEXT,
		cashback_eligible_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account_at
		ON journal_entries(account_id, at);
	CREATE INDEX IF NOT EXISTS idx_entries_kind
		ON journal_entries(kind);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_payment_ref
		ON journal_entries(payment_ref) WHERE payment_ref IS NOT NULL;

	-- Snapshot chains (append-only)
	CREATE TABLE IF NOT EXISTS balance_snapshots (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		balance INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		merge_marker INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_account_recorded
		ON balance_snapshots(account_id, recorded_at);

	-- Merge indirection table (forest: one outgoing edge per merged id)
	CREATE TABLE IF NOT EXISTS merge_redirects (
		from_id TEXT PRIMARY KEY,
		to_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redirects_to
		ON merge_redirects(to_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same helpers serve
// plain calls and calls inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS (ledger.Store interface)
// =============================================================================

// GetAccount returns the account row, or nil when the id was never created.
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, db dbtx, id ledger.AccountID) (*ledger.Account, error) {
	var (
		account    ledger.Account
		active     int
		mergedInto sql.NullString
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, created_at, active, merged_into, balance FROM accounts WHERE id = ?",
		string(id),
	).Scan(&account.ID, &account.CreatedAt, &active, &mergedInto, &account.Balance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	account.Active = active != 0
	account.MergedInto = ledger.AccountID(mergedInto.String)
	return &account, nil
}

// PutAccount atomically upserts an account row.
func (s *Store) PutAccount(ctx context.Context, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putAccount(ctx, s.db, account)
}

func putAccount(ctx context.Context, db dbtx, account ledger.Account) error {
	query := `
		INSERT INTO accounts (id, created_at, active, merged_into, balance)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active = excluded.active,
			merged_into = excluded.merged_into,
			balance = excluded.balance
	`
	_, err := db.ExecContext(ctx, query,
		string(account.ID),
		int64(account.CreatedAt),
		boolToInt(account.Active),
		nullString(string(account.MergedInto)),
		account.Balance,
	)
	if err != nil {
		return fmt.Errorf("failed to put account: %w", err)
	}
	return nil
}

// ListAccountIDs returns every known account id, ascending.
func (s *Store) ListAccountIDs(ctx context.Context) ([]ledger.AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccountIDs(ctx, s.db)
}

func listAccountIDs(ctx context.Context, db dbtx) ([]ledger.AccountID, error) {
	rows, err := db.QueryContext(ctx, "SELECT id FROM accounts ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var ids []ledger.AccountID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, ledger.AccountID(id))
	}
	return ids, rows.Err()
}

// =============================================================================
// JOURNAL
// =============================================================================

// AppendEntry persists one immutable journal entry.
func (s *Store) AppendEntry(ctx context.Context, entry ledger.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, entry)
}

func appendEntry(ctx context.Context, db dbtx, entry ledger.JournalEntry) error {
	query := `
		INSERT INTO journal_entries
		(id, account_id, amount, at, kind, payment_ref, cashback_eligible_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var eligible any
	if entry.Kind == ledger.KindPayment {
		eligible = int64(entry.CashbackEligibleAt)
	}
	_, err := db.ExecContext(ctx, query,
		entry.ID,
		string(entry.AccountID),
		entry.Amount,
		int64(entry.At),
		string(entry.Kind),
		nullString(entry.PaymentRef),
		eligible,
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// EntriesFor returns the entries attributed to id, folding in every account
// whose redirect chain resolves to id.
func (s *Store) EntriesFor(ctx context.Context, id ledger.AccountID) ([]ledger.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesFor(ctx, s.db, id)
}

func entriesFor(ctx context.Context, db dbtx, id ledger.AccountID) ([]ledger.JournalEntry, error) {
	query := `
		WITH RECURSIVE folded(id) AS (
			SELECT ?
			UNION
			SELECT r.from_id FROM merge_redirects r JOIN folded f ON r.to_id = f.id
		)
		SELECT e.id, e.account_id, e.amount, e.at, e.kind, e.payment_ref, e.cashback_eligible_at
		FROM journal_entries e JOIN folded f ON e.account_id = f.id
		ORDER BY e.at ASC, e.seq ASC
	`
	rows, err := db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.JournalEntry
	for rows.Next() {
		var (
			entry      ledger.JournalEntry
			paymentRef sql.NullString
			eligible   sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.At,
			&entry.Kind, &paymentRef, &eligible); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.PaymentRef = paymentRef.String
		entry.CashbackEligibleAt = ledger.Millis(eligible.Int64)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountEntriesByKind returns the ledger-wide number of entries of a kind.
func (s *Store) CountEntriesByKind(ctx context.Context, kind ledger.EntryKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countEntriesByKind(ctx, s.db, kind)
}

func countEntriesByKind(ctx context.Context, db dbtx, kind ledger.EntryKind) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM journal_entries WHERE kind = ?",
		string(kind),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return count, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// AppendSnapshot persists one immutable balance snapshot.
func (s *Store) AppendSnapshot(ctx context.Context, snap ledger.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendSnapshot(ctx, s.db, snap)
}

func appendSnapshot(ctx context.Context, db dbtx, snap ledger.BalanceSnapshot) error {
	query := `
		INSERT INTO balance_snapshots
		(id, account_id, balance, recorded_at, merge_marker)
		VALUES (?, ?, ?, ?, ?)
	`
	var marker any
	if snap.MergeMarker != 0 {
		marker = int64(snap.MergeMarker)
	}
	_, err := db.ExecContext(ctx, query,
		snap.ID,
		string(snap.AccountID),
		snap.Balance,
		int64(snap.RecordedAt),
		marker,
	)
	if err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// SnapshotsFor returns id's snapshot chain ordered by (recorded_at, seq).
func (s *Store) SnapshotsFor(ctx context.Context, id ledger.AccountID) ([]ledger.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotsFor(ctx, s.db, id)
}

func snapshotsFor(ctx context.Context, db dbtx, id ledger.AccountID) ([]ledger.BalanceSnapshot, error) {
	query := `
		SELECT id, account_id, balance, recorded_at, merge_marker
		FROM balance_snapshots
		WHERE account_id = ?
		ORDER BY recorded_at ASC, seq ASC
	`
	rows, err := db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []ledger.BalanceSnapshot
	for rows.Next() {
		var (
			snap   ledger.BalanceSnapshot
			marker sql.NullInt64
		)
		if err := rows.Scan(&snap.ID, &snap.AccountID, &snap.Balance, &snap.RecordedAt, &marker); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.MergeMarker = ledger.Millis(marker.Int64)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// =============================================================================
// MERGE REDIRECTS
// =============================================================================

// PutRedirect records the merged -> survivor edge.
func (s *Store) PutRedirect(ctx context.Context, from, to ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putRedirect(ctx, s.db, from, to)
}

func putRedirect(ctx context.Context, db dbtx, from, to ledger.AccountID) error {
	query := `
		INSERT INTO merge_redirects (from_id, to_id)
		VALUES (?, ?)
		ON CONFLICT(from_id) DO UPDATE SET to_id = excluded.to_id
	`
	_, err := db.ExecContext(ctx, query, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to put redirect: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Reads inside
// the transaction observe its uncommitted writes.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) PutAccount(ctx context.Context, account ledger.Account) error {
	return putAccount(ctx, ts.tx, account)
}

func (ts *txStore) ListAccountIDs(ctx context.Context) ([]ledger.AccountID, error) {
	return listAccountIDs(ctx, ts.tx)
}

func (ts *txStore) AppendEntry(ctx context.Context, entry ledger.JournalEntry) error {
	return appendEntry(ctx, ts.tx, entry)
}

func (ts *txStore) EntriesFor(ctx context.Context, id ledger.AccountID) ([]ledger.JournalEntry, error) {
	return entriesFor(ctx, ts.tx, id)
}

func (ts *txStore) CountEntriesByKind(ctx context.Context, kind ledger.EntryKind) (int, error) {
	return countEntriesByKind(ctx, ts.tx, kind)
}

func (ts *txStore) AppendSnapshot(ctx context.Context, snap ledger.BalanceSnapshot) error {
	return appendSnapshot(ctx, ts.tx, snap)
}

func (ts *txStore) SnapshotsFor(ctx context.Context, id ledger.AccountID) ([]ledger.BalanceSnapshot, error) {
	return snapshotsFor(ctx, ts.tx, id)
}

func (ts *txStore) PutRedirect(ctx context.Context, from, to ledger.AccountID) error {
	return putRedirect(ctx, ts.tx, from, to)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
