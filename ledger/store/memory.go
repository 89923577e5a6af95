// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/meridianpay/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	accounts  map[ledger.AccountID]ledger.Account
	entries   map[ledger.AccountID][]entryRow
	snapshots map[ledger.AccountID][]ledger.BalanceSnapshot
	redirects map[ledger.AccountID]ledger.AccountID // merged id -> survivor
	seq       int64
}

// entryRow pairs an entry with its global insertion sequence so that reads
// spanning merged accounts interleave deterministically.
type entryRow struct {
	entry ledger.JournalEntry
	seq   int64
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[ledger.AccountID]ledger.Account),
		entries:   make(map[ledger.AccountID][]entryRow),
		snapshots: make(map[ledger.AccountID][]ledger.BalanceSnapshot),
		redirects: make(map[ledger.AccountID]ledger.AccountID),
	}
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id), nil
}

func (m *Memory) getAccountLocked(id ledger.AccountID) *ledger.Account {
	account, ok := m.accounts[id]
	if !ok {
		return nil
	}
	copied := account
	return &copied
}

func (m *Memory) PutAccount(_ context.Context, account ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
	return nil
}

func (m *Memory) ListAccountIDs(_ context.Context) ([]ledger.AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountIDsLocked(), nil
}

func (m *Memory) listAccountIDsLocked() []ledger.AccountID {
	ids := make([]ledger.AccountID, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AppendEntry adds a single journal entry. Append-only.
func (m *Memory) AppendEntry(_ context.Context, entry ledger.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEntryLocked(entry)
	return nil
}

func (m *Memory) appendEntryLocked(entry ledger.JournalEntry) {
	m.seq++
	m.entries[entry.AccountID] = append(m.entries[entry.AccountID], entryRow{entry: entry, seq: m.seq})
}

func (m *Memory) EntriesFor(_ context.Context, id ledger.AccountID) ([]ledger.JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesForLocked(id), nil
}

func (m *Memory) entriesForLocked(id ledger.AccountID) []ledger.JournalEntry {
	var rows []entryRow
	for _, owner := range m.foldedLocked(id) {
		rows = append(rows, m.entries[owner]...)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].entry.At != rows[j].entry.At {
			return rows[i].entry.At.Before(rows[j].entry.At)
		}
		return rows[i].seq < rows[j].seq
	})
	result := make([]ledger.JournalEntry, len(rows))
	for i, r := range rows {
		result[i] = r.entry
	}
	return result
}

// foldedLocked returns id plus every account whose redirect chain resolves
// to id. The redirect table is a forest, so a breadth-first walk over the
// reverse edges terminates.
func (m *Memory) foldedLocked(id ledger.AccountID) []ledger.AccountID {
	reverse := make(map[ledger.AccountID][]ledger.AccountID, len(m.redirects))
	for from, to := range m.redirects {
		reverse[to] = append(reverse[to], from)
	}
	folded := []ledger.AccountID{id}
	for i := 0; i < len(folded); i++ {
		folded = append(folded, reverse[folded[i]]...)
	}
	return folded
}

func (m *Memory) CountEntriesByKind(_ context.Context, kind ledger.EntryKind) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countEntriesByKindLocked(kind), nil
}

func (m *Memory) countEntriesByKindLocked(kind ledger.EntryKind) int {
	count := 0
	for _, rows := range m.entries {
		for _, r := range rows {
			if r.entry.Kind == kind {
				count++
			}
		}
	}
	return count
}

// AppendSnapshot adds a single balance snapshot. Append-only; slice order
// is the insertion-order tie-break for snapshots sharing a timestamp.
func (m *Memory) AppendSnapshot(_ context.Context, snap ledger.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendSnapshotLocked(snap)
	return nil
}

func (m *Memory) appendSnapshotLocked(snap ledger.BalanceSnapshot) {
	chain := m.snapshots[snap.AccountID]
	i := sort.Search(len(chain), func(i int) bool {
		return chain[i].RecordedAt.After(snap.RecordedAt)
	})
	chain = append(chain, ledger.BalanceSnapshot{})
	copy(chain[i+1:], chain[i:])
	chain[i] = snap
	m.snapshots[snap.AccountID] = chain
}

func (m *Memory) SnapshotsFor(_ context.Context, id ledger.AccountID) ([]ledger.BalanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotsForLocked(id), nil
}

func (m *Memory) snapshotsForLocked(id ledger.AccountID) []ledger.BalanceSnapshot {
	result := make([]ledger.BalanceSnapshot, len(m.snapshots[id]))
	copy(result, m.snapshots[id])
	return result
}

func (m *Memory) PutRedirect(_ context.Context, from, to ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirects[from] = to
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	saved := tm.snapshotState()
	view := &txMemoryView{parent: tm}
	if err := fn(view); err != nil {
		tm.restore(saved)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshotState() memoryState {
	accounts := make(map[ledger.AccountID]ledger.Account, len(tm.accounts))
	for k, v := range tm.accounts {
		accounts[k] = v
	}
	entries := make(map[ledger.AccountID][]entryRow, len(tm.entries))
	for k, v := range tm.entries {
		entries[k] = append([]entryRow{}, v...)
	}
	snapshots := make(map[ledger.AccountID][]ledger.BalanceSnapshot, len(tm.snapshots))
	for k, v := range tm.snapshots {
		snapshots[k] = append([]ledger.BalanceSnapshot{}, v...)
	}
	redirects := make(map[ledger.AccountID]ledger.AccountID, len(tm.redirects))
	for k, v := range tm.redirects {
		redirects[k] = v
	}
	return memoryState{accounts: accounts, entries: entries, snapshots: snapshots, redirects: redirects, seq: tm.seq}
}

func (tm *TxMemory) restore(s memoryState) {
	tm.accounts = s.accounts
	tm.entries = s.entries
	tm.snapshots = s.snapshots
	tm.redirects = s.redirects
	tm.seq = s.seq
}

type memoryState struct {
	accounts  map[ledger.AccountID]ledger.Account
	entries   map[ledger.AccountID][]entryRow
	snapshots map[ledger.AccountID][]ledger.BalanceSnapshot
	redirects map[ledger.AccountID]ledger.AccountID
	seq       int64
}

// txMemoryView routes reads and writes at the already-locked parent.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return tv.parent.getAccountLocked(id), nil
}

func (tv *txMemoryView) PutAccount(_ context.Context, account ledger.Account) error {
	tv.parent.accounts[account.ID] = account
	return nil
}

func (tv *txMemoryView) ListAccountIDs(_ context.Context) ([]ledger.AccountID, error) {
	return tv.parent.listAccountIDsLocked(), nil
}

func (tv *txMemoryView) AppendEntry(_ context.Context, entry ledger.JournalEntry) error {
	tv.parent.appendEntryLocked(entry)
	return nil
}

func (tv *txMemoryView) EntriesFor(_ context.Context, id ledger.AccountID) ([]ledger.JournalEntry, error) {
	return tv.parent.entriesForLocked(id), nil
}

func (tv *txMemoryView) CountEntriesByKind(_ context.Context, kind ledger.EntryKind) (int, error) {
	return tv.parent.countEntriesByKindLocked(kind), nil
}

func (tv *txMemoryView) AppendSnapshot(_ context.Context, snap ledger.BalanceSnapshot) error {
	tv.parent.appendSnapshotLocked(snap)
	return nil
}

func (tv *txMemoryView) SnapshotsFor(_ context.Context, id ledger.AccountID) ([]ledger.BalanceSnapshot, error) {
	return tv.parent.snapshotsForLocked(id), nil
}

func (tv *txMemoryView) PutRedirect(_ context.Context, from, to ledger.AccountID) error {
	tv.parent.redirects[from] = to
	return nil
}
