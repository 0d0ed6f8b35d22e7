package wantlist

import (
	"sync"

	cid "github.com/ipfs/go-cid"
)

// Ledger is a thin, thread-safe wrapper around one WantList. Per
// spec.md §3 it is used in both directions: the local ledger (what
// this node wants) and a per-peer ledger (what that peer wants from
// this node).
type Ledger struct {
	mu sync.Mutex
	wl *WantList
}

// NewLedger wraps a fresh WantList.
func NewLedger() *Ledger {
	return &Ledger{wl: New()}
}

// Wants records a want for c at the given priority/type, refusing
// downgrades exactly as WantList.Add does.
func (l *Ledger) Wants(c cid.Cid, priority int, wantType WantType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wl.Add(c, priority, wantType)
}

// CancelWant removes c unconditionally.
func (l *Ledger) CancelWant(c cid.Cid) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wl.Remove(c)
}

// CancelWantType removes c unless it would be a downgrade.
func (l *Ledger) CancelWantType(c cid.Cid, wantType WantType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wl.RemoveType(c, wantType)
}

// GetEntry returns the entry for c, if present.
func (l *Ledger) GetEntry(c cid.Cid) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wl.Get(c)
}

// Contains reports cid-in-ledger membership.
func (l *Ledger) Contains(c cid.Cid) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wl.Contains(c)
}

// Entries returns a snapshot of all entries currently on the ledger.
func (l *Ledger) Entries() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wl.Entries()
}

// Len returns the number of entries on the ledger.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wl.Len()
}
