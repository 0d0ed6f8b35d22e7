// Package wantlist holds the WantList/Entry data model shared by the
// local client (what this node wants) and per-peer ledgers (what a
// peer wants from this node). See spec.md §3-4.1.
package wantlist

import (
	"sync"

	cid "github.com/ipfs/go-cid"
)

// WantType distinguishes a full-block want from a presence probe.
type WantType int

const (
	// WantBlock asks the remote to send the block itself.
	WantBlock WantType = iota
	// WantHave asks the remote only to confirm it holds the block.
	WantHave
)

func (t WantType) String() string {
	if t == WantHave {
		return "Have"
	}
	return "Block"
}

// SessionRef is the minimal view an Entry needs of a Session: enough
// to notify it without keeping it alive. Concrete Sessions satisfy
// this trivially; it exists so wantlist does not import session.
type SessionRef interface {
	// ID identifies the session for set membership/dedup purposes.
	ID() uint64
}

// Entry is one outstanding want. Block, once set, never reverts to
// unset and want_type never regresses from Block to Have.
type Entry struct {
	cid      cid.Cid
	priority int
	wantType WantType

	mu         sync.Mutex
	block      []byte
	blockEvent chan struct{} // closed exactly once, when block is set

	sessMu   sync.Mutex
	sessions map[uint64]SessionRef
}

func newEntry(c cid.Cid, priority int, wantType WantType) *Entry {
	return &Entry{
		cid:        c,
		priority:   priority,
		wantType:   wantType,
		blockEvent: make(chan struct{}),
		sessions:   make(map[uint64]SessionRef),
	}
}

// Cid returns the entry's (immutable) CID.
func (e *Entry) Cid() cid.Cid { return e.cid }

// Priority returns the entry's current priority.
func (e *Entry) Priority() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.priority
}

// SetPriority raises the entry's priority. Per spec.md §4.7, re-requesting
// at a higher level only ever raises priority monotonically; callers
// are expected to only call this with a larger value.
func (e *Entry) SetPriority(p int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p > e.priority {
		e.priority = p
	}
}

// WantType returns the entry's current want type.
func (e *Entry) WantType() WantType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wantType
}

// UpgradeToBlock promotes a Have entry to a Block want, raising
// priority if the caller asks for a higher one. Have -> Block is
// always permitted (§3 invariant); Block -> Have never happens here.
func (e *Entry) UpgradeToBlock(priority int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wantType = WantBlock
	if priority > e.priority {
		e.priority = priority
	}
}

// Block returns the materialized block data, or nil if not yet
// received.
func (e *Entry) Block() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.block
}

// SetBlock stores the block data if not already set, and raises
// BlockEvent. Returns false if a block was already present (the
// transition is monotone: at most one write wins).
func (e *Entry) SetBlock(data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.block != nil {
		return false
	}
	e.block = data
	close(e.blockEvent)
	return true
}

// BlockEvent returns a channel that is closed exactly once, the first
// time SetBlock succeeds. Many goroutines may receive from it.
func (e *Entry) BlockEvent() <-chan struct{} {
	return e.blockEvent
}

// AddSession records that a session is awaiting this CID. Sessions
// are referenced by ID only; a session that is garbage collected (or
// simply drops its interest) never gets a corresponding RemoveSession
// call in this model, so callers resolve the weak set by consulting
// a SessionManager elsewhere instead of iterating stale pointers here
// directly. See internal/session for the resolution side of this.
func (e *Entry) AddSession(s SessionRef) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	e.sessions[s.ID()] = s
}

// RemoveSession drops a session's interest in this entry.
func (e *Entry) RemoveSession(id uint64) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	delete(e.sessions, id)
}

// Sessions returns a snapshot of the sessions currently waiting on
// this entry.
func (e *Entry) Sessions() []SessionRef {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	out := make([]SessionRef, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// WantList is a CID-keyed set of outstanding Entries. It is not
// itself safe for concurrent use; Ledger wraps it with a mutex.
type WantList struct {
	set map[string]*Entry
}

// New returns an empty WantList.
func New() *WantList {
	return &WantList{set: make(map[string]*Entry)}
}

// Add inserts or refreshes an entry for c. Returns true if the
// wantlist changed. Refuses downgrades: an existing Block entry is
// never replaced by an incoming Have, per spec.md §4.1.
func (w *WantList) Add(c cid.Cid, priority int, wantType WantType) bool {
	if e, ok := w.set[c.KeyString()]; ok {
		if e.WantType() == WantBlock || wantType == WantHave {
			return false
		}
		e.mu.Lock()
		e.priority = priority
		e.wantType = wantType
		e.mu.Unlock()
		return true
	}
	w.set[c.KeyString()] = newEntry(c, priority, wantType)
	return true
}

// Remove drops the entry for c unconditionally.
func (w *WantList) Remove(c cid.Cid) bool {
	k := c.KeyString()
	if _, ok := w.set[k]; !ok {
		return false
	}
	delete(w.set, k)
	return true
}

// RemoveType drops the entry for c unless doing so would be a
// downgrade (existing Block, incoming Have), per spec.md §4.1.
func (w *WantList) RemoveType(c cid.Cid, wantType WantType) bool {
	k := c.KeyString()
	e, ok := w.set[k]
	if !ok {
		return false
	}
	if e.WantType() == WantBlock && wantType == WantHave {
		return false
	}
	delete(w.set, k)
	return true
}

// Get returns the entry for c, if any.
func (w *WantList) Get(c cid.Cid) (*Entry, bool) {
	e, ok := w.set[c.KeyString()]
	return e, ok
}

// Contains reports whether c has an outstanding entry.
func (w *WantList) Contains(c cid.Cid) bool {
	_, ok := w.set[c.KeyString()]
	return ok
}

// Entries returns a snapshot of all entries. Order is unspecified.
func (w *WantList) Entries() []*Entry {
	out := make([]*Entry, 0, len(w.set))
	for _, e := range w.set {
		out = append(out, e)
	}
	return out
}

// Len returns the number of outstanding entries.
func (w *WantList) Len() int { return len(w.set) }
