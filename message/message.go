// Package message is the in-memory BitswapMessage (spec.md §3, §6):
// wantlist entries, block payloads, and block-presence hints, plus
// the wire codec that turns one into bytes and back.
package message

import (
	cid "github.com/ipfs/go-cid"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

// PresenceType announces or disavows knowledge of a block.
type PresenceType int

const (
	Have PresenceType = iota
	DontHave
)

// Entry is the wire-level view of a wantlist entry: a WantList.Entry
// plus the cancel and send-dont-have bits that only make sense on the
// wire (spec.md §3's MessageEntry).
type Entry struct {
	Cid          cid.Cid
	Priority     int
	Cancel       bool
	WantType     wantlist.WantType
	SendDontHave bool
}

// BitswapMessage is the unit exchanged between peers.
type BitswapMessage struct {
	full      bool
	wantlist  map[string]*Entry
	payload   map[string]*blocks.Block
	presences map[string]PresenceType
}

// New returns an empty, non-full message.
func New() *BitswapMessage {
	return &BitswapMessage{
		wantlist:  make(map[string]*Entry),
		payload:   make(map[string]*blocks.Block),
		presences: make(map[string]PresenceType),
	}
}

// Full reports whether this message carries the sender's entire
// wantlist (as opposed to a delta).
func (m *BitswapMessage) Full() bool { return m.full }

// SetFull sets the full flag.
func (m *BitswapMessage) SetFull(full bool) { m.full = full }

// AddEntry adds or refreshes a wantlist entry, applying the same
// downgrade rule as wantlist.WantList.Add (spec.md §3): an existing
// Block entry, or an incoming Have over an existing entry, is a
// no-op. Returns true if the message's wantlist changed.
func (m *BitswapMessage) AddEntry(c cid.Cid, priority int, cancel bool, wantType wantlist.WantType, sendDontHave bool) bool {
	k := c.KeyString()
	if e, ok := m.wantlist[k]; ok {
		if e.WantType == wantlist.WantBlock || wantType == wantlist.WantHave {
			return false
		}
		e.Priority = priority
		e.Cancel = cancel
		e.WantType = wantType
		e.SendDontHave = sendDontHave
		return true
	}
	m.wantlist[k] = &Entry{
		Cid:          c,
		Priority:     priority,
		Cancel:       cancel,
		WantType:     wantType,
		SendDontHave: sendDontHave,
	}
	return true
}

// Cancel adds a cancel entry for c.
func (m *BitswapMessage) Cancel(c cid.Cid, priority int) {
	m.wantlist[c.KeyString()] = &Entry{Cid: c, Priority: priority, Cancel: true, WantType: wantlist.WantBlock}
}

// AddBlock attaches a block payload to the message.
func (m *BitswapMessage) AddBlock(b *blocks.Block) {
	m.payload[b.Cid().KeyString()] = b
}

// AddBlockPresence attaches a Have/DontHave hint for c.
func (m *BitswapMessage) AddBlockPresence(c cid.Cid, p PresenceType) {
	m.presences[c.KeyString()] = p
}

// Wantlist returns the message's entries. Order is unspecified.
func (m *BitswapMessage) Wantlist() []*Entry {
	out := make([]*Entry, 0, len(m.wantlist))
	for _, e := range m.wantlist {
		out = append(out, e)
	}
	return out
}

// Blocks returns the message's block payloads. Order is unspecified.
func (m *BitswapMessage) Blocks() []*blocks.Block {
	out := make([]*blocks.Block, 0, len(m.payload))
	for _, b := range m.payload {
		out = append(out, b)
	}
	return out
}

// BlockPresences returns the message's presence hints keyed by CID.
func (m *BitswapMessage) BlockPresences() map[string]PresenceType {
	return m.presences
}

// Empty reports whether the message carries nothing at all.
func (m *BitswapMessage) Empty() bool {
	return len(m.wantlist) == 0 && len(m.payload) == 0 && len(m.presences) == 0
}
