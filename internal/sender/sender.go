// Package sender is the single place that assembles a BitswapMessage
// and hands it to one or more peers' outbound response queues. Every
// other component that needs to talk to a peer — Session probing for
// Have, Engine broadcasting a cancel, Decision answering a want —
// goes through here, grounded on the teacher's connection_manager
// Sender.
package sender

import (
	cid "github.com/ipfs/go-cid"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/internal/peer"
	"github.com/VladislavSufyanov/go-bitswap/message"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

// SendEntries wraps each entry's CID as a wire entry with the given
// want type and queues it to every peer.
func SendEntries(entries []*wantlist.Entry, peers []*peer.Peer, wantType wantlist.WantType, full bool) {
	if len(entries) == 0 || len(peers) == 0 {
		return
	}
	msg := message.New()
	msg.SetFull(full)
	for _, e := range entries {
		msg.AddEntry(e.Cid(), e.Priority(), false, wantType, true)
	}
	for _, p := range peers {
		p.Response.Push(msg)
	}
}

// SendCancel queues a cancel entry for c to every peer.
func SendCancel(c cid.Cid, peers []*peer.Peer, priority int) {
	if len(peers) == 0 {
		return
	}
	msg := message.New()
	msg.Cancel(c, priority)
	for _, p := range peers {
		p.Response.Push(msg)
	}
}

// SendPresence queues a Have/DontHave hint for c to every peer.
func SendPresence(c cid.Cid, peers []*peer.Peer, presence message.PresenceType) {
	if len(peers) == 0 {
		return
	}
	msg := message.New()
	msg.AddBlockPresence(c, presence)
	for _, p := range peers {
		p.Response.Push(msg)
	}
}

// SendBlocks queues a payload message carrying bs to every peer, then
// cancels each delivered CID out of that peer's own ledger — they no
// longer need to ask for it.
func SendBlocks(peers []*peer.Peer, bs []*blocks.Block) {
	if len(peers) == 0 || len(bs) == 0 {
		return
	}
	msg := message.New()
	for _, b := range bs {
		msg.AddBlock(b)
	}
	for _, p := range peers {
		p.Response.Push(msg)
		for _, b := range bs {
			p.Ledger.CancelWant(b.Cid())
		}
	}
}
