// Package engine interprets decoded inbound BitswapMessages: it
// routes payload blocks to waiting local entries, updates session
// peer scores on presence hints, and schedules remote wants onto the
// sending peer's task queue and ledger (spec.md §4.4).
package engine

import (
	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	libp2pPeer "github.com/libp2p/go-libp2p-core/peer"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/internal/peer"
	"github.com/VladislavSufyanov/go-bitswap/internal/sender"
	"github.com/VladislavSufyanov/go-bitswap/internal/session"
	"github.com/VladislavSufyanov/go-bitswap/internal/taskutil"
	"github.com/VladislavSufyanov/go-bitswap/message"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

var log = logging.Logger("bitswap/engine")

// PeerManager is the slice of peermanager.PeerManager the Engine
// needs: the full peer set, to forward payload blocks to anyone else
// who wanted them.
type PeerManager interface {
	AllPeers() []*peer.Peer
}

// Engine ties the local ledger (our own wants) to the SessionManager
// (which owns the sessions waiting on those wants).
type Engine struct {
	localLedger *wantlist.Ledger
	sessions    *session.SessionManager
	peers       PeerManager
}

// New returns an Engine over localLedger, with sessions resolved
// through mgr. pm may be nil and supplied later through
// SetPeerManager (until then payload blocks are forwarded to no
// other peer), since PeerManager and ConnectionManager (which sits
// between Engine and PeerManager) depend on each other.
func New(localLedger *wantlist.Ledger, mgr *session.SessionManager, pm PeerManager) *Engine {
	return &Engine{localLedger: localLedger, sessions: mgr, peers: pm}
}

// SetPeerManager completes the wiring described in New.
func (e *Engine) SetPeerManager(pm PeerManager) { e.peers = pm }

// Handle processes one decoded message from p, in the order spec.md
// §4.4 requires: payload, then presences, then entries.
func (e *Engine) Handle(p *peer.Peer, msg *message.BitswapMessage) {
	e.handlePayload(p, msg.Blocks())
	e.handlePresences(p, msg.BlockPresences())
	e.handleEntries(p, msg.Wantlist())
}

func (e *Engine) handlePayload(p *peer.Peer, payload []*blocks.Block) {
	var allPeers []*peer.Peer
	if e.peers != nil {
		allPeers = e.peers.AllPeers()
	}
	for _, b := range payload {
		entry, ok := e.localLedger.GetEntry(b.Cid())
		if ok {
			var cancelPeers []*peer.Peer
			for _, ref := range entry.Sessions() {
				s, live := e.sessions.Get(ref.ID())
				if !live {
					continue
				}
				if !s.Contains(p) {
					s.AddPeer(p, b.Cid(), false)
				}
				s.ChangePeerScore(p.ID, 1)
				for _, id := range s.GetNotifyPeers(b.Cid(), p.ID) {
					if np, found := findPeer(allPeers, id); found {
						cancelPeers = append(cancelPeers, np)
					}
				}
			}
			if entry.Block() == nil && entry.SetBlock(b.RawData()) {
				sender.SendCancel(b.Cid(), cancelPeers, 1)
			}
		}

		var wantPeers []*peer.Peer
		for _, other := range allPeers {
			if other.Ledger.Contains(b.Cid()) {
				wantPeers = append(wantPeers, other)
			}
		}
		if len(wantPeers) > 0 {
			sender.SendBlocks(wantPeers, []*blocks.Block{b})
		}
	}
}

func (e *Engine) handlePresences(p *peer.Peer, presences map[string]message.PresenceType) {
	for key, pt := range presences {
		c, err := cid.Cast([]byte(key))
		if err != nil {
			log.Debugf("engine: bad presence cid: %s", err)
			continue
		}
		entry, ok := e.localLedger.GetEntry(c)
		if !ok {
			continue
		}
		for _, ref := range entry.Sessions() {
			s, live := e.sessions.Get(ref.ID())
			if !live {
				continue
			}
			switch pt {
			case message.Have:
				s.AddPeer(p, c, true)
			case message.DontHave:
				s.ChangePeerScore(p.ID, -1)
			}
		}
	}
}

// handleEntries records the remote wants in entries on p's
// ledger and schedules them for service. Spawned as a background task
// per spec.md §4.4 so a slow caller can't stall the inbound loop.
func (e *Engine) handleEntries(p *peer.Peer, entries []*message.Entry) {
	taskutil.Go("engine: handle entries from "+p.ID.String(), func() error {
		e.addEntriesToLedgerAndQueue(p, entries)
		return nil
	})
}

func (e *Engine) addEntriesToLedgerAndQueue(p *peer.Peer, entries []*message.Entry) {
	for _, entry := range entries {
		if entry.Cancel {
			p.Ledger.CancelWant(entry.Cid)
			continue
		}
		p.Ledger.Wants(entry.Cid, entry.Priority, entry.WantType)
		p.Tasks.Push(entry)
	}
}

func findPeer(peers []*peer.Peer, id libp2pPeer.ID) (*peer.Peer, bool) {
	for _, p := range peers {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}
