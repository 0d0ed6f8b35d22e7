// Package session implements the per-request coordinator that
// fetches one block from the best available peer: broadcast Have
// probes, pick the best responder, request the Block, retry on
// timeout, discover new peers when exhausted (spec.md §4.6).
package session

import (
	"context"
	"sync"
	"time"

	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	libp2pPeer "github.com/libp2p/go-libp2p-core/peer"

	"github.com/VladislavSufyanov/go-bitswap/internal/peer"
	"github.com/VladislavSufyanov/go-bitswap/internal/sender"
	"github.com/VladislavSufyanov/go-bitswap/network"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

var log = logging.Logger("bitswap/session")

// PeerManager is the slice of peermanager.PeerManager that Session
// needs. Declared locally to avoid an import cycle.
type PeerManager interface {
	GetPeer(id libp2pPeer.ID) (*peer.Peer, bool)
	AllPeers() []*peer.Peer
	Contains(id libp2pPeer.ID) bool
	Connect(ctx context.Context, id libp2pPeer.ID, transport network.Transport) (*peer.Peer, error)
}

// Config holds Session.Get's tunables, from spec.md §6.
type Config struct {
	ConnectTimeout time.Duration
	PeerActTimeout time.Duration
	BanPeerTimeout time.Duration
	ScoreAlpha     float64
}

// DefaultConfig matches spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 7 * time.Second,
		PeerActTimeout: 5 * time.Second,
		BanPeerTimeout: 10 * time.Second,
		ScoreAlpha:     0.5,
	}
}

// Session coordinates one logical GET. It is registered with a
// SessionManager under an integer ID; Entry.sessions holds that ID
// rather than a pointer, giving the weak-reference behaviour spec.md
// §9 asks for without relying on runtime GC hooks: once the holder of
// the Session calls Close, the manager forgets the ID and lookups
// treat it as gone. A Session that is never closed stays registered.
type Session struct {
	id  uint64
	mgr *SessionManager

	net     network.Network
	pm      PeerManager
	cfg     Config

	mu            sync.Mutex
	peers         map[libp2pPeer.ID]*PeerScore
	blocksHave    map[string]map[libp2pPeer.ID]*PeerScore
	blocksPending map[string]map[libp2pPeer.ID]*PeerScore
	haveSignal    chan struct{}
}

func newSession(id uint64, mgr *SessionManager, net network.Network, pm PeerManager, cfg Config) *Session {
	return &Session{
		id:            id,
		mgr:           mgr,
		net:           net,
		pm:            pm,
		cfg:           cfg,
		peers:         make(map[libp2pPeer.ID]*PeerScore),
		blocksHave:    make(map[string]map[libp2pPeer.ID]*PeerScore),
		blocksPending: make(map[string]map[libp2pPeer.ID]*PeerScore),
		haveSignal:    make(chan struct{}),
	}
}

// ID satisfies wantlist.SessionRef.
func (s *Session) ID() uint64 { return s.id }

// Close unregisters the session. After Close, resolving this
// session's ID through the owning SessionManager fails, which is how
// Entry.sessions observes that the session is gone.
func (s *Session) Close() { s.mgr.remove(s.id) }

// Contains reports whether p is a peer this session has recorded.
func (s *Session) Contains(p *peer.Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[p.ID]
	return ok
}

// AddPeer records p as known to this session and, if have is true,
// marks it as a holder of blockCid.
func (s *Session) AddPeer(p *peer.Peer, blockCid cid.Cid, have bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.peers[p.ID]
	if !ok {
		ps = newPeerScore(p.ID)
		s.peers[p.ID] = ps
		log.Debugf("session %d: new peer %s", s.id, p.ID)
	}
	if have {
		key := blockCid.KeyString()
		set, ok := s.blocksHave[key]
		if !ok {
			set = make(map[libp2pPeer.ID]*PeerScore)
			s.blocksHave[key] = set
		}
		set[p.ID] = ps
		s.broadcastHaveLocked()
	}
}

// ChangePeerScore applies the EWMA update for a peer already known to
// this session. Returns false if the peer is unknown.
func (s *Session) ChangePeerScore(id libp2pPeer.ID, newValue float64) bool {
	s.mu.Lock()
	ps, ok := s.peers[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	ps.ChangeScore(newValue, s.cfg.ScoreAlpha)
	return true
}

// RemovePeer drops id from this session entirely, including any
// pending have/pending membership, standing in for the weak-reference
// auto-eviction spec.md §9 describes.
func (s *Session) RemovePeer(id libp2pPeer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; !ok {
		return false
	}
	delete(s.peers, id)
	for _, set := range s.blocksHave {
		delete(set, id)
	}
	for _, set := range s.blocksPending {
		delete(set, id)
	}
	log.Debugf("session %d: removed peer %s", s.id, id)
	return true
}

// GetNotifyPeers returns every peer ID recorded as having or pending
// blockCid, excluding current (the peer that just delivered it).
func (s *Session) GetNotifyPeers(blockCid cid.Cid, current libp2pPeer.ID) []libp2pPeer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blockCid.KeyString()
	seen := make(map[libp2pPeer.ID]struct{})
	var out []libp2pPeer.ID
	for _, set := range []map[libp2pPeer.ID]*PeerScore{s.blocksHave[key], s.blocksPending[key]} {
		for id := range set {
			if id == current {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (s *Session) broadcastHaveLocked() {
	close(s.haveSignal)
	s.haveSignal = make(chan struct{})
}

// Get implements the state machine in spec.md §4.6: seed peers with a
// Have probe, wait for a responder, request the Block from the best
// one, retry on timeout, discover new peers when exhausted. Returns
// when entry.Block() is set or ctx is done.
func (s *Session) Get(ctx context.Context, entry *wantlist.Entry) error {
	entry.AddSession(s)
	blockCid := entry.Cid()
	key := blockCid.KeyString()

	s.mu.Lock()
	if _, ok := s.blocksHave[key]; !ok {
		s.blocksHave[key] = make(map[libp2pPeer.ID]*PeerScore)
	}
	if _, ok := s.blocksPending[key]; !ok {
		s.blocksPending[key] = make(map[libp2pPeer.ID]*PeerScore)
	}
	s.mu.Unlock()

	var pendingPeers []libp2pPeer.ID
	defer func() {
		s.mu.Lock()
		set := s.blocksPending[key]
		for _, id := range pendingPeers {
			delete(set, id)
		}
		s.mu.Unlock()
	}()

	banPeers := make(map[libp2pPeer.ID]time.Time)
	var discovered []libp2pPeer.ID

	if err := s.seedPeers(ctx, entry, &discovered, banPeers); err != nil {
		return err
	}

	for entry.Block() == nil {
		havePeer, ok := s.waitForHavePeer(ctx, blockCid, s.cfg.PeerActTimeout)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debugf("session %d: wait-have timeout", s.id)
			newPeer, err := s.connectAny(ctx, &discovered, banPeers)
			if err != nil || newPeer == nil {
				found, ferr := s.net.FindPeers(ctx, blockCid)
				if ferr != nil {
					log.Debugf("session %d: find_peers error: %s", s.id, ferr)
				}
				discovered = append(discovered, found...)
				newPeer, _ = s.connectAny(ctx, &discovered, banPeers)
			}
			if newPeer != nil {
				sender.SendEntries([]*wantlist.Entry{entry}, []*peer.Peer{newPeer}, wantlist.WantHave, false)
			}
			continue
		}

		s.mu.Lock()
		delete(s.blocksHave[key], havePeer.ID)
		_, alreadyPending := s.blocksPending[key][havePeer.ID]
		stillConnected := s.pm.Contains(havePeer.ID)
		if !alreadyPending && stillConnected {
			s.blocksPending[key][havePeer.ID] = s.peers[havePeer.ID]
			pendingPeers = append(pendingPeers, havePeer.ID)
		}
		s.mu.Unlock()

		if !alreadyPending && stillConnected {
			sender.SendEntries([]*wantlist.Entry{entry}, []*peer.Peer{havePeer}, wantlist.WantBlock, false)
			waitCtx, cancel := context.WithTimeout(ctx, s.cfg.PeerActTimeout)
			select {
			case <-entry.BlockEvent():
			case <-waitCtx.Done():
				log.Debugf("session %d: block wait timeout for %s", s.id, blockCid)
			}
			cancel()
		}
	}
	return nil
}

func (s *Session) seedPeers(ctx context.Context, entry *wantlist.Entry, discovered *[]libp2pPeer.ID, banPeers map[libp2pPeer.ID]time.Time) error {
	s.mu.Lock()
	knownPeers := make([]*peer.Peer, 0, len(s.peers))
	for id := range s.peers {
		if p, ok := s.pm.GetPeer(id); ok {
			knownPeers = append(knownPeers, p)
		}
	}
	s.mu.Unlock()

	if len(knownPeers) > 0 {
		sender.SendEntries([]*wantlist.Entry{entry}, knownPeers, wantlist.WantHave, false)
		return nil
	}

	all := s.pm.AllPeers()
	if len(all) > 0 {
		sender.SendEntries([]*wantlist.Entry{entry}, all, wantlist.WantHave, false)
		return nil
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		found, err := s.net.FindPeers(ctx, entry.Cid())
		if err != nil {
			log.Debugf("session %d: find_peers error: %s", s.id, err)
		}
		*discovered = append(*discovered, found...)
		if len(found) == 0 {
			log.Debugf("session %d: cannot find peers for %s", s.id, entry.Cid())
			if !sleepCtx(ctx, s.cfg.PeerActTimeout) {
				return ctx.Err()
			}
			continue
		}
		connected, err := s.connectAny(ctx, discovered, banPeers)
		if err != nil || connected == nil {
			if !sleepCtx(ctx, s.cfg.PeerActTimeout) {
				return ctx.Err()
			}
			continue
		}
		all = s.pm.AllPeers()
		sender.SendEntries([]*wantlist.Entry{entry}, all, wantlist.WantHave, false)
		return nil
	}
}

// connectAny tries to dial peers from discovered (LIFO, like the
// original's list.pop()), skipping currently-banned ones and
// expiring bans older than BanPeerTimeout. Returns the first peer it
// manages to connect to, or nil if the list is exhausted.
func (s *Session) connectAny(ctx context.Context, discovered *[]libp2pPeer.ID, banPeers map[libp2pPeer.ID]time.Time) (*peer.Peer, error) {
	now := time.Now()
	for id, bannedAt := range banPeers {
		if now.Sub(bannedAt) > s.cfg.BanPeerTimeout {
			delete(banPeers, id)
		}
	}
	list := *discovered
	for len(list) > 0 {
		id := list[len(list)-1]
		list = list[:len(list)-1]
		*discovered = list
		if _, banned := banPeers[id]; banned {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		p, err := s.pm.Connect(dialCtx, id, nil)
		cancel()
		if err != nil {
			log.Debugf("session %d: connect to %s failed: %s", s.id, id, err)
			banPeers[id] = time.Now()
			continue
		}
		return p, nil
	}
	return nil, nil
}

func (s *Session) waitForHavePeer(ctx context.Context, blockCid cid.Cid, timeout time.Duration) (*peer.Peer, bool) {
	key := blockCid.KeyString()
	deadline := time.After(timeout)
	for {
		p, ok := s.pickMaxScore(key)
		if ok {
			return p, true
		}
		s.mu.Lock()
		ch := s.haveSignal
		s.mu.Unlock()
		select {
		case <-ch:
			continue
		case <-deadline:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (s *Session) pickMaxScore(key string) (*peer.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.blocksHave[key]
	var best *PeerScore
	var bestPeer *peer.Peer
	var bestLatency time.Duration
	for id, ps := range set {
		p, ok := s.pm.GetPeer(id)
		if !ok {
			continue
		}
		lat := p.Latency()
		if best == nil || ps.Score() > best.Score() ||
			(ps.Score() == best.Score() && lat < bestLatency) {
			best = ps
			bestPeer = p
			bestLatency = lat
		}
	}
	if best == nil {
		return nil, false
	}
	return bestPeer, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
