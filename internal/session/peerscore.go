package session

import (
	"sync"

	libp2pPeer "github.com/libp2p/go-libp2p-core/peer"
)

// PeerScore tracks one peer's standing within a single session. It
// keeps only the peer's ID, not a reference to the Peer itself:
// spec.md §9 calls for a weak reference, and a bare ID resolved
// through PeerManager on use is the idiomatic Go stand-in.
type PeerScore struct {
	PeerID libp2pPeer.ID

	mu    sync.Mutex
	score float64
}

func newPeerScore(id libp2pPeer.ID) *PeerScore {
	return &PeerScore{PeerID: id}
}

// Score returns the current EWMA score.
func (s *PeerScore) Score() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

// ChangeScore applies the EWMA update score <- alpha*new + (1-alpha)*old
// from spec.md §3, returning the updated score.
func (s *PeerScore) ChangeScore(newValue, alpha float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score = alpha*newValue + (1-alpha)*s.score
	return s.score
}
