// Package peermanager is the registry of connected peers: it drives
// connect/disconnect and idles out peers that go quiet (spec.md §4.2).
package peermanager

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2pPeer "github.com/libp2p/go-libp2p-core/peer"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/VladislavSufyanov/go-bitswap/internal/peer"
	"github.com/VladislavSufyanov/go-bitswap/network"
)

var log = logging.Logger("bitswap/peermanager")

// MessageHandlerSpawner starts the inbound/outbound loops for a newly
// connected peer. ConnectionManager implements this; PeerManager only
// depends on the narrow slice it needs, breaking the import cycle the
// two would otherwise form.
type MessageHandlerSpawner interface {
	RunMessageHandlers(p *peer.Peer)
}

// Config holds PeerManager's tunables, all from spec.md §6.
type Config struct {
	MaxNoActiveTime         time.Duration
	CheckNoActivePingPeriod time.Duration
}

// DefaultConfig matches the defaults in spec.md §6.
func DefaultConfig() Config {
	return Config{
		MaxNoActiveTime:         3600 * time.Second,
		CheckNoActivePingPeriod: 30 * time.Second,
	}
}

// PeerManager tracks every currently connected Peer.
type PeerManager struct {
	cfg     Config
	net     network.Network
	spawner MessageHandlerSpawner

	mu    sync.RWMutex
	peers map[libp2pPeer.ID]*peer.Peer

	connected    prometheus.Gauge
	disconnected prometheus.Counter

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a PeerManager driven by net and cfg. Call Run to start
// its background liveness sweep.
func New(net network.Network, spawner MessageHandlerSpawner, cfg Config) *PeerManager {
	return &PeerManager{
		cfg:     cfg,
		net:     net,
		spawner: spawner,
		peers:   make(map[libp2pPeer.ID]*peer.Peer),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitswap",
			Subsystem: "peermanager",
			Name:      "connected_peers",
			Help:      "Number of peers currently connected.",
		}),
		disconnected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitswap",
			Subsystem: "peermanager",
			Name:      "disconnects_total",
			Help:      "Peers removed, whether idle-swept or explicitly disconnected.",
		}),
	}
}

// Collectors exposes this PeerManager's prometheus metrics so the
// embedding application can register them on its own registry.
func (pm *PeerManager) Collectors() []prometheus.Collector {
	return []prometheus.Collector{pm.connected, pm.disconnected}
}

// Run starts the background disconnect-inactive sweep (spec.md §4.2).
// Call Stop to end it.
func (pm *PeerManager) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	pm.cancel = cancel
	pm.done = make(chan struct{})
	go pm.disconnectInactiveLoop(ctx)
}

// Stop ends the liveness sweep. It does not disconnect peers; call
// Disconnect for that.
func (pm *PeerManager) Stop() {
	if pm.cancel != nil {
		pm.cancel()
		<-pm.done
	}
}

// GetPeer returns the tracked Peer for id, if connected.
func (pm *PeerManager) GetPeer(id libp2pPeer.ID) (*peer.Peer, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.peers[id]
	return p, ok
}

// AllPeers returns every currently connected peer.
func (pm *PeerManager) AllPeers() []*peer.Peer {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]*peer.Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		out = append(out, p)
	}
	return out
}

// Contains reports whether id is currently connected.
func (pm *PeerManager) Contains(id libp2pPeer.ID) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	_, ok := pm.peers[id]
	return ok
}

// Connect dials id unless already connected, installs a Peer, and
// starts its message handlers (spec.md §4.2). If transport is
// already established (e.g. an inbound connection), pass it directly
// instead of dialing.
func (pm *PeerManager) Connect(ctx context.Context, id libp2pPeer.ID, transport network.Transport) (*peer.Peer, error) {
	pm.mu.Lock()
	if existing, ok := pm.peers[id]; ok {
		pm.mu.Unlock()
		return existing, nil
	}
	pm.mu.Unlock()

	if transport == nil {
		var err error
		transport, err = pm.net.Connect(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	p := peer.New(id, transport)

	pm.mu.Lock()
	if existing, ok := pm.peers[id]; ok {
		pm.mu.Unlock()
		return existing, nil
	}
	pm.peers[id] = p
	pm.mu.Unlock()
	pm.connected.Inc()

	pm.spawner.RunMessageHandlers(p)
	log.Debugf("connected to peer %s", id)
	return p, nil
}

// RemovePeer closes the transport and forgets id. Safe to call twice.
func (pm *PeerManager) RemovePeer(id libp2pPeer.ID) bool {
	pm.mu.Lock()
	p, ok := pm.peers[id]
	if ok {
		delete(pm.peers, id)
	}
	pm.mu.Unlock()
	if !ok {
		return false
	}
	pm.connected.Dec()
	pm.disconnected.Inc()
	if err := p.Close(); err != nil {
		log.Debugf("close peer %s: %s", id, err)
	}
	return true
}

// Disconnect closes every currently connected peer.
func (pm *PeerManager) Disconnect() {
	for _, p := range pm.AllPeers() {
		pm.RemovePeer(p.ID)
	}
}

func (pm *PeerManager) disconnectInactiveLoop(ctx context.Context) {
	defer close(pm.done)
	ticker := time.NewTicker(pm.cfg.CheckNoActivePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.sweepInactive(ctx)
		}
	}
}

func (pm *PeerManager) sweepInactive(ctx context.Context) {
	for _, p := range pm.AllPeers() {
		if time.Since(p.LastActive()) > pm.cfg.MaxNoActiveTime {
			log.Debugf("peer %s inactive, disconnecting", p.ID)
			pm.RemovePeer(p.ID)
			continue
		}
		if err := p.Ping(ctx); err != nil {
			log.Debugf("ping %s failed: %s", p.ID, err)
		}
	}
}
