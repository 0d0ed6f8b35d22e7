// Package connmgr accepts new inbound connections and runs the
// per-peer inbound/outbound message loops, tearing a peer down
// cleanly out of every session when either loop exits (spec.md §4.3).
package connmgr

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	libp2pPeer "github.com/libp2p/go-libp2p-core/peer"

	"github.com/VladislavSufyanov/go-bitswap/internal/engine"
	"github.com/VladislavSufyanov/go-bitswap/internal/peer"
	"github.com/VladislavSufyanov/go-bitswap/internal/session"
	"github.com/VladislavSufyanov/go-bitswap/message"
	"github.com/VladislavSufyanov/go-bitswap/network"
)

var log = logging.Logger("bitswap/connmgr")

// PeerManager is the slice of peermanager.PeerManager ConnectionManager
// needs. Declared locally; peermanager.PeerManager satisfies it, and
// ConnectionManager in turn satisfies peermanager.MessageHandlerSpawner.
type PeerManager interface {
	Connect(ctx context.Context, id libp2pPeer.ID, transport network.Transport) (*peer.Peer, error)
	RemovePeer(id libp2pPeer.ID) bool
}

// ConnectionManager wires the network's connection stream and each
// peer's message loops to the Engine and the live sessions.
type ConnectionManager struct {
	engine   *engine.Engine
	sessions *session.SessionManager
	pm       PeerManager

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a ConnectionManager that dispatches decoded inbound
// messages to eng and purges disconnecting peers from mgr's sessions.
// The PeerManager is wired in afterward with SetPeerManager, since
// PeerManager and ConnectionManager each depend on the other.
func New(eng *engine.Engine, mgr *session.SessionManager) *ConnectionManager {
	return &ConnectionManager{engine: eng, sessions: mgr}
}

// SetPeerManager completes the wiring described in New. Must be
// called once, before RunMessageHandlers sees its first peer.
func (cm *ConnectionManager) SetPeerManager(pm PeerManager) { cm.pm = pm }

// RunHandleConn spawns a task iterating net.NewConnections forever,
// installing each inbound connection through pm (spec.md §4.3).
func (cm *ConnectionManager) RunHandleConn(ctx context.Context, net network.Network, pm PeerManager) {
	ctx, cancel := context.WithCancel(ctx)
	cm.cancel = cancel
	cm.done = make(chan struct{})
	go func() {
		defer close(cm.done)
		conns := net.NewConnections(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case nc, ok := <-conns:
				if !ok {
					return
				}
				if _, err := pm.Connect(ctx, nc.Peer, nc.Transport); err != nil {
					log.Debugf("connmgr: install inbound connection from %s: %s", nc.Peer, err)
				}
			}
		}
	}()
}

// StopHandleConn ends the inbound-connection-accepting loop.
func (cm *ConnectionManager) StopHandleConn() {
	if cm.cancel != nil {
		cm.cancel()
		<-cm.done
	}
}

// RunMessageHandlers spawns p's inbound and outbound loops. Satisfies
// peermanager.MessageHandlerSpawner.
func (cm *ConnectionManager) RunMessageHandlers(p *peer.Peer) {
	ctx, cancel := context.WithCancel(context.Background())
	go cm.outboundLoop(ctx, p)
	go cm.inboundLoop(ctx, p, cancel)
}

func (cm *ConnectionManager) inboundLoop(ctx context.Context, p *peer.Peer, cancelOutbound context.CancelFunc) {
	defer cm.cleanupPeer(p, cancelOutbound)
	for {
		raw, err := p.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debugf("connmgr: recv from %s: %s", p.ID, err)
			}
			return
		}
		msg, err := message.FromWire(raw)
		if err != nil {
			log.Debugf("connmgr: decode from %s: %s", p.ID, err)
			continue
		}
		cm.engine.Handle(p, msg)
	}
}

func (cm *ConnectionManager) outboundLoop(ctx context.Context, p *peer.Peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.Response.C():
			if !ok {
				return
			}
			raw, err := message.ToWire(msg)
			if err != nil {
				log.Debugf("connmgr: encode to %s: %s", p.ID, err)
				continue
			}
			if err := p.Send(ctx, raw); err != nil {
				log.Debugf("connmgr: send to %s: %s", p.ID, err)
			}
		}
	}
}

// cleanupPeer implements the teardown spec.md §4.3 requires whenever
// the inbound loop exits: cancel the outbound loop, purge the peer
// from every live session, and drop it from the peer manager.
func (cm *ConnectionManager) cleanupPeer(p *peer.Peer, cancelOutbound context.CancelFunc) {
	cancelOutbound()
	for _, s := range cm.sessions.All() {
		s.RemovePeer(p.ID)
	}
	if cm.pm != nil {
		cm.pm.RemovePeer(p.ID)
	}
}
