// Package network declares the external collaborators the core
// depends on but does not implement: the network transport (spec.md
// §1, §6). Concrete adapters (a libp2p host, a virtual in-memory
// network for tests) satisfy these interfaces; the exchange engine
// only ever sees them through here.
package network

import (
	"context"
	"time"

	cid "github.com/ipfs/go-cid"
	peer "github.com/libp2p/go-libp2p-core/peer"
)

// Transport is a single connection to one remote peer (spec.md §6).
type Transport interface {
	// Recv blocks until a complete framed message is available, the
	// transport is closed, or ctx is done.
	Recv(ctx context.Context) ([]byte, error)
	// Send writes one framed message.
	Send(ctx context.Context, msg []byte) error
	// Close tears down the connection. Safe to call more than once.
	Close() error
	// Ping round-trips a liveness probe, returning the observed
	// latency. An error means the peer did not answer.
	Ping(ctx context.Context) (time.Duration, error)
}

// NewConnection is one inbound connection yielded by
// Network.NewConnections.
type NewConnection struct {
	Peer      peer.ID
	Transport Transport
}

// Network is the collaborator that dials peers, announces blocks, and
// discovers providers for a CID (spec.md §6). It is out of scope to
// implement against a real transport; the core only consumes this
// interface.
type Network interface {
	// Connect dials p, or returns an already-open Transport if one
	// already exists on the network layer's side.
	Connect(ctx context.Context, p peer.ID) (Transport, error)
	// Publish best-effort announces that this node has c available.
	Publish(ctx context.Context, c cid.Cid) error
	// FindPeers discovers candidate peers that might have c.
	FindPeers(ctx context.Context, c cid.Cid) ([]peer.ID, error)
	// NewConnections is an infinite stream of inbound connections.
	NewConnections(ctx context.Context) <-chan NewConnection
}
