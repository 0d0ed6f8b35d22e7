// Package virtual is an in-memory Network used by tests, modeled on
// the teacher's exchange/bitswap/testnet.VirtualNetwork: a shared
// registry of clients that deliver messages to each other directly,
// with an optional artificial delay.
package virtual

import (
	"context"
	"fmt"
	"sync"
	"time"

	cid "github.com/ipfs/go-cid"
	peer "github.com/libp2p/go-libp2p-core/peer"

	"github.com/VladislavSufyanov/go-bitswap/network"
)

// Network is a shared, in-process bitswap network. Every Client
// registered on it can reach every other.
type Network struct {
	mu      sync.Mutex
	clients map[peer.ID]*Client
	delay   time.Duration

	providersMu sync.Mutex
	providers   map[string]map[peer.ID]struct{}
}

// New returns an empty virtual network with a fixed artificial
// message delivery delay.
func New(delay time.Duration) *Network {
	return &Network{
		clients:   make(map[peer.ID]*Client),
		delay:     delay,
		providers: make(map[string]map[peer.ID]struct{}),
	}
}

// Client returns this node's view of the network, registering it if
// this is the first time p has been seen.
func (n *Network) Client(p peer.ID) *Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.clients[p]; ok {
		return c
	}
	c := &Client{local: p, net: n, conns: make(map[peer.ID]*pipe)}
	n.clients[p] = c
	return c
}

func (n *Network) hasPeer(p peer.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.clients[p]
	return ok
}

func (n *Network) client(p peer.ID) (*Client, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.clients[p]
	return c, ok
}

// Client is one node's network.Network implementation backed by the
// shared Network registry.
type Client struct {
	local peer.ID
	net   *Network

	mu    sync.Mutex
	conns map[peer.ID]*pipe

	newConnsMu sync.Mutex
	newConns   chan network.NewConnection
}

var _ network.Network = (*Client)(nil)

// Connect establishes (or returns an existing) pipe to p, notifying
// p's own Client of the new inbound connection the first time.
func (c *Client) Connect(ctx context.Context, p peer.ID) (network.Transport, error) {
	c.mu.Lock()
	if existing, ok := c.conns[p]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	if !c.net.hasPeer(p) {
		return nil, fmt.Errorf("virtual network: no such peer %s", p)
	}
	remote, _ := c.net.client(p)

	a, b := newPipePair(c.net.delay)

	c.mu.Lock()
	c.conns[p] = a
	c.mu.Unlock()

	remote.mu.Lock()
	remote.conns[c.local] = b
	remote.mu.Unlock()
	remote.deliverNewConnection(c.local, b)

	return a, nil
}

func (c *Client) deliverNewConnection(from peer.ID, t network.Transport) {
	c.newConnsMu.Lock()
	if c.newConns == nil {
		c.newConns = make(chan network.NewConnection, 16)
	}
	ch := c.newConns
	c.newConnsMu.Unlock()
	select {
	case ch <- network.NewConnection{Peer: from, Transport: t}:
	default:
		go func() { ch <- network.NewConnection{Peer: from, Transport: t} }()
	}
}

// Publish records that c's local peer provides c. Best-effort, as
// spec.md §6 requires of the real interface.
func (c *Client) Publish(ctx context.Context, blockCid cid.Cid) error {
	c.net.providersMu.Lock()
	defer c.net.providersMu.Unlock()
	k := blockCid.KeyString()
	if c.net.providers[k] == nil {
		c.net.providers[k] = make(map[peer.ID]struct{})
	}
	c.net.providers[k][c.local] = struct{}{}
	return nil
}

// FindPeers returns every peer that has Published blockCid, minus the
// caller itself.
func (c *Client) FindPeers(ctx context.Context, blockCid cid.Cid) ([]peer.ID, error) {
	c.net.providersMu.Lock()
	defer c.net.providersMu.Unlock()
	var out []peer.ID
	for p := range c.net.providers[blockCid.KeyString()] {
		if p != c.local {
			out = append(out, p)
		}
	}
	return out, nil
}

// NewConnections returns the stream of inbound connections accepted
// by this client.
func (c *Client) NewConnections(ctx context.Context) <-chan network.NewConnection {
	c.newConnsMu.Lock()
	defer c.newConnsMu.Unlock()
	if c.newConns == nil {
		c.newConns = make(chan network.NewConnection, 16)
	}
	return c.newConns
}

// pipe is a Transport backed by a pair of buffered channels, with an
// artificial delay applied on delivery -- the same trick the
// teacher's testnet.deliver uses.
type pipe struct {
	delay  time.Duration
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	// peer is the other end of the pair; Send writes into peer.out,
	// Recv reads from its own out, so the two directions never touch
	// the same channel.
	peer *pipe
}

func newPipePair(delay time.Duration) (*pipe, *pipe) {
	a := &pipe{delay: delay, out: make(chan []byte, 64), closed: make(chan struct{})}
	b := &pipe{delay: delay, out: make(chan []byte, 64), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipe) Send(ctx context.Context, msg []byte) error {
	if p.peer == nil {
		return fmt.Errorf("virtual network: pipe not connected")
	}
	select {
	case <-p.closed:
		return fmt.Errorf("virtual network: transport closed")
	default:
	}
	cp := append([]byte(nil), msg...)
	go func() {
		if p.delay > 0 {
			time.Sleep(p.delay)
		}
		select {
		case p.peer.out <- cp:
		case <-p.peer.closed:
		}
	}()
	return nil
}

func (p *pipe) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.out:
		return msg, nil
	case <-p.closed:
		return nil, fmt.Errorf("virtual network: transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipe) Ping(ctx context.Context) (time.Duration, error) {
	select {
	case <-p.closed:
		return 0, fmt.Errorf("virtual network: transport closed")
	default:
		return p.delay, nil
	}
}
