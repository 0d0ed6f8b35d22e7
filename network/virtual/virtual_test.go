package virtual

import (
	"context"
	"testing"
	"time"

	peer "github.com/libp2p/go-libp2p-core/peer"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
)

func TestConnectAndExchange(t *testing.T) {
	net := New(0)
	a := net.Client(peer.ID("a"))
	b := net.Client(peer.ID("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	transportToB, err := a.Connect(ctx, peer.ID("b"))
	if err != nil {
		t.Fatalf("Connect: %s", err)
	}

	conns := b.NewConnections(ctx)

	select {
	case nc := <-conns:
		if nc.Peer != peer.ID("a") {
			t.Fatalf("inbound connection from %s, want a", nc.Peer)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for inbound connection")
	}

	msg := []byte("ping from a")
	if err := transportToB.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %s", err)
	}

	transportFromA, ok := b.conns[peer.ID("a")]
	if !ok {
		t.Fatal("b has no recorded connection to a")
	}
	got, err := transportFromA.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %s", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("Recv = %q, want %q", got, msg)
	}
}

func TestConnectUnknownPeerFails(t *testing.T) {
	net := New(0)
	a := net.Client(peer.ID("a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.Connect(ctx, peer.ID("ghost")); err == nil {
		t.Fatal("expected an error connecting to an unregistered peer")
	}
}

func TestPublishAndFindPeers(t *testing.T) {
	net := New(0)
	a := net.Client(peer.ID("a"))
	b := net.Client(peer.ID("b"))
	net.Client(peer.ID("c"))

	ctx := context.Background()
	blockCid := blocks.NewBlock([]byte("findable")).Cid()

	if err := a.Publish(ctx, blockCid); err != nil {
		t.Fatalf("Publish: %s", err)
	}

	found, err := b.FindPeers(ctx, blockCid)
	if err != nil {
		t.Fatalf("FindPeers: %s", err)
	}
	if len(found) != 1 || found[0] != peer.ID("a") {
		t.Fatalf("FindPeers = %+v, want [a]", found)
	}

	foundSelf, err := a.FindPeers(ctx, blockCid)
	if err != nil {
		t.Fatalf("FindPeers: %s", err)
	}
	if len(foundSelf) != 0 {
		t.Fatalf("FindPeers must exclude the caller itself, got %+v", foundSelf)
	}
}

func TestPipeCloseUnblocksRecv(t *testing.T) {
	net := New(0)
	a := net.Client(peer.ID("a"))
	b := net.Client(peer.ID("b"))

	ctx := context.Background()
	transportToB, err := a.Connect(ctx, peer.ID("b"))
	if err != nil {
		t.Fatalf("Connect: %s", err)
	}
	<-b.NewConnections(ctx)

	if err := transportToB.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	if _, err := transportToB.Recv(ctx); err == nil {
		t.Fatal("Recv on a closed pipe should error")
	}
	if err := transportToB.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %s", err)
	}
}
