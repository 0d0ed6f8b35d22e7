package decision

import (
	"context"
	"testing"
	"time"

	libp2pPeer "github.com/libp2p/go-libp2p-core/peer"

	"github.com/VladislavSufyanov/go-bitswap/blockstore"
	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/internal/peer"
	"github.com/VladislavSufyanov/go-bitswap/message"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

type noopTransport struct{}

func (noopTransport) Recv(ctx context.Context) ([]byte, error)        { return nil, context.Canceled }
func (noopTransport) Send(ctx context.Context, msg []byte) error      { return nil }
func (noopTransport) Close() error                                    { return nil }
func (noopTransport) Ping(ctx context.Context) (time.Duration, error) { return 0, nil }

func newTestPeer(id string) *peer.Peer {
	return peer.New(libp2pPeer.ID(id), noopTransport{})
}

type fakePeerManager struct{ peers []*peer.Peer }

func (f *fakePeerManager) AllPeers() []*peer.Peer { return f.peers }

func TestPickTargetPrefersShortestQueueWithPendingWork(t *testing.T) {
	idle := newTestPeer("idle")       // no tasks: should never be picked
	loaded := newTestPeer("loaded")   // has a task but a longer response queue
	best := newTestPeer("best")       // has a task and the shortest queue

	c := blocks.NewBlock([]byte("pick-target")).Cid()
	loaded.Tasks.Push(&message.Entry{Cid: c, WantType: wantlist.WantHave})
	best.Tasks.Push(&message.Entry{Cid: c, WantType: wantlist.WantHave})

	loaded.Response.Push(message.New())
	loaded.Response.Push(message.New())
	best.Response.Push(message.New())

	d := New(blockstore.NewMapBlockstore(), &fakePeerManager{peers: []*peer.Peer{idle, loaded, best}}, DefaultConfig())
	target := d.pickTarget()
	if target != best {
		t.Fatalf("pickTarget = %v, want the shortest-queue peer with pending work", target)
	}
}

func TestPickTargetNoPendingWorkReturnsNil(t *testing.T) {
	idle := newTestPeer("idle")
	d := New(blockstore.NewMapBlockstore(), &fakePeerManager{peers: []*peer.Peer{idle}}, DefaultConfig())
	if d.pickTarget() != nil {
		t.Fatal("pickTarget should return nil when no peer has pending tasks")
	}
}

func TestPopTaskSkipsCancelledEntries(t *testing.T) {
	p := newTestPeer("popper")
	stale := blocks.NewBlock([]byte("stale")).Cid()
	live := blocks.NewBlock([]byte("live")).Cid()

	p.Ledger.Wants(live, 1, wantlist.WantBlock)
	p.Tasks.Push(&message.Entry{Cid: stale, WantType: wantlist.WantBlock})
	p.Tasks.Push(&message.Entry{Cid: live, WantType: wantlist.WantBlock})

	d := New(blockstore.NewMapBlockstore(), &fakePeerManager{}, Config{TaskWaitTimeout: 200 * time.Millisecond})
	task, ok := d.popTask(context.Background(), p)
	if !ok {
		t.Fatal("popTask should find the live entry")
	}
	if !task.Entry.Cid.Equals(live) {
		t.Fatalf("popTask returned %s, want the live entry", task.Entry.Cid)
	}
}

func TestRespondToHaveSendsBlockUnderSizeThreshold(t *testing.T) {
	bs := blockstore.NewMapBlockstore()
	b := blocks.NewBlock([]byte("small"))
	bs.Put(context.Background(), b)

	p := newTestPeer("haver")
	cfg := DefaultConfig()
	cfg.MaxBlockSizeHaveToBlock = 1024
	d := New(bs, &fakePeerManager{}, cfg)

	d.respondToHave(p, &message.Entry{Cid: b.Cid(), SendDontHave: true})

	msg := <-p.Response.C()
	if len(msg.Blocks()) != 1 {
		t.Fatalf("expected the actual block to be sent, got %+v", msg.Blocks())
	}
}

func TestRespondToHaveSendsPresenceOverSizeThreshold(t *testing.T) {
	bs := blockstore.NewMapBlockstore()
	b := blocks.NewBlock([]byte("this block is bigger than the threshold"))
	bs.Put(context.Background(), b)

	p := newTestPeer("haver2")
	cfg := DefaultConfig()
	cfg.MaxBlockSizeHaveToBlock = 4
	d := New(bs, &fakePeerManager{}, cfg)

	d.respondToHave(p, &message.Entry{Cid: b.Cid(), SendDontHave: true})

	msg := <-p.Response.C()
	presences := msg.BlockPresences()
	if presences[b.Cid().KeyString()] != message.Have {
		t.Fatalf("expected a Have presence hint, got %+v", presences)
	}
}

func TestRespondToHaveSendsDontHaveWhenAbsent(t *testing.T) {
	bs := blockstore.NewMapBlockstore()
	missing := blocks.NewBlock([]byte("missing")).Cid()

	p := newTestPeer("haver3")
	d := New(bs, &fakePeerManager{}, DefaultConfig())
	d.respondToHave(p, &message.Entry{Cid: missing, SendDontHave: true})

	msg := <-p.Response.C()
	presences := msg.BlockPresences()
	if presences[missing.KeyString()] != message.DontHave {
		t.Fatalf("expected a DontHave presence hint, got %+v", presences)
	}
}

func TestRespondToHaveSilentWithoutSendDontHave(t *testing.T) {
	bs := blockstore.NewMapBlockstore()
	missing := blocks.NewBlock([]byte("missing-quiet")).Cid()

	p := newTestPeer("haver4")
	d := New(bs, &fakePeerManager{}, DefaultConfig())
	d.respondToHave(p, &message.Entry{Cid: missing, SendDontHave: false})

	select {
	case msg := <-p.Response.C():
		t.Fatalf("expected silence, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendBlockOrDontHave(t *testing.T) {
	bs := blockstore.NewMapBlockstore()
	b := blocks.NewBlock([]byte("block-want"))
	bs.Put(context.Background(), b)

	p := newTestPeer("blockwanter")
	d := New(bs, &fakePeerManager{}, DefaultConfig())
	d.sendBlockOrDontHave(p, &message.Entry{Cid: b.Cid()})

	msg := <-p.Response.C()
	if len(msg.Blocks()) != 1 {
		t.Fatalf("expected the block to be sent, got %+v", msg)
	}
}
