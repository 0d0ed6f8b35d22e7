package peer

import (
	"context"
	"testing"
	"time"

	libp2pPeer "github.com/libp2p/go-libp2p-core/peer"

	"github.com/VladislavSufyanov/go-bitswap/message"
)

type stubTransport struct {
	sent     [][]byte
	recvData []byte
	recvErr  error
	latency  time.Duration
	pingErr  error
}

func (s *stubTransport) Recv(ctx context.Context) ([]byte, error) {
	if s.recvErr != nil {
		return nil, s.recvErr
	}
	return s.recvData, nil
}
func (s *stubTransport) Send(ctx context.Context, msg []byte) error {
	s.sent = append(s.sent, msg)
	return nil
}
func (s *stubTransport) Close() error { return nil }
func (s *stubTransport) Ping(ctx context.Context) (time.Duration, error) {
	return s.latency, s.pingErr
}

func TestTaskQueuePriorityOrder(t *testing.T) {
	q := NewTaskQueue()
	low := &message.Entry{Priority: 1}
	high := &message.Entry{Priority: 5}
	mid := &message.Entry{Priority: 3}

	q.Push(low)
	q.Push(high)
	q.Push(mid)

	first, ok := q.Pop()
	if !ok || first.Entry.Priority != 5 {
		t.Fatalf("expected highest priority first, got %+v", first)
	}
	second, _ := q.Pop()
	if second.Entry.Priority != 3 {
		t.Fatalf("expected priority 3 second, got %+v", second)
	}
	third, _ := q.Pop()
	if third.Entry.Priority != 1 {
		t.Fatalf("expected priority 1 third, got %+v", third)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("queue should be empty")
	}
}

func TestTaskQueueFIFOTiebreak(t *testing.T) {
	q := NewTaskQueue()
	first := &message.Entry{Priority: 1}
	second := &message.Entry{Priority: 1}
	q.Push(first)
	q.Push(second)

	a, _ := q.Pop()
	b, _ := q.Pop()
	if a.Entry != first || b.Entry != second {
		t.Fatal("equal-priority tasks must pop in FIFO order")
	}
}

func TestTaskQueueWaitSignalsOnPush(t *testing.T) {
	q := NewTaskQueue()
	if _, ok := q.Pop(); ok {
		t.Fatal("new queue should be empty")
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(&message.Entry{Priority: 1})
	}()
	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("Wait never signalled after Push")
	}
	if _, ok := q.Pop(); !ok {
		t.Fatal("task should be available after the Wait signal")
	}
}

func TestResponseQueuePushAndLen(t *testing.T) {
	q := NewResponseQueue(4)
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	m := message.New()
	q.Push(m)
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	got := <-q.C()
	if got != m {
		t.Fatal("C() did not return the pushed message")
	}
}

func TestPeerSendPingAndCounters(t *testing.T) {
	transport := &stubTransport{latency: 50 * time.Millisecond}
	p := New(libp2pPeer.ID("peer-a"), transport)

	if err := p.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Send: %s", err)
	}
	if len(transport.sent) != 1 || string(transport.sent[0]) != "hello" {
		t.Fatalf("transport.sent = %+v", transport.sent)
	}

	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %s", err)
	}
	if p.Latency() != 50*time.Millisecond {
		t.Fatalf("Latency() = %s, want 50ms", p.Latency())
	}

	if rank := p.PeerRank(); rank != 0 {
		t.Fatalf("PeerRank with no bytes received should be 0, got %f", rank)
	}
}

func TestPeerRankReciprocity(t *testing.T) {
	transport := &stubTransport{recvData: make([]byte, 10)}
	p := New(libp2pPeer.ID("peer-b"), transport)

	if err := p.Send(context.Background(), make([]byte, 30)); err != nil {
		t.Fatalf("Send: %s", err)
	}
	if rank := p.PeerRank(); rank != 0 {
		t.Fatalf("rank with 0 bytes received should be 0, got %f", rank)
	}
	if _, err := p.Recv(context.Background()); err != nil {
		t.Fatalf("Recv: %s", err)
	}
	// 10 bytes received, 30 sent: rank = 10/(30+10) = 0.25
	if rank := p.PeerRank(); rank != 0.25 {
		t.Fatalf("PeerRank = %f, want 0.25", rank)
	}
}
