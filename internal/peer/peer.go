// Package peer holds per-connection state: a remote peer's ledger,
// its outbound response queue, its priority task queue, byte
// counters and reciprocity rank (spec.md §3, §4.2).
package peer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	libp2pPeer "github.com/libp2p/go-libp2p-core/peer"

	"github.com/VladislavSufyanov/go-bitswap/message"
	"github.com/VladislavSufyanov/go-bitswap/network"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

// Task is one unit of scheduled service work: answer a remote want
// recorded in message.Entry, at the priority it was requested with.
type Task struct {
	Entry *message.Entry
	// seq breaks ties between equal priorities in FIFO order, per the
	// counter tiebreaker spec.md §9 calls for.
	seq uint64
}

// taskHeap is a max-heap on (priority, -seq): highest priority first,
// and among equal priorities the one pushed earliest first.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Entry.Priority != h[j].Entry.Priority {
		return h[i].Entry.Priority > h[j].Entry.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// TaskQueue is a priority queue of pending service tasks for one
// peer, ordered the way spec.md §4.5/§9 describes.
type TaskQueue struct {
	mu     sync.Mutex
	heap   taskHeap
	seq    uint64
	notify chan struct{}
}

// NewTaskQueue returns an empty TaskQueue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{notify: make(chan struct{}, 1)}
}

// Push adds e to the queue.
func (q *TaskQueue) Push(e *message.Entry) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, &Task{Entry: e, seq: q.seq})
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the highest-priority task without blocking;
// ok is false if the queue is empty. Use Wait to block for a Push.
func (q *TaskQueue) Pop() (*Task, bool) {
	q.mu.Lock()
	if len(q.heap) > 0 {
		t := heap.Pop(&q.heap).(*Task)
		q.mu.Unlock()
		return t, true
	}
	q.mu.Unlock()
	return nil, false
}

// Wait returns a channel that receives a value whenever Push makes the
// queue non-empty. It never blocks on delivery: a missed signal just
// means the next Pop check will find nothing and Wait again.
func (q *TaskQueue) Wait() <-chan struct{} { return q.notify }

// Len reports the number of pending tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// ResponseQueue is the FIFO of outbound messages queued for one peer
// (spec.md §3). Backed by a channel with a fixed, generous buffer; it
// is not unbounded and drops nothing: once the buffer is full, Push
// blocks until the outbound loop drains a message.
type ResponseQueue struct {
	ch chan *message.BitswapMessage
}

// NewResponseQueue returns a ResponseQueue with capacity n.
func NewResponseQueue(n int) *ResponseQueue {
	return &ResponseQueue{ch: make(chan *message.BitswapMessage, n)}
}

// Push enqueues msg. Blocks only if the queue has reached its cap.
func (q *ResponseQueue) Push(msg *message.BitswapMessage) { q.ch <- msg }

// C exposes the receive side for the outbound loop to range over.
func (q *ResponseQueue) C() <-chan *message.BitswapMessage { return q.ch }

// Len reports the number of queued-but-unsent messages, the figure
// the Decision loop's least-loaded selection (spec.md §4.5) compares
// across peers.
func (q *ResponseQueue) Len() int { return len(q.ch) }

// Peer is a single remote endpoint: its ledger (what it wants from
// us), its queues, byte counters, and the transport it is reachable
// through.
type Peer struct {
	ID     libp2pPeer.ID
	Ledger *wantlist.Ledger

	Response *ResponseQueue
	Tasks    *TaskQueue

	transport network.Transport

	mu            sync.Mutex
	bytesSent     uint64
	bytesReceived uint64
	lastActive    time.Time
	latency       time.Duration
}

// New wraps an already-established transport to p as a tracked Peer.
func New(id libp2pPeer.ID, transport network.Transport) *Peer {
	return &Peer{
		ID:         id,
		Ledger:     wantlist.NewLedger(),
		Response:   NewResponseQueue(1024),
		Tasks:      NewTaskQueue(),
		transport:  transport,
		lastActive: time.Now(),
	}
}

// Send writes a framed, already-encoded message to the transport and
// credits the outbound byte counter.
func (p *Peer) Send(ctx context.Context, msg []byte) error {
	if err := p.transport.Send(ctx, msg); err != nil {
		return err
	}
	p.mu.Lock()
	p.bytesSent += uint64(len(msg))
	p.lastActive = time.Now()
	p.mu.Unlock()
	return nil
}

// Recv blocks for the next framed inbound message and credits the
// inbound byte counter on success.
func (p *Peer) Recv(ctx context.Context) ([]byte, error) {
	msg, err := p.transport.Recv(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.bytesReceived += uint64(len(msg))
	p.lastActive = time.Now()
	p.mu.Unlock()
	return msg, nil
}

// Close tears down the underlying transport. Safe to call more than
// once (spec.md §4.2).
func (p *Peer) Close() error { return p.transport.Close() }

// Ping probes liveness, updating lastActive and the cached latency on
// success.
func (p *Peer) Ping(ctx context.Context) error {
	latency, err := p.transport.Ping(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.latency = latency
	p.lastActive = time.Now()
	p.mu.Unlock()
	return nil
}

// Latency returns the most recently observed round-trip time, used by
// Session's (score, -latency) tiebreak (spec.md §4.6).
func (p *Peer) Latency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency
}

// LastActive returns the last time this peer sent, received, or
// answered a ping.
func (p *Peer) LastActive() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActive
}

// PeerRank is the reciprocity ratio rx/(tx+rx), 0 if nothing has been
// received yet (spec.md §3).
func (p *Peer) PeerRank() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bytesReceived == 0 {
		return 0
	}
	return float64(p.bytesReceived) / float64(p.bytesSent+p.bytesReceived)
}
