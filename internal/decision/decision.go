// Package decision is the fairness scheduler: it picks the
// least-loaded peer with pending work, favors the peer with the best
// reciprocity rank, and answers that peer's highest-priority want
// with a block, a have, a dont-have, or silence (spec.md §4.5).
package decision

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/blockstore"
	"github.com/VladislavSufyanov/go-bitswap/internal/peer"
	"github.com/VladislavSufyanov/go-bitswap/internal/sender"
	"github.com/VladislavSufyanov/go-bitswap/message"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

var log = logging.Logger("bitswap/decision")

// PeerManager is the slice of peermanager.PeerManager Decision needs:
// a snapshot of every connected peer to pick a target from.
type PeerManager interface {
	AllPeers() []*peer.Peer
}

// Config holds Decision's tunables, from spec.md §6.
type Config struct {
	MaxBlockSizeHaveToBlock int
	TaskWaitTimeout         time.Duration
	SleepTimeout            time.Duration
}

// DefaultConfig matches spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		MaxBlockSizeHaveToBlock: 1024,
		TaskWaitTimeout:         500 * time.Millisecond,
		SleepTimeout:            100 * time.Millisecond,
	}
}

// Decision runs the scheduling loop described in spec.md §4.5.
type Decision struct {
	cfg Config
	bs  blockstore.Blockstore
	pm  PeerManager

	blocksSent    prometheus.Counter
	presencesSent prometheus.Counter
	tasksSkipped  prometheus.Counter

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Decision loop over bs (the local block store) and pm
// (the connected peer set). Call Run to start it.
func New(bs blockstore.Blockstore, pm PeerManager, cfg Config) *Decision {
	return &Decision{
		cfg: cfg,
		bs:  bs,
		pm:  pm,
		blocksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitswap",
			Subsystem: "decision",
			Name:      "blocks_sent_total",
			Help:      "Blocks sent in response to a want-block or want-have task.",
		}),
		presencesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitswap",
			Subsystem: "decision",
			Name:      "presences_sent_total",
			Help:      "Have/DontHave presence hints sent in response to a want-block or want-have task.",
		}),
		tasksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitswap",
			Subsystem: "decision",
			Name:      "tasks_skipped_total",
			Help:      "Pending tasks popped for a CID that had already been cancelled.",
		}),
	}
}

// Collectors exposes this Decision's prometheus metrics so the
// embedding application can register them on its own registry,
// avoiding duplicate-registration panics across multiple Bitswap
// instances sharing a process (e.g. in tests).
func (d *Decision) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.blocksSent, d.presencesSent, d.tasksSkipped}
}

// Run starts the scheduling loop in a background goroutine.
func (d *Decision) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(ctx)
}

// Stop ends the scheduling loop and waits for it to exit.
func (d *Decision) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

func (d *Decision) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !d.step(ctx) {
			if !sleepCtx(ctx, d.cfg.SleepTimeout) {
				return
			}
		}
	}
}

// step runs one iteration of the scheduler and reports whether it did
// any work, so the caller knows whether to sleep before retrying.
func (d *Decision) step(ctx context.Context) bool {
	target := d.pickTarget()
	if target == nil {
		return false
	}

	task, ok := d.popTask(ctx, target)
	if !ok {
		return false
	}

	d.respond(target, task)
	return true
}

// pickTarget implements spec.md §4.5 steps 1-3: among peers that
// actually have pending tasks, pick whoever's response queue is tied
// for shortest, then the one with the highest peer rank.
func (d *Decision) pickTarget() *peer.Peer {
	all := d.pm.AllPeers()

	minLen := -1
	for _, p := range all {
		if p.Tasks.Len() == 0 {
			continue
		}
		if l := p.Response.Len(); minLen == -1 || l < minLen {
			minLen = l
		}
	}
	if minLen == -1 {
		return nil
	}

	var best *peer.Peer
	bestRank := -1.0
	for _, p := range all {
		if p.Tasks.Len() == 0 || p.Response.Len() != minLen {
			continue
		}
		if rank := p.PeerRank(); best == nil || rank > bestRank {
			best = p
			bestRank = rank
		}
	}
	return best
}

// popTask implements spec.md §4.5 step 4: pop the next task, skipping
// any whose CID has since been cancelled out of the peer's ledger.
func (d *Decision) popTask(ctx context.Context, p *peer.Peer) (*peer.Task, bool) {
	deadline := time.After(d.cfg.TaskWaitTimeout)
	for {
		t, ok := p.Tasks.Pop()
		if ok {
			if !p.Ledger.Contains(t.Entry.Cid) {
				d.tasksSkipped.Inc()
				continue
			}
			return t, true
		}
		select {
		case <-p.Tasks.Wait():
			continue
		case <-deadline:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// respond implements spec.md §4.5 step 5.
func (d *Decision) respond(p *peer.Peer, task *peer.Task) {
	entry := task.Entry
	switch entry.WantType {
	case wantlist.WantBlock:
		d.sendBlockOrDontHave(p, entry)
	case wantlist.WantHave:
		d.respondToHave(p, entry)
	default:
		log.Debugf("decision: unknown want type for %s", entry.Cid)
	}
}

func (d *Decision) respondToHave(p *peer.Peer, entry *message.Entry) {
	wants, ok := p.Ledger.GetEntry(entry.Cid)
	if ok && wants.WantType() == wantlist.WantBlock {
		d.sendBlockOrDontHave(p, entry)
		return
	}

	has, err := d.bs.Has(context.Background(), entry.Cid)
	if err != nil {
		log.Debugf("decision: has(%s) error: %s", entry.Cid, err)
		return
	}
	if !has {
		if entry.SendDontHave {
			sender.SendPresence(entry.Cid, []*peer.Peer{p}, message.DontHave)
			d.presencesSent.Inc()
		}
		return
	}

	blk, err := d.bs.Get(context.Background(), entry.Cid)
	if err != nil {
		log.Debugf("decision: get(%s) error: %s", entry.Cid, err)
		return
	}
	if blk.Size() <= d.cfg.MaxBlockSizeHaveToBlock {
		sender.SendBlocks([]*peer.Peer{p}, []*blocks.Block{blk})
		d.blocksSent.Inc()
		return
	}
	sender.SendPresence(entry.Cid, []*peer.Peer{p}, message.Have)
	d.presencesSent.Inc()
}

func (d *Decision) sendBlockOrDontHave(p *peer.Peer, entry *message.Entry) {
	has, err := d.bs.Has(context.Background(), entry.Cid)
	if err != nil {
		log.Debugf("decision: has(%s) error: %s", entry.Cid, err)
		return
	}
	if !has {
		sender.SendPresence(entry.Cid, []*peer.Peer{p}, message.DontHave)
		d.presencesSent.Inc()
		return
	}
	blk, err := d.bs.Get(context.Background(), entry.Cid)
	if err != nil {
		log.Debugf("decision: get(%s) error: %s", entry.Cid, err)
		return
	}
	sender.SendBlocks([]*peer.Peer{p}, []*blocks.Block{blk})
	d.blocksSent.Inc()
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
