// Package bitswap implements the content-addressed block-exchange
// core: wantlists, the per-peer decision loop, the session
// coordinator, and the Put/Get facade tying them together.
package bitswap

import (
	"context"
	"time"

	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/blockstore"
	"github.com/VladislavSufyanov/go-bitswap/internal/connmgr"
	"github.com/VladislavSufyanov/go-bitswap/internal/decision"
	"github.com/VladislavSufyanov/go-bitswap/internal/engine"
	"github.com/VladislavSufyanov/go-bitswap/internal/peermanager"
	"github.com/VladislavSufyanov/go-bitswap/internal/session"
	"github.com/VladislavSufyanov/go-bitswap/internal/taskutil"
	"github.com/VladislavSufyanov/go-bitswap/network"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

var log = logging.Logger("bitswap")

// Config collects every tunable spec.md §6 lists, each defaulted and
// overridable through an Option.
type Config struct {
	MaxBlockSizeHaveToBlock int
	TaskWaitTimeout         time.Duration
	DecisionSleepTimeout    time.Duration
	MaxNoActiveTime         time.Duration
	CheckNoActivePingPeriod time.Duration
	ConnectTimeout          time.Duration
	PeerActTimeout          time.Duration
	BanPeerTimeout          time.Duration
	GetTimeout              time.Duration
	ScoreAlpha              float64
	// MinScore is stored for configuration completeness; no component
	// reads it, so no peer is ever evicted for a low score.
	MinScore float64
}

// DefaultConfig matches every default in spec.md §6.
func DefaultConfig() Config {
	return Config{
		MaxBlockSizeHaveToBlock: 1024,
		TaskWaitTimeout:         500 * time.Millisecond,
		DecisionSleepTimeout:    100 * time.Millisecond,
		MaxNoActiveTime:         3600 * time.Second,
		CheckNoActivePingPeriod: 30 * time.Second,
		ConnectTimeout:          7 * time.Second,
		PeerActTimeout:          5 * time.Second,
		BanPeerTimeout:          10 * time.Second,
		GetTimeout:              60 * time.Second,
		ScoreAlpha:              0.5,
		MinScore:                -100,
	}
}

// Option customizes a Config.
type Option func(*Config)

func WithMaxBlockSizeHaveToBlock(n int) Option { return func(c *Config) { c.MaxBlockSizeHaveToBlock = n } }
func WithTaskWaitTimeout(d time.Duration) Option {
	return func(c *Config) { c.TaskWaitTimeout = d }
}
func WithDecisionSleepTimeout(d time.Duration) Option {
	return func(c *Config) { c.DecisionSleepTimeout = d }
}
func WithMaxNoActiveTime(d time.Duration) Option { return func(c *Config) { c.MaxNoActiveTime = d } }
func WithCheckNoActivePingPeriod(d time.Duration) Option {
	return func(c *Config) { c.CheckNoActivePingPeriod = d }
}
func WithConnectTimeout(d time.Duration) Option { return func(c *Config) { c.ConnectTimeout = d } }
func WithPeerActTimeout(d time.Duration) Option { return func(c *Config) { c.PeerActTimeout = d } }
func WithBanPeerTimeout(d time.Duration) Option { return func(c *Config) { c.BanPeerTimeout = d } }
func WithGetTimeout(d time.Duration) Option     { return func(c *Config) { c.GetTimeout = d } }
func WithScoreAlpha(a float64) Option           { return func(c *Config) { c.ScoreAlpha = a } }
func WithMinScore(s float64) Option             { return func(c *Config) { c.MinScore = s } }

// Bitswap is the exchange's only outward-facing surface: Put, Get,
// and the run/stop lifecycle (spec.md §4.7).
type Bitswap struct {
	cfg Config

	net   network.Network
	store blockstore.Blockstore

	localLedger *wantlist.Ledger
	sessions    *session.SessionManager
	peers       *peermanager.PeerManager
	conns       *connmgr.ConnectionManager
	decide      *decision.Decision

	cancel context.CancelFunc
}

// New wires together every core component over net and store,
// applying any supplied Options over DefaultConfig.
func New(net network.Network, store blockstore.Blockstore, opts ...Option) *Bitswap {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	localLedger := wantlist.NewLedger()
	sessions := session.NewManager()

	eng := engine.New(localLedger, sessions, nil)
	conns := connmgr.New(eng, sessions)
	peers := peermanager.New(net, conns, peermanager.Config{
		MaxNoActiveTime:         cfg.MaxNoActiveTime,
		CheckNoActivePingPeriod: cfg.CheckNoActivePingPeriod,
	})
	conns.SetPeerManager(peers)
	eng.SetPeerManager(peers)

	decide := decision.New(store, peers, decision.Config{
		MaxBlockSizeHaveToBlock: cfg.MaxBlockSizeHaveToBlock,
		TaskWaitTimeout:         cfg.TaskWaitTimeout,
		SleepTimeout:            cfg.DecisionSleepTimeout,
	})

	return &Bitswap{
		cfg:         cfg,
		net:         net,
		store:       store,
		localLedger: localLedger,
		sessions:    sessions,
		peers:       peers,
		conns:       conns,
		decide:      decide,
	}
}

// Run starts every background loop: the decision scheduler, the
// inbound-connection acceptor, and peer liveness sweeps.
func (bs *Bitswap) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	bs.cancel = cancel
	bs.decide.Run(ctx)
	bs.conns.RunHandleConn(ctx, bs.net, bs.peers)
	bs.peers.Run(ctx)
}

// Stop ends every background loop and disconnects every peer.
func (bs *Bitswap) Stop() {
	bs.decide.Stop()
	bs.conns.StopHandleConn()
	bs.peers.Stop()
	bs.peers.Disconnect()
	if bs.cancel != nil {
		bs.cancel()
	}
}

// Put stores data under c locally and announces it to the network, unless it was
// already present (spec.md §4.7).
func (bs *Bitswap) Put(ctx context.Context, c cid.Cid, data []byte) (bool, error) {
	has, err := bs.store.Has(ctx, c)
	if err != nil {
		return false, errors.Wrapf(err, "checking local store for %s", c)
	}
	if has {
		return false, nil
	}
	blk, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return false, errors.Wrapf(err, "verifying block data against %s", c)
	}
	if err := bs.store.Put(ctx, blk); err != nil {
		return false, errors.Wrapf(err, "storing %s", c)
	}
	if err := bs.net.Publish(ctx, c); err != nil {
		log.Debugf("put %s: publish failed: %s", c, err)
	}
	return true, nil
}

// Get retrieves c, preferring the local store, else coordinating a
// fetch through a Session (spec.md §4.7). Returns nil on timeout.
func (bs *Bitswap) Get(ctx context.Context, c cid.Cid, priority int) ([]byte, error) {
	if blk, err := bs.store.Get(ctx, c); err == nil {
		return blk.RawData(), nil
	}

	entry, existed := bs.localLedger.GetEntry(c)
	if !existed {
		bs.localLedger.Wants(c, priority, wantlist.WantBlock)
		entry, _ = bs.localLedger.GetEntry(c)
	} else if blk := entry.Block(); blk != nil {
		bs.localLedger.CancelWant(c)
		return blk, nil
	} else if entry.WantType() == wantlist.WantHave || entry.Priority() != priority {
		entry.UpgradeToBlock(priority)
	}

	sess := bs.sessions.Create(bs.net, bs.peers, session.Config{
		ConnectTimeout: bs.cfg.ConnectTimeout,
		PeerActTimeout: bs.cfg.PeerActTimeout,
		BanPeerTimeout: bs.cfg.BanPeerTimeout,
		ScoreAlpha:     bs.cfg.ScoreAlpha,
	})

	getCtx, cancel := context.WithTimeout(ctx, bs.cfg.GetTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		taskutil.Done("bitswap: session get "+c.String(), sess.Get(getCtx, entry))
	}()

	select {
	case <-entry.BlockEvent():
	case <-getCtx.Done():
	}
	cancel()
	<-done
	sess.Close()

	block := entry.Block()
	if block != nil {
		bs.localLedger.CancelWant(c)
	}
	return block, nil
}

