// Package blockstore is the local persistence collaborator the engine
// consults before asking the network for anything (spec.md §6).
package blockstore

import (
	"context"
	"sync"

	cid "github.com/ipfs/go-cid"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
)

// Blockstore is the storage interface the exchange depends on. A real
// deployment backs this with a disk or database store; MapBlockstore
// is the in-memory one used by tests and the virtual network.
type Blockstore interface {
	Has(ctx context.Context, c cid.Cid) (bool, error)
	Get(ctx context.Context, c cid.Cid) (*blocks.Block, error)
	Put(ctx context.Context, b *blocks.Block) error
	PutMany(ctx context.Context, bs []*blocks.Block) error
	DeleteBlock(ctx context.Context, c cid.Cid) error
	AllKeysChan(ctx context.Context) (<-chan cid.Cid, error)
}

// ErrNotFound is returned by Get when the block is absent.
type ErrNotFound struct{ Cid cid.Cid }

func (e ErrNotFound) Error() string { return "blockstore: block not found: " + e.Cid.String() }

// MapBlockstore is a Blockstore backed by an in-memory map, suitable
// for tests and the virtual network fixtures.
type MapBlockstore struct {
	mu     sync.RWMutex
	blocks map[string]*blocks.Block
}

// NewMapBlockstore returns an empty MapBlockstore.
func NewMapBlockstore() *MapBlockstore {
	return &MapBlockstore{blocks: make(map[string]*blocks.Block)}
}

var _ Blockstore = (*MapBlockstore)(nil)

func (m *MapBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[c.KeyString()]
	return ok, nil
}

func (m *MapBlockstore) Get(ctx context.Context, c cid.Cid) (*blocks.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[c.KeyString()]
	if !ok {
		return nil, ErrNotFound{Cid: c}
	}
	return b, nil
}

func (m *MapBlockstore) Put(ctx context.Context, b *blocks.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Cid().KeyString()] = b
	return nil
}

func (m *MapBlockstore) PutMany(ctx context.Context, bs []*blocks.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bs {
		m.blocks[b.Cid().KeyString()] = b
	}
	return nil
}

func (m *MapBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, c.KeyString())
	return nil
}

func (m *MapBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	m.mu.RLock()
	keys := make([]cid.Cid, 0, len(m.blocks))
	for _, b := range m.blocks {
		keys = append(keys, b.Cid())
	}
	m.mu.RUnlock()

	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		for _, k := range keys {
			select {
			case out <- k:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
