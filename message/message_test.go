package message

import (
	"testing"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

func TestAddEntryDowngradeRules(t *testing.T) {
	m := New()
	c := blocks.NewBlock([]byte("msg-a")).Cid()

	if !m.AddEntry(c, 1, false, wantlist.WantHave, true) {
		t.Fatal("first AddEntry should report a change")
	}
	if m.AddEntry(c, 1, false, wantlist.WantHave, true) {
		t.Fatal("duplicate Have add should be a no-op")
	}
	if !m.AddEntry(c, 4, false, wantlist.WantBlock, true) {
		t.Fatal("upgrading to Block should report a change")
	}
	if m.AddEntry(c, 9, false, wantlist.WantHave, true) {
		t.Fatal("Block -> Have must never be accepted")
	}

	entries := m.Wantlist()
	if len(entries) != 1 || entries[0].WantType != wantlist.WantBlock {
		t.Fatalf("wantlist = %+v", entries)
	}
}

func TestCancelEntry(t *testing.T) {
	m := New()
	c := blocks.NewBlock([]byte("msg-b")).Cid()
	m.Cancel(c, 2)

	entries := m.Wantlist()
	if len(entries) != 1 || !entries[0].Cancel {
		t.Fatalf("expected one cancel entry, got %+v", entries)
	}
}

func TestBlocksAndPresences(t *testing.T) {
	m := New()
	b := blocks.NewBlock([]byte("msg-c"))
	m.AddBlock(b)
	m.AddBlockPresence(b.Cid(), Have)

	if len(m.Blocks()) != 1 {
		t.Fatalf("Blocks() len = %d, want 1", len(m.Blocks()))
	}
	presences := m.BlockPresences()
	if pt, ok := presences[b.Cid().KeyString()]; !ok || pt != Have {
		t.Fatalf("presence for %s = %v, ok=%v", b.Cid(), pt, ok)
	}
	if m.Empty() {
		t.Fatal("message carrying a block must not be Empty")
	}
}

func TestEmptyMessage(t *testing.T) {
	if !New().Empty() {
		t.Fatal("a freshly constructed message should be Empty")
	}
}
