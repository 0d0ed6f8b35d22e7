package wantlist

import (
	"testing"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
)

type fakeSession struct{ id uint64 }

func (f fakeSession) ID() uint64 { return f.id }

func TestWantListAddDowngradeRules(t *testing.T) {
	w := New()
	c := blocks.NewBlock([]byte("a")).Cid()

	if !w.Add(c, 1, WantHave) {
		t.Fatal("first add should report a change")
	}
	if w.Add(c, 1, WantHave) {
		t.Fatal("re-adding an identical Have should not report a change")
	}

	if !w.Add(c, 5, WantBlock) {
		t.Fatal("upgrading Have -> Block should report a change")
	}
	e, ok := w.Get(c)
	if !ok || e.WantType() != WantBlock || e.Priority() != 5 {
		t.Fatalf("entry after upgrade = %+v", e)
	}

	if w.Add(c, 9, WantHave) {
		t.Fatal("a Block -> Have downgrade must never be accepted")
	}
	if e.WantType() != WantBlock {
		t.Fatal("want type regressed from Block to Have")
	}
}

func TestWantListRemoveType(t *testing.T) {
	w := New()
	c := blocks.NewBlock([]byte("b")).Cid()
	w.Add(c, 1, WantBlock)

	if w.RemoveType(c, WantHave) {
		t.Fatal("RemoveType(Have) must refuse to remove an existing Block want")
	}
	if !w.Contains(c) {
		t.Fatal("entry should still be present")
	}
	if !w.RemoveType(c, WantBlock) {
		t.Fatal("RemoveType(Block) should remove a Block want")
	}
	if w.Contains(c) {
		t.Fatal("entry should be gone")
	}
}

func TestEntryBlockMonotone(t *testing.T) {
	c := blocks.NewBlock([]byte("c")).Cid()
	w := New()
	w.Add(c, 1, WantHave)
	e, _ := w.Get(c)

	if e.Block() != nil {
		t.Fatal("new entry must start with no block")
	}
	if !e.SetBlock([]byte("data")) {
		t.Fatal("first SetBlock should succeed")
	}
	if e.SetBlock([]byte("other")) {
		t.Fatal("second SetBlock must be a no-op")
	}
	if string(e.Block()) != "data" {
		t.Fatalf("Block() = %q, want %q", e.Block(), "data")
	}

	select {
	case <-e.BlockEvent():
	default:
		t.Fatal("BlockEvent channel should be closed once a block is set")
	}
}

func TestEntrySessions(t *testing.T) {
	c := blocks.NewBlock([]byte("d")).Cid()
	w := New()
	w.Add(c, 1, WantHave)
	e, _ := w.Get(c)

	s1, s2 := fakeSession{1}, fakeSession{2}
	e.AddSession(s1)
	e.AddSession(s2)
	if len(e.Sessions()) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(e.Sessions()))
	}

	e.RemoveSession(s1.ID())
	remaining := e.Sessions()
	if len(remaining) != 1 || remaining[0].ID() != s2.ID() {
		t.Fatalf("unexpected sessions after removal: %+v", remaining)
	}
}

func TestUpgradeToBlockRaisesPriority(t *testing.T) {
	c := blocks.NewBlock([]byte("e")).Cid()
	w := New()
	w.Add(c, 1, WantHave)
	e, _ := w.Get(c)

	e.UpgradeToBlock(10)
	if e.WantType() != WantBlock || e.Priority() != 10 {
		t.Fatalf("after upgrade: type=%s priority=%d", e.WantType(), e.Priority())
	}

	e.UpgradeToBlock(2)
	if e.Priority() != 10 {
		t.Fatal("UpgradeToBlock must never lower priority")
	}
}
