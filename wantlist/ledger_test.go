package wantlist

import (
	"testing"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
)

func TestLedgerWantsAndCancel(t *testing.T) {
	l := NewLedger()
	c := blocks.NewBlock([]byte("ledger-a")).Cid()

	if !l.Wants(c, 3, WantHave) {
		t.Fatal("first Wants should report a change")
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	if !l.Contains(c) {
		t.Fatal("ledger should contain c")
	}

	e, ok := l.GetEntry(c)
	if !ok || e.Priority() != 3 {
		t.Fatalf("GetEntry = %+v, ok=%v", e, ok)
	}

	if !l.CancelWant(c) {
		t.Fatal("CancelWant should remove the entry")
	}
	if l.Contains(c) {
		t.Fatal("entry should be gone after cancel")
	}
}

func TestLedgerCancelWantTypeRespectsDowngradeRule(t *testing.T) {
	l := NewLedger()
	c := blocks.NewBlock([]byte("ledger-b")).Cid()
	l.Wants(c, 1, WantBlock)

	if l.CancelWantType(c, WantHave) {
		t.Fatal("cancelling a Block want with a Have type must not succeed")
	}
	if !l.Contains(c) {
		t.Fatal("entry should survive the refused cancel")
	}
	if !l.CancelWantType(c, WantBlock) {
		t.Fatal("cancelling a Block want with a Block type should succeed")
	}
}

func TestLedgerEntriesSnapshot(t *testing.T) {
	l := NewLedger()
	for i, s := range []string{"x", "y", "z"} {
		l.Wants(blocks.NewBlock([]byte(s)).Cid(), i, WantHave)
	}
	if got := len(l.Entries()); got != 3 {
		t.Fatalf("Entries() len = %d, want 3", got)
	}
}
