package message

import (
	"bytes"
	"testing"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

func TestWireRoundTripWantlistAndPresences(t *testing.T) {
	m := New()
	m.SetFull(true)
	c1 := blocks.NewBlock([]byte("wire-a")).Cid()
	c2 := blocks.NewBlock([]byte("wire-b")).Cid()
	m.AddEntry(c1, 3, false, wantlist.WantHave, true)
	m.AddEntry(c2, 1, true, wantlist.WantBlock, false)
	m.AddBlockPresence(c1, Have)
	m.AddBlockPresence(c2, DontHave)

	raw, err := ToWire(m)
	if err != nil {
		t.Fatalf("ToWire: %s", err)
	}

	decoded, err := FromWire(raw)
	if err != nil {
		t.Fatalf("FromWire: %s", err)
	}
	if !decoded.Full() {
		t.Fatal("full flag lost in round trip")
	}

	entries := decoded.Wantlist()
	if len(entries) != 2 {
		t.Fatalf("decoded wantlist len = %d, want 2", len(entries))
	}
	byKey := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		byKey[e.Cid.KeyString()] = e
	}
	e1, ok := byKey[c1.KeyString()]
	if !ok || e1.Priority != 3 || e1.WantType != wantlist.WantHave || !e1.SendDontHave {
		t.Fatalf("decoded entry 1 = %+v", e1)
	}
	e2, ok := byKey[c2.KeyString()]
	if !ok || !e2.Cancel || e2.WantType != wantlist.WantBlock {
		t.Fatalf("decoded entry 2 = %+v", e2)
	}

	presences := decoded.BlockPresences()
	if presences[c1.KeyString()] != Have || presences[c2.KeyString()] != DontHave {
		t.Fatalf("decoded presences = %+v", presences)
	}
}

func TestWireRoundTripPayload(t *testing.T) {
	m := New()
	b := blocks.NewBlock([]byte("payload data"))
	m.AddBlock(b)

	raw, err := ToWire(m)
	if err != nil {
		t.Fatalf("ToWire: %s", err)
	}
	decoded, err := FromWire(raw)
	if err != nil {
		t.Fatalf("FromWire: %s", err)
	}
	got := decoded.Blocks()
	if len(got) != 1 {
		t.Fatalf("decoded blocks len = %d, want 1", len(got))
	}
	if !got[0].Cid().Equals(b.Cid()) {
		t.Fatal("cid mismatch after wire round trip")
	}
	if !bytes.Equal(got[0].RawData(), b.RawData()) {
		t.Fatal("data mismatch after wire round trip")
	}
}

func TestLegacyWireAcceptsBareBlocks(t *testing.T) {
	m := New()
	b := blocks.NewBlock([]byte("legacy payload"))
	m.AddBlock(b)

	raw, err := ToWireLegacy(m)
	if err != nil {
		t.Fatalf("ToWireLegacy: %s", err)
	}
	decoded, err := FromWire(raw)
	if err != nil {
		t.Fatalf("FromWire(legacy): %s", err)
	}
	got := decoded.Blocks()
	if len(got) != 1 || !bytes.Equal(got[0].RawData(), b.RawData()) {
		t.Fatalf("legacy decoded blocks = %+v", got)
	}
}

func TestFromWireRejectsGarbage(t *testing.T) {
	if _, err := FromWire([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected an error decoding malformed bytes")
	}
}
