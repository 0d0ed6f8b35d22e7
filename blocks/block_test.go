package blocks

import (
	"bytes"
	"testing"

	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

func TestNewBlockRoundTrip(t *testing.T) {
	data := []byte("hello bitswap")
	b := NewBlock(data)

	if !bytes.Equal(b.RawData(), data) {
		t.Fatalf("RawData mismatch: got %q want %q", b.RawData(), data)
	}
	if b.Size() != len(data) {
		t.Fatalf("Size() = %d, want %d", b.Size(), len(data))
	}

	verified, err := NewBlockWithCid(data, b.Cid())
	if err != nil {
		t.Fatalf("NewBlockWithCid: %s", err)
	}
	if !verified.Cid().Equals(b.Cid()) {
		t.Fatal("cid mismatch after verification round trip")
	}
}

func TestNewBlockWithCidRejectsMismatch(t *testing.T) {
	b := NewBlock([]byte("original"))
	_, err := NewBlockWithCid([]byte("tampered"), b.Cid())
	if err == nil {
		t.Fatal("expected a hash mismatch error, got nil")
	}
}

func TestNewBlockWithCidBadMultihash(t *testing.T) {
	c := cid.NewCidV1(cid.Raw, []byte("not a real multihash"))
	_, err := NewBlockWithCid([]byte("data"), c)
	if err == nil {
		t.Fatal("expected decode error for malformed multihash")
	}
}

func TestNewBlockWithCidV0(t *testing.T) {
	data := []byte("legacy style block")
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		t.Fatalf("mh.Sum: %s", err)
	}
	c := cid.NewCidV0(sum)
	blk, err := NewBlockWithCid(data, c)
	if err != nil {
		t.Fatalf("NewBlockWithCid: %s", err)
	}
	if !blk.Cid().Equals(c) {
		t.Fatal("cid mismatch")
	}
}
