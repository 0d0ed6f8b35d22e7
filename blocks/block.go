// Package blocks defines the immutable (CID, bytes) pair that flows
// through the exchange: everything bitswap moves is a Block.
package blocks

import (
	"bytes"
	"fmt"

	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Block is raw data addressed by its CID. The CID is never trusted on
// its own; NewBlockWithCid re-derives it from the data before handing
// a Block back to a caller that received bytes from the wire.
type Block struct {
	cid  cid.Cid
	data []byte
}

// NewBlock wraps data with the CID implied by it (CIDv1, raw codec,
// sha2-256), the shape used for blocks this node produces locally.
func NewBlock(data []byte) *Block {
	c, err := cid.V1Builder{Codec: cid.Raw, MhType: mh.SHA2_256}.Sum(data)
	if err != nil {
		// Sum only fails for unsupported hash functions; sha2-256 is
		// always registered.
		panic(err)
	}
	return &Block{cid: c, data: data}
}

// NewBlockWithCid verifies that data hashes to c under c's declared
// multihash function before returning a Block. Returns an error if it
// does not -- this is the only validation spec.md requires on decode.
func NewBlockWithCid(data []byte, c cid.Cid) (*Block, error) {
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return nil, fmt.Errorf("decoding multihash of %s: %w", c, err)
	}
	sum, err := mh.Sum(data, decoded.Code, decoded.Length)
	if err != nil {
		return nil, fmt.Errorf("hashing block data for %s: %w", c, err)
	}
	if !bytes.Equal(sum, c.Hash()) {
		return nil, fmt.Errorf("mismatch in content hash for block %s", c)
	}
	return &Block{cid: c, data: data}, nil
}

// Cid returns the block's content identifier.
func (b *Block) Cid() cid.Cid { return b.cid }

// RawData returns the block's payload.
func (b *Block) RawData() []byte { return b.data }

// Size returns len(RawData()).
func (b *Block) Size() int { return len(b.data) }

func (b *Block) String() string {
	return fmt.Sprintf("[Block %s]", b.cid)
}
