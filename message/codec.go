package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/VladislavSufyanov/go-bitswap/blocks"
	"github.com/VladislavSufyanov/go-bitswap/message/pb"
	"github.com/VladislavSufyanov/go-bitswap/wantlist"
)

// legacyHashFunc is the only hash spec.md §6 allows the 1.0.0 `blocks`
// field to be decoded with: it predates CID prefixes entirely.
const legacyHashFunc = mh.SHA2_256

// ToWire encodes m as the 1.1.0 wire format (payload-with-prefix),
// the default per spec.md §6.
func ToWire(m *BitswapMessage) ([]byte, error) {
	return marshal(m, true)
}

// ToWireLegacy encodes m as the 1.0.0 wire format (bare block bytes,
// no prefix, no presence hints). Implementations may refuse to emit 1.0.0; this one
// still can, for interop with legacy peers, per spec.md §9.
func ToWireLegacy(m *BitswapMessage) ([]byte, error) {
	return marshal(m, false)
}

func marshal(m *BitswapMessage, withPrefix bool) ([]byte, error) {
	out := &pb.Message{}
	if len(m.wantlist) > 0 || m.full {
		wl := &pb.Message_Wantlist{Full: m.full}
		for _, e := range m.wantlist {
			wt := pb.WantTypeBlock
			if e.WantType == wantlist.WantHave {
				wt = pb.WantTypeHave
			}
			wl.Entries = append(wl.Entries, &pb.Message_Wantlist_Entry{
				Block:        e.Cid.Bytes(),
				Priority:     int32(e.Priority),
				Cancel:       e.Cancel,
				WantType:     wt,
				SendDontHave: e.SendDontHave,
			})
		}
		out.Wantlist = wl
	}
	for _, b := range m.payload {
		if withPrefix {
			prefix, err := cidPrefix(b.Cid())
			if err != nil {
				return nil, err
			}
			out.Payload = append(out.Payload, &pb.Message_Block{Prefix: prefix, Data: b.RawData()})
		} else {
			out.Blocks = append(out.Blocks, b.RawData())
		}
	}
	for k, p := range m.presences {
		if !withPrefix {
			// The 1.0.0 format carries no presence hints.
			break
		}
		c, err := cid.Cast([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("encoding presence cid: %w", err)
		}
		pt := pb.BlockPresenceHave
		if p == DontHave {
			pt = pb.BlockPresenceDontHave
		}
		out.BlockPresences = append(out.BlockPresences, &pb.Message_BlockPresence{Cid: c.Bytes(), Type: pt})
	}
	return out.Marshal()
}

// FromWire decodes raw bytes in either the 1.0.0 or 1.1.0 format,
// per spec.md §6 ("Decoder accepts either").
func FromWire(raw []byte) (*BitswapMessage, error) {
	wire := &pb.Message{}
	if err := wire.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("decoding bitswap message: %w", err)
	}
	m := New()
	if wire.Wantlist != nil {
		m.full = wire.Wantlist.Full
		for _, e := range wire.Wantlist.Entries {
			c, err := cid.Cast(e.Block)
			if err != nil {
				return nil, fmt.Errorf("decoding wantlist entry cid: %w", err)
			}
			wt := wantlist.WantBlock
			if e.WantType == pb.WantTypeHave {
				wt = wantlist.WantHave
			}
			m.wantlist[c.KeyString()] = &Entry{
				Cid:          c,
				Priority:     int(e.Priority),
				Cancel:       e.Cancel,
				WantType:     wt,
				SendDontHave: e.SendDontHave,
			}
		}
	}
	for _, raw := range wire.Blocks {
		sum, err := mh.Sum(raw, legacyHashFunc, -1)
		if err != nil {
			return nil, fmt.Errorf("hashing legacy block: %w", err)
		}
		c := cid.NewCidV0(sum)
		blk, err := blocks.NewBlockWithCid(raw, c)
		if err != nil {
			return nil, err
		}
		m.AddBlock(blk)
	}
	for _, p := range wire.Payload {
		c, err := cidFromPrefixAndData(p.Prefix, p.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding payload entry: %w", err)
		}
		blk, err := blocks.NewBlockWithCid(p.Data, c)
		if err != nil {
			return nil, err
		}
		m.AddBlock(blk)
	}
	for _, p := range wire.BlockPresences {
		c, err := cid.Cast(p.Cid)
		if err != nil {
			return nil, fmt.Errorf("decoding presence cid: %w", err)
		}
		pt := Have
		if p.Type == pb.BlockPresenceDontHave {
			pt = DontHave
		}
		m.AddBlockPresence(c, pt)
	}
	return m, nil
}

// cidPrefix encodes the varint-sequence(version, multicodec, hash-code,
// hash-length) prefix spec.md §6 describes for the 1.1.0 payload
// format.
func cidPrefix(c cid.Cid) ([]byte, error) {
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return nil, fmt.Errorf("decoding multihash for cid prefix: %w", err)
	}
	var buf []byte
	buf = appendUvarint(buf, c.Version())
	buf = appendUvarint(buf, uint64(c.Type()))
	buf = appendUvarint(buf, uint64(decoded.Code))
	buf = appendUvarint(buf, uint64(decoded.Length))
	return buf, nil
}

// cidFromPrefixAndData reconstructs a CID of the declared version and
// codec, hashing data with the declared hash function, exactly as
// spec.md §6 describes for 1.1.0 decode.
func cidFromPrefixAndData(prefix, data []byte) (cid.Cid, error) {
	r := bytes.NewReader(prefix)
	version, err := readUvarint(r)
	if err != nil {
		return cid.Undef, fmt.Errorf("reading cid version: %w", err)
	}
	codec, err := readUvarint(r)
	if err != nil {
		return cid.Undef, fmt.Errorf("reading cid codec: %w", err)
	}
	hashCode, err := readUvarint(r)
	if err != nil {
		return cid.Undef, fmt.Errorf("reading hash code: %w", err)
	}
	hashLen, err := readUvarint(r)
	if err != nil {
		return cid.Undef, fmt.Errorf("reading hash length: %w", err)
	}
	sum, err := mh.Sum(data, hashCode, int(hashLen))
	if err != nil {
		return cid.Undef, fmt.Errorf("hashing payload data: %w", err)
	}
	switch version {
	case 0:
		return cid.NewCidV0(sum), nil
	case 1:
		return cid.NewCidV1(codec, sum), nil
	default:
		return cid.Undef, fmt.Errorf("unsupported cid version %d", version)
	}
}

func appendUvarint(buf []byte, v uint64) []byte {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	return append(buf, scratch[:n]...)
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return v, nil
}
