// Package pb is the wire-level protobuf encoding for bitswap messages
// (spec.md §6). It is hand-written rather than protoc-generated, but
// the types tag themselves as gogo/protobuf proto.Message the same
// way generated code would, and the wire format below is exactly the
// tag/varint/length-delimited protobuf encoding spec.md §6 describes.
package pb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gogo/protobuf/proto"
)

// WantType mirrors spec.md §6's wantType enum.
type WantType int32

const (
	WantTypeBlock WantType = 0
	WantTypeHave  WantType = 1
)

// BlockPresenceType mirrors spec.md §6's blockPresence type enum.
type BlockPresenceType int32

const (
	BlockPresenceHave     BlockPresenceType = 0
	BlockPresenceDontHave BlockPresenceType = 1
)

// Message is the top-level wire message.
type Message struct {
	Wantlist       *Message_Wantlist
	Blocks         [][]byte
	Payload        []*Message_Block
	BlockPresences []*Message_BlockPresence
}

func (*Message) Reset()         {}
func (*Message) ProtoMessage()  {}
func (m *Message) String() string { return fmt.Sprintf("%+v", *m) }

var _ proto.Message = (*Message)(nil)

// Message_Wantlist is the wantlist sub-message.
type Message_Wantlist struct {
	Entries []*Message_Wantlist_Entry
	Full    bool
}

// Message_Wantlist_Entry is one wire-level wantlist entry.
type Message_Wantlist_Entry struct {
	Block        []byte
	Priority     int32
	Cancel       bool
	WantType     WantType
	SendDontHave bool
}

// Message_Block is a 1.1.0 payload entry: a CID prefix plus raw data.
type Message_Block struct {
	Prefix []byte
	Data   []byte
}

// Message_BlockPresence announces Have/DontHave for a CID.
type Message_BlockPresence struct {
	Cid  []byte
	Type BlockPresenceType
}

const (
	fieldWantlist       = 1
	fieldBlocks         = 2
	fieldPayload        = 3
	fieldBlockPresences = 4

	fieldWantlistEntries = 1
	fieldWantlistFull    = 2

	fieldEntryBlock        = 1
	fieldEntryPriority     = 2
	fieldEntryCancel       = 3
	fieldEntryWantType     = 4
	fieldEntrySendDontHave = 5

	fieldBlockPrefix = 1
	fieldBlockData   = 2

	fieldPresenceCid  = 1
	fieldPresenceType = 2

	wireVarint = 0
	wireBytes  = 2
)

func tag(field int, wire int) uint64 { return uint64(field)<<3 | uint64(wire) }

func appendTag(buf []byte, field, wire int) []byte {
	return appendVarint(buf, tag(field, wire))
}

func appendVarint(buf []byte, v uint64) []byte {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	return append(buf, scratch[:n]...)
}

func appendBytesField(buf []byte, field int, data []byte) []byte {
	buf = appendTag(buf, field, wireBytes)
	buf = appendVarint(buf, uint64(len(data)))
	return append(buf, data...)
}

func appendBoolField(buf []byte, field int, v bool) []byte {
	if !v {
		return buf
	}
	buf = appendTag(buf, field, wireVarint)
	return appendVarint(buf, 1)
}

func appendVarintField(buf []byte, field int, v uint64) []byte {
	if v == 0 {
		return buf
	}
	buf = appendTag(buf, field, wireVarint)
	return appendVarint(buf, v)
}

// Marshal encodes m using the wire layout spec.md §6 documents.
func (m *Message) Marshal() ([]byte, error) {
	var buf []byte
	if m.Wantlist != nil {
		wl, err := m.Wantlist.marshal()
		if err != nil {
			return nil, err
		}
		buf = appendBytesField(buf, fieldWantlist, wl)
	}
	for _, b := range m.Blocks {
		buf = appendBytesField(buf, fieldBlocks, b)
	}
	for _, p := range m.Payload {
		pb, err := p.marshal()
		if err != nil {
			return nil, err
		}
		buf = appendBytesField(buf, fieldPayload, pb)
	}
	for _, bp := range m.BlockPresences {
		pb, err := bp.marshal()
		if err != nil {
			return nil, err
		}
		buf = appendBytesField(buf, fieldBlockPresences, pb)
	}
	return buf, nil
}

func (w *Message_Wantlist) marshal() ([]byte, error) {
	var buf []byte
	for _, e := range w.Entries {
		eb, err := e.marshal()
		if err != nil {
			return nil, err
		}
		buf = appendBytesField(buf, fieldWantlistEntries, eb)
	}
	buf = appendBoolField(buf, fieldWantlistFull, w.Full)
	return buf, nil
}

func (e *Message_Wantlist_Entry) marshal() ([]byte, error) {
	var buf []byte
	buf = appendBytesField(buf, fieldEntryBlock, e.Block)
	buf = appendVarintField(buf, fieldEntryPriority, uint64(e.Priority))
	buf = appendBoolField(buf, fieldEntryCancel, e.Cancel)
	buf = appendVarintField(buf, fieldEntryWantType, uint64(e.WantType))
	buf = appendBoolField(buf, fieldEntrySendDontHave, e.SendDontHave)
	return buf, nil
}

func (b *Message_Block) marshal() ([]byte, error) {
	var buf []byte
	buf = appendBytesField(buf, fieldBlockPrefix, b.Prefix)
	buf = appendBytesField(buf, fieldBlockData, b.Data)
	return buf, nil
}

func (p *Message_BlockPresence) marshal() ([]byte, error) {
	var buf []byte
	buf = appendBytesField(buf, fieldPresenceCid, p.Cid)
	buf = appendVarintField(buf, fieldPresenceType, uint64(p.Type))
	return buf, nil
}

// Unmarshal decodes raw into m, replacing its contents.
func (m *Message) Unmarshal(raw []byte) error {
	*m = Message{}
	return forEachField(raw, func(field, wire int, data []byte, scalar uint64) error {
		switch field {
		case fieldWantlist:
			if wire != wireBytes {
				return fmt.Errorf("bitswap pb: wantlist field has wrong wire type %d", wire)
			}
			wl := &Message_Wantlist{}
			if err := wl.unmarshal(data); err != nil {
				return err
			}
			m.Wantlist = wl
		case fieldBlocks:
			m.Blocks = append(m.Blocks, append([]byte(nil), data...))
		case fieldPayload:
			blk := &Message_Block{}
			if err := blk.unmarshal(data); err != nil {
				return err
			}
			m.Payload = append(m.Payload, blk)
		case fieldBlockPresences:
			bp := &Message_BlockPresence{}
			if err := bp.unmarshal(data); err != nil {
				return err
			}
			m.BlockPresences = append(m.BlockPresences, bp)
		}
		return nil
	})
}

func (w *Message_Wantlist) unmarshal(raw []byte) error {
	return forEachField(raw, func(field, wire int, data []byte, scalar uint64) error {
		switch field {
		case fieldWantlistEntries:
			e := &Message_Wantlist_Entry{}
			if err := e.unmarshal(data); err != nil {
				return err
			}
			w.Entries = append(w.Entries, e)
		case fieldWantlistFull:
			w.Full = scalar != 0
		}
		return nil
	})
}

func (e *Message_Wantlist_Entry) unmarshal(raw []byte) error {
	return forEachField(raw, func(field, wire int, data []byte, scalar uint64) error {
		switch field {
		case fieldEntryBlock:
			e.Block = append([]byte(nil), data...)
		case fieldEntryPriority:
			e.Priority = int32(scalar)
		case fieldEntryCancel:
			e.Cancel = scalar != 0
		case fieldEntryWantType:
			e.WantType = WantType(scalar)
		case fieldEntrySendDontHave:
			e.SendDontHave = scalar != 0
		}
		return nil
	})
}

func (b *Message_Block) unmarshal(raw []byte) error {
	return forEachField(raw, func(field, wire int, data []byte, scalar uint64) error {
		switch field {
		case fieldBlockPrefix:
			b.Prefix = append([]byte(nil), data...)
		case fieldBlockData:
			b.Data = append([]byte(nil), data...)
		}
		return nil
	})
}

func (p *Message_BlockPresence) unmarshal(raw []byte) error {
	return forEachField(raw, func(field, wire int, data []byte, scalar uint64) error {
		switch field {
		case fieldPresenceCid:
			p.Cid = append([]byte(nil), data...)
		case fieldPresenceType:
			p.Type = BlockPresenceType(scalar)
		}
		return nil
	})
}

// forEachField walks a protobuf wire-format message, calling fn once
// per field with its decoded bytes (wireBytes) or scalar (wireVarint).
func forEachField(raw []byte, fn func(field, wire int, data []byte, scalar uint64) error) error {
	for len(raw) > 0 {
		key, n := binary.Uvarint(raw)
		if n <= 0 {
			return fmt.Errorf("bitswap pb: reading field tag: malformed varint")
		}
		raw = raw[n:]
		field := int(key >> 3)
		wire := int(key & 0x7)
		switch wire {
		case wireVarint:
			v, n := binary.Uvarint(raw)
			if n <= 0 {
				return fmt.Errorf("bitswap pb: reading varint field %d: malformed varint", field)
			}
			raw = raw[n:]
			if err := fn(field, wire, nil, v); err != nil {
				return err
			}
		case wireBytes:
			l, n := binary.Uvarint(raw)
			if n <= 0 {
				return fmt.Errorf("bitswap pb: reading length of field %d: malformed varint", field)
			}
			raw = raw[n:]
			if uint64(len(raw)) < l {
				return io.ErrUnexpectedEOF
			}
			data := raw[:l]
			raw = raw[l:]
			if err := fn(field, wire, data, 0); err != nil {
				return err
			}
		default:
			return fmt.Errorf("bitswap pb: unsupported wire type %d on field %d", wire, field)
		}
	}
	return nil
}
