package wire

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/c360/squawkbus/errors"
)

// Buffer is a growable byte buffer with typed big-endian append and
// extract operations and a read cursor. A Buffer is either being built
// (appends) or consumed (extracts); mixing the two on one instance is
// not meaningful.
type Buffer struct {
	buf []byte
	off int
}

// NewBuffer returns an empty Buffer ready for appends.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// BufferFrom returns a Buffer that reads from b. The slice is not copied.
func BufferFrom(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the full contents of the buffer, including any bytes
// already consumed by extracts.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the total number of bytes held.
func (b *Buffer) Len() int { return len(b.buf) }

// Remaining returns the number of unconsumed bytes.
func (b *Buffer) Remaining() int { return len(b.buf) - b.off }

func (b *Buffer) need(n int) error {
	if b.Remaining() < n {
		return errors.ErrTruncated
	}
	return nil
}

// PutUint8 appends a single byte.
func (b *Buffer) PutUint8(v uint8) {
	b.buf = append(b.buf, v)
}

// Uint8 extracts a single byte.
func (b *Buffer) Uint8() (uint8, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.buf[b.off]
	b.off++
	return v, nil
}

// PutBool appends a bool as one byte, 0 or 1.
func (b *Buffer) PutBool(v bool) {
	if v {
		b.PutUint8(1)
	} else {
		b.PutUint8(0)
	}
}

// Bool extracts a bool. Any non-zero byte reads as true.
func (b *Buffer) Bool() (bool, error) {
	v, err := b.Uint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// PutUint32 appends a big-endian u32.
func (b *Buffer) PutUint32(v uint32) {
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
}

// Uint32 extracts a big-endian u32.
func (b *Buffer) Uint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.buf[b.off:])
	b.off += 4
	return v, nil
}

// PutInt32 appends a big-endian i32.
func (b *Buffer) PutInt32(v int32) {
	b.PutUint32(uint32(v))
}

// Int32 extracts a big-endian i32.
func (b *Buffer) Int32() (int32, error) {
	v, err := b.Uint32()
	return int32(v), err
}

// PutInt64 appends a big-endian i64.
func (b *Buffer) PutInt64(v int64) {
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v))
}

// Int64 extracts a big-endian i64.
func (b *Buffer) Int64() (int64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.buf[b.off:])
	b.off += 8
	return int64(v), nil
}

// PutString appends a u32 length prefix followed by UTF-8 bytes.
// Zero-length strings are legal.
func (b *Buffer) PutString(s string) {
	b.PutUint32(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// String extracts a length-prefixed UTF-8 string.
func (b *Buffer) String() (string, error) {
	raw, err := b.Binary()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", errors.ErrInvalidEncoding
	}
	return string(raw), nil
}

// PutBinary appends a u32 length prefix followed by the raw bytes.
func (b *Buffer) PutBinary(v []byte) {
	b.PutUint32(uint32(len(v)))
	b.buf = append(b.buf, v...)
}

// Binary extracts a length-prefixed byte slice. The result is a copy.
func (b *Buffer) Binary() ([]byte, error) {
	n, err := b.Uint32()
	if err != nil {
		return nil, err
	}
	if err := b.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, b.buf[b.off:])
	b.off += int(n)
	return v, nil
}

// PutInt32Set appends a u32 count followed by the elements in slice
// order. The caller is responsible for element uniqueness; insertion
// order is preserved on the wire.
func (b *Buffer) PutInt32Set(vs []int32) {
	b.PutUint32(uint32(len(vs)))
	for _, v := range vs {
		b.PutInt32(v)
	}
}

// Int32Set extracts a counted i32 set, preserving wire order.
func (b *Buffer) Int32Set() ([]int32, error) {
	n, err := b.Uint32()
	if err != nil {
		return nil, err
	}
	// Guard the count against truncated input before allocating.
	if err := b.need(int(n) * 4); err != nil {
		return nil, err
	}
	vs := make([]int32, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := b.Int32()
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

// PutDataPacket appends a DataPacket: i32 entitlement, string content
// type, counted body bytes.
func (b *Buffer) PutDataPacket(p DataPacket) {
	b.PutInt32(p.Entitlement)
	b.PutString(p.ContentType)
	b.PutBinary(p.Body)
}

// DataPacket extracts a DataPacket.
func (b *Buffer) DataPacket() (DataPacket, error) {
	entitlement, err := b.Int32()
	if err != nil {
		return DataPacket{}, err
	}
	contentType, err := b.String()
	if err != nil {
		return DataPacket{}, err
	}
	body, err := b.Binary()
	if err != nil {
		return DataPacket{}, err
	}
	return DataPacket{Entitlement: entitlement, ContentType: contentType, Body: body}, nil
}

// PutDataPackets appends a u32 count followed by each packet.
func (b *Buffer) PutDataPackets(ps []DataPacket) {
	b.PutUint32(uint32(len(ps)))
	for _, p := range ps {
		b.PutDataPacket(p)
	}
}

// DataPackets extracts a counted vector of DataPacket.
func (b *Buffer) DataPackets() ([]DataPacket, error) {
	n, err := b.Uint32()
	if err != nil {
		return nil, err
	}
	// Each packet is at least 12 bytes (i32 + two u32 prefixes).
	if err := b.need(int(n) * 12); err != nil {
		return nil, err
	}
	ps := make([]DataPacket, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := b.DataPacket()
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// PutKind appends a message kind byte.
func (b *Buffer) PutKind(k Kind) {
	b.PutUint8(uint8(k))
}

// MessageKind extracts and validates a message kind byte.
func (b *Buffer) MessageKind() (Kind, error) {
	v, err := b.Uint8()
	if err != nil {
		return 0, err
	}
	k := Kind(v)
	if !k.valid() {
		return 0, errors.ErrUnknownMessageKind
	}
	return k, nil
}
