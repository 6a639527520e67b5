package protocol

import (
	"errors"
	"io"
	"unicode/utf8"
)

// MaxAllocation is the maximum length accepted for a single length-prefixed
// field (4MB). A frame claiming more than this is malformed: the limit
// prevents a hostile length prefix from forcing a huge allocation.
const MaxAllocation = 4 * 1024 * 1024

// Common decoding errors.
var (
	ErrBufferTooShort     = errors.New("protocol: buffer too short")
	ErrVarintOverflow     = errors.New("protocol: varint overflow")
	ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")
	ErrInvalidUTF8        = errors.New("protocol: string is not valid UTF-8")
)

// Decoder is a binary decoder that reads from a byte buffer with a position
// cursor. All reads advance the cursor so callers can decode a frame field
// by field without tracking offsets themselves.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a new decoder over the given byte slice.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// EOF returns true if all bytes have been read.
func (d *Decoder) EOF() bool {
	return d.pos >= len(d.buf)
}

// Position returns the current read position.
func (d *Decoder) Position() int {
	return d.pos
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadOpcode reads a single byte as an opcode.
func (d *Decoder) ReadOpcode() (Opcode, error) {
	b, err := d.ReadByte()
	return Opcode(b), err
}

// ReadUvarint reads an unsigned varint.
func (d *Decoder) ReadUvarint() (uint64, error) {
	var v uint64
	var shift uint

	for {
		if d.pos >= len(d.buf) {
			return 0, io.ErrUnexpectedEOF
		}
		b := d.buf[d.pos]
		d.pos++
		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, ErrVarintOverflow
		}
	}
}

// ReadString reads a length-prefixed UTF-8 string and reports how many
// bytes it consumed, prefix included. Malformed UTF-8 is a decode error:
// there is no recovery within the frame.
func (d *Decoder) ReadString() (string, int, error) {
	start := d.pos
	length, err := d.ReadUvarint()
	if err != nil {
		return "", 0, err
	}
	if length > uint64(d.Remaining()) {
		return "", 0, io.ErrUnexpectedEOF
	}
	if length > MaxAllocation {
		return "", 0, ErrAllocationTooLarge
	}
	n := int(length)
	raw := d.buf[d.pos : d.pos+n]
	if !utf8.Valid(raw) {
		return "", 0, ErrInvalidUTF8
	}
	d.pos += n
	return string(raw), d.pos - start, nil
}

// ReadLenBytes reads length-prefixed bytes.
// Returns a copy of the bytes (safe to retain).
func (d *Decoder) ReadLenBytes() ([]byte, error) {
	length, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if length > uint64(d.Remaining()) {
		return nil, io.ErrUnexpectedEOF
	}
	if length > MaxAllocation {
		return nil, ErrAllocationTooLarge
	}
	n := int(length)
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

// Rest returns a copy of all unread bytes and advances to EOF.
func (d *Decoder) Rest() []byte {
	b := make([]byte, d.Remaining())
	copy(b, d.buf[d.pos:])
	d.pos = len(d.buf)
	return b
}
