package rar

import (
	"encoding/binary"
	"errors"
)

var (
	errShort    = errors.New("field extends past buffer")
	errOverflow = errors.New("vint overflow")
	errCorrupt  = errors.New("corrupt header")
)

// reader is a cursor over a byte slice where every multi-byte read is bounds checked.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, errShort
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

func (r *reader) u8() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// vint reads a RAR5 variable length integer: 7 bits per byte, high bit set on
// all but the last byte.
func (r *reader) vint() (uint64, error) {
	var v uint64
	for i := 0; i < 10; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errOverflow
}

// vintAt decodes a vint at off without a reader, returning the value and its encoded length.
func vintAt(b []byte, off int) (uint64, int, error) {
	r := reader{buf: b, pos: off}
	v, err := r.vint()
	if err != nil {
		return 0, 0, err
	}
	return v, r.pos - off, nil
}

func align16(n int) int {
	return (n + 15) &^ 15
}
