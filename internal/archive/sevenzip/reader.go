package sevenzip

import (
	"encoding/binary"
	"errors"
)

var (
	errShort   = errors.New("7z: field extends past buffer")
	errCorrupt = errors.New("7z: malformed header")
)

// reader walks a 7z metadata block. All reads are bounds checked.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) u8() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errShort
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n uint64) ([]byte, error) {
	if n > uint64(r.remaining()) {
		return nil, errShort
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) skip(n uint64) error {
	_, err := r.bytes(n)
	return err
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// number reads a 7z NUMBER: the count of leading one bits in the first byte
// gives the number of extra little-endian bytes.
func (r *reader) number() (uint64, error) {
	first, err := r.u8()
	if err != nil {
		return 0, err
	}
	var value uint64
	mask := byte(0x80)
	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			high := uint64(first) & (uint64(mask) - 1)
			return value | high<<(8*i), nil
		}
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		value |= uint64(b) << (8 * i)
		mask >>= 1
	}
	return value, nil
}

// count reads a NUMBER used as an element count, rejecting values that could
// not possibly fit in the remaining bytes.
func (r *reader) count() (int, error) {
	n, err := r.number()
	if err != nil {
		return 0, err
	}
	if n > uint64(r.remaining())*8+8 {
		return 0, errCorrupt
	}
	return int(n), nil
}

// bitField reads n bits, most significant bit first.
func (r *reader) bitField(n int) ([]bool, error) {
	if n < 0 || n > r.remaining()*8 {
		return nil, errShort
	}
	bits := make([]bool, n)
	var cur byte
	for i := 0; i < n; i++ {
		if i%8 == 0 {
			b, err := r.u8()
			if err != nil {
				return nil, err
			}
			cur = b
		}
		bits[i] = cur&(0x80>>(i%8)) != 0
	}
	return bits, nil
}

// optionalBits reads the "all defined" byte followed, if zero, by a bit field.
func (r *reader) optionalBits(n int) ([]bool, error) {
	all, err := r.u8()
	if err != nil {
		return nil, err
	}
	if all == 0 {
		return r.bitField(n)
	}
	if n < 0 || n > r.remaining()*8 {
		return nil, errShort
	}
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = true
	}
	return bits, nil
}
