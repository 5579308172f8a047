// Package bytekiller decompresses the Bytekiller format used by Delphine
// Software titles.
//
// A compressed buffer ends with a 12-byte trailer declaring the output
// size, a checksum seed and the first bitstream word. The output is
// produced back to front: literal bytes are inlined in the bitstream and
// back-references copy from already-written bytes that lie toward the
// high end of the output.
package bytekiller

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arodic/flashback/internal/bitio"
)

var (
	// ErrTooShort is returned for buffers smaller than the trailer.
	ErrTooShort = errors.New("bytekiller: buffer too short")
	// ErrCRCMismatch is returned when the checksum does not cancel to
	// zero after the stream has been consumed.
	ErrCRCMismatch = errors.New("bytekiller: crc mismatch")
)

// unpacker tracks the backwards write over the output buffer.
type unpacker struct {
	br        *bitio.Reader
	dst       []byte
	pos       int // next write position, walks backwards
	remaining int
}

// Unpack decompresses src and returns the output at its declared size.
func Unpack(src []byte) ([]byte, error) {
	if len(src) < bitio.TrailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(src))
	}
	br, err := bitio.NewReader(src)
	if err != nil {
		return nil, err
	}

	size := int(br.Size())
	u := &unpacker{
		br:        br,
		dst:       make([]byte, size),
		pos:       size - 1,
		remaining: size,
	}

	for u.remaining > 0 {
		if err := u.step(); err != nil {
			return nil, err
		}
	}

	if crc := br.Checksum(); crc != 0 {
		return nil, fmt.Errorf("%w: residual 0x%08x", ErrCRCMismatch, crc)
	}
	return u.dst, nil
}

// step decodes one variable-length prefix and performs its copy.
//
//	00           literal, 1-8 bytes
//	01           2-byte reference, 8-bit offset
//	100          3-byte reference, 9-bit offset
//	101          4-byte reference, 10-bit offset
//	110          1-256 byte reference, 12-bit offset
//	111          literal, 9-264 bytes
func (u *unpacker) step() error {
	bit, err := u.br.NextBit()
	if err != nil {
		return err
	}
	if bit == 0 {
		bit, err = u.br.NextBit()
		if err != nil {
			return err
		}
		if bit == 0 {
			n, err := u.br.NextBits(3)
			if err != nil {
				return err
			}
			return u.copyLiteral(int(n) + 1)
		}
		off, err := u.br.NextBits(8)
		if err != nil {
			return err
		}
		return u.copyReference(2, int(off))
	}

	code, err := u.br.NextBits(2)
	if err != nil {
		return err
	}
	switch code {
	case 3:
		n, err := u.br.NextBits(8)
		if err != nil {
			return err
		}
		return u.copyLiteral(int(n) + 9)
	case 2:
		n, err := u.br.NextBits(8)
		if err != nil {
			return err
		}
		off, err := u.br.NextBits(12)
		if err != nil {
			return err
		}
		return u.copyReference(int(n)+1, int(off))
	case 1:
		off, err := u.br.NextBits(10)
		if err != nil {
			return err
		}
		return u.copyReference(4, int(off))
	default:
		off, err := u.br.NextBits(9)
		if err != nil {
			return err
		}
		return u.copyReference(3, int(off))
	}
}

// clip bounds length against the bytes still owed to the output.
func (u *unpacker) clip(length int) int {
	u.remaining -= length
	if u.remaining < 0 {
		length += u.remaining
		u.remaining = 0
	}
	return length
}

func (u *unpacker) copyLiteral(length int) error {
	length = u.clip(length)
	for i := 0; i < length && u.pos >= 0; i++ {
		v, err := u.br.NextBits(8)
		if err != nil {
			return err
		}
		u.dst[u.pos] = byte(v)
		u.pos--
	}
	return nil
}

func (u *unpacker) copyReference(length, offset int) error {
	length = u.clip(length)
	for i := 0; i < length && u.pos >= 0; i++ {
		src := u.pos + offset
		if src >= len(u.dst) {
			return fmt.Errorf("bytekiller: back-reference offset %d out of range at output position %d", offset, u.pos)
		}
		u.dst[u.pos] = u.dst[src]
		u.pos--
	}
	return nil
}

// LooksCompressed reports whether buf plausibly carries a Bytekiller
// stream: the trailer-declared output size must exceed the buffer length
// without being absurdly larger than it.
func LooksCompressed(buf []byte) bool {
	if len(buf) < bitio.TrailerSize {
		return false
	}
	size := int(binary.BigEndian.Uint32(buf[len(buf)-4:]))
	return size > len(buf) && size < len(buf)*20
}
