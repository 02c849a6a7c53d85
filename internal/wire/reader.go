package wire

import (
	"encoding/binary"
	"math"
)

// Reader is an immutable view over a contiguous byte range with a movable
// cursor. Every primitive read advances the cursor by exactly the number of
// bytes consumed; reads past the end fail with ErrTruncated.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reading. buf is not copied; callers
// must not mutate it while the Reader is in use.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the total length of the underlying buffer.
func (r *Reader) Len() int { return len(r.buf) }

// Pos returns the current cursor position.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Done reports whether the cursor has reached the end of the buffer.
func (r *Reader) Done() bool { return r.pos >= len(r.buf) }

// Bytes returns the unread tail of the buffer without advancing the cursor.
func (r *Reader) Bytes() []byte { return r.buf[r.pos:] }

// Seek moves the cursor to an absolute position, clamped to [0, Len()].
func (r *Reader) Seek(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(r.buf) {
		pos = len(r.buf)
	}
	r.pos = pos
}

// ReadVarint reads a base-128 varint and advances the cursor.
func (r *Reader) ReadVarint() (uint64, error) {
	var v uint64
	for i := 0; ; i++ {
		if i == 10 {
			return 0, ErrVarintOverflow
		}
		if r.pos >= len(r.buf) {
			return 0, ErrTruncated
		}
		b := r.buf[r.pos]
		r.pos++
		if i == 9 && b > 1 {
			// 10th byte of a varint may only carry the single bit 63.
			return 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			return v, nil
		}
	}
}

// ReadSint32 reads a ZigZag-encoded 32-bit signed varint.
func (r *Reader) ReadSint32() (int32, error) {
	v, err := r.ReadVarint()
	if err != nil {
		return 0, err
	}
	u := uint32(v)
	return int32(u>>1) ^ -int32(u&1), nil
}

// ReadSint64 reads a ZigZag-encoded 64-bit signed varint.
func (r *Reader) ReadSint64() (int64, error) {
	v, err := r.ReadVarint()
	if err != nil {
		return 0, err
	}
	return int64(v>>1) ^ -int64(v&1), nil
}

// ReadFixed32 reads 4 little-endian bytes.
func (r *Reader) ReadFixed32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// ReadFixed64 reads 8 little-endian bytes.
func (r *Reader) ReadFixed64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// ReadFloat reads a little-endian IEEE-754 32-bit float.
func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadFixed32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadDouble reads a little-endian IEEE-754 64-bit float.
func (r *Reader) ReadDouble() (float64, error) {
	v, err := r.ReadFixed64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadLengthDelimited reads a varint length prefix followed by that many
// bytes, returning a slice into the underlying buffer (no copy).
func (r *Reader) ReadLengthDelimited() ([]byte, error) {
	n, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, ErrTruncated
	}
	start := r.pos
	r.pos += int(n)
	return r.buf[start:r.pos], nil
}

// Tag is a decoded field tag: the field number and wire type packed at the
// start of every wire field.
type Tag struct {
	FieldNumber int32
	WireType    WireType
}

// ReadTag reads a tag varint and splits it into field number and wire type.
// Group wire types (3, 4) are rejected with ErrUnsupportedGroup.
func (r *Reader) ReadTag() (Tag, error) {
	v, err := r.ReadVarint()
	if err != nil {
		return Tag{}, err
	}
	wt := WireType(v & 0x7)
	if wt == StartGroup || wt == EndGroup {
		return Tag{}, ErrUnsupportedGroup
	}
	return Tag{FieldNumber: int32(v >> 3), WireType: wt}, nil
}

// SkipField consumes a field's value according to its wire type without
// interpreting it, advancing the cursor past it.
func (r *Reader) SkipField(wt WireType) error {
	switch wt {
	case Varint:
		_, err := r.ReadVarint()
		return err
	case Fixed64:
		_, err := r.ReadFixed64()
		return err
	case Fixed32:
		_, err := r.ReadFixed32()
		return err
	case LengthDelimited:
		_, err := r.ReadLengthDelimited()
		return err
	case StartGroup, EndGroup:
		return ErrUnsupportedGroup
	default:
		return ErrUnsupportedGroup
	}
}
