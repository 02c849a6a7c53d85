package wire

import (
	"encoding/binary"
	"math"
)

// Writer accumulates an encoded Protobuf byte stream.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// WriteVarint appends v as a base-128 varint.
func (w *Writer) WriteVarint(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// WriteSint32 appends a ZigZag-encoded 32-bit signed varint.
func (w *Writer) WriteSint32(v int32) {
	w.WriteVarint(uint64(uint32((v << 1) ^ (v >> 31))))
}

// WriteSint64 appends a ZigZag-encoded 64-bit signed varint.
func (w *Writer) WriteSint64(v int64) {
	w.WriteVarint(uint64((v << 1) ^ (v >> 63)))
}

// WriteFixed32 appends 4 little-endian bytes.
func (w *Writer) WriteFixed32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteFixed64 appends 8 little-endian bytes.
func (w *Writer) WriteFixed64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteFloat appends a little-endian IEEE-754 32-bit float.
func (w *Writer) WriteFloat(v float32) {
	w.WriteFixed32(math.Float32bits(v))
}

// WriteDouble appends a little-endian IEEE-754 64-bit float.
func (w *Writer) WriteDouble(v float64) {
	w.WriteFixed64(math.Float64bits(v))
}

// WriteLengthDelimited appends a varint length prefix followed by data.
func (w *Writer) WriteLengthDelimited(data []byte) {
	w.WriteVarint(uint64(len(data)))
	w.buf = append(w.buf, data...)
}

// WriteTag appends a tag combining fieldNumber and wt.
func (w *Writer) WriteTag(fieldNumber int32, wt WireType) {
	w.WriteVarint(uint64(fieldNumber)<<3 | uint64(wt))
}
