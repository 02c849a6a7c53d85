package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadVarint(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint64
	}{
		{"zero", []byte{0x00}, 0},
		{"one byte", []byte{0x2a}, 42},
		{"two bytes", []byte{0xac, 0x02}, 300},
		{"max uint64", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, ^uint64(0)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := NewReader(c.in)
			got, err := r.ReadVarint()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Fatalf("got %d, want %d", got, c.want)
			}
			if r.Pos() != len(c.in) {
				t.Fatalf("cursor at %d, want %d", r.Pos(), len(c.in))
			}
		})
	}
}

func TestReadVarintTruncated(t *testing.T) {
	r := NewReader([]byte{0x80, 0x80})
	_, err := r.ReadVarint()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestReadVarintOverflow(t *testing.T) {
	r := NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01})
	_, err := r.ReadVarint()
	if !errors.Is(err, ErrVarintOverflow) {
		t.Fatalf("got %v, want ErrVarintOverflow", err)
	}
}

func TestZigZagRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 42, -42, 2147483647, -2147483648} {
		w := NewWriter()
		w.WriteSint32(v)
		r := NewReader(w.Bytes())
		got, err := r.ReadSint32()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != v {
			t.Fatalf("got %d, want %d", got, v)
		}
	}
}

func TestReadTagRejectsGroups(t *testing.T) {
	for _, wt := range []WireType{StartGroup, EndGroup} {
		w := NewWriter()
		w.WriteVarint(uint64(1)<<3 | uint64(wt))
		r := NewReader(w.Bytes())
		if _, err := r.ReadTag(); !errors.Is(err, ErrUnsupportedGroup) {
			t.Fatalf("wire type %v: got %v, want ErrUnsupportedGroup", wt, err)
		}
	}
}

func TestUnaryVarintAndString(t *testing.T) {
	// test.Simple { id:int32=1, name:string=2 } encoded as {id:42, name:"test"}.
	in := []byte{0x08, 0x2a, 0x12, 0x04, 0x74, 0x65, 0x73, 0x74}
	r := NewReader(in)

	tag, err := r.ReadTag()
	if err != nil || tag.FieldNumber != 1 || tag.WireType != Varint {
		t.Fatalf("tag1 = %+v, err = %v", tag, err)
	}
	id, err := r.ReadVarint()
	if err != nil || id != 42 {
		t.Fatalf("id = %d, err = %v", id, err)
	}

	tag, err = r.ReadTag()
	if err != nil || tag.FieldNumber != 2 || tag.WireType != LengthDelimited {
		t.Fatalf("tag2 = %+v, err = %v", tag, err)
	}
	name, err := r.ReadLengthDelimited()
	if err != nil || string(name) != "test" {
		t.Fatalf("name = %q, err = %v", name, err)
	}
	if !r.Done() {
		t.Fatalf("expected buffer exhausted, %d bytes remain", r.Remaining())
	}
}

func TestWriterMatchesHandWrittenBytes(t *testing.T) {
	w := NewWriter()
	w.WriteTag(1, Varint)
	w.WriteVarint(42)
	w.WriteTag(2, LengthDelimited)
	w.WriteLengthDelimited([]byte("test"))

	want := []byte{0x08, 0x2a, 0x12, 0x04, 0x74, 0x65, 0x73, 0x74}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("got % x, want % x", w.Bytes(), want)
	}
}

func TestSkipFieldLengthDelimited(t *testing.T) {
	w := NewWriter()
	w.WriteLengthDelimited([]byte{0xaa, 0xbb, 0xcc})
	w.WriteVarint(7)

	r := NewReader(w.Bytes())
	if err := r.SkipField(LengthDelimited); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := r.ReadVarint()
	if err != nil || v != 7 {
		t.Fatalf("v = %d, err = %v", v, err)
	}
}
