package codec

import (
	"fmt"
	"unicode/utf8"

	"github.com/nyxwire/protolens/internal/wire"
)

// DecodeBlind reconstructs a best-effort value tree purely from wire
// types, with no descriptor available.
func DecodeBlind(data []byte, opts Options) *Value {
	v, _, _ := decodeBlindMessage(data, opts)
	return v
}

// decodeBlindMessage is DecodeBlind's core, additionally reporting how
// many fields it found and how far it got, so a caller probing whether a
// length-delimited blob is "plausibly a nested message" can apply the
// byte-consumption threshold itself.
func decodeBlindMessage(data []byte, opts Options) (*Value, int, int) {
	out := NewMessage()
	r := wire.NewReader(data)
	fields := 0
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			break // position untrustworthy; stop, keep what's parsed
		}
		if tag.FieldNumber == 0 {
			break
		}
		name := fmt.Sprintf("field_%d", tag.FieldNumber)
		v, err := decodeBlindValue(r, tag.WireType, opts)
		if err != nil {
			out.Set(name, errorValue(err.Error()))
			break
		}
		out.Set(name, v)
		fields++
	}
	return out, fields, r.Pos()
}

// decodeBlindValue decodes one field occurrence whose type is inferred
// purely from its wire type.
func decodeBlindValue(r *wire.Reader, wt wire.WireType, opts Options) (*Value, error) {
	switch wt {
	case wire.Varint:
		v, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		return safeUintValue(v), nil
	case wire.Fixed64:
		v, err := r.ReadFixed64()
		if err != nil {
			return nil, err
		}
		return safeUintValue(v), nil
	case wire.Fixed32:
		v, err := r.ReadFixed32()
		if err != nil {
			return nil, err
		}
		return scalarValue(v), nil
	case wire.LengthDelimited:
		raw, err := r.ReadLengthDelimited()
		if err != nil {
			return nil, err
		}
		return classifyLengthDelimited(raw, opts), nil
	default:
		return nil, fmt.Errorf("codec: unsupported wire type %s", wt)
	}
}

// classifyLengthDelimited picks a shape for a length-delimited field:
// nested message if recursive decode consumes enough of the buffer and
// finds at least one field, else strict-UTF8 string, else hex bytes.
func classifyLengthDelimited(raw []byte, opts Options) *Value {
	if len(raw) > 0 {
		sub, fieldCount, consumed := decodeBlindMessage(raw, opts)
		threshold := opts.BlindDecodeThreshold
		if threshold <= 0 {
			threshold = DefaultOptions().BlindDecodeThreshold
		}
		if fieldCount >= 1 && float64(consumed) >= threshold*float64(len(raw)) {
			return sub
		}
	}
	if utf8.Valid(raw) {
		return scalarValue(string(raw))
	}
	return bytesValue(append([]byte(nil), raw...), true)
}
