package codec

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/nyxwire/protolens/internal/descriptor"
	"github.com/nyxwire/protolens/internal/wire"
)

// maxSafeInt is the largest (and, negated, smallest) integer exactly
// representable as an IEEE-754 double; 64-bit integers beyond it take
// decimal-string form so downstream JSON consumers keep full precision.
const maxSafeInt = 1<<53 - 1

// Decode resolves typeName via resolver and decodes data against it,
// falling back to blind decode when the type is unresolved.
// Decode never fails fatally: every error becomes an in-tree _error leaf.
func Decode(typeName string, data []byte, resolver Resolver, opts Options) *Value {
	msg := resolver.FindMessage(typeName)
	if msg == nil {
		return DecodeBlind(data, opts)
	}
	return decodeMessage(msg, data, resolver, opts)
}

// decodeMessage decodes data against a known message descriptor.
func decodeMessage(msg *descriptor.Message, data []byte, resolver Resolver, opts Options) *Value {
	out := NewMessage()
	out.TypeName = msg.FullName
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			// Position cannot be trusted past this point; stop the walk but
			// keep everything decoded so far.
			out.Set("_error", errorValue(err.Error()))
			break
		}
		if tag.FieldNumber == 0 {
			break // invalid field number 0 terminates gracefully
		}

		field, ok := msg.FieldByNumber(tag.FieldNumber)
		if !ok {
			name := fmt.Sprintf("field_%d", tag.FieldNumber)
			v, err := decodeBlindValue(r, tag.WireType, opts)
			if err != nil {
				out.Set(name, errorValue(err.Error()))
				break
			}
			out.Set(name, v)
			continue
		}

		if err := decodeKnownField(out, field, tag.WireType, r, resolver, opts); err != nil {
			out.Set(field.Name, errorValue(err.Error()))
			break
		}
	}
	return out
}

// decodeKnownField decodes one occurrence of a declared field and merges
// it into out, honoring repeated/packed/map semantics.
func decodeKnownField(out *Value, field descriptor.Field, wt wire.WireType, r *wire.Reader, resolver Resolver, opts Options) error {
	switch field.Type {
	case descriptor.TypeMessage, descriptor.TypeGroup:
		raw, err := r.ReadLengthDelimited()
		if err != nil {
			return err
		}
		sub := resolver.FindMessage(field.TypeName)
		var subVal *Value
		if sub == nil {
			subVal = DecodeBlind(raw, opts)
		} else {
			subVal = decodeMessage(sub, raw, resolver, opts)
		}
		if sub != nil && sub.IsMapEntry {
			appendMapEntry(out, field.Name, subVal)
			return nil
		}
		appendField(out, field, subVal)
		return nil

	case descriptor.TypeEnum:
		return decodeEnumOrPacked(out, field, wt, r, resolver)

	case descriptor.TypeString:
		raw, err := r.ReadLengthDelimited()
		if err != nil {
			return err
		}
		appendField(out, field, decodeStringBytes(raw, opts))
		return nil

	case descriptor.TypeBytes:
		raw, err := r.ReadLengthDelimited()
		if err != nil {
			return err
		}
		appendField(out, field, bytesValue(append([]byte(nil), raw...), false))
		return nil

	default:
		return decodeScalarOrPacked(out, field, wt, r)
	}
}

// decodeEnumOrPacked handles an ENUM field occurrence, which may arrive
// packed (length-delimited stream of varints) or singly (one varint).
func decodeEnumOrPacked(out *Value, field descriptor.Field, wt wire.WireType, r *wire.Reader, resolver Resolver) error {
	enum := resolver.FindEnum(field.TypeName)
	if wt == wire.LengthDelimited && field.IsRepeated() {
		raw, err := r.ReadLengthDelimited()
		if err != nil {
			return err
		}
		sub := wire.NewReader(raw)
		for !sub.Done() {
			v, err := sub.ReadVarint()
			if err != nil {
				return err
			}
			appendField(out, field, enumValue(int32(v), enum))
		}
		return nil
	}
	v, err := r.ReadVarint()
	if err != nil {
		return err
	}
	appendField(out, field, enumValue(int32(v), enum))
	return nil
}

// decodeScalarOrPacked handles every remaining scalar field type,
// unpacking length-delimited element streams for packable repeated fields.
func decodeScalarOrPacked(out *Value, field descriptor.Field, wt wire.WireType, r *wire.Reader) error {
	if wt == wire.LengthDelimited && field.IsRepeated() && field.Type.IsPackable() {
		raw, err := r.ReadLengthDelimited()
		if err != nil {
			return err
		}
		sub := wire.NewReader(raw)
		for !sub.Done() {
			v, err := decodeScalarElement(sub, field.Type)
			if err != nil {
				return err
			}
			appendField(out, field, v)
		}
		return nil
	}
	v, err := decodeScalarElement(r, field.Type)
	if err != nil {
		return err
	}
	appendField(out, field, v)
	return nil
}

// decodeScalarElement reads exactly one scalar value of ft using its
// natural (unpacked) wire encoding.
func decodeScalarElement(r *wire.Reader, ft descriptor.FieldType) (*Value, error) {
	switch ft {
	case descriptor.TypeInt32:
		v, err := r.ReadVarint()
		return scalarValue(int32(v)), err
	case descriptor.TypeUint32:
		v, err := r.ReadVarint()
		return scalarValue(uint32(v)), err
	case descriptor.TypeSint32:
		v, err := r.ReadSint32()
		return scalarValue(v), err
	case descriptor.TypeSfixed32:
		v, err := r.ReadFixed32()
		return scalarValue(int32(v)), err
	case descriptor.TypeFixed32:
		v, err := r.ReadFixed32()
		return scalarValue(v), err
	case descriptor.TypeFloat:
		v, err := r.ReadFloat()
		return scalarValue(v), err
	case descriptor.TypeBool:
		v, err := r.ReadVarint()
		return scalarValue(v != 0), err
	case descriptor.TypeInt64:
		v, err := r.ReadVarint()
		return safeIntValue(int64(v)), err
	case descriptor.TypeUint64:
		v, err := r.ReadVarint()
		return safeUintValue(v), err
	case descriptor.TypeSint64:
		v, err := r.ReadSint64()
		return safeIntValue(v), err
	case descriptor.TypeFixed64:
		v, err := r.ReadFixed64()
		return safeUintValue(v), err
	case descriptor.TypeSfixed64:
		v, err := r.ReadFixed64()
		return safeIntValue(int64(v)), err
	case descriptor.TypeDouble:
		v, err := r.ReadDouble()
		return scalarValue(v), err
	default:
		return nil, fmt.Errorf("codec: unexpected scalar field type %d", ft)
	}
}

// safeIntValue and safeUintValue render 64-bit integers outside the
// safe-integer range as decimal strings.
func safeIntValue(v int64) *Value {
	if v > maxSafeInt || v < -maxSafeInt {
		return scalarValue(strconv.FormatInt(v, 10))
	}
	return scalarValue(v)
}

func safeUintValue(v uint64) *Value {
	if v > maxSafeInt {
		return scalarValue(strconv.FormatUint(v, 10))
	}
	return scalarValue(v)
}

func enumValue(n int32, enum *descriptor.Enum) *Value {
	v := &Value{Kind: KindEnum, EnumNumber: n}
	if enum != nil {
		if name, ok := enum.NameForNumber(n); ok {
			v.EnumName = name
		}
	}
	return v
}

func decodeStringBytes(raw []byte, opts Options) *Value {
	if utf8.Valid(raw) {
		return scalarValue(string(raw))
	}
	if opts.StrictUTF8 {
		return errorValue("invalid utf-8")
	}
	return bytesValue(append([]byte(nil), raw...), false)
}

// appendField merges a decoded occurrence of field into out: repeated
// fields accumulate in wire order, singular fields take the last value.
func appendField(out *Value, field descriptor.Field, v *Value) {
	if !field.IsRepeated() {
		out.Set(field.Name, v)
		return
	}
	existing, ok := out.Fields[field.Name]
	if !ok || existing.Kind != KindRepeated {
		existing = &Value{Kind: KindRepeated}
		out.Set(field.Name, existing)
	}
	existing.Items = append(existing.Items, v)
}

// appendMapEntry decodes one map_entry submessage value (itself already a
// KindMessage with "key"/"value" fields) into the map field's MapPairs.
func appendMapEntry(out *Value, fieldName string, entry *Value) {
	existing, ok := out.Fields[fieldName]
	if !ok || existing.Kind != KindMap {
		existing = &Value{Kind: KindMap}
		out.Set(fieldName, existing)
	}
	existing.MapPairs = append(existing.MapPairs, MapPair{
		Key:   entry.Fields["key"],
		Value: entry.Fields["value"],
	})
}
