package codec

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/nyxwire/protolens/internal/descriptor"
	"github.com/nyxwire/protolens/internal/wire"
)

// Encode resolves typeName via resolver and encodes v against it, in
// ascending field-number order. Packable repeated scalar and
// enum fields are always packed: this tool targets proto3, where packed
// is the default and the rare explicit opt-out isn't tracked separately
// from "unset" by the descriptor parser.
func Encode(typeName string, v *Value, resolver Resolver) ([]byte, error) {
	msg := resolver.FindMessage(typeName)
	if msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemaMissing, typeName)
	}
	return encodeMessage(msg, v, resolver)
}

func encodeMessage(msg *descriptor.Message, v *Value, resolver Resolver) ([]byte, error) {
	if v == nil || v.Kind != KindMessage {
		return nil, fmt.Errorf("%w: %s expects a message value", ErrTypeMismatch, msg.FullName)
	}
	fields := append([]descriptor.Field(nil), msg.Fields...)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Number < fields[j].Number })

	w := wire.NewWriter()
	for _, field := range fields {
		fv, ok := v.Fields[field.Name]
		if !ok {
			continue // missing fields are omitted; no default emission
		}
		if err := encodeField(w, field, fv, resolver); err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", msg.FullName, field.Name, err)
		}
	}
	return w.Bytes(), nil
}

func encodeField(w *wire.Writer, field descriptor.Field, fv *Value, resolver Resolver) error {
	if field.Type == descriptor.TypeMessage && fv.Kind == KindMap {
		if sub := mapEntryDescriptor(field, resolver); sub != nil {
			return encodeMapPairs(w, field, sub, fv, resolver)
		}
	}

	if !field.IsRepeated() {
		return encodeSingular(w, field, fv, resolver)
	}

	if fv.Kind != KindRepeated {
		return fmt.Errorf("%w: expected repeated value", ErrTypeMismatch)
	}
	if field.Type.IsPackable() {
		return encodePacked(w, field, fv.Items, resolver)
	}
	for _, item := range fv.Items {
		if err := encodeSingular(w, field, item, resolver); err != nil {
			return err
		}
	}
	return nil
}

func mapEntryDescriptor(field descriptor.Field, resolver Resolver) *descriptor.Message {
	sub := resolver.FindMessage(field.TypeName)
	if sub != nil && sub.IsMapEntry {
		return sub
	}
	return nil
}

func encodeMapPairs(w *wire.Writer, field descriptor.Field, entry *descriptor.Message, fv *Value, resolver Resolver) error {
	keyField, _ := entry.FieldByNumber(1)
	valField, _ := entry.FieldByNumber(2)
	for _, pair := range fv.MapPairs {
		entryMsg := NewMessage()
		entryMsg.Set("key", pair.Key)
		entryMsg.Set("value", pair.Value)
		body, err := encodeMessageFields(entry, []descriptor.Field{keyField, valField}, entryMsg, resolver)
		if err != nil {
			return err
		}
		w.WriteTag(field.Number, wire.LengthDelimited)
		w.WriteLengthDelimited(body)
	}
	return nil
}

// encodeMessageFields encodes an explicit field list rather than a whole
// message descriptor's Fields slice, used for synthesized map entries.
func encodeMessageFields(msg *descriptor.Message, fields []descriptor.Field, v *Value, resolver Resolver) ([]byte, error) {
	sorted := append([]descriptor.Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	w := wire.NewWriter()
	for _, field := range sorted {
		fv, ok := v.Fields[field.Name]
		if !ok || fv == nil {
			continue
		}
		if err := encodeField(w, field, fv, resolver); err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", msg.FullName, field.Name, err)
		}
	}
	return w.Bytes(), nil
}

// encodeSingular encodes one occurrence (tag + value) of field.
func encodeSingular(w *wire.Writer, field descriptor.Field, fv *Value, resolver Resolver) error {
	switch field.Type {
	case descriptor.TypeMessage, descriptor.TypeGroup:
		sub := resolver.FindMessage(field.TypeName)
		if sub == nil {
			return fmt.Errorf("%w: %s", ErrSchemaMissing, field.TypeName)
		}
		body, err := encodeMessage(sub, fv, resolver)
		if err != nil {
			return err
		}
		w.WriteTag(field.Number, wire.LengthDelimited)
		w.WriteLengthDelimited(body)
		return nil

	case descriptor.TypeEnum:
		n, err := enumNumberOf(field, fv, resolver)
		if err != nil {
			return err
		}
		w.WriteTag(field.Number, wire.Varint)
		w.WriteVarint(uint64(uint32(n)))
		return nil

	case descriptor.TypeString:
		s, ok := fv.Scalar.(string)
		if fv.Kind != KindScalar || !ok {
			return fmt.Errorf("%w: expected string", ErrTypeMismatch)
		}
		w.WriteTag(field.Number, wire.LengthDelimited)
		w.WriteLengthDelimited([]byte(s))
		return nil

	case descriptor.TypeBytes:
		if fv.Kind != KindBytes {
			return fmt.Errorf("%w: expected bytes", ErrTypeMismatch)
		}
		w.WriteTag(field.Number, wire.LengthDelimited)
		w.WriteLengthDelimited(fv.Bytes)
		return nil

	default:
		return encodeScalarTagged(w, field, fv)
	}
}

// encodePacked encodes a repeated packable field as one length-delimited
// blob containing each element's natural (unpacked) encoding concatenated.
func encodePacked(w *wire.Writer, field descriptor.Field, items []*Value, resolver Resolver) error {
	body := wire.NewWriter()
	for _, item := range items {
		if field.Type == descriptor.TypeEnum {
			n, err := enumNumberOf(field, item, resolver)
			if err != nil {
				return err
			}
			body.WriteVarint(uint64(uint32(n)))
			continue
		}
		if err := encodeScalarElement(body, field.Type, item); err != nil {
			return err
		}
	}
	w.WriteTag(field.Number, wire.LengthDelimited)
	w.WriteLengthDelimited(body.Bytes())
	return nil
}

func encodeScalarTagged(w *wire.Writer, field descriptor.Field, fv *Value) error {
	switch field.Type {
	case descriptor.TypeInt32, descriptor.TypeUint32, descriptor.TypeInt64, descriptor.TypeUint64, descriptor.TypeSint32, descriptor.TypeSint64, descriptor.TypeBool:
		w.WriteTag(field.Number, wire.Varint)
	case descriptor.TypeFixed32, descriptor.TypeSfixed32, descriptor.TypeFloat:
		w.WriteTag(field.Number, wire.Fixed32)
	case descriptor.TypeFixed64, descriptor.TypeSfixed64, descriptor.TypeDouble:
		w.WriteTag(field.Number, wire.Fixed64)
	default:
		return fmt.Errorf("codec: unexpected scalar field type %d", field.Type)
	}
	return encodeScalarElement(w, field.Type, fv)
}

func enumNumberOf(field descriptor.Field, fv *Value, resolver Resolver) (int32, error) {
	if fv.Kind != KindEnum {
		return 0, fmt.Errorf("%w: expected enum", ErrTypeMismatch)
	}
	if fv.EnumName == "" {
		return fv.EnumNumber, nil
	}
	enum := resolver.FindEnum(field.TypeName)
	if enum == nil {
		return 0, fmt.Errorf("%w: %s", ErrSchemaMissing, field.TypeName)
	}
	if n, ok := enum.Names[fv.EnumName]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("%w: unknown enum value %q", ErrTypeMismatch, fv.EnumName)
}

// encodeScalarElement writes fv's value (no tag) using ft's wire encoding.
func encodeScalarElement(w *wire.Writer, ft descriptor.FieldType, fv *Value) error {
	if fv.Kind != KindScalar {
		return fmt.Errorf("%w: expected scalar", ErrTypeMismatch)
	}
	switch ft {
	case descriptor.TypeInt32:
		n, err := toInt64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteVarint(uint64(int32(n)))
	case descriptor.TypeUint32:
		n, err := toInt64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteVarint(uint64(uint32(n)))
	case descriptor.TypeInt64:
		n, err := toInt64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteVarint(uint64(n))
	case descriptor.TypeUint64:
		n, err := toUint64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteVarint(n)
	case descriptor.TypeSint32:
		n, err := toInt64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteSint32(int32(n))
	case descriptor.TypeSint64:
		n, err := toInt64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteSint64(n)
	case descriptor.TypeFixed32:
		n, err := toInt64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteFixed32(uint32(n))
	case descriptor.TypeSfixed32:
		n, err := toInt64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteFixed32(uint32(int32(n)))
	case descriptor.TypeFixed64:
		n, err := toUint64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteFixed64(n)
	case descriptor.TypeSfixed64:
		n, err := toInt64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteFixed64(uint64(n))
	case descriptor.TypeFloat:
		f, err := toFloat64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteFloat(float32(f))
	case descriptor.TypeDouble:
		f, err := toFloat64(fv.Scalar)
		if err != nil {
			return err
		}
		w.WriteDouble(f)
	case descriptor.TypeBool:
		b, ok := fv.Scalar.(bool)
		if !ok {
			return fmt.Errorf("%w: expected bool", ErrTypeMismatch)
		}
		if b {
			w.WriteVarint(1)
		} else {
			w.WriteVarint(0)
		}
	default:
		return fmt.Errorf("codec: unexpected scalar field type %d", ft)
	}
	return nil
}

// toInt64/toUint64/toFloat64 coerce the handful of Go types Decode and an
// external caller (JSON-unmarshaled values) may plausibly hand back,
// including the decimal-string form Decode uses for unsafe 64-bit values.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: expected integer, got %T", ErrTypeMismatch, v)
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case int32:
		return uint64(n), nil
	case int64:
		return uint64(n), nil
	case float64:
		return uint64(n), nil
	case string:
		parsed, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: expected unsigned integer, got %T", ErrTypeMismatch, v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: expected float, got %T", ErrTypeMismatch, v)
	}
}
