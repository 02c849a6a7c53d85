package codec

import (
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Kind discriminates the shape of a Value node.
type Kind string

const (
	KindMessage  Kind = "message"
	KindRepeated Kind = "repeated"
	KindMap      Kind = "map"
	KindScalar   Kind = "scalar"
	KindEnum     Kind = "enum"
	KindBytes    Kind = "bytes"
	KindError    Kind = "error"
)

// MapPair is one entry of a KindMap value. Key is always a scalar (map
// keys are restricted to integral/bool/string types by the Protobuf spec).
type MapPair struct {
	Key   *Value
	Value *Value
}

// Value is one node of a decoded-or-to-be-encoded Protobuf value tree.
// Only the fields relevant to Kind are populated; the rest are left
// zero.
type Value struct {
	Kind Kind

	// KindMessage
	TypeName   string // full message type name; empty for blind-decoded trees
	Fields     map[string]*Value
	FieldOrder []string // field names in first-seen wire order, for stable re-marshaling

	// KindRepeated
	Items []*Value

	// KindMap
	MapPairs []MapPair

	// KindScalar: bool, int32, uint32, int64, uint64, float32, float64, or
	// string — the decimal-string representation used for 64-bit integers
	// outside the JS-safe-integer range.
	Scalar any

	// KindEnum
	EnumNumber int32
	EnumName   string // empty when the number has no declared name

	// KindBytes
	Bytes []byte
	Hex   bool // true when this came from blind decode's raw-bytes fallback

	// KindError
	ErrorMessage string
}

// NewMessage returns an empty KindMessage value.
func NewMessage() *Value {
	return &Value{Kind: KindMessage, Fields: make(map[string]*Value)}
}

// Set assigns a field on a KindMessage value, recording first-seen order.
func (v *Value) Set(name string, field *Value) {
	if _, exists := v.Fields[name]; !exists {
		v.FieldOrder = append(v.FieldOrder, name)
	}
	v.Fields[name] = field
}

func errorValue(msg string) *Value {
	return &Value{Kind: KindError, ErrorMessage: msg}
}

func scalarValue(v any) *Value {
	return &Value{Kind: KindScalar, Scalar: v}
}

func bytesValue(b []byte, asHex bool) *Value {
	return &Value{Kind: KindBytes, Bytes: b, Hex: asHex}
}

// MarshalJSON renders the tree the way an external UI collaborator
// consumes it: messages and maps as plain JSON objects, repeated as plain
// arrays, enums as their declared name (falling back to the bare number),
// blind-decode raw bytes as hex text and other bytes as base64, and errors
// as a single-key {"_error": "..."} object.
func (v *Value) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	switch v.Kind {
	case KindMessage:
		obj := make(map[string]*Value, len(v.Fields))
		for k, fv := range v.Fields {
			obj[k] = fv
		}
		body, err := marshalOrderedObject(v.FieldOrder, obj)
		if err != nil || v.TypeName == "" {
			return body, err
		}
		tag, err := json.Marshal(v.TypeName)
		if err != nil {
			return nil, err
		}
		out := append([]byte(`{"$type":`), tag...)
		if len(body) > 2 {
			out = append(out, ',')
			out = append(out, body[1:]...)
		} else {
			out = append(out, '}')
		}
		return out, nil
	case KindRepeated:
		return json.Marshal(v.Items)
	case KindMap:
		obj := make(map[string]*Value, len(v.MapPairs))
		order := make([]string, 0, len(v.MapPairs))
		for _, p := range v.MapPairs {
			k := mapKeyString(p.Key)
			obj[k] = p.Value
			order = append(order, k)
		}
		return marshalOrderedObject(order, obj)
	case KindScalar:
		return json.Marshal(v.Scalar)
	case KindEnum:
		if v.EnumName != "" {
			return json.Marshal(v.EnumName)
		}
		return json.Marshal(v.EnumNumber)
	case KindBytes:
		if v.Hex {
			return json.Marshal(hex.EncodeToString(v.Bytes))
		}
		return json.Marshal(v.Bytes) // encoding/json base64-encodes []byte
	case KindError:
		return json.Marshal(map[string]string{"_error": v.ErrorMessage})
	default:
		return []byte("null"), nil
	}
}

func mapKeyString(k *Value) string {
	if k == nil {
		return ""
	}
	switch s := k.Scalar.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}

// marshalOrderedObject renders a JSON object preserving order for fields
// present in `order`, appending any remaining map keys sorted.
func marshalOrderedObject(order []string, obj map[string]*Value) ([]byte, error) {
	seen := make(map[string]bool, len(order))
	buf := []byte{'{'}
	first := true
	write := func(key string, val *Value) error {
		vb, err := val.MarshalJSON()
		if err != nil {
			return err
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
		return nil
	}
	for _, k := range order {
		val, ok := obj[k]
		if !ok {
			continue
		}
		seen[k] = true
		if err := write(k, val); err != nil {
			return nil, err
		}
	}
	var rest []string
	for k := range obj {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if err := write(k, obj[k]); err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}
