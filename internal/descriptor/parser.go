package descriptor

import (
	"strings"

	"github.com/nyxwire/protolens/internal/wire"
)

// ParseFile parses the bytes of a FileDescriptorProto message into a
// structured File. Unknown tags are skipped; the parser only dispatches on
// the fields it needs.
func ParseFile(data []byte) (*File, error) {
	f := &File{}
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return nil, err
		}
		switch tag.FieldNumber {
		case 1: // name
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			f.Name = s
		case 2: // package
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			f.Package = s
		case 3: // dependency
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			f.Dependencies = append(f.Dependencies, s)
		case 4: // message_type
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			m, err := parseMessage(b)
			if err != nil {
				return nil, err
			}
			f.Messages = append(f.Messages, m)
		case 5: // enum_type
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			e, err := parseEnum(b)
			if err != nil {
				return nil, err
			}
			f.Enums = append(f.Enums, e)
		case 6: // service
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			s, err := parseService(b)
			if err != nil {
				return nil, err
			}
			f.Services = append(f.Services, s)
		default:
			if err := r.SkipField(tag.WireType); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// parseMessage parses a DescriptorProto's bytes.
func parseMessage(data []byte) (*Message, error) {
	m := &Message{}
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return nil, err
		}
		switch tag.FieldNumber {
		case 1: // name
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			m.SimpleName = s
		case 2: // field
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			fd, err := parseField(b)
			if err != nil {
				return nil, err
			}
			m.Fields = append(m.Fields, fd)
		case 3: // nested_type
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			nm, err := parseMessage(b)
			if err != nil {
				return nil, err
			}
			m.NestedMessage = append(m.NestedMessage, nm)
		case 4: // enum_type
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			ne, err := parseEnum(b)
			if err != nil {
				return nil, err
			}
			m.NestedEnums = append(m.NestedEnums, ne)
		case 7: // options (MessageOptions)
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			m.IsMapEntry = parseMessageOptionsMapEntry(b)
		default:
			if err := r.SkipField(tag.WireType); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// parseMessageOptionsMapEntry extracts MessageOptions.map_entry (field 7).
func parseMessageOptionsMapEntry(data []byte) bool {
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return false
		}
		if tag.FieldNumber == 7 && tag.WireType == wire.Varint {
			v, err := r.ReadVarint()
			if err != nil {
				return false
			}
			return v != 0
		}
		if err := r.SkipField(tag.WireType); err != nil {
			return false
		}
	}
	return false
}

// parseField parses a FieldDescriptorProto's bytes.
func parseField(data []byte) (Field, error) {
	f := Field{Label: LabelOptional}
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return Field{}, err
		}
		switch tag.FieldNumber {
		case 1: // name
			s, err := readString(r)
			if err != nil {
				return Field{}, err
			}
			f.Name = s
		case 3: // number
			v, err := r.ReadVarint()
			if err != nil {
				return Field{}, err
			}
			f.Number = int32(v)
		case 4: // label
			v, err := r.ReadVarint()
			if err != nil {
				return Field{}, err
			}
			f.Label = Label(v)
		case 5: // type
			v, err := r.ReadVarint()
			if err != nil {
				return Field{}, err
			}
			f.Type = FieldType(v)
		case 6: // type_name
			s, err := readString(r)
			if err != nil {
				return Field{}, err
			}
			f.TypeName = stripLeadingDot(s)
		case 8: // options (FieldOptions)
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return Field{}, err
			}
			f.Packed = parseFieldOptionsPacked(b)
		default:
			if err := r.SkipField(tag.WireType); err != nil {
				return Field{}, err
			}
		}
	}
	return f, nil
}

// parseFieldOptionsPacked extracts FieldOptions.packed (field 2).
func parseFieldOptionsPacked(data []byte) bool {
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return false
		}
		if tag.FieldNumber == 2 && tag.WireType == wire.Varint {
			v, err := r.ReadVarint()
			if err != nil {
				return false
			}
			return v != 0
		}
		if err := r.SkipField(tag.WireType); err != nil {
			return false
		}
	}
	return false
}

// parseEnum parses an EnumDescriptorProto's bytes.
func parseEnum(data []byte) (*Enum, error) {
	e := &Enum{Values: make(map[int32]string), Names: make(map[string]int32)}
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return nil, err
		}
		switch tag.FieldNumber {
		case 1: // name
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			e.FullName = s // caller (registry) rewrites this to the fully-qualified form
		case 2: // value
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			name, number, err := parseEnumValue(b)
			if err != nil {
				return nil, err
			}
			e.Values[number] = name
			e.Names[name] = number
		default:
			if err := r.SkipField(tag.WireType); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

// parseEnumValue parses an EnumValueDescriptorProto's bytes.
func parseEnumValue(data []byte) (name string, number int32, err error) {
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return "", 0, err
		}
		switch tag.FieldNumber {
		case 1:
			name, err = readString(r)
			if err != nil {
				return "", 0, err
			}
		case 2:
			v, err := r.ReadVarint()
			if err != nil {
				return "", 0, err
			}
			number = int32(v)
		default:
			if err := r.SkipField(tag.WireType); err != nil {
				return "", 0, err
			}
		}
	}
	return name, number, nil
}

// parseService parses a ServiceDescriptorProto's bytes.
func parseService(data []byte) (*Service, error) {
	s := &Service{}
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return nil, err
		}
		switch tag.FieldNumber {
		case 1: // name
			name, err := readString(r)
			if err != nil {
				return nil, err
			}
			s.SimpleName = name
		case 2: // method
			b, err := r.ReadLengthDelimited()
			if err != nil {
				return nil, err
			}
			m, err := parseMethod(b)
			if err != nil {
				return nil, err
			}
			s.Methods = append(s.Methods, m)
		default:
			if err := r.SkipField(tag.WireType); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// parseMethod parses a MethodDescriptorProto's bytes.
func parseMethod(data []byte) (Method, error) {
	m := Method{}
	r := wire.NewReader(data)
	for !r.Done() {
		tag, err := r.ReadTag()
		if err != nil {
			return Method{}, err
		}
		switch tag.FieldNumber {
		case 1:
			s, err := readString(r)
			if err != nil {
				return Method{}, err
			}
			m.Name = s
		case 2:
			s, err := readString(r)
			if err != nil {
				return Method{}, err
			}
			m.InputType = stripLeadingDot(s)
		case 3:
			s, err := readString(r)
			if err != nil {
				return Method{}, err
			}
			m.OutputType = stripLeadingDot(s)
		case 5:
			v, err := r.ReadVarint()
			if err != nil {
				return Method{}, err
			}
			m.ClientStreaming = v != 0
		case 6:
			v, err := r.ReadVarint()
			if err != nil {
				return Method{}, err
			}
			m.ServerStreaming = v != 0
		default:
			if err := r.SkipField(tag.WireType); err != nil {
				return Method{}, err
			}
		}
	}
	return m, nil
}

func readString(r *wire.Reader) (string, error) {
	b, err := r.ReadLengthDelimited()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// stripLeadingDot removes the fully-qualified marker `.` some type_name
// values carry.
func stripLeadingDot(s string) string {
	return strings.TrimPrefix(s, ".")
}
