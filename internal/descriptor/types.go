// Package descriptor holds structured Protobuf descriptors (file, message,
// enum, service) and the parser that builds them from FileDescriptorProto
// wire bytes. Descriptors never hold pointers into other descriptors —
// every cross-reference is a dotted type name resolved later, at access
// time, through a registry index. This keeps mutually recursive message
// graphs (a field of type Foo nested inside Foo) harmless: there is no
// cycle in the descriptor objects themselves, only in the names.
package descriptor

// FieldType mirrors the Protobuf FieldDescriptorProto.Type enum (TYPE_*).
type FieldType int32

const (
	TypeDouble   FieldType = 1
	TypeFloat    FieldType = 2
	TypeInt64    FieldType = 3
	TypeUint64   FieldType = 4
	TypeInt32    FieldType = 5
	TypeFixed64  FieldType = 6
	TypeFixed32  FieldType = 7
	TypeBool     FieldType = 8
	TypeString   FieldType = 9
	TypeGroup    FieldType = 10
	TypeMessage  FieldType = 11
	TypeBytes    FieldType = 12
	TypeUint32   FieldType = 13
	TypeEnum     FieldType = 14
	TypeSfixed32 FieldType = 15
	TypeSfixed64 FieldType = 16
	TypeSint32   FieldType = 17
	TypeSint64   FieldType = 18
)

// IsPackable reports whether scalars of this type may use packed repeated
// encoding — every scalar type except strings, bytes, and messages/groups.
func (t FieldType) IsPackable() bool {
	switch t {
	case TypeString, TypeBytes, TypeMessage, TypeGroup:
		return false
	default:
		return true
	}
}

// Label mirrors FieldDescriptorProto.Label.
type Label int32

const (
	LabelOptional Label = 1
	LabelRequired Label = 2
	LabelRepeated Label = 3
)

// Field describes one field of a message.
type Field struct {
	Name     string
	Number   int32
	Type     FieldType
	Label    Label
	TypeName string // dotted; non-empty iff Type is Message, Group, or Enum
	Packed   bool
}

// IsRepeated reports whether the field is declared repeated (includes maps).
func (f Field) IsRepeated() bool { return f.Label == LabelRepeated }

// Enum describes a Protobuf enum type.
type Enum struct {
	FullName string
	Values   map[int32]string // number -> name
	// Names maps name -> number, the inverse of Values, built once at parse
	// time so name lookups used by the codec's encode path don't have to
	// scan Values.
	Names map[string]int32
}

// NameForNumber returns the enum value name for number, if declared.
func (e *Enum) NameForNumber(n int32) (string, bool) {
	name, ok := e.Values[n]
	return name, ok
}

// Message describes a Protobuf message type.
type Message struct {
	FullName      string
	SimpleName    string
	Fields        []Field // ordered by declaration
	NestedEnums   []*Enum
	NestedMessage []*Message

	// IsMapEntry marks a synthetic message generated for a `map<K,V>`
	// field (FieldDescriptorProto.Type == MESSAGE whose message_type has
	// map_entry set in its MessageOptions). Registered like any other
	// message so unresolved lookups still succeed, but the codec treats it
	// specially and doesn't emit it as a standalone nested message value.
	IsMapEntry bool
}

// FieldByNumber finds a field by its wire number, or (Field{}, false).
func (m *Message) FieldByNumber(n int32) (Field, bool) {
	for _, f := range m.Fields {
		if f.Number == n {
			return f, true
		}
	}
	return Field{}, false
}

// Method describes one RPC method of a service.
type Method struct {
	Name            string
	InputType       string // dotted
	OutputType      string // dotted
	ClientStreaming bool
	ServerStreaming bool
}

// Service describes a Protobuf service and its methods.
type Service struct {
	FullName   string
	SimpleName string
	Methods    []Method
}

// MethodByName finds a method by its simple name.
func (s *Service) MethodByName(name string) (Method, bool) {
	for _, m := range s.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// File describes one FileDescriptorProto's worth of declarations.
type File struct {
	Name         string
	Package      string
	Dependencies []string
	Messages     []*Message
	Enums        []*Enum
	Services     []*Service
}
