package codec

import "github.com/nyxwire/protolens/internal/descriptor"

// Template returns a zeroed value tree for typeName with every declared
// field present at its default, used to seed interactive request
// editing. Returns nil if typeName doesn't resolve.
func Template(typeName string, resolver Resolver) *Value {
	msg := resolver.FindMessage(typeName)
	if msg == nil {
		return nil
	}
	return templateMessage(msg, resolver, map[string]bool{})
}

// templateMessage guards against unbounded recursion on self-referential
// message graphs (a message that nests itself, directly or through a
// cycle of message-typed fields) by templating such a field as an empty
// message rather than recursing forever.
func templateMessage(msg *descriptor.Message, resolver Resolver, seen map[string]bool) *Value {
	if seen[msg.FullName] {
		v := NewMessage()
		v.TypeName = msg.FullName
		return v
	}
	seen[msg.FullName] = true
	defer delete(seen, msg.FullName)

	out := NewMessage()
	out.TypeName = msg.FullName
	for _, field := range msg.Fields {
		out.Set(field.Name, templateField(field, resolver, seen))
	}
	return out
}

func templateField(field descriptor.Field, resolver Resolver, seen map[string]bool) *Value {
	if field.IsRepeated() {
		if field.Type == descriptor.TypeMessage {
			if sub := mapEntryDescriptor(field, resolver); sub != nil {
				return &Value{Kind: KindMap}
			}
		}
		return &Value{Kind: KindRepeated}
	}
	return templateScalarOrMessage(field, resolver, seen)
}

func templateScalarOrMessage(field descriptor.Field, resolver Resolver, seen map[string]bool) *Value {
	switch field.Type {
	case descriptor.TypeMessage, descriptor.TypeGroup:
		sub := resolver.FindMessage(field.TypeName)
		if sub == nil {
			return NewMessage()
		}
		return templateMessage(sub, resolver, seen)
	case descriptor.TypeEnum:
		enum := resolver.FindEnum(field.TypeName)
		v := &Value{Kind: KindEnum, EnumNumber: 0}
		if enum != nil {
			if name, ok := enum.NameForNumber(0); ok {
				v.EnumName = name
			}
		}
		return v
	case descriptor.TypeString:
		return scalarValue("")
	case descriptor.TypeBytes:
		return bytesValue(nil, false)
	case descriptor.TypeBool:
		return scalarValue(false)
	case descriptor.TypeFloat, descriptor.TypeDouble:
		return scalarValue(float64(0))
	default:
		return scalarValue(int32(0))
	}
}
