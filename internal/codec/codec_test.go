package codec

import (
	"testing"

	"github.com/nyxwire/protolens/internal/descriptor"
	"github.com/nyxwire/protolens/internal/registry"
	"github.com/nyxwire/protolens/internal/testutil"
)

const codecTestProto = `
syntax = "proto3";
package codectest;

message Simple {
  int32 id = 1;
  string name = 2;
  repeated int32 tags = 3;
}

message Nested {
  Simple simple = 1;
  map<string, int32> counts = 2;
  Status status = 3;
}

enum Status {
  UNKNOWN = 0;
  ACTIVE = 1;
}
`

func newResolver(t *testing.T) *registry.Registry {
	t.Helper()
	out, err := testutil.CompileSet(map[string]string{"codec.proto": codecTestProto}, "codec.proto")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f, err := descriptor.ParseFile(out["codec.proto"])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := registry.New()
	if err := r.RegisterFiles([]*descriptor.File{f}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func TestDecodeUnaryVarintAndString(t *testing.T) {
	r := newResolver(t)
	// 08 2A 12 04 74 65 73 74 -> {id: 42, name: "test"}
	data := []byte{0x08, 0x2a, 0x12, 0x04, 0x74, 0x65, 0x73, 0x74}
	v := Decode("codectest.Simple", data, r, DefaultOptions())
	if v.Kind != KindMessage {
		t.Fatalf("kind = %v", v.Kind)
	}
	id := v.Fields["id"]
	if id == nil || id.Scalar != int32(42) {
		t.Fatalf("id = %+v", id)
	}
	name := v.Fields["name"]
	if name == nil || name.Scalar != "test" {
		t.Fatalf("name = %+v", name)
	}
}

func TestDecodeBlindUnknownType(t *testing.T) {
	// 08 0A, no schema -> {field_1: 10}
	v := DecodeBlind([]byte{0x08, 0x0a}, DefaultOptions())
	f1 := v.Fields["field_1"]
	if f1 == nil || f1.Scalar != uint64(10) {
		t.Fatalf("field_1 = %+v", f1)
	}
}

func TestEncodeThenDecodeRoundTrip(t *testing.T) {
	r := newResolver(t)
	in := NewMessage()
	in.Set("id", scalarValue(int32(42)))
	in.Set("name", scalarValue("hi"))

	encoded, err := Encode("codectest.Simple", in, r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := Decode("codectest.Simple", encoded, r, DefaultOptions())
	if out.Fields["id"].Scalar != int32(42) {
		t.Fatalf("id = %+v", out.Fields["id"])
	}
	if out.Fields["name"].Scalar != "hi" {
		t.Fatalf("name = %+v", out.Fields["name"])
	}
}

func TestPackedRepeatedRoundTrip(t *testing.T) {
	r := newResolver(t)
	in := NewMessage()
	in.Set("tags", &Value{Kind: KindRepeated, Items: []*Value{
		scalarValue(int32(1)), scalarValue(int32(2)), scalarValue(int32(3)),
	}})

	encoded, err := Encode("codectest.Simple", in, r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := Decode("codectest.Simple", encoded, r, DefaultOptions())
	tags := out.Fields["tags"]
	if tags == nil || len(tags.Items) != 3 {
		t.Fatalf("tags = %+v", tags)
	}
	for i, want := range []int32{1, 2, 3} {
		if tags.Items[i].Scalar != want {
			t.Fatalf("tags[%d] = %+v, want %d", i, tags.Items[i], want)
		}
	}
}

func TestMapFieldRoundTrip(t *testing.T) {
	r := newResolver(t)
	in := NewMessage()
	in.Set("counts", &Value{Kind: KindMap, MapPairs: []MapPair{
		{Key: scalarValue("a"), Value: scalarValue(int32(1))},
		{Key: scalarValue("b"), Value: scalarValue(int32(2))},
	}})

	encoded, err := Encode("codectest.Nested", in, r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := Decode("codectest.Nested", encoded, r, DefaultOptions())
	counts := out.Fields["counts"]
	if counts == nil || counts.Kind != KindMap || len(counts.MapPairs) != 2 {
		t.Fatalf("counts = %+v", counts)
	}
	seen := map[string]int32{}
	for _, p := range counts.MapPairs {
		seen[p.Key.Scalar.(string)] = p.Value.Scalar.(int32)
	}
	if seen["a"] != 1 || seen["b"] != 2 {
		t.Fatalf("counts = %+v", seen)
	}
}

func TestEnumFieldRoundTrip(t *testing.T) {
	r := newResolver(t)
	in := NewMessage()
	in.Set("status", &Value{Kind: KindEnum, EnumName: "ACTIVE"})

	encoded, err := Encode("codectest.Nested", in, r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := Decode("codectest.Nested", encoded, r, DefaultOptions())
	status := out.Fields["status"]
	if status == nil || status.EnumName != "ACTIVE" || status.EnumNumber != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestEncodeSchemaMissing(t *testing.T) {
	r := newResolver(t)
	_, err := Encode("codectest.DoesNotExist", NewMessage(), r)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestTemplateHasEveryDeclaredField(t *testing.T) {
	r := newResolver(t)
	tmpl := Template("codectest.Simple", r)
	if tmpl == nil {
		t.Fatal("nil template")
	}
	for _, name := range []string{"id", "name", "tags"} {
		if _, ok := tmpl.Fields[name]; !ok {
			t.Fatalf("template missing field %q", name)
		}
	}
	if tmpl.Fields["id"].Scalar != int32(0) {
		t.Fatalf("id default = %+v", tmpl.Fields["id"])
	}
	if tmpl.Fields["tags"].Kind != KindRepeated {
		t.Fatalf("tags default = %+v", tmpl.Fields["tags"])
	}
}
