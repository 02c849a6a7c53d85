package descriptor

import (
	"testing"

	"github.com/nyxwire/protolens/internal/testutil"
)

const simpleProto = `
syntax = "proto3";
package test;

message Simple {
  int32 id = 1;
  string name = 2;
  repeated int32 tags = 3;
}

enum Status {
  UNKNOWN = 0;
  ACTIVE = 1;
  DONE = 2;
}

service Greeter {
  rpc Greet(Simple) returns (Simple);
}
`

func compileSimple(t *testing.T) []byte {
	t.Helper()
	out, err := testutil.CompileSet(map[string]string{"simple.proto": simpleProto}, "simple.proto")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return out["simple.proto"]
}

func TestParseFileMessage(t *testing.T) {
	b := compileSimple(t)
	f, err := ParseFile(b)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if f.Package != "test" {
		t.Fatalf("package = %q, want %q", f.Package, "test")
	}
	if len(f.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(f.Messages))
	}
	m := f.Messages[0]
	if m.SimpleName != "Simple" {
		t.Fatalf("simple name = %q", m.SimpleName)
	}
	if len(m.Fields) != 3 {
		t.Fatalf("got %d fields, want 3", len(m.Fields))
	}

	id, ok := m.FieldByNumber(1)
	if !ok || id.Name != "id" || id.Type != TypeInt32 {
		t.Fatalf("field 1 = %+v, ok=%v", id, ok)
	}
	name, ok := m.FieldByNumber(2)
	if !ok || name.Name != "name" || name.Type != TypeString {
		t.Fatalf("field 2 = %+v, ok=%v", name, ok)
	}
	tags, ok := m.FieldByNumber(3)
	if !ok || tags.Name != "tags" || !tags.IsRepeated() || !tags.Type.IsPackable() {
		t.Fatalf("field 3 = %+v, ok=%v", tags, ok)
	}
}

func TestParseFileEnum(t *testing.T) {
	b := compileSimple(t)
	f, err := ParseFile(b)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(f.Enums) != 1 {
		t.Fatalf("got %d enums, want 1", len(f.Enums))
	}
	e := f.Enums[0]
	if name, ok := e.NameForNumber(1); !ok || name != "ACTIVE" {
		t.Fatalf("value 1 = %q, ok=%v", name, ok)
	}
}

func TestParseFileService(t *testing.T) {
	b := compileSimple(t)
	f, err := ParseFile(b)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(f.Services) != 1 {
		t.Fatalf("got %d services, want 1", len(f.Services))
	}
	svc := f.Services[0]
	if svc.SimpleName != "Greeter" {
		t.Fatalf("service name = %q", svc.SimpleName)
	}
	m, ok := svc.MethodByName("Greet")
	if !ok {
		t.Fatalf("method Greet not found")
	}
	if m.InputType != "test.Simple" || m.OutputType != "test.Simple" {
		t.Fatalf("method = %+v", m)
	}
}

func TestParseFileUnknownFieldsSkipped(t *testing.T) {
	// A compiled FileDescriptorProto followed by a top-level field the
	// parser does not dispatch on (15, varint) — the parser must skip it
	// without failing the walk.
	b := compileSimple(t)
	// Append the extra varint field to the wire bytes directly.
	extra := append(append([]byte{}, b...), 0x78, 0x01) // field 15, varint, value 1
	if _, err := ParseFile(extra); err != nil {
		t.Fatalf("ParseFile with unknown field: %v", err)
	}
}
