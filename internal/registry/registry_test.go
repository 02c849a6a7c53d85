package registry

import (
	"testing"

	"github.com/nyxwire/protolens/internal/descriptor"
	"github.com/nyxwire/protolens/internal/testutil"
)

const addressProto = `
syntax = "proto3";
package demo;

message Address {
  string city = 1;
}
`

const personProto = `
syntax = "proto3";
package demo;

import "address.proto";

message Person {
  string name = 1;
  Address address = 2;
  Kind kind = 3;
}

enum Kind {
  UNKNOWN = 0;
  HUMAN = 1;
}

service People {
  rpc Lookup(Person) returns (Person);
}
`

func compileDemo(t *testing.T) map[string][]byte {
	t.Helper()
	out, err := testutil.CompileSet(map[string]string{
		"address.proto": addressProto,
		"person.proto":  personProto,
	}, "address.proto", "person.proto")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return out
}

func registerDemo(t *testing.T) *Registry {
	t.Helper()
	raw := compileDemo(t)
	r := New()
	for _, name := range []string{"address.proto", "person.proto"} {
		f, err := descriptor.ParseFile(raw[name])
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		if err := r.RegisterFiles([]*descriptor.File{f}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return r
}

func TestRegistryResolvesCrossFileMessage(t *testing.T) {
	r := registerDemo(t)
	person := r.FindMessage("demo.Person")
	if person == nil {
		t.Fatal("demo.Person not found")
	}
	addr, ok := person.FieldByNumber(2)
	if !ok || addr.TypeName != "demo.Address" {
		t.Fatalf("address field = %+v, ok=%v", addr, ok)
	}
	if r.FindMessage("demo.Address") == nil {
		t.Fatal("demo.Address not found")
	}
	if len(r.UnresolvedFields()) != 0 {
		t.Fatalf("unexpected unresolved fields: %+v", r.UnresolvedFields())
	}
}

func TestRegistryNameResolutionFallbacks(t *testing.T) {
	r := registerDemo(t)

	// Suffix match: caller passes a name without the package prefix.
	if r.FindMessage("Address") == nil {
		t.Fatal("suffix match on unqualified name failed")
	}
	// Case-insensitive suffix match.
	if r.FindMessage("ADDRESS") == nil {
		t.Fatal("case-insensitive suffix match failed")
	}
	// Unique last-segment match through a dotted prefix that doesn't exist
	// verbatim anywhere in the index.
	if r.FindMessage("some.other.Address") == nil {
		t.Fatal("unique last-segment match failed")
	}
}

func TestRegistryResolvesMethod(t *testing.T) {
	r := registerDemo(t)
	m := r.FindMethod("/demo.People/Lookup")
	if m == nil {
		t.Fatal("method not found")
	}
	if m.Input == nil || m.Input.FullName != "demo.Person" {
		t.Fatalf("input = %+v", m.Input)
	}
	if m.Output == nil || m.Output.FullName != "demo.Person" {
		t.Fatalf("output = %+v", m.Output)
	}
	if !r.HasMethod("/demo.People/Lookup") {
		t.Fatal("HasMethod returned false")
	}
	if m2 := r.FindMethod("/DEMO.PEOPLE/LOOKUP"); m2 == nil {
		t.Fatal("case-insensitive method lookup failed")
	}
}

func TestRegistryUnresolvedFieldDetection(t *testing.T) {
	raw := compileDemo(t)
	f, err := descriptor.ParseFile(raw["person.proto"])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := New()
	// Register only person.proto, without address.proto: Address doesn't
	// resolve, so it must surface as an unresolved field rather than error.
	if err := r.RegisterFiles([]*descriptor.File{f}); err != nil {
		t.Fatalf("register: %v", err)
	}
	unresolved := r.UnresolvedFields()
	if len(unresolved) != 1 || unresolved[0].TypeName != "demo.Address" {
		t.Fatalf("unresolved = %+v", unresolved)
	}
}

func TestRegistryClear(t *testing.T) {
	r := registerDemo(t)
	r.Clear()
	if r.FindMessage("demo.Person") != nil {
		t.Fatal("message survived Clear")
	}
	if len(r.Files()) != 0 {
		t.Fatal("files survived Clear")
	}
}

func TestTopoSortBreaksCycles(t *testing.T) {
	a := &descriptor.File{Name: "a.proto", Dependencies: []string{"b.proto"}}
	b := &descriptor.File{Name: "b.proto", Dependencies: []string{"a.proto"}}
	files := map[string]*descriptor.File{"a.proto": a, "b.proto": b}

	ordered, warnings := topoSort(files)
	if len(ordered) != 2 {
		t.Fatalf("got %d ordered files, want 2", len(ordered))
	}
	if len(warnings) == 0 {
		t.Fatal("expected a cycle warning")
	}
}

func TestRegisterInjectsWellKnownTypes(t *testing.T) {
	// Hand-built rather than compiled: the test compiler resolves imports
	// only among the fixture files, so a fixture can't import the real
	// google/protobuf/timestamp.proto.
	f := &descriptor.File{
		Name:         "uses_timestamp.proto",
		Package:      "demo",
		Dependencies: []string{"google/protobuf/timestamp.proto"},
		Messages: []*descriptor.Message{{
			SimpleName: "Event",
			Fields: []descriptor.Field{{
				Name:     "created",
				Number:   1,
				Type:     descriptor.TypeMessage,
				Label:    descriptor.LabelOptional,
				TypeName: ".google.protobuf.Timestamp",
			}},
		}},
	}

	r := New()
	if err := r.RegisterFiles([]*descriptor.File{f}); err != nil {
		t.Fatalf("RegisterFiles: %v", err)
	}

	if r.FindMessage("google.protobuf.Timestamp") == nil {
		t.Fatal("google.protobuf.Timestamp was not injected")
	}
	if unresolved := r.UnresolvedFields(); len(unresolved) != 0 {
		t.Fatalf("unresolved fields = %+v, want none", unresolved)
	}
	if _, ok := r.Files()["google/protobuf/timestamp.proto"]; !ok {
		t.Fatal("injected file missing from Files()")
	}
}

func TestRegisterSkipsUnreferencedWellKnownTypes(t *testing.T) {
	r := registerDemo(t)
	if r.FindMessage("google.protobuf.Timestamp") != nil {
		t.Fatal("Timestamp injected without any file depending on it")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := registerDemo(t)
	snap := r.Snapshot()
	if len(snap.Files) != 2 {
		t.Fatalf("snapshot files = %v", snap.Files)
	}
	foundPerson := false
	for _, m := range snap.Messages {
		if m == "demo.Person" {
			foundPerson = true
		}
	}
	if !foundPerson {
		t.Fatalf("snapshot messages missing demo.Person: %v", snap.Messages)
	}
	if len(snap.Services) != 1 || snap.Services[0] != "demo.People" {
		t.Fatalf("snapshot services = %v", snap.Services)
	}
}
