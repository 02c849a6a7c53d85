// Package registry holds the set of known Protobuf files/messages/enums/
// services for a session, resolves dotted type names against them, and
// indexes RPC method paths to their resolved input/output message types.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nyxwire/protolens/internal/descriptor"
)

// ResolvedMethod pairs a parsed Method with the message descriptors its
// input/output type names resolve to, if they do.
type ResolvedMethod struct {
	Service *descriptor.Service
	Method  descriptor.Method
	Input   *descriptor.Message // nil if unresolved
	Output  *descriptor.Message // nil if unresolved
}

// UnresolvedField names a field whose declared MESSAGE/ENUM type_name did
// not resolve to any registered descriptor.
type UnresolvedField struct {
	MessageFullName string
	FieldName       string
	TypeName        string
}

// Registry is append-only within a session: registrations merge in new
// files and atomically rebuild the derived indices. Decoding only ever
// reads the indices, never writes them, so readers never block on a
// registration in progress longer than the rebuild itself.
type Registry struct {
	mu sync.RWMutex

	files        map[string]*descriptor.File
	messageIndex map[string]*descriptor.Message
	enumIndex    map[string]*descriptor.Enum
	methodIndex  map[string]*ResolvedMethod
	unresolved   []UnresolvedField
	warnings     []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		files:        make(map[string]*descriptor.File),
		messageIndex: make(map[string]*descriptor.Message),
		enumIndex:    make(map[string]*descriptor.Enum),
		methodIndex:  make(map[string]*ResolvedMethod),
	}
}

// Clear drops all registered files and returns a fresh registry's indices
// in place; existing references to the Registry stay valid.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = make(map[string]*descriptor.File)
	r.messageIndex = make(map[string]*descriptor.Message)
	r.enumIndex = make(map[string]*descriptor.Enum)
	r.methodIndex = make(map[string]*ResolvedMethod)
	r.unresolved = nil
	r.warnings = nil
}

// RegisterFileDescriptorSet parses a FileDescriptorSet's wire bytes
// (repeated FileDescriptorProto file = 1) and registers every file.
func (r *Registry) RegisterFileDescriptorSet(data []byte) error {
	files, err := parseFileDescriptorSet(data)
	if err != nil {
		return fmt.Errorf("parse file descriptor set: %w", err)
	}
	return r.RegisterFiles(files)
}

// RegisterFileDescriptorProtos parses each raw FileDescriptorProto and
// registers all of them as one atomic registration.
func (r *Registry) RegisterFileDescriptorProtos(protos [][]byte) error {
	files := make([]*descriptor.File, 0, len(protos))
	for _, p := range protos {
		f, err := descriptor.ParseFile(p)
		if err != nil {
			return fmt.Errorf("parse file descriptor proto: %w", err)
		}
		files = append(files, f)
	}
	return r.RegisterFiles(files)
}

// RegisterFiles registers a pre-built set of file descriptors: it injects
// missing well-known-type files, topologically orders the files plus
// whatever was already registered, and rebuilds every index from that
// combined view. Re-registering a file_name already present
// replaces the prior entry.
func (r *Registry) RegisterFiles(files []*descriptor.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := make(map[string]*descriptor.File, len(r.files)+len(files))
	for name, f := range r.files {
		merged[name] = f
	}
	for _, f := range files {
		merged[f.Name] = f
	}

	injectWellKnownTypes(merged)

	ordered, warnings := topoSort(merged)

	messageIndex := make(map[string]*descriptor.Message)
	enumIndex := make(map[string]*descriptor.Enum)
	for _, f := range ordered {
		indexFile(f, messageIndex, enumIndex)
	}

	methodIndex := make(map[string]*ResolvedMethod)
	for _, f := range ordered {
		for _, svc := range f.Services {
			svcFullName := joinName(f.Package, svc.SimpleName)
			svc.FullName = svcFullName
			for _, m := range svc.Methods {
				key := "/" + svcFullName + "/" + m.Name
				methodIndex[key] = &ResolvedMethod{
					Service: svc,
					Method:  m,
					Input:   findMessage(messageIndex, m.InputType),
					Output:  findMessage(messageIndex, m.OutputType),
				}
			}
		}
	}

	r.files = merged
	r.messageIndex = messageIndex
	r.enumIndex = enumIndex
	r.methodIndex = methodIndex
	r.unresolved = computeUnresolved(ordered, messageIndex, enumIndex)
	r.warnings = warnings
	return nil
}

// indexFile walks a file's top-level and nested messages/enums, populating
// messageIndex/enumIndex under their fully-qualified dotted names.
func indexFile(f *descriptor.File, messageIndex map[string]*descriptor.Message, enumIndex map[string]*descriptor.Enum) {
	for _, m := range f.Messages {
		indexMessage(m, f.Package, messageIndex, enumIndex)
	}
	for _, e := range f.Enums {
		e.FullName = joinName(f.Package, lastSegment(e.FullName))
		enumIndex[e.FullName] = e
	}
}

func indexMessage(m *descriptor.Message, parentFullName string, messageIndex map[string]*descriptor.Message, enumIndex map[string]*descriptor.Enum) {
	m.FullName = joinName(parentFullName, m.SimpleName)
	messageIndex[m.FullName] = m
	for _, nm := range m.NestedMessage {
		indexMessage(nm, m.FullName, messageIndex, enumIndex)
	}
	for _, ne := range m.NestedEnums {
		ne.FullName = joinName(m.FullName, lastSegment(ne.FullName))
		enumIndex[ne.FullName] = ne
	}
}

func joinName(parent, simple string) string {
	if parent == "" {
		return simple
	}
	return parent + "." + simple
}

// computeUnresolved walks every registered message's fields and records
// MESSAGE/ENUM fields whose type_name doesn't resolve.
func computeUnresolved(files []*descriptor.File, messageIndex map[string]*descriptor.Message, enumIndex map[string]*descriptor.Enum) []UnresolvedField {
	var out []UnresolvedField
	visit := func(m *descriptor.Message) {
		for _, f := range m.Fields {
			if f.Type != descriptor.TypeMessage && f.Type != descriptor.TypeGroup && f.Type != descriptor.TypeEnum {
				continue
			}
			if f.Type == descriptor.TypeEnum {
				if findEnum(enumIndex, f.TypeName) != nil {
					continue
				}
			} else {
				if findMessage(messageIndex, f.TypeName) != nil {
					continue
				}
			}
			out = append(out, UnresolvedField{MessageFullName: m.FullName, FieldName: f.Name, TypeName: f.TypeName})
		}
	}
	var walk func(m *descriptor.Message)
	walk = func(m *descriptor.Message) {
		visit(m)
		for _, nm := range m.NestedMessage {
			walk(nm)
		}
	}
	for _, f := range files {
		for _, m := range f.Messages {
			walk(m)
		}
	}
	return out
}

// FindMessage resolves a dotted type name to a message descriptor using
// the multi-stage fallback in resolve.go.
func (r *Registry) FindMessage(name string) *descriptor.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return findMessage(r.messageIndex, name)
}

// FindEnum resolves a dotted type name to an enum descriptor using the
// multi-stage fallback in resolve.go.
func (r *Registry) FindEnum(name string) *descriptor.Enum {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return findEnum(r.enumIndex, name)
}

// FindMethod resolves a gRPC method path ("/pkg.Service/Method") to its
// resolved method entry: exact match first, then a case-insensitive
// suffix match on the registered path.
func (r *Registry) FindMethod(path string) *ResolvedMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.methodIndex[path]; ok {
		return m
	}
	lowered := strings.ToLower(path)
	for _, key := range sortedKeys(r.methodIndex) {
		if strings.HasSuffix(strings.ToLower(key), lowered) {
			return r.methodIndex[key]
		}
	}
	return nil
}

// HasMethod reports whether path already resolves, used by the reflection
// coordinator's short-circuit.
func (r *Registry) HasMethod(path string) bool {
	return r.FindMethod(path) != nil
}

// UnresolvedFields returns the fields that could not be resolved as of the
// last registration.
func (r *Registry) UnresolvedFields() []UnresolvedField {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]UnresolvedField(nil), r.unresolved...)
}

// Warnings returns cycle-breaking and other non-fatal registration notes.
func (r *Registry) Warnings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.warnings...)
}

// Files returns the currently registered files, keyed by file_name.
func (r *Registry) Files() map[string]*descriptor.File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*descriptor.File, len(r.files))
	for k, v := range r.files {
		out[k] = v
	}
	return out
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
