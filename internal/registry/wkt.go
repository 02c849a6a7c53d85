package registry

import (
	"fmt"

	"github.com/nyxwire/protolens/internal/descriptor"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"

	// Blank-imported so their generated files register themselves with
	// protoregistry.GlobalFiles; wktSource below then re-derives each
	// file's FileDescriptorProto bytes from that linked-in copy and feeds
	// them through our own parser, rather than trusting protoreflect's
	// object model directly.
	_ "google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/anypb"
	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/fieldmaskpb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

// wellKnownFileNames is the built-in set injected when referenced by
// dependency and not already registered.
var wellKnownFileNames = []string{
	"google/protobuf/descriptor.proto",
	"google/protobuf/empty.proto",
	"google/protobuf/timestamp.proto",
	"google/protobuf/duration.proto",
	"google/protobuf/any.proto",
	"google/protobuf/struct.proto",
	"google/protobuf/wrappers.proto",
	"google/protobuf/field_mask.proto",
}

var wellKnownFileSet = func() map[string]bool {
	m := make(map[string]bool, len(wellKnownFileNames))
	for _, n := range wellKnownFileNames {
		m[n] = true
	}
	return m
}()

// wktFile parses a single well-known-type file's bytes through our own
// descriptor.ParseFile on every call (nothing is cached), deriving the bytes from
// protoregistry.GlobalFiles (which google.golang.org/protobuf populated
// via the blank imports above).
func wktFile(name string) (*descriptor.File, error) {
	fd, err := protoregistry.GlobalFiles.FindFileByPath(name)
	if err != nil {
		return nil, fmt.Errorf("well-known type %s not linked: %w", name, err)
	}
	fdProto := protodesc.ToFileDescriptorProto(fd)
	b, err := proto.Marshal(fdProto)
	if err != nil {
		return nil, fmt.Errorf("marshal well-known type %s: %w", name, err)
	}
	return descriptor.ParseFile(b)
}

// injectWellKnownTypes adds any well-known-type file referenced (directly
// or transitively) by merged's dependency edges but not already present.
func injectWellKnownTypes(merged map[string]*descriptor.File) {
	for {
		added := false
		needed := map[string]bool{}
		for _, f := range merged {
			for _, dep := range f.Dependencies {
				if wellKnownFileSet[dep] && merged[dep] == nil {
					needed[dep] = true
				}
			}
		}
		if len(needed) == 0 {
			return
		}
		for name := range needed {
			f, err := wktFile(name)
			if err != nil {
				// Leave unregistered; dependent fields surface as
				// unresolved rather than aborting the whole registration.
				continue
			}
			merged[name] = f
			added = true
		}
		if !added {
			return
		}
	}
}
