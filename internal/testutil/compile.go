// Package testutil compiles literal .proto source into real
// FileDescriptorProto bytes for use as ground truth in unit tests.
package testutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
)

// mapResolver serves proto source text from an in-memory map, keyed by the
// path used in `import "..."` statements.
type mapResolver struct {
	files map[string]string
}

func (r *mapResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	content, ok := r.files[path]
	if !ok {
		return protocompile.SearchResult{}, fmt.Errorf("unknown proto file %q", path)
	}
	return protocompile.SearchResult{Source: strings.NewReader(content)}, nil
}

// CompileSet compiles a set of named .proto sources (path -> content) and
// returns the FileDescriptorProto bytes for each of entrypoints, keyed by path.
// Dependencies not listed in entrypoints are compiled but not returned
// directly; callers get them transitively via each entrypoint's own
// dependency list when they register through the registry under test.
func CompileSet(files map[string]string, entrypoints ...string) (map[string][]byte, error) {
	compiler := protocompile.Compiler{
		Resolver: &mapResolver{files: files},
	}
	compiled, err := compiler.Compile(context.Background(), entrypoints...)
	if err != nil {
		return nil, fmt.Errorf("compile protos: %w", err)
	}

	out := make(map[string][]byte, len(compiled))
	for _, f := range compiled {
		fdProto := protodesc.ToFileDescriptorProto(f)
		b, err := proto.Marshal(fdProto)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", f.Path(), err)
		}
		out[f.Path()] = b
	}
	return out, nil
}
