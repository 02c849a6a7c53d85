package registry

import (
	"fmt"

	"github.com/nyxwire/protolens/internal/descriptor"
)

// topoSort orders files so that every file appears after all the files it
// depends on. Cycles are broken by skipping the dependency edge that would
// close the cycle; the cycle-closing file is still returned (its dangling
// reference to the skipped dependency shows up later as an unresolved
// field, not a fatal error) and a warning is recorded.
//
// Iteration order over files is by sorted file_name so that the DFS, and
// therefore which edge gets dropped on a cycle, is deterministic.
func topoSort(files map[string]*descriptor.File) ([]*descriptor.File, []string) {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(files))
	var order []*descriptor.File
	var warnings []string

	names := sortedKeys(files)

	var visit func(name string, stack []string)
	visit = func(name string, stack []string) {
		switch state[name] {
		case visited:
			return
		case visiting:
			// Shouldn't happen: callers only recurse into unvisited deps.
			return
		}
		f, ok := files[name]
		if !ok {
			return // dependency never registered; left unresolved downstream
		}
		state[name] = visiting
		for _, dep := range f.Dependencies {
			if dep == name {
				warnings = append(warnings, fmt.Sprintf("file %q depends on itself, skipping edge", name))
				continue
			}
			if state[dep] == visiting {
				warnings = append(warnings, fmt.Sprintf("dependency cycle detected at %q -> %q, skipping edge", name, dep))
				continue
			}
			if _, ok := files[dep]; !ok {
				continue // dependency not registered; field resolution will flag it
			}
			visit(dep, append(stack, name))
		}
		state[name] = visited
		order = append(order, f)
	}

	for _, name := range names {
		visit(name, nil)
	}
	return order, warnings
}
