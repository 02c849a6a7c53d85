package registry

import "sort"

// Snapshot is an immutable, JSON-serializable view of a registry's
// contents, cheap enough to send to a UI over a websocket on every
// registration rather than the full descriptor graph.
type Snapshot struct {
	Files    []string `json:"files"`
	Services []string `json:"services"` // fully-qualified, e.g. "pkg.Service"
	Messages []string `json:"messages"` // fully-qualified
	Enums    []string `json:"enums"`    // fully-qualified

	UnresolvedFieldCount int      `json:"unresolved_field_count"`
	Warnings             []string `json:"warnings"`
}

// Snapshot builds a Snapshot of the registry's current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Files:                sortedKeys(r.files),
		Messages:             sortedKeys(r.messageIndex),
		Enums:                sortedKeys(r.enumIndex),
		UnresolvedFieldCount: len(r.unresolved),
		Warnings:             append([]string(nil), r.warnings...),
	}
	seen := make(map[string]bool)
	for _, f := range r.files {
		for _, svc := range f.Services {
			full := joinName(f.Package, svc.SimpleName)
			if !seen[full] {
				seen[full] = true
				s.Services = append(s.Services, full)
			}
		}
	}
	sort.Strings(s.Services)
	return s
}
