package registry

import "strings"

// findMessage and findEnum implement deterministic multi-stage name
// resolution: exact match, then segment-bounded suffix match,
// then case-insensitive segment-bounded suffix match, then unique
// last-segment match. The first stage to produce a result wins.

func findMessage[T any](index map[string]T, name string) T {
	v, _ := resolveName(index, name)
	return v
}

func findEnum[T any](index map[string]T, name string) T {
	v, _ := resolveName(index, name)
	return v
}

func resolveName[T any](index map[string]T, name string) (T, bool) {
	var zero T
	name = strings.TrimPrefix(name, ".")
	if name == "" {
		return zero, false
	}

	if v, ok := index[name]; ok {
		return v, true
	}
	if v, ok := suffixMatch(index, name, false); ok {
		return v, true
	}
	if v, ok := suffixMatch(index, name, true); ok {
		return v, true
	}
	if v, ok := uniqueLastSegmentMatch(index, name); ok {
		return v, true
	}
	return zero, false
}

// suffixMatch returns the first (by sorted key order, for determinism)
// indexed entry whose dotted name, segment-bounded, ends with query.
func suffixMatch[T any](index map[string]T, query string, caseInsensitive bool) (T, bool) {
	var zero T
	q := query
	if caseInsensitive {
		q = strings.ToLower(q)
	}
	for _, key := range sortedKeys(index) {
		k := key
		if caseInsensitive {
			k = strings.ToLower(k)
		}
		if segmentBoundedSuffix(k, q) {
			return index[key], true
		}
	}
	return zero, false
}

// segmentBoundedSuffix reports whether full equals query, or ends with
// "."+query — i.e. query matches full starting at a dotted segment
// boundary, not partway through a segment.
func segmentBoundedSuffix(full, query string) bool {
	if full == query {
		return true
	}
	return strings.HasSuffix(full, "."+query)
}

// uniqueLastSegmentMatch matches query's final dotted segment against every
// indexed name's final segment, succeeding only if exactly one does.
func uniqueLastSegmentMatch[T any](index map[string]T, query string) (T, bool) {
	var zero T
	target := lastSegment(query)
	var matchKey string
	count := 0
	for _, key := range sortedKeys(index) {
		if lastSegment(key) == target {
			count++
			matchKey = key
			if count > 1 {
				return zero, false
			}
		}
	}
	if count == 1 {
		return index[matchKey], true
	}
	return zero, false
}

func lastSegment(s string) string {
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
