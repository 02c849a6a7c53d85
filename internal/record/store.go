package record

import "sync"

// store is an in-memory ring buffer of recently emitted records: enough
// history for a UI's initial load and for re-decoding records against a
// newly-arrived schema, with no persistence across process restarts.
type store struct {
	mu      sync.RWMutex
	records []*EnrichedRecord
	byID    map[string]int // id -> index into records, for in-place replace
	max     int
}

func newStore(max int) *store {
	if max <= 0 {
		max = DefaultOptions().RecentCacheSize
	}
	return &store{
		records: make([]*EnrichedRecord, 0, max),
		byID:    make(map[string]int),
		max:     max,
	}
}

// add appends a newly emitted record, evicting the oldest once over
// capacity. Records are never reordered.
func (s *store) add(rec *EnrichedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > s.max {
		evicted := s.records[0]
		s.records = s.records[1:]
		delete(s.byID, evicted.ID)
		for id, idx := range s.byID {
			s.byID[id] = idx - 1
		}
	}
	s.byID[rec.ID] = len(s.records) - 1
}

// replace swaps the record at rec.ID's slot in place, used by re-decode:
// identity and captured raw fields are preserved by the caller, only the
// decoded fields are new.
func (s *store) replace(rec *EnrichedRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[rec.ID]
	if !ok {
		return false
	}
	s.records[idx] = rec
	return true
}

// recentForOrigin returns every currently-cached record whose URL matches
// origin, in emission order, for the post-reflection re-decode pass.
func (s *store) recentForOrigin(origin string) []*EnrichedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*EnrichedRecord
	for _, r := range s.records {
		if originOf(r.URL) == origin {
			out = append(out, r)
		}
	}
	return out
}

// Recent returns up to limit of the most recently emitted records, oldest
// first, the shape a UI's initial load wants.
func (s *store) Recent(limit int) []*EnrichedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	start := len(s.records) - limit
	out := make([]*EnrichedRecord, limit)
	copy(out, s.records[start:])
	return out
}
