package target

import (
	"sort"
	"sync"
)

// TagSet is the set of labels attached to one target.
//
// It is the only mutable part of a constructed target: re-adding the same
// logical endpoint under a different tag extends the set in place, which
// may happen while no notify is in flight (single-writer discipline).
type TagSet struct {
	mu sync.RWMutex
	m  map[string]struct{}
}

func NewTagSet(tags ...string) *TagSet {
	s := &TagSet{m: make(map[string]struct{}, len(tags))}
	s.Add(tags...)
	return s
}

func (s *TagSet) Add(tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		if t == "" {
			continue
		}
		s.m[t] = struct{}{}
	}
}

func (s *TagSet) Has(tag string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[tag]
	return ok
}

func (s *TagSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// List returns the tags sorted, for stable logs and introspection output.
func (s *TagSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.m))
	for t := range s.m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
