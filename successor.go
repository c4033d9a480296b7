package chord

import "sort"

// DefaultSuccessorListSize bounds how many successors a node tracks.
// Chord literature suggests log2(N); 3 is plenty for small rings.
const DefaultSuccessorListSize = 3

// successorList is the bounded, bias-ordered sequence of known successors
// for a single local node. It is never accessed concurrently on its own:
// callers hold the owning Ring's lock (see ring.go).
type successorList struct {
	self Did
	cap  int
	ids  []Did
}

func newSuccessorList(self Did, cap int) *successorList {
	if cap <= 0 {
		cap = DefaultSuccessorListSize
	}
	return &successorList{self: self, cap: cap}
}

// isNone reports whether the list has no known successor yet.
func (s *successorList) isNone() bool {
	return len(s.ids) == 0
}

// min returns the immediate successor, or self if none is known.
func (s *successorList) min() Did {
	if s.isNone() {
		return s.self
	}
	return s.ids[0]
}

// max returns the farthest known successor, or self if none is known.
func (s *successorList) max() Did {
	if s.isNone() {
		return s.self
	}
	return s.ids[len(s.ids)-1]
}

// list returns a defensive copy of the successors, sorted ascending by
// bias from self.
func (s *successorList) list() []Did {
	out := make([]Did, len(s.ids))
	copy(out, s.ids)
	return out
}

// contains reports whether id is already tracked.
func (s *successorList) contains(id Did) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

// update inserts id, preserving bias-ascending order and the K cap. It is
// a no-op if id is self or already present.
func (s *successorList) update(id Did) {
	if id == s.self || s.contains(id) {
		return
	}
	s.ids = append(s.ids, id)
	sort.Slice(s.ids, func(i, j int) bool {
		return bias(s.self, s.ids[i]).Cmp(bias(s.self, s.ids[j])) < 0
	})
	if len(s.ids) > s.cap {
		s.ids = s.ids[:s.cap]
	}
}

// remove drops id from the list if present.
func (s *successorList) remove(id Did) {
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return
		}
	}
}
