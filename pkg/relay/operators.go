package relay

import "sync"

// OperatorSet is the set of chat ids authorized to act as operators. It
// grows monotonically during a process lifetime: configured ids are seeded
// at startup, resolved usernames and self-registrations are added later.
// Order is preserved because forwards walk operators by priority.
type OperatorSet struct {
	mu      sync.RWMutex
	ids     map[int64]struct{}
	ordered []int64
}

func NewOperatorSet(seed []int64) *OperatorSet {
	s := &OperatorSet{ids: make(map[int64]struct{})}
	for _, id := range seed {
		s.add(id)
	}
	return s
}

func (s *OperatorSet) add(id int64) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.ordered = append(s.ordered, id)
	return true
}

// Add registers an operator id. Returns false if already present.
func (s *OperatorSet) Add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(id)
}

// Contains reports whether id is an operator.
func (s *OperatorSet) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// List returns operator ids in priority order.
func (s *OperatorSet) List() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of registered operators.
func (s *OperatorSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}
