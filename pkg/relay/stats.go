package relay

import (
	"sync"
	"time"
)

// UserTraffic aggregates relay counters for one user.
type UserTraffic struct {
	ToOperator   int64
	ToUser       int64
	LastActivity time.Time
}

// Stats aggregates per-user relay traffic and global delivery outcomes.
// Counters are in-memory only.
type Stats struct {
	mu        sync.RWMutex
	delivered int64
	failed    int64
	perUser   map[int64]*UserTraffic
}

func NewStats() *Stats {
	return &Stats{perUser: make(map[int64]*UserTraffic)}
}

// RecordDelivery counts one successful forward. toOperator is true for
// user-to-operator traffic, false for the reply direction.
func (s *Stats) RecordDelivery(userID int64, toOperator bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered++
	t, ok := s.perUser[userID]
	if !ok {
		t = &UserTraffic{}
		s.perUser[userID] = t
	}
	if toOperator {
		t.ToOperator++
	} else {
		t.ToUser++
	}
	t.LastActivity = time.Now()
}

// RecordFailure counts one forward that exhausted its retries.
func (s *Stats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// Totals returns the global delivered/failed counters.
func (s *Stats) Totals() (delivered, failed int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delivered, s.failed
}

// User returns a copy of one user's traffic counters.
func (s *Stats) User(userID int64) (UserTraffic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.perUser[userID]
	if !ok {
		return UserTraffic{}, false
	}
	return *t, true
}
