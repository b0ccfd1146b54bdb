// Package memory provides an in-process store. State does not survive a
// restart; it backs development setups and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tinyland-inc/switchyard/pkg/store"
)

type Store struct {
	mu          sync.RWMutex
	pending     map[int64]store.Entry
	active      map[int64]store.Entry
	banned      map[int64]struct{}
	transcripts []store.TranscriptMessage
}

func New() *Store {
	return &Store{
		pending: make(map[int64]store.Entry),
		active:  make(map[int64]store.Entry),
		banned:  make(map[int64]struct{}),
	}
}

func (s *Store) AddPending(_ context.Context, userID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] = store.Entry{UserID: userID, Username: username, AddedAt: time.Now()}
	return nil
}

func (s *Store) RemovePending(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
	return nil
}

func (s *Store) ListPending(_ context.Context) ([]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedEntries(s.pending), nil
}

func (s *Store) AddActive(_ context.Context, userID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[userID] = store.Entry{UserID: userID, Username: username, AddedAt: time.Now()}
	return nil
}

func (s *Store) RemoveActive(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, userID)
	return nil
}

func (s *Store) ListActive(_ context.Context) ([]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedEntries(s.active), nil
}

func (s *Store) Ban(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned[userID] = struct{}{}
	return nil
}

func (s *Store) Unban(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.banned, userID)
	return nil
}

func (s *Store) IsBanned(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.banned[userID]
	return ok, nil
}

func (s *Store) ListBanned(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.banned))
	for id := range s.banned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) SaveTranscript(_ context.Context, msg store.TranscriptMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	s.transcripts = append(s.transcripts, msg)
	return nil
}

// Transcripts returns a copy of the recorded transcript, for tests.
func (s *Store) Transcripts() []store.TranscriptMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.TranscriptMessage, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

func (s *Store) Close() error { return nil }

func sortedEntries(m map[int64]store.Entry) []store.Entry {
	out := make([]store.Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

var _ store.Store = (*Store)(nil)
