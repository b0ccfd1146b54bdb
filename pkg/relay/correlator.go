package relay

import (
	"sync"
	"time"
)

type corrKey struct {
	chatID    int64
	messageID int
}

type corrEntry struct {
	userID     int64
	recordedAt time.Time
}

// Correlator maps a delivered message's identity on an operator surface
// back to the user it was forwarded for. It is the mechanism that keeps
// concurrent conversations through one operator surface from cross-talking:
// an operator reply is routed by the exact message it replies to, never by
// a "last active user" guess.
//
// Entries are routing hints, not durable state. They are evicted when the
// owning user's session ends and swept once they exceed a TTL.
type Correlator struct {
	mu      sync.Mutex
	entries map[corrKey]corrEntry
}

func NewCorrelator() *Correlator {
	return &Correlator{entries: make(map[corrKey]corrEntry)}
}

// Record stores the mapping for one successful forward-to-operator.
func (c *Correlator) Record(operatorChatID int64, deliveredMessageID int, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[corrKey{operatorChatID, deliveredMessageID}] = corrEntry{
		userID:     userID,
		recordedAt: time.Now(),
	}
}

// Resolve returns the user a reply targets, keyed by the replied-to
// message on the operator surface.
func (c *Correlator) Resolve(operatorChatID int64, repliedToMessageID int) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[corrKey{operatorChatID, repliedToMessageID}]
	if !ok {
		return 0, false
	}
	return e.userID, true
}

// DropUser evicts every entry recorded for userID and returns the count.
// Called when the user's session ends or the user is banned.
func (c *Correlator) DropUser(userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, e := range c.entries {
		if e.userID == userID {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// SweepOlderThan evicts entries recorded before now-ttl and returns the
// count. Run periodically to bound table growth from sessions that never
// formally end.
func (c *Correlator) SweepOlderThan(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	swept := 0
	for k, e := range c.entries {
		if e.recordedAt.Before(cutoff) {
			delete(c.entries, k)
			swept++
		}
	}
	return swept
}

// Len returns the number of live entries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
