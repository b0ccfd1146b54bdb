package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tinyland-inc/switchyard/pkg/store"
)

// Registry is the authoritative in-memory view of the pending and active
// user sets, kept consistent with the durable store. A user is in at most
// one of the two sets; ban is an orthogonal flag that wins over both.
//
// Every mutating operation writes through to the store before touching
// memory, so a persistence failure leaves the in-memory view unchanged and
// the two can never diverge on a failure path. One mutex covers every
// read-check-then-write sequence; contention is low, registry mutations
// are rare next to forwards.
type Registry struct {
	mu      sync.Mutex
	store   store.Store
	pending map[int64]struct{}
	active  map[int64]struct{}
	banned  map[int64]struct{}
}

func NewRegistry(st store.Store) *Registry {
	return &Registry{
		store:   st,
		pending: make(map[int64]struct{}),
		active:  make(map[int64]struct{}),
		banned:  make(map[int64]struct{}),
	}
}

// Load rebuilds the in-memory sets from the store. Called once at startup;
// the store is the source of truth across restarts.
func (r *Registry) Load(ctx context.Context) error {
	pending, err := r.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending set: %w", err)
	}
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active set: %w", err)
	}
	banned, err := r.store.ListBanned(ctx)
	if err != nil {
		return fmt.Errorf("load ban set: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[int64]struct{}, len(pending))
	for _, e := range pending {
		r.pending[e.UserID] = struct{}{}
	}
	r.active = make(map[int64]struct{}, len(active))
	for _, e := range active {
		r.active[e.UserID] = struct{}{}
	}
	r.banned = make(map[int64]struct{}, len(banned))
	for _, id := range banned {
		r.banned[id] = struct{}{}
	}
	return nil
}

// RequestContact moves an unregistered user into pending. Idempotent for
// users already pending or active; rejected for banned users.
func (r *Registry) RequestContact(ctx context.Context, userID int64, username string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banned[userID]; ok {
		return ResultBanned, nil
	}
	if _, ok := r.active[userID]; ok {
		return ResultAlreadyActive, nil
	}
	if _, ok := r.pending[userID]; ok {
		return ResultAlreadyPending, nil
	}
	if err := r.store.AddPending(ctx, userID, username); err != nil {
		return "", fmt.Errorf("persist pending %d: %w", userID, err)
	}
	r.pending[userID] = struct{}{}
	return ResultAccepted, nil
}

// CancelRequest removes a user from pending. No-op if not pending.
func (r *Registry) CancelRequest(ctx context.Context, userID int64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[userID]; !ok {
		return ResultNotPending, nil
	}
	if err := r.store.RemovePending(ctx, userID); err != nil {
		return "", fmt.Errorf("remove pending %d: %w", userID, err)
	}
	delete(r.pending, userID)
	return ResultCanceled, nil
}

// Accept moves a pending user to active.
func (r *Registry) Accept(ctx context.Context, userID int64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[userID]; !ok {
		return ResultNotPending, nil
	}
	if err := r.store.RemovePending(ctx, userID); err != nil {
		return "", fmt.Errorf("remove pending %d: %w", userID, err)
	}
	if err := r.store.AddActive(ctx, userID, ""); err != nil {
		// Compensate so durable and in-memory state stay aligned.
		if restoreErr := r.store.AddPending(ctx, userID, ""); restoreErr != nil {
			return "", fmt.Errorf("activate %d: %w (restore pending also failed: %v)", userID, err, restoreErr)
		}
		return "", fmt.Errorf("activate %d: %w", userID, err)
	}
	delete(r.pending, userID)
	r.active[userID] = struct{}{}
	return ResultConnected, nil
}

// Reject removes a pending user without activating.
func (r *Registry) Reject(ctx context.Context, userID int64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[userID]; !ok {
		return ResultNotPending, nil
	}
	if err := r.store.RemovePending(ctx, userID); err != nil {
		return "", fmt.Errorf("remove pending %d: %w", userID, err)
	}
	delete(r.pending, userID)
	return ResultRejected, nil
}

// Connect is the operator-initiated activation: it moves a user to active
// from any non-banned state, bypassing pending. Idempotent when already
// active.
func (r *Registry) Connect(ctx context.Context, userID int64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banned[userID]; ok {
		return ResultBanned, nil
	}
	if _, ok := r.active[userID]; ok {
		return ResultConnected, nil
	}
	wasPending := false
	if _, ok := r.pending[userID]; ok {
		if err := r.store.RemovePending(ctx, userID); err != nil {
			return "", fmt.Errorf("remove pending %d: %w", userID, err)
		}
		wasPending = true
	}
	if err := r.store.AddActive(ctx, userID, ""); err != nil {
		if wasPending {
			// Compensate so durable and in-memory state stay aligned.
			if restoreErr := r.store.AddPending(ctx, userID, ""); restoreErr != nil {
				return "", fmt.Errorf("activate %d: %w (restore pending also failed: %v)", userID, err, restoreErr)
			}
		}
		return "", fmt.Errorf("activate %d: %w", userID, err)
	}
	delete(r.pending, userID)
	r.active[userID] = struct{}{}
	return ResultConnected, nil
}

// EndSession removes a user from active.
func (r *Registry) EndSession(ctx context.Context, userID int64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[userID]; !ok {
		return ResultNotActive, nil
	}
	if err := r.store.RemoveActive(ctx, userID); err != nil {
		return "", fmt.Errorf("remove active %d: %w", userID, err)
	}
	delete(r.active, userID)
	return ResultEnded, nil
}

// Ban blocks a user and atomically evicts them from both pending and
// active. Always succeeds and is idempotent.
func (r *Registry) Ban(ctx context.Context, userID int64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Ban(ctx, userID); err != nil {
		return "", fmt.Errorf("persist ban %d: %w", userID, err)
	}
	evictErr := r.store.RemovePending(ctx, userID)
	if evictErr != nil {
		evictErr = fmt.Errorf("evict pending %d: %w", userID, evictErr)
	} else if err := r.store.RemoveActive(ctx, userID); err != nil {
		evictErr = fmt.Errorf("evict active %d: %w", userID, err)
	}
	if evictErr != nil {
		// Compensate so durable and in-memory state stay aligned.
		if liftErr := r.store.Unban(ctx, userID); liftErr != nil {
			return "", fmt.Errorf("%w (lift ban also failed: %v)", evictErr, liftErr)
		}
		return "", evictErr
	}
	r.banned[userID] = struct{}{}
	delete(r.pending, userID)
	delete(r.active, userID)
	return ResultBanned, nil
}

// Unban lifts a ban. Idempotent.
func (r *Registry) Unban(ctx context.Context, userID int64) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Unban(ctx, userID); err != nil {
		return "", fmt.Errorf("persist unban %d: %w", userID, err)
	}
	delete(r.banned, userID)
	return ResultUnbanned, nil
}

// IsBanned reports the ban flag from the in-memory cache.
func (r *Registry) IsBanned(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.banned[userID]
	return ok
}

// Status returns the user's session status, ban excluded; callers check
// IsBanned first.
func (r *Registry) Status(userID int64) SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[userID]; ok {
		return StatusActive
	}
	if _, ok := r.pending[userID]; ok {
		return StatusPending
	}
	return StatusUnregistered
}

// Snapshot returns sorted copies of the pending and active sets.
func (r *Registry) Snapshot() (pending, active []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending = sortedIDs(r.pending)
	active = sortedIDs(r.active)
	return pending, active
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
