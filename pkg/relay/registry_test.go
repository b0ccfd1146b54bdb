package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/tinyland-inc/switchyard/pkg/store"
	"github.com/tinyland-inc/switchyard/pkg/store/memory"
)

func newTestRegistry(t *testing.T) (*Registry, *memory.Store) {
	t.Helper()
	st := memory.New()
	reg := NewRegistry(st)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg, st
}

func TestRequestAcceptLifecycle(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)

	res, err := reg.RequestContact(ctx, 42, "alice")
	if err != nil || res != ResultAccepted {
		t.Fatalf("RequestContact = %q, %v", res, err)
	}
	if got := reg.Status(42); got != StatusPending {
		t.Fatalf("status = %v, want pending", got)
	}

	// Duplicate requests collapse to a benign status.
	if res, _ := reg.RequestContact(ctx, 42, "alice"); res != ResultAlreadyPending {
		t.Fatalf("duplicate request = %q", res)
	}

	if res, err := reg.Accept(ctx, 42); err != nil || res != ResultConnected {
		t.Fatalf("Accept = %q, %v", res, err)
	}
	if got := reg.Status(42); got != StatusActive {
		t.Fatalf("status = %v, want active", got)
	}

	// Pending and active are mutually exclusive in the durable store too.
	pending, _ := st.ListPending(ctx)
	if len(pending) != 0 {
		t.Fatalf("store still lists %d pending after accept", len(pending))
	}
	active, _ := st.ListActive(ctx)
	if len(active) != 1 || active[0].UserID != 42 {
		t.Fatalf("store active = %v", active)
	}

	if res, _ := reg.RequestContact(ctx, 42, "alice"); res != ResultAlreadyActive {
		t.Fatalf("request while active = %q", res)
	}

	if res, _ := reg.EndSession(ctx, 42); res != ResultEnded {
		t.Fatalf("EndSession = %q", res)
	}
	if got := reg.Status(42); got != StatusUnregistered {
		t.Fatalf("status after end = %v", got)
	}
	if res, _ := reg.EndSession(ctx, 42); res != ResultNotActive {
		t.Fatalf("double end = %q", res)
	}
}

func TestRejectAndCancel(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	reg.RequestContact(ctx, 42, "")
	if res, _ := reg.Reject(ctx, 42); res != ResultRejected {
		t.Fatalf("Reject = %q", res)
	}
	if res, _ := reg.Reject(ctx, 42); res != ResultNotPending {
		t.Fatalf("double reject = %q", res)
	}

	reg.RequestContact(ctx, 42, "")
	if res, _ := reg.CancelRequest(ctx, 42); res != ResultCanceled {
		t.Fatalf("Cancel = %q", res)
	}
	if got := reg.Status(42); got != StatusUnregistered {
		t.Fatalf("status after cancel = %v", got)
	}
}

func TestConnectBypassesPending(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	if res, _ := reg.Connect(ctx, 42); res != ResultConnected {
		t.Fatalf("Connect = %q", res)
	}
	if res, _ := reg.Connect(ctx, 42); res != ResultConnected {
		t.Fatalf("Connect idempotence = %q", res)
	}

	// Connect on a pending user consumes the request.
	reg.RequestContact(ctx, 77, "")
	if res, _ := reg.Connect(ctx, 77); res != ResultConnected {
		t.Fatalf("Connect pending = %q", res)
	}
	pending, _ := reg.Snapshot()
	if len(pending) != 0 {
		t.Fatalf("pending = %v after connect", pending)
	}
}

func TestBanOverridesEverything(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	reg.RequestContact(ctx, 42, "")
	reg.Connect(ctx, 77)

	for _, id := range []int64{42, 77} {
		if res, err := reg.Ban(ctx, id); err != nil || res != ResultBanned {
			t.Fatalf("Ban(%d) = %q, %v", id, res, err)
		}
		if !reg.IsBanned(id) {
			t.Fatalf("IsBanned(%d) = false after ban", id)
		}
		if got := reg.Status(id); got != StatusUnregistered {
			t.Fatalf("status(%d) = %v after ban, session survived", id, got)
		}
	}

	if res, _ := reg.RequestContact(ctx, 42, ""); res != ResultBanned {
		t.Fatalf("request while banned = %q", res)
	}
	if res, _ := reg.Connect(ctx, 42); res != ResultBanned {
		t.Fatalf("connect while banned = %q", res)
	}

	if res, _ := reg.Unban(ctx, 42); res != ResultUnbanned {
		t.Fatalf("Unban = %q", res)
	}
	if res, _ := reg.RequestContact(ctx, 42, ""); res != ResultAccepted {
		t.Fatalf("request after unban = %q", res)
	}
}

func TestLoadRestoresState(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.AddPending(ctx, 1, "a")
	st.AddActive(ctx, 2, "b")
	st.Ban(ctx, 3)

	reg := NewRegistry(st)
	if err := reg.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reg.Status(1); got != StatusPending {
		t.Fatalf("status(1) = %v", got)
	}
	if got := reg.Status(2); got != StatusActive {
		t.Fatalf("status(2) = %v", got)
	}
	if !reg.IsBanned(3) {
		t.Fatal("ban not restored")
	}
}

// flakyStore injects failures into selected store operations.
type flakyStore struct {
	store.Store
	failAddPending   bool
	failAddActive    bool
	failRemoveActive bool
}

var errStoreDown = errors.New("store down")

func (f *flakyStore) AddPending(ctx context.Context, userID int64, username string) error {
	if f.failAddPending {
		return errStoreDown
	}
	return f.Store.AddPending(ctx, userID, username)
}

func (f *flakyStore) AddActive(ctx context.Context, userID int64, username string) error {
	if f.failAddActive {
		return errStoreDown
	}
	return f.Store.AddActive(ctx, userID, username)
}

func (f *flakyStore) RemoveActive(ctx context.Context, userID int64) error {
	if f.failRemoveActive {
		return errStoreDown
	}
	return f.Store.RemoveActive(ctx, userID)
}

func TestStoreFailureLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: memory.New(), failAddPending: true}
	reg := NewRegistry(flaky)

	if _, err := reg.RequestContact(ctx, 42, ""); !errors.Is(err, errStoreDown) {
		t.Fatalf("RequestContact err = %v, want store failure", err)
	}
	if got := reg.Status(42); got != StatusUnregistered {
		t.Fatalf("status = %v, memory mutated despite store failure", got)
	}
}

func TestAcceptRollsBackOnActivationFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	flaky := &flakyStore{Store: mem}
	reg := NewRegistry(flaky)

	if _, err := reg.RequestContact(ctx, 42, ""); err != nil {
		t.Fatalf("RequestContact: %v", err)
	}

	flaky.failAddActive = true
	if _, err := reg.Accept(ctx, 42); !errors.Is(err, errStoreDown) {
		t.Fatalf("Accept err = %v, want store failure", err)
	}

	// The user stays pending, both in memory and durably.
	if got := reg.Status(42); got != StatusPending {
		t.Fatalf("status = %v, want pending after rollback", got)
	}
	pending, _ := mem.ListPending(ctx)
	if len(pending) != 1 || pending[0].UserID != 42 {
		t.Fatalf("store pending = %v after rollback", pending)
	}
}

func TestConnectRollsBackOnActivationFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	flaky := &flakyStore{Store: mem}
	reg := NewRegistry(flaky)

	if _, err := reg.RequestContact(ctx, 42, ""); err != nil {
		t.Fatalf("RequestContact: %v", err)
	}

	flaky.failAddActive = true
	if _, err := reg.Connect(ctx, 42); !errors.Is(err, errStoreDown) {
		t.Fatalf("Connect err = %v, want store failure", err)
	}

	// The user stays pending, both in memory and durably.
	if got := reg.Status(42); got != StatusPending {
		t.Fatalf("status = %v, want pending after rollback", got)
	}
	pending, _ := mem.ListPending(ctx)
	if len(pending) != 1 || pending[0].UserID != 42 {
		t.Fatalf("store pending = %v after rollback", pending)
	}
}

func TestBanRollsBackOnEvictionFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	flaky := &flakyStore{Store: mem}
	reg := NewRegistry(flaky)

	if _, err := reg.Connect(ctx, 77); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	flaky.failRemoveActive = true
	if _, err := reg.Ban(ctx, 77); !errors.Is(err, errStoreDown) {
		t.Fatalf("Ban err = %v, want store failure", err)
	}

	// The ban was lifted durably and memory never saw it; the session
	// stays active on both sides.
	if reg.IsBanned(77) {
		t.Fatal("memory shows ban despite failed eviction")
	}
	banned, _ := mem.IsBanned(ctx, 77)
	if banned {
		t.Fatal("store still records ban after rollback")
	}
	if got := reg.Status(77); got != StatusActive {
		t.Fatalf("status = %v, want active after rollback", got)
	}
	active, _ := mem.ListActive(ctx)
	if len(active) != 1 || active[0].UserID != 77 {
		t.Fatalf("store active = %v after rollback", active)
	}
}
