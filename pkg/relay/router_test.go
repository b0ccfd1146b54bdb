package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tinyland-inc/switchyard/pkg/bus"
	"github.com/tinyland-inc/switchyard/pkg/provider"
	"github.com/tinyland-inc/switchyard/pkg/store/memory"
)

func newTestRouter(t *testing.T, cfg RouterConfig) (*Router, *fakeProvider, *memory.Store, *bus.MessageBus) {
	t.Helper()
	st := memory.New()
	reg := NewRegistry(st)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := newFakeProvider()
	fwd := NewForwarder(p, NewTokenBucket(100, 100), fastOptions())
	mb := bus.NewMessageBus()
	rt := NewRouter(reg, fwd, NewCorrelator(), p, st, mb, cfg)
	t.Cleanup(mb.Close)
	return rt, p, st, mb
}

// drainNotices collects everything currently buffered on the bus.
func drainNotices(mb *bus.MessageBus) []bus.Notice {
	var out []bus.Notice
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		n, ok := mb.SubscribeNotices(ctx)
		cancel()
		if !ok {
			return out
		}
		out = append(out, n)
	}
}

func findNotice(notices []bus.Notice, chatID int64, substr string) (bus.Notice, bool) {
	for _, n := range notices {
		if n.ChatID == chatID && strings.Contains(n.Text, substr) {
			return n, true
		}
	}
	return bus.Notice{}, false
}

func userEvent(userID int64, command, text string, args ...string) bus.Event {
	return bus.Event{
		ChatID:    userID,
		SenderID:  userID,
		MessageID: 1,
		Text:      text,
		Command:   command,
		Args:      args,
	}
}

func TestFullConversationFlow(t *testing.T) {
	ctx := context.Background()
	const operator, user = int64(900), int64(42)
	rt, p, st, mb := newTestRouter(t, RouterConfig{OperatorIDs: []int64{operator}})

	// User requests contact.
	rt.handleEvent(ctx, bus.Event{ChatID: user, SenderID: user, SenderName: "alice", Command: "apply"})
	notices := drainNotices(mb)
	if _, ok := findNotice(notices, user, "request has been sent"); !ok {
		t.Fatalf("user got no confirmation: %v", notices)
	}
	req, ok := findNotice(notices, operator, "contact request")
	if !ok {
		t.Fatalf("operator got no request notice: %v", notices)
	}
	if req.Menu != bus.MenuRequest || req.Subject != user {
		t.Fatalf("request notice = %+v", req)
	}

	// Operator accepts via the menu button.
	rt.handleEvent(ctx, bus.Event{ChatID: operator, SenderID: operator, Command: "accept", Args: []string{"42"}})
	notices = drainNotices(mb)
	if _, ok := findNotice(notices, user, "accepted your request"); !ok {
		t.Fatalf("user not told about acceptance: %v", notices)
	}
	if rt.registry.Status(user) != StatusActive {
		t.Fatal("user not active after accept")
	}

	// User message is copied to the operator and correlated.
	rt.handleEvent(ctx, bus.Event{ChatID: user, SenderID: user, MessageID: 7, Text: "hello"})
	delivered, ok := p.lastDelivery()
	if !ok || delivered.ChatID != operator {
		t.Fatalf("message not delivered to operator: %+v", delivered)
	}
	if uid, ok := rt.correlator.Resolve(operator, delivered.MessageID); !ok || uid != user {
		t.Fatalf("correlation missing: %d, %v", uid, ok)
	}

	// Operator replies to the forwarded copy; the reply routes back.
	rt.handleEvent(ctx, bus.Event{
		ChatID: operator, SenderID: operator,
		MessageID: 11, ReplyToID: delivered.MessageID, Text: "hi there",
	})
	reply, _ := p.lastDelivery()
	if reply.ChatID != user {
		t.Fatalf("reply delivered to %d, want %d", reply.ChatID, user)
	}

	// Both directions hit the transcript.
	transcript := st.Transcripts()
	if len(transcript) != 2 || transcript[0].Role != "user" || transcript[1].Role != "operator" {
		t.Fatalf("transcript = %+v", transcript)
	}

	// Ban evicts the session and its correlations.
	rt.handleEvent(ctx, bus.Event{ChatID: operator, SenderID: operator, Command: "ban", Args: []string{"42"}})
	if !rt.registry.IsBanned(user) {
		t.Fatal("user not banned")
	}
	if rt.correlator.Len() != 0 {
		t.Fatalf("correlations survived the ban: %d", rt.correlator.Len())
	}
	notices = drainNotices(mb)
	if _, ok := findNotice(notices, operator, "banned"); !ok {
		t.Fatalf("operator got no ban ack: %v", notices)
	}
}

func TestBannedUserSilenced(t *testing.T) {
	ctx := context.Background()
	rt, p, _, mb := newTestRouter(t, RouterConfig{OperatorIDs: []int64{900}})

	if _, err := rt.Ban(ctx, 42); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	drainNotices(mb)

	rt.handleEvent(ctx, userEvent(42, "", "let me in"))
	rt.handleEvent(ctx, userEvent(42, "apply", ""))
	if p.callCount() != 0 {
		t.Fatalf("banned user's messages were forwarded: %d calls", p.callCount())
	}
	notices := drainNotices(mb)
	if _, ok := findNotice(notices, 42, "blocked"); !ok {
		t.Fatalf("banned user got no block notice: %v", notices)
	}
	if rt.registry.Status(42) != StatusUnregistered {
		t.Fatal("banned user changed state")
	}
}

func TestUnregisteredUserIsPrompted(t *testing.T) {
	ctx := context.Background()
	rt, p, _, mb := newTestRouter(t, RouterConfig{OperatorIDs: []int64{900}})

	rt.handleEvent(ctx, userEvent(42, "", "anyone there?"))
	if p.callCount() != 0 {
		t.Fatal("unregistered user's message was forwarded")
	}
	notices := drainNotices(mb)
	n, ok := findNotice(notices, 42, "/apply")
	if !ok || n.Menu != bus.MenuUserIdle {
		t.Fatalf("prompt = %+v, %v", n, ok)
	}
}

func TestOperatorFailover(t *testing.T) {
	ctx := context.Background()
	const opA, opB, user = int64(900), int64(901), int64(42)
	rt, p, _, mb := newTestRouter(t, RouterConfig{OperatorIDs: []int64{opA, opB}})

	if _, err := rt.Connect(ctx, user); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	drainNotices(mb)

	// First operator unreachable: traffic falls over to the second.
	p.failDest[opA] = &provider.PermanentError{Code: 403, Reason: "bot blocked"}
	rt.handleEvent(ctx, userEvent(user, "", "hello"))
	d, ok := p.lastDelivery()
	if !ok || d.ChatID != opB {
		t.Fatalf("delivery = %+v, want failover to %d", d, opB)
	}

	// The user is now pinned to the surface that carried their traffic.
	if order := rt.operatorOrder(user); order[0] != opB {
		t.Fatalf("operator order = %v, want %d first", order, opB)
	}

	// Ending the session drops the pin.
	if _, err := rt.End(ctx, user); err != nil {
		t.Fatalf("End: %v", err)
	}
	if order := rt.operatorOrder(user); order[0] != opA {
		t.Fatalf("operator order after end = %v, pin survived", order)
	}
}

func TestNoOperatorReachable(t *testing.T) {
	ctx := context.Background()
	rt, p, _, mb := newTestRouter(t, RouterConfig{OperatorIDs: []int64{900}})
	rt.Connect(ctx, 42)
	drainNotices(mb)

	p.failDest[900] = &provider.PermanentError{Code: 403, Reason: "bot blocked"}
	rt.handleEvent(ctx, userEvent(42, "", "hello"))
	notices := drainNotices(mb)
	if _, ok := findNotice(notices, 42, "could not be delivered"); !ok {
		t.Fatalf("user got no failure notice: %v", notices)
	}
	if _, failed := rt.stats.Totals(); failed != 1 {
		t.Fatalf("failed counter = %d, want 1", failed)
	}
}

func TestOperatorReplyWithoutCorrelation(t *testing.T) {
	ctx := context.Background()
	rt, p, _, mb := newTestRouter(t, RouterConfig{OperatorIDs: []int64{900}})

	rt.handleEvent(ctx, bus.Event{
		ChatID: 900, SenderID: 900,
		MessageID: 5, ReplyToID: 9999, Text: "who is this for?",
	})
	if p.callCount() != 0 {
		t.Fatal("uncorrelated reply was forwarded")
	}
	notices := drainNotices(mb)
	if _, ok := findNotice(notices, 900, "/send"); !ok {
		t.Fatalf("operator got no fallback hint: %v", notices)
	}
}

func TestOperatorSendAndBroadcast(t *testing.T) {
	ctx := context.Background()
	rt, _, st, mb := newTestRouter(t, RouterConfig{OperatorIDs: []int64{900}})
	rt.Connect(ctx, 42)
	rt.Connect(ctx, 77)
	drainNotices(mb)

	rt.handleEvent(ctx, bus.Event{ChatID: 900, SenderID: 900, Command: "send", Args: []string{"42", "checking", "in"}})
	notices := drainNotices(mb)
	if _, ok := findNotice(notices, 42, "checking in"); !ok {
		t.Fatalf("user did not receive /send text: %v", notices)
	}
	if _, ok := findNotice(notices, 900, "Sent to 42"); !ok {
		t.Fatalf("operator got no send ack: %v", notices)
	}
	if tr := st.Transcripts(); len(tr) != 1 || tr[0].Role != "operator" {
		t.Fatalf("transcript = %+v", tr)
	}

	rt.handleEvent(ctx, bus.Event{ChatID: 900, SenderID: 900, Command: "broadcast", Args: []string{"maintenance", "tonight"}})
	notices = drainNotices(mb)
	for _, userID := range []int64{42, 77} {
		if _, ok := findNotice(notices, userID, "maintenance tonight"); !ok {
			t.Fatalf("user %d missed the broadcast: %v", userID, notices)
		}
	}
	if _, ok := findNotice(notices, 900, "2 active users"); !ok {
		t.Fatalf("operator got no broadcast ack: %v", notices)
	}
}

func TestOverviewAndListings(t *testing.T) {
	ctx := context.Background()
	rt, _, _, mb := newTestRouter(t, RouterConfig{OperatorIDs: []int64{900}})
	rt.Apply(ctx, 42, "alice")
	rt.Connect(ctx, 77)
	drainNotices(mb)

	rt.handleEvent(ctx, bus.Event{ChatID: 900, SenderID: 900, Command: "list"})
	notices := drainNotices(mb)
	n, ok := findNotice(notices, 900, "Relay overview")
	if !ok {
		t.Fatalf("no overview: %v", notices)
	}
	if !strings.Contains(n.Text, "Pending requests: 42") || !strings.Contains(n.Text, "Active sessions: 77") {
		t.Fatalf("overview = %q", n.Text)
	}

	rt.handleEvent(ctx, bus.Event{ChatID: 900, SenderID: 900, Command: "pending"})
	notices = drainNotices(mb)
	item, ok := findNotice(notices, 900, "Pending request from 42")
	if !ok || item.Menu != bus.MenuRequest || item.Subject != 42 {
		t.Fatalf("pending item = %+v, %v", item, ok)
	}

	rt.handleEvent(ctx, bus.Event{ChatID: 900, SenderID: 900, Command: "sessions"})
	notices = drainNotices(mb)
	item, ok = findNotice(notices, 900, "Active session with 77")
	if !ok || item.Menu != bus.MenuSession || item.Subject != 77 {
		t.Fatalf("session item = %+v, %v", item, ok)
	}
}

func TestRegisterRequiresConfiguredUsername(t *testing.T) {
	ctx := context.Background()
	rt, _, _, mb := newTestRouter(t, RouterConfig{OperatorUsernames: []string{"Admin"}})

	rt.handleEvent(ctx, bus.Event{ChatID: 50, SenderID: 50, SenderName: "mallory", Command: "register"})
	if rt.operators.Contains(50) {
		t.Fatal("unauthorized username became an operator")
	}

	rt.handleEvent(ctx, bus.Event{ChatID: 60, SenderID: 60, SenderName: "admin", Command: "register"})
	if !rt.operators.Contains(60) {
		t.Fatal("configured username could not register")
	}
	notices := drainNotices(mb)
	if n, ok := findNotice(notices, 60, "registered as an operator"); !ok || n.Menu != bus.MenuPanel {
		t.Fatalf("register ack = %+v, %v", n, ok)
	}
}

func TestOperatorUsernameResolution(t *testing.T) {
	ctx := context.Background()
	rt, p, _, _ := newTestRouter(t, RouterConfig{OperatorUsernames: []string{"helpdesk", "nightshift"}})

	p.usernames["helpdesk"] = 900
	if done := rt.resolveOperators(ctx); done {
		t.Fatal("resolution reported done with one name unresolvable")
	}
	if !rt.operators.Contains(900) {
		t.Fatal("resolved operator not added")
	}

	p.usernames["nightshift"] = 901
	if done := rt.resolveOperators(ctx); !done {
		t.Fatal("resolution not done with all names resolvable")
	}
	if !rt.operators.Contains(901) {
		t.Fatal("second operator not added")
	}

	// Already-resolved names are not resolved again.
	calls := p.resolveCount()
	rt.resolveOperators(ctx)
	if p.resolveCount() != calls {
		t.Fatal("resolveOperators re-resolved settled names")
	}
}
