package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/switchyard/pkg/bus"
	"github.com/tinyland-inc/switchyard/pkg/logger"
	"github.com/tinyland-inc/switchyard/pkg/provider"
	"github.com/tinyland-inc/switchyard/pkg/store"
)

const (
	msgBanned       = "🚫 You are blocked from using this service."
	msgTryLater     = "⚠️ Something went wrong, please try again later."
	msgNotDelivered = "⚠️ Your message could not be delivered. Please try again later."

	msgUserHelp = "I relay your messages to a human operator.\n\n" +
		"/apply — request a conversation\n" +
		"/cancel — withdraw a pending request\n" +
		"/end — end the current conversation\n" +
		"/help — show this message"

	msgOperatorHelp = "Operator commands:\n\n" +
		"/list — pending requests and active sessions\n" +
		"/accept <id> — accept a pending request\n" +
		"/reject <id> — reject a pending request\n" +
		"/connect <id> — open a session directly\n" +
		"/end <id> — end a session\n" +
		"/ban <id> — ban a user\n" +
		"/unban <id> — lift a ban\n" +
		"/send <id> <text> — message a user out of band\n" +
		"/broadcast <text> — message every active user\n\n" +
		"Reply to a forwarded message to answer its sender."
)

// RouterConfig carries the routing knobs that are not owned by a narrower
// component. Zero values fall back to defaults.
type RouterConfig struct {
	OperatorIDs       []int64
	OperatorUsernames []string
	ResolveInterval   time.Duration // retry cadence for username resolution (default 30s)
	SweepCron         string        // correlation sweep schedule (default */5 * * * *)
	CorrelationTTL    time.Duration // max age of a reply correlation (default 24h)
}

func (c *RouterConfig) applyDefaults() {
	if c.ResolveInterval <= 0 {
		c.ResolveInterval = 30 * time.Second
	}
	if c.SweepCron == "" {
		c.SweepCron = "*/5 * * * *"
	}
	if c.CorrelationTTL <= 0 {
		c.CorrelationTTL = 24 * time.Hour
	}
}

// Router consumes provider events from the bus and drives the session
// engine: user requests, operator moderation, and message relay in both
// directions. Status notices go back out through the bus; the provider
// adapter renders and delivers them.
//
// Users are addressed by their id, which on private-chat providers doubles
// as the chat id.
type Router struct {
	registry   *Registry
	forwarder  *Forwarder
	correlator *Correlator
	operators  *OperatorSet
	provider   provider.Provider
	store      store.Store
	bus        *bus.MessageBus
	stats      *Stats
	cfg        RouterConfig

	// A user sticks to the operator surface that first carried their
	// traffic, so one conversation does not fan out across operators.
	pinMu sync.Mutex
	pins  map[int64]int64 // user id -> operator chat id

	resolveMu sync.Mutex
	resolved  map[string]bool
}

func NewRouter(reg *Registry, fwd *Forwarder, corr *Correlator, p provider.Provider, st store.Store, mb *bus.MessageBus, cfg RouterConfig) *Router {
	cfg.applyDefaults()
	return &Router{
		registry:   reg,
		forwarder:  fwd,
		correlator: corr,
		operators:  NewOperatorSet(cfg.OperatorIDs),
		provider:   p,
		store:      st,
		bus:        mb,
		stats:      NewStats(),
		cfg:        cfg,
		pins:       make(map[int64]int64),
		resolved:   make(map[string]bool),
	}
}

// Operators exposes the live operator set.
func (rt *Router) Operators() *OperatorSet { return rt.operators }

// Stats exposes the traffic counters.
func (rt *Router) Stats() *Stats { return rt.stats }

// Run consumes events until the context ends or the bus closes. Each event
// is handled on its own goroutine so a throttled forward never blocks
// unrelated conversations.
func (rt *Router) Run(ctx context.Context) {
	logger.InfoCF("router", "Relay router started", map[string]any{
		"operators": rt.operators.Len(),
	})
	for {
		ev, ok := rt.bus.ConsumeEvent(ctx)
		if !ok {
			logger.InfoC("router", "Relay router stopped")
			return
		}
		go rt.handleEvent(ctx, ev)
	}
}

func (rt *Router) handleEvent(ctx context.Context, ev bus.Event) {
	logger.DebugCF("router", "Event received", map[string]any{
		"event_id": ev.EventID,
		"sender":   ev.SenderID,
		"command":  ev.Command,
	})
	if rt.operators.Contains(ev.SenderID) {
		rt.handleOperator(ctx, ev)
		return
	}
	rt.handleUser(ctx, ev)
}

// StartMaintenance runs the cron-scheduled sweep of stale reply
// correlations until the context ends.
func (rt *Router) StartMaintenance(ctx context.Context) {
	go func() {
		g := gronx.New()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				due, err := g.IsDue(rt.cfg.SweepCron, now)
				if err != nil {
					logger.ErrorCF("router", "Invalid sweep schedule, maintenance disabled", map[string]any{
						"cron":  rt.cfg.SweepCron,
						"error": err.Error(),
					})
					return
				}
				if !due {
					continue
				}
				if n := rt.correlator.SweepOlderThan(rt.cfg.CorrelationTTL); n > 0 {
					logger.InfoCF("router", "Swept stale reply correlations", map[string]any{
						"evicted": n,
					})
				}
			}
		}
	}()
}

// StartOperatorResolution resolves configured operator usernames to chat
// ids, retrying until every name resolves. Resolution can only succeed
// after the named account has talked to the bot once, so failures here are
// routine at first start.
func (rt *Router) StartOperatorResolution(ctx context.Context) {
	if len(rt.cfg.OperatorUsernames) == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(rt.cfg.ResolveInterval)
		defer ticker.Stop()
		for {
			if rt.resolveOperators(ctx) {
				logger.InfoC("router", "All operator usernames resolved")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (rt *Router) resolveOperators(ctx context.Context) bool {
	done := true
	for _, name := range rt.cfg.OperatorUsernames {
		rt.resolveMu.Lock()
		already := rt.resolved[name]
		rt.resolveMu.Unlock()
		if already {
			continue
		}
		id, err := rt.provider.ResolveUsername(ctx, name)
		if err != nil {
			logger.WarnCF("router", "Operator username not resolvable yet", map[string]any{
				"username": name,
				"error":    err.Error(),
			})
			done = false
			continue
		}
		rt.operators.Add(id)
		rt.resolveMu.Lock()
		rt.resolved[name] = true
		rt.resolveMu.Unlock()
		logger.InfoCF("router", "Operator username resolved", map[string]any{
			"username": name,
			"chat_id":  id,
		})
	}
	return done
}

func (rt *Router) isOperatorUsername(name string) bool {
	name = strings.TrimPrefix(strings.ToLower(name), "@")
	if name == "" {
		return false
	}
	for _, u := range rt.cfg.OperatorUsernames {
		if strings.TrimPrefix(strings.ToLower(u), "@") == name {
			return true
		}
	}
	return false
}

// --- user side ---

func (rt *Router) handleUser(ctx context.Context, ev bus.Event) {
	if rt.registry.IsBanned(ev.SenderID) {
		rt.notify(ctx, bus.Notice{ChatID: ev.SenderID, Text: msgBanned})
		return
	}

	switch ev.Command {
	case "start":
		rt.notify(ctx, bus.Notice{
			ChatID: ev.SenderID,
			Text:   "👋 Hello! I connect you with a human operator.",
			Menu:   rt.userMenu(ev.SenderID),
		})

	case "help":
		rt.notify(ctx, bus.Notice{ChatID: ev.SenderID, Text: msgUserHelp, Menu: rt.userMenu(ev.SenderID)})

	case "apply":
		if _, err := rt.Apply(ctx, ev.SenderID, ev.SenderName); err != nil {
			logger.ErrorCF("router", "Contact request failed", map[string]any{
				"user":  ev.SenderID,
				"error": err.Error(),
			})
			rt.notify(ctx, bus.Notice{ChatID: ev.SenderID, Text: msgTryLater})
		}

	case "cancel":
		if _, err := rt.Cancel(ctx, ev.SenderID); err != nil {
			logger.ErrorCF("router", "Cancel failed", map[string]any{
				"user":  ev.SenderID,
				"error": err.Error(),
			})
			rt.notify(ctx, bus.Notice{ChatID: ev.SenderID, Text: msgTryLater})
		}

	case "end":
		if _, err := rt.EndByUser(ctx, ev.SenderID); err != nil {
			logger.ErrorCF("router", "End session failed", map[string]any{
				"user":  ev.SenderID,
				"error": err.Error(),
			})
			rt.notify(ctx, bus.Notice{ChatID: ev.SenderID, Text: msgTryLater})
		}

	case "register":
		if !rt.isOperatorUsername(ev.SenderName) {
			logger.WarnCF("router", "Unauthorized register attempt", map[string]any{
				"user":     ev.SenderID,
				"username": ev.SenderName,
			})
			return
		}
		rt.operators.Add(ev.SenderID)
		logger.InfoCF("router", "Operator self-registered", map[string]any{
			"chat_id":  ev.SenderID,
			"username": ev.SenderName,
		})
		rt.notify(ctx, bus.Notice{ChatID: ev.SenderID, Text: "🛠 You are registered as an operator.", Menu: bus.MenuPanel})

	case "":
		switch rt.registry.Status(ev.SenderID) {
		case StatusActive:
			rt.relayFromUser(ctx, ev)
		case StatusPending:
			rt.notify(ctx, bus.Notice{
				ChatID: ev.SenderID,
				Text:   "⏳ Your request is still pending. An operator will respond soon.",
				Menu:   bus.MenuUserPending,
			})
		default:
			rt.notify(ctx, bus.Notice{
				ChatID: ev.SenderID,
				Text:   "You are not connected yet. Send /apply to request a conversation.",
				Menu:   bus.MenuUserIdle,
			})
		}

	default:
		rt.notify(ctx, bus.Notice{ChatID: ev.SenderID, Text: msgUserHelp, Menu: rt.userMenu(ev.SenderID)})
	}
}

func (rt *Router) userMenu(userID int64) bus.Menu {
	switch rt.registry.Status(userID) {
	case StatusActive:
		return bus.MenuUserActive
	case StatusPending:
		return bus.MenuUserPending
	default:
		return bus.MenuUserIdle
	}
}

// Apply moves a user into pending and announces the request to operators.
func (rt *Router) Apply(ctx context.Context, userID int64, username string) (Result, error) {
	res, err := rt.registry.RequestContact(ctx, userID, username)
	if err != nil {
		return "", err
	}
	switch res {
	case ResultAccepted:
		rt.notify(ctx, bus.Notice{
			ChatID: userID,
			Text:   "⏳ Your request has been sent. An operator will respond soon.",
			Menu:   bus.MenuUserPending,
		})
		label := strconv.FormatInt(userID, 10)
		if username != "" {
			label = "@" + username + " (" + label + ")"
		}
		rt.notifyOperators(ctx, fmt.Sprintf("📨 New contact request from %s.", label), bus.MenuRequest, userID)
		logger.InfoCF("router", "Contact request accepted", map[string]any{"user": userID})
	case ResultAlreadyPending:
		rt.notify(ctx, bus.Notice{ChatID: userID, Text: "⏳ Your request is already pending.", Menu: bus.MenuUserPending})
	case ResultAlreadyActive:
		rt.notify(ctx, bus.Notice{ChatID: userID, Text: "✅ You are already connected. Just type your message.", Menu: bus.MenuUserActive})
	case ResultBanned:
		rt.notify(ctx, bus.Notice{ChatID: userID, Text: msgBanned})
	}
	return res, nil
}

// Cancel withdraws a pending request.
func (rt *Router) Cancel(ctx context.Context, userID int64) (Result, error) {
	res, err := rt.registry.CancelRequest(ctx, userID)
	if err != nil {
		return "", err
	}
	switch res {
	case ResultCanceled:
		rt.notify(ctx, bus.Notice{ChatID: userID, Text: "Your request has been withdrawn.", Menu: bus.MenuUserIdle})
		rt.notifyOperators(ctx, fmt.Sprintf("ℹ️ User %d withdrew their request.", userID), bus.MenuNone, 0)
	case ResultNotPending:
		rt.notify(ctx, bus.Notice{ChatID: userID, Text: "You have no pending request.", Menu: rt.userMenu(userID)})
	}
	return res, nil
}

// EndByUser ends the user's own session.
func (rt *Router) EndByUser(ctx context.Context, userID int64) (Result, error) {
	res, err := rt.registry.EndSession(ctx, userID)
	if err != nil {
		return "", err
	}
	switch res {
	case ResultEnded:
		rt.endCleanup(userID)
		rt.notify(ctx, bus.Notice{ChatID: userID, Text: "Session ended. Thanks for reaching out!", Menu: bus.MenuUserIdle})
		rt.notifyOperators(ctx, fmt.Sprintf("ℹ️ User %d ended the session.", userID), bus.MenuNone, 0)
		logger.InfoCF("router", "Session ended by user", map[string]any{"user": userID})
	case ResultNotActive:
		rt.notify(ctx, bus.Notice{ChatID: userID, Text: "You have no active session.", Menu: rt.userMenu(userID)})
	}
	return res, nil
}

func (rt *Router) relayFromUser(ctx context.Context, ev bus.Event) {
	if err := rt.store.SaveTranscript(ctx, store.TranscriptMessage{
		UserID: ev.SenderID,
		Role:   "user",
		Text:   ev.Text,
		SentAt: time.Now(),
	}); err != nil {
		logger.WarnCF("router", "Transcript write failed", map[string]any{
			"user":  ev.SenderID,
			"error": err.Error(),
		})
	}

	src := provider.Message{ChatID: ev.ChatID, MessageID: ev.MessageID}
	for _, op := range rt.operatorOrder(ev.SenderID) {
		delivered, err := rt.forwarder.Forward(ctx, src, op)
		if err != nil {
			logger.WarnCF("router", "Forward to operator failed", map[string]any{
				"operator": op,
				"user":     ev.SenderID,
				"error":    err.Error(),
			})
			continue
		}
		rt.correlator.Record(delivered.ChatID, delivered.MessageID, ev.SenderID)
		rt.pin(ev.SenderID, op)
		rt.stats.RecordDelivery(ev.SenderID, true)
		return
	}

	rt.stats.RecordFailure()
	logger.ErrorCF("router", "No operator surface reachable", map[string]any{
		"user":      ev.SenderID,
		"operators": rt.operators.Len(),
	})
	rt.notify(ctx, bus.Notice{ChatID: ev.SenderID, Text: msgNotDelivered})
}

// --- operator side ---

func (rt *Router) handleOperator(ctx context.Context, ev bus.Event) {
	switch ev.Command {
	case "start", "panel":
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: "🛠 Operator panel", Menu: bus.MenuPanel})

	case "help":
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: msgOperatorHelp, Menu: bus.MenuPanel})

	case "register":
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: "You are already registered as an operator.", Menu: bus.MenuPanel})

	case "list", "stats":
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: rt.Overview()})

	case "pending":
		rt.listPending(ctx, ev.ChatID)

	case "sessions":
		rt.listSessions(ctx, ev.ChatID)

	case "accept", "reject", "connect", "end", "ban", "unban":
		rt.operatorAction(ctx, ev)

	case "send":
		if len(ev.Args) < 2 {
			rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: "Usage: /send <id> <text>"})
			return
		}
		userID, err := parseUserID(ev.Args[0])
		if err != nil {
			rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: "Usage: /send <id> <text>"})
			return
		}
		rt.Send(ctx, userID, strings.Join(ev.Args[1:], " "))
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: fmt.Sprintf("📤 Sent to %d.", userID)})

	case "broadcast":
		if len(ev.Args) == 0 {
			rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: "Usage: /broadcast <text>"})
			return
		}
		n := rt.Broadcast(ctx, strings.Join(ev.Args, " "))
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: fmt.Sprintf("📣 Broadcast queued for %d active users.", n)})

	case "":
		if ev.ReplyToID != 0 {
			rt.relayFromOperator(ctx, ev)
			return
		}
		rt.notify(ctx, bus.Notice{
			ChatID: ev.ChatID,
			Text:   "Reply to a forwarded message to answer its sender, or send /help.",
		})

	default:
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: msgOperatorHelp, Menu: bus.MenuPanel})
	}
}

func (rt *Router) operatorAction(ctx context.Context, ev bus.Event) {
	if len(ev.Args) == 0 {
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: fmt.Sprintf("Usage: /%s <id>", ev.Command)})
		return
	}
	userID, err := parseUserID(ev.Args[0])
	if err != nil {
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: fmt.Sprintf("Usage: /%s <id>", ev.Command)})
		return
	}

	var res Result
	switch ev.Command {
	case "accept":
		res, err = rt.Accept(ctx, userID)
	case "reject":
		res, err = rt.Reject(ctx, userID)
	case "connect":
		res, err = rt.Connect(ctx, userID)
	case "end":
		res, err = rt.End(ctx, userID)
	case "ban":
		res, err = rt.Ban(ctx, userID)
	case "unban":
		res, err = rt.Unban(ctx, userID)
	}
	if err != nil {
		logger.ErrorCF("router", "Operator action failed", map[string]any{
			"action": ev.Command,
			"user":   userID,
			"error":  err.Error(),
		})
		rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: fmt.Sprintf("⚠️ %s %d failed: %v", ev.Command, userID, err)})
		return
	}
	rt.notify(ctx, bus.Notice{ChatID: ev.ChatID, Text: operatorAck(ev.Command, userID, res)})
}

func operatorAck(verb string, userID int64, res Result) string {
	switch res {
	case ResultConnected:
		return fmt.Sprintf("✅ Session with %d is active.", userID)
	case ResultRejected:
		return fmt.Sprintf("Request from %d rejected.", userID)
	case ResultEnded:
		return fmt.Sprintf("Session with %d ended.", userID)
	case ResultBanned:
		return fmt.Sprintf("🚫 User %d banned.", userID)
	case ResultUnbanned:
		return fmt.Sprintf("User %d unbanned.", userID)
	case ResultNotPending:
		return fmt.Sprintf("User %d has no pending request.", userID)
	case ResultNotActive:
		return fmt.Sprintf("User %d has no active session.", userID)
	default:
		return fmt.Sprintf("%s %d: %s", verb, userID, res)
	}
}

// Accept activates a pending request and tells the user.
func (rt *Router) Accept(ctx context.Context, userID int64) (Result, error) {
	res, err := rt.registry.Accept(ctx, userID)
	if err != nil {
		return "", err
	}
	if res == ResultConnected {
		rt.notify(ctx, bus.Notice{
			ChatID: userID,
			Text:   "✅ An operator accepted your request. You can write now.",
			Menu:   bus.MenuUserActive,
		})
		logger.InfoCF("router", "Request accepted", map[string]any{"user": userID})
	}
	return res, nil
}

// Reject declines a pending request and tells the user.
func (rt *Router) Reject(ctx context.Context, userID int64) (Result, error) {
	res, err := rt.registry.Reject(ctx, userID)
	if err != nil {
		return "", err
	}
	if res == ResultRejected {
		rt.notify(ctx, bus.Notice{
			ChatID: userID,
			Text:   "Your contact request was declined.",
			Menu:   bus.MenuUserIdle,
		})
		logger.InfoCF("router", "Request rejected", map[string]any{"user": userID})
	}
	return res, nil
}

// Connect opens a session directly, bypassing the request step.
func (rt *Router) Connect(ctx context.Context, userID int64) (Result, error) {
	res, err := rt.registry.Connect(ctx, userID)
	if err != nil {
		return "", err
	}
	if res == ResultConnected {
		rt.notify(ctx, bus.Notice{
			ChatID: userID,
			Text:   "✅ An operator opened a conversation with you. You can write now.",
			Menu:   bus.MenuUserActive,
		})
		logger.InfoCF("router", "Session opened by operator", map[string]any{"user": userID})
	}
	return res, nil
}

// End terminates a session on the operator's behalf.
func (rt *Router) End(ctx context.Context, userID int64) (Result, error) {
	res, err := rt.registry.EndSession(ctx, userID)
	if err != nil {
		return "", err
	}
	if res == ResultEnded {
		rt.endCleanup(userID)
		rt.notify(ctx, bus.Notice{
			ChatID: userID,
			Text:   "The operator ended the session. Send /apply to start a new one.",
			Menu:   bus.MenuUserIdle,
		})
		logger.InfoCF("router", "Session ended by operator", map[string]any{"user": userID})
	}
	return res, nil
}

// Ban blocks a user, evicts their session and correlations, and tells them.
func (rt *Router) Ban(ctx context.Context, userID int64) (Result, error) {
	res, err := rt.registry.Ban(ctx, userID)
	if err != nil {
		return "", err
	}
	rt.endCleanup(userID)
	rt.notify(ctx, bus.Notice{ChatID: userID, Text: msgBanned})
	logger.InfoCF("router", "User banned", map[string]any{"user": userID})
	return res, nil
}

// Unban lifts a ban.
func (rt *Router) Unban(ctx context.Context, userID int64) (Result, error) {
	res, err := rt.registry.Unban(ctx, userID)
	if err != nil {
		return "", err
	}
	rt.notify(ctx, bus.Notice{
		ChatID: userID,
		Text:   "You may use this service again. Send /apply to request a conversation.",
		Menu:   bus.MenuUserIdle,
	})
	logger.InfoCF("router", "User unbanned", map[string]any{"user": userID})
	return res, nil
}

// Send delivers an out-of-band operator message to a user.
func (rt *Router) Send(ctx context.Context, userID int64, text string) {
	if err := rt.store.SaveTranscript(ctx, store.TranscriptMessage{
		UserID: userID,
		Role:   "operator",
		Text:   text,
		SentAt: time.Now(),
	}); err != nil {
		logger.WarnCF("router", "Transcript write failed", map[string]any{
			"user":  userID,
			"error": err.Error(),
		})
	}
	rt.notify(ctx, bus.Notice{ChatID: userID, Text: text})
}

// Broadcast queues a message for every active user and returns the count.
func (rt *Router) Broadcast(ctx context.Context, text string) int {
	_, active := rt.registry.Snapshot()
	for _, userID := range active {
		rt.notify(ctx, bus.Notice{ChatID: userID, Text: text})
	}
	logger.InfoCF("router", "Broadcast queued", map[string]any{"recipients": len(active)})
	return len(active)
}

// Overview renders the moderation summary shown by /list.
func (rt *Router) Overview() string {
	pending, active := rt.registry.Snapshot()
	delivered, failed := rt.stats.Totals()

	var b strings.Builder
	b.WriteString("📊 Relay overview\n")
	b.WriteString(fmt.Sprintf("Pending requests: %s\n", formatIDs(pending)))
	b.WriteString(fmt.Sprintf("Active sessions: %s\n", formatIDs(active)))
	b.WriteString(fmt.Sprintf("Operators: %d\n", rt.operators.Len()))
	b.WriteString(fmt.Sprintf("Delivered: %d, failed: %d", delivered, failed))
	return b.String()
}

func (rt *Router) listPending(ctx context.Context, operatorChatID int64) {
	pending, _ := rt.registry.Snapshot()
	if len(pending) == 0 {
		rt.notify(ctx, bus.Notice{ChatID: operatorChatID, Text: "No pending requests."})
		return
	}
	for _, userID := range pending {
		rt.notify(ctx, bus.Notice{
			ChatID:  operatorChatID,
			Text:    fmt.Sprintf("📨 Pending request from %d.", userID),
			Menu:    bus.MenuRequest,
			Subject: userID,
		})
	}
}

func (rt *Router) listSessions(ctx context.Context, operatorChatID int64) {
	_, active := rt.registry.Snapshot()
	if len(active) == 0 {
		rt.notify(ctx, bus.Notice{ChatID: operatorChatID, Text: "No active sessions."})
		return
	}
	for _, userID := range active {
		text := fmt.Sprintf("💬 Active session with %d.", userID)
		if t, ok := rt.stats.User(userID); ok {
			text += fmt.Sprintf(" %d in / %d out, last activity %s.",
				t.ToOperator, t.ToUser, t.LastActivity.Format("15:04:05"))
		}
		rt.notify(ctx, bus.Notice{
			ChatID:  operatorChatID,
			Text:    text,
			Menu:    bus.MenuSession,
			Subject: userID,
		})
	}
}

func (rt *Router) relayFromOperator(ctx context.Context, ev bus.Event) {
	userID, ok := rt.correlator.Resolve(ev.ChatID, ev.ReplyToID)
	if !ok {
		rt.notify(ctx, bus.Notice{
			ChatID: ev.ChatID,
			Text:   "⚠️ That message no longer maps to a user. Use /send <id> <text> instead.",
		})
		return
	}
	if rt.registry.Status(userID) != StatusActive {
		rt.notify(ctx, bus.Notice{
			ChatID: ev.ChatID,
			Text:   fmt.Sprintf("User %d has no active session.", userID),
		})
		return
	}

	if err := rt.store.SaveTranscript(ctx, store.TranscriptMessage{
		UserID: userID,
		Role:   "operator",
		Text:   ev.Text,
		SentAt: time.Now(),
	}); err != nil {
		logger.WarnCF("router", "Transcript write failed", map[string]any{
			"user":  userID,
			"error": err.Error(),
		})
	}

	src := provider.Message{ChatID: ev.ChatID, MessageID: ev.MessageID}
	if _, err := rt.forwarder.Forward(ctx, src, userID); err != nil {
		rt.stats.RecordFailure()
		logger.ErrorCF("router", "Forward to user failed", map[string]any{
			"user":  userID,
			"error": err.Error(),
		})
		rt.notify(ctx, bus.Notice{
			ChatID: ev.ChatID,
			Text:   fmt.Sprintf("⚠️ Delivery to %d failed.", userID),
		})
		return
	}
	rt.stats.RecordDelivery(userID, false)
	rt.pin(userID, ev.ChatID)
}

// --- pinning and plumbing ---

func (rt *Router) pin(userID, operatorChatID int64) {
	rt.pinMu.Lock()
	rt.pins[userID] = operatorChatID
	rt.pinMu.Unlock()
}

func (rt *Router) unpin(userID int64) {
	rt.pinMu.Lock()
	delete(rt.pins, userID)
	rt.pinMu.Unlock()
}

// operatorOrder returns operator chat ids with the user's pinned surface
// first, then the rest in priority order.
func (rt *Router) operatorOrder(userID int64) []int64 {
	ops := rt.operators.List()
	rt.pinMu.Lock()
	pinned, ok := rt.pins[userID]
	rt.pinMu.Unlock()
	if !ok {
		return ops
	}
	out := make([]int64, 0, len(ops))
	out = append(out, pinned)
	for _, op := range ops {
		if op != pinned {
			out = append(out, op)
		}
	}
	return out
}

func (rt *Router) endCleanup(userID int64) {
	rt.correlator.DropUser(userID)
	rt.unpin(userID)
}

func (rt *Router) notify(ctx context.Context, n bus.Notice) {
	if err := rt.bus.PublishNotice(ctx, n); err != nil {
		logger.WarnCF("router", "Notice dropped", map[string]any{
			"chat_id": n.ChatID,
			"error":   err.Error(),
		})
	}
}

func (rt *Router) notifyOperators(ctx context.Context, text string, menu bus.Menu, subject int64) {
	for _, op := range rt.operators.List() {
		rt.notify(ctx, bus.Notice{ChatID: op, Text: text, Menu: menu, Subject: subject})
	}
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func formatIDs(ids []int64) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
