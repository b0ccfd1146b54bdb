package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal"
	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal/serve"
	"github.com/tinyland-inc/switchyard/pkg/bus"
	"github.com/tinyland-inc/switchyard/pkg/logger"
	"github.com/tinyland-inc/switchyard/pkg/provider"
	"github.com/tinyland-inc/switchyard/pkg/provider/telegram"
	"github.com/tinyland-inc/switchyard/pkg/relay"
)

// offlineProvider satisfies the provider contract when no Telegram client
// is available. The console never relays messages, so delivery is a hard
// error rather than a silent drop.
type offlineProvider struct{}

func (offlineProvider) DeliverCopy(context.Context, provider.Message, int64) (provider.Delivered, error) {
	return provider.Delivered{}, provider.ErrUnreachable
}

func (offlineProvider) SendNotice(context.Context, int64, string) error { return nil }

func (offlineProvider) ResolveUsername(context.Context, string) (int64, error) {
	return 0, provider.ErrUnreachable
}

const consoleHelp = `Commands:
  list                 pending requests and active sessions
  accept <id>          accept a pending request
  reject <id>          reject a pending request
  connect <id>         open a session directly
  end <id>             end a session
  ban <id>             ban a user
  unban <id>           lift a ban
  send <id> <text>     message a user out of band
  broadcast <text>     message every active user
  stats                delivery counters
  help                 this text
  exit                 leave the console`

func consoleCmd(offline bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := serve.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer st.Close()

	registry := relay.NewRegistry(st)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("error loading registry: %w", err)
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	// Moderation from the console still notifies the affected users, so the
	// notice pump runs unless the session is explicitly offline.
	var tg *telegram.Client
	if !offline && cfg.Telegram.Token != "" {
		tg, err = telegram.New(telegram.Options{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.PollTimeout,
		}, msgBus)
		if err != nil {
			return fmt.Errorf("error creating telegram provider: %w", err)
		}
		tg.StartNotices(ctx)
	} else {
		go discardNotices(ctx, msgBus)
		fmt.Println("⚠ Offline: user notifications are discarded")
	}

	operatorIDs, err := cfg.Operators.ChatIDs()
	if err != nil {
		return err
	}
	var p provider.Provider = offlineProvider{}
	if tg != nil {
		p = tg
	}
	bucket := relay.NewTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.FillRate)
	router := relay.NewRouter(registry, relay.NewForwarder(p, bucket, serve.ForwarderOptions(cfg)),
		relay.NewCorrelator(), p, st, msgBus, relay.RouterConfig{
			OperatorIDs:       operatorIDs,
			OperatorUsernames: cfg.Operators.Usernames,
		})

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "switchyard> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".switchyard_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return fmt.Errorf("error starting console: %w", err)
	}
	defer rl.Close()

	fmt.Println(router.Overview())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			break
		}
		dispatch(ctx, router, fields[0], fields[1:])
	}
	return nil
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("accept"),
		readline.PcItem("reject"),
		readline.PcItem("connect"),
		readline.PcItem("end"),
		readline.PcItem("ban"),
		readline.PcItem("unban"),
		readline.PcItem("send"),
		readline.PcItem("broadcast"),
		readline.PcItem("stats"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func dispatch(ctx context.Context, router *relay.Router, verb string, args []string) {
	switch verb {
	case "help":
		fmt.Println(consoleHelp)

	case "list":
		fmt.Println(router.Overview())

	case "stats":
		delivered, failed := router.Stats().Totals()
		fmt.Printf("delivered=%d failed=%d\n", delivered, failed)

	case "accept", "reject", "connect", "end", "ban", "unban":
		userID, ok := parseID(args)
		if !ok {
			fmt.Printf("usage: %s <id>\n", verb)
			return
		}
		var res relay.Result
		var err error
		switch verb {
		case "accept":
			res, err = router.Accept(ctx, userID)
		case "reject":
			res, err = router.Reject(ctx, userID)
		case "connect":
			res, err = router.Connect(ctx, userID)
		case "end":
			res, err = router.End(ctx, userID)
		case "ban":
			res, err = router.Ban(ctx, userID)
		case "unban":
			res, err = router.Unban(ctx, userID)
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("%s %d: %s\n", verb, userID, res)

	case "send":
		userID, ok := parseID(args)
		if !ok || len(args) < 2 {
			fmt.Println("usage: send <id> <text>")
			return
		}
		router.Send(ctx, userID, strings.Join(args[1:], " "))
		fmt.Printf("sent to %d\n", userID)

	case "broadcast":
		if len(args) == 0 {
			fmt.Println("usage: broadcast <text>")
			return
		}
		n := router.Broadcast(ctx, strings.Join(args, " "))
		fmt.Printf("queued for %d active users\n", n)

	default:
		fmt.Printf("unknown command %q, try help\n", verb)
	}
}

func parseID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// discardNotices drains the bus so offline moderation never blocks on a
// full notice buffer.
func discardNotices(ctx context.Context, mb *bus.MessageBus) {
	for {
		n, ok := mb.SubscribeNotices(ctx)
		if !ok {
			return
		}
		logger.DebugCF("console", "Notice discarded", map[string]any{"chat_id": n.ChatID})
	}
}
