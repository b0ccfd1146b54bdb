// Package telegram adapts the Telegram Bot API to the provider contract:
// long-polled updates become bus events, notices and forwards go back out
// through the bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/switchyard/pkg/bus"
	"github.com/tinyland-inc/switchyard/pkg/logger"
	"github.com/tinyland-inc/switchyard/pkg/provider"
)

type Options struct {
	Token       string
	Debug       bool
	PollTimeout int // long-poll timeout in seconds
}

// Client is the Telegram provider. One instance serves both directions:
// the update listener feeding the bus and the notice pump draining it.
type Client struct {
	bot     *telego.Bot
	bus     *bus.MessageBus
	opts    Options
	running atomic.Bool
	wg      sync.WaitGroup
}

func New(opts Options, mb *bus.MessageBus) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram token not configured")
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30
	}

	botOpt := telego.WithDiscardLogger()
	if opts.Debug {
		botOpt = telego.WithDefaultDebugLogger()
	}
	bot, err := telego.NewBot(opts.Token, botOpt)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Client{bot: bot, bus: mb, opts: opts}, nil
}

// Start begins long polling and the outbound notice pump. Both stop when
// ctx ends; Stop waits for them.
func (c *Client) Start(ctx context.Context) error {
	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: c.opts.PollTimeout,
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	c.running.Store(true)
	c.wg.Add(2)
	go c.listen(ctx, updates)
	go c.sendLoop(ctx)
	logger.InfoC("telegram", "Telegram provider started")
	return nil
}

// StartNotices runs only the outbound notice pump. Used by offline
// tooling that publishes notices without consuming updates.
func (c *Client) StartNotices(ctx context.Context) {
	c.running.Store(true)
	c.wg.Add(1)
	go c.sendLoop(ctx)
}

func (c *Client) Stop() {
	c.wg.Wait()
	c.running.Store(false)
	logger.InfoC("telegram", "Telegram provider stopped")
}

func (c *Client) IsRunning() bool {
	return c.running.Load()
}

func (c *Client) listen(ctx context.Context, updates <-chan telego.Update) {
	defer c.wg.Done()
	for update := range updates {
		ev, ok := c.translateUpdate(ctx, update)
		if !ok {
			continue
		}
		if err := c.bus.PublishEvent(ctx, ev); err != nil {
			logger.WarnCF("telegram", "Event dropped", map[string]any{
				"sender": ev.SenderID,
				"error":  err.Error(),
			})
		}
	}
	logger.InfoC("telegram", "Update stream closed")
}

func (c *Client) sendLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		n, ok := c.bus.SubscribeNotices(ctx)
		if !ok {
			return
		}
		if err := c.deliverNotice(ctx, n); err != nil {
			logger.WarnCF("telegram", "Notice delivery failed", map[string]any{
				"chat_id": n.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

func (c *Client) deliverNotice(ctx context.Context, n bus.Notice) error {
	params := tu.Message(tu.ID(n.ChatID), n.Text)
	if kb := menuKeyboard(n.Menu, n.Subject); kb != nil {
		params = params.WithReplyMarkup(kb)
	}
	_, err := c.bot.SendMessage(ctx, params)
	return translateError(err)
}

// translateUpdate turns a Telegram update into a bus event. Messages and
// menu button presses both land as events; everything else is ignored.
func (c *Client) translateUpdate(ctx context.Context, update telego.Update) (bus.Event, bool) {
	if q := update.CallbackQuery; q != nil {
		// Ack immediately so the button stops spinning.
		if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
			CallbackQueryID: q.ID,
		}); err != nil {
			logger.DebugCF("telegram", "Callback ack failed", map[string]any{"error": err.Error()})
		}
		command, args := parseCallback(q.Data)
		return bus.Event{
			EventID:    uuid.New().String(),
			ChatID:     q.From.ID,
			SenderID:   q.From.ID,
			SenderName: q.From.Username,
			Command:    command,
			Args:       args,
		}, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return bus.Event{}, false
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	command, args := parseCommand(text)
	replyTo := 0
	if msg.ReplyToMessage != nil {
		replyTo = msg.ReplyToMessage.MessageID
	}
	return bus.Event{
		EventID:    uuid.New().String(),
		ChatID:     msg.Chat.ID,
		SenderID:   msg.From.ID,
		SenderName: msg.From.Username,
		MessageID:  msg.MessageID,
		ReplyToID:  replyTo,
		Text:       text,
		Command:    command,
		Args:       args,
	}, true
}

// parseCommand splits a "/verb arg arg" text into a routing verb and its
// arguments. Non-command texts return an empty verb.
func parseCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	command := strings.TrimPrefix(fields[0], "/")
	// Strip the "@botname" suffix used in group chats.
	if i := strings.Index(command, "@"); i >= 0 {
		command = command[:i]
	}
	command = strings.ToLower(command)
	if command == "register_admin" {
		command = "register"
	}
	return command, fields[1:]
}

// parseCallback splits a "verb:subject" button payload.
func parseCallback(data string) (string, []string) {
	verb, arg, found := strings.Cut(data, ":")
	if !found || arg == "" {
		return verb, nil
	}
	return verb, []string{arg}
}

// --- provider.Provider ---

func (c *Client) DeliverCopy(ctx context.Context, src provider.Message, destChatID int64) (provider.Delivered, error) {
	msgID, err := c.bot.CopyMessage(ctx, &telego.CopyMessageParams{
		ChatID:     tu.ID(destChatID),
		FromChatID: tu.ID(src.ChatID),
		MessageID:  src.MessageID,
	})
	if err != nil {
		return provider.Delivered{}, translateError(err)
	}
	return provider.Delivered{ChatID: destChatID, MessageID: msgID.MessageID}, nil
}

func (c *Client) SendNotice(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return translateError(err)
}

func (c *Client) ResolveUsername(ctx context.Context, username string) (int64, error) {
	if !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.Username(username)})
	if err != nil {
		return 0, translateError(err)
	}
	return chat.ID, nil
}

var _ provider.Provider = (*Client)(nil)

// translateError maps Telegram API errors onto the provider taxonomy so
// the forwarder can tell throttling from dead destinations.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.ErrorCode == 429:
		retryAfter := time.Second
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		return &provider.ThrottleError{RetryAfter: retryAfter}
	case apiErr.ErrorCode == 403:
		return &provider.PermanentError{Code: apiErr.ErrorCode, Reason: apiErr.Description}
	case apiErr.ErrorCode == 400 && strings.Contains(strings.ToLower(apiErr.Description), "not found"):
		return fmt.Errorf("%s: %w", apiErr.Description, provider.ErrUnreachable)
	default:
		return err
	}
}
