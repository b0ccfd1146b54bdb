// Package provider defines the messaging-provider contract consumed by the
// relay core, together with the error taxonomy the forwarder retries on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message identifies a message at its source conversation.
type Message struct {
	ChatID    int64
	MessageID int
}

// Delivered identifies a copied message at its destination. The pair is the
// key the correlator records so a later reply can be routed back.
type Delivered struct {
	ChatID    int64
	MessageID int
}

// ThrottleError is a provider-signaled rate limit: wait RetryAfter, then
// retry. Never surfaced to end users.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("provider throttled, retry after %s", e.RetryAfter)
}

// PermanentError is a delivery failure that retrying cannot fix, such as
// the destination having blocked the bot.
type PermanentError struct {
	Code   int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider error %d: %s", e.Code, e.Reason)
}

// ErrUnreachable means the destination cannot currently receive messages,
// typically because it never initiated contact with the bot.
var ErrUnreachable = errors.New("recipient unreachable")

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) || errors.Is(err, ErrUnreachable)
}

// Provider is the messaging backend the relay forwards through. All errors
// not classified as ThrottleError or permanent are treated as transient.
type Provider interface {
	// DeliverCopy re-sends the content of src to destChatID, producing a new
	// message identity at the destination.
	DeliverCopy(ctx context.Context, src Message, destChatID int64) (Delivered, error)

	// SendNotice sends a short status text, best-effort.
	SendNotice(ctx context.Context, chatID int64, text string) error

	// ResolveUsername resolves a provider username to a numeric chat id.
	// Fails while the named party has not yet contacted the bot.
	ResolveUsername(ctx context.Context, username string) (int64, error)
}
