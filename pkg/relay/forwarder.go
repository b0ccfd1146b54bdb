package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinyland-inc/switchyard/pkg/logger"
	"github.com/tinyland-inc/switchyard/pkg/provider"
)

// ForwarderOptions tune the retry behavior of a Forwarder. Zero values fall
// back to the defaults the provider tolerates well in practice.
type ForwarderOptions struct {
	MaxRetries     int           // attempts per message (default 4)
	AcquireTimeout time.Duration // how long to wait for a rate-limit token (default 3s)
	ThrottleMargin time.Duration // safety margin added to provider retry-after (default 500ms)
	BackoffBase    time.Duration // base for transient-error backoff (default 200ms)
}

func (o *ForwarderOptions) applyDefaults() {
	if o.MaxRetries < 1 {
		o.MaxRetries = 4
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 3 * time.Second
	}
	if o.ThrottleMargin <= 0 {
		o.ThrottleMargin = 500 * time.Millisecond
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 200 * time.Millisecond
	}
}

// Forwarder delivers one message copy to a destination, pacing through the
// token bucket and absorbing provider throttling. Retries are fully
// contained here; callers see either a Delivered identity or one error
// after the attempt budget is spent.
type Forwarder struct {
	provider provider.Provider
	limiter  *TokenBucket
	opts     ForwarderOptions
}

func NewForwarder(p provider.Provider, limiter *TokenBucket, opts ForwarderOptions) *Forwarder {
	opts.applyDefaults()
	return &Forwarder{provider: p, limiter: limiter, opts: opts}
}

// Forward copies src to destChatID. The limiter is advisory pacing, not an
// admission gate: when the bucket stays empty past the acquire timeout the
// attempt proceeds anyway after a short backoff, so a drained bucket alone
// never drops a message.
func (f *Forwarder) Forward(ctx context.Context, src provider.Message, destChatID int64) (provider.Delivered, error) {
	var lastErr error
	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		if !f.limiter.Acquire(ctx, f.opts.AcquireTimeout) {
			if err := sleepCtx(ctx, f.opts.BackoffBase<<attempt); err != nil {
				return provider.Delivered{}, err
			}
		}

		delivered, err := f.provider.DeliverCopy(ctx, src, destChatID)
		if err == nil {
			return delivered, nil
		}
		lastErr = err

		var throttle *provider.ThrottleError
		switch {
		case errors.As(err, &throttle):
			wait := throttle.RetryAfter + f.opts.ThrottleMargin
			logger.WarnCF("forwarder", "Provider throttled, backing off", map[string]any{
				"dest":    destChatID,
				"wait":    wait.String(),
				"attempt": attempt + 1,
			})
			if err := sleepCtx(ctx, wait); err != nil {
				return provider.Delivered{}, err
			}

		case provider.IsPermanent(err):
			return provider.Delivered{}, fmt.Errorf("deliver to %d: %w", destChatID, err)

		default:
			if attempt == f.opts.MaxRetries-1 {
				break
			}
			backoff := f.opts.BackoffBase + f.opts.BackoffBase/2*time.Duration(attempt)
			logger.WarnCF("forwarder", "Transient delivery error, retrying", map[string]any{
				"dest":    destChatID,
				"error":   err.Error(),
				"backoff": backoff.String(),
				"attempt": attempt + 1,
			})
			if err := sleepCtx(ctx, backoff); err != nil {
				return provider.Delivered{}, err
			}
		}
	}
	return provider.Delivered{}, fmt.Errorf("deliver to %d failed after %d attempts: %w",
		destChatID, f.opts.MaxRetries, lastErr)
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
