package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

// MessageBus carries inbound provider events to the router and outbound
// notices from the router back to the provider adapter.
type MessageBus struct {
	events  chan Event
	notices chan Notice
	done    chan struct{}
	closed  atomic.Bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		events:  make(chan Event, 100),
		notices: make(chan Notice, 100),
		done:    make(chan struct{}),
	}
}

func (mb *MessageBus) PublishEvent(ctx context.Context, ev Event) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.events <- ev:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeEvent(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-mb.events:
		return ev, ok
	case <-mb.done:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (mb *MessageBus) PublishNotice(ctx context.Context, n Notice) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.notices <- n:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) SubscribeNotices(ctx context.Context) (Notice, bool) {
	select {
	case n, ok := <-mb.notices:
		return n, ok
	case <-mb.done:
		return Notice{}, false
	case <-ctx.Done():
		return Notice{}, false
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
