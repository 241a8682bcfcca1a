// Package nats is the NATS driver of the conversation feed. Core subjects are enough: events are
// triggers, nothing needs to be replayed.
package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/connectsocial/internal/feed"
	"github.com/connectsocial/internal/logger"
)

const ackTimeout = 5 * time.Second

type subscription struct {
	sub     *nats.Subscription
	onError feed.ErrorHandler
}

type Feed struct {
	nc *nats.Conn

	mu     sync.Mutex
	subs   map[feed.Handle]*subscription
	closed bool
}

// New connects to url. Async subscription errors and disconnects release the affected
// subscriptions; the connection may reconnect but released subscriptions stay released.
func New(url string) (*Feed, error) {
	f := &Feed{subs: make(map[feed.Handle]*subscription)}
	nc, err := nats.Connect(url,
		nats.Name("connectsocial-timeline"),
		nats.ErrorHandler(f.onAsyncError),
		nats.DisconnectErrHandler(f.onDisconnect),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	f.nc = nc
	return f, nil
}

func (f *Feed) Subscribe(ctx context.Context, topic string, onEvent feed.Handler, onError feed.ErrorHandler) (feed.Handle, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return "", feed.ErrClosed
	}

	sub, err := f.nc.Subscribe(topic, func(m *nats.Msg) {
		onEvent(feed.Decode(m.Subject, m.Data))
	})
	if err != nil {
		return "", fmt.Errorf("failed to subscribe to subject '%s': %w", topic, err)
	}
	// The server has processed SUB once the flush round-trip returns.
	flushCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if err := f.nc.FlushWithContext(flushCtx); err != nil {
		_ = sub.Unsubscribe()
		return "", fmt.Errorf("failed to confirm subscription to '%s': %w", topic, err)
	}

	h := feed.Handle(uuid.NewString())
	f.mu.Lock()
	f.subs[h] = &subscription{sub: sub, onError: onError}
	f.mu.Unlock()
	logger.Debugf("feed: nats subscribed to %s", topic)
	return h, nil
}

func (f *Feed) Unsubscribe(h feed.Handle) error {
	f.mu.Lock()
	s, ok := f.subs[h]
	delete(f.subs, h)
	f.mu.Unlock()
	if !ok {
		return feed.ErrUnknownHandle
	}
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}

func (f *Feed) Publish(ctx context.Context, topic string, ev feed.Event) error {
	if ev.Topic == "" {
		ev.Topic = topic
	}
	data, err := feed.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := f.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("failed to publish event to subject '%s': %w", topic, err)
	}
	return nil
}

func (f *Feed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.subs = make(map[feed.Handle]*subscription)
	f.mu.Unlock()
	if f.nc != nil {
		f.nc.Close()
	}
	return nil
}

func (f *Feed) onAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub == nil {
		logger.Errorf("feed: nats async error: %v", err)
		return
	}
	f.mu.Lock()
	var failed []*subscription
	for h, s := range f.subs {
		if s.sub == sub {
			failed = append(failed, s)
			delete(f.subs, h)
		}
	}
	f.mu.Unlock()
	f.fail(failed, err)
}

func (f *Feed) onDisconnect(_ *nats.Conn, err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	failed := make([]*subscription, 0, len(f.subs))
	for h, s := range f.subs {
		failed = append(failed, s)
		delete(f.subs, h)
	}
	f.mu.Unlock()
	f.fail(failed, err)
}

func (f *Feed) fail(subs []*subscription, err error) {
	for _, s := range subs {
		_ = s.sub.Unsubscribe()
		logger.Errorf("feed: nats subscription %s: %v", s.sub.Subject, err)
		if s.onError != nil {
			s.onError(err)
		}
	}
}
