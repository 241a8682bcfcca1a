// Package memory: фид событий в памяти процесса (режим -dev без Redis/NATS и тесты).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connectsocial/internal/feed"
)

type subscription struct {
	topic   string
	onEvent feed.Handler
	onError feed.ErrorHandler
}

type Feed struct {
	mu     sync.RWMutex
	subs   map[feed.Handle]subscription
	closed bool
}

func New() *Feed {
	return &Feed{subs: make(map[feed.Handle]subscription)}
}

func (f *Feed) Subscribe(ctx context.Context, topic string, onEvent feed.Handler, onError feed.ErrorHandler) (feed.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", feed.ErrClosed
	}
	h := feed.Handle(uuid.NewString())
	f.subs[h] = subscription{topic: topic, onEvent: onEvent, onError: onError}
	return h, nil
}

func (f *Feed) Unsubscribe(h feed.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[h]; !ok {
		return feed.ErrUnknownHandle
	}
	delete(f.subs, h)
	return nil
}

// Publish вызывает обработчики синхронно, вне блокировки.
func (f *Feed) Publish(ctx context.Context, topic string, ev feed.Event) error {
	if ev.Topic == "" {
		ev.Topic = topic
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return feed.ErrClosed
	}
	var targets []feed.Handler
	for _, s := range f.subs {
		if s.topic == topic {
			targets = append(targets, s.onEvent)
		}
	}
	f.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
	return nil
}

// Fail simulates a transport error on every subscription to topic: each is released and its
// error handler invoked once.
func (f *Feed) Fail(topic string, err error) {
	f.mu.Lock()
	var handlers []feed.ErrorHandler
	for h, s := range f.subs {
		if s.topic == topic {
			handlers = append(handlers, s.onError)
			delete(f.subs, h)
		}
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		if fn != nil {
			fn(err)
		}
	}
}

// Subscribers returns the number of live subscriptions to topic.
func (f *Feed) Subscribers(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, s := range f.subs {
		if s.topic == topic {
			n++
		}
	}
	return n
}

func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = make(map[feed.Handle]subscription)
	return nil
}
