// Package redis: фид событий поверх Redis Pub/Sub. Подписка считается установленной после
// подтверждения SUBSCRIBE; при сетевой ошибке подписка снимается без повторов.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/connectsocial/internal/feed"
	"github.com/connectsocial/internal/logger"
)

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
}

type Feed struct {
	cli *redis.Client

	mu     sync.Mutex
	subs   map[feed.Handle]*subscription
	closed bool
}

// New подключается по URL и проверяет соединение (PING).
func New(ctx context.Context, url string) (*Feed, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cli), nil
}

func NewWithClient(cli *redis.Client) *Feed {
	return &Feed{cli: cli, subs: make(map[feed.Handle]*subscription)}
}

// Client отдаёт нижележащий клиент (его же используют подписки Web Push).
func (f *Feed) Client() *redis.Client { return f.cli }

func (f *Feed) Subscribe(ctx context.Context, topic string, onEvent feed.Handler, onError feed.ErrorHandler) (feed.Handle, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return "", feed.ErrClosed
	}

	ps := f.cli.Subscribe(ctx, topic)
	// Первый ответ: подтверждение подписки.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return "", fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h := feed.Handle(uuid.NewString())
	f.mu.Lock()
	f.subs[h] = &subscription{ps: ps, cancel: cancel}
	f.mu.Unlock()

	go f.receive(loopCtx, h, ps, onEvent, onError)
	return h, nil
}

func (f *Feed) receive(ctx context.Context, h feed.Handle, ps *redis.PubSub, onEvent feed.Handler, onError feed.ErrorHandler) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if f.release(h) {
				logger.Errorf("feed: redis subscription %s: %v", h, err)
				if onError != nil {
					onError(err)
				}
			}
			return
		}
		onEvent(feed.Decode(msg.Channel, []byte(msg.Payload)))
	}
}

// release removes h and closes its PubSub; false when it was already gone.
func (f *Feed) release(h feed.Handle) bool {
	f.mu.Lock()
	s, ok := f.subs[h]
	delete(f.subs, h)
	f.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	if err := s.ps.Close(); err != nil {
		logger.Errorf("feed: redis pubsub close: %v", err)
	}
	return true
}

func (f *Feed) Unsubscribe(h feed.Handle) error {
	if !f.release(h) {
		return feed.ErrUnknownHandle
	}
	return nil
}

func (f *Feed) Publish(ctx context.Context, topic string, ev feed.Event) error {
	if ev.Topic == "" {
		ev.Topic = topic
	}
	data, err := feed.Encode(ev)
	if err != nil {
		return fmt.Errorf("feed encode: %w", err)
	}
	if err := f.cli.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (f *Feed) Close() error {
	f.mu.Lock()
	f.closed = true
	handles := make([]feed.Handle, 0, len(f.subs))
	for h := range f.subs {
		handles = append(handles, h)
	}
	f.mu.Unlock()

	for _, h := range handles {
		f.release(h)
	}
	return f.cli.Close()
}
