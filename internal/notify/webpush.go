package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"github.com/connectsocial/internal/logger"
)

const (
	subsKeyPrefix   = "push:subs:"
	subscriptionTTL = 30 * 24 * time.Hour
	maxSubsPerOwner = 20
	sendTimeout     = 10 * time.Second
)

var ErrInvalidSubscription = errors.New("notify: endpoint, keys.p256dh and keys.auth required")

// Subscription: подписка браузера (PushSubscription.toJSON()).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s Subscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// SubscriptionStore хранит подписки в Redis: hash push:subs:<owner>, поле = endpoint.
// Owner: id записи CRM, по которой открыт разговор.
type SubscriptionStore struct {
	rdb *redis.Client
}

func NewSubscriptionStore(rdb *redis.Client) *SubscriptionStore {
	return &SubscriptionStore{rdb: rdb}
}

func (s *SubscriptionStore) Add(ctx context.Context, owner string, sub Subscription) error {
	if owner == "" || !sub.Valid() {
		return ErrInvalidSubscription
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("subs.Add encode: %w", err)
	}
	key := subsKeyPrefix + owner
	n, err := s.rdb.HLen(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("subs.Add: %w", err)
	}
	if n >= maxSubsPerOwner {
		if exists, _ := s.rdb.HExists(ctx, key, sub.Endpoint).Result(); !exists {
			return fmt.Errorf("subs.Add: too many subscriptions for %s", owner)
		}
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, sub.Endpoint, string(raw))
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("subs.Add: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) Remove(ctx context.Context, owner, endpoint string) error {
	if err := s.rdb.HDel(ctx, subsKeyPrefix+owner, endpoint).Err(); err != nil {
		return fmt.Errorf("subs.Remove: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) List(ctx context.Context, owner string) ([]Subscription, error) {
	vals, err := s.rdb.HVals(ctx, subsKeyPrefix+owner).Result()
	if err != nil {
		return nil, fmt.Errorf("subs.List: %w", err)
	}
	subs := make([]Subscription, 0, len(vals))
	for _, v := range vals {
		var sub Subscription
		if json.Unmarshal([]byte(v), &sub) == nil && sub.Valid() {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// WebPushSink отправляет уведомление всем подпискам записи. Подписки, на которые push-сервис
// ответил 404/410, удаляются.
type WebPushSink struct {
	store *SubscriptionStore
	opts  webpush.Options
}

func NewWebPushSink(store *SubscriptionStore, keys *VAPIDKeys, subscriber string) *WebPushSink {
	return &WebPushSink{
		store: store,
		opts: webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             60,
		},
	}
}

func (s *WebPushSink) PublicKey() string { return s.opts.VAPIDPublicKey }

func (s *WebPushSink) Notify(ctx context.Context, n Notification) {
	owner := n.Record.RecordID
	if owner == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	subs, err := s.store.List(ctx, owner)
	if err != nil {
		logger.Errorf("notify: webpush list %s: %v", owner, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		logger.Errorf("notify: webpush payload: %v", err)
		return
	}
	for _, sub := range subs {
		wp := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		opts := s.opts
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wp, &opts)
		if err != nil {
			logger.Errorf("notify: webpush send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if err := s.store.Remove(ctx, owner, sub.Endpoint); err != nil {
				logger.Errorf("notify: %v", err)
			}
		}
	}
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}
