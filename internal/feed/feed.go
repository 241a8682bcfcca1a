// Package feed is the conversation-scoped push-event feed. Events are trigger signals only:
// subscribers reload from the message store and never trust the payload to be complete.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/connectsocial/internal/model"
)

var (
	ErrClosed        = errors.New("feed: closed")
	ErrUnknownHandle = errors.New("feed: unknown subscription")
)

type Event struct {
	Topic     string    `json:"topic"`
	Kind      string    `json:"kind,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// Handle identifies one subscription.
type Handle string

type Handler func(Event)

// ErrorHandler is called at most once per subscription, after which the subscription is released.
type ErrorHandler func(error)

type Feed interface {
	// Subscribe returns once the transport has acknowledged the subscription.
	Subscribe(ctx context.Context, topic string, onEvent Handler, onError ErrorHandler) (Handle, error)
	Unsubscribe(h Handle) error
	Publish(ctx context.Context, topic string, ev Event) error
	Close() error
}

// Topic builds the per-conversation topic from the counterparty phone.
func Topic(prefix, phone string) string {
	return strings.TrimSuffix(prefix, ".") + "." + model.NormalizePhone(phone)
}

// Encode / Decode are shared by the network drivers.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode tolerates empty or foreign payloads: the event still counts as a trigger.
func Decode(topic string, data []byte) Event {
	var ev Event
	if len(data) > 0 {
		_ = json.Unmarshal(data, &ev)
	}
	if ev.Topic == "" {
		ev.Topic = topic
	}
	return ev
}
