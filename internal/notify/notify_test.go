package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/connectsocial/internal/gateway"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"known code", &gateway.ProviderError{Status: 400, Code: 63016}, "Failed to send freeform message because you are outside the allowed window. If you are using WhatsApp please use a Message Template."},
		{"wrapped", fmt.Errorf("send: %w", &gateway.ProviderError{Code: 21614}), "'To' number is not a valid mobile number"},
		{"unknown code", &gateway.ProviderError{Code: 99999, Message: "whatever"}, FallbackMessage},
		{"no code", &gateway.ProviderError{Message: "bad"}, FallbackMessage},
		{"transport", errors.New("connection refused"), FallbackMessage},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Translate(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	msg, ok := Message(30003)
	assert.True(t, ok)
	assert.Equal(t, "Unreachable destination handset", msg)

	_, ok = Message(0)
	assert.False(t, ok)
}

func TestMulti(t *testing.T) {
	var mu sync.Mutex
	var got []string
	sink := func(name string) Sink {
		return SinkFunc(func(_ context.Context, n Notification) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+n.Title)
		})
	}

	Multi{sink("a"), nil, sink("b")}.Notify(context.Background(), Notification{Title: "t", Severity: SeverityError})
	assert.ElementsMatch(t, []string{"a:t", "b:t"}, got)

	Multi{}.Notify(context.Background(), Notification{})
}

func TestSubscriptionValid(t *testing.T) {
	var s Subscription
	assert.False(t, s.Valid())
	s.Endpoint = "https://push.example/abc"
	s.Keys.P256dh = "p"
	s.Keys.Auth = "a"
	assert.True(t, s.Valid())
}
