// Package notify delivers user-visible notifications (toasts) and translates provider error codes.
// Delivery is fire-and-forget: sinks log their own failures and never report back to the caller.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/connectsocial/internal/gateway"
	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/model"
)

const FallbackMessage = "Unknown error occurred"

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
)

type Notification struct {
	Title    string              `json:"title"`
	Message  string              `json:"message"`
	Severity Severity            `json:"severity"`
	Record   model.RecordContext `json:"record"`
}

type Sink interface {
	Notify(ctx context.Context, n Notification)
}

type SinkFunc func(ctx context.Context, n Notification)

func (f SinkFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Message returns the table text for a provider code.
func Message(code int) (string, bool) {
	msg, ok := providerErrors[code]
	return msg, ok
}

// Translate maps err to user-facing text: a known provider code goes through the table, anything
// else becomes FallbackMessage.
func Translate(err error) string {
	if err == nil {
		return ""
	}
	var pe *gateway.ProviderError
	if errors.As(err, &pe) {
		if msg, ok := Message(pe.Code); ok {
			return msg
		}
	}
	return FallbackMessage
}

// LogSink writes notifications to the service log.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, n Notification) {
	switch n.Severity {
	case SeverityError:
		logger.Errorf("notify: %s: %s (%s/%s)", n.Title, n.Message, n.Record.ObjectType, n.Record.RecordID)
	case SeverityWarning:
		logger.Warnf("notify: %s: %s (%s/%s)", n.Title, n.Message, n.Record.ObjectType, n.Record.RecordID)
	default:
		logger.Infof("notify: %s: %s", n.Title, n.Message)
	}
}

// Multi fans a notification out to every sink concurrently and waits for all of them.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) {
	switch len(m) {
	case 0:
		return
	case 1:
		if m[0] != nil {
			m[0].Notify(ctx, n)
		}
		return
	}
	var wg sync.WaitGroup
	for _, s := range m {
		if s == nil {
			continue
		}
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			s.Notify(ctx, n)
		}(s)
	}
	wg.Wait()
}
