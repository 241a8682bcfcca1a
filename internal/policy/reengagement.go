// Package policy decides when the WhatsApp re-engagement restriction applies.
package policy

import (
	"time"

	"github.com/connectsocial/internal/model"
)

// DefaultWindow is the WhatsApp customer-service window: free-form sends are allowed only within
// this long after the counterparty's last inbound message.
const DefaultWindow = 24 * time.Hour

type Evaluator struct {
	Window time.Duration
}

func NewEvaluator(window time.Duration) *Evaluator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Evaluator{Window: window}
}

// RequiresReengagement is true only on the WhatsApp channel, when the last inbound WhatsApp
// message (chronologically, messages must be ordered) is strictly older than the window.
// No inbound WhatsApp message at all means no restriction.
func (e *Evaluator) RequiresReengagement(messages []model.Message, active model.Channel, now time.Time) bool {
	if active != model.ChannelWhatsApp {
		return false
	}
	last, ok := LastInbound(messages, model.ChannelWhatsApp)
	if !ok {
		return false
	}
	return now.Sub(last.CreatedAt) > e.Window
}

// LastInbound returns the last dated message with direction Inbound on channel ch. Messages whose
// timestamp could not be parsed carry no age and are skipped.
func LastInbound(messages []model.Message, ch model.Channel) (model.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Direction == model.DirectionInbound && m.Channel == ch && m.HasTimestamp() {
			return m, true
		}
	}
	return model.Message{}, false
}
