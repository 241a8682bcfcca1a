package ws

import (
	"time"

	"github.com/connectsocial/internal/model"
)

type EventType string

// Client -> server.
const (
	EventOpen          EventType = "open"
	EventClose         EventType = "close"
	EventSelectChannel EventType = "select_channel"
	EventSend          EventType = "send"
	EventSchedule      EventType = "schedule"
	EventReload        EventType = "reload"
)

// Server -> client.
const (
	EventOpened             EventType = "opened"
	EventTimeline           EventType = "timeline"
	EventSendResult         EventType = "send_result"
	EventScheduleAccepted   EventType = "schedule_accepted"
	EventNotification       EventType = "notification"
	EventPhoneFieldRequired EventType = "phone_field_required"
	EventError              EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// open
	ObjectType string        `json:"object_type,omitempty"`
	RecordID   string        `json:"record_id,omitempty"`
	Channel    model.Channel `json:"channel,omitempty"`

	// send / schedule
	Body           string `json:"body,omitempty"`
	TemplateID     string `json:"template_id,omitempty"`
	HeaderMediaURL string `json:"header_media_url,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	Date           string `json:"date,omitempty"`
	Time           string `json:"time,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type OpenedPayload struct {
	Counterparty model.Counterparty `json:"counterparty"`
	Channel      model.Channel      `json:"channel"`
}

type TimelinePayload struct {
	Groups               []model.DateGroup `json:"groups"`
	ReengagementRequired bool              `json:"reengagement_required"`
}

type SendResultPayload struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

type ScheduleAcceptedPayload struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

type PhoneFieldPayload struct {
	ObjectType string `json:"object_type"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
