package model

import "time"

// Message: каноническое сообщение ленты, не зависящее от канала.
// Флаги (IsSMS, Incoming, ...) выводятся нормализатором и не меняются вручную.
type Message struct {
	ID             string         `json:"id"`
	Channel        Channel        `json:"channel"`
	Direction      Direction      `json:"direction"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	Body           string         `json:"body,omitempty"`
	MediaURL       string         `json:"media_url,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ScheduledAt    *time.Time     `json:"scheduled_at,omitempty"`
	IsOptimistic   bool           `json:"is_optimistic"`

	IsSMS      bool `json:"is_sms"`
	IsWhatsApp bool `json:"is_whatsapp"`
	Incoming   bool `json:"incoming"`
	Outgoing   bool `json:"outgoing"`
	Scheduled  bool `json:"scheduled"`
	Sent       bool `json:"sent"`
	Delivered  bool `json:"delivered"`
	Read       bool `json:"read"`

	FormattedTime          string `json:"formatted_time"`
	FormattedScheduledTime string `json:"formatted_scheduled_time,omitempty"`
}

// HasTimestamp is false when the source CreatedDate was absent or unparsable.
func (m *Message) HasTimestamp() bool {
	return !m.CreatedAt.IsZero()
}

// DateGroup is derived state only: recomputed on every timeline mutation, never persisted.
type DateGroup struct {
	DateKey  string    `json:"date"`
	Messages []Message `json:"messages"`
}

// RecordContext identifies the CRM record a conversation is opened from.
type RecordContext struct {
	ObjectType string `json:"object_type"`
	RecordID   string `json:"record_id"`
}

// Counterparty is what the record resolver returns for a RecordContext.
type Counterparty struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type TemplateHeader string

const (
	HeaderNone     TemplateHeader = ""
	HeaderText     TemplateHeader = "Text"
	HeaderImage    TemplateHeader = "Image"
	HeaderVideo    TemplateHeader = "Video"
	HeaderDocument TemplateHeader = "Document"
)

type Template struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Body       string         `json:"body"`
	Header     TemplateHeader `json:"header,omitempty"`
	Channel    Channel        `json:"channel"`
	ObjectType string         `json:"object_type"`
}

// NeedsMedia reports whether sending the template requires a header media URL.
func (t *Template) NeedsMedia() bool {
	switch t.Header {
	case HeaderImage, HeaderVideo, HeaderDocument:
		return true
	}
	return false
}
