package model

import "time"

// RawRecord: запись сообщения в том виде, в каком её отдаёт хранилище или шлюз провайдера.
// Имена полей фиксированы здесь (json-теги) и больше нигде не читаются по строковому ключу.
type RawRecord struct {
	ID                string `json:"Id"`
	Type              string `json:"Type"`
	DeliveryStatus    string `json:"Delivery_Status"`
	Channel           string `json:"Channel"`
	Body              string `json:"Body"`
	CreatedDate       string `json:"CreatedDate"`
	ScheduledDateTime string `json:"Scheduled_Date_Time,omitempty"`
}

// RawMessage is a tagged union over RawSMS and RawWhatsApp.
type RawMessage interface {
	Record() RawRecord
	Source() Channel
}

type RawSMS struct {
	RawRecord
	From string `json:"From,omitempty"`
	To   string `json:"To,omitempty"`
}

func (r RawSMS) Record() RawRecord { return r.RawRecord }
func (r RawSMS) Source() Channel   { return ChannelSMS }

type RawWhatsApp struct {
	RawRecord
	MediaURL   string `json:"Media_URL,omitempty"`
	TemplateID string `json:"Template_Id,omitempty"`
}

func (r RawWhatsApp) Record() RawRecord { return r.RawRecord }
func (r RawWhatsApp) Source() Channel   { return ChannelWhatsApp }

// SendRequest is an immediate send. TemplateID is only honoured for WhatsApp.
type SendRequest struct {
	Channel        Channel `json:"channel"`
	RecordID       string  `json:"record_id,omitempty"`
	Phone          string  `json:"phone"`
	Body           string  `json:"body"`
	TemplateID     string  `json:"template_id,omitempty"`
	HeaderMediaURL string  `json:"header_media_url,omitempty"`
	FileName       string  `json:"file_name,omitempty"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// ScheduleRequest is a deferred send; At is already offset-corrected by the schedule calculator.
type ScheduleRequest struct {
	Channel        Channel   `json:"channel"`
	RecordID       string    `json:"record_id,omitempty"`
	Phone          string    `json:"phone"`
	Body           string    `json:"body"`
	At             time.Time `json:"scheduled_time"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// MessageRecord is the local row written before an SMS send. Its ID doubles as the gateway
// idempotency key, so the confirmed record comes back under the same id.
type MessageRecord struct {
	ID     string
	Phone  string
	Body   string
	Status string
}

// ScheduleRecord is the local row written before an SMS schedule.
type ScheduleRecord struct {
	ID     string
	Phone  string
	Body   string
	Status string
	At     time.Time
}
