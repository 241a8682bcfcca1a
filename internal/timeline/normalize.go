// Package timeline turns raw SMS and WhatsApp records into one ordered, date-grouped conversation.
package timeline

import (
	"strings"
	"time"

	"github.com/connectsocial/internal/model"
)

const (
	clockLayout     = "15:04"
	scheduledLayout = "Monday, Jan 02, 03:04 PM"
	dateKeyLayout   = "Mon, 02 Jan 2006"
)

// Layouts accepted for CreatedDate / Scheduled_Date_Time. The second one is what the CRM emits
// ("2024-06-01T09:00:00.000+0000").
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a raw timestamp; layouts without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatClock renders HH:MM in loc, or "" for the zero instant.
func FormatClock(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(location(loc)).Format(clockLayout)
}

// FormatScheduled renders "Saturday, Jun 01, 10:00 AM" in loc, or "" for nil.
func FormatScheduled(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(location(loc)).Format(scheduledLayout)
}

// Normalize maps a raw record into a canonical Message. It never fails: display fields of a record
// with a missing or unparsable timestamp are left empty so a single bad row cannot abort a merge.
// The record's own Channel field wins; ch is used when the field is absent or unknown.
func Normalize(raw model.RawMessage, ch model.Channel, loc *time.Location) model.Message {
	rec := raw.Record()

	channel, ok := model.ParseChannel(rec.Channel)
	if !ok {
		channel = ch
		if !channel.Valid() {
			channel = raw.Source()
		}
	}

	status := model.ParseDeliveryStatus(rec.DeliveryStatus)
	direction, ok := model.ParseDirection(rec.Type)
	if !ok {
		direction = model.DirectionOutbound
		if status == model.StatusReceived {
			direction = model.DirectionInbound
		}
	}

	m := model.Message{
		ID:             rec.ID,
		Channel:        channel,
		Direction:      direction,
		DeliveryStatus: status,
		Body:           rec.Body,
	}
	if wa, ok := raw.(model.RawWhatsApp); ok {
		m.MediaURL = wa.MediaURL
	}
	if created, ok := ParseTimestamp(rec.CreatedDate); ok {
		m.CreatedAt = created
	}
	if at, ok := ParseTimestamp(rec.ScheduledDateTime); ok {
		m.ScheduledAt = &at
	}

	applyFlags(&m)
	m.FormattedTime = FormatClock(m.CreatedAt, loc)
	// WhatsApp only shows the schedule line while the message is still pending.
	if m.IsSMS || m.Scheduled {
		m.FormattedScheduledTime = FormatScheduled(m.ScheduledAt, loc)
	}
	return m
}

// applyFlags derives the status booleans. Scheduled outbound messages are not Outgoing, so at
// most one of Incoming / Outgoing / Scheduled is ever set.
func applyFlags(m *model.Message) {
	m.IsSMS = m.Channel == model.ChannelSMS
	m.IsWhatsApp = m.Channel == model.ChannelWhatsApp
	m.Incoming = m.Direction == model.DirectionInbound && m.DeliveryStatus == model.StatusReceived
	m.Scheduled = m.Direction == model.DirectionOutbound && m.DeliveryStatus == model.StatusScheduled
	m.Outgoing = m.Direction == model.DirectionOutbound && !m.Scheduled
	m.Sent = m.DeliveryStatus == model.StatusSent
	m.Delivered = m.DeliveryStatus == model.StatusDelivered
	m.Read = m.DeliveryStatus == model.StatusRead
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
