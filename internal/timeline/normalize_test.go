package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectsocial/internal/model"
)

func sms(id, typ, status, created string) model.RawSMS {
	return model.RawSMS{RawRecord: model.RawRecord{
		ID: id, Type: typ, DeliveryStatus: status, Channel: "SMS", Body: "hi " + id, CreatedDate: created,
	}}
}

func wa(id, typ, status, created string) model.RawWhatsApp {
	return model.RawWhatsApp{RawRecord: model.RawRecord{
		ID: id, Type: typ, DeliveryStatus: status, Channel: "WhatsApp", Body: "hi " + id, CreatedDate: created,
	}}
}

func TestNormalize_Flags(t *testing.T) {
	tests := []struct {
		name      string
		raw       model.RawMessage
		incoming  bool
		outgoing  bool
		scheduled bool
		sent      bool
		delivered bool
		read      bool
	}{
		{name: "inbound received", raw: sms("1", "Inbound", "Received", ""), incoming: true},
		{name: "inbound not received", raw: sms("2", "Inbound", "Read", ""), read: true},
		{name: "outbound sent", raw: sms("3", "Outbound", "Sent", ""), outgoing: true, sent: true},
		{name: "outbound delivered", raw: wa("4", "Outbound", "Delivered", ""), outgoing: true, delivered: true},
		{name: "outbound read", raw: wa("5", "Outbound", "Read", ""), outgoing: true, read: true},
		{name: "outbound scheduled", raw: sms("6", "Outbound", "Scheduled", ""), scheduled: true},
		{name: "outbound failed", raw: wa("7", "Outbound", "Failed", ""), outgoing: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Normalize(tt.raw, tt.raw.Source(), time.UTC)
			assert.Equal(t, tt.incoming, m.Incoming, "Incoming")
			assert.Equal(t, tt.outgoing, m.Outgoing, "Outgoing")
			assert.Equal(t, tt.scheduled, m.Scheduled, "Scheduled")
			assert.Equal(t, tt.sent, m.Sent, "Sent")
			assert.Equal(t, tt.delivered, m.Delivered, "Delivered")
			assert.Equal(t, tt.read, m.Read, "Read")
			assert.True(t, m.IsSMS != m.IsWhatsApp, "exactly one channel flag")

			set := 0
			for _, f := range []bool{m.Incoming, m.Outgoing, m.Scheduled} {
				if f {
					set++
				}
			}
			assert.LessOrEqual(t, set, 1)
		})
	}
}

func TestNormalize_ChannelFallback(t *testing.T) {
	raw := sms("1", "Inbound", "Received", "")
	raw.Channel = ""
	m := Normalize(raw, model.ChannelSMS, nil)
	assert.True(t, m.IsSMS)
	assert.False(t, m.IsWhatsApp)

	raw.Channel = "whatsapp"
	m = Normalize(raw, model.ChannelSMS, nil)
	assert.Equal(t, model.ChannelWhatsApp, m.Channel)
	assert.True(t, m.IsWhatsApp)

	raw.Channel = "fax"
	m = Normalize(raw, "", nil)
	assert.Equal(t, model.ChannelSMS, m.Channel, "falls back to the source variant")
}

func TestNormalize_DisplayFields(t *testing.T) {
	raw := sms("1", "Outbound", "Scheduled", "2024-06-01T09:05:00.000+0000")
	raw.ScheduledDateTime = "2024-06-01T14:30:00Z"
	m := Normalize(raw, model.ChannelSMS, time.UTC)

	require.True(t, m.HasTimestamp())
	assert.Equal(t, time.Date(2024, 6, 1, 9, 5, 0, 0, time.UTC), m.CreatedAt)
	assert.Equal(t, "09:05", m.FormattedTime)
	require.NotNil(t, m.ScheduledAt)
	assert.Equal(t, "Saturday, Jun 01, 02:30 PM", m.FormattedScheduledTime)
}

func TestNormalize_LocalPresentation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	m := Normalize(sms("1", "Inbound", "Received", "2024-06-01T09:05:00Z"), model.ChannelSMS, loc)
	assert.Equal(t, "14:35", m.FormattedTime)
	assert.Equal(t, time.UTC, m.CreatedAt.Location(), "ordering key stays UTC")
}

func TestNormalize_SoftFailure(t *testing.T) {
	raw := sms("1", "Inbound", "Received", "not a date")
	raw.ScheduledDateTime = "garbage"
	m := Normalize(raw, model.ChannelSMS, time.UTC)

	assert.False(t, m.HasTimestamp())
	assert.Empty(t, m.FormattedTime)
	assert.Nil(t, m.ScheduledAt)
	assert.Empty(t, m.FormattedScheduledTime)
	assert.True(t, m.Incoming)
}

func TestNormalize_WhatsAppScheduleLineOnlyWhilePending(t *testing.T) {
	raw := wa("1", "Outbound", "Sent", "2024-06-01T09:00:00Z")
	raw.ScheduledDateTime = "2024-06-01T10:00:00Z"
	raw.MediaURL = "https://cdn.example.com/a.png"

	m := Normalize(raw, model.ChannelWhatsApp, time.UTC)
	assert.NotNil(t, m.ScheduledAt)
	assert.Empty(t, m.FormattedScheduledTime)
	assert.Equal(t, "https://cdn.example.com/a.png", m.MediaURL)

	raw.DeliveryStatus = "Scheduled"
	m = Normalize(raw, model.ChannelWhatsApp, time.UTC)
	assert.Equal(t, "Saturday, Jun 01, 10:00 AM", m.FormattedScheduledTime)
}

func TestNormalize_UnknownTypeInfersDirection(t *testing.T) {
	m := Normalize(sms("1", "", "Received", ""), model.ChannelSMS, nil)
	assert.Equal(t, model.DirectionInbound, m.Direction)
	assert.True(t, m.Incoming)

	m = Normalize(sms("2", "??", "weird", ""), model.ChannelSMS, nil)
	assert.Equal(t, model.DirectionOutbound, m.Direction)
	assert.Equal(t, model.StatusUnknown, m.DeliveryStatus)
}
