package model

import "strings"

type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WhatsApp"
)

// ParseChannel принимает значение поля Channel из записи провайдера ("SMS", "WhatsApp", без учёта регистра).
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sms":
		return ChannelSMS, true
	case "whatsapp":
		return ChannelWhatsApp, true
	}
	return "", false
}

func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelWhatsApp
}

type Direction string

const (
	DirectionInbound  Direction = "Inbound"
	DirectionOutbound Direction = "Outbound"
)

func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbound":
		return DirectionInbound, true
	case "outbound":
		return DirectionOutbound, true
	}
	return "", false
}

type DeliveryStatus string

const (
	StatusReceived  DeliveryStatus = "Received"
	StatusSent      DeliveryStatus = "Sent"
	StatusDelivered DeliveryStatus = "Delivered"
	StatusRead      DeliveryStatus = "Read"
	StatusScheduled DeliveryStatus = "Scheduled"
	StatusFailed    DeliveryStatus = "Failed"
	StatusUnknown   DeliveryStatus = "Unknown"
)

var deliveryStatuses = map[string]DeliveryStatus{
	"received":    StatusReceived,
	"sent":        StatusSent,
	"delivered":   StatusDelivered,
	"read":        StatusRead,
	"scheduled":   StatusScheduled,
	"failed":      StatusFailed,
	"undelivered": StatusFailed,
}

// ParseDeliveryStatus never fails: anything outside the known set maps to StatusUnknown.
func ParseDeliveryStatus(s string) DeliveryStatus {
	if st, ok := deliveryStatuses[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return StatusUnknown
}
