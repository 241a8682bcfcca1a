package handler

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/connectsocial/internal/feed"
	"github.com/connectsocial/internal/gateway"
	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/model"
)

type MessageUpserter interface {
	Upsert(ctx context.Context, phone, recordID string, raw model.RawMessage) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, ev feed.Event) error
}

// WebhookHandler принимает от шлюза провайдера входящие сообщения и смены статуса,
// сохраняет их и будит открытые разговоры по этому номеру.
type WebhookHandler struct {
	store       MessageUpserter
	publisher   EventPublisher
	topicPrefix string
	token       string
	now         func() time.Time
}

// NewWebhookHandler: при пустом token проверка Authorization отключена (dev).
func NewWebhookHandler(store MessageUpserter, publisher EventPublisher, topicPrefix, token string) *WebhookHandler {
	return &WebhookHandler{store: store, publisher: publisher, topicPrefix: topicPrefix, token: token, now: time.Now}
}

type webhookRequest struct {
	Channel  string          `json:"channel"`
	Kind     string          `json:"kind"`
	Phone    string          `json:"phone"`
	RecordID string          `json:"record_id"`
	Message  json.RawMessage `json:"message"`
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *WebhookHandler) Messages(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req webhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ch, ok := model.ParseChannel(req.Channel)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	if model.NormalizePhone(req.Phone) == "" {
		writeError(w, http.StatusBadRequest, "phone required")
		return
	}
	if len(req.Message) == 0 {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}
	raw, err := gateway.DecodeRaw(bytes.NewReader(req.Message), ch)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message")
		return
	}
	if raw.Record().ID == "" {
		writeError(w, http.StatusBadRequest, "message.Id required")
		return
	}

	if err := h.store.Upsert(r.Context(), req.Phone, req.RecordID, raw); err != nil {
		logger.Errorf("webhook upsert %s %s: %v", ch, logger.MaskPhone(req.Phone), err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = "message"
	}
	topic := feed.Topic(h.topicPrefix, req.Phone)
	ev := feed.Event{Topic: topic, Kind: kind, MessageID: raw.Record().ID, At: h.now().UTC()}
	if err := h.publisher.Publish(r.Context(), topic, ev); err != nil {
		// Запись уже сохранена: открытые разговоры увидят её при следующей перезагрузке.
		logger.Errorf("webhook publish %s: %v", logger.MaskPhone(req.Phone), err)
	}
	w.WriteHeader(http.StatusAccepted)
}
