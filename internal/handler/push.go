package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/notify"
)

type SubscriptionStore interface {
	Add(ctx context.Context, owner string, sub notify.Subscription) error
	Remove(ctx context.Context, owner, endpoint string) error
}

// PushHandler обрабатывает подписку на пуш-уведомления об ошибках по записи.
type PushHandler struct {
	store     SubscriptionStore
	publicKey string
}

// NewPushHandler: store == nil значит, что пуши выключены.
func NewPushHandler(store SubscriptionStore, publicKey string) *PushHandler {
	return &PushHandler{store: store, publicKey: publicKey}
}

// Config возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *PushHandler) Config(w http.ResponseWriter, r *http.Request) {
	if h.store == nil || h.publicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.publicKey,
	})
}

// SubscribeRequest: тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	RecordID     string              `json:"record_id"`
	Subscription notify.Subscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	var req SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RecordID) == "" {
		writeError(w, http.StatusBadRequest, "record_id required")
		return
	}
	err := h.store.Add(r.Context(), req.RecordID, req.Subscription)
	if errors.Is(err, notify.ErrInvalidSubscription) {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if err != nil {
		logger.Errorf("push subscribe: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest: тело для отписки по endpoint.
type UnsubscribeRequest struct {
	RecordID string `json:"record_id"`
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	var req UnsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RecordID == "" || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "record_id and endpoint required")
		return
	}
	if err := h.store.Remove(r.Context(), req.RecordID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
