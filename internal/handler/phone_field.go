package handler

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/repository"
)

type PhoneFieldStore interface {
	PhoneField(ctx context.Context, objectType string) (string, error)
	SetPhoneField(ctx context.Context, objectType, field string) error
	Fields(ctx context.Context, objectType string) ([]string, error)
}

// PhoneFieldHandler управляет тем, из какого поля записи берётся номер собеседника.
type PhoneFieldHandler struct {
	store PhoneFieldStore
}

func NewPhoneFieldHandler(store PhoneFieldStore) *PhoneFieldHandler {
	return &PhoneFieldHandler{store: store}
}

type phoneFieldResponse struct {
	ObjectType string   `json:"object_type"`
	Field      string   `json:"field"`
	Fields     []string `json:"fields"`
}

func (h *PhoneFieldHandler) Get(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")
	field, err := h.store.PhoneField(r.Context(), object)
	if err != nil && !errors.Is(err, repository.ErrPhoneFieldUnset) {
		logger.Errorf("phone field get %s: %v", object, err)
		writeError(w, http.StatusInternalServerError, "failed to load phone field")
		return
	}
	fields, err := h.store.Fields(r.Context(), object)
	if err != nil {
		logger.Errorf("phone field candidates %s: %v", object, err)
		writeError(w, http.StatusInternalServerError, "failed to load fields")
		return
	}
	if fields == nil {
		fields = []string{}
	}
	writeJSON(w, http.StatusOK, phoneFieldResponse{ObjectType: object, Field: field, Fields: fields})
}

type setPhoneFieldRequest struct {
	Field string `json:"field"`
}

func (h *PhoneFieldHandler) Put(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")
	var req setPhoneFieldRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Field = strings.TrimSpace(req.Field)
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, "field required")
		return
	}
	// Пустой список значит, что записей этого типа ещё нет: принимаем любое имя.
	fields, err := h.store.Fields(r.Context(), object)
	if err != nil {
		logger.Errorf("phone field candidates %s: %v", object, err)
		writeError(w, http.StatusInternalServerError, "failed to load fields")
		return
	}
	if len(fields) > 0 && !slices.Contains(fields, req.Field) {
		writeError(w, http.StatusBadRequest, "unknown field")
		return
	}
	if err := h.store.SetPhoneField(r.Context(), object, req.Field); err != nil {
		logger.Errorf("phone field set %s: %v", object, err)
		writeError(w, http.StatusInternalServerError, "failed to save phone field")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
