package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/model"
	"github.com/connectsocial/internal/repository"
)

type TemplateStore interface {
	List(ctx context.Context, objectType string, ch model.Channel, q string) ([]model.Template, error)
	Get(ctx context.Context, id string) (*model.Template, error)
}

type TemplateHandler struct {
	store TemplateStore
}

func NewTemplateHandler(store TemplateStore) *TemplateHandler {
	return &TemplateHandler{store: store}
}

// List: GET /api/templates?object=&channel=&q=. Без channel возвращаются шаблоны обоих каналов.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ch model.Channel
	if raw := q.Get("channel"); raw != "" {
		parsed, ok := model.ParseChannel(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown channel")
			return
		}
		ch = parsed
	}
	list, err := h.store.List(r.Context(), q.Get("object"), ch, q.Get("q"))
	if err != nil {
		logger.Errorf("templates list: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	if list == nil {
		list = []model.Template{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		logger.Errorf("template get: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
