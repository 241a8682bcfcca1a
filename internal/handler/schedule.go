package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/connectsocial/internal/model"
	"github.com/connectsocial/internal/schedule"
)

// ScheduleHandler считает момент отправки без самой отправки (превью в форме планирования).
type ScheduleHandler struct {
	calc *schedule.Calculator
}

func NewScheduleHandler(calc *schedule.Calculator) *ScheduleHandler {
	return &ScheduleHandler{calc: calc}
}

type validateScheduleRequest struct {
	Channel string `json:"channel"`
	Date    string `json:"date"`
	Time    string `json:"time"`
}

type validateScheduleResponse struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (h *ScheduleHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ch, ok := model.ParseChannel(req.Channel)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	at, err := h.calc.Compute(req.Date, req.Time, ch)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, validateScheduleResponse{ScheduledAt: at})
	case errors.Is(err, schedule.ErrIncomplete):
		writeError(w, http.StatusUnprocessableEntity, "date and time are required")
	case errors.Is(err, schedule.ErrTooSoon):
		writeError(w, http.StatusUnprocessableEntity, schedule.TooSoonMessage(err))
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
