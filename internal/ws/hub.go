package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/connectsocial/internal/conversation"
	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/metrics"
	"github.com/connectsocial/internal/model"
	"github.com/connectsocial/internal/notify"
	"github.com/connectsocial/internal/repository"
	"github.com/connectsocial/internal/schedule"
)

const openTimeout = 10 * time.Second

// ControllerFactory builds the controller of one client; l and n are the client itself
// (plus the shared sinks for n).
type ControllerFactory func(l conversation.Listener, n notify.Sink) *conversation.Controller

type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	maxConns int
	limits   Limits

	factory  ControllerFactory
	notifier notify.Sink

	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	done       chan struct{}
}

// NewHub. notifier receives every notification in addition to the client toast (log, Web Push).
func NewHub(factory ControllerFactory, notifier notify.Sink, maxConns int, limits Limits) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		limits:     limits,
		factory:    factory,
		notifier:   notifier,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) newController(c *Client, n notify.Sink) *conversation.Controller {
	return h.factory(c, n)
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Done закрывается после остановки Run (все клиенты закрыты).
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) Register(c *Client) {
	select {
	case <-h.quit:
		c.Close()
		return
	default:
	}
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) shutdown() {
	// readPump закрываемых клиентов не должен ждать Unregister.
	close(h.quit)

	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()
	metrics.OpenConversations.Set(0)

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting client=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.OpenConversations.Inc()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	metrics.OpenConversations.Dec()
	// Network I/O outside the lock.
	c.Close()
}

// RunRefresh asks every open controller to regroup on each tick of the cron expression, so
// "Today" rolls over at midnight and the WhatsApp window expires without a reload.
func (h *Hub) RunRefresh(ctx context.Context, expr string) {
	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			logger.Errorf("ws refresh: cron %q: %v", expr, err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		h.regroupAll()
	}
}

func (h *Hub) regroupAll() {
	h.mu.RLock()
	ctrls := make([]*conversation.Controller, 0, len(h.clients))
	for c := range h.clients {
		ctrls = append(ctrls, c.ctrl)
	}
	h.mu.RUnlock()
	for _, ctrl := range ctrls {
		ctrl.Regroup()
	}
}

// HandleMessage dispatches incoming WebSocket messages. It runs on the client's read goroutine.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventOpen:
		h.handleOpen(ctx, c, msg)
	case EventClose:
		c.ctrl.Close()
	case EventSelectChannel:
		if err := c.ctrl.SelectChannel(msg.Channel); err != nil {
			c.sendError("bad_channel", "unknown channel")
		}
	case EventSend:
		err := c.ctrl.Send(conversation.SendInput{
			Body:           msg.Body,
			TemplateID:     msg.TemplateID,
			HeaderMediaURL: msg.HeaderMediaURL,
			FileName:       msg.FileName,
		})
		if err != nil {
			h.sendValidationError(c, err)
		}
	case EventSchedule:
		at, err := c.ctrl.Schedule(conversation.ScheduleInput{Body: msg.Body, Date: msg.Date, Clock: msg.Time})
		if err != nil {
			h.sendValidationError(c, err)
			return
		}
		c.enqueue(OutgoingMessage{Type: EventScheduleAccepted, Payload: ScheduleAcceptedPayload{ScheduledAt: at}})
	case EventReload:
		if err := c.ctrl.Reload(); err != nil {
			h.sendValidationError(c, err)
		}
	default:
		c.sendError("bad_request", "unknown event type")
	}
}

func (h *Hub) handleOpen(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleOpen", time.Now())()
	if msg.ObjectType == "" || msg.RecordID == "" {
		c.sendError("bad_request", "object_type and record_id required")
		return
	}
	ch := model.ChannelSMS
	if parsed, ok := model.ParseChannel(string(msg.Channel)); ok {
		ch = parsed
	}
	rc := model.RecordContext{ObjectType: msg.ObjectType, RecordID: msg.RecordID}

	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	err := c.ctrl.Open(ctx, rc, ch)
	switch {
	case err == nil:
		snap := c.ctrl.Snapshot()
		c.enqueue(OutgoingMessage{Type: EventOpened, Payload: OpenedPayload{Counterparty: snap.Counterparty, Channel: snap.Channel}})
	case errors.Is(err, repository.ErrPhoneFieldUnset):
		c.enqueue(OutgoingMessage{Type: EventPhoneFieldRequired, Payload: PhoneFieldPayload{ObjectType: rc.ObjectType}})
	case errors.Is(err, repository.ErrNotFound):
		c.sendError("not_found", "record not found")
	case errors.Is(err, repository.ErrNoPhone), errors.Is(err, conversation.ErrNotOpen):
		c.sendError("no_phone", "record has no phone number")
	default:
		c.sendError("internal", "failed to open conversation")
	}
}

func (h *Hub) sendValidationError(c *Client, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyBody):
		c.sendError("empty_body", "message body is empty")
	case errors.Is(err, conversation.ErrNotOpen):
		c.sendError("not_open", "conversation is not open")
	case errors.Is(err, conversation.ErrReengagementRequired):
		c.sendError("reengagement_required", "outside the 24 hour window, send a template")
	case errors.Is(err, schedule.ErrTooSoon):
		c.sendError("too_soon", schedule.TooSoonMessage(err))
	case errors.Is(err, schedule.ErrIncomplete):
		c.sendError("incomplete", "date and time are required")
	case errors.Is(err, schedule.ErrUnsupportedChannel):
		c.sendError("bad_channel", "unknown channel")
	default:
		logger.Errorf("ws client=%s: %v", c.id, err)
		c.sendError("internal", "internal error")
	}
}
