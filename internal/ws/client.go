package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/connectsocial/internal/conversation"
	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/model"
	"github.com/connectsocial/internal/notify"
)

// Limits; the hub overrides them from config.
type Limits struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (l Limits) withDefaults() Limits {
	if l.WriteWait <= 0 {
		l.WriteWait = 10 * time.Second
	}
	if l.PongWait <= 0 {
		l.PongWait = 60 * time.Second
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = 64 << 10
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = 256
	}
	return l
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one conversation view. It owns one Controller and is its Listener.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	limits Limits
	send   chan OutgoingMessage
	ctrl   *conversation.Controller

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	limits := hub.limits.withDefaults()
	c := &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		limits: limits,
		send:   make(chan OutgoingMessage, limits.SendBuffer),
		done:   make(chan struct{}),
	}
	c.ctrl = hub.newController(c, notify.Multi{c, hub.notifier})
	return c
}

func (c *Client) ID() string { return c.id }

// Start launches readPump and writePump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close stops the pumps and the controller. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
		c.ctrl.Shutdown()
	})
}

// OnTimelineChanged implements conversation.Listener.
func (c *Client) OnTimelineChanged(groups []model.DateGroup, reengagementRequired bool) {
	if groups == nil {
		groups = []model.DateGroup{}
	}
	c.enqueue(OutgoingMessage{Type: EventTimeline, Payload: TimelinePayload{Groups: groups, ReengagementRequired: reengagementRequired}})
}

// OnSendResolved implements conversation.Listener.
func (c *Client) OnSendResolved(success bool, detail string) {
	c.enqueue(OutgoingMessage{Type: EventSendResult, Payload: SendResultPayload{Success: success, Detail: detail}})
}

// Notify implements notify.Sink: the toast shown in this view.
func (c *Client) Notify(_ context.Context, n notify.Notification) {
	c.enqueue(OutgoingMessage{Type: EventNotification, Payload: n})
}

// enqueue never blocks: a client that cannot keep up is dropped.
func (c *Client) enqueue(msg OutgoingMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		logger.Errorf("ws send buffer full client=%s, closing", c.id)
		go c.Close()
	}
}

func (c *Client) sendError(code, message string) {
	c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Code: code, Message: message}})
}

// readPump reads messages from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or writePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.limits.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait)); err != nil {
		logger.Errorf("ws set read deadline client=%s: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error client=%s: %v", c.id, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("bad_request", "invalid message")
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.limits.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline client=%s: %v", c.id, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error client=%s: %v", c.id, err)
				continue
			}
			data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
