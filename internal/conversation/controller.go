// Package conversation owns the live state of one open conversation: the feed subscription, the
// merged timeline and the re-engagement flag. All state is mutated on a single event-loop
// goroutine; network calls run elsewhere and post their completions back to the loop.
package conversation

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/connectsocial/internal/feed"
	"github.com/connectsocial/internal/gateway"
	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/metrics"
	"github.com/connectsocial/internal/model"
	"github.com/connectsocial/internal/notify"
	"github.com/connectsocial/internal/policy"
	"github.com/connectsocial/internal/schedule"
	"github.com/connectsocial/internal/timeline"
)

var (
	ErrEmptyBody = errors.New("conversation: message body is empty")
	ErrNotOpen   = errors.New("conversation: not open")
	ErrStopped   = errors.New("conversation: controller stopped")
	// ErrReengagementRequired rejects a free-text WhatsApp send outside the 24h window; only a
	// template may be sent until the counterparty writes again.
	ErrReengagementRequired = errors.New("conversation: outside the WhatsApp window, use a template")
)

const (
	subscribeTimeout = 10 * time.Second
	fetchTimeout     = 30 * time.Second
	sendTimeout      = 30 * time.Second
	opsBuffer        = 64
)

// Listener is the UI collaborator. Both callbacks run on the controller loop and must not block.
type Listener interface {
	OnTimelineChanged(groups []model.DateGroup, reengagementRequired bool)
	OnSendResolved(success bool, detail string)
}

type RecordResolver interface {
	Resolve(ctx context.Context, rc model.RecordContext) (model.Counterparty, error)
}

type MessageReader interface {
	ListSMS(ctx context.Context, phone string) ([]model.RawSMS, error)
	ListWhatsApp(ctx context.Context, phone string) ([]model.RawWhatsApp, error)
}

type RecordWriter interface {
	CreateMessageRecord(ctx context.Context, rec model.MessageRecord) (string, error)
	CreateScheduleRecord(ctx context.Context, rec model.ScheduleRecord) (string, error)
	UpdateStatus(ctx context.Context, ch model.Channel, id string, status model.DeliveryStatus) error
}

type Transport interface {
	Send(ctx context.Context, req model.SendRequest) (model.RawMessage, error)
	ScheduleSend(ctx context.Context, req model.ScheduleRequest) (model.RawMessage, error)
}

type Deps struct {
	Resolver  RecordResolver
	Reader    MessageReader
	Writer    RecordWriter
	Transport Transport
	Feed      feed.Feed
	Notifier  notify.Sink
	Listener  Listener
}

type Options struct {
	TopicPrefix string
	Location    *time.Location
	Now         func() time.Time
	Window      time.Duration
	SMSOffset   time.Duration
	MinLead     time.Duration
}

// SendInput is one immediate send. TemplateID selects the WhatsApp template path.
type SendInput struct {
	Body           string
	TemplateID     string
	HeaderMediaURL string
	FileName       string
}

// ScheduleInput is a deferred send picked as a local date ("2006-01-02") and clock ("15:04").
type ScheduleInput struct {
	Body  string
	Date  string
	Clock string
}

type Controller struct {
	deps   Deps
	opts   Options
	merger *timeline.Merger
	policy *policy.Evaluator
	calc   *schedule.Calculator

	ops  chan func()
	stop chan struct{}
	done chan struct{}

	// Loop-owned. epoch changes on every open and close; completions carrying an older epoch are
	// dropped.
	st    state
	epoch uint64
}

type state struct {
	phase        Phase
	record       model.RecordContext
	counterparty model.Counterparty
	channel      model.Channel
	topic        string
	handle       feed.Handle
	messages     []model.Message
	groups       []model.DateGroup
	reengage     bool
}

func New(deps Deps, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Window <= 0 {
		opts.Window = policy.DefaultWindow
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogSink{}
	}
	c := &Controller{
		deps:   deps,
		opts:   opts,
		merger: timeline.NewMerger(opts.Location, opts.Now),
		policy: policy.NewEvaluator(opts.Window),
		calc:   schedule.NewCalculator(opts.Location, opts.SMSOffset, opts.MinLead, opts.Now),
		ops:    make(chan func(), opsBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		st:     state{channel: model.ChannelSMS},
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.stop:
			c.teardown()
			return
		}
	}
}

// post queues fn on the loop; false once the controller is stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case c.ops <- fn:
		return true
	case <-c.stop:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) error {
	ran := make(chan struct{})
	if !c.post(func() { fn(); close(ran) }) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

// Shutdown closes the conversation and stops the loop. Safe to call more than once.
func (c *Controller) Shutdown() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

// Open resolves the counterparty of rc and starts subscribing to its feed. An already open
// conversation is torn down first. Resolver errors (ErrPhoneFieldUnset and the like) are returned
// and leave the controller Unsubscribed.
func (c *Controller) Open(ctx context.Context, rc model.RecordContext, ch model.Channel) error {
	if !ch.Valid() {
		ch = model.ChannelSMS
	}
	cp, err := c.deps.Resolver.Resolve(ctx, rc)
	if err != nil {
		logger.Errorf("conversation: resolve %s/%s: %v", rc.ObjectType, rc.RecordID, err)
		return err
	}
	if model.NormalizePhone(cp.Phone) == "" {
		return ErrNotOpen
	}
	return c.call(func() {
		c.teardown()
		c.epoch++
		c.st = state{
			phase:        PhaseSubscribing,
			record:       rc,
			counterparty: cp,
			channel:      ch,
			topic:        feed.Topic(c.opts.TopicPrefix, cp.Phone),
		}
		c.subscribe(c.epoch, c.st.topic)
	})
}

// Close tears the subscription down and discards the conversation state. In-flight network calls
// are not cancelled; their completions are ignored.
func (c *Controller) Close() {
	_ = c.call(c.teardown)
}

// Reload fetches both channels again. It is what every feed event does; exposed for an explicit
// UI refresh.
func (c *Controller) Reload() error {
	var err error
	if callErr := c.call(func() {
		if c.st.counterparty.Phone == "" {
			err = ErrNotOpen
			return
		}
		c.reload(c.epoch)
	}); callErr != nil {
		return callErr
	}
	return err
}

// SelectChannel switches the active channel and re-derives the re-engagement flag.
func (c *Controller) SelectChannel(ch model.Channel) error {
	if !ch.Valid() {
		return schedule.ErrUnsupportedChannel
	}
	return c.call(func() {
		if c.st.channel == ch {
			return
		}
		c.st.channel = ch
		if c.st.counterparty.Phone == "" {
			return
		}
		c.derivePolicy()
		c.emit()
	})
}

// Regroup re-derives groups and policy against the current clock without fetching. Listeners are
// only told when something visible changed (day rollover, window expiry).
func (c *Controller) Regroup() {
	c.post(func() {
		if c.st.counterparty.Phone == "" {
			return
		}
		prevKeys := groupKeys(c.st.groups)
		prevFlag := c.st.reengage
		c.st.groups = c.merger.Regroup(c.st.messages).Groups
		c.derivePolicy()
		if prevFlag != c.st.reengage || !slices.Equal(prevKeys, groupKeys(c.st.groups)) {
			c.emit()
		}
	})
}

// Snapshot returns a copy of the conversation state.
func (c *Controller) Snapshot() Snapshot {
	var s Snapshot
	_ = c.call(func() {
		s = Snapshot{
			Record:               c.st.record,
			Counterparty:         c.st.counterparty,
			Channel:              c.st.channel,
			Phase:                c.st.phase,
			Messages:             c.st.messages,
			Groups:               c.st.groups,
			ReengagementRequired: c.st.reengage,
		}
	})
	return s
}

// Send validates in and issues the send in the background. The confirmed message is appended
// when the call resolves; the outcome is reported through Listener.OnSendResolved.
func (c *Controller) Send(in SendInput) error {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return ErrEmptyBody
	}
	var err error
	if callErr := c.call(func() {
		if c.st.counterparty.Phone == "" {
			err = ErrNotOpen
			return
		}
		ch := c.st.channel
		if ch == model.ChannelWhatsApp && in.TemplateID == "" && c.st.reengage {
			err = ErrReengagementRequired
			return
		}
		req := model.SendRequest{
			Channel:  ch,
			RecordID: c.st.record.RecordID,
			Phone:    model.E164(c.st.counterparty.Phone),
			Body:     in.Body,
		}
		if ch == model.ChannelWhatsApp && in.TemplateID != "" {
			req.TemplateID = in.TemplateID
			req.HeaderMediaURL = in.HeaderMediaURL
			req.FileName = in.FileName
		}
		c.dispatch(c.epoch, "send", ch, func(ctx context.Context) (model.RawMessage, error) {
			return c.doSend(ctx, req)
		})
	}); callErr != nil {
		return callErr
	}
	return err
}

// Schedule validates the picked date and time for the active channel synchronously and issues the
// deferred send in the background.
func (c *Controller) Schedule(in ScheduleInput) (time.Time, error) {
	if strings.TrimSpace(in.Body) == "" {
		return time.Time{}, ErrEmptyBody
	}
	var at time.Time
	var err error
	if callErr := c.call(func() {
		if c.st.counterparty.Phone == "" {
			err = ErrNotOpen
			return
		}
		ch := c.st.channel
		at, err = c.calc.Compute(in.Date, in.Clock, ch)
		if err != nil {
			return
		}
		req := model.ScheduleRequest{
			Channel:  ch,
			RecordID: c.st.record.RecordID,
			Phone:    model.E164(c.st.counterparty.Phone),
			Body:     in.Body,
			At:       at,
		}
		c.dispatch(c.epoch, "schedule", ch, func(ctx context.Context) (model.RawMessage, error) {
			return c.doSchedule(ctx, req)
		})
	}); callErr != nil {
		return time.Time{}, callErr
	}
	return at, err
}

// ValidateSchedule runs the scheduling calculator for ch without sending anything.
func (c *Controller) ValidateSchedule(date, clock string, ch model.Channel) (time.Time, error) {
	return c.calc.Compute(date, clock, ch)
}

func (c *Controller) doSend(ctx context.Context, req model.SendRequest) (model.RawMessage, error) {
	if req.Channel != model.ChannelSMS {
		return c.deps.Transport.Send(ctx, req)
	}
	id, err := c.deps.Writer.CreateMessageRecord(ctx, model.MessageRecord{
		Phone:  req.Phone,
		Body:   req.Body,
		Status: string(model.StatusSent),
	})
	if err != nil {
		return nil, err
	}
	req.IdempotencyKey = id
	raw, err := c.deps.Transport.Send(ctx, req)
	if err != nil {
		c.markFailed(ctx, model.ChannelSMS, id)
		return nil, err
	}
	return raw, nil
}

func (c *Controller) doSchedule(ctx context.Context, req model.ScheduleRequest) (model.RawMessage, error) {
	if req.Channel != model.ChannelSMS {
		return c.deps.Transport.ScheduleSend(ctx, req)
	}
	id, err := c.deps.Writer.CreateScheduleRecord(ctx, model.ScheduleRecord{
		Phone:  req.Phone,
		Body:   req.Body,
		Status: string(model.StatusScheduled),
		At:     req.At,
	})
	if err != nil {
		return nil, err
	}
	req.IdempotencyKey = id
	raw, err := c.deps.Transport.ScheduleSend(ctx, req)
	if err != nil {
		c.markFailed(ctx, model.ChannelSMS, id)
		return nil, err
	}
	return raw, nil
}

func (c *Controller) markFailed(ctx context.Context, ch model.Channel, id string) {
	if err := c.deps.Writer.UpdateStatus(ctx, ch, id, model.StatusFailed); err != nil {
		logger.Errorf("conversation: mark %s failed: %v", id, err)
	}
}

// dispatch runs a send-like call off the loop and resolves it back on the loop.
func (c *Controller) dispatch(epoch uint64, kind string, ch model.Channel, fn func(ctx context.Context) (model.RawMessage, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		raw, err := fn(ctx)
		cancel()
		c.post(func() { c.resolveSend(epoch, kind, ch, raw, err) })
	}()
}

func (c *Controller) resolveSend(epoch uint64, kind string, ch model.Channel, raw model.RawMessage, err error) {
	if epoch != c.epoch {
		metrics.Sends.WithLabelValues(kind, string(ch), "stale").Inc()
		return
	}
	if err != nil {
		metrics.Sends.WithLabelValues(kind, string(ch), "error").Inc()
		code := gateway.CodeOf(err)
		metrics.ProviderErrors.WithLabelValues(strconv.Itoa(code)).Inc()
		detail := notify.Translate(err)
		logger.Errorf("conversation: %s %s to %s: %v", kind, ch, logger.MaskPhone(c.st.counterparty.Phone), err)
		title := "Error Sending Message"
		if kind == "schedule" {
			title = "Error Scheduling Message"
		}
		c.notify(title, detail, notify.SeverityError)
		c.listener().OnSendResolved(false, detail)
		return
	}
	metrics.Sends.WithLabelValues(kind, string(ch), "ok").Inc()
	// A confirmation without an id cannot be deduplicated; the next reload brings the stored record.
	if raw != nil && raw.Record().ID != "" {
		msg := timeline.Normalize(raw, ch, c.opts.Location)
		res := c.merger.Append(c.st.messages, msg)
		c.st.messages, c.st.groups = res.Messages, res.Groups
		c.derivePolicy()
		c.emit()
	}
	logger.Debugf("conversation: %s %s to %s resolved", kind, ch, logger.MaskPhone(c.st.counterparty.Phone))
	c.listener().OnSendResolved(true, "")
}

func (c *Controller) subscribe(epoch uint64, topic string) {
	onEvent := func(feed.Event) {
		c.post(func() { c.onFeedEvent(epoch) })
	}
	onError := func(err error) {
		c.post(func() { c.onFeedError(epoch, err) })
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		h, err := c.deps.Feed.Subscribe(ctx, topic, onEvent, onError)
		cancel()
		if !c.post(func() { c.onSubscribed(epoch, h, err) }) && err == nil {
			_ = c.deps.Feed.Unsubscribe(h)
		}
	}()
}

func (c *Controller) onSubscribed(epoch uint64, h feed.Handle, err error) {
	if epoch != c.epoch || c.st.phase != PhaseSubscribing {
		metrics.Subscriptions.WithLabelValues("stale").Inc()
		if err == nil {
			_ = c.deps.Feed.Unsubscribe(h)
		}
		return
	}
	phone := logger.MaskPhone(c.st.counterparty.Phone)
	if err != nil {
		metrics.Subscriptions.WithLabelValues("error").Inc()
		logger.Errorf("conversation: subscribe %s: %v", phone, err)
		c.st.phase = PhaseUnsubscribed
		c.notify("Live updates unavailable", "Reopen the conversation to retry.", notify.SeverityWarning)
		// The timeline is still loaded once so the view is not empty.
		c.reload(epoch)
		return
	}
	metrics.Subscriptions.WithLabelValues("ok").Inc()
	c.st.phase = PhaseSubscribed
	c.st.handle = h
	logger.Infof("conversation: subscribed %s (%s)", phone, c.st.topic)
	c.reload(epoch)
}

func (c *Controller) onFeedEvent(epoch uint64) {
	if epoch != c.epoch || c.st.phase != PhaseSubscribed {
		return
	}
	metrics.FeedEvents.Inc()
	c.reload(epoch)
}

// onFeedError drops to Unsubscribed without retrying; the feed has already released the
// subscription.
func (c *Controller) onFeedError(epoch uint64, err error) {
	if epoch != c.epoch || c.st.phase != PhaseSubscribed {
		return
	}
	metrics.FeedErrors.Inc()
	logger.Errorf("conversation: feed error for %s: %v", logger.MaskPhone(c.st.counterparty.Phone), err)
	c.st.phase = PhaseUnsubscribed
	c.st.handle = ""
}

type fetchResult struct {
	sms []model.RawSMS
	wa  []model.RawWhatsApp
	err error
	dur time.Duration
}

// reload fetches both channels in parallel; the merge is applied only when both succeed.
// Overlapping reloads may complete in any order, merge idempotence makes that safe.
func (c *Controller) reload(epoch uint64) {
	phone := c.st.counterparty.Phone
	go func() {
		start := time.Now()
		var res fetchResult
		g, ctx := errgroup.WithContext(context.Background())
		ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		g.Go(func() error {
			var err error
			res.sms, err = c.deps.Reader.ListSMS(ctx, phone)
			return err
		})
		g.Go(func() error {
			var err error
			res.wa, err = c.deps.Reader.ListWhatsApp(ctx, phone)
			return err
		})
		res.err = g.Wait()
		res.dur = time.Since(start)
		c.post(func() { c.applyReload(epoch, res) })
	}()
}

func (c *Controller) applyReload(epoch uint64, res fetchResult) {
	if epoch != c.epoch {
		metrics.Reloads.WithLabelValues("stale").Inc()
		return
	}
	metrics.ReloadDuration.Observe(res.dur.Seconds())
	if res.err != nil {
		metrics.Reloads.WithLabelValues("error").Inc()
		logger.Errorf("conversation: reload %s: %v", logger.MaskPhone(c.st.counterparty.Phone), res.err)
		c.notify("Error Loading Messages", notify.Translate(res.err), notify.SeverityError)
		return
	}
	metrics.Reloads.WithLabelValues("ok").Inc()
	merged := c.merger.Merge(c.st.messages, res.sms, res.wa)
	c.st.messages, c.st.groups = merged.Messages, merged.Groups
	c.derivePolicy()
	logger.Debugf("conversation: reloaded %s: %d sms, %d whatsapp, %d total",
		logger.MaskPhone(c.st.counterparty.Phone), len(res.sms), len(res.wa), len(c.st.messages))
	c.emit()
}

func (c *Controller) derivePolicy() {
	c.st.reengage = c.policy.RequiresReengagement(c.st.messages, c.st.channel, c.opts.Now())
}

func (c *Controller) emit() {
	c.listener().OnTimelineChanged(c.st.groups, c.st.reengage)
}

// teardown runs on the loop: release the subscription and forget the conversation.
func (c *Controller) teardown() {
	if c.st.counterparty.Phone == "" && c.st.phase == PhaseUnsubscribed {
		return
	}
	if c.st.handle != "" {
		if err := c.deps.Feed.Unsubscribe(c.st.handle); err != nil && !errors.Is(err, feed.ErrUnknownHandle) {
			logger.Errorf("conversation: unsubscribe: %v", err)
		}
	}
	logger.Debugf("conversation: closed %s", logger.MaskPhone(c.st.counterparty.Phone))
	c.epoch++
	c.st = state{channel: c.st.channel}
}

func (c *Controller) notify(title, message string, sev notify.Severity) {
	n := notify.Notification{Title: title, Message: message, Severity: sev, Record: c.st.record}
	go c.deps.Notifier.Notify(context.Background(), n)
}

func (c *Controller) listener() Listener {
	if c.deps.Listener == nil {
		return nopListener{}
	}
	return c.deps.Listener
}

type nopListener struct{}

func (nopListener) OnTimelineChanged([]model.DateGroup, bool) {}
func (nopListener) OnSendResolved(bool, string)               {}

func groupKeys(groups []model.DateGroup) []string {
	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = g.DateKey
	}
	return keys
}
