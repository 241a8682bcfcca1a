package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectsocial/internal/feed"
	"github.com/connectsocial/internal/feed/memory"
	"github.com/connectsocial/internal/gateway"
	"github.com/connectsocial/internal/model"
	"github.com/connectsocial/internal/notify"
	"github.com/connectsocial/internal/schedule"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	prefix  = "timeline.events"
	phone   = "15550100"
	topic   = "timeline.events.15550100"
)

var contact = model.RecordContext{ObjectType: "Contact", RecordID: "003A"}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeResolver struct {
	cp  model.Counterparty
	err error
}

func (f *fakeResolver) Resolve(context.Context, model.RecordContext) (model.Counterparty, error) {
	return f.cp, f.err
}

type fakeStore struct {
	mu       sync.Mutex
	sms      []model.RawSMS
	wa       []model.RawWhatsApp
	fetchErr error
	fetches  int
	phones   []string
	records  []model.MessageRecord
	sched    []model.ScheduleRecord
	statuses map[string]model.DeliveryStatus
}

func (f *fakeStore) ListSMS(_ context.Context, p string) ([]model.RawSMS, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.phones = append(f.phones, p)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]model.RawSMS(nil), f.sms...), nil
}

func (f *fakeStore) ListWhatsApp(_ context.Context, _ string) ([]model.RawWhatsApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.RawWhatsApp(nil), f.wa...), nil
}

func (f *fakeStore) CreateMessageRecord(_ context.Context, rec model.MessageRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return "rec-1", nil
}

func (f *fakeStore) CreateScheduleRecord(_ context.Context, rec model.ScheduleRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sched = append(f.sched, rec)
	return "sched-1", nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, _ model.Channel, id string, st model.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[string]model.DeliveryStatus{}
	}
	f.statuses[id] = st
	return nil
}

func (f *fakeStore) setSMS(sms ...model.RawSMS) {
	f.mu.Lock()
	f.sms = sms
	f.mu.Unlock()
}

func (f *fakeStore) fetchedPhones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.phones...)
}

func (f *fakeStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeTransport struct {
	mu        sync.Mutex
	sends     []model.SendRequest
	schedules []model.ScheduleRequest
	send      func(model.SendRequest) (model.RawMessage, error)
	schedule  func(model.ScheduleRequest) (model.RawMessage, error)
}

func (f *fakeTransport) Send(_ context.Context, req model.SendRequest) (model.RawMessage, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.send
	f.mu.Unlock()
	if fn == nil {
		return outboundSMS(req.IdempotencyKey, req.Body, "2024-06-02T09:59:00.000+0000"), nil
	}
	return fn(req)
}

func (f *fakeTransport) ScheduleSend(_ context.Context, req model.ScheduleRequest) (model.RawMessage, error) {
	f.mu.Lock()
	f.schedules = append(f.schedules, req)
	fn := f.schedule
	f.mu.Unlock()
	if fn == nil {
		raw := outboundSMS(req.IdempotencyKey, req.Body, "2024-06-02T09:59:00.000+0000")
		raw.DeliveryStatus = "Scheduled"
		raw.ScheduledDateTime = req.At.Format(time.RFC3339)
		return raw, nil
	}
	return fn(req)
}

func (f *fakeTransport) sendCalls() []model.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SendRequest(nil), f.sends...)
}

type timelineCall struct {
	groups   []model.DateGroup
	reengage bool
}

type sendCall struct {
	ok     bool
	detail string
}

type recorder struct {
	mu        sync.Mutex
	timelines []timelineCall
	results   []sendCall
}

func (r *recorder) OnTimelineChanged(groups []model.DateGroup, reengage bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timelines = append(r.timelines, timelineCall{groups: groups, reengage: reengage})
}

func (r *recorder) OnSendResolved(ok bool, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, sendCall{ok: ok, detail: detail})
}

func (r *recorder) timelineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timelines)
}

func (r *recorder) last() timelineCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timelines[len(r.timelines)-1]
}

func (r *recorder) sendResults() []sendCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sendCall(nil), r.results...)
}

type notes struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (n *notes) Notify(_ context.Context, note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
}

func (n *notes) all() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.got...)
}

func inboundSMS(id, body, created string) model.RawSMS {
	return model.RawSMS{RawRecord: model.RawRecord{
		ID: id, Type: "Inbound", DeliveryStatus: "Received", Channel: "SMS", Body: body, CreatedDate: created,
	}}
}

func outboundSMS(id, body, created string) model.RawSMS {
	return model.RawSMS{RawRecord: model.RawRecord{
		ID: id, Type: "Outbound", DeliveryStatus: "Sent", Channel: "SMS", Body: body, CreatedDate: created,
	}}
}

func inboundWA(id, created string) model.RawWhatsApp {
	return model.RawWhatsApp{RawRecord: model.RawRecord{
		ID: id, Type: "Inbound", DeliveryStatus: "Received", Channel: "WhatsApp", Body: "hola", CreatedDate: created,
	}}
}

type harness struct {
	ctrl      *Controller
	feed      *memory.Feed
	store     *fakeStore
	transport *fakeTransport
	resolver  *fakeResolver
	listener  *recorder
	notes     *notes
	clock     *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		feed:      memory.New(),
		store:     &fakeStore{},
		transport: &fakeTransport{},
		resolver:  &fakeResolver{cp: model.Counterparty{Name: "Ada", Phone: phone}},
		listener:  &recorder{},
		notes:     &notes{},
		clock:     &clock{t: time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)},
	}
	h.ctrl = New(Deps{
		Resolver:  h.resolver,
		Reader:    h.store,
		Writer:    h.store,
		Transport: h.transport,
		Feed:      h.feed,
		Notifier:  h.notes,
		Listener:  h.listener,
	}, Options{
		TopicPrefix: prefix,
		Location:    time.UTC,
		Now:         h.clock.Now,
		SMSOffset:   schedule.DefaultSMSOffset,
		MinLead:     schedule.DefaultMinLead,
	})
	t.Cleanup(h.ctrl.Shutdown)
	return h
}

// open opens the conversation and waits for the first timeline.
func (h *harness) open(t *testing.T, ch model.Channel) {
	t.Helper()
	require.NoError(t, h.ctrl.Open(context.Background(), contact, ch))
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Phase == PhaseSubscribed && h.listener.timelineCount() > 0
	}, waitFor, tick)
}

func TestController_OpenSubscribesAndLoads(t *testing.T) {
	h := newHarness(t)
	h.store.setSMS(inboundSMS("s1", "hi", "2024-06-02T09:00:00.000+0000"))

	h.open(t, model.ChannelSMS)

	assert.Equal(t, 1, h.feed.Subscribers(topic))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, phone, snap.Counterparty.Phone)
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.Messages[0].Incoming)
	last := h.listener.last()
	require.Len(t, last.groups, 1)
	assert.Equal(t, "Today", last.groups[0].DateKey)
	// The controller passes the digits; the '+' of the SMS store key is added by the repository.
	assert.Equal(t, phone, h.store.fetchedPhones()[0])
}

func TestController_FeedEventTriggersReload(t *testing.T) {
	h := newHarness(t)
	h.open(t, model.ChannelSMS)
	before := h.store.fetchCount()

	h.store.setSMS(inboundSMS("s1", "hi", "2024-06-02T09:00:00.000+0000"))
	require.NoError(t, h.feed.Publish(context.Background(), topic, feed.Event{Kind: "inbound"}))

	require.Eventually(t, func() bool { return len(h.ctrl.Snapshot().Messages) == 1 }, waitFor, tick)
	assert.Greater(t, h.store.fetchCount(), before)
}

func TestController_RecordsWithoutIDStableAcrossReloads(t *testing.T) {
	h := newHarness(t)
	h.store.setSMS(inboundSMS("", "no id", "2024-06-02T09:00:00.000+0000"))
	h.transport.send = func(req model.SendRequest) (model.RawMessage, error) {
		return outboundSMS("", req.Body, "2024-06-02T09:59:00.000+0000"), nil
	}
	h.open(t, model.ChannelSMS)
	require.Len(t, h.ctrl.Snapshot().Messages, 1)

	require.NoError(t, h.ctrl.Send(SendInput{Body: "hello"}))
	require.Eventually(t, func() bool { return len(h.listener.sendResults()) == 1 }, waitFor, tick)
	assert.True(t, h.listener.sendResults()[0].ok)

	before := h.listener.timelineCount()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.feed.Publish(context.Background(), topic, feed.Event{Kind: "status"}))
	}
	require.Eventually(t, func() bool { return h.listener.timelineCount() >= before+3 }, waitFor, tick)

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "no id", msgs[0].Body)
}

func TestController_FeedErrorUnsubscribesWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.open(t, model.ChannelSMS)

	h.feed.Fail(topic, errors.New("connection reset"))
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Phase == PhaseUnsubscribed }, waitFor, tick)

	fetches := h.store.fetchCount()
	require.NoError(t, h.feed.Publish(context.Background(), topic, feed.Event{}))
	assert.Never(t, func() bool { return h.store.fetchCount() != fetches }, 100*time.Millisecond, tick)
	assert.Zero(t, h.feed.Subscribers(topic))
	assert.True(t, h.ctrl.Snapshot().Open())
}

func TestController_CloseReleasesSubscription(t *testing.T) {
	h := newHarness(t)
	h.open(t, model.ChannelSMS)

	h.ctrl.Close()
	assert.Zero(t, h.feed.Subscribers(topic))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, PhaseUnsubscribed, snap.Phase)
	assert.False(t, snap.Open())
	assert.ErrorIs(t, h.ctrl.Send(SendInput{Body: "hi"}), ErrNotOpen)
}

func TestController_InFlightSendIgnoredAfterClose(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.transport.send = func(req model.SendRequest) (model.RawMessage, error) {
		<-gate
		return outboundSMS("late", req.Body, "2024-06-02T09:59:00.000+0000"), nil
	}
	h.open(t, model.ChannelSMS)

	require.NoError(t, h.ctrl.Send(SendInput{Body: "hello"}))
	require.Eventually(t, func() bool { return len(h.transport.sendCalls()) == 1 }, waitFor, tick)
	h.ctrl.Close()
	close(gate)

	assert.Never(t, func() bool { return len(h.listener.sendResults()) > 0 }, 100*time.Millisecond, tick)
	assert.Empty(t, h.ctrl.Snapshot().Messages)
}

func TestController_ResolverError(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = errors.New("phone field not configured")

	err := h.ctrl.Open(context.Background(), contact, model.ChannelSMS)
	require.Error(t, err)
	assert.Equal(t, PhaseUnsubscribed, h.ctrl.Snapshot().Phase)
	assert.Zero(t, h.feed.Subscribers(topic))
}

func TestController_SendSMS(t *testing.T) {
	h := newHarness(t)
	h.open(t, model.ChannelSMS)

	require.NoError(t, h.ctrl.Send(SendInput{Body: "hello"}))
	require.Eventually(t, func() bool { return len(h.listener.sendResults()) == 1 }, waitFor, tick)

	assert.Equal(t, sendCall{ok: true}, h.listener.sendResults()[0])
	require.Len(t, h.store.records, 1)
	assert.Equal(t, "Sent", h.store.records[0].Status)
	req := h.transport.sendCalls()[0]
	assert.Equal(t, "rec-1", req.IdempotencyKey)
	assert.Equal(t, "+"+phone, req.Phone)
	assert.Empty(t, req.TemplateID)

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "rec-1", msgs[0].ID)
	assert.True(t, msgs[0].Outgoing)
	assert.False(t, msgs[0].IsOptimistic)
}

func TestController_SendFailureTranslatesCode(t *testing.T) {
	h := newHarness(t)
	h.transport.send = func(model.SendRequest) (model.RawMessage, error) {
		return nil, &gateway.ProviderError{Status: 400, Code: 21614, Message: "invalid"}
	}
	h.open(t, model.ChannelSMS)

	require.NoError(t, h.ctrl.Send(SendInput{Body: "hello"}))
	require.Eventually(t, func() bool { return len(h.listener.sendResults()) == 1 }, waitFor, tick)

	want := "'To' number is not a valid mobile number"
	assert.Equal(t, sendCall{ok: false, detail: want}, h.listener.sendResults()[0])
	assert.Empty(t, h.ctrl.Snapshot().Messages)
	require.Eventually(t, func() bool { return len(h.notes.all()) == 1 }, waitFor, tick)
	n := h.notes.all()[0]
	assert.Equal(t, "Error Sending Message", n.Title)
	assert.Equal(t, want, n.Message)
	assert.Equal(t, notify.SeverityError, n.Severity)
	assert.Equal(t, contact, n.Record)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	assert.Equal(t, model.StatusFailed, h.store.statuses["rec-1"])
}

func TestController_SendUnknownErrorFallback(t *testing.T) {
	h := newHarness(t)
	h.transport.send = func(model.SendRequest) (model.RawMessage, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	h.open(t, model.ChannelSMS)

	require.NoError(t, h.ctrl.Send(SendInput{Body: "hello"}))
	require.Eventually(t, func() bool { return len(h.listener.sendResults()) == 1 }, waitFor, tick)
	assert.Equal(t, notify.FallbackMessage, h.listener.sendResults()[0].detail)
}

func TestController_SendValidation(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.ctrl.Send(SendInput{Body: "hi"}), ErrNotOpen)

	h.open(t, model.ChannelSMS)
	assert.ErrorIs(t, h.ctrl.Send(SendInput{Body: "   \n"}), ErrEmptyBody)
	assert.Empty(t, h.transport.sendCalls())
}

func TestController_ResultsAppendInResolutionOrder(t *testing.T) {
	h := newHarness(t)
	first := make(chan struct{})
	h.transport.send = func(req model.SendRequest) (model.RawMessage, error) {
		if req.Body == "first" {
			<-first
		}
		return model.RawWhatsApp{RawRecord: model.RawRecord{
			ID: req.Body, Type: "Outbound", DeliveryStatus: "Sent", Channel: "WhatsApp", Body: req.Body,
			CreatedDate: "2024-06-02T09:59:00.000+0000",
		}}, nil
	}
	h.open(t, model.ChannelWhatsApp)

	require.NoError(t, h.ctrl.Send(SendInput{Body: "first"}))
	require.NoError(t, h.ctrl.Send(SendInput{Body: "second"}))
	require.Eventually(t, func() bool { return len(h.listener.sendResults()) == 1 }, waitFor, tick)
	close(first)
	require.Eventually(t, func() bool { return len(h.listener.sendResults()) == 2 }, waitFor, tick)

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].ID)
	assert.Equal(t, "first", msgs[1].ID)
}

func TestController_WhatsAppTemplateSend(t *testing.T) {
	h := newHarness(t)
	h.open(t, model.ChannelWhatsApp)

	require.NoError(t, h.ctrl.Send(SendInput{
		Body: "Your order shipped", TemplateID: "tpl-1", HeaderMediaURL: "https://cdn.example/a.png", FileName: "a.png",
	}))
	require.Eventually(t, func() bool { return len(h.transport.sendCalls()) == 1 }, waitFor, tick)

	req := h.transport.sendCalls()[0]
	assert.Equal(t, model.ChannelWhatsApp, req.Channel)
	assert.Equal(t, "tpl-1", req.TemplateID)
	assert.Equal(t, "https://cdn.example/a.png", req.HeaderMediaURL)
	assert.Empty(t, h.store.records)
}

func TestController_ReengagementFollowsChannel(t *testing.T) {
	h := newHarness(t)
	h.store.wa = []model.RawWhatsApp{inboundWA("w1", "2024-06-01T09:00:00.000+0000")}
	h.open(t, model.ChannelSMS)
	assert.False(t, h.listener.last().reengage)

	require.NoError(t, h.ctrl.SelectChannel(model.ChannelWhatsApp))
	assert.True(t, h.listener.last().reengage)
	assert.ErrorIs(t, h.ctrl.Send(SendInput{Body: "free text"}), ErrReengagementRequired)
	assert.NoError(t, h.ctrl.Send(SendInput{Body: "template", TemplateID: "tpl-1"}))

	require.NoError(t, h.ctrl.SelectChannel(model.ChannelSMS))
	assert.False(t, h.listener.last().reengage)
}

func TestController_ScheduleSMS(t *testing.T) {
	h := newHarness(t)
	h.open(t, model.ChannelSMS)

	_, err := h.ctrl.Schedule(ScheduleInput{Body: "later", Date: "2024-06-02", Clock: "10:10"})
	assert.ErrorIs(t, err, schedule.ErrTooSoon)
	_, err = h.ctrl.Schedule(ScheduleInput{Body: "later", Date: "2024-06-02"})
	assert.ErrorIs(t, err, schedule.ErrIncomplete)

	at, err := h.ctrl.Schedule(ScheduleInput{Body: "later", Date: "2024-06-02", Clock: "10:16"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 4, 46, 0, 0, time.UTC), at)

	require.Eventually(t, func() bool { return len(h.listener.sendResults()) == 1 }, waitFor, tick)
	h.transport.mu.Lock()
	require.Len(t, h.transport.schedules, 1)
	assert.Equal(t, "sched-1", h.transport.schedules[0].IdempotencyKey)
	assert.True(t, h.transport.schedules[0].At.Equal(at))
	h.transport.mu.Unlock()
	require.Len(t, h.store.sched, 1)

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Scheduled)
	assert.False(t, msgs[0].Outgoing)
}

func TestController_ScheduleWhatsAppLiteral(t *testing.T) {
	h := newHarness(t)
	h.open(t, model.ChannelWhatsApp)

	at, err := h.ctrl.Schedule(ScheduleInput{Body: "later", Date: "2024-06-02", Clock: "10:05"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 10, 5, 0, 0, time.UTC), at)
	require.Eventually(t, func() bool { return len(h.listener.sendResults()) == 1 }, waitFor, tick)
	assert.Empty(t, h.store.sched)
}

func TestController_FetchErrorKeepsState(t *testing.T) {
	h := newHarness(t)
	h.store.setSMS(inboundSMS("s1", "hi", "2024-06-02T09:00:00.000+0000"))
	h.open(t, model.ChannelSMS)
	timelines := h.listener.timelineCount()

	h.store.mu.Lock()
	h.store.fetchErr = errors.New("db down")
	h.store.mu.Unlock()
	require.NoError(t, h.ctrl.Reload())

	require.Eventually(t, func() bool { return len(h.notes.all()) == 1 }, waitFor, tick)
	assert.Equal(t, "Error Loading Messages", h.notes.all()[0].Title)
	assert.Len(t, h.ctrl.Snapshot().Messages, 1)
	assert.Equal(t, timelines, h.listener.timelineCount())
}

func TestController_RegroupOnDayRollover(t *testing.T) {
	h := newHarness(t)
	h.store.setSMS(inboundSMS("s1", "hi", "2024-06-02T09:00:00.000+0000"))
	h.open(t, model.ChannelSMS)
	count := h.listener.timelineCount()

	h.ctrl.Regroup()
	assert.Never(t, func() bool { return h.listener.timelineCount() != count }, 50*time.Millisecond, tick)

	h.clock.Set(time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC))
	h.ctrl.Regroup()
	require.Eventually(t, func() bool { return h.listener.timelineCount() == count+1 }, waitFor, tick)
	assert.Equal(t, "Yesterday", h.listener.last().groups[0].DateKey)
}

func TestController_ReopenReplacesSubscription(t *testing.T) {
	h := newHarness(t)
	h.open(t, model.ChannelSMS)
	h.open(t, model.ChannelWhatsApp)

	assert.Equal(t, 1, h.feed.Subscribers(topic))
	assert.Equal(t, model.ChannelWhatsApp, h.ctrl.Snapshot().Channel)
}
