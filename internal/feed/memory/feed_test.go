package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectsocial/internal/feed"
)

func TestFeed_PublishReachesTopicOnly(t *testing.T) {
	f := New()
	ctx := context.Background()

	var got []feed.Event
	h, err := f.Subscribe(ctx, "timeline.15550100", func(ev feed.Event) { got = append(got, ev) }, nil)
	require.NoError(t, err)
	require.NotEmpty(t, h)

	require.NoError(t, f.Publish(ctx, "timeline.15550100", feed.Event{Kind: "inbound"}))
	require.NoError(t, f.Publish(ctx, "timeline.other", feed.Event{Kind: "inbound"}))

	require.Len(t, got, 1)
	assert.Equal(t, "timeline.15550100", got[0].Topic)
	assert.False(t, got[0].At.IsZero())
}

func TestFeed_Unsubscribe(t *testing.T) {
	f := New()
	ctx := context.Background()
	calls := 0
	h, err := f.Subscribe(ctx, "t", func(feed.Event) { calls++ }, nil)
	require.NoError(t, err)

	require.NoError(t, f.Unsubscribe(h))
	assert.ErrorIs(t, f.Unsubscribe(h), feed.ErrUnknownHandle)
	require.NoError(t, f.Publish(ctx, "t", feed.Event{}))
	assert.Zero(t, calls)
	assert.Zero(t, f.Subscribers("t"))
}

func TestFeed_FailReleasesSubscription(t *testing.T) {
	f := New()
	var gotErr error
	h, err := f.Subscribe(context.Background(), "t", func(feed.Event) {}, func(err error) { gotErr = err })
	require.NoError(t, err)

	boom := errors.New("connection reset")
	f.Fail("t", boom)
	assert.ErrorIs(t, gotErr, boom)
	assert.ErrorIs(t, f.Unsubscribe(h), feed.ErrUnknownHandle)
}

func TestFeed_Closed(t *testing.T) {
	f := New()
	require.NoError(t, f.Close())
	_, err := f.Subscribe(context.Background(), "t", func(feed.Event) {}, nil)
	assert.ErrorIs(t, err, feed.ErrClosed)
	assert.ErrorIs(t, f.Publish(context.Background(), "t", feed.Event{}), feed.ErrClosed)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "timeline.events.15550102030", feed.Topic("timeline.events.", "+1 (555) 010-2030"))
	assert.Equal(t, "timeline.events.15550102030", feed.Topic("timeline.events", "15550102030"))
}
