package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	b := New()
	var a, c []any
	b.Subscribe(TopicNotification, func(p any) { a = append(a, p) })
	b.Subscribe(TopicNotification, func(p any) { c = append(c, p) })

	b.Publish(TopicNotification, "hello")
	require.Equal(t, []any{"hello"}, a)
	require.Equal(t, []any{"hello"}, c)
}

func TestBus_TopicsAreIndependent(t *testing.T) {
	b := New()
	var got []any
	b.Subscribe(TopicChatMessage, func(p any) { got = append(got, p) })

	b.Publish(TopicPointsUpdate, 1)
	require.Empty(t, got)

	b.Publish(TopicChatMessage, 2)
	require.Equal(t, []any{2}, got)
}

func TestBus_LateSubscriberMissesEarlierMessages(t *testing.T) {
	b := New()
	b.Publish(TopicNotification, "early")

	var got []any
	b.Subscribe(TopicNotification, func(p any) { got = append(got, p) })
	require.Empty(t, got, "no replay")
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	var got int
	sub := b.Subscribe(TopicNotification, func(any) { got++ })

	b.Publish(TopicNotification, nil)
	sub.Unsubscribe()
	b.Publish(TopicNotification, nil)
	require.Equal(t, 1, got)

	// safe to call again
	sub.Unsubscribe()
}

func TestBus_HandlerMayUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var sub *Subscription
	var got int
	sub = b.Subscribe(TopicNotification, func(any) {
		got++
		sub.Unsubscribe()
	})

	b.Publish(TopicNotification, nil)
	b.Publish(TopicNotification, nil)
	require.Equal(t, 1, got)
}

func TestBus_ClosedBusDropsEverything(t *testing.T) {
	b := New()
	var got int
	b.Subscribe(TopicNotification, func(any) { got++ })
	b.Close()

	b.Publish(TopicNotification, nil)
	require.Zero(t, got)

	// subscribing after close is a no-op handle
	sub := b.Subscribe(TopicNotification, func(any) { got++ })
	b.Publish(TopicNotification, nil)
	require.Zero(t, got)
	sub.Unsubscribe()
}
