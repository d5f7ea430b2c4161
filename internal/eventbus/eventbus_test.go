package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToMatchingTopic(t *testing.T) {
	b := New()
	sub := b.Subscribe(4, DropNewest, "dns/status")

	b.Publish("dns/status", "started")
	b.Publish("dns/log/event", "ignored")

	select {
	case evt := <-sub.C:
		assert.Equal(t, "dns/status", evt.Topic)
		assert.Equal(t, "started", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}

	select {
	case evt := <-sub.C:
		t.Fatalf("unexpected second event %+v", evt)
	default:
	}
}

func TestSubscribeNoTopicsMeansAll(t *testing.T) {
	b := New()
	sub := b.Subscribe(2, DropNewest)

	b.Publish("dns/status", "started")
	b.Publish("dns/cache/evict", "example.com")

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, "dns/status", first.Topic)
	assert.Equal(t, "dns/cache/evict", second.Topic)
}

func TestSubscribeFamilyPrefixMatchesMemberTopics(t *testing.T) {
	b := New()
	sub := b.Subscribe(4, DropNewest, "dns/cache/")

	b.Publish("dns/cache/example.com", "evicted")
	b.Publish("dns/status", "ignored")

	select {
	case evt := <-sub.C:
		assert.Equal(t, "dns/cache/example.com", evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected a family-matched event")
	}

	select {
	case evt := <-sub.C:
		t.Fatalf("unexpected second event %+v", evt)
	default:
	}
}

func TestPublishNeverBlocksOnFullBufferDropNewest(t *testing.T) {
	b := New()
	sub := b.Subscribe(1, DropNewest, "dns/log/event")

	done := make(chan struct{})
	go func() {
		for range 100 {
			b.Publish("dns/log/event", "x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
	require.NotNil(t, sub.C)
}

func TestOverflowDropSubscriberUnsubscribes(t *testing.T) {
	b := New()
	b.Subscribe(1, DropSubscriber, "dns/status")
	require.Equal(t, 1, b.SubscriberCount())

	b.Publish("dns/status", "a")
	b.Publish("dns/status", "b") // buffer full -> subscriber dropped

	assert.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, time.Millisecond)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe(1, DropNewest)
	b.Unsubscribe(sub.ID)
	assert.NotPanics(t, func() { b.Unsubscribe(sub.ID) })
}
