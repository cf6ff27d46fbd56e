package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(0)
	assert.Equal(t, 1, broker.SubscriberCount())

	broker.Publish(Event{
		Type:  EventBlockArchived,
		Block: "(-1:8000000000000000,1)",
	})

	// Delivery is synchronous: the event is already buffered
	select {
	case event := <-sub.C():
		assert.Equal(t, EventBlockArchived, event.Type)
		assert.Equal(t, "(-1:8000000000000000,1)", event.Block)
		assert.False(t, event.At.IsZero())
	default:
		t.Fatal("no event buffered after publish")
	}
}

func TestBrokerDeliveryOrder(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(8)

	broker.Publish(Event{Type: EventStateStored, Block: "b1"})
	broker.Publish(Event{Type: EventBlockArchived, Block: "b1"})
	broker.Publish(Event{Type: EventBlockIndexed, Block: "b1"})

	want := []EventType{EventStateStored, EventBlockArchived, EventBlockIndexed}
	for _, wantType := range want {
		event := <-sub.C()
		assert.Equal(t, wantType, event.Type)
	}
}

func TestBrokerTypeFilter(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(8, EventGCCompleted)

	broker.Publish(Event{Type: EventStateStored, Block: "b1"})
	broker.Publish(Event{Type: EventGCCompleted, Detail: map[string]string{"deleted": "2"}})

	event := <-sub.C()
	assert.Equal(t, EventGCCompleted, event.Type)
	assert.Equal(t, "2", event.Detail["deleted"])

	select {
	case unexpected := <-sub.C():
		t.Fatalf("filtered event delivered: %v", unexpected.Type)
	default:
	}
}

func TestBrokerDropsWhenBufferFull(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(1)

	broker.Publish(Event{Type: EventStateStored, Block: "b1"})
	broker.Publish(Event{Type: EventStateStored, Block: "b2"})

	// The slow subscriber loses the overflow instead of blocking Publish
	assert.Equal(t, uint64(1), sub.Dropped())

	event := <-sub.C()
	assert.Equal(t, "b1", event.Block)
}

func TestSubscriptionCancel(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.Subscribe(0)
	sub.Cancel()
	assert.Equal(t, 0, broker.SubscriberCount())

	// The channel is closed after cancel
	_, open := <-sub.C()
	require.False(t, open)

	// Cancelling twice is harmless
	sub.Cancel()
}

func TestBrokerClose(t *testing.T) {
	broker := NewBroker()

	sub := broker.Subscribe(0)
	broker.Close()
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub.C()
	require.False(t, open)

	// Publishing after close is discarded, subscribing yields a closed
	// channel
	broker.Publish(Event{Type: EventStateStored, At: time.Now()})
	late := broker.Subscribe(0)
	_, open = <-late.C()
	require.False(t, open)
}
