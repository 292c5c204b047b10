package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(2, 8)
	defer bus.Close()

	received := make(chan *Event, 1)
	require.NoError(t, bus.Subscribe("topic.a", func(e *Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, bus.Publish(&Event{Topic: "topic.a", Key: "k1", Payload: "hello"}))

	select {
	case e := <-received:
		assert.Equal(t, "hello", e.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestInMemoryEventBus_NoSubscriberIsNotAnError(t *testing.T) {
	bus := NewInMemoryEventBus(1, 4)
	defer bus.Close()

	assert.NoError(t, bus.Publish(&Event{Topic: "nobody.listens", Key: "x"}))
}

func TestInMemoryEventBus_ClosedRejectsPublish(t *testing.T) {
	bus := NewInMemoryEventBus(1, 4)
	require.NoError(t, bus.Close())

	assert.Error(t, bus.Publish(&Event{Topic: "topic.a", Key: "k1"}))
	assert.Error(t, bus.Subscribe("topic.a", func(*Event) error { return nil }))
}

func TestInMemoryEventBus_FullPartitionDropsRatherThanBlocks(t *testing.T) {
	bus := NewInMemoryEventBus(1, 1)
	defer bus.Close()

	blocked := make(chan struct{})
	require.NoError(t, bus.Subscribe("slow", func(e *Event) error {
		<-blocked
		return nil
	}))

	require.NoError(t, bus.Publish(&Event{Topic: "slow", Key: "a"}))
	time.Sleep(10 * time.Millisecond) // let the first event start processing

	require.NoError(t, bus.Publish(&Event{Topic: "slow", Key: "a"})) // fills the 1-slot queue
	err := bus.Publish(&Event{Topic: "slow", Key: "a"})
	assert.Error(t, err)

	close(blocked)
}
