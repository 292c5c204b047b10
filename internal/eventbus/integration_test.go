package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zt-overlay/ztpipe/internal/zt"
)

func TestNodeEventBus_PublishSubscribe(t *testing.T) {
	bus := NewNodeEventBus(2, 8)
	defer bus.Close()

	got := make(chan *NodeEvent, 1)
	require.NoError(t, bus.Subscribe(zt.EventPeerOnline, func(ev *NodeEvent) error {
		got <- ev
		return nil
	}))

	bus.Publish(zt.EventPeerOnline, []byte("peer-123"))

	select {
	case ev := <-got:
		assert.Equal(t, zt.EventPeerOnline, ev.Type)
		assert.Equal(t, []byte("peer-123"), ev.Data)
	case <-time.After(time.Second):
		t.Fatal("node event not delivered")
	}
}

func TestNodeEventBus_DifferentKindsDontCrossDeliver(t *testing.T) {
	bus := NewNodeEventBus(2, 8)
	defer bus.Close()

	onlineCh := make(chan *NodeEvent, 1)
	offlineCh := make(chan *NodeEvent, 1)
	require.NoError(t, bus.Subscribe(zt.EventPeerOnline, func(ev *NodeEvent) error {
		onlineCh <- ev
		return nil
	}))
	require.NoError(t, bus.Subscribe(zt.EventPeerOffline, func(ev *NodeEvent) error {
		offlineCh <- ev
		return nil
	}))

	bus.Publish(zt.EventPeerOffline, nil)

	select {
	case <-offlineCh:
	case <-time.After(time.Second):
		t.Fatal("offline event not delivered")
	}
	select {
	case <-onlineCh:
		t.Fatal("online handler should not have fired")
	default:
	}
}

func TestNodeEventBus_Stats(t *testing.T) {
	bus := NewNodeEventBus(1, 8)
	defer bus.Close()

	bus.Publish(zt.EventNetworkReady, nil)
	bus.Publish(zt.EventNetworkDown, nil)

	// No subscriber registered, so delivery attempts still count as
	// published even though nothing processes them.
	require.Eventually(t, func() bool {
		return bus.Stats().PublishedCount == 2
	}, time.Second, 10*time.Millisecond)
}
