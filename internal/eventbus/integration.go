package eventbus

import (
	"fmt"

	"github.com/zt-overlay/ztpipe/internal/zt"
)

// NodeEvent is the payload carried by a published Node lifecycle event.
type NodeEvent struct {
	Type zt.EventType
	Data []byte
}

// NodeEventBus fans one zt.Node's lifecycle events (peer online/offline,
// network up/down) out to any number of subscribers. It sits between
// Node.SetEventListener and whatever wants to observe those events —
// today, structured logging; diagnostics or metrics subscribers can
// attach the same way without Node itself changing.
type NodeEventBus struct {
	bus EventBus
}

// NewNodeEventBus creates a partitioned in-memory bus sized for one
// Node's event volume.
func NewNodeEventBus(partitionCount, queueSize int) *NodeEventBus {
	return &NodeEventBus{bus: NewInMemoryEventBus(partitionCount, queueSize)}
}

// Publish adapts zt.Node's raw event callback shape (spec §4.6 item 5)
// into the generic bus, topic-keyed by event kind so subscribers can
// filter without decoding the payload first.
func (n *NodeEventBus) Publish(ev zt.EventType, data []byte) {
	_ = n.bus.Publish(&Event{
		Topic:   ev.String(),
		Key:     fmt.Sprintf("%d", ev),
		Payload: &NodeEvent{Type: ev, Data: data},
	})
}

// Subscribe registers handler for one event kind. Replaces any prior
// subscriber for that kind.
func (n *NodeEventBus) Subscribe(ev zt.EventType, handler func(*NodeEvent) error) error {
	return n.bus.Subscribe(ev.String(), func(e *Event) error {
		ne, ok := e.Payload.(*NodeEvent)
		if !ok {
			return nil
		}
		return handler(ne)
	})
}

// Stats reports publish/delivery counters across all event kinds.
func (n *NodeEventBus) Stats() *Stats { return n.bus.GetStats() }

// Close shuts down the underlying partitions.
func (n *NodeEventBus) Close() error { return n.bus.Close() }
