package eventbus

import (
	"context"
)

// Event is one message carried on the bus: a topic subscribers filter
// on, a partition key, and an arbitrary payload.
type Event struct {
	Topic   string      `json:"topic"`
	Key     string      `json:"key"`
	Payload interface{} `json:"payload"`
}

// Handler processes one delivered event.
type Handler func(event *Event) error

// Subscriber pairs a topic with the handler registered for it.
type Subscriber struct {
	Topic   string
	Handler Handler
}

// partition is one worker goroutine's private event queue.
type partition struct {
	id      int
	queue   chan *Event
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler
}
