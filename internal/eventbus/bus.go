// Package eventbus implements a small partitioned, in-memory pub/sub
// bus used to fan a Node's lifecycle events (spec §4.6 item 5: "event:
// informational only; do not alter state") out to any number of
// subscribers — diagnostics, metrics, structured logging — without the
// publisher knowing who, if anyone, is listening.
package eventbus

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/zt-overlay/ztpipe/internal/log"
)

// EventBus is the bus interface: publish, subscribe by topic, and
// query delivery stats.
type EventBus interface {
	Publish(event *Event) error
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// Stats reports publish/delivery counters across all partitions.
type Stats struct {
	PublishedCount int64
	ProcessedCount int64
	PartitionCount int
	QueuedCount    []int
}

// InMemoryEventBus is a fixed-partition-count, in-process EventBus.
// Each partition runs its own goroutine and queue so one slow handler
// only stalls the events hashed to its partition.
type InMemoryEventBus struct {
	partitions     []*partition
	partitionCount int
	queueSize      int
	subscribers    map[string]Handler
	mu             sync.RWMutex
	closed         int32

	publishedCount int64
	processedCount int64
}

// NewInMemoryEventBus creates a bus with partitionCount worker
// goroutines, each buffering up to queueSize pending events.
func NewInMemoryEventBus(partitionCount, queueSize int) EventBus {
	bus := &InMemoryEventBus{
		partitionCount: partitionCount,
		queueSize:      queueSize,
		subscribers:    make(map[string]Handler),
		partitions:     make([]*partition, partitionCount),
	}

	for i := 0; i < partitionCount; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		bus.partitions[i] = &partition{
			id:     i,
			queue:  make(chan *Event, queueSize),
			ctx:    ctx,
			cancel: cancel,
		}
		go bus.runPartition(bus.partitions[i])
	}

	return bus
}

// Publish routes event to the partition its Key hashes to. Returns an
// error (rather than blocking) if that partition's queue is full — a
// slow or stuck subscriber drops events instead of backing up the
// publisher, matching the transport's own drop-on-full-backlog policy.
func (b *InMemoryEventBus) Publish(event *Event) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}

	partitionID := b.getPartitionID(event.Key)
	partition := b.partitions[partitionID]

	select {
	case partition.queue <- event:
		atomic.AddInt64(&b.publishedCount, 1)
		return nil
	default:
		return fmt.Errorf("partition %d queue is full", partitionID)
	}
}

// Subscribe registers handler for topic, replacing any prior handler.
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}

	b.subscribers[topic] = handler

	for _, partition := range b.partitions {
		partition.handler = b.getHandler
	}

	log.GetLogger().Debugf("eventbus: subscribed to topic %q", topic)
	return nil
}

// Close stops every partition worker. Idempotent.
func (b *InMemoryEventBus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}

	for _, partition := range b.partitions {
		partition.cancel()
		close(partition.queue)
	}

	log.GetLogger().Debug("eventbus: closed")
	return nil
}

// GetStats snapshots publish/delivery counters.
func (b *InMemoryEventBus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: atomic.LoadInt64(&b.publishedCount),
		ProcessedCount: atomic.LoadInt64(&b.processedCount),
		PartitionCount: b.partitionCount,
		QueuedCount:    make([]int, b.partitionCount),
	}

	for i, partition := range b.partitions {
		stats.QueuedCount[i] = len(partition.queue)
	}

	return stats
}

func (b *InMemoryEventBus) getPartitionID(key string) int {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return int(hasher.Sum32()) % b.partitionCount
}

func (b *InMemoryEventBus) getHandler(event *Event) error {
	b.mu.RLock()
	handler, exists := b.subscribers[event.Topic]
	b.mu.RUnlock()

	if !exists {
		log.GetLogger().Debugf("eventbus: no handler for topic %q", event.Topic)
		return nil
	}

	return handler(event)
}

func (b *InMemoryEventBus) runPartition(p *partition) {
	logger := log.GetLogger()
	logger.Debugf("eventbus: partition %d started", p.id)

	defer func() {
		logger.Debugf("eventbus: partition %d stopped", p.id)
	}()

	for {
		select {
		case <-p.ctx.Done():
			return

		case event, ok := <-p.queue:
			if !ok {
				return
			}

			if p.handler != nil {
				if err := p.handler(event); err != nil {
					logger.WithError(err).Errorf("eventbus: handler failed in partition %d", p.id)
				} else {
					atomic.AddInt64(&b.processedCount, 1)
				}
			}
		}
	}
}
