// Package eventq runs deferred stack work (ARP retries, cache aging, loopback
// delivery) on a fixed set of partition goroutines chosen by consistent hash.
package eventq

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serialx/hashring"

	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/metrics"
)

// Stats is a snapshot of queue counters.
type Stats struct {
	PublishedCount int64 `json:"published" yaml:"published" mapstructure:"published"`
	ProcessedCount int64 `json:"processed" yaml:"processed" mapstructure:"processed"`
	FailedCount    int64 `json:"failed" yaml:"failed" mapstructure:"failed"`
	DroppedCount   int64 `json:"dropped" yaml:"dropped" mapstructure:"dropped"`
	PendingTimers  int   `json:"pending_timers" yaml:"pending_timers" mapstructure:"pending_timers"`
	PartitionCount int   `json:"partitions" yaml:"partitions" mapstructure:"partitions"`
	QueuedCount    []int `json:"queued" yaml:"queued" mapstructure:"queued"`
}

// Queue is an in-memory partitioned event queue.
type Queue struct {
	partitions     []*partition
	partitionNodes []string
	hashRing       *hashring.HashRing
	subscribers    map[string]Handler

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}

	publishedCount atomic.Int64
	processedCount atomic.Int64
	failedCount    atomic.Int64
	droppedCount   atomic.Int64
}

// New starts partitionCount partitions each buffering queueSize events.
func New(partitionCount, queueSize int) *Queue {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	q := &Queue{
		partitions:     make([]*partition, partitionCount),
		partitionNodes: make([]string, partitionCount),
		subscribers:    make(map[string]Handler),
		timers:         make(map[*time.Timer]struct{}),
	}

	for i := 0; i < partitionCount; i++ {
		q.partitionNodes[i] = "partition-" + strconv.Itoa(i)
	}
	q.hashRing = hashring.New(q.partitionNodes)

	for i := 0; i < partitionCount; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		q.partitions[i] = &partition{
			id:      i,
			queue:   make(chan *Event, queueSize),
			ctx:     ctx,
			cancel:  cancel,
			handler: q.dispatch,
		}
		q.wg.Add(1)
		go q.runPartition(q.partitions[i])
	}
	return q
}

// Publish enqueues event without blocking. A full partition drops the event.
func (q *Queue) Publish(event *Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("event queue is closed")
	}

	id := q.partitionID(event.Key)
	select {
	case q.partitions[id].queue <- event:
		q.publishedCount.Add(1)
		return nil
	default:
		q.droppedCount.Add(1)
		metrics.EventQueueDropsTotal.Inc()
		return fmt.Errorf("partition %d queue is full", id)
	}
}

// Schedule publishes event after delay. Timers still pending at Close are stopped.
func (q *Queue) Schedule(delay time.Duration, event *Event) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return fmt.Errorf("event queue is closed")
	}

	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.timerMu.Lock()
		delete(q.timers, t)
		q.timerMu.Unlock()
		if err := q.Publish(event); err != nil {
			log.GetLogger().WithField("topic", event.Topic).WithError(err).Warn("scheduled event dropped")
		}
	})
	q.timers[t] = struct{}{}
	return nil
}

// Subscribe installs the handler for topic, replacing any previous one.
func (q *Queue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("event queue is closed")
	}
	q.subscribers[topic] = handler

	log.GetLogger().Debugf("Subscribed to topic: %s", topic)
	return nil
}

// Close stops timers and partitions and waits for running handlers.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, p := range q.partitions {
		close(p.queue)
	}
	q.mu.Unlock()

	q.timerMu.Lock()
	for t := range q.timers {
		t.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	q.timerMu.Unlock()

	q.wg.Wait()
	for _, p := range q.partitions {
		p.cancel()
	}
	log.GetLogger().Debug("Event queue closed")
	return nil
}

// Stats returns current counters.
func (q *Queue) Stats() *Stats {
	q.timerMu.Lock()
	pending := len(q.timers)
	q.timerMu.Unlock()

	stats := &Stats{
		PublishedCount: q.publishedCount.Load(),
		ProcessedCount: q.processedCount.Load(),
		FailedCount:    q.failedCount.Load(),
		DroppedCount:   q.droppedCount.Load(),
		PendingTimers:  pending,
		PartitionCount: len(q.partitions),
		QueuedCount:    make([]int, len(q.partitions)),
	}
	for i, p := range q.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}
	return stats
}

// partitionID maps key onto a partition through the consistent hash ring.
func (q *Queue) partitionID(key string) int {
	node, ok := q.hashRing.GetNode(key)
	if !ok {
		return 0
	}
	for i, n := range q.partitionNodes {
		if n == node {
			return i
		}
	}
	return 0
}

func (q *Queue) dispatch(event *Event) error {
	q.mu.RLock()
	handler, exists := q.subscribers[event.Topic]
	q.mu.RUnlock()

	if !exists {
		log.GetLogger().Debugf("No handler for topic: %s", event.Topic)
		return nil
	}
	return handler(event)
}

// runPartition drains one partition until its queue is closed.
func (q *Queue) runPartition(p *partition) {
	defer q.wg.Done()
	logger := log.GetLogger().WithField("partition", p.id)

	for event := range p.queue {
		if err := p.handler(event); err != nil {
			q.failedCount.Add(1)
			logger.WithField("topic", event.Topic).WithError(err).Error("event handler failed")
			continue
		}
		q.processedCount.Add(1)
	}
}
