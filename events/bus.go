// Package events carries the output of the processing loop to the presentation
// sinks. Image events never block the publisher: a subscriber whose buffer is full
// misses them. Grid, status and counters events are delivered to every subscriber;
// Publish waits for a full subscriber until it takes the event, unsubscribes or the
// bus closes.
package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"inspectwatch/logging"
	"inspectwatch/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrBusClosed          = errors.New("event bus is closed")
	ErrSubscriberExists   = errors.New("subscriber already exists")
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// SubscriberStats counts deliveries to one subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch       chan types.Event
	done     chan struct{}
	doneOnce sync.Once
	stats    SubscriberStats
}

func (s *subscriber) leave() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Bus fans events out to subscribers
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriber
	totalPublished uint64
	closed         bool
	quit           chan struct{}
	quitOnce       sync.Once
	logger         *logrus.Entry
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
		quit:        make(chan struct{}),
		logger:      logging.NewLogger("events"),
	}
}

// NewEvent stamps a new event of kind for the session
func NewEvent(sessionID string, kind types.EventKind) types.Event {
	return types.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Time:      time.Now(),
	}
}

// Droppable reports whether an event of kind may be skipped for a slow subscriber
func Droppable(kind types.EventKind) bool {
	return kind == types.EventImage
}

// Subscribe registers id with a channel buffering up to buffer events
func (b *Bus) Subscribe(id string, buffer int) (<-chan types.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}
	if buffer < 1 {
		buffer = 1
	}

	sub := &subscriber{ch: make(chan types.Event, buffer), done: make(chan struct{})}
	b.subscribers[id] = sub
	return sub.ch, nil
}

// Publish delivers ev to every subscriber. Image events are skipped for a
// subscriber with a full buffer; every other kind waits for room.
func (b *Bus) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.totalPublished, 1)

	for id, sub := range b.subscribers {
		if Droppable(ev.Kind) {
			select {
			case sub.ch <- ev:
				atomic.AddUint64(&sub.stats.Sent, 1)
			default:
				dropped := atomic.AddUint64(&sub.stats.Dropped, 1)
				b.logger.WithFields(logrus.Fields{
					"subscriber": id,
					"kind":       ev.Kind,
					"path":       ev.Path,
					"dropped":    dropped,
				}).Warn("Subscriber is behind, image event dropped")
			}
			continue
		}

		select {
		case sub.ch <- ev:
			atomic.AddUint64(&sub.stats.Sent, 1)
		case <-sub.done:
		case <-b.quit:
			atomic.AddUint64(&sub.stats.Dropped, 1)
			b.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"kind":       ev.Kind,
			}).Warn("Bus closed before subscriber took event")
		}
	}
}

// Unsubscribe removes id and closes its channel
func (b *Bus) Unsubscribe(id string) error {
	b.mu.RLock()
	sub, exists := b.subscribers[id]
	b.mu.RUnlock()
	if !exists {
		return ErrSubscriberNotFound
	}
	// release a Publish waiting on this subscriber before taking the write lock
	sub.leave()

	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subscribers[id]; !ok || cur != sub {
		return ErrSubscriberNotFound
	}
	close(sub.ch)
	delete(b.subscribers, id)
	return nil
}

// Stats returns delivery statistics for a subscriber
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    atomic.LoadUint64(&sub.stats.Sent),
		Dropped: atomic.LoadUint64(&sub.stats.Dropped),
	}, nil
}

// TotalPublished returns the number of events published while open
func (b *Bus) TotalPublished() uint64 {
	return atomic.LoadUint64(&b.totalPublished)
}

// Close shuts the bus down and closes every subscriber channel. A Publish
// still waiting on a full subscriber gives up.
func (b *Bus) Close() {
	b.quitOnce.Do(func() { close(b.quit) })

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		sub.leave()
		close(sub.ch)
	}
	b.subscribers = nil
}
