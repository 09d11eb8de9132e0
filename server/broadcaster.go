package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"feedcast/models"
)

var (
	ErrBroadcasterClosed = errors.New("broadcaster is shut down")
	ErrSubscriberClosed  = errors.New("subscriber is closed")
)

const shutdownMessage = "Server shutting down"

var (
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedcast_subscribers",
		Help: "The current number of connected stream subscribers",
	})

	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcast_events_published_total",
		Help: "The total number of events queued for subscribers",
	})
)

// Subscriber is one live connection with its own unbounded event queue
type Subscriber struct {
	ID string

	mu     sync.Mutex
	queue  []models.Event
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		ID:     uuid.New().String(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Subscriber) push(event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}
	s.queue = append(s.queue, event)

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// Notify receives a value whenever events were queued
func (s *Subscriber) Notify() <-chan struct{} {
	return s.notify
}

// Done is closed once the subscriber is unregistered. Events queued before
// that can still be drained.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Drain removes and returns every queued event
func (s *Subscriber) Drain() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.queue
	s.queue = nil
	return events
}

// Pending returns the number of queued events
func (s *Subscriber) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next blocks until events are queued and returns them. It returns
// ErrSubscriberClosed once the subscriber is closed and drained.
func (s *Subscriber) Next(ctx context.Context) ([]models.Event, error) {
	for {
		if events := s.Drain(); len(events) > 0 {
			return events, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		case <-s.done:
			if events := s.Drain(); len(events) > 0 {
				return events, nil
			}
			return nil, ErrSubscriberClosed
		}
	}
}

// Broadcaster fans out accepted items to every registered subscriber
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Register adds a new subscriber
func (b *Broadcaster) Register() (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBroadcasterClosed
	}

	sub := newSubscriber()
	b.subscribers[sub.ID] = sub
	subscribersGauge.Set(float64(len(b.subscribers)))

	log.WithFields(log.Fields{
		"key":   sub.ID,
		"count": len(b.subscribers),
	}).Info("Adding client to broadcaster")
	return sub, nil
}

// Unregister removes sub and closes it
func (b *Broadcaster) Unregister(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.UnregisterID(sub.ID)
}

// UnregisterID removes the subscriber with key id. It reports whether one
// was registered.
func (b *Broadcaster) UnregisterID(id string) bool {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if !ok {
		return false
	}

	sub.close()
	subscribersGauge.Set(float64(count))

	log.WithFields(log.Fields{
		"key":   id,
		"count": count,
	}).Info("Removed client from broadcaster")
	return true
}

// Publish queues one articles event with items on every subscriber and
// returns how many received it
func (b *Broadcaster) Publish(items ...models.Item) int {
	if len(items) == 0 {
		return 0
	}
	return b.send(models.Event{
		Type:     models.EventArticles,
		Articles: items,
	})
}

func (b *Broadcaster) send(event models.Event) int {
	b.mu.RLock()
	subscribers := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subscribers {
		if err := sub.push(event); err != nil {
			log.WithFields(log.Fields{
				"key":   sub.ID,
				"error": err,
			}).Warn("Dropping subscriber")
			b.UnregisterID(sub.ID)
			continue
		}
		delivered++
	}

	eventsPublished.Add(float64(delivered))
	return delivered
}

// Count returns the number of registered subscribers
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Shutdown sends a shutdown event to every subscriber, closes them and
// refuses further registrations
func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")

	b.mu.Lock()
	b.closed = true
	subscribers := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subscribers {
		_ = sub.push(models.Event{
			Type:    models.EventShutdown,
			Message: shutdownMessage,
		})
		sub.close()
	}
	subscribersGauge.Set(0)
}
