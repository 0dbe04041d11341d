// Package events routes typed pipeline messages to their subscribed handlers.
//
// Two transports implement Bus: Service delivers in process, Outbox persists
// each message to PostgreSQL and dispatches it from a polling worker.
package events

import (
	"context"
	"sync"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/jobs"
)

// Handler consumes one message. A non-nil error asks the transport to
// redeliver when it can.
type Handler func(ctx context.Context, msg Message) error

// Bus publishes messages and routes them to subscribers by topic.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(topic Topic, h Handler)
	SubscriberCount(topic Topic) int
}

// Maintainer is implemented by transports with durable backlog housekeeping.
type Maintainer interface {
	RecoverStale(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*jobs.Stats, error)
}

// subscriptions is the topic routing table shared by both transports.
type subscriptions struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

func newSubscriptions() *subscriptions {
	return &subscriptions{handlers: make(map[Topic][]Handler)}
}

func (s *subscriptions) add(topic Topic, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = append(s.handlers[topic], h)
}

func (s *subscriptions) get(topic Topic) []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Handler(nil), s.handlers[topic]...)
}

func (s *subscriptions) count(topic Topic) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[topic])
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func deliveryKey(topic Topic, key string) string {
	return string(topic) + "|" + key
}
