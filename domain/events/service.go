package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// Service is the in-process transport. Publish returns immediately and each
// subscriber runs on its own goroutine; deliveries for one (topic, job id)
// are serialized.
type Service struct {
	log   *slog.Logger
	subs  *subscriptions
	locks *keyedMutex
	wg    sync.WaitGroup
	// base outlives the publishing request; cancelled by Drain.
	base   context.Context
	cancel context.CancelFunc
}

// NewService creates a new in-process events service
func NewService(log *slog.Logger) *Service {
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		log:    log.With(logger.Scope("events")),
		subs:   newSubscriptions(),
		locks:  newKeyedMutex(),
		base:   base,
		cancel: cancel,
	}
}

// Subscribe registers h for topic.
func (s *Service) Subscribe(topic Topic, h Handler) {
	s.subs.add(topic, h)
}

// SubscriberCount returns the number of handlers registered for topic.
func (s *Service) SubscriberCount(topic Topic) int {
	return s.subs.count(topic)
}

// Publish validates msg and delivers a decoded copy to every subscriber asynchronously.
func (s *Service) Publish(ctx context.Context, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}

	handlers := s.subs.get(msg.Topic())
	if len(handlers) == 0 {
		s.log.Debug("no subscribers for topic", slog.String("topic", string(msg.Topic())))
		return nil
	}

	for _, h := range handlers {
		copied, err := Decode(msg.Topic(), payload)
		if err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic(), err)
		}
		s.wg.Add(1)
		go s.deliver(h, copied)
	}
	return nil
}

func (s *Service) deliver(h Handler, msg Message) {
	defer s.wg.Done()

	unlock := s.locks.Lock(deliveryKey(msg.Topic(), msg.Key()))
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panicked",
				slog.String("topic", string(msg.Topic())),
				slog.String("job_id", msg.Key()),
				slog.Any("panic", r))
		}
	}()

	if err := h(s.base, msg); err != nil {
		// No redelivery in process; the stall sweep catches the job.
		s.log.Error("event handler failed",
			slog.String("topic", string(msg.Topic())),
			slog.String("job_id", msg.Key()),
			logger.Error(err))
	}
}

// Wait blocks until all in-flight deliveries, including the ones they
// publish, have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Drain waits for in-flight deliveries and then cancels the handler context.
// If ctx ends first, handlers are cancelled immediately.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}
