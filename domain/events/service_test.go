package events

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/jobs"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func submitted(jobID string) Submitted {
	return Submitted{JobID: jobID, RawChannelInput: "@creator", Email: "a@b.com"}
}

func TestNewService(t *testing.T) {
	svc := NewService(newTestLogger())

	assert.NotNil(t, svc)
	assert.Equal(t, 0, svc.SubscriberCount(TopicSubmitted))
}

func TestSubscribe_Counts(t *testing.T) {
	svc := NewService(newTestLogger())

	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error { return nil })
	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error { return nil })
	svc.Subscribe(TopicEmailSent, func(ctx context.Context, msg Message) error { return nil })

	assert.Equal(t, 2, svc.SubscriberCount(TopicSubmitted))
	assert.Equal(t, 1, svc.SubscriberCount(TopicEmailSent))
	assert.Equal(t, 0, svc.SubscriberCount(TopicChannelResolved))
}

func TestPublish_DeliversTypedMessage(t *testing.T) {
	svc := NewService(newTestLogger())

	received := make(chan Message, 1)
	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	})

	require.NoError(t, svc.Publish(context.Background(), submitted("job_1")))

	select {
	case msg := <-received:
		s, ok := msg.(Submitted)
		require.True(t, ok)
		assert.Equal(t, "job_1", s.JobID)
		assert.Equal(t, "@creator", s.RawChannelInput)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPublish_CopiesPayload(t *testing.T) {
	svc := NewService(newTestLogger())

	var got VideosFetched
	svc.Subscribe(TopicVideosFetched, func(ctx context.Context, msg Message) error {
		got = msg.(VideosFetched)
		return nil
	})

	msg := VideosFetched{JobID: "job_1", Email: "a@b.com", Videos: sampleVideos()}
	require.NoError(t, svc.Publish(context.Background(), msg))
	svc.Wait()

	msg.Videos[0].Title = "mutated after publish"
	assert.Equal(t, "one", got.Videos[0].Title)
}

func TestPublish_NoSubscribers(t *testing.T) {
	svc := NewService(newTestLogger())

	assert.NotPanics(t, func() {
		assert.NoError(t, svc.Publish(context.Background(), submitted("job_1")))
	})
}

func TestPublish_RejectsInvalid(t *testing.T) {
	svc := NewService(newTestLogger())

	var called atomic.Bool
	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error {
		called.Store(true)
		return nil
	})

	err := svc.Publish(context.Background(), Submitted{JobID: "job_1"})
	assert.Error(t, err)
	svc.Wait()
	assert.False(t, called.Load())
}

func TestPublish_SerializesSameKey(t *testing.T) {
	svc := NewService(newTestLogger())

	var active, maxActive atomic.Int32
	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, svc.Publish(context.Background(), submitted("job_same")))
	}
	svc.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, svc.locks.size(), "idle keys are released")
}

func TestPublish_DifferentKeysRunConcurrently(t *testing.T) {
	svc := NewService(newTestLogger())

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error {
		started.Done()
		<-release
		return nil
	})

	require.NoError(t, svc.Publish(context.Background(), submitted("job_a")))
	require.NoError(t, svc.Publish(context.Background(), submitted("job_b")))

	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers for different jobs did not overlap")
	}
	close(release)
	svc.Wait()
}

func TestPublish_HandlerErrorAndPanicAreContained(t *testing.T) {
	svc := NewService(newTestLogger())

	var calls atomic.Int32
	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error {
		calls.Add(1)
		return errors.New("boom")
	})
	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error {
		calls.Add(1)
		panic("bad handler")
	})

	require.NoError(t, svc.Publish(context.Background(), submitted("job_1")))
	svc.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestDrain(t *testing.T) {
	svc := NewService(newTestLogger())

	svc.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, svc.Publish(context.Background(), submitted("job_1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Drain(ctx), context.DeadlineExceeded)

	// Handlers observe the cancellation and finish.
	svc.Wait()
}

func TestGroupByKey(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := []jobs.Job{
		{ID: "3", Topic: "yt.submit", Key: "job_a", CreatedAt: base.Add(3 * time.Second)},
		{ID: "1", Topic: "yt.submit", Key: "job_a", CreatedAt: base.Add(1 * time.Second)},
		{ID: "2", Topic: "yt.submit", Key: "job_b", CreatedAt: base.Add(2 * time.Second)},
		{ID: "4", Topic: "yt.email.sent", Key: "job_a", CreatedAt: base.Add(4 * time.Second)},
	}

	groups := groupByKey(batch)
	require.Len(t, groups, 3)

	assert.Equal(t, []string{"1", "3"}, []string{groups[0][0].ID, groups[0][1].ID})
	assert.Equal(t, "2", groups[1][0].ID)
	assert.Equal(t, "4", groups[2][0].ID)
}
