package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"verdantdo/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchChannelEmitsOnSubscribeAndOnChange(t *testing.T) {
	_, client := setupRedis(t)
	logger, _ := test.NewNullLogger()

	var mu sync.Mutex
	var calls []bool
	emit := func(ctx context.Context, fresh bool) error {
		mu.Lock()
		calls = append(calls, fresh)
		mu.Unlock()
		return nil
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchChannel(ctx, client, changeChannel(collectionTasks, "u1"), logger, emit, func(err error) {
			t.Errorf("unexpected error: %v", err)
		})
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return count() == 1 })
	if err := client.Publish(context.Background(), changeChannel(collectionTasks, "u1"), TaskCreated).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, time.Second, func() bool { return count() >= 2 })

	// Notifications for another user must not trigger a snapshot.
	if err := client.Publish(context.Background(), changeChannel(collectionTasks, "u2"), TaskCreated).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchChannel did not exit")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected 2 emits, got %d", len(calls))
	}
	if calls[0] {
		t.Fatalf("initial snapshot may be served from cache")
	}
	if !calls[1] {
		t.Fatalf("snapshot after a change must bypass the cache")
	}
}

func TestWatchChannelReportsEmitErrorsAndKeepsListening(t *testing.T) {
	_, client := setupRedis(t)
	logger, _ := test.NewNullLogger()

	var emits atomic.Int32
	var errs atomic.Int32
	boom := errors.New("table unavailable")
	emit := func(ctx context.Context, fresh bool) error {
		if emits.Add(1) == 1 {
			return boom
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchChannel(ctx, client, "chan", logger, emit, func(err error) {
		if errors.Is(err, boom) {
			errs.Add(1)
		}
	})

	waitFor(t, time.Second, func() bool { return errs.Load() == 1 })
	if err := client.Publish(context.Background(), "chan", "x").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, time.Second, func() bool { return emits.Load() == 2 })
}

func TestStorageWatchStopsDelivering(t *testing.T) {
	_, client := setupRedis(t)
	logger, _ := test.NewNullLogger()
	s := &Storage{redis: client, logger: logger}

	var delivered atomic.Int32
	stop := s.watch(collectionTasks, "u1", func(ctx context.Context, fresh bool) (func(), error) {
		return func() { delivered.Add(1) }, nil
	}, nil)
	waitFor(t, time.Second, func() bool { return delivered.Load() == 1 })

	stop()
	stop()
	_ = client.Publish(context.Background(), changeChannel(collectionTasks, "u1"), TaskDeleted).Err()
	time.Sleep(50 * time.Millisecond)
	if got := delivered.Load(); got != 1 {
		t.Fatalf("expected no delivery after stop, got %d", got)
	}
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	ctxErrs  []error
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestChangedEvictsNotifiesAndPublishesEvent(t *testing.T) {
	mr, client := setupRedis(t)
	logger, _ := test.NewNullLogger()
	queue := &fakeQueue{}
	s := &Storage{redis: client, cache: NewCache(client, time.Minute), events: queue, logger: logger}
	ctx := context.Background()

	s.cache.store(ctx, collectionTasks, "u1", []domain.Task{{ID: "old"}})

	pubsub := client.Subscribe(ctx, changeChannel(collectionTasks, "u1"))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s.changed(ctx, collectionTasks, "u1", "t1", TaskCompleted)

	select {
	case msg := <-pubsub.Channel():
		if msg.Payload != TaskCompleted {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no change notification received")
	}
	if mr.Exists(cacheKey(collectionTasks, "u1")) {
		t.Fatalf("expected cached snapshot to be evicted")
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.messages) != 1 {
		t.Fatalf("expected one event, got %d", len(queue.messages))
	}
}

func TestChangedCompletesAfterCallerCancels(t *testing.T) {
	mr, client := setupRedis(t)
	logger, _ := test.NewNullLogger()
	queue := &fakeQueue{}
	s := &Storage{redis: client, cache: NewCache(client, time.Minute), events: queue, logger: logger}

	s.cache.store(context.Background(), collectionTasks, "u1", []domain.Task{{ID: "old"}})
	pubsub := client.Subscribe(context.Background(), changeChannel(collectionTasks, "u1"))
	defer pubsub.Close()
	if _, err := pubsub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.changed(ctx, collectionTasks, "u1", "t1", TaskCreated)

	select {
	case msg := <-pubsub.Channel():
		if msg.Payload != TaskCreated {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no change notification after the request was cancelled")
	}
	if mr.Exists(cacheKey(collectionTasks, "u1")) {
		t.Fatalf("expected cached snapshot to be evicted")
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.ctxErrs) != 1 || queue.ctxErrs[0] != nil {
		t.Fatalf("expected one enqueue on a live context, got %v", queue.ctxErrs)
	}
}

func TestPublishEventFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := &Storage{events: &fakeQueue{err: errors.New("queue down")}, logger: logger}

	s.publishEvent(context.Background(), newEvent(collectionCategories, "u1", "c1", CategoryCreated))

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning log entry, got %#v", entry)
	}
	if entry.Data["type"] != CategoryCreated {
		t.Fatalf("unexpected log fields: %#v", entry.Data)
	}
}
