package delivery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/store/memory"
	"github.com/careops/dispatch/subscription"
)

// stubDLQ records pushed entries.
type stubDLQ struct {
	mu     sync.Mutex
	pushed []*delivery.Delivery
	count  atomic.Int32
}

func (s *stubDLQ) PushFailed(_ context.Context, d *delivery.Delivery, _ *subscription.Subscription, _ string, _ int) error {
	s.mu.Lock()
	s.pushed = append(s.pushed, d)
	s.mu.Unlock()
	s.count.Add(1)
	return nil
}

func setupEngine(t *testing.T, handler http.Handler, dlq delivery.DLQPusher) (*memory.Store, *delivery.Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)

	store := memory.New()
	cfg := delivery.EngineConfig{
		Concurrency:  2,
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
		Sender: delivery.SenderConfig{
			Timeout:     5 * time.Second,
			ContentType: "application/json",
			UserAgent:   "dispatch/1.0",
		},
		RetrySchedule: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
	}

	engine := delivery.NewEngine(store, dlq, cfg, nil)
	return store, engine, srv
}

func createTestData(t *testing.T, store *memory.Store, url string) (*subscription.Subscription, *delivery.Delivery) {
	t.Helper()
	ctx := context.Background()

	sub := newTestSubscription(url)
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	del := newTestDelivery(sub.ID)
	del.NextRetryAt = time.Now().UTC()
	if err := store.Enqueue(ctx, del); err != nil {
		t.Fatal(err)
	}

	return sub, del
}

func waitForState(t *testing.T, store *memory.Store, del *delivery.Delivery, want delivery.State, timeout time.Duration) *delivery.Delivery {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			got, _ := store.GetDelivery(ctx, del.ID)
			t.Fatalf("timeout waiting for state %q, delivery: %+v", want, got)
		default:
		}

		got, err := store.GetDelivery(ctx, del.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.State == want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineDeliversSuccessfully(t *testing.T) {
	var hits atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	dlqPusher := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlqPusher)
	defer srv.Close()

	sub, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	got := waitForState(t, store, del, delivery.StateDelivered, 2*time.Second)
	engine.Stop(ctx)

	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
	if got.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if got.ResponseStatus != 200 {
		t.Fatalf("expected status 200, got %d", got.ResponseStatus)
	}
	if dlqPusher.count.Load() != 0 {
		t.Fatal("expected no DLQ pushes")
	}

	fresh, err := store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.SuccessCount != 1 {
		t.Fatalf("expected success count 1, got %d", fresh.SuccessCount)
	}
	if fresh.LastSuccessAt == nil {
		t.Fatal("expected LastSuccessAt to be set")
	}
}

func TestEngineRetriesAndSucceeds(t *testing.T) {
	var attempts atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	dlqPusher := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlqPusher)
	defer srv.Close()

	_, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	got := waitForState(t, store, del, delivery.StateDelivered, 5*time.Second)
	engine.Stop(ctx)

	if attempts.Load() < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", attempts.Load())
	}
	if got.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", got.RetryCount)
	}
	if dlqPusher.count.Load() != 0 {
		t.Fatal("expected no DLQ pushes")
	}
}

func TestEngineExhaustsRetriesAndFails(t *testing.T) {
	var attempts atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	dlqPusher := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlqPusher)
	defer srv.Close()

	sub, del := createTestData(t, store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	got := waitForState(t, store, del, delivery.StateFailed, 5*time.Second)
	engine.Stop(ctx)

	// MaxRetries 3 means one initial attempt plus three retries.
	if attempts.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts.Load())
	}
	if got.RetryCount != 3 {
		t.Fatalf("expected retry count 3, got %d", got.RetryCount)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if dlqPusher.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlqPusher.count.Load())
	}

	// Every failed attempt increments the counter.
	fresh, _ := store.GetSubscription(ctx, sub.ID)
	if fresh.FailureCount != 4 {
		t.Fatalf("expected failure count 4, got %d", fresh.FailureCount)
	}
	if fresh.LastFailureAt == nil {
		t.Fatal("expected LastFailureAt to be set")
	}
}

func TestEngineSkipsInactiveSubscription(t *testing.T) {
	var hits atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	dlqPusher := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlqPusher)
	defer srv.Close()

	sub, del := createTestData(t, store, srv.URL)
	sub.Status = subscription.StatusInactive
	if err := store.UpdateSubscription(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	engine.Start(ctx)
	got := waitForState(t, store, del, delivery.StateFailed, 2*time.Second)
	engine.Stop(ctx)

	if hits.Load() != 0 {
		t.Fatalf("expected no requests, got %d", hits.Load())
	}
	if got.Error != "Subscription is not active" {
		t.Fatalf("error = %q", got.Error)
	}
	if got.RetryCount != 0 {
		t.Fatal("inactive subscription must not schedule retries")
	}
	if dlqPusher.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlqPusher.count.Load())
	}
}

func TestEngineFailsDeliveryForMissingSubscription(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	dlqPusher := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlqPusher)
	defer srv.Close()

	sub, del := createTestData(t, store, srv.URL)
	if err := store.DeleteSubscription(context.Background(), sub.ID); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	engine.Start(ctx)
	got := waitForState(t, store, del, delivery.StateFailed, 2*time.Second)
	engine.Stop(ctx)

	if got.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if dlqPusher.count.Load() != 1 {
		t.Fatalf("expected 1 DLQ push, got %d", dlqPusher.count.Load())
	}
}

func TestEngineDeliversToTestingSubscription(t *testing.T) {
	var hits atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	dlqPusher := &stubDLQ{}
	store, engine, srv := setupEngine(t, handler, dlqPusher)
	defer srv.Close()

	sub, del := createTestData(t, store, srv.URL)
	sub.Status = subscription.StatusTesting
	if err := store.UpdateSubscription(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	engine.Start(ctx)
	waitForState(t, store, del, delivery.StateDelivered, 2*time.Second)
	engine.Stop(ctx)

	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
}

// flakySubStore fails subscription lookups a fixed number of times before
// delegating to the memory store.
type flakySubStore struct {
	*memory.Store
	failures atomic.Int32
}

func (s *flakySubStore) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return s.Store.GetSubscription(ctx, subID)
}

func TestEngineReleasesClaimOnSubscriptionLookupError(t *testing.T) {
	var hits atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	store := &flakySubStore{Store: memory.New()}
	store.failures.Store(2)

	cfg := delivery.EngineConfig{
		Concurrency:  2,
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
		Sender: delivery.SenderConfig{
			Timeout:     5 * time.Second,
			ContentType: "application/json",
			UserAgent:   "dispatch/1.0",
		},
		RetrySchedule: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
	}
	engine := delivery.NewEngine(store, &stubDLQ{}, cfg, nil)

	_, del := createTestData(t, store.Store, srv.URL)

	ctx := context.Background()
	engine.Start(ctx)
	got := waitForState(t, store.Store, del, delivery.StateDelivered, 2*time.Second)
	engine.Stop(ctx)

	// The two failed lookups must not wedge the claim or burn attempts.
	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
	if got.RetryCount != 0 {
		t.Fatalf("lookup errors must not consume attempts, retry count %d", got.RetryCount)
	}
}
