package dispatch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/careops/dispatch"
	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/event"
	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/registry"
	"github.com/careops/dispatch/store/memory"
	"github.com/careops/dispatch/subscription"
)

func ctx() context.Context { return context.Background() }

func setup(t *testing.T, opts ...dispatch.Option) (*dispatch.Dispatcher, *memory.Store) {
	t.Helper()
	s := memory.New()
	d, err := dispatch.New(append([]dispatch.Option{dispatch.WithStore(s)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return d, s
}

func registerEvent(t *testing.T, d *dispatch.Dispatcher, name string) {
	t.Helper()
	if _, err := d.RegisterEventType(ctx(), registry.Definition{Name: name}); err != nil {
		t.Fatal(err)
	}
}

func createSubscription(t *testing.T, d *dispatch.Dispatcher, in subscription.Input) *subscription.Subscription {
	t.Helper()
	if in.SubscriberID == "" {
		in.SubscriberID = "practice-1"
	}
	if in.EndpointURL == "" {
		in.EndpointURL = "https://example.com/hooks"
	}
	sub, err := d.Subscriptions().Create(ctx(), in)
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

// waitForEventState polls the store until the event's single delivery
// reaches the wanted state, or fails the test after the timeout.
func waitForEventState(t *testing.T, s *memory.Store, evtID id.ID, want delivery.State, timeout time.Duration) *delivery.Delivery {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ds, err := s.ListByEvent(ctx(), evtID)
		if err != nil {
			t.Fatal(err)
		}
		if len(ds) == 1 && ds[0].State == want {
			return ds[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("delivery for event %s never reached state %q", evtID, want)
	return nil
}

func TestTriggerFansOutWithSharedEventID(t *testing.T) {
	d, s := setup(t)
	registerEvent(t, d, "patient.created")

	createSubscription(t, d, subscription.Input{Events: []string{"patient.created"}})
	createSubscription(t, d, subscription.Input{
		SubscriberID: "practice-2",
		Events:       []string{"patient.created"},
	})

	evt, err := d.Trigger(ctx(), "patient.created", map[string]any{"patient_id": "p-1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if evt == nil || evt.ID.String() == "" {
		t.Fatal("expected a persisted event")
	}

	ds, err := s.ListByEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(ds))
	}
	for _, del := range ds {
		if del.EventID != evt.ID {
			t.Fatal("deliveries must share the trigger's event ID")
		}
		if del.State != delivery.StatePending {
			t.Fatalf("expected pending state, got %q", del.State)
		}
		if del.RetryCount != 0 {
			t.Fatal("new deliveries start with zero retries")
		}
	}
	if ds[0].SubscriptionID == ds[1].SubscriptionID {
		t.Fatal("each matched subscription gets its own delivery")
	}
}

func TestTriggerUnknownEvent(t *testing.T) {
	d, _ := setup(t)

	_, err := d.Trigger(ctx(), "never.registered", map[string]any{}, nil)
	if !errors.Is(err, dispatch.ErrEventTypeNotFound) {
		t.Fatalf("expected ErrEventTypeNotFound, got %v", err)
	}
}

func TestTriggerNoSubscriptionsNoSideEffects(t *testing.T) {
	d, s := setup(t)
	registerEvent(t, d, "patient.created")

	evt, err := d.Trigger(ctx(), "patient.created", map[string]any{"a": 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if evt != nil {
		t.Fatal("expected no event when nothing is subscribed")
	}

	events, err := s.ListEvents(ctx(), event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no persisted events, got %d", len(events))
	}
}

func TestTriggerFiltersSelectSubscriptions(t *testing.T) {
	d, s := setup(t)
	registerEvent(t, d, "claim.updated")

	matched := createSubscription(t, d, subscription.Input{
		Events:  []string{"claim.updated"},
		Filters: map[string]any{"status": "denied"},
	})
	createSubscription(t, d, subscription.Input{
		SubscriberID: "practice-2",
		Events:       []string{"claim.updated"},
		Filters:      map[string]any{"status": "approved"},
	})

	evt, err := d.Trigger(ctx(), "claim.updated", map[string]any{"status": "denied"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ds, err := s.ListByEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(ds))
	}
	if ds[0].SubscriptionID != matched.ID {
		t.Fatal("delivery created for the wrong subscription")
	}
}

func TestTriggerAllFilteredOutNoSideEffects(t *testing.T) {
	d, s := setup(t)
	registerEvent(t, d, "claim.updated")

	createSubscription(t, d, subscription.Input{
		Events:  []string{"claim.updated"},
		Filters: map[string]any{"status": "denied"},
	})

	evt, err := d.Trigger(ctx(), "claim.updated", map[string]any{"status": "approved"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if evt != nil {
		t.Fatal("expected no event when every filter fails")
	}

	count, err := s.CountPending(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected no deliveries, got %d", count)
	}
}

func TestTriggerValidatesPayloadSchema(t *testing.T) {
	d, _ := setup(t)

	schema := []byte(`{
		"type": "object",
		"required": ["patient_id"],
		"properties": {"patient_id": {"type": "string"}}
	}`)
	if _, err := d.RegisterEventType(ctx(), registry.Definition{
		Name:   "patient.created",
		Schema: schema,
	}); err != nil {
		t.Fatal(err)
	}
	createSubscription(t, d, subscription.Input{Events: []string{"patient.created"}})

	_, err := d.Trigger(ctx(), "patient.created", map[string]any{"wrong": true}, nil)
	if !errors.Is(err, dispatch.ErrPayloadValidationFailed) {
		t.Fatalf("expected ErrPayloadValidationFailed, got %v", err)
	}

	if _, err := d.Trigger(ctx(), "patient.created", map[string]any{"patient_id": "p-1"}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestTriggerValidatesStructPayload(t *testing.T) {
	d, _ := setup(t)

	schema := []byte(`{
		"type": "object",
		"required": ["patient_id"],
		"properties": {"patient_id": {"type": "string"}}
	}`)
	if _, err := d.RegisterEventType(ctx(), registry.Definition{
		Name:   "patient.created",
		Schema: schema,
	}); err != nil {
		t.Fatal(err)
	}
	createSubscription(t, d, subscription.Input{Events: []string{"patient.created"}})

	type patientCreated struct {
		PatientID string `json:"patient_id"`
		FirstName string `json:"first_name,omitempty"`
	}

	// Struct payloads are validated on their JSON form, same as maps.
	if _, err := d.Trigger(ctx(), "patient.created", patientCreated{PatientID: "p-1"}, nil); err != nil {
		t.Fatal(err)
	}

	type note struct {
		Text string `json:"text"`
	}
	if _, err := d.Trigger(ctx(), "patient.created", note{Text: "missing id"}, nil); !errors.Is(err, dispatch.ErrPayloadValidationFailed) {
		t.Fatalf("expected ErrPayloadValidationFailed, got %v", err)
	}
}

// faultStore wraps the memory store and fails event type lookups on demand.
type faultStore struct {
	*memory.Store
	typeErr error
}

func (s *faultStore) GetEventType(ctx context.Context, name string) (*registry.Event, error) {
	if s.typeErr != nil {
		return nil, s.typeErr
	}
	return s.Store.GetEventType(ctx, name)
}

func TestTriggerStoreErrorIsNotUnknownEvent(t *testing.T) {
	fs := &faultStore{Store: memory.New(), typeErr: errors.New("connection refused")}
	d, err := dispatch.New(dispatch.WithStore(fs))
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.Trigger(ctx(), "patient.created", map[string]any{"patient_id": "p-1"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, dispatch.ErrEventTypeNotFound) {
		t.Fatalf("store failure reported as unknown event: %v", err)
	}
	if !errors.Is(err, fs.typeErr) {
		t.Fatalf("expected the store error to surface, got %v", err)
	}
}

func TestTriggerSkipsInactiveSubscriptions(t *testing.T) {
	d, s := setup(t)
	registerEvent(t, d, "patient.created")

	sub := createSubscription(t, d, subscription.Input{Events: []string{"patient.created"}})
	if _, err := d.Subscriptions().Update(ctx(), sub.ID, subscription.Input{
		Status: subscription.StatusInactive,
	}); err != nil {
		t.Fatal(err)
	}

	evt, err := d.Trigger(ctx(), "patient.created", map[string]any{"a": 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if evt != nil {
		t.Fatal("inactive subscription must not be matched")
	}

	count, _ := s.CountPending(ctx())
	if count != 0 {
		t.Fatalf("expected no deliveries, got %d", count)
	}
}

func TestEndToEndDelivery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Event-Name") != "patient.created" {
			t.Error("missing X-Event-Name header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, s := setup(t, dispatch.WithPollInterval(20*time.Millisecond))
	registerEvent(t, d, "patient.created")
	createSubscription(t, d, subscription.Input{
		Events:      []string{"patient.created"},
		EndpointURL: srv.URL,
	})

	d.Start(ctx())
	defer d.Stop(ctx())

	evt, err := d.Trigger(ctx(), "patient.created", map[string]any{"patient_id": "p-1"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	waitForEventState(t, s, evt.ID, delivery.StateDelivered, 2*time.Second)

	if hits.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", hits.Load())
	}
}

func TestEndToEndRetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, s := setup(t,
		dispatch.WithPollInterval(20*time.Millisecond),
		dispatch.WithMaxRetries(2),
		dispatch.WithRetrySchedule([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}),
	)
	registerEvent(t, d, "claim.denied")
	createSubscription(t, d, subscription.Input{
		Events:      []string{"claim.denied"},
		EndpointURL: srv.URL,
	})

	d.Start(ctx())
	defer d.Stop(ctx())

	evt, err := d.Trigger(ctx(), "claim.denied", map[string]any{"claim_id": "c-7"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	del := waitForEventState(t, s, evt.ID, delivery.StateFailed, 5*time.Second)

	// One initial attempt plus two retries.
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
	if del.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", del.RetryCount)
	}

	// Exhaustion lands the delivery in the DLQ.
	count, err := d.DLQ().Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", count)
	}
}

func TestRetryDeliveryManualOverride(t *testing.T) {
	d, s := setup(t)
	registerEvent(t, d, "patient.created")
	sub := createSubscription(t, d, subscription.Input{Events: []string{"patient.created"}})

	evt, err := d.Trigger(ctx(), "patient.created", map[string]any{"a": 1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ds, _ := s.ListByEvent(ctx(), evt.ID)
	if len(ds) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(ds))
	}
	del := ds[0]

	// Exhaust the delivery by hand.
	del.State = delivery.StateFailed
	del.RetryCount = 3
	now := time.Now().UTC()
	del.CompletedAt = &now
	if err := s.UpdateDelivery(ctx(), del); err != nil {
		t.Fatal(err)
	}

	if err := d.RetryDelivery(ctx(), del.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx(), del.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != delivery.StatePending {
		t.Fatalf("expected pending, got %q", got.State)
	}
	if got.RetryCount != 4 {
		t.Fatalf("expected retry count 4, got %d", got.RetryCount)
	}
	if got.CompletedAt != nil {
		t.Fatal("expected CompletedAt cleared")
	}
	if got.NextRetryAt.After(time.Now().UTC().Add(time.Second)) {
		t.Fatal("manual retry must be due immediately")
	}
	_ = sub
}

func TestRetryDeliveryNotFound(t *testing.T) {
	d, _ := setup(t)
	registerEvent(t, d, "patient.created")
	sub := createSubscription(t, d, subscription.Input{Events: []string{"patient.created"}})
	_ = sub

	err := d.RetryDelivery(ctx(), id.NewDeliveryID())
	if !errors.Is(err, dispatch.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := dispatch.New()
	if !errors.Is(err, dispatch.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestSubscriptionChangeInvalidatesCache(t *testing.T) {
	d, s := setup(t)
	registerEvent(t, d, "patient.created")
	sub := createSubscription(t, d, subscription.Input{Events: []string{"patient.created"}})

	// Warm the cache.
	if _, err := d.Trigger(ctx(), "patient.created", map[string]any{"a": 1}, nil); err != nil {
		t.Fatal(err)
	}

	// Pause the subscription through the service; the next trigger must
	// observe it even though the cache TTL has not elapsed.
	if _, err := d.Subscriptions().Update(ctx(), sub.ID, subscription.Input{
		Status: subscription.StatusInactive,
	}); err != nil {
		t.Fatal(err)
	}

	evt, err := d.Trigger(ctx(), "patient.created", map[string]any{"a": 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if evt != nil {
		t.Fatal("paused subscription served from a stale cache")
	}

	before, _ := s.CountPending(ctx())
	if before != 1 {
		t.Fatalf("expected only the pre-pause delivery, got %d", before)
	}
}
