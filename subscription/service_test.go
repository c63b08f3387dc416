package subscription_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/careops/dispatch/registry"
	"github.com/careops/dispatch/security"
	"github.com/careops/dispatch/store/memory"
	"github.com/careops/dispatch/subscription"
)

func ctx() context.Context { return context.Background() }

func newService(t *testing.T) (*subscription.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	reg := registry.New(store, nil)
	for _, name := range []string{"patient.created", "patient.updated", "claim.denied"} {
		if _, err := reg.Register(ctx(), registry.Definition{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	cache := subscription.NewCache(store, time.Minute)
	return subscription.NewService(store, reg, cache, nil), store
}

func validInput() subscription.Input {
	return subscription.Input{
		SubscriberID: "practice-1",
		Name:         "main hook",
		Events:       []string{"patient.created"},
		EndpointURL:  "https://example.com/hooks",
	}
}

func TestCreateDefaults(t *testing.T) {
	svc, _ := newService(t)

	sub, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if sub.ID.String() == "" {
		t.Fatal("expected an ID")
	}
	if sub.Status != subscription.StatusActive {
		t.Fatalf("expected active status, got %q", sub.Status)
	}
}

func TestCreateGeneratesHMACSecret(t *testing.T) {
	svc, _ := newService(t)

	in := validInput()
	in.SecurityScheme = security.SchemeHMAC

	sub, err := svc.Create(ctx(), in)
	if err != nil {
		t.Fatal(err)
	}
	if sub.SecurityKey == "" {
		t.Fatal("expected an auto-generated secret")
	}
	if !strings.HasPrefix(sub.SecurityKey, "whsec_") {
		t.Fatalf("secret prefix: got %q", sub.SecurityKey)
	}
}

func TestCreateRejectsUnregisteredEvent(t *testing.T) {
	svc, _ := newService(t)

	in := validInput()
	in.Events = []string{"does.not.exist"}

	_, err := svc.Create(ctx(), in)
	var verr *subscription.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "events" {
		t.Fatalf("field: got %q", verr.Field)
	}
}

func TestCreateRejectsBadURL(t *testing.T) {
	svc, _ := newService(t)

	in := validInput()
	in.EndpointURL = "not a url"

	_, err := svc.Create(ctx(), in)
	var verr *subscription.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateRejectsUnknownScheme(t *testing.T) {
	svc, _ := newService(t)

	in := validInput()
	in.SecurityScheme = "kerberos"

	_, err := svc.Create(ctx(), in)
	var verr *subscription.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "security_scheme" {
		t.Fatalf("field: got %q", verr.Field)
	}
}

func TestUpdatePartial(t *testing.T) {
	svc, _ := newService(t)

	sub, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Update(ctx(), sub.ID, subscription.Input{
		Events: []string{"patient.updated", "claim.denied"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Events) != 2 {
		t.Fatalf("events not updated: %v", got.Events)
	}
	if got.EndpointURL != "https://example.com/hooks" {
		t.Fatal("untouched field changed")
	}
	if got.Name != "main hook" {
		t.Fatal("untouched field changed")
	}
}

func TestUpdateNotFound(t *testing.T) {
	svc, _ := newService(t)

	sub, _ := svc.Create(ctx(), validInput())
	if err := svc.Delete(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Update(ctx(), sub.ID, subscription.Input{Name: "x"})
	if !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	svc, _ := newService(t)

	if _, err := svc.Create(ctx(), validInput()); err != nil {
		t.Fatal(err)
	}
	other := validInput()
	other.SubscriberID = "practice-2"
	if _, err := svc.Create(ctx(), other); err != nil {
		t.Fatal(err)
	}

	subs, err := svc.List(ctx(), "practice-1", subscription.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
}

func TestRotateSecret(t *testing.T) {
	svc, store := newService(t)

	in := validInput()
	in.SecurityScheme = security.SchemeHMAC
	sub, err := svc.Create(ctx(), in)
	if err != nil {
		t.Fatal(err)
	}
	old := sub.SecurityKey

	rotated, err := svc.RotateSecret(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated == old {
		t.Fatal("secret did not change")
	}

	fresh, err := store.GetSubscription(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.SecurityKey != rotated {
		t.Fatal("rotated secret not persisted")
	}
}

func TestSubscribedExactMembership(t *testing.T) {
	sub := &subscription.Subscription{Events: []string{"patient.created"}}

	if !sub.Subscribed("patient.created") {
		t.Fatal("exact name must match")
	}
	if sub.Subscribed("patient.updated") {
		t.Fatal("different name must not match")
	}
	if sub.Subscribed("patient.*") {
		t.Fatal("no pattern semantics")
	}
}
