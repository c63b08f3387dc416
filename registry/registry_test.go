package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/careops/dispatch/registry"
	"github.com/careops/dispatch/store/memory"
)

func ctx() context.Context { return context.Background() }

func newRegistry() *registry.Registry {
	return registry.New(memory.New(), nil)
}

func TestRegisterAndGet(t *testing.T) {
	r := newRegistry()

	et, err := r.Register(ctx(), registry.Definition{
		Name:        "patient.created",
		Category:    "patient",
		Description: "Patient record created",
	})
	if err != nil {
		t.Fatal(err)
	}
	if et.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}

	got, err := r.Get(ctx(), "patient.created")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Category != "patient" {
		t.Fatalf("got category %q", got.Definition.Category)
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	r := newRegistry()

	if _, err := r.Register(ctx(), registry.Definition{Name: "claim.denied", Category: "claim"}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Register(ctx(), registry.Definition{Name: "claim.denied", Category: "claim"})
	if !errors.Is(err, registry.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	r := newRegistry()

	_, err := r.Get(ctx(), "does.not.exist")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheHit(t *testing.T) {
	r := newRegistry()

	if _, err := r.Register(ctx(), registry.Definition{Name: "a.event"}); err != nil {
		t.Fatal(err)
	}

	// First call populates cache.
	got1, _ := r.Get(ctx(), "a.event")
	// Second call should return same pointer (cache hit).
	got2, _ := r.Get(ctx(), "a.event")

	if got1 != got2 {
		t.Fatal("expected cache hit (same pointer)")
	}
}

func TestHasEvent(t *testing.T) {
	r := newRegistry()

	if _, err := r.Register(ctx(), registry.Definition{Name: "encounter.closed", Category: "encounter"}); err != nil {
		t.Fatal(err)
	}

	known, err := r.HasEvent(ctx(), "encounter.closed")
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Fatal("expected registered event to be known")
	}

	known, err = r.HasEvent(ctx(), "encounter.reopened")
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Fatal("expected unregistered event to be unknown")
	}
}

func TestListOrderedByCategoryThenName(t *testing.T) {
	r := newRegistry()

	for _, def := range []registry.Definition{
		{Name: "patient.updated", Category: "patient"},
		{Name: "claim.submitted", Category: "claim"},
		{Name: "patient.created", Category: "patient"},
		{Name: "claim.denied", Category: "claim"},
	} {
		if _, err := r.Register(ctx(), def); err != nil {
			t.Fatal(err)
		}
	}

	events, err := r.List(ctx(), registry.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"claim.denied", "claim.submitted", "patient.created", "patient.updated"}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, name := range want {
		if events[i].Definition.Name != name {
			t.Fatalf("position %d: expected %q, got %q", i, name, events[i].Definition.Name)
		}
	}
}

func TestListFilterByCategory(t *testing.T) {
	r := newRegistry()

	for _, def := range []registry.Definition{
		{Name: "patient.created", Category: "patient"},
		{Name: "claim.denied", Category: "claim"},
	} {
		if _, err := r.Register(ctx(), def); err != nil {
			t.Fatal(err)
		}
	}

	events, err := r.List(ctx(), registry.ListOpts{Category: "claim"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Definition.Name != "claim.denied" {
		t.Fatalf("unexpected result: %+v", events)
	}
}
