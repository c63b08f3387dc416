// Package dispatch provides an embeddable webhook delivery engine for Go.
//
// Dispatch is a library, not a service. Import it into your application to
// get a registry of event types, per-subscriber webhook subscriptions with
// payload filters, at-least-once delivery with signed requests, bounded
// retries with a dead letter queue, and manual replay.
//
// Key pieces:
//   - An append-only event type registry with JSON Schema payload validation
//   - Subscriptions with dot-path payload filters and a coarse-TTL match cache
//   - Authentication schemes per subscription: basic, bearer, OAuth2 token,
//     or HMAC-SHA256 request signing
//   - A poll-driven worker engine with scheduled backoff retries
//   - Composable store backends (Postgres, Redis, Memory)
//
// Quick start:
//
//	d, err := dispatch.New(
//	    dispatch.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d.RegisterEventType(ctx, registry.Definition{
//	    Name:     "patient.created",
//	    Category: "patient",
//	})
//
//	d.Subscriptions().Create(ctx, subscription.Input{
//	    SubscriberID: "practice_123",
//	    EndpointURL:  "https://example.com/hooks",
//	    Events:       []string{"patient.created"},
//	})
//
//	d.Start(ctx)
//	defer d.Stop(ctx)
//
//	d.Trigger(ctx, "patient.created", map[string]any{"patient_id": "p_01h..."}, nil)
package dispatch
