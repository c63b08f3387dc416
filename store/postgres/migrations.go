package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the dispatch store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
var Migrations = migrate.NewGroup("dispatch")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_dispatch_event_types",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS dispatch_event_types (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    category    TEXT NOT NULL DEFAULT '',
    schema      JSONB,
    version     TEXT NOT NULL DEFAULT '',
    example     JSONB,
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_dispatch_event_types_category ON dispatch_event_types (category);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS dispatch_event_types`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_dispatch_subscriptions",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS dispatch_subscriptions (
    id              TEXT PRIMARY KEY,
    subscriber_id   TEXT NOT NULL DEFAULT '',
    subscriber_type TEXT NOT NULL DEFAULT '',
    name            TEXT NOT NULL DEFAULT '',
    events          TEXT[] NOT NULL DEFAULT '{}',
    endpoint_url    TEXT NOT NULL DEFAULT '',
    content_type    TEXT NOT NULL DEFAULT '',
    headers         JSONB NOT NULL DEFAULT '{}',
    security_scheme TEXT NOT NULL DEFAULT '',
    security_key    TEXT NOT NULL DEFAULT '',
    security_config JSONB NOT NULL DEFAULT '{}',
    filters         JSONB,
    status          TEXT NOT NULL DEFAULT 'active',
    timeout_ms      BIGINT NOT NULL DEFAULT 0,
    max_retries     INT NOT NULL DEFAULT 0,
    rate_limit      INT NOT NULL DEFAULT 0,
    success_count   BIGINT NOT NULL DEFAULT 0,
    failure_count   BIGINT NOT NULL DEFAULT 0,
    last_success_at TIMESTAMPTZ,
    last_failure_at TIMESTAMPTZ,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_dispatch_subscriptions_subscriber ON dispatch_subscriptions (subscriber_id);
CREATE INDEX IF NOT EXISTS idx_dispatch_subscriptions_status ON dispatch_subscriptions (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS dispatch_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_dispatch_events",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS dispatch_events (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    payload    JSONB,
    metadata   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_dispatch_events_name ON dispatch_events (name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS dispatch_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_dispatch_deliveries",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS dispatch_deliveries (
    id               TEXT PRIMARY KEY,
    subscription_id  TEXT NOT NULL DEFAULT '',
    event_id         TEXT NOT NULL DEFAULT '',
    event_name       TEXT NOT NULL DEFAULT '',
    state            TEXT NOT NULL DEFAULT 'pending',
    payload          JSONB,
    request_headers  JSONB NOT NULL DEFAULT '{}',
    response_status  INT NOT NULL DEFAULT 0,
    response_body    TEXT NOT NULL DEFAULT '',
    response_headers JSONB NOT NULL DEFAULT '{}',
    responded_at     TIMESTAMPTZ,
    duration_ms      INT NOT NULL DEFAULT 0,
    retry_count      INT NOT NULL DEFAULT 0,
    max_retries      INT NOT NULL DEFAULT 0,
    next_retry_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    error            TEXT NOT NULL DEFAULT '',
    error_detail     TEXT NOT NULL DEFAULT '',
    claimed_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_dispatch_deliveries_due ON dispatch_deliveries (next_retry_at) WHERE state IN ('pending', 'retry');
CREATE INDEX IF NOT EXISTS idx_dispatch_deliveries_event ON dispatch_deliveries (event_id);
CREATE INDEX IF NOT EXISTS idx_dispatch_deliveries_subscription ON dispatch_deliveries (subscription_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS dispatch_deliveries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_dispatch_dlq",
			Version: "20250301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS dispatch_dlq (
    id               TEXT PRIMARY KEY,
    delivery_id      TEXT NOT NULL DEFAULT '',
    event_id         TEXT NOT NULL DEFAULT '',
    subscription_id  TEXT NOT NULL DEFAULT '',
    event_name       TEXT NOT NULL DEFAULT '',
    subscriber_id    TEXT NOT NULL DEFAULT '',
    endpoint_url     TEXT NOT NULL DEFAULT '',
    payload          JSONB,
    error            TEXT NOT NULL DEFAULT '',
    retry_count      INT NOT NULL DEFAULT 0,
    last_status_code INT NOT NULL DEFAULT 0,
    replayed_at      TIMESTAMPTZ,
    failed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_dispatch_dlq_subscriber ON dispatch_dlq (subscriber_id);
CREATE INDEX IF NOT EXISTS idx_dispatch_dlq_failed_at ON dispatch_dlq (failed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS dispatch_dlq`)
				return err
			},
		},
	)
}
