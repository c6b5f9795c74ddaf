package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the outbox store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
var Migrations = migrate.NewGroup("outbox")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_outbox_records",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS outbox_records (
    id              TEXT PRIMARY KEY,
    action          TEXT NOT NULL,
    priority        TEXT NOT NULL,
    priority_rank   INT NOT NULL DEFAULT 3,
    payload         JSONB NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempt_count   INT NOT NULL DEFAULT 0,
    max_attempts    INT NOT NULL DEFAULT 3,
    last_error      TEXT NOT NULL DEFAULT '',
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    idempotency_key TEXT NOT NULL,
    external_id     TEXT NOT NULL DEFAULT '',
    metadata        JSONB NOT NULL DEFAULT '{}',
    replay_of       TEXT NOT NULL DEFAULT '',
    completed_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT outbox_records_attempts_check CHECK (attempt_count <= max_attempts)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_records_idempotency ON outbox_records (action, idempotency_key);
CREATE INDEX IF NOT EXISTS idx_outbox_records_due ON outbox_records (status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_outbox_records_stale ON outbox_records (status, updated_at);
CREATE INDEX IF NOT EXISTS idx_outbox_records_created ON outbox_records (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS outbox_records`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_outbox_opt_outs",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS outbox_opt_outs (
    phone       TEXT PRIMARY KEY,
    opted_out   BOOLEAN NOT NULL DEFAULT TRUE,
    keyword     TEXT NOT NULL DEFAULT '',
    message_id  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS outbox_opt_outs`)
				return err
			},
		},
	)
}
