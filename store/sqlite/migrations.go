package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the CreditLedger store.
var Migrations = migrate.NewGroup("creditledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_creditledger_accounts",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_accounts (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    balance        INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    frozen_balance INTEGER NOT NULL DEFAULT 0 CHECK (frozen_balance >= 0 AND frozen_balance <= balance),
    total_earned   INTEGER NOT NULL DEFAULT 0,
    total_spent    INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_creditledger_accounts_user ON creditledger_accounts (user_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_creditledger_transactions",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_transactions (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    type          TEXT NOT NULL,
    amount        INTEGER NOT NULL CHECK (amount > 0),
    balance_after INTEGER NOT NULL DEFAULT 0,
    source        TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    reference_id  TEXT NOT NULL,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_creditledger_txns_reference ON creditledger_transactions (reference_id);
CREATE INDEX IF NOT EXISTS idx_creditledger_txns_user ON creditledger_transactions (user_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_transactions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_creditledger_subscriptions",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_subscriptions (
    id                     TEXT PRIMARY KEY,
    user_id                TEXT NOT NULL,
    provider               TEXT NOT NULL,
    subscription_id        TEXT NOT NULL,
    customer_id            TEXT NOT NULL DEFAULT '',
    plan_slug              TEXT NOT NULL DEFAULT '',
    product_id             TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL DEFAULT 'incomplete',
    billing_interval       TEXT NOT NULL DEFAULT 'month',
    period_start           TIMESTAMP,
    period_end             TIMESTAMP,
    cancel_at_period_end   INTEGER NOT NULL DEFAULT 0,
    canceled_at            TIMESTAMP,
    scheduled_plan_slug    TEXT NOT NULL DEFAULT '',
    scheduled_interval     TEXT NOT NULL DEFAULT '',
    scheduled_period_start TIMESTAMP,
    scheduled_period_end   TIMESTAMP,
    scheduled_at           TIMESTAMP,
    metadata               TEXT NOT NULL DEFAULT '{}',
    created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_creditledger_subs_provider ON creditledger_subscriptions (provider, subscription_id);
CREATE INDEX IF NOT EXISTS idx_creditledger_subs_user ON creditledger_subscriptions (user_id, status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_creditledger_plans",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_plans (
    id                  TEXT PRIMARY KEY,
    slug                TEXT NOT NULL,
    name                TEXT NOT NULL DEFAULT '',
    description         TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL DEFAULT 'draft',
    monthly_credits     INTEGER NOT NULL DEFAULT 0,
    yearly_credits      INTEGER NOT NULL DEFAULT 0,
    monthly_price_cents INTEGER NOT NULL DEFAULT 0,
    monthly_currency    TEXT NOT NULL DEFAULT '',
    yearly_price_cents  INTEGER NOT NULL DEFAULT 0,
    yearly_currency     TEXT NOT NULL DEFAULT '',
    metadata            TEXT NOT NULL DEFAULT '{}',
    created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_creditledger_plans_slug ON creditledger_plans (slug);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "add_single_active_subscription_guard",
			Version: "20240101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE UNIQUE INDEX IF NOT EXISTS idx_creditledger_subs_single_active
    ON creditledger_subscriptions (user_id)
    WHERE status IN ('active', 'trialing', 'past_due');
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP INDEX IF EXISTS idx_creditledger_subs_single_active`)
				return err
			},
		},
	)
}
