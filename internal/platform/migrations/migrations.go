// Package migrations applies the loyalty schema. Statements are idempotent
// and run in order at startup when postgres is configured.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS loyalty_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		rule_type TEXT NOT NULL CHECK (rule_type IN ('earn_percentage', 'earn_fixed', 'redeem_discount', 'redeem_item')),
		location_id TEXT NOT NULL DEFAULT '',
		points_per_dollar DOUBLE PRECISION NOT NULL DEFAULT 0,
		fixed_points BIGINT NOT NULL DEFAULT 0,
		min_purchase_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		redemption_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL DEFAULT 0,
		start_date TIMESTAMPTZ,
		end_date TIMESTAMPTZ,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customer_loyalty_balances (
		customer_id TEXT PRIMARY KEY,
		total_points BIGINT NOT NULL DEFAULT 0 CHECK (total_points >= 0),
		lifetime_earned BIGINT NOT NULL DEFAULT 0,
		lifetime_redeemed BIGINT NOT NULL DEFAULT 0,
		tier TEXT NOT NULL DEFAULT 'bronze' CHECK (tier IN ('bronze', 'silver', 'gold', 'platinum')),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loyalty_transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		tx_type TEXT NOT NULL CHECK (tx_type IN ('earn', 'redeem', 'adjustment', 'expire')),
		points BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loyalty_transactions_customer_created
		ON loyalty_transactions (customer_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_loyalty_transactions_customer_order
		ON loyalty_transactions (customer_id, order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_loyalty_rules_type_active
		ON loyalty_rules (rule_type, active)`,
}

// Apply runs all schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
