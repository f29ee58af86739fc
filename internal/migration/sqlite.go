package migration

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the postgres migrations for local runs on DB_TYPE=sqlite
// and for package tests. Keep both in step.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		account_id TEXT,
		payload TEXT NOT NULL,
		event_created_at DATETIME,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		attempts INTEGER NOT NULL DEFAULT 0,
		locked_until DATETIME,
		last_error TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_webhook_events_provider_event ON webhook_events (provider, provider_event_id)`,
	`CREATE TABLE IF NOT EXISTS plans (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		monthly_price BIGINT NOT NULL DEFAULT 0,
		yearly_price BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'usd',
		features TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGINT PRIMARY KEY,
		practitioner_id BIGINT NOT NULL,
		plan_id BIGINT NOT NULL,
		billing_cycle TEXT NOT NULL,
		status TEXT NOT NULL,
		external_subscription_id TEXT NOT NULL UNIQUE,
		external_customer_id TEXT,
		current_period_start DATETIME,
		current_period_end DATETIME,
		trial_end DATETIME,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		last_event_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_live_practitioner ON subscriptions (practitioner_id)
		WHERE status IN ('trialing', 'active', 'past_due', 'incomplete')`,
	`CREATE TABLE IF NOT EXISTS invoice_sequences (
		scope TEXT PRIMARY KEY,
		last_value BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS platform_invoices (
		id BIGINT PRIMARY KEY,
		subscription_id BIGINT,
		practitioner_id BIGINT NOT NULL,
		invoice_number TEXT NOT NULL UNIQUE,
		subtotal_amount BIGINT NOT NULL DEFAULT 0,
		tax_amount BIGINT NOT NULL DEFAULT 0,
		total_amount BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		invoice_date DATETIME NOT NULL,
		paid_at DATETIME,
		external_invoice_id TEXT NOT NULL UNIQUE,
		hosted_invoice_url TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS billing_settings (
		practitioner_id BIGINT PRIMARY KEY,
		practitioner_name TEXT NOT NULL DEFAULT '',
		reply_to_email TEXT,
		reminders_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		reminder_offsets TEXT NOT NULL DEFAULT '[7,15,30]',
		reminder_templates TEXT NOT NULL DEFAULT '{}',
		connected_account_id TEXT,
		charges_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		details_submitted BOOLEAN NOT NULL DEFAULT FALSE,
		onboarding_completed BOOLEAN NOT NULL DEFAULT FALSE,
		connected_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_billing_settings_connected_account ON billing_settings (connected_account_id)
		WHERE connected_account_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS consultation_invoices (
		id BIGINT PRIMARY KEY,
		practitioner_id BIGINT NOT NULL,
		invoice_number TEXT NOT NULL UNIQUE,
		consultation_id BIGINT,
		recipient_id BIGINT NOT NULL,
		recipient_name TEXT NOT NULL,
		recipient_email TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL CHECK (amount > 0),
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		issued_at DATETIME,
		due_at DATETIME,
		paid_at DATETIME,
		cancelled_at DATETIME,
		overdue_at DATETIME,
		external_payment_id TEXT,
		checkout_session_id TEXT,
		checkout_url TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_consultation_invoices_consultation ON consultation_invoices (consultation_id)
		WHERE consultation_id IS NOT NULL AND status <> 'cancelled'`,
	`CREATE TABLE IF NOT EXISTS reminder_queue (
		id BIGINT PRIMARY KEY,
		invoice_id BIGINT NOT NULL,
		practitioner_id BIGINT NOT NULL,
		offset_days INTEGER NOT NULL CHECK (offset_days IN (7, 15, 30)),
		scheduled_for DATETIME NOT NULL,
		sent BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at DATETIME,
		error_detail TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		claimed_by TEXT,
		lease_expires_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_reminder_queue_invoice_offset ON reminder_queue (invoice_id, offset_days)`,
	`CREATE TABLE IF NOT EXISTS billing_history (
		id BIGINT PRIMARY KEY,
		practitioner_id BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		subscription_id BIGINT,
		invoice_id BIGINT,
		invoice_kind TEXT,
		source_event_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TRIGGER IF NOT EXISTS trg_billing_history_no_update BEFORE UPDATE ON billing_history
		BEGIN SELECT RAISE(ABORT, 'billing_history is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS trg_billing_history_no_delete BEFORE DELETE ON billing_history
		BEGIN SELECT RAISE(ABORT, 'billing_history is append-only'); END`,
	`CREATE TABLE IF NOT EXISTS outbox_messages (
		id BIGINT PRIMARY KEY,
		topic TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		available_at DATETIME NOT NULL,
		claimed_by TEXT,
		lease_expires_at DATETIME,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		sent_at DATETIME
	)`,
	`INSERT INTO plans (id, name, display_name, monthly_price, yearly_price, currency, features) VALUES
		(1, 'starter', 'Starter', 2900, 29000, 'usd', '{"consultation_invoices": true, "reminders": true}'),
		(2, 'professional', 'Professional', 7900, 79000, 'usd', '{"consultation_invoices": true, "reminders": true, "custom_templates": true}')
		ON CONFLICT (name) DO NOTHING`,
}

// ApplySQLite creates the schema on a sqlite connection.
func ApplySQLite(db *gorm.DB) error {
	for _, stmt := range sqliteSchema {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return line
}
