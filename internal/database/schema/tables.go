// Package schema holds the engine's table definitions. The authoring system
// owns the automations table content; the engine owns the rest.
package schema

// TableDefinitions contains the queries creating the engine's tables
var TableDefinitions = []string{
	`CREATE TABLE IF NOT EXISTS automations (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'draft',
		trigger_type VARCHAR(20) NOT NULL,
		trigger JSONB NOT NULL,
		conditions JSONB,
		steps JSONB NOT NULL,
		delay_minutes INTEGER NOT NULL DEFAULT 0,
		delay_type VARCHAR(30) NOT NULL DEFAULT 'immediate',
		time_of_day VARCHAR(5),
		max_executions INTEGER,
		cooldown_hours DOUBLE PRECISION,
		cancel_pending_on_pause BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_automations_status ON automations(status)`,

	`CREATE TABLE IF NOT EXISTS executions (
		id VARCHAR(36) PRIMARY KEY,
		automation_id VARCHAR(36) NOT NULL,
		recipient_key VARCHAR(255) NOT NULL,
		recipient_id VARCHAR(255) NOT NULL,
		recipient_email VARCHAR(255),
		trigger_event_id VARCHAR(255) NOT NULL,
		dedup_key VARCHAR(64) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		scheduled_for TIMESTAMP WITH TIME ZONE,
		started_at TIMESTAMP WITH TIME ZONE,
		completed_at TIMESTAMP WITH TIME ZONE,
		next_step_order INTEGER NOT NULL DEFAULT 0,
		step_results JSONB,
		failure_reason TEXT,
		event_payload JSONB,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 5,
		last_error TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	// The idempotency barrier: one execution per (automation, recipient, event)
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_dedup_key ON executions(dedup_key)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_due ON executions(scheduled_for) WHERE status IN ('pending', 'scheduled')`,
	`CREATE INDEX IF NOT EXISTS idx_executions_automation ON executions(automation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_recipient_key ON executions(recipient_key)`,

	`CREATE TABLE IF NOT EXISTS automation_counters (
		automation_id VARCHAR(36) PRIMARY KEY,
		total_executions BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS automation_cooldowns (
		automation_id VARCHAR(36) NOT NULL,
		recipient_key VARCHAR(255) NOT NULL,
		last_admitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
		PRIMARY KEY (automation_id, recipient_key)
	)`,

	`CREATE TABLE IF NOT EXISTS recipients (
		id VARCHAR(255) PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		attributes JSONB,
		tags JSONB,
		audience_keys JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recipients_email ON recipients(email)`,
}
