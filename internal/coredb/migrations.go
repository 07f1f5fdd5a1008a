// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"fmt"
)

var baseMigrations = [...]string{
	`CREATE TABLE IF NOT EXISTS core_idempotency (
		key TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		body_sha256 TEXT NOT NULL,
		status INTEGER NOT NULL,
		body BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		ttl_expires_at INTEGER NOT NULL,
		PRIMARY KEY (key, endpoint)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_core_idemp_ttl ON core_idempotency(ttl_expires_at);`,
	`CREATE TABLE IF NOT EXISTS core_audit_journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		plan_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		ts INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_core_journal_plan_ts ON core_audit_journal(plan_id, ts);`,
	`CREATE TABLE IF NOT EXISTS core_plans (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		request TEXT NOT NULL,
		revision_of TEXT NOT NULL DEFAULT '',
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_core_plans_status ON core_plans(status, updated_at);`,
}

func applyMigrations(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range baseMigrations {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
