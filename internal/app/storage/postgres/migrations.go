package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order on startup. Statements must stay
// idempotent; new schema changes append to the list.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS matrix_members (
		id            TEXT PRIMARY KEY,
		display_name  TEXT NOT NULL,
		referral_code TEXT NOT NULL,
		referrer_id   TEXT,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS matrix_members_referral_code_idx
		ON matrix_members (lower(referral_code))`,
	`CREATE TABLE IF NOT EXISTS matrix_trees (
		id                 TEXT PRIMARY KEY,
		owner_id           TEXT NOT NULL,
		slot_number        INTEGER NOT NULL,
		nodes              JSONB NOT NULL,
		total_members      INTEGER NOT NULL,
		is_complete        BOOLEAN NOT NULL,
		auto_upgrade_ready BOOLEAN NOT NULL,
		auto_upgraded      BOOLEAN NOT NULL,
		recycle_count      INTEGER NOT NULL,
		version            BIGINT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		UNIQUE (owner_id, slot_number)
	)`,
	`CREATE INDEX IF NOT EXISTS matrix_trees_occupants_idx
		ON matrix_trees USING GIN (nodes jsonb_path_ops)`,
	`CREATE TABLE IF NOT EXISTS matrix_recycle_snapshots (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		slot_number     INTEGER NOT NULL,
		sequence_number INTEGER NOT NULL,
		nodes           JSONB NOT NULL,
		tree_created_at TIMESTAMPTZ NOT NULL,
		completed_at    TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		UNIQUE (owner_id, slot_number, sequence_number)
	)`,
	`CREATE TABLE IF NOT EXISTS matrix_activations (
		id           TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		slot_number  INTEGER NOT NULL,
		type         TEXT NOT NULL,
		amount       DOUBLE PRECISION NOT NULL,
		tx_reference TEXT NOT NULL,
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS matrix_commissions (
		id              TEXT PRIMARY KEY,
		source_user_id  TEXT NOT NULL,
		payee_id        TEXT NOT NULL,
		amount          DOUBLE PRECISION NOT NULL,
		percentage      DOUBLE PRECISION NOT NULL,
		type            TEXT NOT NULL,
		status          TEXT NOT NULL,
		reason_code     TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		paid_at         TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS matrix_mentor_links (
		id              TEXT PRIMARY KEY,
		referrer_id     TEXT NOT NULL,
		new_user_id     TEXT NOT NULL UNIQUE,
		super_upline_id TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
}

// Apply runs all migrations against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
