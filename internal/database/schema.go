package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MigratePostgres creates all tables. Safe to call multiple times.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create postgres schema: %w", err)
	}
	return nil
}

// MigrateSQLite creates all tables. Safe to call multiple times.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    display_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS participation (
    event_id INTEGER NOT NULL REFERENCES events(id),
    user_id BIGINT NOT NULL REFERENCES users(id),
    giftee_id BIGINT REFERENCES users(id),
    seq BIGSERIAL NOT NULL,
    PRIMARY KEY (event_id, user_id),
    CHECK (giftee_id IS NULL OR giftee_id <> user_id)
);

CREATE INDEX IF NOT EXISTS idx_participation_event_seq ON participation(event_id, seq);
`

// SQLite orders the roster by rowid, which grows with each insert.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    display_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS participation (
    event_id INTEGER NOT NULL REFERENCES events(id),
    user_id INTEGER NOT NULL REFERENCES users(id),
    giftee_id INTEGER REFERENCES users(id),
    PRIMARY KEY (event_id, user_id),
    CHECK (giftee_id IS NULL OR giftee_id <> user_id)
);
`
