package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_events (
	id          BIGSERIAL PRIMARY KEY,
	job_id      UUID        NOT NULL,
	at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	from_status TEXT,
	to_status   TEXT        NOT NULL,
	reason      TEXT        NOT NULL DEFAULT '',
	meta_json   JSONB       NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS job_events_job_id_idx ON job_events (job_id, at);
`

// DB wraps the Postgres connection pool
type DB struct {
	*sql.DB
}

// NewDB opens a Postgres connection and ensures the event schema exists
func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(5)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{DB: conn}, nil
}
