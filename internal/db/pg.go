package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Open creates a new PostgreSQL connection pool
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	// Connection pool configuration
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return pool, nil
}

// schema is idempotent so Migrate can run on every start
const schema = `
CREATE TABLE IF NOT EXISTS product (
	id            BIGSERIAL PRIMARY KEY,
	owner_id      TEXT             NOT NULL,
	name          TEXT             NOT NULL CHECK (name <> ''),
	price         DOUBLE PRECISION NOT NULL DEFAULT 0,
	quantity      INTEGER          NOT NULL DEFAULT 0,
	category      TEXT             NOT NULL DEFAULT '',
	version       INTEGER          NOT NULL DEFAULT 1 CHECK (version >= 1),
	updated_at_ms BIGINT           NOT NULL
);

CREATE INDEX IF NOT EXISTS product_owner_idx ON product (owner_id, id);
`

// Migrate creates the product table if it does not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return err
	}
	log.Info().Msg("database schema ready")
	return nil
}
