package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "go-auth-service"

// Options sizes the pool. ConnectAttempts > 1 retries the initial ping so the
// service can start alongside a database container that is still booting.
type Options struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnectAttempts int
}

// DB owns the pgx pool shared by every repository.
type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, opts Options) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= cfg.MaxConns {
		cfg.MinConns = opts.MinConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := ping(ctx, pool, opts.ConnectAttempts); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("database connected", "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)
	return &DB{Pool: pool}, nil
}

func ping(ctx context.Context, pool *pgxpool.Pool, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	backoff := 500 * time.Millisecond
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		slog.Warn("database not ready, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping database: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 5*time.Second)
	}

	return fmt.Errorf("ping database: %w", err)
}

func (db *DB) Close() {
	if db != nil && db.Pool != nil {
		db.Pool.Close()
	}
}

// Health is wired to GET /health.
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
