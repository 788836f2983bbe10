package database

import (
	"context"
	"fmt"

	"postmesh/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens the pgx pool and verifies the server answers.
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return pool, nil
}

// HealthCheck runs a trivial query through the pool.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// TableExists reports whether a table is present in the public schema.
func TableExists(ctx context.Context, pool *pgxpool.Pool, table string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		table,
	).Scan(&exists)
	return exists, err
}

// TableCount returns the row count of a known table.
func TableCount(ctx context.Context, pool *pgxpool.Pool, table string) (int64, error) {
	if !isManagedTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// ManagedTables lists the tables created by the embedded migrations.
var ManagedTables = []string{"posts", "search_posts", "search_tombstones", "media"}

func isManagedTable(table string) bool {
	for _, t := range ManagedTables {
		if t == table {
			return true
		}
	}
	return false
}
