package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ListenConns is how many pooled connections event bus subscriptions may
// hold in LISTEN at once. The pool is sized so queries still get through.
const ListenConns = 8

const applicationName = "task-mesh"

func poolConfig(connString string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if floor := int32(ListenConns + 4); config.MaxConns < floor {
		config.MaxConns = floor
	}
	return config, nil
}

func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := poolConfig(connString)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	slog.Info("database connected", "max_conns", config.MaxConns)
	return pool, nil
}
