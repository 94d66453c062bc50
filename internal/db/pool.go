package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pool is an alias for pgxpool.Pool
type Pool = pgxpool.Pool

// NewPool opens the PostgreSQL connection pool backing the meter registry and
// reading store, tying its lifetime to the application lifecycle: readings
// connectivity is verified on start and the pool is closed on stop.
func NewPool(lc fx.Lifecycle, logger *zap.Logger, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				logger.Error("telemetry store ping failed",
					zap.Error(err),
					zap.String("url", maskPassword(databaseURL)),
				)
				return fmt.Errorf("telemetry store unreachable at startup (check DATABASE_URL and that PostgreSQL is accepting connections): %w", err)
			}
			logger.Info("telemetry store connected", zap.String("url", maskPassword(databaseURL)))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("telemetry store connection closed")
			return nil
		},
	})

	return pool, nil
}

// maskPassword hides the credential part of a connection URL so the URL can
// be logged
func maskPassword(url string) string {
	at := strings.Index(url, "@")
	if at < 0 {
		return url
	}
	head := url[:at]
	colon := strings.LastIndex(head, ":")
	// A colon followed by a slash is the scheme separator, not a password.
	if colon < 0 || (colon+1 < len(head) && head[colon+1] == '/') {
		return url
	}
	return head[:colon+1] + "***" + url[at:]
}
