package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	coreconfig "github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"
)

// Connect opens the database, configures the pool and waits until it answers pings.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = coreconfig.DriverSQLite
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}

	start := time.Now()
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		logger.DB.Error("db open failed",
			slog.String("event", "db.connect"),
			slog.String("driver", cfg.Driver),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := waitReady(ctx, db, 30*time.Second); err != nil {
		_ = db.Close()
		logger.DB.Error("db ping failed",
			slog.String("event", "db.ping"),
			slog.String("driver", cfg.Driver),
			slog.String("path", cfg.RedactedDSN()),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db ping: %w", err)
	}

	open := cfg.MaxConnections
	if cfg.Driver == coreconfig.DriverSQLite {
		// A single writer avoids "database is locked" on concurrent audits.
		open = 1
	}
	db.SetMaxOpenConns(open)
	db.SetMaxIdleConns(open)
	logger.DB.Debug("db pool configured",
		slog.String("event", "db.pool"),
		slog.Int("pool_open", open),
	)

	logger.DB.Info("db connected",
		slog.String("event", "db.connect"),
		slog.String("driver", cfg.Driver),
		slog.String("path", cfg.RedactedDSN()),
		slog.Duration("duration", logger.Took(start)),
	)
	return db, nil
}

// waitReady pings db until it responds or timeout elapses.
func waitReady(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout reached waiting for database: %w", err)
		case <-time.After(2 * time.Second):
		}
	}
}
