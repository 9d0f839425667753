// Package bootstrap prepares shared infrastructure before the bot connects.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/wabot/core/config"
	coredatabase "github.com/m3rciful/wabot/core/database"
	"github.com/m3rciful/wabot/core/logger"
)

// Options control the bootstrap pipeline. Nil funcs fall back to the core
// implementations; tests replace them.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(db *sqlx.DB, driver string) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
// DB and Executions are nil when the audit database is disabled.
type Result struct {
	DB         *sqlx.DB
	Executions *coredatabase.ExecutionStore
}

// Close releases the database handle if one was opened.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger and, when enabled, connects the audit database
// and applies its migrations.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	if !opts.Config.Database.Enabled {
		logger.DB.LogAttrs(ctx, slog.LevelInfo, "db.disabled",
			slog.String("reason", "database.enabled is false; audit and history are off"),
		)
		return &Result{}, nil
	}

	dbCfg := coredatabase.FromConfig(opts.Config.Database)
	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(db, dbCfg.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	return &Result{DB: db, Executions: coredatabase.NewExecutionStore(db)}, nil
}
