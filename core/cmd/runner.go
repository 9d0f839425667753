// Package cmd wires configuration, bootstrap and the WhatsApp runtime into a
// process entry point.
package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m3rciful/wabot/core/bootstrap"
	"github.com/m3rciful/wabot/core/buildinfo"
	coreconfig "github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/whatsapp"
)

// Options describe how to load configuration, bootstrap the app, and run the bot.
// Zero values select the core implementations.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig     func(path string) (*coreconfig.Config, error)
	Bootstrap      func(ctx context.Context, opts bootstrap.Options) (*bootstrap.Result, error)
	ShutdownLogger func() error
	RunWhatsApp    func(ctx context.Context, opts whatsapp.RunOptions) error
}

// Run loads configuration, bootstraps infrastructure and runs the bot until
// SIGINT or SIGTERM.
func Run(opts Options) error {
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	loadConfig := opts.LoadConfig
	if loadConfig == nil {
		loadConfig = coreconfig.Load
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	boot := opts.Bootstrap
	if boot == nil {
		boot = bootstrap.Run
	}
	infra, err := boot(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	defer infra.Close()

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	startedAt := time.Now()
	app := logger.Component("app")
	runOpts := whatsapp.RunOptions{
		Config: cfg,
		Audit:  infra.Executions,
		OnStart: func(ctx context.Context, rt whatsapp.Runtime) error {
			app.LogAttrs(ctx, slog.LevelInfo, "app ready",
				slog.String("event", "ready"),
				slog.String("version", buildinfo.Version),
				slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
			)
			return nil
		},
		OnStop: func(ctx context.Context, rt whatsapp.Runtime) error {
			app.LogAttrs(ctx, slog.LevelInfo, "shutting down...",
				slog.String("event", "shutdown"),
				slog.Int("count", rt.Registry.Len()),
				slog.Uint64("errors", rt.Sender.ErrorCount()),
			)
			return nil
		},
	}

	run := opts.RunWhatsApp
	if run == nil {
		run = whatsapp.Run
	}
	return run(ctx, runOpts)
}
