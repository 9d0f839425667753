package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"

	"github.com/m3rciful/wabot/core/actions"
	"github.com/m3rciful/wabot/core/commands"
	coreconfig "github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/database"
	"github.com/m3rciful/wabot/core/loader"
	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/middleware"
	"github.com/m3rciful/wabot/core/queue"
	"github.com/m3rciful/wabot/core/watcher"
)

// RunOptions controls the behaviour of Run.
type RunOptions struct {
	Config *coreconfig.Config
	// Audit stores executions. Nil disables auditing and the history action.
	Audit *database.ExecutionStore
	// QROutput receives pairing QR codes; defaults to stdout.
	QROutput io.Writer

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Registry   *commands.Registry
	Loader     *loader.Loader
	Dispatcher *commands.Dispatcher
	Sender     *queue.Queue
	Jobs       *queue.Queue
}

// Run composes the bot, connects and blocks until ctx is done.
// Handler files are loaded and watched once the session is ready.
func Run(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("whatsapp: nil config provided")
	}
	cfg := opts.Config
	qrOut := opts.QROutput
	if qrOut == nil {
		qrOut = os.Stdout
	}

	dev, err := OpenDevice(ctx, cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	client := whatsmeow.NewClient(dev.Store, newClientLogger("client"))

	sender := queue.New(queue.Options{
		Name:         "wa.sender",
		QueueSize:    cfg.Sender.QueueSize,
		Workers:      cfg.Sender.Workers,
		MaxRetries:   cfg.Sender.MaxRetries,
		RetryBackoff: time.Duration(cfg.Sender.RetryBackoffMS) * time.Millisecond,
		MaxDuration:  time.Duration(cfg.Sender.MaxDurationMS) * time.Millisecond,
		Retryable:    SendRetryable,
	})
	defer sender.Close()

	var (
		history  actions.HistoryReader
		recorder middleware.Recorder
	)
	if opts.Audit != nil {
		history, recorder = opts.Audit, opts.Audit
	}

	// Matched commands run here, off whatsmeow's event goroutine.
	jobs := queue.New(queue.Options{
		Name:        "cmd.dispatch",
		QueueSize:   cfg.Commands.QueueSize,
		Workers:     cfg.Commands.Workers,
		MaxDuration: time.Duration(cfg.Commands.TimeoutMS) * time.Millisecond,
		Retryable:   func(error) bool { return false },
	})
	defer jobs.Close()

	reg := commands.NewRegistry()
	ld := loader.New(loader.Options{
		Root:      cfg.Commands.Dir,
		Extension: cfg.Commands.Extension,
		Registry:  reg,
		Builder:   actions.NewCatalog(actions.Options{Registry: reg, History: history}),
	})
	disp := commands.NewDispatcher(commands.DispatcherOptions{
		Registry:    reg,
		Prefixes:    cfg.Commands.Prefixes,
		Replier:     NewReplier(client, sender),
		Middlewares: middleware.Default(cfg, recorder),
		Jobs:        jobs,
	})
	rt := Runtime{Registry: reg, Loader: ld, Dispatcher: disp, Sender: sender, Jobs: jobs}

	var (
		watchMu sync.Mutex
		watch   *watcher.Watcher
	)
	session := NewSession(ctx, SessionOptions{
		DedupeTTL: time.Duration(cfg.WhatsApp.DedupeSeconds) * time.Second,
		Hooks: Hooks{
			OnQR: func(code string) { RenderQR(qrOut, code) },
			OnAuthenticated: func(rec SessionRecord) {
				if err := WriteSession(cfg.SessionPath(), rec); err != nil {
					logger.WA.LogAttrs(ctx, slog.LevelError, "session.save",
						slog.String("status", "fail"),
						slog.String("path", cfg.SessionPath()),
						slog.String("err", err.Error()),
					)
					return
				}
				logger.WA.LogAttrs(ctx, slog.LevelInfo, "session.save",
					slog.String("status", "ok"),
					slog.String("path", cfg.SessionPath()),
				)
			},
			OnReady: func(ctx context.Context) {
				if _, err := ld.LoadAll(ctx); err != nil {
					// Keep the session up; commands can be added once the folder exists.
					return
				}
				if cfg.Commands.DisableWatch {
					return
				}
				w, err := watcher.New(watcher.Options{
					Root:      ld.Root(),
					Extension: cfg.Commands.Extension,
					Reloader:  ld,
					QueueSize: cfg.Commands.ReloadQueueSize,
				})
				if err == nil {
					err = w.Start(ctx)
				}
				if err != nil {
					logger.Watch.LogAttrs(ctx, slog.LevelError, "watch.start",
						slog.String("status", "fail"),
						slog.String("err", err.Error()),
					)
					return
				}
				watchMu.Lock()
				watch = w
				watchMu.Unlock()
				logger.WA.LogAttrs(ctx, slog.LevelInfo, "ready", slog.Int("count", reg.Len()))
			},
			OnMessage: disp.Submit,
		},
	})
	client.AddEventHandler(session.HandleEvent)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp: qr channel: %w", err)
		}
		go func() {
			for item := range qrChan {
				session.HandleQR(item)
			}
		}()
	}

	connectStart := time.Now()
	if err := client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}
	logger.WA.LogAttrs(ctx, slog.LevelInfo, "connect",
		slog.Bool("paired", client.Store.ID != nil),
		slog.Duration("duration", logger.Took(connectStart)),
	)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			client.Disconnect()
			return err
		}
	}

	<-ctx.Done()
	runErr := ctx.Err()

	client.Disconnect()
	watchMu.Lock()
	if watch != nil {
		_ = watch.Close()
	}
	watchMu.Unlock()
	// Running commands may still enqueue replies.
	jobs.Close()
	sender.Close()

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx), rt)
	}
	if stopErr != nil {
		return stopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
