package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/queue"
)

// DefaultPrefixes are used when DispatcherOptions names none.
var DefaultPrefixes = []string{".", "!", "#"}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Registry *Registry
	// Prefixes are tried in order; the first match wins.
	Prefixes []string
	Replier  Replier
	// Middlewares wrap every handler, first one outermost.
	Middlewares []Middleware
	// Jobs runs matched commands for Submit. Nil runs them on the caller's goroutine.
	Jobs *queue.Queue
}

// Dispatcher routes messages to registered commands.
type Dispatcher struct {
	reg      *Registry
	prefixes []string
	replier  Replier
	mws      []Middleware
	jobs     *queue.Queue
}

// NewDispatcher builds a Dispatcher. Prefixes are copied as configured.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	src := opts.Prefixes
	if len(src) == 0 {
		src = DefaultPrefixes
	}
	prefixes := make([]string, 0, len(src))
	for _, p := range src {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Dispatcher{
		reg:      reg,
		prefixes: prefixes,
		replier:  opts.Replier,
		mws:      append([]Middleware(nil), opts.Middlewares...),
		jobs:     opts.Jobs,
	}
}

// Prefixes returns the configured prefixes in match order.
func (d *Dispatcher) Prefixes() []string {
	return append([]string(nil), d.prefixes...)
}

// Match extracts the prefix and command name from a message body.
// The first whitespace separated token is lowercased and checked against the
// prefixes in order, so a prefix containing upper-case letters never matches.
// ok is false when no prefix matches or the name is empty.
func (d *Dispatcher) Match(body string) (prefix, name string, ok bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", "", false
	}
	candidate := strings.ToLower(fields[0])
	for _, p := range d.prefixes {
		if strings.HasPrefix(candidate, p) {
			name = candidate[len(p):]
			return p, name, name != ""
		}
	}
	return "", "", false
}

// Submit queues a message that carries a command prefix on the job queue, so
// a slow handler holds up only its own worker. Without a queue it dispatches
// inline.
func (d *Dispatcher) Submit(ctx context.Context, msg Message) {
	if d.jobs == nil {
		d.Dispatch(ctx, msg)
		return
	}
	_, name, ok := d.Match(msg.Body)
	if !ok {
		return
	}
	err := d.jobs.Enqueue(ctx, queue.Job{
		Action: "dispatch",
		Target: name,
		Run: func(ctx context.Context) error {
			d.Dispatch(ctx, msg)
			return nil
		},
	})
	if err != nil {
		logger.CMD.LogAttrs(ctx, slog.LevelWarn, "command.dropped",
			slog.String("command", name),
			slog.String("sender", msg.Sender),
			slog.String("err", err.Error()),
		)
	}
}

// Dispatch routes msg to its command, if any. Messages without a known
// prefix or command are ignored. Handler errors and panics are logged and
// never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.CMD.LogAttrs(ctx, slog.LevelError, "dispatch.panic",
				slog.String("err", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	prefix, name, ok := d.Match(msg.Body)
	if !ok {
		return
	}
	cmd, ok := d.reg.Lookup(name)
	if !ok {
		if logger.ShouldSampleDebug() {
			logger.CMD.LogAttrs(ctx, slog.LevelDebug, "command.unknown",
				slog.String("command", name),
				slog.String("prefix", prefix),
			)
		}
		return
	}

	ctx = logger.WithCommand(ctx, cmd.Name)
	req := &Request{
		Message: msg,
		Prefix:  prefix,
		Command: cmd,
		Args:    strings.Fields(msg.Body)[1:],
		Replier: d.replier,
	}

	start := time.Now()
	err := invoke(ctx, Chain(cmd.Handler, d.mws...), req)
	status := logger.Status(err)
	if errors.Is(err, ErrSkipped) {
		status = "skipped"
	}
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("command", cmd.Name),
		slog.String("prefix", prefix),
		slog.String("source", cmd.Source),
		slog.String("sender", msg.Sender),
		slog.Duration("duration", logger.Took(start)),
	}
	if errors.Is(err, ErrSkipped) {
		logger.CMD.LogAttrs(ctx, slog.LevelInfo, "command.skipped",
			append(attrs, slog.String("reason", err.Error()))...)
		return
	}
	if err != nil {
		logger.CMD.LogAttrs(ctx, slog.LevelError, "command.failed",
			append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 512)))...)
		return
	}
	logger.CMD.LogAttrs(ctx, slog.LevelInfo, "command.executed", attrs...)
}

// invoke runs h and turns a panic into an error.
func invoke(ctx context.Context, h HandlerFunc, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(ctx, req)
}

// PanicError is reported for a handler that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}
