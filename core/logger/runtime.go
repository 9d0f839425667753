package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

type contextKey string

const (
	ctxRID     contextKey = "rid"
	ctxSender  contextKey = "sender"
	ctxChat    contextKey = "chat"
	ctxCommand contextKey = "command"
	ctxLogger  contextKey = "logger"
)

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns the global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
			return l
		}
	}
	return L
}

func withString(ctx context.Context, key contextKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func stringFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// WithRID attaches a correlation id (message id or task id) to the context.
func WithRID(ctx context.Context, rid string) context.Context {
	return withString(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxRID) }

// WithMessageMeta attaches the sender and chat of an inbound message.
func WithMessageMeta(ctx context.Context, rid, sender, chat string) context.Context {
	ctx = WithRID(ctx, rid)
	ctx = withString(ctx, ctxSender, sender)
	return withString(ctx, ctxChat, chat)
}

// SenderFrom returns the sender JID stored in context.
func SenderFrom(ctx context.Context) string { return stringFrom(ctx, ctxSender) }

// ChatFrom returns the chat JID stored in context.
func ChatFrom(ctx context.Context) string { return stringFrom(ctx, ctxChat) }

// WithCommand stores the resolved command name for downstream logs.
func WithCommand(ctx context.Context, name string) context.Context {
	return withString(ctx, ctxCommand, name)
}

// CommandFrom returns the command name stored in context.
func CommandFrom(ctx context.Context) string { return stringFrom(ctx, ctxCommand) }

// Sanitize drops control and format runes except tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

// ShortRID shortens uuid-shaped ids to their first group for KV readability.
// Other ids (WhatsApp message ids) are returned unchanged.
func ShortRID(rid string) string {
	rid = strings.TrimSpace(rid)
	if len(rid) == 36 && strings.Count(rid, "-") == 4 {
		return rid[:8]
	}
	return rid
}

// RoundMS rounds duration to the nearest millisecond for consistent logging.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// Took returns rounded duration since start.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// Status maps error to the status field value.
func Status(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}

// SummarizeStrings joins up to limit elements and reports whether truncation happened.
func SummarizeStrings(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	if len(values) <= limit {
		return strings.Join(values, ", "), false
	}
	return strings.Join(values[:limit], ", "), true
}
