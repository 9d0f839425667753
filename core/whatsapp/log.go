package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/m3rciful/wabot/core/logger"
)

// clientLogger routes whatsmeow's printf-style logging into the structured logger.
type clientLogger struct {
	base   *slog.Logger
	module string
}

var _ waLog.Logger = clientLogger{}

func newClientLogger(module string) waLog.Logger {
	return clientLogger{base: logger.Component("wa.client"), module: module}
}

func (l clientLogger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.base.Enabled(ctx, level) {
		return
	}
	l.base.LogAttrs(ctx, level, "client.log",
		slog.String("source", l.module),
		slog.String("payload", logger.SanitizeLimit(fmt.Sprintf(msg, args...), 1024)),
	)
}

func (l clientLogger) Debugf(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l clientLogger) Infof(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l clientLogger) Warnf(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l clientLogger) Errorf(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l clientLogger) Sub(module string) waLog.Logger {
	if l.module != "" {
		module = l.module + "/" + module
	}
	return clientLogger{base: l.base, module: module}
}
