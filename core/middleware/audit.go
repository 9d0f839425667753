package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/database"
	"github.com/m3rciful/wabot/core/logger"
)

// Recorder stores command executions.
type Recorder interface {
	Record(ctx context.Context, e database.Execution) error
}

// Audit records the outcome of every command run. A nil recorder disables it.
// Recording failures are logged and do not change the handler result.
func Audit(rec Recorder) commands.Middleware {
	if rec == nil {
		return func(next commands.HandlerFunc) commands.HandlerFunc { return next }
	}
	return func(next commands.HandlerFunc) commands.HandlerFunc {
		return func(ctx context.Context, req *commands.Request) error {
			start := time.Now()
			err := next(ctx, req)
			e := database.Execution{
				Command:    commandName(req),
				Sender:     req.Message.Sender,
				Chat:       req.Message.Chat,
				MessageID:  req.Message.ID,
				Status:     logger.Status(err),
				DurationMS: logger.Took(start).Milliseconds(),
				CreatedAt:  time.Now().UTC(),
			}
			if err != nil {
				e.Error = logger.SanitizeLimit(err.Error(), 512)
			}
			if recErr := rec.Record(ctx, e); recErr != nil {
				logger.DB.LogAttrs(ctx, slog.LevelWarn, "audit.record_failed",
					slog.String("command", e.Command),
					slog.String("err", recErr.Error()),
				)
			}
			return err
		}
	}
}
