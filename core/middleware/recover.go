// Package middleware contains the handler wrappers shared by all commands.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/logger"
)

// Recover catches panics in handlers, logs the stack and reports them as errors.
func Recover(next commands.HandlerFunc) commands.HandlerFunc {
	return func(ctx context.Context, req *commands.Request) (err error) {
		defer func() {
			if r := recover(); r != nil {
				attrs := []slog.Attr{
					slog.String("err", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				}
				if req != nil && req.Command != nil {
					attrs = append(attrs, slog.String("source", req.Command.Source))
				}
				logger.CMD.LogAttrs(ctx, slog.LevelError, "handler.panic", attrs...)
				err = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return next(ctx, req)
	}
}
