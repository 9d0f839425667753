package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/logger"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	OnLimited commands.HandlerFunc
}

// RateLimit enforces a minimum interval between commands from the same sender.
func RateLimit(opts RateLimitOptions) commands.Middleware {
	if opts.Interval <= 0 {
		return func(next commands.HandlerFunc) commands.HandlerFunc { return next }
	}
	lastSeen := cache.New(opts.Interval, 2*opts.Interval)
	return func(next commands.HandlerFunc) commands.HandlerFunc {
		return func(ctx context.Context, req *commands.Request) error {
			sender := req.Message.Sender
			if sender == "" {
				return next(ctx, req)
			}
			// Add fails while an unexpired entry exists, which makes check-and-set atomic.
			if err := lastSeen.Add(sender, struct{}{}, opts.Interval); err != nil {
				logger.CMD.LogAttrs(ctx, slog.LevelWarn, "rate_limit",
					slog.String("sender", sender),
					slog.String("command", commandName(req)),
					slog.Duration("interval", opts.Interval),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(ctx, req)
				}
				return fmt.Errorf("%w: rate_limited", commands.ErrSkipped)
			}
			return next(ctx, req)
		}
	}
}

func commandName(req *commands.Request) string {
	if req.Command == nil {
		return ""
	}
	return req.Command.Name
}
