package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/logger"
)

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	// AdminJIDs accepts full JIDs or bare user parts ("15551234567").
	AdminJIDs []string
	// OnReject runs instead of the handler for non-admins. Nil rejects silently.
	// Either way the chain returns commands.ErrSkipped.
	OnReject commands.HandlerFunc
}

// AdminOnly ensures that only admins can invoke commands marked admin_only.
// With no admins configured every admin_only command is rejected.
func AdminOnly(opts AdminOptions) commands.Middleware {
	admins := make(map[string]struct{}, len(opts.AdminJIDs))
	for _, jid := range opts.AdminJIDs {
		if jid = strings.TrimSpace(jid); jid != "" {
			admins[userPart(jid)] = struct{}{}
		}
	}
	return func(next commands.HandlerFunc) commands.HandlerFunc {
		return func(ctx context.Context, req *commands.Request) error {
			if req.Command == nil || !req.Command.AdminOnly {
				return next(ctx, req)
			}
			if _, ok := admins[userPart(req.Message.Sender)]; ok {
				return next(ctx, req)
			}
			logger.CMD.LogAttrs(ctx, slog.LevelWarn, "command.rejected",
				slog.String("command", req.Command.Name),
				slog.String("sender", req.Message.Sender),
				slog.String("reason", "admin_only"),
			)
			if opts.OnReject != nil {
				if err := opts.OnReject(ctx, req); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: admin_only", commands.ErrSkipped)
		}
	}
}

// userPart strips the server and device suffixes of a JID:
// "111:3@s.whatsapp.net" -> "111".
func userPart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return strings.TrimPrefix(jid, "+")
}
