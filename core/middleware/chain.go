package middleware

import (
	"time"

	"github.com/m3rciful/wabot/core/commands"
	coreconfig "github.com/m3rciful/wabot/core/config"
)

// Default builds the shared middleware chain, outermost first.
// Recover sits innermost so Audit sees panics as failures.
func Default(cfg *coreconfig.Config, rec Recorder) []commands.Middleware {
	var admins []string
	var interval time.Duration
	if cfg != nil {
		admins = cfg.WhatsApp.AdminJIDs
		interval = time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
	}
	mws := []commands.Middleware{
		AdminOnly(AdminOptions{AdminJIDs: admins}),
		RateLimit(RateLimitOptions{Interval: interval}),
	}
	if rec != nil {
		mws = append(mws, Audit(rec))
	}
	return append(mws, Recover)
}
