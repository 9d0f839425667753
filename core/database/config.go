package database

import (
	"net/url"
	"regexp"
	"strings"

	coreconfig "github.com/m3rciful/wabot/core/config"
)

// Config holds audit database connection settings.
type Config struct {
	Driver         string
	DSN            string
	MaxConnections int
}

// FromConfig converts the file configuration section.
func FromConfig(c coreconfig.DatabaseConfig) Config {
	return Config{Driver: c.Driver, DSN: c.DSN, MaxConnections: c.MaxConnections}
}

var passwordRe = regexp.MustCompile(`(?i)(password=)\S+`)

// RedactedDSN hides credentials so the DSN can be logged.
func (c Config) RedactedDSN() string {
	dsn := strings.TrimSpace(c.DSN)
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}
	return passwordRe.ReplaceAllString(dsn, "${1}xxxxx")
}
