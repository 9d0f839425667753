package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// WhatsAppConfig holds settings of the messaging session.
type WhatsAppConfig struct {
	// SessionDir is created on startup when missing.
	SessionDir  string `yaml:"session_dir" envconfig:"WA_SESSION_DIR"`
	SessionFile string `yaml:"session_file" envconfig:"WA_SESSION_FILE"`
	// StoreDriver selects the whatsmeow device store dialect: sqlite3 or postgres.
	StoreDriver string `yaml:"store_driver" envconfig:"WA_STORE_DRIVER"`
	StoreDSN    string `yaml:"store_dsn" envconfig:"WA_STORE_DSN"`
	// AdminJIDs lists senders allowed to run admin_only commands.
	AdminJIDs []string `yaml:"admin_jids" envconfig:"WA_ADMIN_JIDS"`
	// DedupeSeconds bounds how long delivered message IDs are remembered; 0 -> default.
	DedupeSeconds int `yaml:"dedupe_seconds" envconfig:"WA_DEDUPE_SECONDS"`
}

// CommandsConfig describes where handler files live and how they are matched.
type CommandsConfig struct {
	Dir       string   `yaml:"dir" envconfig:"COMMANDS_DIR"`
	Extension string   `yaml:"extension" envconfig:"COMMANDS_EXTENSION"`
	Prefixes  []string `yaml:"prefixes" envconfig:"COMMANDS_PREFIXES"`
	// DisableWatch turns off hot reload of handler files.
	DisableWatch    bool `yaml:"disable_watch" envconfig:"COMMANDS_DISABLE_WATCH"`
	ReloadQueueSize int  `yaml:"reload_queue_size" envconfig:"COMMANDS_RELOAD_QUEUE_SIZE"`
	// Workers run matched commands off the event stream; 0 -> default.
	Workers   int `yaml:"workers" envconfig:"COMMANDS_WORKERS"`
	QueueSize int `yaml:"queue_size" envconfig:"COMMANDS_QUEUE_SIZE"`
	// TimeoutMS bounds a single command run.
	TimeoutMS int `yaml:"timeout_ms" envconfig:"COMMANDS_TIMEOUT_MS"`
}

// SenderConfig tunes the outbound reply queue.
type SenderConfig struct {
	QueueSize      int `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
	Workers        int `yaml:"workers" envconfig:"SENDER_WORKERS"`
	MaxRetries     int `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoffMS int `yaml:"retry_backoff_ms" envconfig:"SENDER_RETRY_BACKOFF_MS"`
	MaxDurationMS  int `yaml:"max_duration_ms" envconfig:"SENDER_MAX_DURATION_MS"`
}

// DatabaseConfig enables the optional command execution audit store.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"DB_ENABLED"`
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	DSN            string `yaml:"dsn" envconfig:"DB_DSN"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// RateLimitConfig holds the per-sender minimum interval between commands.
type RateLimitConfig struct {
	IntervalMS int `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
}

// Config aggregates the whole bot configuration.
type Config struct {
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Commands  CommandsConfig  `yaml:"commands"`
	Sender    SenderConfig    `yaml:"sender"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

const (
	// DriverSQLite selects the mattn/go-sqlite3 driver.
	DriverSQLite = "sqlite3"
	// DriverPostgres selects the lib/pq driver.
	DriverPostgres = "postgres"
)

// DefaultPrefixes are recognized when the configuration names none.
var DefaultPrefixes = []string{".", "!", "#"}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	wa := &cfg.WhatsApp
	if strings.TrimSpace(wa.SessionDir) == "" {
		wa.SessionDir = "./session"
	}
	if strings.TrimSpace(wa.SessionFile) == "" {
		wa.SessionFile = "session.json"
	}
	driver, err := normalizeDriver(wa.StoreDriver, "whatsapp.store_driver")
	if err != nil {
		return err
	}
	wa.StoreDriver = driver
	if strings.TrimSpace(wa.StoreDSN) == "" {
		if driver == DriverPostgres {
			return fmt.Errorf("whatsapp.store_dsn is required when whatsapp.store_driver is 'postgres'")
		}
		wa.StoreDSN = "file:" + filepath.Join(wa.SessionDir, "store.db") + "?_foreign_keys=on"
	}
	if wa.DedupeSeconds < 0 {
		return fmt.Errorf("whatsapp.dedupe_seconds must be >= 0")
	}
	if wa.DedupeSeconds == 0 {
		wa.DedupeSeconds = 600
	}
	admins := wa.AdminJIDs[:0]
	for _, jid := range wa.AdminJIDs {
		if jid = strings.TrimSpace(jid); jid != "" {
			admins = append(admins, jid)
		}
	}
	wa.AdminJIDs = admins

	cmds := &cfg.Commands
	if strings.TrimSpace(cmds.Dir) == "" {
		cmds.Dir = "./commands"
	}
	ext := strings.TrimSpace(cmds.Extension)
	if ext == "" {
		ext = ".yaml"
	}
	if !strings.HasPrefix(ext, ".") {
		return fmt.Errorf("commands.extension %q must start with a dot", cmds.Extension)
	}
	cmds.Extension = ext
	if len(cmds.Prefixes) == 0 {
		cmds.Prefixes = append([]string(nil), DefaultPrefixes...)
	}
	for i, p := range cmds.Prefixes {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("commands.prefixes[%d] must not be empty", i)
		}
	}
	if cmds.ReloadQueueSize < 0 {
		return fmt.Errorf("commands.reload_queue_size must be >= 0")
	}
	if cmds.Workers < 0 || cmds.QueueSize < 0 || cmds.TimeoutMS < 0 {
		return fmt.Errorf("commands.workers, commands.queue_size and commands.timeout_ms must be >= 0")
	}
	if cmds.Workers == 0 {
		cmds.Workers = 4
	}
	if cmds.TimeoutMS == 0 {
		cmds.TimeoutMS = 30000
	}

	if cfg.Sender.MaxRetries < 0 {
		return fmt.Errorf("sender.max_retries must be >= 0")
	}

	if cfg.Database.Enabled {
		driver, err := normalizeDriver(cfg.Database.Driver, "database.driver")
		if err != nil {
			return err
		}
		cfg.Database.Driver = driver
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when database.enabled is true")
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 4
		}
	}

	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}
	return nil
}

func normalizeDriver(raw, field string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	switch d {
	case "", "sqlite", DriverSQLite:
		return DriverSQLite, nil
	case "postgresql", "pg", DriverPostgres:
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("invalid %s %q; allowed: sqlite3, postgres", field, raw)
}

// SessionPath returns the location of the persisted session record.
func (c *Config) SessionPath() string {
	return filepath.Join(c.WhatsApp.SessionDir, c.WhatsApp.SessionFile)
}
