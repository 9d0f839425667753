package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
)

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// knownOutcome lists accepted outcome values; others are dropped from the record.
var knownOutcome = map[string]bool{
	"ok": true, "fail": true, "cancelled": true, "rate_limited": true, "denied": true,
}

func levelName(level string) string {
	if level == "" {
		return LevelInfo
	}
	if name, ok := levelNames[strings.ToLower(level)]; ok {
		return name
	}
	return strings.ToUpper(level)
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"sender",
	"chat",
	"push_name",
	"command",
	"prefix",
	"source",
	"path",
	"action",
	"kind",
	"outcome",
	"duration_ms",
	"attempt",
	"attempts",
	"count",
	"loaded",
	"failed",
	"payload",
	"reason",
	"jid",
	"driver",
	"err",
	"err_kind",
	"stack",
}
