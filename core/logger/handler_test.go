package logger

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestLogger(format logFormat) (*slog.Logger, *asyncWriter, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	return slog.New(h), aw, buf
}

func closeWriter(t *testing.T, aw *asyncWriter) {
	t.Helper()
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	log, aw, buf := newTestLogger(formatKV)
	ctx := WithMessageMeta(Background(), "3EB0C0FFEE", "111@s.whatsapp.net", "222@g.us")

	LogEvent(ctx, log.With("component", "cmd"), slog.LevelInfo, "command.executed",
		slog.String("status", "OK"),
		slog.String("command", "ping"),
	)
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	tokens := strings.Split(line, " ")
	expected := []string{
		"ts=", "level=INFO", "component=cmd", "event=command.executed", "status=ok",
		"rid=3EB0C0FFEE", "sender=111@s.whatsapp.net", "chat=222@g.us", "command=ping",
	}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	log, aw, buf := newTestLogger(formatJSON)
	ctx := WithCommand(WithRID(Background(), "msg-1"), "help")

	LogEvent(ctx, log.With("component", "loader"), slog.LevelError, "command.load_failed",
		slog.String("status", "fail"),
		slog.String("path", "nested/help.yaml"),
		slog.String("err", "boom"),
	)
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"loader"`, `"event":"command.load_failed"`,
		`"status":"fail"`, `"rid":"msg-1"`, `"command":"help"`, `"path":"nested/help.yaml"`, `"err":"boom"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerShortRID(t *testing.T) {
	const rid = "0b6f6cde-2f4a-4e43-9a57-4f2e3c1d2b1a"

	log, aw, buf := newTestLogger(formatKV)
	LogEvent(WithRID(Background(), rid), log, slog.LevelInfo, "reload.start")
	closeWriter(t, aw)
	line := buf.String()
	if !strings.Contains(line, "rid=0b6f6cde") || strings.Contains(line, rid) {
		t.Fatalf("expected short rid, got %s", line)
	}
	if strings.Contains(line, "rid_full=") {
		t.Fatalf("rid_full should be omitted in KV output, got %s", line)
	}

	log, aw, buf = newTestLogger(formatJSON)
	LogEvent(WithRID(Background(), rid), log, slog.LevelInfo, "reload.start")
	closeWriter(t, aw)
	line = buf.String()
	if !strings.Contains(line, `"rid":"0b6f6cde"`) || !strings.Contains(line, `"rid_full":"`+rid+`"`) {
		t.Fatalf("expected short and full rid in JSON output, got %s", line)
	}
	if !strings.Contains(line, `"ts_unix_nano"`) {
		t.Fatalf("expected ts_unix_nano in JSON output, got %s", line)
	}
}

func TestStructuredHandlerDurationsAndDefaults(t *testing.T) {
	log, aw, buf := newTestLogger(formatKV)
	log.Info("handler.done",
		slog.Duration("duration", 1500*time.Microsecond),
		slog.Duration("backoff", 2*time.Second),
		slog.String("outcome", "weird"),
		slog.String("empty", ""),
	)
	log.Debug("dropped by level")
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	for _, want := range []string{"component=app", "event=handler.done", "duration_ms=2", "backoff_ms=2000"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %s", want, line)
		}
	}
	for _, unwanted := range []string{"outcome=", "empty=", "dropped"} {
		if strings.Contains(line, unwanted) {
			t.Fatalf("unexpected %q in %s", unwanted, line)
		}
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("a\x00b\u200bc\nd", 10); got != "abc\nd" {
		t.Fatalf("unexpected sanitize result %q", got)
	}
	if got := SanitizeLimit("héllo", 2); got != "hé" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := SanitizeLimit("x", 0); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	var allowed int
	for i := 0; i < 9; i++ {
		if s.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("expected 3 allowed events, got %d", allowed)
	}
	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("disabled sampler must allow everything")
	}
	if num, den := parseRatio("2/5"); num != 2 || den != 5 {
		t.Fatalf("unexpected ratio %d/%d", num, den)
	}
	if num, den := parseRatio("10"); num != 1 || den != 10 {
		t.Fatalf("unexpected ratio %d/%d", num, den)
	}
}
