package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/m3rciful/wabot/core/buildinfo"
	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/loader"
)

// ErrNoHistory is returned when a history command is loaded without an audit store.
var ErrNoHistory = errors.New("audit database is not enabled")

// replyData is the value reply templates are executed with.
type replyData struct {
	Sender   string
	PushName string
	Chat     string
	Command  string
	Prefix   string
	Args     []string
	ArgsText string
	Body     string
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
	"default": func(def, v string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	},
}

func buildReply(d loader.Descriptor) (commands.HandlerFunc, error) {
	text := d.Param("text", "")
	if text == "" {
		return nil, errors.New("params.text is required")
	}
	tmpl, err := template.New(d.Name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return func(ctx context.Context, req *commands.Request) error {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, replyData{
			Sender:   req.Message.Sender,
			PushName: req.Message.PushName,
			Chat:     req.Message.Chat,
			Command:  req.Command.Name,
			Prefix:   req.Prefix,
			Args:     req.Args,
			ArgsText: req.ArgsText(),
			Body:     req.Message.Body,
		}); err != nil {
			return fmt.Errorf("render reply: %w", err)
		}
		return req.Reply(ctx, buf.String())
	}, nil
}

func buildEcho(d loader.Descriptor) (commands.HandlerFunc, error) {
	empty := d.Param("empty", "Nothing to echo.")
	return func(ctx context.Context, req *commands.Request) error {
		text := req.ArgsText()
		if text == "" {
			text = empty
		}
		return req.Reply(ctx, text)
	}, nil
}

func (c *Catalog) buildHelp(d loader.Descriptor) (commands.HandlerFunc, error) {
	header := d.Param("header", "*Commands*")
	return func(ctx context.Context, req *commands.Request) error {
		if len(req.Args) > 0 {
			name := strings.ToLower(req.Args[0])
			cmd, ok := c.opts.Registry.Lookup(name)
			if !ok || cmd.Hidden || cmd.AdminOnly {
				return req.Reply(ctx, fmt.Sprintf("Unknown command: %s%s", req.Prefix, name))
			}
			return req.Reply(ctx, helpLine(req.Prefix, cmd))
		}
		var b strings.Builder
		b.WriteString(header)
		for _, cmd := range c.opts.Registry.Visible() {
			b.WriteByte('\n')
			b.WriteString(helpLine(req.Prefix, cmd))
		}
		return req.Reply(ctx, b.String())
	}, nil
}

func helpLine(prefix string, cmd *commands.Command) string {
	if cmd.Description == "" {
		return prefix + cmd.Name
	}
	return prefix + cmd.Name + " - " + cmd.Description
}

func (c *Catalog) buildStatus(loader.Descriptor) (commands.HandlerFunc, error) {
	return func(ctx context.Context, req *commands.Request) error {
		lines := []string{
			fmt.Sprintf("*%s* %s (%s)", c.opts.BotName, buildinfo.Version, buildinfo.Commit),
			"uptime: " + buildinfo.Uptime().Truncate(time.Second).String(),
			"commands: " + strconv.Itoa(c.opts.Registry.Len()),
		}
		return req.Reply(ctx, strings.Join(lines, "\n"))
	}, nil
}

func (c *Catalog) buildHistory(d loader.Descriptor) (commands.HandlerFunc, error) {
	if c.opts.History == nil {
		return nil, ErrNoHistory
	}
	limit := 5
	if raw := d.Param("limit", ""); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 || n > 50 {
			return nil, fmt.Errorf("params.limit must be between 1 and 50, got %q", raw)
		}
		limit = n
	}
	history := c.opts.History
	return func(ctx context.Context, req *commands.Request) error {
		execs, err := history.Recent(ctx, limit)
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			return req.Reply(ctx, "No commands recorded yet.")
		}
		var b strings.Builder
		for i, e := range execs {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s %s%s by %s: %s (%dms)",
				e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), req.Prefix, e.Command, e.Sender, e.Status, e.DurationMS)
		}
		return req.Reply(ctx, b.String())
	}, nil
}
