package actions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/database"
	"github.com/m3rciful/wabot/core/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureReplier struct{ replies []string }

func (c *captureReplier) Reply(_ context.Context, _ commands.Message, text string) error {
	c.replies = append(c.replies, text)
	return nil
}

type fakeHistory struct {
	execs []database.Execution
	limit int
	err   error
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]database.Execution, error) {
	f.limit = limit
	return f.execs, f.err
}

func run(t *testing.T, c *Catalog, d loader.Descriptor, body string) string {
	t.Helper()
	h, err := c.Build(d)
	require.NoError(t, err)

	d2 := commands.NewDispatcher(commands.DispatcherOptions{Registry: commands.NewRegistry()})
	prefix, name, ok := d2.Match(body)
	require.True(t, ok)
	rep := &captureReplier{}
	msg := commands.Message{Sender: "111@s.whatsapp.net", PushName: "Ana", Body: body}
	req := &commands.Request{
		Message: msg,
		Prefix:  prefix,
		Command: &commands.Command{Name: name},
		Args:    strings.Fields(body)[1:],
		Replier: rep,
	}
	require.NoError(t, h(context.Background(), req))
	require.Len(t, rep.replies, 1)
	return rep.replies[0]
}

func TestCatalogUnknownAction(t *testing.T) {
	c := NewCatalog(Options{})
	_, err := c.Build(loader.Descriptor{Name: "x", Action: "teleport"})
	assert.ErrorIs(t, err, loader.ErrUnknownAction)
	assert.Equal(t, []string{"echo", "help", "history", "reply", "status"}, c.Kinds())
}

func TestReplyTemplate(t *testing.T) {
	c := NewCatalog(Options{})
	d := loader.Descriptor{Name: "ping", Action: "reply", Params: map[string]string{"text": "pong"}}
	assert.Equal(t, "pong", run(t, c, d, ".ping"))

	d.Params["text"] = `hi {{.PushName}}, you said {{default "nothing" .ArgsText | upper}} via {{.Prefix}}{{.Command}}`
	assert.Equal(t, "hi Ana, you said HELLO THERE via !ping", run(t, c, d, "!ping hello there"))
	assert.Equal(t, "hi Ana, you said NOTHING via #ping", run(t, c, d, "#ping"))
}

func TestReplyRejectsBadTemplates(t *testing.T) {
	c := NewCatalog(Options{})
	_, err := c.Build(loader.Descriptor{Name: "a", Action: "reply"})
	assert.Error(t, err)
	_, err = c.Build(loader.Descriptor{Name: "b", Action: "reply", Params: map[string]string{"text": "{{.Nope"}})
	assert.Error(t, err)
}

func TestEcho(t *testing.T) {
	c := NewCatalog(Options{})
	d := loader.Descriptor{Name: "echo", Action: "echo"}
	assert.Equal(t, "a b  c", run(t, c, d, ".echo a b  c"))
	assert.Equal(t, "Nothing to echo.", run(t, c, d, ".echo"))
}

func TestHelpListsVisibleCommands(t *testing.T) {
	reg := commands.NewRegistry()
	noop := func(context.Context, *commands.Request) error { return nil }
	for _, cmd := range []*commands.Command{
		{Name: "ping", Description: "Liveness check", Handler: noop},
		{Name: "echo", Handler: noop},
		{Name: "secret", Hidden: true, Handler: noop},
		{Name: "history", AdminOnly: true, Handler: noop},
	} {
		_, err := reg.Register(cmd)
		require.NoError(t, err)
	}
	c := NewCatalog(Options{Registry: reg})
	d := loader.Descriptor{Name: "help", Action: "help"}

	assert.Equal(t, "*Commands*\n!echo\n!ping - Liveness check", run(t, c, d, "!help"))
	assert.Equal(t, ".ping - Liveness check", run(t, c, d, ".help PING"))
	assert.Equal(t, "Unknown command: .secret", run(t, c, d, ".help secret"))
}

func TestStatus(t *testing.T) {
	reg := commands.NewRegistry()
	_, err := reg.Register(&commands.Command{Name: "ping", Handler: func(context.Context, *commands.Request) error { return nil }})
	require.NoError(t, err)
	c := NewCatalog(Options{Registry: reg, BotName: "testbot"})

	out := run(t, c, loader.Descriptor{Name: "status", Action: "status"}, ".status")
	assert.Contains(t, out, "*testbot* dev (local)")
	assert.Contains(t, out, "commands: 1")
	assert.Contains(t, out, "uptime: ")
}

func TestHistory(t *testing.T) {
	_, err := NewCatalog(Options{}).Build(loader.Descriptor{Name: "history", Action: "history"})
	assert.ErrorIs(t, err, ErrNoHistory)

	hist := &fakeHistory{execs: []database.Execution{
		{Command: "ping", Sender: "111", Status: "ok", DurationMS: 2, CreatedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)},
	}}
	c := NewCatalog(Options{History: hist})

	_, err = c.Build(loader.Descriptor{Name: "history", Action: "history", Params: map[string]string{"limit": "0"}})
	assert.Error(t, err)

	d := loader.Descriptor{Name: "history", Action: "history", Params: map[string]string{"limit": "3"}}
	assert.Equal(t, "2026-10-01 12:00:00 .ping by 111: ok (2ms)", run(t, c, d, ".history"))
	assert.Equal(t, 3, hist.limit)

	hist.execs = nil
	assert.Equal(t, "No commands recorded yet.", run(t, c, d, ".history"))

	hist.err = errors.New("db down")
	h, err := c.Build(d)
	require.NoError(t, err)
	assert.Error(t, h(context.Background(), &commands.Request{Command: &commands.Command{Name: "history"}, Replier: &captureReplier{}}))
}

func TestShippedHandlersLoadWithAuditStore(t *testing.T) {
	reg := commands.NewRegistry()
	ld := loader.New(loader.Options{
		Root:     "../../commands",
		Registry: reg,
		Builder:  NewCatalog(Options{Registry: reg, History: &fakeHistory{}}),
	})
	sum, err := ld.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sum.Failed)
	assert.ElementsMatch(t, []string{"ping", "echo", "help", "status", "greet", "history"}, sum.Loaded)
}
