package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/queue"
)

type recordingReplier struct {
	mu      sync.Mutex
	replies []string
}

func (r *recordingReplier) Reply(_ context.Context, _ Message, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return nil
}

type counter struct {
	mu   sync.Mutex
	reqs []*Request
}

func (c *counter) handler(context.Context, *Request) error { return nil }

func (c *counter) record(_ context.Context, req *Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func newTestDispatcher(t *testing.T, mws ...Middleware) (*Dispatcher, *Registry, *recordingReplier) {
	t.Helper()
	reg := NewRegistry()
	rep := &recordingReplier{}
	d := NewDispatcher(DispatcherOptions{Registry: reg, Replier: rep, Middlewares: mws})
	return d, reg, rep
}

func register(t *testing.T, reg *Registry, name string, h HandlerFunc) {
	t.Helper()
	_, err := reg.Register(&Command{Name: name, Source: name + ".yaml", Handler: h})
	require.NoError(t, err)
}

func TestDispatchEveryPrefixInvokesOnce(t *testing.T) {
	for _, prefix := range DefaultPrefixes {
		t.Run(prefix, func(t *testing.T) {
			d, reg, _ := newTestDispatcher(t)
			c := &counter{}
			register(t, reg, "ping", c.record)
			other := &counter{}
			register(t, reg, "pong", other.record)

			d.Dispatch(context.Background(), Message{Body: prefix + "ping"})
			d.Dispatch(context.Background(), Message{Body: prefix + "ping with args"})

			assert.Equal(t, 2, c.count())
			assert.Zero(t, other.count())
		})
	}
}

func TestDispatchIgnoresUnprefixedAndUnknown(t *testing.T) {
	d, reg, rep := newTestDispatcher(t)
	c := &counter{}
	register(t, reg, "ping", c.record)

	for _, body := range []string{"ping", "", "   ", "hello .ping", ".", "?ping", ".pingx", "!unknown"} {
		assert.NotPanics(t, func() { d.Dispatch(context.Background(), Message{Body: body}) }, body)
	}
	assert.Zero(t, c.count())
	assert.Empty(t, rep.replies)
}

func TestDispatchCaseInsensitiveToken(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	c := &counter{}
	register(t, reg, "ping", c.record)

	d.Dispatch(context.Background(), Message{Body: ".Ping"})
	d.Dispatch(context.Background(), Message{Body: ".PING"})
	d.Dispatch(context.Background(), Message{Body: ".ping"})
	assert.Equal(t, 3, c.count())
}

func TestDispatchFirstPrefixWins(t *testing.T) {
	reg := NewRegistry()
	c := &counter{}
	register(t, reg, "!ping", c.record)
	plain := &counter{}
	register(t, reg, "ping", plain.record)

	d := NewDispatcher(DispatcherOptions{Registry: reg, Prefixes: []string{"!", "!!"}})
	d.Dispatch(context.Background(), Message{Body: "!!ping"})
	assert.Equal(t, 1, c.count(), "first configured prefix is stripped, not the longest")
	assert.Zero(t, plain.count())

	prefix, name, ok := d.Match("!!ping")
	assert.True(t, ok)
	assert.Equal(t, "!", prefix)
	assert.Equal(t, "!ping", name)
}

func TestDispatchPassesFullMessage(t *testing.T) {
	d, reg, rep := newTestDispatcher(t)
	c := &counter{}
	register(t, reg, "ping", func(ctx context.Context, req *Request) error {
		_ = c.record(ctx, req)
		return req.Reply(ctx, "pong")
	})

	msg := Message{ID: "3EB0", Sender: "111@s.whatsapp.net", Chat: "111@s.whatsapp.net", Body: "!ping  extra   args"}
	d.Dispatch(context.Background(), msg)

	require.Equal(t, 1, c.count())
	req := c.reqs[0]
	assert.Equal(t, msg, req.Message)
	assert.Equal(t, "!", req.Prefix)
	assert.Equal(t, "ping", req.Command.Name)
	assert.Equal(t, []string{"extra", "args"}, req.Args)
	assert.Equal(t, "extra   args", req.ArgsText())
	assert.Equal(t, []string{"pong"}, rep.replies)
}

func TestDispatchIsolatesHandlerFailures(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	register(t, reg, "boom", func(context.Context, *Request) error { panic("kaboom") })
	register(t, reg, "fail", func(context.Context, *Request) error { return errors.New("failed") })
	c := &counter{}
	register(t, reg, "ping", c.record)

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), Message{Body: ".boom"})
		d.Dispatch(context.Background(), Message{Body: ".fail"})
	})
	d.Dispatch(context.Background(), Message{Body: ".ping"})
	assert.Equal(t, 1, c.count())
}

func TestDispatchRecoversMiddlewarePanic(t *testing.T) {
	exploding := func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.Command.Name == "boom" {
				panic("middleware")
			}
			return next(ctx, req)
		}
	}
	d, reg, _ := newTestDispatcher(t, exploding)
	register(t, reg, "boom", (&counter{}).handler)
	c := &counter{}
	register(t, reg, "ping", c.record)

	assert.NotPanics(t, func() { d.Dispatch(context.Background(), Message{Body: ".boom"}) })
	d.Dispatch(context.Background(), Message{Body: ".ping"})
	assert.Equal(t, 1, c.count())
}

func TestDispatchMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	d, reg, _ := newTestDispatcher(t, mw("outer"), nil, mw("inner"))
	register(t, reg, "ping", func(context.Context, *Request) error {
		order = append(order, "handler")
		return nil
	})

	d.Dispatch(context.Background(), Message{Body: "#ping"})
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestDispatchUsesReplacedHandler(t *testing.T) {
	d, reg, rep := newTestDispatcher(t)
	reply := func(text string) HandlerFunc {
		return func(ctx context.Context, req *Request) error { return req.Reply(ctx, text) }
	}
	register(t, reg, "ping", reply("pong"))
	d.Dispatch(context.Background(), Message{Body: ".ping"})

	register(t, reg, "ping", reply("pong v2"))
	d.Dispatch(context.Background(), Message{Body: ".ping"})

	assert.Equal(t, []string{"pong", "pong v2"}, rep.replies)
}

func TestRequestReplyWithoutReplier(t *testing.T) {
	req := &Request{Message: Message{Body: ".ping"}}
	assert.ErrorIs(t, req.Reply(context.Background(), "x"), ErrNoReplier)
	assert.Equal(t, "", req.ArgsText())
}

// captureCMD redirects the dispatch logger into a buffer for one test.
func captureCMD(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := logger.CMD
	logger.CMD = slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { logger.CMD = prev })
	return buf
}

func TestDispatchLogsSkippedCommand(t *testing.T) {
	buf := captureCMD(t)
	gate := func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.Command.Name == "secret" {
				return fmt.Errorf("%w: admin_only", ErrSkipped)
			}
			return next(ctx, req)
		}
	}
	d, reg, _ := newTestDispatcher(t, gate)
	secret := &counter{}
	register(t, reg, "secret", secret.record)
	register(t, reg, "ping", (&counter{}).handler)

	d.Dispatch(context.Background(), Message{Sender: "333@s.whatsapp.net", Body: ".secret"})
	assert.Zero(t, secret.count())
	assert.Contains(t, buf.String(), "msg=command.skipped")
	assert.Contains(t, buf.String(), "status=skipped")
	assert.NotContains(t, buf.String(), "command.executed")

	d.Dispatch(context.Background(), Message{Sender: "333@s.whatsapp.net", Body: ".ping"})
	assert.Contains(t, buf.String(), "msg=command.executed")
}

func TestDispatchPrefixKeepsConfiguredCase(t *testing.T) {
	reg := NewRegistry()
	c := &counter{}
	register(t, reg, "ping", c.record)

	d := NewDispatcher(DispatcherOptions{Registry: reg, Prefixes: []string{"Bot:", "!"}})
	assert.Equal(t, []string{"Bot:", "!"}, d.Prefixes())

	d.Dispatch(context.Background(), Message{Body: "Bot:ping"})
	d.Dispatch(context.Background(), Message{Body: "bot:ping"})
	assert.Zero(t, c.count(), "the token is lowercased, the prefix is not")

	d.Dispatch(context.Background(), Message{Body: "!PING"})
	assert.Equal(t, 1, c.count())
}

func TestSubmitDoesNotWaitForSlowHandler(t *testing.T) {
	jobs := queue.New(queue.Options{Name: "cmd.dispatch", Workers: 2, MaxDuration: 5 * time.Second})
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		jobs.Close()
	})

	reg := NewRegistry()
	rep := &recordingReplier{}
	d := NewDispatcher(DispatcherOptions{Registry: reg, Replier: rep, Jobs: jobs})
	register(t, reg, "slow", func(ctx context.Context, req *Request) error {
		<-release
		return nil
	})
	register(t, reg, "ping", func(ctx context.Context, req *Request) error { return req.Reply(ctx, "pong") })

	submitted := make(chan struct{})
	go func() {
		d.Submit(context.Background(), Message{Sender: "111@s.whatsapp.net", Body: ".slow"})
		d.Submit(context.Background(), Message{Sender: "222@s.whatsapp.net", Body: ".ping"})
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a running handler")
	}
	assert.Eventually(t, func() bool {
		rep.mu.Lock()
		defer rep.mu.Unlock()
		return len(rep.replies) == 1 && rep.replies[0] == "pong"
	}, time.Second, 10*time.Millisecond)
}

func TestSubmitTimesOutHandler(t *testing.T) {
	jobs := queue.New(queue.Options{Workers: 1, MaxDuration: 20 * time.Millisecond})
	reg := NewRegistry()
	d := NewDispatcher(DispatcherOptions{Registry: reg, Jobs: jobs})

	done := make(chan error, 1)
	register(t, reg, "wait", func(ctx context.Context, req *Request) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})

	d.Submit(context.Background(), Message{Body: ".wait"})
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}
	jobs.Close()
}

func TestSubmitWithoutQueueDispatchesInline(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	c := &counter{}
	register(t, reg, "ping", c.record)

	d.Submit(context.Background(), Message{Body: ".ping"})
	d.Submit(context.Background(), Message{Body: "no prefix"})
	assert.Equal(t, 1, c.count())
}
