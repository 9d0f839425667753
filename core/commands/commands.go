// Package commands holds the command registry and the dispatcher that routes
// prefixed chat messages to registered handlers.
package commands

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrNoReplier is returned by Request.Reply when no outbound channel is wired.
	ErrNoReplier = errors.New("commands: no replier configured")
	// ErrSkipped is returned by middleware that declined to run the handler.
	// The dispatcher logs it as a skip rather than an execution or a failure.
	ErrSkipped = errors.New("command skipped")
)

// Message is an inbound chat message. It is passed by value and never modified.
type Message struct {
	ID        string
	Sender    string
	Chat      string
	PushName  string
	Body      string
	Timestamp time.Time
	IsGroup   bool
}

// Replier delivers a text reply into the conversation a message came from.
type Replier interface {
	Reply(ctx context.Context, to Message, text string) error
}

// HandlerFunc executes a command.
type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Command is a registered handler with its metadata.
// A Command is never mutated after registration; reloads register a new value.
type Command struct {
	Name        string
	Description string
	AdminOnly   bool
	Hidden      bool
	// Kind names the built-in action the handler was built from.
	Kind string
	// Source is the handler file path relative to the commands root.
	Source   string
	LoadedAt time.Time
	Handler  HandlerFunc
}

// Request is what a handler receives for one matched message.
type Request struct {
	Message Message
	Prefix  string
	Command *Command
	// Args are the whitespace separated tokens after the command token.
	Args    []string
	Replier Replier
}

// Reply answers the message that triggered the request.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.Replier == nil {
		return ErrNoReplier
	}
	return r.Replier.Reply(ctx, r.Message, text)
}

// ArgsText returns the message body after the command token with the
// original spacing preserved.
func (r *Request) ArgsText() string {
	body := strings.TrimSpace(r.Message.Body)
	i := strings.IndexFunc(body, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(body[i:])
}

// Chain applies middlewares so that the first one is the outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
