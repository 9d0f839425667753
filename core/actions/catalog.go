// Package actions provides the built-in handler kinds a handler file can name
// in its "action" field.
package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/database"
	"github.com/m3rciful/wabot/core/loader"
)

// Factory builds a handler for one descriptor.
type Factory func(d loader.Descriptor) (commands.HandlerFunc, error)

// HistoryReader returns recently audited executions.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]database.Execution, error)
}

// Options wires the catalog to its collaborators.
type Options struct {
	// Registry is listed by the help and status actions.
	Registry *commands.Registry
	// History backs the history action; nil disables it.
	History HistoryReader
	// BotName is shown by the status action.
	BotName string
}

// Catalog maps action kinds to factories. It implements loader.Builder.
type Catalog struct {
	opts Options

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns a catalog with the built-in actions registered.
func NewCatalog(opts Options) *Catalog {
	if opts.Registry == nil {
		opts.Registry = commands.NewRegistry()
	}
	if strings.TrimSpace(opts.BotName) == "" {
		opts.BotName = "wabot"
	}
	c := &Catalog{opts: opts, factories: make(map[string]Factory)}
	c.Register("reply", buildReply)
	c.Register("echo", buildEcho)
	c.Register("help", c.buildHelp)
	c.Register("status", c.buildStatus)
	c.Register("history", c.buildHistory)
	return c
}

// Register adds or replaces the factory for kind.
func (c *Catalog) Register(kind string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[strings.ToLower(kind)] = f
}

// Kinds lists the registered action kinds.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build implements loader.Builder.
func (c *Catalog) Build(d loader.Descriptor) (commands.HandlerFunc, error) {
	c.mu.RLock()
	f, ok := c.factories[d.Action]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", loader.ErrUnknownAction, d.Action, strings.Join(c.Kinds(), ", "))
	}
	h, err := f(d)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", d.Action, err)
	}
	return h, nil
}
