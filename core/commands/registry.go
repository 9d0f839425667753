package commands

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInvalidCommand is returned for commands without a name or a handler.
var ErrInvalidCommand = errors.New("commands: invalid command")

// Registry maps command names to commands. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register inserts cmd or replaces the entry with the same name.
// It reports whether an existing entry was replaced.
func (r *Registry) Register(cmd *Command) (bool, error) {
	if cmd == nil {
		return false, fmt.Errorf("%w: nil", ErrInvalidCommand)
	}
	if cmd.Name == "" || cmd.Handler == nil {
		return false, fmt.Errorf("%w: name=%q handler_nil=%t", ErrInvalidCommand, cmd.Name, cmd.Handler == nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.commands[cmd.Name]
	r.commands[cmd.Name] = cmd
	return replaced, nil
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Commands returns a snapshot of all commands sorted by name.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	list := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		list = append(list, cmd)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Visible returns the sorted commands that are neither hidden nor admin-only.
func (r *Registry) Visible() []*Command {
	all := r.Commands()
	list := all[:0]
	for _, cmd := range all {
		if cmd.Hidden || cmd.AdminOnly {
			continue
		}
		list = append(list, cmd)
	}
	return list
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}
