package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/m3rciful/wabot/core/commands"
	"gopkg.in/yaml.v3"
)

// DefaultAction is used for descriptors that do not name one.
const DefaultAction = "reply"

// Descriptor is the content of one handler file.
type Descriptor struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Action      string            `yaml:"action"`
	AdminOnly   bool              `yaml:"admin_only"`
	Hidden      bool              `yaml:"hidden"`
	Params      map[string]string `yaml:"params"`
}

// Param returns the named parameter, or def when it is blank.
func (d Descriptor) Param(key, def string) string {
	if v, ok := d.Params[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Builder turns a descriptor into a handler.
type Builder interface {
	Build(d Descriptor) (commands.HandlerFunc, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(d Descriptor) (commands.HandlerFunc, error)

// Build calls f(d).
func (f BuilderFunc) Build(d Descriptor) (commands.HandlerFunc, error) { return f(d) }

// ParseDescriptor decodes a handler file strictly and validates it.
// Unknown keys are rejected so typos do not silently change behaviour.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return d, ErrEmptyDescriptor
		}
		return d, fmt.Errorf("decode: %w", err)
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return d, ErrNoName
	}
	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	if d.Action == "" {
		d.Action = DefaultAction
	}
	return d, nil
}

// unreachableReason explains why dispatch can never match name, or returns "".
func unreachableReason(name string) string {
	switch {
	case strings.ContainsFunc(name, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' }):
		return "whitespace"
	case name != strings.ToLower(name):
		return "uppercase"
	}
	return ""
}
