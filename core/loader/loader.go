// Package loader discovers handler files below a root directory and registers
// the commands they describe.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/wabot/core/commands"
	"github.com/m3rciful/wabot/core/logger"
)

// Options configures a Loader.
type Options struct {
	Root      string
	Extension string
	Registry  *commands.Registry
	Builder   Builder
}

// Summary is the result of a bulk load.
type Summary struct {
	// Loaded lists registered command names in walk order.
	Loaded []string
	Failed []*LoadError
}

// Loader loads handler files into a registry.
type Loader struct {
	root    string
	ext     string
	reg     *commands.Registry
	builder Builder

	mu      sync.Mutex
	sources map[string]string // rel path -> command name
}

// New creates a Loader. Extension defaults to ".yaml"; the root is made absolute.
func New(opts Options) *Loader {
	ext := opts.Extension
	if ext == "" {
		ext = ".yaml"
	}
	reg := opts.Registry
	if reg == nil {
		reg = commands.NewRegistry()
	}
	root := filepath.Clean(opts.Root)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Loader{
		root:    root,
		ext:     ext,
		reg:     reg,
		builder: opts.Builder,
		sources: make(map[string]string),
	}
}

// Root returns the absolute commands root.
func (l *Loader) Root() string { return l.root }

// Registry returns the registry commands are loaded into.
func (l *Loader) Registry() *commands.Registry { return l.reg }

// IsHandlerFile reports whether path has the handler extension.
func (l *Loader) IsHandlerFile(path string) bool {
	return strings.HasSuffix(path, l.ext)
}

// LoadAll walks the root depth-first and loads every handler file.
// A file that fails to load is logged and recorded in the summary; the walk
// goes on. The error is non-nil only when the root cannot be walked.
func (l *Loader) LoadAll(ctx context.Context) (Summary, error) {
	var sum Summary
	start := time.Now()
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == l.root {
				return walkErr
			}
			lerr := &LoadError{Path: path, Err: walkErr}
			sum.Failed = append(sum.Failed, lerr)
			l.logFailure(ctx, "command.load_failed", lerr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || !l.IsHandlerFile(path) {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		cmd, err := l.LoadOne(ctx, rel)
		if err != nil {
			var lerr *LoadError
			if !errors.As(err, &lerr) {
				lerr = &LoadError{Path: rel, Err: err}
			}
			sum.Failed = append(sum.Failed, lerr)
			l.logFailure(ctx, "command.load_failed", lerr)
			return nil
		}
		sum.Loaded = append(sum.Loaded, cmd.Name)
		return nil
	})
	if err != nil {
		logger.Loader.LogAttrs(ctx, slog.LevelError, "commands.load_all",
			slog.String("status", "fail"),
			slog.String("path", l.root),
			slog.String("err", err.Error()),
		)
		return sum, fmt.Errorf("loader: walk %s: %w", l.root, err)
	}

	names, truncated := logger.SummarizeStrings(sum.Loaded, 20)
	logger.Loader.LogAttrs(ctx, slog.LevelInfo, "commands.load_all",
		slog.String("status", "ok"),
		slog.String("path", l.root),
		slog.Int("loaded", len(sum.Loaded)),
		slog.Int("failed", len(sum.Failed)),
		slog.String("payload", names),
		slog.Bool("truncated", truncated),
		slog.Duration("duration", logger.Took(start)),
	)
	return sum, nil
}

// LoadOne loads the handler file at rel, relative to the root, and registers
// its command. Nothing is registered unless the file is read, decoded,
// validated and built successfully. Errors are *LoadError.
func (l *Loader) LoadOne(ctx context.Context, rel string) (*commands.Command, error) {
	rel, err := l.relative(rel)
	if err != nil {
		return nil, &LoadError{Path: rel, Err: err}
	}
	data, err := os.ReadFile(filepath.Join(l.root, rel))
	if err != nil {
		return nil, &LoadError{Path: rel, Err: err}
	}
	desc, err := ParseDescriptor(data)
	if err != nil {
		return nil, &LoadError{Path: rel, Err: err}
	}
	if l.builder == nil {
		return nil, &LoadError{Path: rel, Err: fmt.Errorf("%w %q: no builder configured", ErrUnknownAction, desc.Action)}
	}
	handler, err := l.builder.Build(desc)
	if err != nil {
		return nil, &LoadError{Path: rel, Err: err}
	}

	cmd := &commands.Command{
		Name:        desc.Name,
		Description: strings.TrimSpace(desc.Description),
		AdminOnly:   desc.AdminOnly,
		Hidden:      desc.Hidden,
		Kind:        desc.Action,
		Source:      rel,
		LoadedAt:    time.Now(),
		Handler:     handler,
	}
	replaced, err := l.reg.Register(cmd)
	if err != nil {
		return nil, &LoadError{Path: rel, Err: err}
	}

	l.mu.Lock()
	prev, hadPrev := l.sources[rel]
	l.sources[rel] = cmd.Name
	l.mu.Unlock()

	attrs := []slog.Attr{
		slog.String("command", cmd.Name),
		slog.String("path", rel),
		slog.String("action", cmd.Kind),
		slog.Bool("replaced", replaced),
	}
	if hadPrev && prev != cmd.Name {
		// The old name stays registered; commands are never removed.
		attrs = append(attrs, slog.String("reason", "renamed from "+prev))
	}
	logger.Loader.LogAttrs(ctx, slog.LevelInfo, "command.loaded", attrs...)
	if reason := unreachableReason(cmd.Name); reason != "" {
		logger.Loader.LogAttrs(ctx, slog.LevelWarn, "command.unreachable",
			slog.String("command", cmd.Name),
			slog.String("path", rel),
			slog.String("reason", reason),
		)
	}
	return cmd, nil
}

// Unload forgets the cached descriptor of rel. The registry is not touched,
// so the command stays callable until a new load replaces it.
func (l *Loader) Unload(rel string) {
	rel, err := l.relative(rel)
	if err != nil {
		return
	}
	l.mu.Lock()
	delete(l.sources, rel)
	l.mu.Unlock()
}

// Reload unloads rel and loads it again. On failure the previously
// registered command keeps serving.
func (l *Loader) Reload(ctx context.Context, rel string) error {
	start := time.Now()
	prev, known := l.Sources()[filepath.Clean(rel)]
	l.Unload(rel)
	cmd, err := l.LoadOne(ctx, rel)
	if err != nil {
		if known {
			// The old command still serves, so the file stays known.
			l.mu.Lock()
			l.sources[filepath.Clean(rel)] = prev
			l.mu.Unlock()
		}
		var lerr *LoadError
		if !errors.As(err, &lerr) {
			lerr = &LoadError{Path: rel, Err: err}
		}
		l.logFailure(ctx, "command.reload_failed", lerr)
		return err
	}
	logger.Loader.LogAttrs(ctx, slog.LevelInfo, "command.reloaded",
		slog.String("status", "ok"),
		slog.String("command", cmd.Name),
		slog.String("path", cmd.Source),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Known reports whether rel was loaded successfully before.
func (l *Loader) Known(rel string) bool {
	rel, err := l.relative(rel)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sources[rel]
	return ok
}

// Sources returns a copy of the file to command name cache.
func (l *Loader) Sources() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.sources))
	for k, v := range l.sources {
		out[k] = v
	}
	return out
}

// SourceList returns the cached file paths sorted.
func (l *Loader) SourceList() []string {
	src := l.Sources()
	list := make([]string, 0, len(src))
	for k := range src {
		list = append(list, k)
	}
	sort.Strings(list)
	return list
}

// relative cleans p and makes it relative to the root. Absolute paths
// inside the root are accepted.
func (l *Loader) relative(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return p, fmt.Errorf("%w: %v", ErrOutsideRoot, err)
		}
		p = rel
	}
	p = filepath.Clean(p)
	if p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) || filepath.IsAbs(p) {
		return p, ErrOutsideRoot
	}
	return p, nil
}

func (l *Loader) logFailure(ctx context.Context, event string, lerr *LoadError) {
	logger.Loader.LogAttrs(ctx, slog.LevelError, event,
		slog.String("status", "fail"),
		slog.String("path", lerr.Path),
		slog.String("err", logger.SanitizeLimit(lerr.Err.Error(), 512)),
	)
}
