// Package command executes named textual map-processing commands against a
// map held by the map store. The actual SLAM/optimization vocabulary is out
// of scope here; this package only defines the dispatch contract and a
// handful of built-ins useful for wiring and tests.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"mapfusion/internal/logging"
	"mapfusion/internal/mapstore"
)

// Runner executes a named command against a map key. Side effects occur
// only inside the map store; Runner itself holds no domain state.
type Runner interface {
	Run(ctx context.Context, store *mapstore.Store, mapKey, commandText string) error
}

// Func implements one named command. args holds the key=value pairs parsed
// out of the command text, in addition to the command name itself.
type Func func(ctx context.Context, m *mapstore.Map, args map[string]string) error

// Registry is the default Runner: a table of named commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Func
	logger   *slog.Logger
}

// NewRegistry returns a Registry pre-populated with the built-in test
// commands (noop, fail, count-vertices).
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		commands: make(map[string]Func),
		logger:   logger.With("component", "command"),
	}
	r.Register("noop", noop)
	r.Register("fail", fail)
	r.Register("count-vertices", countVertices(r.logger))
	return r
}

// Register installs fn under name, replacing any existing command of that
// name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = fn
}

// Run parses commandText as "name key=value key=value ..." and dispatches
// to the registered command of that name against the map at mapKey.
func (r *Registry) Run(ctx context.Context, store *mapstore.Store, mapKey, commandText string) error {
	name, args, err := parse(commandText)
	if err != nil {
		return err
	}

	r.mu.RLock()
	fn, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("command: unknown command %q", name)
	}

	m, ok := store.Get(mapKey)
	if !ok {
		return fmt.Errorf("command: map key %q not found", mapKey)
	}
	return fn(ctx, m, args)
}

// Name returns the leading token of a command text — its command name,
// without arguments. Used to tag status output with the currently-running
// command.
func Name(commandText string) string {
	fields := strings.Fields(commandText)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// parse splits commandText into a command name and its key=value arguments.
func parse(commandText string) (name string, args map[string]string, err error) {
	fields := strings.Fields(commandText)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("command: empty command text")
	}
	args = make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return "", nil, fmt.Errorf("command: malformed argument %q", f)
		}
		args[k] = v
	}
	return fields[0], args, nil
}

// noop does nothing and always succeeds.
func noop(context.Context, *mapstore.Map, map[string]string) error {
	return nil
}

// fail always fails, for exercising the per-submap/global command-failure
// paths in tests.
func fail(context.Context, *mapstore.Map, map[string]string) error {
	return fmt.Errorf("command: fail command invoked")
}

// countVertices logs the total vertex count across all missions in the map.
func countVertices(logger *slog.Logger) Func {
	return func(_ context.Context, m *mapstore.Map, _ map[string]string) error {
		m.RLock()
		defer m.RUnlock()
		total := 0
		for _, md := range m.Missions {
			total += len(md.Vertices)
		}
		logger.Info("vertex count", "missions", len(m.Missions), "vertices", total)
		return nil
	}
}
