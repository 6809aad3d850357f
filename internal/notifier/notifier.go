// Package notifier delivers submap-ready notifications: the "shared
// filesystem location and notify the server" channel named in the system's
// purpose. The core only depends on the SubmapNotifier contract; the
// concrete fsnotify-based watcher is one collaborator satisfying it.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"mapfusion/internal/logging"
)

// Notification is one submap-ready event.
type Notification struct {
	RobotName string
	Path      string
}

// SubmapNotifier watches for new submaps and emits one Notification per
// arrival. Watch blocks until ctx is canceled or an unrecoverable error
// occurs.
type SubmapNotifier interface {
	Watch(ctx context.Context, out chan<- Notification) error
}

// FSNotifier watches one directory per robot for files matching a glob
// pattern, using fsnotify for delivery and doublestar for pattern matching
// (the same combination the pack uses for tailing log files, applied here
// to whole-file submap discovery instead of line-by-line reads).
type FSNotifier struct {
	dirs    map[string]string // robot name -> directory to watch
	pattern string            // doublestar glob matched against the file's base name
	logger  *slog.Logger
}

// NewFSNotifier returns an FSNotifier watching dirs[robotName] for files
// whose base name matches pattern (e.g. "*.submap").
func NewFSNotifier(dirs map[string]string, pattern string, logger *slog.Logger) *FSNotifier {
	return &FSNotifier{
		dirs:    dirs,
		pattern: pattern,
		logger:  logging.Default(logger).With("component", "notifier"),
	}
}

// Watch implements SubmapNotifier.
func (f *FSNotifier) Watch(ctx context.Context, out chan<- Notification) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("notifier: create watcher: %w", err)
	}
	defer watcher.Close()

	for robotName, dir := range f.dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("notifier: watch directory %s for robot %s: %w", dir, robotName, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			f.handleEvent(ctx, event, out)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("watch error", "err", err)
		}
	}
}

func (f *FSNotifier) handleEvent(ctx context.Context, event fsnotify.Event, out chan<- Notification) {
	if !event.Op.Has(fsnotify.Create) {
		return
	}

	base := filepath.Base(event.Name)
	matched, err := doublestar.Match(f.pattern, base)
	if err != nil || !matched {
		return
	}

	robotName := f.robotForDir(filepath.Dir(event.Name))
	if robotName == "" {
		return
	}

	select {
	case out <- Notification{RobotName: robotName, Path: event.Name}:
	case <-ctx.Done():
	}
}

func (f *FSNotifier) robotForDir(dir string) string {
	for name, d := range f.dirs {
		if d == dir {
			return name
		}
	}
	return ""
}
