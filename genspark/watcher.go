package genspark

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
)

const watchTick = 500 * time.Millisecond

// changeHandler is the subset of Orchestrator the Watcher needs.
// Extracted for testability.
type changeHandler interface {
	HandleLocalChange(ctx context.Context, ev Event) error
}

// Watcher monitors the sync directory and hands debounced changes to the
// orchestrator.
type Watcher struct {
	vault    *Vault
	ignore   *IgnoreRules
	handler  changeHandler
	debounce *Debouncer
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	now      func() time.Time
}

// NewWatcher creates a file watcher over vault. debounce is the quiet
// window per path; zero selects the default.
func NewWatcher(vault *Vault, ignore *IgnoreRules, handler changeHandler, debounce time.Duration, logger *slog.Logger) *Watcher {
	if ignore == nil {
		ignore = NewIgnoreRules()
	}
	return &Watcher{
		vault:    vault,
		ignore:   ignore,
		handler:  handler,
		debounce: NewDebouncer(debounce, DefaultMaxHold),
		logger:   logger,
		now:      time.Now,
	}
}

// Watch starts watching the sync directory for changes. It blocks until
// the context is cancelled. Directories are watched recursively.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	syncDir := w.vault.Dir()

	if err := os.MkdirAll(syncDir, vaultDirPerm); err != nil {
		return fmt.Errorf("creating sync dir: %w", err)
	}

	if err := w.addRecursive(syncDir, false); err != nil {
		return fmt.Errorf("watching sync dir: %w", err)
	}

	w.logger.Info("file watcher started", slog.String("dir", syncDir))

	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}
			w.handleFSEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// handleFSEvent maps one fsnotify event onto the debouncer.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	relPath, err := w.vault.Rel(event.Name)
	if err != nil || w.ignore.Match(relPath) {
		return
	}

	now := w.now()

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files can land in a new directory before its watch exists.
			if err := w.addRecursive(event.Name, true); err != nil {
				w.logger.Warn("watching new directory", slog.String("path", relPath), slog.String("error", err.Error()))
			}
			return
		}
		if !info.Mode().IsRegular() {
			return
		}
		w.debounce.Add(Event{Kind: EventCreated, Path: relPath}, now)

	case event.Has(fsnotify.Write):
		w.debounce.Add(Event{Kind: EventModified, Path: relPath}, now)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// For rename, fsnotify fires Rename on the old path. The new path
		// fires Create separately.
		if w.watcher != nil {
			_ = w.watcher.Remove(event.Name)
		}
		w.debounce.Add(Event{Kind: EventDeleted, Path: relPath}, now)
	}
}

// flush hands every due event to the handler. Events for paths that are
// busy go back into the debouncer.
func (w *Watcher) flush(ctx context.Context) {
	for _, ev := range w.debounce.Due(w.now()) {
		err := w.handler.HandleLocalChange(ctx, ev)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrInFlight):
			w.debounce.Add(ev, w.now())
		case errors.Is(err, apperrors.ErrAuthBlocked):
			w.logger.Debug("dropping local change while auth is blocked", slog.String("path", ev.Path))
		default:
			w.logger.Warn("handling local change failed",
				slog.String("path", ev.Path),
				slog.String("event", ev.Kind.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// addRecursive watches dir and every directory below it. With seed set,
// files already present are queued as created.
func (w *Watcher) addRecursive(dir string, seed bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != w.vault.Dir() {
			relPath, relErr := w.vault.Rel(path)
			if relErr != nil || w.ignore.Match(relPath) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if seed && d.Type().IsRegular() {
				w.debounce.Add(Event{Kind: EventCreated, Path: relPath}, w.now())
			}
		}

		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}
