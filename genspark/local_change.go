package genspark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/state"
	"golang.org/x/sync/errgroup"
)

// EventKind is the kind of a debounced local change.
type EventKind int

const (
	EventCreated EventKind = iota
	EventModified
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a single local change, keyed by normalized relative path.
type Event struct {
	Kind EventKind
	Path string
}

// maxCascadeDepth bounds the remote walk below a deleted folder.
const maxCascadeDepth = 16

// HandleLocalChange applies one local change to the drive without waiting
// for the next cycle. Paths the orchestrator is itself writing are
// ignored, as are ignored paths and non-regular files.
func (o *Orchestrator) HandleLocalChange(ctx context.Context, ev Event) error {
	if o.authBlocked.Load() {
		return apperrors.ErrAuthBlocked
	}

	relPath := normalizePath(ev.Path)
	if relPath == "" || o.ignore.Match(relPath) {
		return nil
	}

	if o.leases.Downloading(relPath) {
		o.logger.Debug("ignoring change to path being written by sync",
			slog.String("path", relPath),
			slog.String("event", ev.Kind.String()),
		)
		return nil
	}

	var err error
	switch ev.Kind {
	case EventDeleted:
		// Save-by-rename editors report a delete for a path that exists
		// again by the time the event is flushed.
		if _, statErr := o.vault.Stat(relPath); statErr == nil {
			err = o.pushChanged(ctx, relPath)
		} else {
			err = o.handleDeleted(ctx, relPath)
		}
	default:
		err = o.pushChanged(ctx, relPath)
	}

	return o.noteErr(err)
}

// pushChanged uploads a created or modified file. A file with no record
// that the drive already holds is left for the next cycle, where the
// policy decides between the two copies.
func (o *Orchestrator) pushChanged(ctx context.Context, relPath string) error {
	info, err := o.vault.Stat(relPath)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}

	rec, err := o.store.Get(relPath)
	if err != nil {
		return fmt.Errorf("reading record for %s: %w", relPath, err)
	}

	var existing *RemoteSnapshot
	if rec != nil {
		if rec.Status != state.StatusPending && rec.Size == info.Size() && rec.ModifiedTime == unixSeconds(info) {
			return nil
		}
		if rec.RemoteID != "" {
			existing = &RemoteSnapshot{Path: relPath, RemoteID: rec.RemoteID}
		}
	} else {
		snap, err := o.findRemote(ctx, relPath)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", relPath, err)
		}
		if snap != nil {
			o.logger.Info("new local file also exists remotely, leaving it for the next cycle",
				slog.String("path", relPath),
			)
			return nil
		}
	}

	_, err = o.push(ctx, relPath, existing)
	return err
}

// handleDeleted removes a deleted file from the drive, or every file
// below a deleted folder.
func (o *Orchestrator) handleDeleted(ctx context.Context, relPath string) error {
	rec, err := o.store.Get(relPath)
	if err != nil {
		return fmt.Errorf("reading record for %s: %w", relPath, err)
	}

	if rec == nil {
		return o.deleteFolder(ctx, relPath)
	}

	if err := o.deleteRemote(ctx, relPath, rec.RemoteID); err != nil {
		return err
	}
	if err := o.store.Delete(relPath); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}

	o.logger.Info("deleted remote file", slog.String("path", relPath))

	return nil
}

// deleteFolder deletes every tracked and every remote file under dir.
// Paths deleted successfully leave the store in one batch; the rest are
// reported together and retried by the next cycle.
func (o *Orchestrator) deleteFolder(ctx context.Context, dir string) error {
	prefix := dir + "/"
	targets := make(map[string]string)

	records, err := o.store.All()
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	for p, rec := range records {
		if strings.HasPrefix(p, prefix) {
			targets[p] = rec.RemoteID
		}
	}

	remote, err := o.listTree(ctx, dir)
	if err != nil {
		return err
	}
	for p, snap := range remote {
		if id, ok := targets[p]; !ok || id == "" {
			targets[p] = snap.RemoteID
		}
	}

	if len(targets) == 0 {
		o.logger.Debug("deleted path was not tracked", slog.String("path", dir))
		return nil
	}

	var (
		mu      sync.Mutex
		deleted []string
		errs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cascadeConcurrency)

	for p, id := range targets {
		g.Go(func() error {
			err := o.deleteRemote(gctx, p, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			deleted = append(deleted, p)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(deleted)
	if err := o.store.DeleteBatch(deleted); err != nil {
		errs = append(errs, fmt.Errorf("deleting records: %w", err))
	}

	o.logger.Info("deleted remote folder contents",
		slog.String("path", dir),
		slog.Int("deleted", len(deleted)),
		slog.Int("failed", len(targets)-len(deleted)),
	)

	return errors.Join(errs...)
}

// listTree returns every remote file below dir that the ignore rules do
// not exclude. A folder the drive does not know yields nothing.
func (o *Orchestrator) listTree(ctx context.Context, dir string) (map[string]RemoteSnapshot, error) {
	out := make(map[string]RemoteSnapshot)

	type folder struct {
		path  string
		level int
	}
	queue := []folder{{path: "/" + dir}}
	seen := map[string]bool{dir: true}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		entries, err := o.remote.List(ctx, f.path)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", f.path, err)
		}

		for _, e := range entries {
			key := e.Key()
			if !strings.HasPrefix(key, dir+"/") || o.ignore.Match(key) {
				continue
			}
			if e.IsDir() {
				if f.level < maxCascadeDepth && !seen[key] {
					seen[key] = true
					queue = append(queue, folder{path: e.Path, level: f.level + 1})
				}
				continue
			}
			out[key] = snapshotOf(e)
		}
	}

	return out, nil
}
