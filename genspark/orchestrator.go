package genspark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/state"
)

// StateStore is the persistence the orchestrator needs. Implemented by
// *state.Store.
type StateStore interface {
	Get(path string) (*state.SyncRecord, error)
	Put(path string, rec state.SyncRecord) error
	Delete(path string) error
	DeleteBatch(paths []string) error
	MarkPending(path string) error
	All() (map[string]state.SyncRecord, error)
	ChangedSince(ts float64) ([]string, error)
}

// Options tunes an Orchestrator. Zero values select the defaults.
type Options struct {
	Strategy Strategy
	Prompter Prompter

	// GraceWindow is how long a finished download keeps suppressing
	// watcher events for its path after the cycle ends.
	GraceWindow time.Duration

	// RemoteDepth is how many folder levels below the drive root are
	// listed. Negative lists the root only.
	RemoteDepth int

	Ignore *IgnoreRules
}

const (
	defaultGraceWindow = 3 * time.Second
	defaultRemoteDepth = 1

	// cascadeConcurrency bounds parallel remote deletes during a folder
	// cascade.
	cascadeConcurrency = 4
)

// Orchestrator runs reconciliation cycles and applies single-path local
// changes. The poller and the watcher may call it concurrently: cycles
// are serialized by cycleMu, and per-path work by the lease map.
type Orchestrator struct {
	vault  *Vault
	remote RemoteStore
	store  StateStore
	ignore *IgnoreRules
	policy Policy
	leases *Leases
	depth  int
	logger *slog.Logger

	// knownFolders caches remote folders created or confirmed this cycle.
	knownFolders mapset.Set[string]

	cycleMu     sync.Mutex
	authBlocked atomic.Bool
	now         func() time.Time
}

// NewOrchestrator wires the engine together.
func NewOrchestrator(vault *Vault, remote RemoteStore, store StateStore, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.GraceWindow == 0 {
		opts.GraceWindow = defaultGraceWindow
	}
	if opts.RemoteDepth == 0 {
		opts.RemoteDepth = defaultRemoteDepth
	}
	if opts.Ignore == nil {
		opts.Ignore = NewIgnoreRules()
	}

	return &Orchestrator{
		vault:        vault,
		remote:       remote,
		store:        store,
		ignore:       opts.Ignore,
		policy:       Policy{Strategy: opts.Strategy, Prompter: opts.Prompter},
		leases:       NewLeases(opts.GraceWindow),
		depth:        opts.RemoteDepth,
		logger:       logger,
		knownFolders: mapset.NewSet[string](),
		now:          time.Now,
	}
}

// Leases exposes the in-flight map, mainly for the watcher path and tests.
func (o *Orchestrator) Leases() *Leases {
	return o.leases
}

// ResetAuth lifts the block set by an authentication failure. Call it
// after the remote client has fresh credentials.
func (o *Orchestrator) ResetAuth() {
	o.authBlocked.Store(false)
}

// noteErr latches the auth block on authentication failures and passes
// err through.
func (o *Orchestrator) noteErr(err error) error {
	if errors.Is(err, apperrors.ErrAuthentication) && !o.authBlocked.Swap(true) {
		o.logger.Error("authentication rejected, pausing all network calls until credentials are refreshed",
			slog.String("error", err.Error()),
		)
	}
	return err
}

// RunCycle performs one full reconciliation: scan both sides, classify
// against the stored baselines, resolve with the policy and execute. A
// failed action is counted and logged and the cycle moves on; only
// authentication failures and unreadable state abort it.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	if !o.cycleMu.TryLock() {
		return stats, apperrors.ErrCycleRunning
	}
	defer o.cycleMu.Unlock()

	if o.authBlocked.Load() {
		return stats, apperrors.ErrAuthBlocked
	}

	start := o.now()
	defer o.leases.StartGrace()
	o.knownFolders.Clear()

	records, err := o.store.All()
	if err != nil {
		return stats, fmt.Errorf("loading sync state: %w", err)
	}

	local, err := ScanLocal(o.vault, o.ignore, records, o.logger)
	if err != nil {
		return stats, fmt.Errorf("scanning local files: %w", err)
	}

	scan, err := ScanRemote(ctx, o.remote, o.depth, o.ignore, o.logger)
	if err != nil {
		return stats, o.noteErr(fmt.Errorf("scanning remote files: %w", err))
	}

	// Folders below the scan depth that hold local or tracked files are
	// listed directly. Otherwise their files would look deleted remotely.
	if err := scan.Cover(ctx, o.remote, parentFolders(local, records)); err != nil {
		return stats, o.noteErr(fmt.Errorf("scanning remote files: %w", err))
	}
	remote := scan.Files

	actions := Classify(local, remote, records)

	o.logger.Debug("sync cycle classified",
		slog.Int("local", len(local)),
		slog.Int("remote", len(remote)),
		slog.Int("records", len(records)),
		slog.Int("paths", len(actions)),
	)

	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if a.Kind == KindConflict {
			stats.Conflicts++
			o.logConflict(a)
		}

		d := o.policy.Decide(ctx, a)

		err := o.execute(ctx, a, d, &stats)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrAuthentication), errors.Is(err, apperrors.ErrAuthBlocked):
			return stats, o.noteErr(err)
		case errors.Is(err, apperrors.ErrInFlight):
			stats.Skipped++
			o.logger.Debug("path in flight, leaving it for the next cycle", slog.String("path", a.Path))
		default:
			stats.Errors++
			o.logger.Warn("sync action failed",
				slog.String("path", a.Path),
				slog.String("kind", a.Kind.String()),
				slog.String("decision", d.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	attrs := stats.LogAttrs()
	attrs = append(attrs, slog.Duration("took", o.now().Sub(start)))
	if changed, err := o.store.ChangedSince(unixFloat(start)); err == nil {
		attrs = append(attrs, slog.Int("records_changed", len(changed)))
	}
	o.logger.Info("sync cycle complete", attrs...)

	return stats, nil
}

func (o *Orchestrator) logConflict(a Action) {
	o.logger.Warn("conflict: both sides changed since last sync",
		slog.String("path", a.Path),
		slog.Int64("local_size", a.Local.Size),
		slog.Float64("local_mtime", a.Local.ModifiedTime),
		slog.Int64("remote_size", a.Remote.Size),
		slog.Float64("remote_mtime", a.Remote.ModifiedTime),
		slog.String("strategy", o.policy.Strategy.String()),
	)
}

// execute applies one decision and updates stats on success.
func (o *Orchestrator) execute(ctx context.Context, a Action, d Decision, stats *CycleStats) error {
	switch d {
	case DecisionNone:
		return nil

	case DecisionAdopt:
		return o.adopt(a)

	case DecisionPush:
		n, err := o.push(ctx, a.Path, a.Remote)
		if err != nil {
			return err
		}
		stats.Uploads++
		stats.BytesUp += n
		return nil

	case DecisionPull:
		n, err := o.pull(ctx, *a.Remote)
		if err != nil {
			return err
		}
		stats.Downloads++
		stats.BytesDown += n
		return nil

	case DecisionDeleteRemote:
		if err := o.deleteRemote(ctx, a.Path, a.Remote.RemoteID); err != nil {
			return err
		}
		if err := o.store.Delete(a.Path); err != nil {
			return fmt.Errorf("deleting record: %w", err)
		}
		stats.Deletions++
		o.logger.Info("deleted remote file", slog.String("path", a.Path))
		return nil

	case DecisionDeleteLocal:
		if err := o.deleteLocal(a.Path); err != nil {
			return err
		}
		stats.Deletions++
		o.logger.Info("deleted local file", slog.String("path", a.Path))
		return nil

	case DecisionForget:
		return o.store.Delete(a.Path)

	case DecisionSkip:
		stats.Skipped++
		o.logger.Info("skipped", slog.String("path", a.Path), slog.String("kind", a.Kind.String()))
		return nil

	default:
		return fmt.Errorf("unhandled decision %s", d)
	}
}

// adopt records a baseline for a path already identical on both sides.
func (o *Orchestrator) adopt(a Action) error {
	rec := state.SyncRecord{
		Size:               a.Local.Size,
		ModifiedTime:       a.Local.ModifiedTime,
		RemoteModifiedTime: a.Remote.ModifiedTime,
		QuickFingerprint:   a.Local.Fingerprint,
		RemoteID:           a.Remote.RemoteID,
		LastSyncedAt:       o.now().Unix(),
		Status:             state.StatusSynced,
	}
	if err := o.store.Put(a.Path, rec); err != nil {
		return fmt.Errorf("adopting baseline: %w", err)
	}
	o.logger.Debug("adopted baseline", slog.String("path", a.Path))
	return nil
}

// deleteLocal removes the local copy under a download lease, so the
// watcher does not turn our own delete into a remote one.
func (o *Orchestrator) deleteLocal(path string) error {
	release, ok := o.leases.AcquireDownload(path)
	if !ok {
		return fmt.Errorf("deleting local %s: %w", path, apperrors.ErrInFlight)
	}
	defer release()

	if err := o.vault.DeleteFile(path); err != nil {
		return fmt.Errorf("deleting local %s: %w: %w", path, apperrors.ErrLocalIO, err)
	}

	if err := o.store.Delete(path); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}

	return nil
}

// Poll runs a cycle immediately and then every interval until ctx is
// done. Authentication failures and unreadable state end polling; other
// cycle failures are logged and retried on the next tick.
func (o *Orchestrator) Poll(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("poller started", slog.Duration("interval", interval))

	for {
		_, err := o.RunCycle(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, apperrors.ErrCycleRunning):
			o.logger.Debug("previous cycle still running, skipping tick")
		case errors.Is(err, apperrors.ErrAuthentication),
			errors.Is(err, apperrors.ErrAuthBlocked),
			errors.Is(err, apperrors.ErrStateCorrupt):
			return fmt.Errorf("sync stopped: %w", err)
		default:
			o.logger.Warn("sync cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixFloat(secs float64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(secs*1e9))
}
