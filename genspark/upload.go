package genspark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"

	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/state"
)

const defaultContentType = "application/octet-stream"

// Upload sends the local file at path to the drive through the
// ticket/transfer/confirm protocol. It does not touch the state store.
// Returns ErrInFlight when another upload of path is running.
func (o *Orchestrator) Upload(ctx context.Context, path string) error {
	release, ok := o.leases.AcquireUpload(path)
	if !ok {
		return fmt.Errorf("uploading %s: %w", path, apperrors.ErrInFlight)
	}
	defer release()

	info, err := o.vault.Stat(path)
	if err != nil {
		return fmt.Errorf("uploading %s: %w: %w", path, apperrors.ErrLocalIO, err)
	}

	_, err = o.upload(ctx, path, info.Size())
	return o.noteErr(err)
}

// upload runs the three remote steps for path. sent is zero when the
// drive reported the file as already present and nothing was transferred.
// The caller holds the upload lease.
func (o *Orchestrator) upload(ctx context.Context, relPath string, size int64) (sent int64, err error) {
	if o.authBlocked.Load() {
		return 0, apperrors.ErrAuthBlocked
	}

	if err := o.ensureParents(ctx, relPath); err != nil {
		return 0, err
	}

	ticket, err := o.remote.RequestUploadTicket(ctx, relPath)
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		// A previous attempt got past confirm; the content is there.
		o.logger.Debug("upload already landed", slog.String("path", relPath))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	f, err := o.vault.Open(relPath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w: %w", relPath, apperrors.ErrLocalIO, err)
	}
	defer f.Close()

	if err := o.remote.Transfer(ctx, ticket, f, size, contentType(relPath)); err != nil {
		return 0, err
	}

	if err := o.remote.Confirm(ctx, relPath, ticket.Token); err != nil && !errors.Is(err, apperrors.ErrAlreadyExists) {
		return 0, err
	}

	return size, nil
}

func contentType(relPath string) string {
	if ct := mime.TypeByExtension(path.Ext(relPath)); ct != "" {
		return ct
	}
	return defaultContentType
}

// ensureParents creates every folder above relPath that is not yet known
// to exist this cycle.
func (o *Orchestrator) ensureParents(ctx context.Context, relPath string) error {
	dir := path.Dir(relPath)
	if dir == "." {
		return nil
	}

	segs := strings.Split(dir, "/")
	for i := range segs {
		folder := strings.Join(segs[:i+1], "/")
		if o.knownFolders.Contains(folder) {
			continue
		}
		if err := o.remote.CreateFolder(ctx, "/"+folder); err != nil {
			return fmt.Errorf("creating parent folder %s: %w", folder, err)
		}
		o.knownFolders.Add(folder)
	}

	return nil
}

// push uploads the local copy of relPath and records the new baseline.
// existing is the remote copy being replaced, if any; it is deleted first
// so the ticket request does not report the path as already present.
func (o *Orchestrator) push(ctx context.Context, relPath string, existing *RemoteSnapshot) (int64, error) {
	release, ok := o.leases.AcquireUpload(relPath)
	if !ok {
		return 0, fmt.Errorf("pushing %s: %w", relPath, apperrors.ErrInFlight)
	}
	defer release()

	info, err := o.vault.Stat(relPath)
	if err != nil {
		return 0, fmt.Errorf("pushing %s: %w: %w", relPath, apperrors.ErrLocalIO, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("pushing %s: %w: not a regular file", relPath, apperrors.ErrLocalIO)
	}

	abs, err := o.vault.resolve(relPath)
	if err != nil {
		return 0, err
	}
	fp, err := quickFingerprint(abs)
	if err != nil {
		return 0, fmt.Errorf("pushing %s: %w: %w", relPath, apperrors.ErrLocalIO, err)
	}

	// A crash between the remote delete and the confirm leaves a pending
	// record with no remote copy, which the next cycle pushes again.
	if err := o.store.MarkPending(relPath); err != nil {
		return 0, fmt.Errorf("marking %s pending: %w", relPath, err)
	}

	if existing != nil && existing.RemoteID != "" {
		if err := o.remote.Delete(ctx, existing.RemoteID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return 0, fmt.Errorf("replacing %s: %w", relPath, err)
		}
	}

	sent, err := o.upload(ctx, relPath, info.Size())
	if err != nil {
		return 0, err
	}

	rec := state.SyncRecord{
		Size:             info.Size(),
		ModifiedTime:     unixSeconds(info),
		QuickFingerprint: fp,
		LastSyncedAt:     o.now().Unix(),
		Status:           state.StatusSynced,
	}
	o.settleRemote(ctx, relPath, &rec)

	if err := o.store.Put(relPath, rec); err != nil {
		return sent, fmt.Errorf("recording %s: %w", relPath, err)
	}

	o.logger.Info("uploaded", slog.String("path", relPath), slog.Int64("bytes", sent))

	return sent, nil
}

// settleRemote fills in the remote id and mtime of a freshly uploaded
// path from its parent listing. When the lookup fails the upload time
// stands in, which is never earlier than the drive's own stamp.
func (o *Orchestrator) settleRemote(ctx context.Context, relPath string, rec *state.SyncRecord) {
	snap, err := o.findRemote(ctx, relPath)
	if err == nil && snap != nil {
		rec.RemoteID = snap.RemoteID
		rec.RemoteModifiedTime = snap.ModifiedTime
		return
	}

	if err != nil {
		o.logger.Debug("looking up uploaded file", slog.String("path", relPath), slog.String("error", err.Error()))
	}
	rec.RemoteModifiedTime = unixFloat(o.now())
}

// findRemote lists the parent folder of relPath and returns the file's
// snapshot, or nil when the drive does not list it.
func (o *Orchestrator) findRemote(ctx context.Context, relPath string) (*RemoteSnapshot, error) {
	parent := path.Dir(relPath)
	if parent == "." {
		parent = ""
	} else {
		parent = "/" + parent
	}

	entries, err := o.remote.List(ctx, parent)
	if err != nil {
		return nil, o.noteErr(err)
	}

	for _, e := range entries {
		if !e.IsDir() && e.Key() == relPath {
			snap := snapshotOf(e)
			return &snap, nil
		}
	}

	return nil, nil
}

// pull streams snap over the local copy and records the new baseline.
// The download lease keeps the watcher from uploading the write back, and
// is refused while the path is being uploaded.
func (o *Orchestrator) pull(ctx context.Context, snap RemoteSnapshot) (int64, error) {
	release, ok := o.leases.AcquireDownload(snap.Path)
	if !ok {
		return 0, fmt.Errorf("pulling %s: %w", snap.Path, apperrors.ErrInFlight)
	}
	defer release()

	var (
		n     int64
		dlErr error
	)
	err := o.vault.WriteFrom(snap.Path, func(w io.Writer) error {
		n, dlErr = o.remote.Download(ctx, snap.Entry(), w)
		return dlErr
	}, fromUnixFloat(snap.ModifiedTime))
	if dlErr != nil {
		return 0, dlErr
	}
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w: %w", snap.Path, apperrors.ErrLocalIO, err)
	}

	// Record what the filesystem actually stored; its mtime precision may
	// differ from the drive's.
	info, err := o.vault.Stat(snap.Path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w: %w", snap.Path, apperrors.ErrLocalIO, err)
	}
	abs, err := o.vault.resolve(snap.Path)
	if err != nil {
		return 0, err
	}
	fp, err := quickFingerprint(abs)
	if err != nil {
		return 0, fmt.Errorf("hashing %s: %w: %w", snap.Path, apperrors.ErrLocalIO, err)
	}

	rec := state.SyncRecord{
		Size:               info.Size(),
		ModifiedTime:       unixSeconds(info),
		RemoteModifiedTime: snap.ModifiedTime,
		QuickFingerprint:   fp,
		RemoteID:           snap.RemoteID,
		LastSyncedAt:       o.now().Unix(),
		Status:             state.StatusSynced,
	}
	if err := o.store.Put(snap.Path, rec); err != nil {
		return n, fmt.Errorf("recording %s: %w", snap.Path, err)
	}

	o.logger.Info("downloaded", slog.String("path", snap.Path), slog.Int64("bytes", n))

	return n, nil
}

// deleteRemote removes relPath from the drive. With no id the parent
// listing is searched; a path the drive no longer has is success.
func (o *Orchestrator) deleteRemote(ctx context.Context, relPath, id string) error {
	if o.authBlocked.Load() {
		return apperrors.ErrAuthBlocked
	}

	release, ok := o.leases.AcquireUpload(relPath)
	if !ok {
		return fmt.Errorf("deleting remote %s: %w", relPath, apperrors.ErrInFlight)
	}
	defer release()

	if id == "" {
		snap, err := o.findRemote(ctx, relPath)
		if err != nil {
			return fmt.Errorf("deleting remote %s: %w", relPath, err)
		}
		if snap == nil {
			return nil
		}
		id = snap.RemoteID
	}

	if err := o.remote.Delete(ctx, id); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("deleting remote %s: %w", relPath, err)
	}

	return nil
}
