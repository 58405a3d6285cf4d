package genspark

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stolot0mt0m/genspark-sync-lite/internal/state"
)

// LocalSnapshot is one local file as seen by a scan.
type LocalSnapshot struct {
	Path         string
	Size         int64
	ModifiedTime float64
	Fingerprint  string
}

// unixSeconds converts file info mtime to fractional unix seconds.
func unixSeconds(info fs.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / 1e9
}

// ScanLocal walks the sync directory and snapshots every regular file the
// ignore rules allow. When a record matches a file's size and mtime its
// fingerprint is reused; otherwise the file prefix is hashed. Unreadable
// files are logged and left out rather than failing the scan.
func ScanLocal(vault *Vault, ignore *IgnoreRules, records map[string]state.SyncRecord, logger *slog.Logger) (map[string]LocalSnapshot, error) {
	root := vault.Dir()
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("stat sync dir: %w", err)
	}

	out := make(map[string]LocalSnapshot)
	rehashed, reused := 0, 0

	err := filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if absPath == root {
				return err
			}
			logger.Warn("scan: skipping unreadable entry",
				slog.String("path", absPath),
				slog.String("error", err.Error()),
			)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if absPath == root {
			return nil
		}

		relPath, relErr := vault.Rel(absPath)
		if relErr != nil {
			return nil
		}

		if ignore.Match(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks are never followed or synced.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("scan: stat failed", slog.String("path", relPath), slog.String("error", err.Error()))
			return nil
		}

		snap := LocalSnapshot{
			Path:         relPath,
			Size:         info.Size(),
			ModifiedTime: unixSeconds(info),
		}

		if rec, ok := records[relPath]; ok && rec.QuickFingerprint != "" &&
			rec.Size == snap.Size && rec.ModifiedTime == snap.ModifiedTime {
			snap.Fingerprint = rec.QuickFingerprint
			reused++
		} else {
			fp, err := quickFingerprint(absPath)
			if err != nil {
				logger.Warn("scan: hashing failed", slog.String("path", relPath), slog.String("error", err.Error()))
				return nil
			}
			snap.Fingerprint = fp
			rehashed++
		}

		out[relPath] = snap

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking sync dir: %w", err)
	}

	logger.Debug("local scan complete",
		slog.Int("files", len(out)),
		slog.Int("hashed", rehashed),
		slog.Int("reused", reused),
	)

	return out, nil
}
