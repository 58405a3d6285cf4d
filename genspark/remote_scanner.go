package genspark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
)

// thumbnailPattern matches preview images the drive generates next to
// uploaded media. They are not user files.
const thumbnailPattern = "thumb_*.jpg"

// RemoteSnapshot is one remote file as seen by a scan.
type RemoteSnapshot struct {
	Path         string
	Size         int64
	ModifiedTime float64
	RemoteID     string
	Name         string

	// VirtualPath is the drive's own path for the entry, leading slash
	// included. Downloads address files by it.
	VirtualPath string
	MimeType    string
}

// Entry converts the snapshot back into the listing form the client takes.
func (s RemoteSnapshot) Entry() RemoteEntry {
	return RemoteEntry{
		ID:           s.RemoteID,
		Name:         s.Name,
		Path:         s.VirtualPath,
		Type:         entryTypeFile,
		Size:         s.Size,
		ModifiedTime: s.ModifiedTime,
		MimeType:     s.MimeType,
	}
}

func snapshotOf(e RemoteEntry) RemoteSnapshot {
	return RemoteSnapshot{
		Path:         e.Key(),
		Size:         e.Size,
		ModifiedTime: e.ModifiedTime,
		RemoteID:     e.ID,
		Name:         e.Name,
		VirtualPath:  e.Path,
		MimeType:     e.MimeType,
	}
}

func isThumbnail(name string) bool {
	ok, _ := doublestar.Match(thumbnailPattern, name)
	return ok
}

// RemoteScan is what one remote scan saw.
type RemoteScan struct {
	Files map[string]RemoteSnapshot

	// Listed holds the key of every folder whose listing went into Files,
	// "" for the root. A path under a folder that was never listed is
	// unknown, not absent.
	Listed mapset.Set[string]

	// dirs holds every non-ignored folder seen in a listing.
	dirs   mapset.Set[string]
	ignore *IgnoreRules
	thumbs int
}

func newRemoteScan(ignore *IgnoreRules) *RemoteScan {
	return &RemoteScan{
		Files:  make(map[string]RemoteSnapshot),
		Listed: mapset.NewThreadUnsafeSet[string](),
		dirs:   mapset.NewThreadUnsafeSet[string](),
		ignore: ignore,
	}
}

// listFolder lists one folder into s and returns the subfolders that are
// not ignored. virtual is the drive path to list, "" for the root.
func (s *RemoteScan) listFolder(ctx context.Context, lister RemoteStore, key, virtual string) ([]RemoteEntry, error) {
	entries, err := lister.List(ctx, virtual)
	if err != nil {
		return nil, fmt.Errorf("scanning remote folder %q: %w", virtual, err)
	}
	s.Listed.Add(key)

	var dirs []RemoteEntry
	for _, e := range entries {
		k := e.Key()
		if k == "" || s.ignore.Match(k) {
			continue
		}

		if e.IsDir() {
			s.dirs.Add(k)
			dirs = append(dirs, e)
			continue
		}

		if isThumbnail(path.Base(k)) {
			s.thumbs++
			continue
		}

		s.Files[k] = snapshotOf(e)
	}

	return dirs, nil
}

// Cover lists every folder in dirs that the scan has not listed yet, so
// files there are compared with what the drive holds instead of looking
// deleted. A folder that a listed ancestor shows to be missing, or that
// the drive reports as not found, counts as listed and empty. Cover does
// not recurse.
func (s *RemoteScan) Cover(ctx context.Context, lister RemoteStore, dirs []string) error {
	for _, dir := range dirs {
		if s.Listed.Contains(dir) || s.ignore.Match(dir) {
			continue
		}

		if s.knownAbsent(dir) {
			s.Listed.Add(dir)
			continue
		}

		if _, err := s.listFolder(ctx, lister, dir, "/"+dir); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				s.Listed.Add(dir)
				continue
			}
			return err
		}
	}

	return nil
}

// knownAbsent reports whether the nearest listed ancestor of dir lacks
// the folder leading down to it. The root is always listed.
func (s *RemoteScan) knownAbsent(dir string) bool {
	child := dir
	for {
		parent := parentKey(child)
		if s.Listed.Contains(parent) {
			return !s.dirs.Contains(child)
		}
		if parent == "" {
			return false
		}
		child = parent
	}
}

func parentKey(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// ScanRemote lists the drive root and then every folder down to depth
// levels below it, returning a snapshot per file keyed like ScanLocal.
// Paths matching ignore are left out, exactly as ScanLocal leaves them
// out. A failed listing fails the whole scan: a partial snapshot would
// make every file in the missing folder look deleted.
func ScanRemote(ctx context.Context, lister RemoteStore, depth int, ignore *IgnoreRules, logger *slog.Logger) (*RemoteScan, error) {
	scan := newRemoteScan(ignore)

	type folder struct {
		key     string
		virtual string
		level   int
	}

	queue := []folder{{}}
	seen := map[string]bool{"": true}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		dirs, err := scan.listFolder(ctx, lister, f.key, f.virtual)
		if err != nil {
			return nil, err
		}

		if f.level >= depth {
			continue
		}
		for _, d := range dirs {
			key := d.Key()
			if !seen[key] {
				seen[key] = true
				queue = append(queue, folder{key: key, virtual: d.Path, level: f.level + 1})
			}
		}
	}

	logger.Debug("remote scan complete",
		slog.Int("files", len(scan.Files)),
		slog.Int("folders", scan.Listed.Cardinality()-1),
		slog.Int("thumbnails_skipped", scan.thumbs),
	)

	return scan, nil
}

// parentFolders returns the sorted, distinct parent folder keys of the
// local and recorded paths, "" for files at the root.
func parentFolders[L, R any](local map[string]L, records map[string]R) []string {
	dirs := mapset.NewThreadUnsafeSet[string]()
	for p := range local {
		dirs.Add(parentKey(p))
	}
	for p := range records {
		dirs.Add(parentKey(p))
	}

	out := dirs.ToSlice()
	sort.Strings(out)
	return out
}
