package genspark

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

const (
	vaultDirPerm  = 0o755
	vaultFilePerm = 0o644

	// tempPrefix marks in-progress downloads. The leading dot keeps them
	// out of scans and watcher events.
	tempPrefix = ".genspark-tmp-"
)

// Vault provides thread-safe filesystem operations on the sync directory.
// Renames and deletes take an exclusive lock; reads and stats take a
// shared lock so they never observe a half-renamed file. Content is
// staged in temp files outside the lock, so a slow download never blocks
// readers.
type Vault struct {
	dir string
	mu  sync.RWMutex
}

// NewVault creates a Vault rooted at the given directory. The directory
// must be an absolute path (resolved at config load time).
func NewVault(dir string) *Vault {
	return &Vault{dir: filepath.Clean(dir)}
}

// Dir returns the root directory of the vault.
func (v *Vault) Dir() string {
	return v.dir
}

// Open opens a file by relative path for reading. The caller closes it.
func (v *Vault) Open(relPath string) (*os.File, error) {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.Open(absPath)
}

// WriteFile atomically replaces a file by relative path with data. See
// WriteFrom.
func (v *Vault) WriteFile(relPath string, data []byte, mtime time.Time) error {
	return v.WriteFrom(relPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}, mtime)
}

// WriteFrom atomically replaces a file by relative path with whatever
// fill writes: the content goes to a temp file in the same directory and
// is renamed into place. If mtime is non-zero it is applied before the
// rename, so scanners never see the new content with a stale timestamp.
// An error from fill is returned unwrapped and leaves the target
// untouched.
func (v *Vault) WriteFrom(relPath string, fill func(w io.Writer) error, mtime time.Time) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, vaultDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", relPath, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", relPath, err)
	}
	if err := os.Chmod(tmpPath, vaultFilePerm); err != nil {
		return fmt.Errorf("setting mode for %s: %w", relPath, err)
	}

	if !mtime.IsZero() {
		if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
			return fmt.Errorf("setting mtime for %s: %w", relPath, err)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.Rename(tmpPath, absPath); err != nil {
		return fmt.Errorf("replacing %s: %w", relPath, err)
	}

	return nil
}

// DeleteFile removes a file by relative path. Returns nil if the file
// does not exist.
func (v *Vault) DeleteFile(relPath string) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", relPath, err)
	}
	return nil
}

// Stat returns file info for a relative path.
func (v *Vault) Stat(relPath string) (os.FileInfo, error) {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.Stat(absPath)
}

// Rel converts an absolute path under the vault into a normalized key.
func (v *Vault) Rel(absPath string) (string, error) {
	rel, err := filepath.Rel(v.dir, absPath)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) || rel == ".." {
		return "", fmt.Errorf("path %q is outside the sync dir", absPath)
	}
	return normalizePath(filepath.ToSlash(rel)), nil
}

// resolve converts a relative path to an absolute path within the vault
// directory, rejecting path traversal attempts.
func (v *Vault) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}
	absPath := filepath.Join(v.dir, filepath.FromSlash(relPath))
	if !strings.HasPrefix(absPath, v.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside sync dir", relPath)
	}
	return absPath, nil
}

// normalizePath turns any path entering the system (scanner output,
// watcher events, remote listings) into the shared key form: non-breaking
// spaces replaced, repeated slashes collapsed, leading and trailing
// slashes trimmed, Unicode NFC. macOS reports NFD names from disk while
// the drive returns NFC, so without this the same file gets two keys.
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\u00A0", " ")
	path = strings.ReplaceAll(path, "\u202F", " ")

	var b strings.Builder
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	path = strings.Trim(b.String(), "/")

	return norm.NFC.String(path)
}
