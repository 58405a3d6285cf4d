package genspark

import (
	"bufio"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName holds extra gitignore-style patterns in the sync root.
const IgnoreFileName = ".gensparkignore"

var defaultIgnoreLines = []string{
	// Hidden entries, which covers .git, .DS_Store, .venv and our own
	// state, log and temp files.
	".*",
	// Dependency and tooling directories
	"node_modules",
	"__pycache__",
	"venv",
	// Editor and temp files
	"*.tmp",
	"*.swp",
	"*~",
}

// IgnoreRules decides which paths never take part in sync. Both scanners
// and the watcher share one instance, so an ignored path is outside the
// sync domain on either side.
type IgnoreRules struct {
	ignore *gitignore.GitIgnore
}

// NewIgnoreRules compiles the default rules plus extra patterns.
func NewIgnoreRules(extra ...string) *IgnoreRules {
	lines := append([]string(nil), defaultIgnoreLines...)
	for _, l := range extra {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return &IgnoreRules{ignore: gitignore.CompileIgnoreLines(lines...)}
}

// LoadIgnoreRules compiles the defaults, the configured extra patterns
// and the patterns in dir/.gensparkignore if that file exists.
func LoadIgnoreRules(dir string, extra []string, logger *slog.Logger) *IgnoreRules {
	patterns := append([]string(nil), extra...)

	path := filepath.Join(dir, IgnoreFileName)
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("reading ignore file", slog.String("path", path), slog.String("error", err.Error()))
		}
		return NewIgnoreRules(patterns...)
	}
	defer f.Close()

	rules := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
		rules++
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("reading ignore file", slog.String("path", path), slog.String("error", err.Error()))
	} else {
		logger.Info("loaded ignore file", slog.String("path", path), slog.Int("rules", rules))
	}

	return NewIgnoreRules(patterns...)
}

// Match reports whether the slash separated relative path is ignored,
// either itself or through an ignored parent directory. A nil rule set
// ignores nothing.
func (r *IgnoreRules) Match(relPath string) bool {
	if r == nil || relPath == "" {
		return false
	}
	return r.ignore.MatchesPath(relPath)
}
