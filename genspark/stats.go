package genspark

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// CycleStats counts what one reconciliation cycle (or one watcher event)
// did.
type CycleStats struct {
	Uploads   int
	Downloads int
	Conflicts int
	Errors    int
	Deletions int
	Skipped   int

	BytesUp   int64
	BytesDown int64
}

// Transfers is the number of operations that changed either side.
func (s CycleStats) Transfers() int {
	return s.Uploads + s.Downloads + s.Deletions
}

// Merge adds other into s.
func (s *CycleStats) Merge(other CycleStats) {
	s.Uploads += other.Uploads
	s.Downloads += other.Downloads
	s.Conflicts += other.Conflicts
	s.Errors += other.Errors
	s.Deletions += other.Deletions
	s.Skipped += other.Skipped
	s.BytesUp += other.BytesUp
	s.BytesDown += other.BytesDown
}

func (s CycleStats) String() string {
	return fmt.Sprintf("%d up (%s), %d down (%s), %d deleted, %d conflicts, %d skipped, %d errors",
		s.Uploads, humanize.Bytes(uint64(s.BytesUp)),
		s.Downloads, humanize.Bytes(uint64(s.BytesDown)),
		s.Deletions, s.Conflicts, s.Skipped, s.Errors,
	)
}

// LogAttrs renders the stats as structured log attributes.
func (s CycleStats) LogAttrs() []any {
	return []any{
		slog.Int("uploads", s.Uploads),
		slog.Int("downloads", s.Downloads),
		slog.Int("deletions", s.Deletions),
		slog.Int("conflicts", s.Conflicts),
		slog.Int("skipped", s.Skipped),
		slog.Int("errors", s.Errors),
		slog.String("bytes_up", humanize.Bytes(uint64(s.BytesUp))),
		slog.String("bytes_down", humanize.Bytes(uint64(s.BytesDown))),
	}
}
