package genspark

import (
	"sort"
	"time"
)

const (
	DefaultDebounceWindow = 2 * time.Second

	// DefaultMaxHold flushes a path that keeps changing, so a file written
	// continuously still syncs.
	DefaultMaxHold = 10 * time.Second
)

type pendingChange struct {
	kind  EventKind
	first time.Time
	last  time.Time
}

// Debouncer coalesces bursts of events per path. A path is due once it has
// been quiet for the window, or once it has been held for maxHold. It is
// not safe for concurrent use; the watcher loop owns it.
type Debouncer struct {
	window  time.Duration
	maxHold time.Duration
	pending map[string]*pendingChange
}

// NewDebouncer creates a Debouncer. Zero durations select the defaults.
func NewDebouncer(window, maxHold time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if maxHold <= 0 {
		maxHold = DefaultMaxHold
	}
	return &Debouncer{
		window:  window,
		maxHold: maxHold,
		pending: make(map[string]*pendingChange),
	}
}

// Add records ev at now, merging it with any pending event for the path.
func (d *Debouncer) Add(ev Event, now time.Time) {
	p, ok := d.pending[ev.Path]
	if !ok {
		d.pending[ev.Path] = &pendingChange{kind: ev.Kind, first: now, last: now}
		return
	}

	p.kind = mergeKinds(p.kind, ev.Kind)
	p.last = now
}

// mergeKinds folds a later event into an earlier one for the same path.
func mergeKinds(prev, next EventKind) EventKind {
	switch {
	case next == EventDeleted:
		return EventDeleted
	case prev == EventDeleted:
		// Deleted then recreated: the path exists with new content.
		return EventModified
	case prev == EventCreated:
		return EventCreated
	default:
		return next
	}
}

// Due removes and returns the events ready to flush at now, sorted by path.
func (d *Debouncer) Due(now time.Time) []Event {
	var out []Event
	for path, p := range d.pending {
		if now.Sub(p.last) < d.window && now.Sub(p.first) < d.maxHold {
			continue
		}
		out = append(out, Event{Kind: p.kind, Path: path})
		delete(d.pending, path)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of paths waiting.
func (d *Debouncer) Len() int {
	return len(d.pending)
}
