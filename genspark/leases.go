package genspark

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// downloadLease tracks one path the orchestrator is writing locally.
// A released lease keeps suppressing watcher events until its grace
// deadline; a zero deadline after release means the grace window has not
// started yet.
type downloadLease struct {
	held  bool
	until time.Time
}

// Leases is the per-path in-flight map shared by the poller and the
// watcher path. Upload leases stop two triggers from uploading the same
// path at once. Download leases stop the watcher from re-uploading bytes
// the orchestrator itself just wrote. One mutex guards both.
type Leases struct {
	mu          sync.Mutex
	uploading   mapset.Set[string]
	downloading map[string]*downloadLease
	grace       time.Duration
	now         func() time.Time
}

// NewLeases creates an empty lease map whose released download leases
// stay active for grace after StartGrace.
func NewLeases(grace time.Duration) *Leases {
	return &Leases{
		uploading:   mapset.NewThreadUnsafeSet[string](),
		downloading: make(map[string]*downloadLease),
		grace:       grace,
		now:         time.Now,
	}
}

// AcquireUpload takes the upload lease for path. ok is false when another
// upload of the same path is in flight. release is safe to call more than
// once.
func (l *Leases) AcquireUpload(path string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.uploading.Add(path) {
		return func() {}, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.uploading.Remove(path)
		})
	}, true
}

// Uploading reports whether an upload of path is in flight.
func (l *Leases) Uploading(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.uploading.Contains(path)
}

// AcquireDownload takes the download lease for path. ok is false while
// another local write of the same path is in flight or the path is being
// uploaded; both checks and the acquire happen under one lock. Releasing
// does not end suppression; see StartGrace.
func (l *Leases) AcquireDownload(path string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.uploading.Contains(path) {
		return func() {}, false
	}
	if d, exists := l.downloading[path]; exists && d.held {
		return func() {}, false
	}

	lease := &downloadLease{held: true}
	l.downloading[path] = lease

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			lease.held = false
			lease.until = time.Time{}
		})
	}, true
}

// Downloading reports whether watcher events for path should be ignored:
// a download lease is held, was released in the current cycle, or is
// still inside its grace window.
func (l *Leases) Downloading(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.downloading[path]
	if !ok {
		return false
	}
	if d.held || d.until.IsZero() {
		return true
	}
	if l.now().Before(d.until) {
		return true
	}

	delete(l.downloading, path)
	return false
}

// StartGrace starts the grace window for every released download lease
// that does not have one yet and purges expired leases. Called at the end
// of each cycle.
func (l *Leases) StartGrace() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for path, d := range l.downloading {
		switch {
		case d.held:
		case d.until.IsZero():
			d.until = now.Add(l.grace)
		case !now.Before(d.until):
			delete(l.downloading, path)
		}
	}
}
