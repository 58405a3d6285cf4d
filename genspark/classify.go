package genspark

import (
	"math"
	"sort"

	"github.com/stolot0mt0m/genspark-sync-lite/internal/state"
)

// Kind classifies one path after comparing both sides with the last
// synced baseline.
type Kind int

const (
	// KindUnchanged means neither side moved past the baseline. With a nil
	// Record it marks a first-seen path that already matches on both sides.
	KindUnchanged Kind = iota

	// KindNewLocal is a local-only path that was never synced.
	KindNewLocal

	// KindNewRemote is a remote-only path that was never synced.
	KindNewRemote

	// KindDeletedLocal is a synced path that is now missing locally.
	KindDeletedLocal

	// KindDeletedRemote is a synced path that is now missing remotely.
	KindDeletedRemote

	// KindModifiedLocal means only the local copy changed since the last sync.
	KindModifiedLocal

	// KindModifiedRemote means only the remote copy changed since the last sync.
	KindModifiedRemote

	// KindConflict means both copies changed since the last sync.
	KindConflict

	// KindOrphaned is a record whose path is gone from both sides.
	KindOrphaned
)

var kindNames = map[Kind]string{
	KindUnchanged:      "unchanged",
	KindNewLocal:       "new-local",
	KindNewRemote:      "new-remote",
	KindDeletedLocal:   "deleted-local",
	KindDeletedRemote:  "deleted-remote",
	KindModifiedLocal:  "modified-local",
	KindModifiedRemote: "modified-remote",
	KindConflict:       "conflict",
	KindOrphaned:       "orphaned",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// adoptTolerance is how far apart local and remote mtimes may be for a
// first-seen common path of equal size to count as already in sync.
// Drive listings round to whole seconds.
const adoptTolerance = 2.0

// Action is the classification of one path together with the inputs it
// was derived from. Pointers are nil for the sides the path is absent on.
type Action struct {
	Path   string
	Kind   Kind
	Local  *LocalSnapshot
	Remote *RemoteSnapshot
	Record *state.SyncRecord
}

// Classify compares every path in the union of local, remote and records
// against its baseline and returns one Action per path, sorted by path.
// The inputs are not modified.
func Classify(local map[string]LocalSnapshot, remote map[string]RemoteSnapshot, records map[string]state.SyncRecord) []Action {
	union := make(map[string]struct{}, len(local)+len(remote)+len(records))
	for p := range local {
		union[p] = struct{}{}
	}
	for p := range remote {
		union[p] = struct{}{}
	}
	for p := range records {
		union[p] = struct{}{}
	}

	paths := make([]string, 0, len(union))
	for p := range union {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	actions := make([]Action, 0, len(paths))
	for _, p := range paths {
		a := Action{Path: p}

		if l, ok := local[p]; ok {
			a.Local = &l
		}
		if r, ok := remote[p]; ok {
			a.Remote = &r
		}
		if rec, ok := records[p]; ok {
			a.Record = &rec
		}

		a.Kind = classifyOne(a.Local, a.Remote, a.Record)
		actions = append(actions, a)
	}

	return actions
}

// classifyOne implements the three-way table for a single path.
func classifyOne(local *LocalSnapshot, remote *RemoteSnapshot, rec *state.SyncRecord) Kind {
	// Step 1: presence on one side only. Whether a record exists is the
	// only way to tell "never synced" from "synced then removed"; neither
	// side keeps tombstones.
	switch {
	case local == nil && remote == nil:
		return KindOrphaned
	case local == nil:
		if rec == nil {
			return KindNewRemote
		}
		return KindDeletedLocal
	case remote == nil:
		if rec == nil {
			return KindNewLocal
		}
		// A pending record lost its remote copy mid-replace, not to a
		// remote delete: the local file still has to go up.
		if rec.Status == state.StatusPending {
			return KindModifiedLocal
		}
		return KindDeletedRemote
	}

	// Step 2: present on both sides without a baseline. Identical metadata
	// means the sides already agree; anything else needs the policy.
	if rec == nil {
		if local.Size == remote.Size && math.Abs(local.ModifiedTime-remote.ModifiedTime) <= adoptTolerance {
			return KindUnchanged
		}
		return KindConflict
	}

	// Step 3: compare each side with its own baseline.
	localChanged := local.Size != rec.Size || local.ModifiedTime > rec.ModifiedTime
	remoteChanged := remote.Size != rec.Size || remote.ModifiedTime > rec.RemoteBaseline()

	switch {
	case localChanged && remoteChanged:
		return KindConflict
	case localChanged:
		return KindModifiedLocal
	case remoteChanged:
		return KindModifiedRemote
	default:
		return KindUnchanged
	}
}
