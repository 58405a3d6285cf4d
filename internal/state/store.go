package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

const (
	// CurrentSchemaVersion is written to the meta bucket of new stores.
	// Stores with a higher version were written by a newer release and are
	// refused rather than misread.
	CurrentSchemaVersion = 1

	stateDirPerm  = fs.FileMode(0o700)
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	filesBucket      = []byte("files")
	metaBucket       = []byte("meta")
	schemaVersionKey = []byte("schema_version")
)

// Status marks whether a record's last transfer completed.
type Status string

const (
	StatusSynced  Status = "synced"
	StatusPending Status = "pending"
)

// SyncRecord is the last synchronized state of one path. A record exists
// only for paths that were transferred (or adopted) at least once and not
// since removed from both sides.
type SyncRecord struct {
	Size int64 `json:"size"`

	// ModifiedTime is the local mtime baseline in unix seconds.
	ModifiedTime float64 `json:"mtime"`

	// RemoteModifiedTime is the remote mtime observed at the last
	// transfer. Zero means unknown.
	RemoteModifiedTime float64 `json:"remote_mtime,omitempty"`

	QuickFingerprint string `json:"quick_hash,omitempty"`
	RemoteID         string `json:"remote_id,omitempty"`
	LastSyncedAt     int64  `json:"last_sync"`
	Status           Status `json:"status"`
}

// RemoteBaseline returns the mtime remote snapshots are compared against.
func (r SyncRecord) RemoteBaseline() float64 {
	if r.RemoteModifiedTime != 0 {
		return r.RemoteModifiedTime
	}
	return r.ModifiedTime
}

// Stats summarizes the store contents.
type Stats struct {
	Total     int
	Synced    int
	Pending   int
	TotalSize int64
}

// Store is the persistent per-path sync state, backed by bbolt. Every
// mutation commits (and fsyncs) before returning. bbolt serializes
// writers, so callers need no locking of their own.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens the store at path, creating it if needed. An existing file
// that cannot be read as a store fails with ErrStateCorrupt; a file held
// by another process fails with ErrStateLocked.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("opening %s: %w", path, apperrors.ErrStateLocked)
		}
		if existed {
			return nil, fmt.Errorf("opening %s: %w: %v", path, apperrors.ErrStateCorrupt, err)
		}
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates buckets, stamps the schema version on new stores and
// checks every record decodes.
func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		files, err := tx.CreateBucketIfNotExists(filesBucket)
		if err != nil {
			return fmt.Errorf("creating files bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("creating meta bucket: %w", err)
		}

		raw := meta.Get(schemaVersionKey)
		if raw == nil {
			if err := meta.Put(schemaVersionKey, []byte(strconv.Itoa(CurrentSchemaVersion))); err != nil {
				return err
			}
		} else {
			v, err := strconv.Atoi(string(raw))
			if err != nil {
				return fmt.Errorf("schema version %q: %w", raw, apperrors.ErrStateCorrupt)
			}
			if v > CurrentSchemaVersion {
				return fmt.Errorf("schema version %d is newer than supported %d: %w", v, CurrentSchemaVersion, apperrors.ErrStateCorrupt)
			}
		}

		return files.ForEach(func(k, v []byte) error {
			var rec SyncRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %q: %w", k, apperrors.ErrStateCorrupt)
			}
			return nil
		})
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the record for path, or nil if none exists.
func (s *Store) Get(path string) (*SyncRecord, error) {
	var rec *SyncRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(filesBucket).Get([]byte(path))
		if v == nil {
			return nil
		}

		rec = &SyncRecord{}
		if err := json.Unmarshal(v, rec); err != nil {
			return fmt.Errorf("record %q: %w", path, apperrors.ErrStateCorrupt)
		}

		return nil
	})

	return rec, err
}

// Put upserts the record for path.
func (s *Store) Put(path string, rec SyncRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket(filesBucket), path, rec)
	})
}

// PutBatch upserts many records in one transaction.
func (s *Store) PutBatch(records map[string]SyncRecord) error {
	if len(records) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucket)
		for path, rec := range records {
			if err := putRecord(b, path, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func putRecord(b *bolt.Bucket, path string, rec SyncRecord) error {
	if path == "" {
		return fmt.Errorf("empty record path")
	}

	if rec.Status == "" {
		rec.Status = StatusSynced
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %q: %w", path, err)
	}

	return b.Put([]byte(path), data)
}

// Delete removes the record for path. Deleting a missing path is not an error.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).Delete([]byte(path))
	})
}

// DeleteBatch removes many records in one transaction.
func (s *Store) DeleteBatch(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucket)
		for _, p := range paths {
			if err := b.Delete([]byte(p)); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkPending flips an existing record to pending. Missing paths are left
// alone so the record invariant holds.
func (s *Store) MarkPending(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucket)

		v := b.Get([]byte(path))
		if v == nil {
			return nil
		}

		var rec SyncRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("record %q: %w", path, apperrors.ErrStateCorrupt)
		}

		rec.Status = StatusPending

		return putRecord(b, path, rec)
	})
}

// All returns every record keyed by path.
func (s *Store) All() (map[string]SyncRecord, error) {
	out := make(map[string]SyncRecord)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(k, v []byte) error {
			var rec SyncRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %q: %w", k, apperrors.ErrStateCorrupt)
			}
			out[string(k)] = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ChangedSince returns the sorted paths whose local mtime or last sync
// time is after ts (unix seconds).
func (s *Store) ChangedSince(ts float64) ([]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}

	var paths []string
	for p, rec := range all {
		if rec.ModifiedTime > ts || float64(rec.LastSyncedAt) > ts {
			paths = append(paths, p)
		}
	}

	sort.Strings(paths)

	return paths, nil
}

// Stats counts records by status and sums their sizes.
func (s *Store) Stats() (Stats, error) {
	var st Stats

	all, err := s.All()
	if err != nil {
		return st, err
	}

	for _, rec := range all {
		st.Total++
		st.TotalSize += rec.Size

		switch rec.Status {
		case StatusPending:
			st.Pending++
		default:
			st.Synced++
		}
	}

	return st, nil
}

// SchemaVersion returns the version stamped in the meta bucket.
func (s *Store) SchemaVersion() (int, error) {
	var v int

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(metaBucket).Get(schemaVersionKey)
		if raw == nil {
			return nil
		}

		n, err := strconv.Atoi(string(raw))
		if err != nil {
			return fmt.Errorf("schema version %q: %w", raw, apperrors.ErrStateCorrupt)
		}

		v = n

		return nil
	})

	return v, err
}

// SetSchemaVersion overwrites the schema version slot.
func (s *Store) SetSchemaVersion(v int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(schemaVersionKey, []byte(strconv.Itoa(v)))
	})
}
