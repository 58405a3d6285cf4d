package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
)

// migrateBatchSize bounds how many records go into one bbolt transaction
// during migration.
const migrateBatchSize = 100

// legacyEntry is one value of the flat JSON state map.
type legacyEntry struct {
	ModifiedTime float64 `json:"modified_time"`
	Size         int64   `json:"size"`
}

// MigrateLegacy imports the flat JSON state file at jsonPath into a new
// store at dbPath. It only runs when the JSON file exists and the store
// does not. On success the JSON file is renamed with a ".backup" suffix;
// it is never rewritten. On failure the partially written store is
// removed so the next start retries. Returns the number of records
// imported.
func MigrateLegacy(jsonPath, dbPath string, logger *slog.Logger) (int, error) {
	if _, err := os.Stat(jsonPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("checking legacy state: %w", err)
	}

	if _, err := os.Stat(dbPath); err == nil {
		logger.Info("state store exists, skipping legacy migration", slog.String("legacy", jsonPath))
		return 0, nil
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, fmt.Errorf("reading legacy state: %w", err)
	}

	var legacy map[string]legacyEntry
	if err := json.Unmarshal(data, &legacy); err != nil {
		return 0, fmt.Errorf("decoding legacy state %s: %w: %v", jsonPath, apperrors.ErrStateCorrupt, err)
	}

	logger.Info("migrating legacy state",
		slog.String("from", jsonPath),
		slog.String("to", dbPath),
		slog.Int("records", len(legacy)),
	)

	n, err := importLegacy(dbPath, legacy)
	if err != nil {
		if rmErr := os.Remove(dbPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("removing partial state store", slog.String("error", rmErr.Error()))
		}
		return 0, fmt.Errorf("migrating legacy state: %w", err)
	}

	backup := backupPath(jsonPath)
	if err := os.Rename(jsonPath, backup); err != nil {
		return n, fmt.Errorf("renaming legacy state: %w", err)
	}

	logger.Info("legacy state migrated", slog.Int("records", n), slog.String("backup", backup))

	return n, nil
}

func importLegacy(dbPath string, legacy map[string]legacyEntry) (int, error) {
	store, err := Open(dbPath)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	now := time.Now().Unix()
	batch := make(map[string]SyncRecord, migrateBatchSize)
	n := 0

	for path, entry := range legacy {
		batch[path] = SyncRecord{
			Size:         entry.Size,
			ModifiedTime: entry.ModifiedTime,
			LastSyncedAt: now,
			Status:       StatusSynced,
		}

		if len(batch) >= migrateBatchSize {
			if err := store.PutBatch(batch); err != nil {
				return 0, err
			}
			n += len(batch)
			batch = make(map[string]SyncRecord, migrateBatchSize)
		}
	}

	if err := store.PutBatch(batch); err != nil {
		return 0, err
	}
	n += len(batch)

	return n, nil
}

// backupPath picks a name for the renamed legacy file that does not
// clobber an earlier backup.
func backupPath(jsonPath string) string {
	candidate := jsonPath + ".backup"
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s.backup.%d", jsonPath, i)
	}
}
