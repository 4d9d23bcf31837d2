package store

import (
	"database/sql"
	"time"
)

// SetCheckpoint records the last successfully synced timestamp for a sync
// scope (one row per conversation key or resource).
func (db *DB) SetCheckpoint(key string, lastSyncAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, last_sync_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at`,
		key, lastSyncAt, now)
	return err
}

// Checkpoint returns the last synced timestamp for a sync scope, 0 if the
// scope has never been synced (which forces a full pull).
func (db *DB) Checkpoint(key string) (int64, error) {
	var ts int64
	err := db.QueryRow(`SELECT last_sync_at FROM sync_state WHERE key = ?`, key).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ts, nil
}
