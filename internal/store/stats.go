package store

import (
	"database/sql"
	"fmt"
	"os"
)

// CollectStats aggregates record counts and storage usage across all tables.
func (db *DB) CollectStats() (*Stats, error) {
	s := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM formations`, &s.Formations},
		{`SELECT COUNT(*) FROM lessons`, &s.Lessons},
		{`SELECT COUNT(*) FROM media`, &s.Media},
		{`SELECT COUNT(*) FROM messages`, &s.Messages},
		{`SELECT COUNT(*) FROM conversations`, &s.Conversations},
		{`SELECT COUNT(*) FROM pending`, &s.Pending},
	}
	for _, c := range counts {
		if err := db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
	}

	var mediaBytes sql.NullInt64
	if err := db.QueryRow(`SELECT SUM(size_bytes) FROM media`).Scan(&mediaBytes); err != nil {
		return nil, fmt.Errorf("media bytes: %w", err)
	}
	s.MediaBytes = mediaBytes.Int64

	if info, err := os.Stat(db.path); err == nil {
		s.DBBytes = info.Size()
	}

	return s, nil
}

// ClearAll wipes every record family in one transaction. Used for
// logout/account switch; callers must stop in-flight syncs first, the store
// does not serialize against them.
func (db *DB) ClearAll() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables := []string{"pending", "messages", "conversations", "media", "lessons", "formations", "sync_state"}
	for _, table := range tables {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
