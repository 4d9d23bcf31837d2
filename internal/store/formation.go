package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveFormation replaces the content snapshot for a formation and rebuilds
// its lesson projections in the same transaction. sync_version starts at 1 on
// first save and is only advanced by TouchFormationSync.
func (db *DB) SaveFormation(f *Formation, lessons []Lesson) error {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO formations (id, content, is_fully_downloaded, sync_version, downloaded_at, last_sync_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			is_fully_downloaded = excluded.is_fully_downloaded,
			downloaded_at = excluded.downloaded_at,
			last_sync_at = excluded.last_sync_at`,
		f.ID, f.Content, f.IsFullyDownloaded, now, now); err != nil {
		return fmt.Errorf("upsert formation: %w", err)
	}

	// Projections are a pure function of the snapshot; replace them wholesale.
	if _, err := tx.Exec(`DELETE FROM lessons WHERE formation_id = ?`, f.ID); err != nil {
		return fmt.Errorf("clear lessons: %w", err)
	}
	for _, l := range lessons {
		if _, err := tx.Exec(`
			INSERT INTO lessons (id, formation_id, level_id, title, content, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.ID, f.ID, l.LevelID, l.Title, l.Content, l.Position); err != nil {
			return fmt.Errorf("insert lesson %q: %w", l.ID, err)
		}
	}

	return tx.Commit()
}

// TouchFormationSync stamps last_sync_at and bumps sync_version after a
// successful re-sync that confirmed the snapshot is current.
func (db *DB) TouchFormationSync(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE formations SET last_sync_at = ?, sync_version = sync_version + 1
		WHERE id = ?`, now, id)
	return err
}

// GetFormation returns a single formation by id, nil if not cached.
func (db *DB) GetFormation(id string) (*Formation, error) {
	var f Formation
	err := db.QueryRow(`
		SELECT id, content, is_fully_downloaded, sync_version, downloaded_at, last_sync_at
		FROM formations WHERE id = ?`, id).
		Scan(&f.ID, &f.Content, &f.IsFullyDownloaded, &f.SyncVersion, &f.DownloadedAt, &f.LastSyncAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFormations returns every cached formation, most recently downloaded first.
func (db *DB) ListFormations() ([]Formation, error) {
	rows, err := db.Query(`
		SELECT id, content, is_fully_downloaded, sync_version, downloaded_at, last_sync_at
		FROM formations ORDER BY downloaded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var formations []Formation
	for rows.Next() {
		var f Formation
		if err := rows.Scan(&f.ID, &f.Content, &f.IsFullyDownloaded, &f.SyncVersion, &f.DownloadedAt, &f.LastSyncAt); err != nil {
			return nil, err
		}
		formations = append(formations, f)
	}
	return formations, rows.Err()
}

// DeleteFormation removes a formation and all its lesson projections.
// Media is not cascade-deleted: it has an independent lifecycle.
func (db *DB) DeleteFormation(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM lessons WHERE formation_id = ?`, id); err != nil {
		return fmt.Errorf("delete lessons: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM formations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete formation: %w", err)
	}
	return tx.Commit()
}
