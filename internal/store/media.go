package store

import (
	"database/sql"
	"time"
)

// PutMedia stores a downloaded binary resource keyed by URL (idempotent).
func (db *DB) PutMedia(m *Media) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO media (url, payload, kind, size_bytes, downloaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			payload = excluded.payload,
			kind = excluded.kind,
			size_bytes = excluded.size_bytes,
			downloaded_at = excluded.downloaded_at`,
		m.URL, m.Payload, m.Kind, int64(len(m.Payload)), now)
	return err
}

// GetMedia returns a cached resource by URL, nil if not downloaded.
func (db *DB) GetMedia(url string) (*Media, error) {
	var m Media
	err := db.QueryRow(`
		SELECT url, payload, kind, size_bytes, downloaded_at
		FROM media WHERE url = ?`, url).
		Scan(&m.URL, &m.Payload, &m.Kind, &m.SizeBytes, &m.DownloadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// HasMedia reports whether a URL is already cached, without loading the payload.
func (db *DB) HasMedia(url string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM media WHERE url = ?`, url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteMediaOlderThan evicts media downloaded before the cutoff (unix millis)
// and returns the number of deleted records. Formations and lessons are never
// touched here.
func (db *DB) DeleteMediaOlderThan(cutoff int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM media WHERE downloaded_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
