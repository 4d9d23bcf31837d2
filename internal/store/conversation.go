package store

import (
	"database/sql"
	"time"
)

// UpsertConversation sets the descriptive fields of a conversation summary
// (type, formation, lesson). The message-driven fields — last_message_at,
// preview, unread_count — are owned by the message write paths and are left
// untouched when the row already exists.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, type, formation_id, lesson_id, last_message_at, last_message_preview, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			formation_id = excluded.formation_id,
			lesson_id = excluded.lesson_id,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, c.FormationID, c.LessonID, c.LastMessageAt, c.LastMessagePreview, c.UnreadCount, now)
	return err
}

// ListConversations returns conversation summaries sorted by last message
// timestamp descending, for list views that must not scan messages. A
// non-positive limit returns every conversation; the sync cycle depends on
// the listing being complete.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	q := `
		SELECT id, type, formation_id, lesson_id, last_message_at, last_message_preview, unread_count
		FROM conversations ORDER BY last_message_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Type, &c.FormationID, &c.LessonID, &c.LastMessageAt, &c.LastMessagePreview, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation summary, nil if unknown.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, type, formation_id, lesson_id, last_message_at, last_message_preview, unread_count
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Type, &c.FormationID, &c.LessonID, &c.LastMessageAt, &c.LastMessagePreview, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
