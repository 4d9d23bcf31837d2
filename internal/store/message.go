package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveSyncedMessages upserts a batch of server-acknowledged messages, keyed
// by server id, and maintains the conversation summaries in the same
// transaction. Re-applying a batch is a no-op beyond the stored_at refresh,
// so a differential pull can safely overlap a previous one.
func (db *DB) SaveSyncedMessages(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keys := make(map[string]struct{})
	for _, m := range msgs {
		keys[m.ConversationKey] = struct{}{}
		if _, err := tx.Exec(`
			INSERT INTO messages (id, local_id, conversation_key, content, sender_id, receiver_id,
				message_type, file_ref, is_pending, is_read, server_synced, send_failed, created_at, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 1, 0, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content = excluded.content,
				stored_at = excluded.stored_at`,
			m.ID, m.LocalID, m.ConversationKey, m.Content, m.SenderID, m.ReceiverID,
			m.MessageType, m.FileRef, m.IsRead, m.CreatedAt, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.ID, err)
		}

		if _, err := tx.Exec(`
			INSERT INTO conversations (id, last_message_at, last_message_preview, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
				last_message_preview = CASE WHEN excluded.last_message_at > conversations.last_message_at
					THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
				updated_at = excluded.updated_at`,
			m.ConversationKey, m.CreatedAt, truncate(m.Content, 100), now); err != nil {
			return fmt.Errorf("upsert conversation %q: %w", m.ConversationKey, err)
		}
	}

	// Recompute unread counts from the rows themselves. Counting is
	// idempotent where a per-message increment would double on replayed
	// batches. Local pending writes are inserted with is_read=1, so only
	// incoming synced messages count.
	for key := range keys {
		if _, err := tx.Exec(`
			UPDATE conversations SET unread_count =
				(SELECT COUNT(*) FROM messages WHERE conversation_key = ? AND is_read = 0)
			WHERE id = ?`, key, key); err != nil {
			return fmt.Errorf("refresh unread count %q: %w", key, err)
		}
	}

	return tx.Commit()
}

// ListMessages returns messages for a conversation sorted ascending by
// created_at. A positive limit truncates to the most recent entries (the
// tail), not the oldest.
func (db *DB) ListMessages(conversationKey string, limit int) ([]Message, error) {
	q := `
		SELECT id, local_id, conversation_key, content, sender_id, receiver_id,
			message_type, file_ref, is_pending, is_read, server_synced, send_failed, created_at, stored_at
		FROM messages WHERE conversation_key = ?`
	args := []any{conversationKey}

	if limit > 0 {
		q = `SELECT * FROM (` + q + ` ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	} else {
		q += ` ORDER BY created_at ASC, id ASC`
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.LocalID, &m.ConversationKey, &m.Content, &m.SenderID, &m.ReceiverID,
			&m.MessageType, &m.FileRef, &m.IsPending, &m.IsRead, &m.ServerSynced, &m.SendFailed,
			&m.CreatedAt, &m.StoredAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastMessageTime returns the newest server-synced created_at for a
// conversation, 0 if none. Pending local messages are excluded: their
// timestamps must not advance the pull cursor past records the server has
// not confirmed.
func (db *DB) LastMessageTime(conversationKey string) (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`
		SELECT MAX(created_at) FROM messages
		WHERE conversation_key = ? AND server_synced = 1`, conversationKey).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// DeleteMessagesOlderThan evicts synced messages created before the cutoff.
// Rows with is_pending are never deleted regardless of age: an unsynced write
// is the one thing eviction cannot recover by re-fetching.
func (db *DB) DeleteMessagesOlderThan(cutoff int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE created_at < ? AND is_pending = 0`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkConversationRead flags every message in a conversation as read and
// resets the summary's unread count. Synced messages stay immutable apart
// from is_read.
func (db *DB) MarkConversationRead(conversationKey string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE messages SET is_read = 1 WHERE conversation_key = ?`, conversationKey); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if _, err := tx.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationKey); err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return tx.Commit()
}

// MarkSendFailed flags a pending message whose flush attempts keep failing so
// the UI can render "not sent" from the stored record alone. The message
// stays in the pending queue.
func (db *DB) MarkSendFailed(localID string) error {
	_, err := db.Exec(`UPDATE messages SET send_failed = 1 WHERE id = ? AND is_pending = 1`, localID)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
