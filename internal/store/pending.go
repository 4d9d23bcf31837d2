package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertPendingMessage records an optimistic local write: the message row and
// its pending-queue entry are inserted in one transaction, so a reader of the
// conversation sees the message immediately and the flusher cannot miss it.
// The conversation summary is bumped in the same transaction.
func (db *DB) InsertPendingMessage(m *Message) error {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO messages (id, local_id, conversation_key, content, sender_id, receiver_id,
			message_type, file_ref, is_pending, is_read, server_synced, send_failed, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 1, 0, 0, ?, ?)`,
		m.ID, m.LocalID, m.ConversationKey, m.Content, m.SenderID, m.ReceiverID,
		m.MessageType, m.FileRef, m.CreatedAt, now); err != nil {
		return fmt.Errorf("insert pending message: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO pending (local_id, conversation_key, created_at)
		VALUES (?, ?, ?)`,
		m.LocalID, m.ConversationKey, m.CreatedAt); err != nil {
		return fmt.Errorf("insert pending entry: %w", err)
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
		return fmt.Errorf("upsert conversation: %w", err)
	}

	return tx.Commit()
}

// MarkMessageSynced reassigns a message's identity from localID to serverID
// as a delete-then-insert transition and removes the pending entry, all in
// one transaction. A crash can therefore never leave a message both pending
// and synced, nor a pending entry without its message row. Calling it again
// for an already-reconciled message is a no-op.
func (db *DB) MarkMessageSynced(localID, serverID string) error {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var m Message
	err = tx.QueryRow(`
		SELECT id, local_id, conversation_key, content, sender_id, receiver_id,
			message_type, file_ref, is_read, created_at
		FROM messages WHERE id = ? AND is_pending = 1`, localID).
		Scan(&m.ID, &m.LocalID, &m.ConversationKey, &m.Content, &m.SenderID, &m.ReceiverID,
			&m.MessageType, &m.FileRef, &m.IsRead, &m.CreatedAt)
	if err == sql.ErrNoRows {
		// Already reconciled (retry after a crash between ack and cleanup).
		// Make sure no stray pending entry survives.
		if _, err := tx.Exec(`DELETE FROM pending WHERE local_id = ?`, localID); err != nil {
			return fmt.Errorf("clear stray pending entry: %w", err)
		}
		return tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("load pending message: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, localID); err != nil {
		return fmt.Errorf("delete local row: %w", err)
	}

	// A differential pull may already have stored the server's copy of this
	// message; the conflict branch keeps exactly one record either way.
	if _, err := tx.Exec(`
		INSERT INTO messages (id, local_id, conversation_key, content, sender_id, receiver_id,
			message_type, file_ref, is_pending, is_read, server_synced, send_failed, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 1, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_id = excluded.local_id,
			is_pending = 0,
			server_synced = 1,
			send_failed = 0,
			stored_at = excluded.stored_at`,
		serverID, localID, m.ConversationKey, m.Content, m.SenderID, m.ReceiverID,
		m.MessageType, m.FileRef, m.IsRead, m.CreatedAt, now); err != nil {
		return fmt.Errorf("insert synced row: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM pending WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("delete pending entry: %w", err)
	}

	return tx.Commit()
}

// PendingMessages returns the offline-write backlog in creation order.
func (db *DB) PendingMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT m.id, m.local_id, m.conversation_key, m.content, m.sender_id, m.receiver_id,
			m.message_type, m.file_ref, m.is_pending, m.is_read, m.server_synced, m.send_failed,
			m.created_at, m.stored_at
		FROM pending p
		JOIN messages m ON m.id = p.local_id
		ORDER BY p.created_at ASC`)
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

// PendingCount returns the size of the offline-write backlog.
func (db *DB) PendingCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM pending`).Scan(&n)
	return n, err
}
