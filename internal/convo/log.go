// Package convo is the durable per-conversation message log with offline
// write support. It is the exclusive owner of the message, conversation and
// pending record families; the sync engine only ever goes through its public
// mutation methods.
package convo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formly-app/formly/internal/bus"
	"github.com/formly-app/formly/internal/store"
)

// Log is the conversation log component.
type Log struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewLog creates a conversation log on top of the shared store handle.
func NewLog(db *store.DB, b *bus.Bus, logger *zap.Logger) *Log {
	return &Log{db: db, bus: b, logger: logger}
}

// Draft is a locally authored message before it gets an identity.
type Draft struct {
	ConversationKey string
	Content         string
	SenderID        string
	ReceiverID      string
	MessageType     string
	FileRef         string
}

// SaveMessages upserts a batch of server-synced messages (keyed by server
// id). Used after a pull-sync fetch; applying the same batch twice is a no-op
// beyond the stored-at refresh.
func (l *Log) SaveMessages(batch []*store.Message) error {
	if err := l.db.SaveSyncedMessages(batch); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	for _, m := range batch {
		if _, ok := seen[m.ConversationKey]; !ok {
			seen[m.ConversationKey] = struct{}{}
			l.ensureMetadata(m.ConversationKey)
		}
	}
	for _, m := range batch {
		l.bus.Publish(bus.Event{
			Kind:      "message.upserted",
			Timestamp: time.Now(),
			Payload:   map[string]string{"conversation_key": m.ConversationKey, "id": m.ID},
		})
	}
	return nil
}

// ensureMetadata fills in the descriptive summary fields derivable from the
// conversation key, so list views get type and scope ids without a backend
// round-trip. Keys in a foreign format are left as-is.
func (l *Log) ensureMetadata(key string) {
	formationID, lessonID, userID, ok := ParseConversationKey(key)
	if !ok {
		return
	}
	typ := "lesson"
	if userID != "" {
		typ = "private"
	}
	c := &store.Conversation{ID: key, Type: typ, FormationID: formationID, LessonID: lessonID}
	if err := l.db.UpsertConversation(c); err != nil {
		l.logger.Warn("failed to set conversation metadata", zap.Error(err), zap.String("conversation", key))
	}
}

// Messages returns the conversation ascending by created_at; a positive
// limit keeps only the most recent entries.
func (l *Log) Messages(conversationKey string, limit int) ([]store.Message, error) {
	return l.db.ListMessages(conversationKey, limit)
}

// AddPendingMessage assigns a local id to a draft and makes it visible to
// readers before any network round-trip. The message row and the pending
// queue entry are written in one transaction. Returns the local id.
func (l *Log) AddPendingMessage(d Draft) (string, error) {
	if d.ConversationKey == "" {
		return "", fmt.Errorf("add pending message: empty conversation key")
	}
	if d.MessageType == "" {
		d.MessageType = "text"
	}

	now := time.Now().UnixMilli()
	// Time prefix keeps local ids roughly sortable; the uuid suffix makes
	// rapid successive calls collision-free.
	localID := fmt.Sprintf("local-%d-%s", now, uuid.NewString()[:8])

	m := &store.Message{
		ID:              localID,
		LocalID:         localID,
		ConversationKey: d.ConversationKey,
		Content:         d.Content,
		SenderID:        d.SenderID,
		ReceiverID:      d.ReceiverID,
		MessageType:     d.MessageType,
		FileRef:         d.FileRef,
		IsPending:       true,
		CreatedAt:       now,
	}
	if err := l.db.InsertPendingMessage(m); err != nil {
		return "", err
	}
	l.ensureMetadata(d.ConversationKey)

	l.bus.Publish(bus.Event{
		Kind:      "message.pending",
		Timestamp: time.Now(),
		Payload:   map[string]string{"conversation_key": d.ConversationKey, "local_id": localID},
	})
	return localID, nil
}

// MarkMessageSynced reassigns a pending message's identity from localID to
// serverID and removes it from the pending queue, atomically.
func (l *Log) MarkMessageSynced(localID, serverID string) error {
	if err := l.db.MarkMessageSynced(localID, serverID); err != nil {
		return err
	}
	l.bus.Publish(bus.Event{
		Kind:      "message.synced",
		Timestamp: time.Now(),
		Payload:   map[string]string{"local_id": localID, "server_id": serverID},
	})
	return nil
}

// MarkSendFailed flags a pending message as not-sent for the UI. The message
// stays queued and keeps retrying.
func (l *Log) MarkSendFailed(localID string) error {
	if err := l.db.MarkSendFailed(localID); err != nil {
		return err
	}
	l.bus.Publish(bus.Event{
		Kind:      "message.send_failed",
		Timestamp: time.Now(),
		Payload:   map[string]string{"local_id": localID},
	})
	return nil
}

// PendingMessages returns the offline-write backlog in creation order.
func (l *Log) PendingMessages() ([]store.Message, error) {
	return l.db.PendingMessages()
}

// LastMessageTime returns the newest synced timestamp for a conversation,
// 0 if none. Drives the differential pull cursor.
func (l *Log) LastMessageTime(conversationKey string) (int64, error) {
	return l.db.LastMessageTime(conversationKey)
}

// Conversations returns summaries for list views, newest first.
func (l *Log) Conversations(limit int) ([]store.Conversation, error) {
	return l.db.ListConversations(limit)
}

// MarkRead marks every message of a conversation read and resets its unread
// count.
func (l *Log) MarkRead(conversationKey string) error {
	return l.db.MarkConversationRead(conversationKey)
}

// CleanOldMessages evicts synced messages older than maxAge and returns the
// deleted count. Pending messages are never evicted regardless of age.
func (l *Log) CleanOldMessages(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	return l.db.DeleteMessagesOlderThan(cutoff)
}
