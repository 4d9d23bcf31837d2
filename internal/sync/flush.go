package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/formly-app/formly/internal/bus"
	"github.com/formly-app/formly/internal/remote"
)

// flushPending drains the pending queue in creation order. A transient
// failure aborts the round and flips the engine offline; the queue survives
// and is retried on the next cycle, without limit. A remote rejection marks
// the message send_failed but leaves it queued, so fixing the backend is
// enough to get it delivered.
func (e *Engine) flushPending(ctx context.Context) {
	pending, err := e.log.PendingMessages()
	if err != nil {
		e.logger.Error("failed to list pending messages", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	flushed := 0
	for _, m := range pending {
		if ctx.Err() != nil {
			return
		}

		res, err := e.client.InsertMessage(ctx, remote.InsertPayload{
			LocalID:         m.LocalID,
			ConversationKey: m.ConversationKey,
			Content:         m.Content,
			SenderID:        m.SenderID,
			ReceiverID:      m.ReceiverID,
			MessageType:     m.MessageType,
			FileRef:         m.FileRef,
			CreatedAt:       m.CreatedAt,
		})
		if err != nil {
			if remote.IsValidation(err) {
				e.logger.Warn("backend rejected pending message",
					zap.Error(err),
					zap.String("local_id", m.ID),
					zap.String("conversation", m.ConversationKey))
				if merr := e.log.MarkSendFailed(m.ID); merr != nil {
					e.logger.Error("failed to flag rejected message", zap.Error(merr), zap.String("local_id", m.ID))
				}
				continue
			}
			// Transient: stop here, keep queue order, retry next cycle.
			e.logger.Warn("flush interrupted",
				zap.Error(err),
				zap.String("local_id", m.ID),
				zap.Int("flushed", flushed))
			e.setOnline(false)
			return
		}

		if err := e.log.MarkMessageSynced(m.ID, res.ServerID); err != nil {
			e.logger.Error("failed to reconcile sent message",
				zap.Error(err),
				zap.String("local_id", m.ID),
				zap.String("server_id", res.ServerID))
			continue
		}
		flushed++
	}

	if flushed > 0 {
		e.bus.Publish(bus.Event{
			Kind:      "sync.flushed",
			Timestamp: time.Now(),
			Payload:   map[string]any{"count": flushed},
		})
	}
}
