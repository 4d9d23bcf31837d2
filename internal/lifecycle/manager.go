// Package lifecycle owns storage hygiene: usage reporting, age-based
// eviction of cached data, and the full local reset.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/formly-app/formly/internal/bus"
	"github.com/formly-app/formly/internal/content"
	"github.com/formly-app/formly/internal/convo"
	"github.com/formly-app/formly/internal/store"
)

// Manager runs periodic cleanup and answers storage queries.
type Manager struct {
	db     *store.DB
	cache  *content.Cache
	log    *convo.Log
	bus    *bus.Bus
	logger *zap.Logger

	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
}

// NewManager creates a storage manager. retention bounds the age of evictable
// data; interval is the cleanup period.
func NewManager(db *store.DB, cache *content.Cache, log *convo.Log, b *bus.Bus, logger *zap.Logger, retention, interval time.Duration) *Manager {
	return &Manager{
		db:        db,
		cache:     cache,
		log:       log,
		bus:       b,
		logger:    logger,
		retention: retention,
		interval:  interval,
	}
}

// Start launches the periodic cleanup loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Stop stops the cleanup loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CleanupOldData()
		case <-ctx.Done():
			return
		}
	}
}

// Stats reports current storage usage.
func (m *Manager) Stats() (*store.Stats, error) {
	return m.db.CollectStats()
}

// CleanupOldData evicts messages and media older than the retention window.
// Pending messages are never evicted regardless of age. Failures are logged
// and skipped; cleanup is best effort and runs again next tick.
func (m *Manager) CleanupOldData() {
	messages, err := m.log.CleanOldMessages(m.retention)
	if err != nil {
		m.logger.Error("message cleanup failed", zap.Error(err))
	}
	media, err := m.cache.CleanOldMedia(m.retention)
	if err != nil {
		m.logger.Error("media cleanup failed", zap.Error(err))
	}

	if messages > 0 || media > 0 {
		m.logger.Info("evicted old data",
			zap.Int64("messages", messages),
			zap.Int64("media", media),
			zap.Duration("retention", m.retention))
		m.bus.Publish(bus.Event{
			Kind:      "storage.cleaned",
			Timestamp: time.Now(),
			Payload:   map[string]any{"messages": messages, "media": media},
		})
	}
}

// ClearAllData wipes every local table, including pending messages and sync
// checkpoints. Queued writes are lost; the next pull rebuilds from scratch.
func (m *Manager) ClearAllData() error {
	if err := m.db.ClearAll(); err != nil {
		return err
	}
	m.logger.Warn("local data cleared")
	m.bus.Publish(bus.Event{Kind: "storage.cleared", Timestamp: time.Now()})
	return nil
}
