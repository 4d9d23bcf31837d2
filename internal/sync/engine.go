// Package sync bridges the local stores and the remote backend. It is the
// only component that performs network I/O on behalf of the cache: readers
// always hit the stores first and the engine reconciles in the background.
package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/formly-app/formly/internal/bus"
	"github.com/formly-app/formly/internal/content"
	"github.com/formly-app/formly/internal/convo"
	"github.com/formly-app/formly/internal/remote"
	"github.com/formly-app/formly/internal/status"
	"github.com/formly-app/formly/internal/store"
)

const (
	basePullBackoff  = 500 * time.Millisecond
	maxPullBackoff   = 30 * time.Second
	maxPullAttempts  = 6
	defaultInterval  = 2 * time.Second
	invalidationsCap = 128
)

// Options configures the engine.
type Options struct {
	// SessionID identifies this client on the change stream so its own
	// writes don't trigger redundant pulls.
	SessionID string
	// Interval is the flush+pull cycle period.
	Interval time.Duration
}

// Engine orchestrates differential pulls, pending flushes and realtime
// invalidations. It keeps no durable state of its own beyond the sync_state
// checkpoints; retry counters live in memory only.
type Engine struct {
	db      *store.DB
	log     *convo.Log
	cache   *content.Cache
	client  remote.Client
	dial    remote.StreamDialer
	tracker *status.Tracker
	bus     *bus.Bus
	logger  *zap.Logger

	sessionID string
	interval  time.Duration

	online        atomic.Bool
	invalidations chan string
	wake          chan struct{}

	mu         sync.Mutex
	registered map[string]struct{}
	failures   map[string]*backoff

	cancel context.CancelFunc
}

type backoff struct {
	attempts int
	next     time.Time
}

// NewEngine creates a sync engine. dial may be nil when no realtime stream is
// available; the engine then relies on the periodic cycle alone.
func NewEngine(
	db *store.DB,
	log *convo.Log,
	cache *content.Cache,
	client remote.Client,
	dial remote.StreamDialer,
	tracker *status.Tracker,
	b *bus.Bus,
	logger *zap.Logger,
	opts Options,
) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	return &Engine{
		db:            db,
		log:           log,
		cache:         cache,
		client:        client,
		dial:          dial,
		tracker:       tracker,
		bus:           b,
		logger:        logger,
		sessionID:     opts.SessionID,
		interval:      opts.Interval,
		invalidations: make(chan string, invalidationsCap),
		wake:          make(chan struct{}, 1),
		registered:    make(map[string]struct{}),
		failures:      make(map[string]*backoff),
	}
}

// Start launches the sync loop and, when a dialer is configured, the change
// stream loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.runLoop(ctx)
	if e.dial != nil {
		go e.streamLoop(ctx)
	} else {
		// No stream means no connectivity signal; assume online and let
		// network errors flip the flag.
		e.setOnline(true)
	}
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Online reports the engine's current connectivity assumption.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// Register adds a conversation to the sync set and, on first sight, walks it
// through the cache-first cold start: the resource is Ready from cache before
// any network traffic happens.
func (e *Engine) Register(conversationKey string) {
	e.mu.Lock()
	e.registered[conversationKey] = struct{}{}
	e.mu.Unlock()

	if e.tracker.Get(conversationKey).State == status.Uninitialized {
		_ = e.tracker.Transition(conversationKey, status.Loading, status.SourceNone)
		_ = e.tracker.Transition(conversationKey, status.Ready, status.SourceCache)
	}
}

// SyncNow runs one full cycle: pending flush first, then differential pulls.
// Local writes get priority so a pull that doesn't know about them yet cannot
// overwrite them.
func (e *Engine) SyncNow(ctx context.Context) {
	e.flushPending(ctx)
	e.pullAll(ctx)
}

func (e *Engine) runLoop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.online.Load() {
				e.SyncNow(ctx)
			}
		case key := <-e.invalidations:
			if e.online.Load() {
				e.PullConversation(ctx, key)
			}
		case <-e.wake:
			// Connectivity regained: flush then pull, immediately.
			e.SyncNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) pullAll(ctx context.Context) {
	for _, key := range e.syncSet() {
		if ctx.Err() != nil {
			return
		}
		e.PullConversation(ctx, key)
	}
}

// syncSet is the union of explicitly registered conversations and every
// conversation the store already knows about.
func (e *Engine) syncSet() []string {
	seen := make(map[string]struct{})
	e.mu.Lock()
	for key := range e.registered {
		seen[key] = struct{}{}
	}
	e.mu.Unlock()

	convs, err := e.log.Conversations(0)
	if err != nil {
		e.logger.Error("failed to list conversations", zap.Error(err))
	}
	for _, c := range convs {
		seen[c.ID] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys
}

// PullConversation performs one differential pull for a conversation: fetch
// only records newer than the cursor, save the delta, advance the checkpoint.
// With no cursor this degenerates into a full pull.
func (e *Engine) PullConversation(ctx context.Context, key string) {
	if !e.shouldAttempt(key) {
		return
	}
	e.enterSyncing(key)

	cursor, err := e.cursor(key)
	if err != nil {
		e.logger.Error("failed to read cursor", zap.Error(err), zap.String("conversation", key))
		e.recordFailure(key, err)
		return
	}

	msgs, err := e.client.FetchMessagesSince(ctx, key, cursor)
	if err != nil {
		e.logger.Warn("pull failed", zap.Error(err), zap.String("conversation", key))
		e.recordFailure(key, err)
		return
	}

	if len(msgs) > 0 {
		batch := make([]*store.Message, 0, len(msgs))
		newest := cursor
		for _, rm := range msgs {
			batch = append(batch, &store.Message{
				ID:              rm.ID,
				ConversationKey: key,
				Content:         rm.Content,
				SenderID:        rm.SenderID,
				ReceiverID:      rm.ReceiverID,
				MessageType:     rm.MessageType,
				FileRef:         rm.FileRef,
				CreatedAt:       rm.CreatedAt,
			})
			if rm.CreatedAt > newest {
				newest = rm.CreatedAt
			}
		}
		if err := e.log.SaveMessages(batch); err != nil {
			e.logger.Error("failed to save pulled messages", zap.Error(err), zap.String("conversation", key))
			e.recordFailure(key, err)
			return
		}
		if newest > cursor {
			if err := e.db.SetCheckpoint(key, newest); err != nil {
				e.logger.Error("failed to advance checkpoint", zap.Error(err), zap.String("conversation", key))
			}
		}
	}

	e.clearFailure(key)
	_ = e.tracker.Transition(key, status.Ready, status.SourceServer)

	e.bus.Publish(bus.Event{
		Kind:      "sync.pulled",
		Timestamp: time.Now(),
		Payload: map[string]any{
			"conversation_key": key,
			"fetched":          len(msgs),
		},
	})
}

// cursor computes the "since" value for a differential pull. The checkpoint
// and the stored tail can disagree after partial failures; the max of both is
// always safe because SaveMessages is idempotent.
func (e *Engine) cursor(key string) (int64, error) {
	checkpoint, err := e.db.Checkpoint(key)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	last, err := e.log.LastMessageTime(key)
	if err != nil {
		return 0, fmt.Errorf("read last message time: %w", err)
	}
	return max(checkpoint, last), nil
}

// SyncFormation fetches a full content tree and replaces the cached
// snapshot. fullyDownloaded marks an explicit offline download.
func (e *Engine) SyncFormation(ctx context.Context, id string, fullyDownloaded bool) error {
	existing, err := e.cache.Formation(id)
	if err != nil {
		return fmt.Errorf("read cached formation: %w", err)
	}

	rf, err := e.client.FetchFormation(ctx, id)
	if err != nil {
		if remote.IsNetwork(err) {
			e.setOnline(false)
		}
		return fmt.Errorf("fetch formation: %w", err)
	}

	lessons := make([]store.Lesson, 0, len(rf.Lessons))
	for _, rl := range rf.Lessons {
		lessons = append(lessons, store.Lesson{
			ID:       rl.ID,
			LevelID:  rl.LevelID,
			Title:    rl.Title,
			Content:  rl.Content,
			Position: rl.Position,
		})
	}

	f := &store.Formation{ID: rf.ID, Content: string(rf.Content)}
	if err := e.cache.SaveFormation(f, lessons, fullyDownloaded); err != nil {
		return err
	}
	if existing != nil {
		if err := e.cache.TouchSync(id); err != nil {
			e.logger.Warn("failed to stamp formation sync", zap.Error(err), zap.String("formation", id))
		}
	}
	return nil
}

// shouldAttempt applies the per-conversation backoff window.
func (e *Engine) shouldAttempt(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	bo, ok := e.failures[key]
	if !ok {
		return true
	}
	return !time.Now().Before(bo.next)
}

func (e *Engine) enterSyncing(key string) {
	if e.tracker.Get(key).State == status.Uninitialized {
		_ = e.tracker.Transition(key, status.Loading, status.SourceNone)
		_ = e.tracker.Transition(key, status.Ready, status.SourceCache)
	}
	// Re-read after the cold-start walk so Syncing carries the cache source,
	// not the pre-walk zero value.
	snap := e.tracker.Get(key)
	_ = e.tracker.Transition(key, status.Syncing, snap.Source)
}

// recordFailure applies exponential backoff and, once the attempt budget is
// exhausted, surfaces an explicit Error status instead of failing silently.
// The data stays served from cache either way.
func (e *Engine) recordFailure(key string, err error) {
	if remote.IsNetwork(err) {
		e.setOnline(false)
	}

	e.mu.Lock()
	bo, ok := e.failures[key]
	if !ok {
		bo = &backoff{}
		e.failures[key] = bo
	}
	bo.attempts++
	delay := basePullBackoff << (bo.attempts - 1)
	if delay > maxPullBackoff || delay <= 0 {
		delay = maxPullBackoff
	}
	bo.next = time.Now().Add(delay)
	attempts := bo.attempts
	e.mu.Unlock()

	if attempts >= maxPullAttempts {
		_ = e.tracker.Transition(key, status.Error, status.SourceCache)
	} else {
		_ = e.tracker.Transition(key, status.Ready, status.SourceCache)
	}
}

func (e *Engine) clearFailure(key string) {
	e.mu.Lock()
	delete(e.failures, key)
	e.mu.Unlock()
}

// setOnline flips the connectivity assumption, publishes the transition and,
// when connectivity comes back, schedules an immediate flush-then-pull.
func (e *Engine) setOnline(v bool) {
	old := e.online.Swap(v)
	if old == v {
		return
	}

	kind := "remote.offline"
	if v {
		kind = "remote.online"
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
	e.logger.Info("connectivity changed", zap.Bool("online", v))

	if v {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}
