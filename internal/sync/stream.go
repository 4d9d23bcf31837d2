package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/formly-app/formly/internal/remote"
)

const (
	baseStreamBackoff = time.Second
	maxStreamBackoff  = time.Minute
)

// streamLoop owns the change stream connection. The dialer gives us one
// connection attempt; redial and backoff live here so a flaky link never
// kills realtime updates permanently.
func (e *Engine) streamLoop(ctx context.Context) {
	delay := baseStreamBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		s, err := e.dial(ctx)
		if err != nil {
			e.setOnline(false)
			e.logger.Debug("change stream dial failed", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay = min(delay*2, maxStreamBackoff)
			continue
		}
		delay = baseStreamBackoff

		e.consumeStream(ctx, s)
		e.setOnline(false)
	}
}

// consumeStream reads one connection until it dies. Change events are handed
// to the main loop through a buffered channel: the pull itself runs on the
// same goroutine as the periodic cycle, which keeps per-conversation ordering.
func (e *Engine) consumeStream(ctx context.Context, s remote.ChangeStream) {
	defer func() { _ = s.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.Events():
			if !ok {
				return
			}
			switch {
			case evt.Status == remote.StatusConnected:
				e.setOnline(true)
			case evt.Status == remote.StatusDisconnected || evt.Status == remote.StatusError:
				return
			case evt.ResourceKey != "":
				if evt.AuthorSession != "" && evt.AuthorSession == e.sessionID {
					// Our own write coming back; the flush path already
					// reconciled it.
					continue
				}
				select {
				case e.invalidations <- evt.ResourceKey:
				default:
					e.logger.Warn("invalidation queue full, dropping event",
						zap.String("resource", evt.ResourceKey))
				}
			}
		}
	}
}
