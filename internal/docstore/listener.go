package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const listenerPingInterval = 90 * time.Second

// Watch listens on NotifyChannel and delivers committed changes to the
// store's subscribers until ctx is cancelled. Changes made by other
// processes sharing the database are delivered as well.
func (p *Postgres) Watch(ctx context.Context, dsn string, logger *zap.SugaredLogger) error {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warnw("docstore listener", "event", ev, "err", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	logger.Infow("docstore listener started", "channel", NotifyChannel)

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; notifications in the gap are lost
			if n == nil {
				logger.Warn("docstore listener reconnected")
				continue
			}
			p.dispatch(ctx, []byte(n.Extra), logger)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					logger.Debugw("docstore listener ping", "err", err)
				}
			}()
		}
	}
}

// dispatch decodes a trigger payload, loads the current document for
// additions and changes, and publishes to subscribers.
func (p *Postgres) dispatch(ctx context.Context, payload []byte, logger *zap.SugaredLogger) {
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		logger.Warnw("bad docstore notification", "payload", string(payload), "err", err)
		return
	}
	if c.Kind != Removed {
		var doc json.RawMessage
		if err := p.Get(ctx, c.Collection, c.Key, &doc); err != nil {
			if errors.Is(err, ErrNotFound) {
				// removed before we could read it; the removal follows
				return
			}
			logger.Warnw("load changed document", "collection", c.Collection, "key", c.Key, "err", err)
			return
		}
		c.Doc = doc
	}
	p.hub.publish(c)
}
