// Package presence caches online/offline state for contacts. Fresh data
// arrives over the push channel; a request/response fallback covers the
// window where the channel is down.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beep-chat/beep/internal/bus"
	"github.com/beep-chat/beep/internal/model"
)

// Requester is the request/response fallback for presence lookups.
type Requester interface {
	StatusBatch(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error)
}

// Emitter pushes requests over the live channel.
type Emitter interface {
	Emit(event string, payload any) error
	Connected() bool
}

// Cache holds the latest known presence record per user. Records converge
// on last-received-wins: whatever arrives most recently replaces what is
// cached, regardless of source.
type Cache struct {
	api    Requester
	ch     Emitter
	bus    *bus.Bus
	logger *zap.Logger

	// FallbackDelay is how long a request waits for the channel to come
	// back before falling through to the request/response path.
	FallbackDelay time.Duration

	mu      sync.Mutex
	records map[string]model.PresenceRecord

	stop chan struct{}
}

// New creates a presence cache.
func New(api Requester, ch Emitter, b *bus.Bus, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		api:           api,
		ch:            ch,
		bus:           b,
		logger:        logger,
		FallbackDelay: time.Second,
		records:       make(map[string]model.PresenceRecord),
	}
}

// Get returns the cached record for a user. A miss kicks off a background
// request; the answer lands later as a presence.updated event.
func (c *Cache) Get(userID string) (model.PresenceRecord, bool) {
	c.mu.Lock()
	rec, ok := c.records[userID]
	c.mu.Unlock()
	if !ok {
		go c.RequestMany(context.Background(), []string{userID})
	}
	return rec, ok
}

// RequestMany asks for fresh presence on a batch of users. With a live
// channel the request goes over it; otherwise the cache briefly waits for a
// reconnect and then falls back to request/response.
func (c *Cache) RequestMany(ctx context.Context, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}
	if c.ch.Connected() {
		err := c.ch.Emit("get:status", model.StatusRequest{UserIDs: userIDs})
		if err == nil {
			return
		}
		c.logger.Debug("presence request over channel failed", zap.Error(err))
		c.fetch(ctx, userIDs)
		return
	}

	timer := time.NewTimer(c.FallbackDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}
	if c.ch.Connected() {
		if err := c.ch.Emit("get:status", model.StatusRequest{UserIDs: userIDs}); err == nil {
			return
		}
	}
	c.fetch(ctx, userIDs)
}

func (c *Cache) fetch(ctx context.Context, userIDs []string) {
	recs, err := c.api.StatusBatch(ctx, userIDs)
	if err != nil {
		c.logger.Warn("presence fallback failed", zap.Error(err))
		return
	}
	c.ApplyBatch(recs)
}

// ApplyUpdate stores one record pushed by the server.
func (c *Cache) ApplyUpdate(rec model.PresenceRecord) {
	c.merge(rec)
}

// ApplyBatch stores a batch of records.
func (c *Cache) ApplyBatch(recs []model.PresenceRecord) {
	for _, rec := range recs {
		c.merge(rec)
	}
}

func (c *Cache) merge(rec model.PresenceRecord) {
	if rec.UserID == "" {
		return
	}
	c.mu.Lock()
	c.records[rec.UserID] = rec
	c.mu.Unlock()
	c.bus.Publish(bus.KindPresenceUpdated, rec)
}

// Start refreshes every tracked user when the channel reconnects: records
// that changed while the channel was down would otherwise stay stale until
// the next push.
func (c *Cache) Start() {
	events, unsub := c.bus.Subscribe("channel.", 16)
	c.stop = make(chan struct{})
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				if evt.Kind != bus.KindChannelConnected {
					continue
				}
				c.mu.Lock()
				ids := make([]string, 0, len(c.records))
				for id := range c.records {
					ids = append(ids, id)
				}
				c.mu.Unlock()
				c.RequestMany(context.Background(), ids)
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the reconnect watcher.
func (c *Cache) Stop() {
	if c.stop != nil {
		close(c.stop)
	}
}

// Label renders a presence record for display.
func Label(rec model.PresenceRecord, now time.Time) string {
	if rec.Online() {
		return "Online"
	}
	if rec.LastActive.IsZero() {
		return "Offline"
	}
	d := now.Sub(rec.LastActive)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return rec.LastActive.Format("1/2/2006")
	}
}
