package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often idle sessions are looked for.
const DefaultCleanupInterval = time.Minute

// Expirer removes sessions idle for longer than a given duration and returns their ids.
type Expirer interface {
	Expire(idle time.Duration) []string
}

// CleanupService periodically tears down idle sessions of an Expirer.
type CleanupService struct {
	store    Expirer
	idle     time.Duration
	interval time.Duration
	onExpire func(id string)

	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewCleanupService creates a cleanup service. onExpire, if set, is called for every removed session.
func NewCleanupService(
	store Expirer,
	idle, interval time.Duration,
	onExpire func(id string),
	logger *slog.Logger,
) *CleanupService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupService{
		store:    store,
		idle:     idle,
		interval: interval,
		onExpire: onExpire,
		logger:   logger.With(slog.String("module", "session.cleanup")),
	}
}

// Start begins the periodic cleanup. Calling Start on a running service does nothing.
func (c *CleanupService) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(ctx, c.done)
}

// Stop stops the cleanup and waits for the running pass to finish.
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *CleanupService) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Cleanup service stopping")
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *CleanupService) sweep() {
	removed := c.store.Expire(c.idle)
	for _, id := range removed {
		if c.onExpire != nil {
			c.onExpire(id)
		}
	}
	if len(removed) > 0 {
		c.logger.Info("Expired idle sessions", slog.Int("count", len(removed)))
	}
}
