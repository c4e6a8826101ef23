package system

import (
	"context"
	"sync"
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/mesh"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// Clock is the only writer of in-world time. Every minute boundary it
// broadcasts the new GameTime to all live map actors; full inboxes miss it.
type Clock struct {
	mesh   mesh.Mesh
	tick   time.Duration
	minute time.Duration

	mu   sync.RWMutex
	time world.GameTime

	next  time.Time // Run goroutine only
	clock func() time.Time

	log *zap.Logger
}

func NewClock(cfg config.ClockConfig, m mesh.Mesh, log *zap.Logger) *Clock {
	return &Clock{
		mesh:   m,
		tick:   cfg.Tick,
		minute: cfg.MinuteLength,
		time:   world.GameTime{Hour: cfg.StartHour, Min: cfg.StartMinute},
		clock:  time.Now,
		log:    log,
	}
}

// Now returns a snapshot of the current in-world time.
func (c *Clock) Now() world.GameTime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.time
}

// Run ticks until ctx ends.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	c.next = c.clock().Add(c.minute)
	c.log.Info("遊戲時鐘啟動", zap.Stringer("time", c.Now()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.step(c.clock())
		}
	}
}

// step advances at most one minute when the deadline has passed. It reports
// whether the time changed.
func (c *Clock) step(now time.Time) bool {
	if now.Before(c.next) {
		return false
	}
	c.mu.Lock()
	c.time = c.time.AdvanceMinute()
	t := c.time
	c.mu.Unlock()
	c.next = c.next.Add(c.minute)

	n := c.mesh.Broadcast(mesh.Incoming{Kind: mesh.GameTime, Time: t})
	c.log.Debug("遊戲時間推進", zap.Stringer("time", t), zap.Int("maps", n))
	return true
}
