package net

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"go.uber.org/zap"
)

// Relay is the login relay: it takes freshly accepted sessions from every
// transport, applies connection limits and forwards the survivors, promoted
// to OnlineAccepted, to the core over Ready.
type Relay struct {
	intake chan *Session
	ready  chan *Session

	maxConns  int
	perMinute int // 0 = unlimited
	active    atomic.Int64

	recent map[string][]time.Time // relay goroutine only
	now    func() time.Time

	log *zap.Logger
}

func NewRelay(cfg *config.Config, log *zap.Logger) *Relay {
	r := &Relay{
		intake:   make(chan *Session, 64),
		ready:    make(chan *Session, 64),
		maxConns: cfg.Network.MaxConnections,
		recent:   make(map[string][]time.Time),
		now:      time.Now,
		log:      log,
	}
	if cfg.RateLimit.Enabled {
		r.perMinute = cfg.RateLimit.ConnectionsPerMinute
	}
	return r
}

// Intake is where transports push new sessions.
func (r *Relay) Intake() chan<- *Session { return r.intake }

// Ready delivers admitted sessions.
func (r *Relay) Ready() <-chan *Session { return r.ready }

// Active returns the number of admitted sessions still open.
func (r *Relay) Active() int64 { return r.active.Load() }

// Run admits sessions until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-prune.C:
			r.pruneAll()
		case sess := <-r.intake:
			if !r.admit(sess) {
				sess.Close()
				continue
			}
			select {
			case r.ready <- sess:
			case <-ctx.Done():
				sess.Close()
				return nil
			}
		}
	}
}

func (r *Relay) admit(sess *Session) bool {
	if r.maxConns > 0 && r.active.Load() >= int64(r.maxConns) {
		r.log.Warn("連線數已達上限", zap.Uint64("session", sess.ID), zap.Int("max", r.maxConns))
		return false
	}
	if r.perMinute > 0 {
		now := r.now()
		hits := trimBefore(r.recent[sess.IP], now.Add(-time.Minute))
		if len(hits) >= r.perMinute {
			r.recent[sess.IP] = hits
			r.log.Warn("連線頻率超限", zap.String("ip", sess.IP), zap.Int("per_minute", r.perMinute))
			return false
		}
		r.recent[sess.IP] = append(hits, now)
	}
	if !sess.Promote(packet.OnlineAccepted) {
		return false
	}
	r.active.Add(1)
	go func() {
		<-sess.Done()
		r.active.Add(-1)
	}()
	return true
}

func (r *Relay) pruneAll() {
	cutoff := r.now().Add(-time.Minute)
	for ip, hits := range r.recent {
		hits = trimBefore(hits, cutoff)
		if len(hits) == 0 {
			delete(r.recent, ip)
			continue
		}
		r.recent[ip] = hits
	}
}

func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && hits[i].Before(cutoff) {
		i++
	}
	return hits[i:]
}
