package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// ErrMapUnavailable is returned when no actor serves a map and none could
// be woken for it.
var ErrMapUnavailable = errors.New("map unavailable")

// Mesh is how map actors and connection handlers reach map actors.
type Mesh interface {
	// Send delivers msg to the actor for pos, waking it if needed. It blocks
	// while the inbox is full until ctx ends.
	Send(ctx context.Context, pos world.MapPosition, msg Incoming) error
	// Broadcast offers msg to every live actor without blocking and returns
	// how many accepted it.
	Broadcast(msg Incoming) int
	// Notify offers msg to the actor for pos only if it is live, without
	// waking or blocking.
	Notify(pos world.MapPosition, msg Incoming) bool
}

// Spawner creates and starts the actor for pos, registering its inbox with
// the directory. It returns false when pos has no map data.
type Spawner interface {
	SpawnMap(pos world.MapPosition) bool
}

type entry struct {
	mu     sync.RWMutex // read: a send in flight; write: retire
	inbox  chan Incoming
	closed bool
}

// Directory maps MapPosition to the inbox of its single live actor. It is
// read-mostly: entries change only on wake and retire.
type Directory struct {
	mu   sync.RWMutex
	maps map[world.MapPosition]*entry

	wakeMu  sync.Mutex
	spawner Spawner

	log *zap.Logger
}

func NewDirectory(log *zap.Logger) *Directory {
	return &Directory{
		maps: make(map[world.MapPosition]*entry),
		log:  log,
	}
}

// SetSpawner installs the lazy map factory used by Wake.
func (d *Directory) SetSpawner(s Spawner) {
	d.wakeMu.Lock()
	d.spawner = s
	d.wakeMu.Unlock()
}

// Register binds inbox to pos. A second live actor for the same map is
// refused.
func (d *Directory) Register(pos world.MapPosition, inbox chan Incoming) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.maps[pos]; ok {
		return fmt.Errorf("map %s already has an actor", pos)
	}
	d.maps[pos] = &entry{inbox: inbox}
	return nil
}

func (d *Directory) get(pos world.MapPosition) *entry {
	d.mu.RLock()
	e := d.maps[pos]
	d.mu.RUnlock()
	return e
}

// Lookup reports whether pos currently has a live actor.
func (d *Directory) Lookup(pos world.MapPosition) bool {
	return d.get(pos) != nil
}

// Maps lists every live map.
func (d *Directory) Maps() []world.MapPosition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]world.MapPosition, 0, len(d.maps))
	for pos := range d.maps {
		out = append(out, pos)
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.maps)
}

// Wake makes sure pos has a live actor, spawning one through the Spawner.
func (d *Directory) Wake(pos world.MapPosition) bool {
	d.wakeMu.Lock()
	defer d.wakeMu.Unlock()
	if d.Lookup(pos) {
		return true
	}
	if d.spawner == nil || !d.spawner.SpawnMap(pos) {
		return false
	}
	d.log.Debug("地圖喚醒", zap.Stringer("map", pos))
	return d.Lookup(pos)
}

// Send implements Mesh. A missing or retiring map is woken once before the
// send fails with ErrMapUnavailable. A retired entry, the wake and the send
// to the new actor fit in three passes.
func (d *Directory) Send(ctx context.Context, pos world.MapPosition, msg Incoming) error {
	msg.Map = pos
	woke := false
	for attempt := 0; attempt < 3; attempt++ {
		e := d.get(pos)
		if e == nil {
			if woke || !d.Wake(pos) {
				break
			}
			woke = true
			continue
		}
		e.mu.RLock()
		if e.closed {
			e.mu.RUnlock()
			d.removeIf(pos, e)
			continue
		}
		select {
		case e.inbox <- msg:
			e.mu.RUnlock()
			return nil
		case <-ctx.Done():
			e.mu.RUnlock()
			return fmt.Errorf("send %s to %s: %w", msg.Kind, pos, ctx.Err())
		}
	}
	return fmt.Errorf("send %s to %s: %w", msg.Kind, pos, ErrMapUnavailable)
}

// Broadcast implements Mesh. Full inboxes drop the message.
func (d *Directory) Broadcast(msg Incoming) int {
	d.mu.RLock()
	targets := make(map[world.MapPosition]*entry, len(d.maps))
	for pos, e := range d.maps {
		targets[pos] = e
	}
	d.mu.RUnlock()

	n := 0
	for pos, e := range targets {
		m := msg
		m.Map = pos
		e.mu.RLock()
		if !e.closed {
			select {
			case e.inbox <- m:
				n++
			default:
			}
		}
		e.mu.RUnlock()
	}
	return n
}

// Notify implements Mesh.
func (d *Directory) Notify(pos world.MapPosition, msg Incoming) bool {
	e := d.get(pos)
	if e == nil {
		return false
	}
	msg.Map = pos
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.inbox <- msg:
		return true
	default:
		return false
	}
}

// Retire removes pos from the directory if inbox is its registered inbox,
// the inbox is empty and no sender is mid-send. The actor must stop only
// after Retire returns true; on false it keeps serving.
func (d *Directory) Retire(pos world.MapPosition, inbox chan Incoming) bool {
	e := d.get(pos)
	if e == nil || e.inbox != inbox {
		return false
	}
	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()
	if len(e.inbox) > 0 {
		return false
	}
	e.closed = true
	d.removeIf(pos, e)
	return true
}

func (d *Directory) removeIf(pos world.MapPosition, e *entry) {
	d.mu.Lock()
	if d.maps[pos] == e {
		delete(d.maps, pos)
	}
	d.mu.Unlock()
}
