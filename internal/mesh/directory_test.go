package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

type fakeSpawner struct {
	dir     *Directory
	known   map[world.MapPosition]bool
	inboxes map[world.MapPosition]chan Incoming
	spawns  int
}

func (f *fakeSpawner) SpawnMap(pos world.MapPosition) bool {
	if !f.known[pos] {
		return false
	}
	inbox := make(chan Incoming, 4)
	if err := f.dir.Register(pos, inbox); err != nil {
		return false
	}
	f.inboxes[pos] = inbox
	f.spawns++
	return true
}

func newTestDirectory(known ...world.MapPosition) (*Directory, *fakeSpawner) {
	d := NewDirectory(zap.NewNop())
	f := &fakeSpawner{dir: d, known: map[world.MapPosition]bool{}, inboxes: map[world.MapPosition]chan Incoming{}}
	for _, k := range known {
		f.known[k] = true
	}
	d.SetSpawner(f)
	return d, f
}

func TestSendWakesMap(t *testing.T) {
	m := world.MapPosition{X: 1, Y: 2}
	d, f := newTestDirectory(m)

	err := d.Send(context.Background(), m, Incoming{Kind: EntityLeave, Key: 7})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, f.spawns)

	got := <-f.inboxes[m]
	assert.Equal(t, EntityLeave, got.Kind)
	assert.Equal(t, m, got.Map)
	assert.Equal(t, world.GlobalKey(7), got.Key)
}

func TestSendUnknownMapIsRecoverable(t *testing.T) {
	d, _ := newTestDirectory()
	err := d.Send(context.Background(), world.MapPosition{X: 9}, Incoming{Kind: GameTime})
	assert.T(t, errors.Is(err, ErrMapUnavailable), err)
}

func TestSendToRetiredEntryWakesAndDelivers(t *testing.T) {
	m := world.MapPosition{X: 1}
	d, f := newTestDirectory(m)
	old := make(chan Incoming, 4)
	assert.Equal(t, nil, d.Register(m, old))

	// a sender that fetched the entry just before Retire closed it
	d.get(m).closed = true

	err := d.Send(context.Background(), m, Incoming{Kind: EntityLeave, Key: 3})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, f.spawns)
	assert.Equal(t, 0, len(old))
	got := <-f.inboxes[m]
	assert.Equal(t, world.GlobalKey(3), got.Key)
}

func TestSendWakesAtMostOnce(t *testing.T) {
	m := world.MapPosition{X: 4}
	d, f := newTestDirectory(m)
	// the spawned actor retires before the send reaches it
	d.SetSpawner(spawnerFunc(func(pos world.MapPosition) bool {
		if !f.SpawnMap(pos) {
			return false
		}
		d.get(pos).closed = true
		return true
	}))

	err := d.Send(context.Background(), m, Incoming{Kind: GameTime})
	assert.T(t, errors.Is(err, ErrMapUnavailable), err)
	assert.Equal(t, 1, f.spawns)
}

type spawnerFunc func(pos world.MapPosition) bool

func (fn spawnerFunc) SpawnMap(pos world.MapPosition) bool { return fn(pos) }

func TestRegisterRefusesSecondActor(t *testing.T) {
	d, _ := newTestDirectory()
	m := world.MapPosition{}
	assert.Equal(t, nil, d.Register(m, make(chan Incoming, 1)))
	assert.NotEqual(t, nil, d.Register(m, make(chan Incoming, 1)))
}

func TestRetireRequiresEmptyInbox(t *testing.T) {
	m := world.MapPosition{X: 3}
	d, f := newTestDirectory(m)
	assert.T(t, d.Wake(m))
	inbox := f.inboxes[m]

	assert.Equal(t, nil, d.Send(context.Background(), m, Incoming{Kind: GameTime}))
	assert.T(t, !d.Retire(m, inbox), "queued work must block retire")

	<-inbox
	assert.T(t, !d.Retire(m, make(chan Incoming)), "foreign inbox must not retire")
	assert.T(t, d.Retire(m, inbox))
	assert.T(t, !d.Lookup(m))

	// the next send wakes a fresh actor instead of reaching the retired inbox
	assert.Equal(t, nil, d.Send(context.Background(), m, Incoming{Kind: GameTime}))
	assert.Equal(t, 2, f.spawns)
	assert.Equal(t, 0, len(inbox))
	assert.Equal(t, 1, len(f.inboxes[m]))
}

func TestRetireWaitsForInFlightSend(t *testing.T) {
	m := world.MapPosition{}
	d := NewDirectory(zap.NewNop())
	inbox := make(chan Incoming, 1)
	assert.Equal(t, nil, d.Register(m, inbox))

	// a sender between lookup and enqueue holds the entry read lock
	e := d.get(m)
	e.mu.RLock()
	assert.T(t, !d.Retire(m, inbox))
	e.mu.RUnlock()

	assert.T(t, d.Retire(m, inbox))
	assert.T(t, e.closed)
}

func TestSendHonoursContext(t *testing.T) {
	m := world.MapPosition{}
	d := NewDirectory(zap.NewNop())
	assert.Equal(t, nil, d.Register(m, make(chan Incoming)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Send(ctx, m, Incoming{Kind: GameTime})
	assert.T(t, errors.Is(err, context.DeadlineExceeded), err)
}

func TestBroadcastSkipsFullInboxes(t *testing.T) {
	d := NewDirectory(zap.NewNop())
	a, b := make(chan Incoming, 1), make(chan Incoming, 1)
	d.Register(world.MapPosition{X: 0}, a)
	d.Register(world.MapPosition{X: 1}, b)
	b <- Incoming{}

	n := d.Broadcast(Incoming{Kind: GameTime, Time: world.GameTime{Hour: 3}})
	assert.Equal(t, 1, n)
	got := <-a
	assert.Equal(t, world.GameTime{Hour: 3}, got.Time)
	assert.Equal(t, world.MapPosition{X: 0}, got.Map)
}

func TestNotifyNeverWakes(t *testing.T) {
	m := world.MapPosition{X: 4}
	d, f := newTestDirectory(m)

	assert.T(t, !d.Notify(m, Incoming{Kind: EntityDied, Key: 1}))
	assert.Equal(t, 0, f.spawns)

	assert.T(t, d.Wake(m))
	assert.T(t, d.Notify(m, Incoming{Kind: EntityDied, Key: 1}))
	got := <-f.inboxes[m]
	assert.Equal(t, m, got.Map)
	assert.Equal(t, world.GlobalKey(1), got.Key)
}
