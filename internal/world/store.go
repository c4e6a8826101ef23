package world

import (
	"sync"

	"github.com/l1jgo/worldmesh/internal/net/packet"
)

// Store is the process-wide entity store: one Table per component plus a
// map index. It is the only state shared between map actors and connection
// goroutines.
type Store struct {
	keys *KeyPool

	Kind      *Table[Kind]
	Spatial   *Table[Spatial]
	Vitals    *Table[Vitals]
	Stats     *Table[Stats]
	Flags     *Table[Flags]
	Timers    *Table[Timers]
	Target    *Table[Target]
	Brain     *Table[Brain]
	Client    *Table[Client]
	Inventory *Table[Inventory]
	Equipment *Table[Equipment]

	index mapIndex
}

func NewStore() *Store {
	s := &Store{
		keys:      NewKeyPool(),
		Kind:      NewTable[Kind]("kind"),
		Spatial:   NewTable[Spatial]("spatial"),
		Vitals:    NewTable[Vitals]("vitals"),
		Stats:     NewTable[Stats]("stats"),
		Flags:     NewTable[Flags]("flags"),
		Timers:    NewTable[Timers]("timers"),
		Target:    NewTable[Target]("target"),
		Brain:     NewTable[Brain]("brain"),
		Client:    NewTable[Client]("client"),
		Inventory: NewTable[Inventory]("inventory"),
		Equipment: NewTable[Equipment]("equipment"),
	}
	for i := range s.index.shards {
		s.index.shards[i].maps = make(map[MapPosition]map[GlobalKey]struct{})
	}
	return s
}

// Spawn allocates a key and registers its kind. The caller adds the other
// components and then calls Place.
func (s *Store) Spawn(kind Kind) GlobalKey {
	k := s.keys.Create()
	s.Kind.Set(k, kind)
	return k
}

// Alive reports whether k is a live, registered key.
func (s *Store) Alive(k GlobalKey) bool {
	return s.keys.Alive(k) && s.Kind.Has(k)
}

// Place sets the entity's position and moves it in the map index.
func (s *Store) Place(k GlobalKey, pos Position, dir Dir) {
	old, had := s.Spatial.Get(k)
	s.Spatial.Set(k, Spatial{Pos: pos, Dir: dir})
	if had && old.Pos.Map == pos.Map {
		return
	}
	if had {
		s.index.remove(old.Pos.Map, k)
	}
	s.index.add(pos.Map, k)
}

// Remove drops every component of k and frees the key. Removing a missing
// key is a no-op.
func (s *Store) Remove(k GlobalKey) {
	if sp, ok := s.Spatial.Get(k); ok {
		s.index.remove(sp.Pos.Map, k)
	}
	s.Kind.Delete(k)
	s.Spatial.Delete(k)
	s.Vitals.Delete(k)
	s.Stats.Delete(k)
	s.Flags.Delete(k)
	s.Timers.Delete(k)
	s.Target.Delete(k)
	s.Brain.Delete(k)
	s.Client.Delete(k)
	s.Inventory.Delete(k)
	s.Equipment.Delete(k)
	s.keys.Free(k)
}

// OnMap returns the keys indexed on m.
func (s *Store) OnMap(m MapPosition) []GlobalKey {
	return s.index.list(m)
}

// PlayersOnMap filters OnMap to players.
func (s *Store) PlayersOnMap(m MapPosition) []GlobalKey {
	keys := s.index.list(m)
	out := keys[:0]
	for _, k := range keys {
		if kind, ok := s.Kind.Get(k); ok && kind == KindPlayer {
			out = append(out, k)
		}
	}
	return out
}

// FindPlayer looks a logged-in player up by username.
func (s *Store) FindPlayer(username string) (GlobalKey, bool) {
	found := NoKey
	s.Client.Range(func(k GlobalKey, c Client) bool {
		if c.Username == username {
			found = k
			return false
		}
		return true
	})
	return found, found != NoKey
}

// Players returns the usernames of every logged-in player.
func (s *Store) Players() []string {
	var names []string
	s.Client.Range(func(_ GlobalKey, c Client) bool {
		names = append(names, c.Username)
		return true
	})
	return names
}

// Send writes b to k's connection if k is a connected player.
func (s *Store) Send(k GlobalKey, b *packet.Buffer) bool {
	c, ok := s.Client.Get(k)
	if !ok || c.Conn == nil {
		return false
	}
	return c.Conn.Send(b)
}

const indexShards = 16

type mapIndex struct {
	shards [indexShards]struct {
		mu   sync.RWMutex
		maps map[MapPosition]map[GlobalKey]struct{}
	}
}

func (ix *mapIndex) shardOf(m MapPosition) int {
	h := uint32(m.X)*73856093 ^ uint32(m.Y)*19349663 ^ m.Group*83492791
	return int(h % indexShards)
}

func (ix *mapIndex) add(m MapPosition, k GlobalKey) {
	sh := &ix.shards[ix.shardOf(m)]
	sh.mu.Lock()
	set := sh.maps[m]
	if set == nil {
		set = make(map[GlobalKey]struct{})
		sh.maps[m] = set
	}
	set[k] = struct{}{}
	sh.mu.Unlock()
}

func (ix *mapIndex) remove(m MapPosition, k GlobalKey) {
	sh := &ix.shards[ix.shardOf(m)]
	sh.mu.Lock()
	if set := sh.maps[m]; set != nil {
		delete(set, k)
		if len(set) == 0 {
			delete(sh.maps, m)
		}
	}
	sh.mu.Unlock()
}

func (ix *mapIndex) list(m MapPosition) []GlobalKey {
	sh := &ix.shards[ix.shardOf(m)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]GlobalKey, 0, len(sh.maps[m]))
	for k := range sh.maps[m] {
		out = append(out, k)
	}
	return out
}
