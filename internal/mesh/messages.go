package mesh

import (
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/world"
)

// IncomingKind tags a map actor inbox message.
type IncomingKind uint8

const (
	// PlayerStage carries a msgpack-encoded player stage handed off from
	// another map.
	PlayerStage IncomingKind = iota + 1
	// NpcStage carries a msgpack-encoded NPC stage.
	NpcStage
	// GameTime announces the new in-world minute.
	GameTime
	// EntityDied tells the map an entity it may reference has died.
	EntityDied
	// EntityLeave removes a disconnected player from the map.
	EntityLeave
	// Broadcast sends a finished frame to every player on the map.
	Broadcast
)

func (k IncomingKind) String() string {
	switch k {
	case PlayerStage:
		return "PlayerStage"
	case NpcStage:
		return "NpcStage"
	case GameTime:
		return "GameTime"
	case EntityDied:
		return "EntityDied"
	case EntityLeave:
		return "EntityLeave"
	case Broadcast:
		return "Broadcast"
	}
	return "Unknown"
}

// Incoming is one message addressed to a map actor. Only the fields of its
// Kind are set.
type Incoming struct {
	Kind IncomingKind
	Map  world.MapPosition

	Stage []byte // PlayerStage, NpcStage

	Time world.GameTime // GameTime

	Key    world.GlobalKey // EntityDied, EntityLeave
	Killer world.GlobalKey // EntityDied

	Frame   *packet.Buffer  // Broadcast, finished
	Exclude world.GlobalKey // Broadcast: skip this player
}
