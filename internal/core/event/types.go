package event

import "github.com/l1jgo/worldmesh/internal/world"

// Map actor event types.

// EntityDied is emitted when an entity's HP reaches zero.
type EntityDied struct {
	Key    world.GlobalKey
	Killer world.GlobalKey
	Pos    world.Position
}

// EntityRespawned is emitted when a dead entity comes back.
type EntityRespawned struct {
	Key world.GlobalKey
	Pos world.Position
}

// PlayerEntered is emitted when a player is placed on the map.
type PlayerEntered struct {
	Key world.GlobalKey
}
