package world

import (
	"time"

	"github.com/l1jgo/worldmesh/internal/net/packet"
)

// Kind tells players and NPCs apart.
type Kind uint8

const (
	KindPlayer Kind = iota + 1
	KindNpc
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindNpc:
		return "npc"
	}
	return "unknown"
}

// Spatial is the authoritative position and facing.
type Spatial struct {
	Pos Position
	Dir Dir
}

type Stats struct {
	Level   int32
	Damage  int32
	Defense int32
	Range   int32 // attack reach in tiles
}

type Flags struct {
	Hidden   bool
	Stunned  bool
	InCombat bool
	Casting  bool
}

// Timers holds the next instant each kind of action is allowed.
type Timers struct {
	Attack time.Time
	Death  time.Time
	Target time.Time
	Combat time.Time
	Move   time.Time
	Spawn  time.Time
	AI     time.Time
}

// Target is the entity currently targeted and where it was last seen.
type Target struct {
	Key GlobalKey
	Pos Position
}

// NpcMode selects an NPC behaviour variant. Players always carry ModeNone.
type NpcMode uint8

const (
	ModeNone NpcMode = iota
	ModeNormal
	ModeAggressive
	ModeGuard
	ModeHealer
)

func (m NpcMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeNormal:
		return "normal"
	case ModeAggressive:
		return "aggressive"
	case ModeGuard:
		return "guard"
	case ModeHealer:
		return "healer"
	}
	return "unknown"
}

// ParseNpcMode maps the data-file spelling to a mode.
func ParseNpcMode(s string) NpcMode {
	switch s {
	case "aggressive":
		return ModeAggressive
	case "guard":
		return ModeGuard
	case "healer":
		return ModeHealer
	}
	return ModeNormal
}

// Brain is the NPC-only AI component.
type Brain struct {
	Mode   NpcMode
	NpcID  int32
	Name   string
	Spawn  Position
	Active bool // an AI stage chain is in flight
}

// Aggressive NPCs look for targets on their own.
func (b Brain) Aggressive() bool {
	return b.Mode == ModeAggressive || b.Mode == ModeGuard
}

// Sender is the outbound side of a connection.
type Sender interface {
	Send(b *packet.Buffer) bool
}

// Client is the player-only connection component.
type Client struct {
	Conn      Sender
	SessionID uint64
	AccountID int64
	Username  string
	Online    packet.OnlineType
	Endian    packet.Endian
}
