package system

import (
	"fmt"

	"github.com/l1jgo/worldmesh/internal/world"
	"github.com/vmihailenco/msgpack/v5"
)

// MoveSub is the half of a movement a stage is in.
type MoveSub uint8

const (
	// MoveStart validates a step in Dir from the current position.
	MoveStart MoveSub = iota + 1
	// MoveFinish places the entity on To. Its authoritative map is To.Map.
	MoveFinish
)

func (m MoveSub) String() string {
	switch m {
	case MoveStart:
		return "start"
	case MoveFinish:
		return "finish"
	}
	return "none"
}

// Movement is the payload of a movement stage.
type Movement struct {
	Sub MoveSub        `msgpack:"s"`
	Dir world.Dir      `msgpack:"d"`
	To  world.Position `msgpack:"to"`
}

// PlayerStageKind tags a PlayerStage.
type PlayerStageKind uint8

const (
	// PlayerNone places the player at Resume: login, warp and respawn.
	PlayerNone PlayerStageKind = iota
	// PlayerContinue ends the pipeline.
	PlayerContinue
	// PlayerTargeting selects (Flag TargetSelect/TargetAttack) or clears
	// (TargetClear) Target.
	PlayerTargeting
	// PlayerCombat swings at the current target or the tile in front.
	PlayerCombat
	// PlayerMovement runs Move.
	PlayerMovement
)

func (k PlayerStageKind) String() string {
	switch k {
	case PlayerNone:
		return "None"
	case PlayerContinue:
		return "Continue"
	case PlayerTargeting:
		return "Targeting"
	case PlayerCombat:
		return "Combat"
	case PlayerMovement:
		return "Movement"
	}
	return fmt.Sprintf("PlayerStageKind(%d)", uint8(k))
}

// Targeting flags.
const (
	TargetSelect uint8 = iota
	TargetAttack
	TargetClear
)

// PlayerStage is one step of a player's action pipeline. Only the fields of
// Kind are meaningful; the value travels unchanged between map actors.
type PlayerStage struct {
	Kind   PlayerStageKind `msgpack:"k"`
	Key    world.GlobalKey `msgpack:"key"`
	Resume world.Position  `msgpack:"r"`
	Flag   uint8           `msgpack:"f,omitempty"`
	Target world.GlobalKey `msgpack:"t,omitempty"`
	Move   Movement        `msgpack:"mv"`
}

func (s PlayerStage) String() string {
	if s.Kind == PlayerMovement {
		return fmt.Sprintf("%s(%s) %s", s.Kind, s.Move.Sub, s.Key)
	}
	return fmt.Sprintf("%s %s", s.Kind, s.Key)
}

// EncodeStage serialises a stage for a mesh handoff.
func EncodeStage(s any) ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode stage: %w", err)
	}
	return b, nil
}

// DecodePlayerStage reverses EncodeStage for a PlayerStage.
func DecodePlayerStage(b []byte) (PlayerStage, error) {
	var s PlayerStage
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return PlayerStage{}, fmt.Errorf("decode player stage: %w", err)
	}
	return s, nil
}

// DecodeNpcStage reverses EncodeStage for an NpcStage.
func DecodeNpcStage(b []byte) (NpcStage, error) {
	var s NpcStage
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return NpcStage{}, fmt.Errorf("decode npc stage: %w", err)
	}
	return s, nil
}
