package world

import "math"

// VitalType indexes the fixed-size vital array.
type VitalType uint8

const (
	VitalHP VitalType = iota
	VitalMP
	VitalSP
	VitalCount
)

// DeathType is the life state of an entity.
type DeathType uint8

const (
	Alive DeathType = iota
	Spirit
	Dead
	Spawning
)

func (d DeathType) String() string {
	switch d {
	case Alive:
		return "alive"
	case Spirit:
		return "spirit"
	case Dead:
		return "dead"
	case Spawning:
		return "spawning"
	}
	return "unknown"
}

type Vital struct {
	Cur   int32
	Max   int32
	Buff  int32
	Regen int32
}

// Cap is the highest value Cur may hold.
func (v Vital) Cap() int32 {
	c := int64(v.Max) + int64(v.Buff)
	if c < 0 {
		return 0
	}
	if c > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(c)
}

func (v *Vital) clamp() { v.add(0) }

// add moves Cur by delta and clamps in int64 before narrowing.
func (v *Vital) add(delta int64) {
	cur := int64(v.Cur) + delta
	if cur < 0 {
		cur = 0
	}
	if c := int64(v.Cap()); cur > c {
		cur = c
	}
	v.Cur = int32(cur)
}

// Vitals is the vitals component. Every mutation clamps Cur into
// [0, Max+Buff]; HP reaching 0 moves Death from Alive to Dead once.
type Vitals struct {
	V     [VitalCount]Vital
	Death DeathType
}

// NewVitals returns full vitals with the given maxima.
func NewVitals(hp, mp, sp int32) Vitals {
	var v Vitals
	v.V[VitalHP] = Vital{Cur: hp, Max: hp}
	v.V[VitalMP] = Vital{Cur: mp, Max: mp}
	v.V[VitalSP] = Vital{Cur: sp, Max: sp}
	return v
}

func (v *Vitals) Get(t VitalType) int32 { return v.V[t].Cur }

// IsAlive reports Death == Alive.
func (v *Vitals) IsAlive() bool { return v.Death == Alive }

// Damage lowers a vital. It returns true only on the call that kills: damage
// while not Alive changes nothing.
func (v *Vitals) Damage(t VitalType, amount int32) (died bool) {
	if v.Death != Alive || amount <= 0 {
		return false
	}
	v.V[t].add(-int64(amount))
	if t == VitalHP && v.V[t].Cur == 0 {
		v.Death = Dead
		return true
	}
	return false
}

// Heal raises a vital of a living entity.
func (v *Vitals) Heal(t VitalType, amount int32) {
	if v.Death != Alive || amount <= 0 {
		return
	}
	v.V[t].add(int64(amount))
}

// Set assigns a vital, clamped. It never changes Death.
func (v *Vitals) Set(t VitalType, cur int32) {
	v.V[t].Cur = cur
	v.V[t].clamp()
}

// SetBuff changes the buff part of the cap and re-clamps.
func (v *Vitals) SetBuff(t VitalType, buff int32) {
	v.V[t].Buff = buff
	v.V[t].clamp()
}

// Regenerate applies one regen step to every vital. It returns whether any
// value changed.
func (v *Vitals) Regenerate() bool {
	if v.Death != Alive {
		return false
	}
	changed := false
	for i := range v.V {
		before := v.V[i].Cur
		v.V[i].add(int64(v.V[i].Regen))
		changed = changed || before != v.V[i].Cur
	}
	return changed
}

// Revive restores every vital to its cap and marks the entity Alive.
func (v *Vitals) Revive() {
	for i := range v.V {
		v.V[i].Cur = v.V[i].Cap()
	}
	v.Death = Alive
}
