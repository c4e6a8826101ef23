package system

import "time"

// Phase defines execution ordering within one map actor tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain the mesh inbox
	PhasePreUpdate               // 1: deliver last tick's events
	PhaseUpdate                  // 2: stage machines, AI scheduling
	PhasePostUpdate              // 3: regen, death and respawn timers
	PhaseCleanup                 // 4: idle detection, retire
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is one step of a tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

// Func adapts a plain function to System.
func Func(phase Phase, fn func(dt time.Duration)) System {
	return funcSystem{phase: phase, fn: fn}
}

type funcSystem struct {
	phase Phase
	fn    func(time.Duration)
}

func (f funcSystem) Phase() Phase            { return f.phase }
func (f funcSystem) Update(dt time.Duration) { f.fn(dt) }
