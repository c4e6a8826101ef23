package world

import "fmt"

// GameTime is simulation time, independent of the wall clock. Only the
// clock actor advances it; everyone else receives copies.
type GameTime struct {
	Hour uint8 `msgpack:"h"`
	Min  uint8 `msgpack:"m"`
	Sec  uint8 `msgpack:"s"`
}

// AdvanceMinute returns t one minute later. Minutes wrap into hours and hour
// 24 wraps to 0. Seconds are kept.
func (t GameTime) AdvanceMinute() GameTime {
	t.Min++
	if t.Min >= 60 {
		t.Min = 0
		t.Hour++
		if t.Hour >= 24 {
			t.Hour = 0
		}
	}
	return t
}

// IsNight is true from 20:00 to 05:59.
func (t GameTime) IsNight() bool {
	return t.Hour >= 20 || t.Hour < 6
}

func (t GameTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Min, t.Sec)
}
