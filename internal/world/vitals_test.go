package world

import (
	"math"
	"testing"

	"github.com/bmizerany/assert"
)

func TestDamageClampsAndKillsOnce(t *testing.T) {
	v := NewVitals(100, 50, 20)

	assert.T(t, !v.Damage(VitalHP, 30))
	assert.Equal(t, int32(70), v.Get(VitalHP))
	assert.Equal(t, Alive, v.Death)

	assert.T(t, v.Damage(VitalHP, 500), "overkill must kill")
	assert.Equal(t, int32(0), v.Get(VitalHP))
	assert.Equal(t, Dead, v.Death)

	// already dead: no further effect
	assert.T(t, !v.Damage(VitalHP, 10))
	assert.Equal(t, int32(0), v.Get(VitalHP))
	assert.Equal(t, Dead, v.Death)
}

func TestNonHPDamageNeverKills(t *testing.T) {
	v := NewVitals(10, 10, 10)
	assert.T(t, !v.Damage(VitalMP, 99))
	assert.Equal(t, int32(0), v.Get(VitalMP))
	assert.Equal(t, Alive, v.Death)
}

func TestHealClampsToMaxPlusBuff(t *testing.T) {
	v := NewVitals(100, 0, 0)
	v.Damage(VitalHP, 50)
	v.Heal(VitalHP, 1000)
	assert.Equal(t, int32(100), v.Get(VitalHP))

	v.SetBuff(VitalHP, 20)
	v.Heal(VitalHP, 1000)
	assert.Equal(t, int32(120), v.Get(VitalHP))

	v.SetBuff(VitalHP, 0)
	assert.Equal(t, int32(100), v.Get(VitalHP), "dropping a buff re-clamps")

	v.Set(VitalHP, -5)
	assert.Equal(t, int32(0), v.Get(VitalHP))
	assert.Equal(t, Alive, v.Death, "Set never kills")
}

func TestRegenerateAndRevive(t *testing.T) {
	v := NewVitals(10, 10, 0)
	v.V[VitalHP].Regen = 3
	v.Damage(VitalHP, 9)
	assert.T(t, v.Regenerate())
	assert.Equal(t, int32(4), v.Get(VitalHP))

	v.Damage(VitalHP, 100)
	assert.T(t, !v.Regenerate(), "dead entities do not regenerate")

	v.Revive()
	assert.Equal(t, Alive, v.Death)
	assert.Equal(t, int32(10), v.Get(VitalHP))
}

func TestLargeAmountsClampWithoutWrapping(t *testing.T) {
	v := NewVitals(100, 100, 0)
	v.SetBuff(VitalHP, 20)
	v.Damage(VitalHP, 50)
	v.Heal(VitalHP, math.MaxInt32)
	assert.Equal(t, int32(120), v.Get(VitalHP))

	v.V[VitalMP].Regen = math.MaxInt32
	v.Damage(VitalMP, 1)
	assert.T(t, v.Regenerate())
	assert.Equal(t, int32(100), v.Get(VitalMP))

	v.V[VitalMP].Regen = math.MinInt32
	assert.T(t, v.Regenerate())
	assert.Equal(t, int32(0), v.Get(VitalMP))
	assert.Equal(t, Alive, v.Death)

	v.SetBuff(VitalHP, math.MaxInt32)
	assert.Equal(t, int32(math.MaxInt32), v.V[VitalHP].Cap())
	v.Heal(VitalHP, math.MaxInt32)
	assert.Equal(t, int32(math.MaxInt32), v.Get(VitalHP))

	assert.T(t, v.Damage(VitalHP, math.MaxInt32))
	assert.Equal(t, int32(0), v.Get(VitalHP))
}

func TestAdvanceMinute(t *testing.T) {
	assert.Equal(t, GameTime{0, 0, 0}, GameTime{23, 59, 0}.AdvanceMinute())
	assert.Equal(t, GameTime{1, 31, 0}, GameTime{1, 30, 0}.AdvanceMinute())
	assert.Equal(t, GameTime{13, 0, 42}, GameTime{12, 59, 42}.AdvanceMinute())

	tm := GameTime{}
	for i := 0; i < 24*60; i++ {
		tm = tm.AdvanceMinute()
	}
	assert.Equal(t, GameTime{}, tm)
}
