package event

import (
	"testing"

	"github.com/bmizerany/assert"
)

type ping struct{ n int }
type pong struct{ n int }

func TestBusDeliversNextTickInOrder(t *testing.T) {
	b := NewBus()
	var got []int
	Subscribe(b, func(e ping) { got = append(got, e.n) })
	Subscribe(b, func(e pong) { got = append(got, -e.n) })

	Emit(b, ping{1})
	Emit(b, pong{2})
	Emit(b, ping{3})

	assert.Equal(t, 0, b.DispatchAll(), "nothing is visible before a swap")
	b.SwapBuffers()
	assert.Equal(t, 3, b.DispatchAll())
	assert.Equal(t, []int{1, -2, 3}, got)

	b.SwapBuffers()
	assert.Equal(t, 0, b.DispatchAll())
}

func TestBusHandlerEmitsForNextTick(t *testing.T) {
	b := NewBus()
	count := 0
	Subscribe(b, func(e ping) {
		count++
		if e.n > 0 {
			Emit(b, ping{e.n - 1})
		}
	})
	Emit(b, ping{2})
	for i := 0; i < 5; i++ {
		b.SwapBuffers()
		b.DispatchAll()
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 0, b.Pending())
}
