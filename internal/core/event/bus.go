package event

import (
	"reflect"
)

// Bus is a double-buffered event bus owned by one map actor goroutine.
// Events emitted in tick N are delivered in tick N+1, in emission order.
type Bus struct {
	front    []queued
	back     []queued
	handlers map[reflect.Type][]func(any)
}

type queued struct {
	t  reflect.Type
	ev any
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[reflect.Type][]func(any)),
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event into the back buffer (delivered next tick).
func Emit[T any](b *Bus, event T) {
	b.back = append(b.back, queued{t: typeOf[T](), ev: event})
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	t := typeOf[T]()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

// SwapBuffers rotates back→front and clears the new back buffer.
// Called once at tick start.
func (b *Bus) SwapBuffers() {
	b.front, b.back = b.back, b.front[:0]
}

// DispatchAll delivers all front-buffer events to their handlers. Events
// emitted by handlers land in the back buffer.
func (b *Bus) DispatchAll() int {
	for _, q := range b.front {
		for _, h := range b.handlers[q.t] {
			h(q.ev)
		}
	}
	return len(b.front)
}

// Pending reports events waiting for the next swap.
func (b *Bus) Pending() int { return len(b.back) }
