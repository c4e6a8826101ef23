package world

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMissingEntity is returned for a key that has no such component.
var ErrMissingEntity = errors.New("missing entity")

const shardCount = 64

type shard[T any] struct {
	mu sync.RWMutex
	m  map[GlobalKey]T
}

// Table is a concurrent component store keyed by GlobalKey. Keys are spread
// over independently locked shards so actors working on unrelated entities
// do not serialize. Values are copied in and out; mutate through Update.
type Table[T any] struct {
	name   string
	shards [shardCount]shard[T]
}

func NewTable[T any](name string) *Table[T] {
	t := &Table[T]{name: name}
	for i := range t.shards {
		t.shards[i].m = make(map[GlobalKey]T)
	}
	return t
}

func (t *Table[T]) shard(k GlobalKey) *shard[T] {
	return &t.shards[k.Index()%shardCount]
}

// Get returns a copy of the component.
func (t *Table[T]) Get(k GlobalKey) (T, bool) {
	s := t.shard(k)
	s.mu.RLock()
	v, ok := s.m[k]
	s.mu.RUnlock()
	return v, ok
}

// GetOrFail is Get that reports an absent key as ErrMissingEntity instead of
// a zero value.
func (t *Table[T]) GetOrFail(k GlobalKey) (T, error) {
	v, ok := t.Get(k)
	if !ok {
		return v, fmt.Errorf("%w: %s %s", ErrMissingEntity, t.name, k)
	}
	return v, nil
}

func (t *Table[T]) Set(k GlobalKey, v T) {
	s := t.shard(k)
	s.mu.Lock()
	s.m[k] = v
	s.mu.Unlock()
}

// Update runs fn on the stored value under the key's shard lock and writes
// the result back. fn must not touch other keys of the same table.
func (t *Table[T]) Update(k GlobalKey, fn func(*T)) error {
	s := t.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrMissingEntity, t.name, k)
	}
	fn(&v)
	s.m[k] = v
	return nil
}

func (t *Table[T]) Delete(k GlobalKey) {
	s := t.shard(k)
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
}

func (t *Table[T]) Has(k GlobalKey) bool {
	_, ok := t.Get(k)
	return ok
}

func (t *Table[T]) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for a snapshot of every entry, one shard at a time, without
// holding any lock during fn. Returning false stops the walk.
func (t *Table[T]) Range(fn func(GlobalKey, T) bool) {
	type entry struct {
		k GlobalKey
		v T
	}
	var buf []entry
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		buf = buf[:0]
		for k, v := range s.m {
			buf = append(buf, entry{k, v})
		}
		s.mu.RUnlock()
		for _, e := range buf {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}
