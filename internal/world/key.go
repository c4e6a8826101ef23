package world

import (
	"fmt"
	"sync"
)

// GlobalKey identifies one entity (player or NPC) for its whole lifetime.
// The lower 32 bits are a slot index, the upper 32 bits a generation that
// increments on free, so a stale key never aliases a newer entity.
// Actors hold keys, never pointers to entity data.
type GlobalKey uint64

// NoKey is the zero key, never allocated.
const NoKey GlobalKey = 0

func NewGlobalKey(index uint32, generation uint32) GlobalKey {
	return GlobalKey(uint64(generation)<<32 | uint64(index))
}

func (k GlobalKey) Index() uint32      { return uint32(k) }
func (k GlobalKey) Generation() uint32 { return uint32(k >> 32) }
func (k GlobalKey) IsZero() bool       { return k == NoKey }

func (k GlobalKey) String() string {
	return fmt.Sprintf("%d#%d", k.Index(), k.Generation())
}

// KeyPool allocates generational keys with a free list. Safe for concurrent
// use: connection goroutines allocate players while map actors allocate NPCs.
type KeyPool struct {
	mu          sync.Mutex
	generations []uint32
	freeList    []uint32
	nextIndex   uint32
}

func NewKeyPool() *KeyPool {
	return &KeyPool{
		generations: make([]uint32, 1, 1024),
		freeList:    make([]uint32, 0, 256),
		nextIndex:   1, // index 0 generation 0 would be NoKey
	}
}

func (p *KeyPool) Create() GlobalKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return NewGlobalKey(idx, p.generations[idx])
	}
	idx := p.nextIndex
	p.nextIndex++
	if int(idx) >= len(p.generations) {
		p.generations = append(p.generations, 0)
	}
	return NewGlobalKey(idx, p.generations[idx])
}

func (p *KeyPool) Alive(k GlobalKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := k.Index()
	if idx == 0 || idx >= p.nextIndex {
		return false
	}
	return p.generations[idx] == k.Generation()
}

// Free invalidates k. Freeing a stale key is a no-op.
func (p *KeyPool) Free(k GlobalKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := k.Index()
	if idx == 0 || idx >= p.nextIndex {
		return
	}
	if p.generations[idx] != k.Generation() {
		return // already freed (stale reference)
	}
	p.generations[idx]++
	p.freeList = append(p.freeList, idx)
}
