package ecs

import "sync"

// EntityID encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on destroy to invalidate stale refs.
type EntityID uint64

func NewEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

// EntityPool manages entity allocation with generational indices and a free list.
// Landblock loaders allocate from their own goroutines, so the pool is locked.
type EntityPool struct {
	mu          sync.Mutex
	generations []uint32
	freeList    []uint32
	nextIndex   uint32
}

func NewEntityPool() *EntityPool {
	return &EntityPool{
		generations: make([]uint32, 1, 1024), // index 0 is never handed out
		freeList:    make([]uint32, 0, 256),
		nextIndex:   1,
	}
}

func (p *EntityPool) Create() EntityID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return NewEntityID(idx, p.generations[idx])
	}
	idx := p.nextIndex
	p.nextIndex++
	p.grow(idx)
	return NewEntityID(idx, p.generations[idx])
}

// Reserve marks an ID restored from storage as live so Create never hands
// out its index again.
func (p *EntityPool) Reserve(id EntityID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := id.Index()
	if idx == 0 {
		return
	}
	if idx >= p.nextIndex {
		for i := p.nextIndex; i < idx; i++ {
			p.grow(i)
			p.freeList = append(p.freeList, i)
		}
		p.nextIndex = idx + 1
	} else {
		for i, free := range p.freeList {
			if free == idx {
				p.freeList = append(p.freeList[:i], p.freeList[i+1:]...)
				break
			}
		}
	}
	p.grow(idx)
	if p.generations[idx] < id.Generation() {
		p.generations[idx] = id.Generation()
	}
}

// SkipTo makes Create hand out indices above idx only. Called at boot with
// the highest index found in storage, since most stored objects are not
// loaded yet and cannot be reserved one by one.
func (p *EntityPool) SkipTo(idx uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < p.nextIndex {
		return
	}
	p.nextIndex = idx + 1
	p.grow(idx)
}

func (p *EntityPool) grow(idx uint32) {
	for int(idx) >= len(p.generations) {
		p.generations = append(p.generations, 0)
	}
}

func (p *EntityPool) Alive(id EntityID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := id.Index()
	if idx == 0 || idx >= p.nextIndex {
		return false
	}
	return p.generations[idx] == id.Generation()
}

func (p *EntityPool) Destroy(id EntityID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := id.Index()
	if idx == 0 || idx >= p.nextIndex {
		return
	}
	if p.generations[idx] != id.Generation() {
		return // already destroyed (stale reference)
	}
	p.generations[idx]++
	p.freeList = append(p.freeList, idx)
}
