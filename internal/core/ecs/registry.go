package ecs

import "sync"

// Directory maps live entity IDs to the key of whatever currently owns them.
// It holds identities only, never the entity itself, so a removed entity
// cannot be kept alive through a stale directory entry.
type Directory[K comparable] struct {
	mu     sync.RWMutex
	owners map[EntityID]K
}

func NewDirectory[K comparable]() *Directory[K] {
	return &Directory[K]{
		owners: make(map[EntityID]K, 256),
	}
}

// Set records that id is owned by key, replacing any previous owner.
func (d *Directory[K]) Set(id EntityID, key K) {
	d.mu.Lock()
	d.owners[id] = key
	d.mu.Unlock()
}

func (d *Directory[K]) Get(id EntityID) (K, bool) {
	d.mu.RLock()
	k, ok := d.owners[id]
	d.mu.RUnlock()
	return k, ok
}

// Remove clears id only if it is still owned by key. A move that re-registered
// the entity elsewhere is left untouched.
func (d *Directory[K]) Remove(id EntityID, key K) {
	d.mu.Lock()
	if k, ok := d.owners[id]; ok && k == key {
		delete(d.owners, id)
	}
	d.mu.Unlock()
}

func (d *Directory[K]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.owners)
}
