package utils

import "sync"

// keyLock is a mutex with a reference count so idle locks can be reclaimed.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// KeyMutex provides an independent lock per key. Operations on the same key
// serialize while operations on distinct keys proceed in parallel.
type KeyMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyLock
}

// NewKeyMutex creates an empty KeyMutex.
func NewKeyMutex[K comparable]() *KeyMutex[K] {
	return &KeyMutex[K]{
		locks: make(map[K]*keyLock),
	}
}

// Lock acquires the lock for the given key, creating it on first use.
func (m *KeyMutex[K]) Lock(key K) {
	m.mu.Lock()

	lock, exists := m.locks[key]
	if !exists {
		lock = &keyLock{}
		m.locks[key] = lock
	}

	lock.refs++

	m.mu.Unlock()

	lock.mu.Lock()
}

// Unlock releases the lock for the given key and reclaims it once unused.
func (m *KeyMutex[K]) Unlock(key K) {
	m.mu.Lock()

	lock, exists := m.locks[key]
	if !exists {
		m.mu.Unlock()
		panic("utils: unlock of unlocked KeyMutex key")
	}

	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, key)
	}

	m.mu.Unlock()

	lock.mu.Unlock()
}
