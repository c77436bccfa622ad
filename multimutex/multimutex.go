// Package multimutex provides a mutex per key, so work on distinct keys runs
// concurrently while work on the same key is serialized.
package multimutex

import (
	"fmt"
	"sync"
)

// cntMutex is a mutex together with the number of callers holding or
// waiting for it.
type cntMutex struct {
	cnt int
	sync.Mutex
}

// Mutex keeps one mutex per key alive for as long as someone holds or waits
// for it.
type Mutex[K comparable] struct {
	// mutexes maps each key in use to its mutex.
	mutexes map[K]*cntMutex

	// mapMtx guards mutexes.
	mapMtx sync.Mutex
}

// NewMutex creates a new Mutex.
func NewMutex[K comparable]() *Mutex[K] {
	return &Mutex[K]{
		mutexes: make(map[K]*cntMutex),
	}
}

// Lock locks the mutex of key, blocking while another caller holds it.
func (m *Mutex[K]) Lock(key K) {
	m.mapMtx.Lock()
	mtx, ok := m.mutexes[key]
	if !ok {
		mtx = &cntMutex{}
		m.mutexes[key] = mtx
	}
	mtx.cnt++
	m.mapMtx.Unlock()

	mtx.Lock()
}

// Unlock unlocks the mutex of key. It panics if key isn't locked.
func (m *Mutex[K]) Unlock(key K) {
	m.mapMtx.Lock()
	mtx, ok := m.mutexes[key]
	if !ok {
		m.mapMtx.Unlock()
		panic(fmt.Sprintf("double unlock for key %v", key))
	}

	// The last caller out drops the entry. Everyone else already bumped
	// the count under mapMtx, so nobody can be left holding it.
	mtx.cnt--
	if mtx.cnt == 0 {
		delete(m.mutexes, key)
	}
	m.mapMtx.Unlock()

	mtx.Unlock()
}
