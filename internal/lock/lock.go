package lock

import "sync"

// MutexMap hands out one exclusive mutex per key.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*sync.Mutex),
	}
}

func (m *MutexMap) Lock(key string) {
	m.getMutex(key).Lock()
}

// TryLock acquires key only if nobody holds it.
func (m *MutexMap) TryLock(key string) bool {
	return m.getMutex(key).TryLock()
}

func (m *MutexMap) Unlock(key string) {
	m.getMutex(key).Unlock()
}

// LockAll acquires keys in the given order and returns a release func that
// unlocks them in reverse.
func (m *MutexMap) LockAll(keys ...string) func() {
	for _, k := range keys {
		m.Lock(k)
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			m.Unlock(keys[i])
		}
	}
}

func (m *MutexMap) getMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}
