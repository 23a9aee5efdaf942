package service

import "sync"

// KeyedUserLock is a per-user mutex with entries that vanish when the last
// holder releases, so the map does not grow with the user population.
type KeyedUserLock struct {
	mu    sync.Mutex
	locks map[uint]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedUserLock() *KeyedUserLock {
	return &KeyedUserLock{locks: make(map[uint]*userLock)}
}

// Lock blocks until the per-user mutex is held and returns its release func.
func (k *KeyedUserLock) Lock(userID uint) (release func()) {
	k.mu.Lock()
	l, ok := k.locks[userID]
	if !ok {
		l = &userLock{}
		k.locks[userID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
	}
}
