package flow

import "sync"

// keyedMutex serializes work per key. Entries are dropped once no goroutine holds or
// waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.mu.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.mu.Unlock()
}

// userLock is one acquisition of a user's lock that can be released around slow calls.
type userLock struct {
	km   *keyedMutex
	key  string
	held bool
}

func (k *keyedMutex) acquire(key string) *userLock {
	k.Lock(key)
	return &userLock{km: k, key: key, held: true}
}

func (l *userLock) unlock() {
	if l.held {
		l.held = false
		l.km.Unlock(l.key)
	}
}

func (l *userLock) relock() {
	if !l.held {
		l.km.Lock(l.key)
		l.held = true
	}
}

// inflightSet counts tool calls running per user.
type inflightSet struct {
	mu    sync.Mutex
	users map[string]int
}

func newInflightSet() *inflightSet {
	return &inflightSet{users: make(map[string]int)}
}

func (s *inflightSet) add(user string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user] += delta
	if s.users[user] <= 0 {
		delete(s.users, user)
	}
}

func (s *inflightSet) busy(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[user] > 0
}
