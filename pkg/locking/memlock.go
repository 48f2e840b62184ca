package locking

import "sync"

// MemLock is a Group backed by in-process mutexes. It does not protect
// against other processes sharing the same cache directory; use FlockGroup
// for that.
type MemLock struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func NewMemLock() *MemLock {
	return &MemLock{
		locks: make(map[string]*refMutex),
	}
}

func (s *MemLock) DoWithLock(key string, fn func() error) error {
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &refMutex{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	defer func() {
		lock.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}()
	return fn()
}

// Len returns the number of keys currently held or waited on.
func (s *MemLock) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
