package ratelimit

import "sync"

// KeySemaphore maps a key to a counting semaphore of capacity maxInflight.
// Semaphores are created lazily per new key under a mutex.
type KeySemaphore struct {
	maxInflight int

	mu   sync.Mutex
	sems map[string]chan struct{}
}

// NewKeySemaphore constructs a KeySemaphore with the given per-key capacity.
func NewKeySemaphore(maxInflight int) *KeySemaphore {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &KeySemaphore{
		maxInflight: maxInflight,
		sems:        make(map[string]chan struct{}),
	}
}

func (s *KeySemaphore) sem(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem, ok := s.sems[key]
	if !ok {
		sem = make(chan struct{}, s.maxInflight)
		s.sems[key] = sem
	}
	return sem
}

// Release is returned by Acquire; calling it frees the held slot. It is
// safe to call exactly once per Acquire call.
type Release func()

// Acquire blocks until a slot for key is available and returns a Release
// function guaranteed to free it. Callers must defer the Release on every
// exit path.
func (s *KeySemaphore) Acquire(key string) Release {
	sem := s.sem(key)
	sem <- struct{}{}
	return func() { <-sem }
}
