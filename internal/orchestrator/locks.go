package orchestrator

import "sync"

// threadLocks serializes turns per thread. Turns for different threads run
// fully concurrently; a turn holds its thread's lock from load to save so
// the engine has exclusive ownership of the state it loaded. Entries are
// reference-counted and removed once the last holder releases, so one-shot
// thread IDs do not accumulate in the map.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*threadLock)}
}

// acquire locks the mutex for threadID and returns its release func.
func (t *threadLocks) acquire(threadID string) func() {
	t.mu.Lock()
	lock, ok := t.locks[threadID]
	if !ok {
		lock = &threadLock{}
		t.locks[threadID] = lock
	}
	lock.refs++
	t.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		t.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(t.locks, threadID)
		}
		t.mu.Unlock()
	}
}

// size reports the number of tracked threads.
func (t *threadLocks) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
