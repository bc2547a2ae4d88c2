package cache

import "sync"

// Locked serializes all operations of wrapped cache with one mutex.
// Set holds the lock during whole eviction, so every operation is atomic and
// all operations are totally ordered.
// There is no read lock: Get touches policy, so it is mutation too.
// TODO: shard key space between several Locked caches, when single lock become a bottleneck.
type Locked struct {
	mu sync.Mutex
	c  Cache
}

var _ Cache = (*Locked)(nil)

func NewLocked(c Cache) *Locked {
	return &Locked{c: c}
}

func (l *Locked) Set(key string, value []byte, size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Set(key, value, size)
}

func (l *Locked) Get(key string) (value []byte, size int64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Get(key)
}

func (l *Locked) Delete(key string) (deleted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Delete(key)
}

func (l *Locked) SpaceUsed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.SpaceUsed()
}

func (l *Locked) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Reset()
}
