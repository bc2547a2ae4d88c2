package cache

import (
	"github.com/pkg/errors"

	"github.com/skipor/kvcache/log"
)

var (
	ErrTooLarge    = errors.New("entry size exceeds cache capacity")
	ErrNoSpace     = errors.New("not enough space and no eviction policy")
	ErrInvalidSize = errors.New("negative entry size")
)

// Cache is interface of bounded key/value store.
// Implementation must not retain passed value slices, and must return copies of stored values.
type Cache interface {
	// Set inserts or overwrites entry. On error cache is not changed,
	// except entries which could be evicted before policy ran dry.
	Set(key string, value []byte, size int64) error
	// Get returns value and size of entry. Miss is not an error: ok is false in such case.
	Get(key string) (value []byte, size int64, ok bool)
	Delete(key string) (deleted bool)
	SpaceUsed() int64
	Reset()
}

type Config struct {
	Capacity int64
	// OnEvict called for every live entry removed by eviction. Optional.
	OnEvict func(key string, size int64)
}

type entry struct {
	value []byte
	size  int64
}

// Store is not thread safe Cache implementation.
// Pre and post conditions (invariants) for all methods:
// * used is equal to sum of sizes of entries in table.
// * used is not greater than capacity.
type Store struct {
	log      log.Logger
	capacity int64
	used     int64
	table    map[string]*entry
	// policy is nil if eviction is off.
	policy  Policy
	onEvict func(key string, size int64)
}

var _ Cache = (*Store)(nil)

// New creates store. Nil policy means that entries are never evicted, and
// set that does not fit is rejected with ErrNoSpace.
// Policy must not be used by anything else while store is in use. Nil logger drops everything.
func New(l log.Logger, conf Config, p Policy) *Store {
	if conf.Capacity < 0 {
		panic("negative capacity")
	}
	if l == nil {
		l = log.NewNop()
	}
	return &Store{
		log:      l,
		capacity: conf.Capacity,
		table:    make(map[string]*entry),
		policy:   p,
		onEvict:  conf.OnEvict,
	}
}

func (s *Store) Set(key string, value []byte, size int64) error {
	defer s.checkInvariants()
	if size < 0 {
		return ErrInvalidSize
	}
	if size > s.capacity {
		s.log.Debugf("Reject %q: size %v is larger than capacity %v.", key, size, s.capacity)
		return ErrTooLarge
	}
	if !s.fits(key, size) {
		if s.policy == nil {
			s.log.Debugf("Reject %q: no space and no eviction policy.", key)
			return ErrNoSpace
		}
		err := s.evictFor(key, size)
		if err != nil {
			return err
		}
	}
	s.upsert(key, value, size)
	if s.policy != nil {
		s.policy.Touch(key)
	}
	return nil
}

func (s *Store) Get(key string) (value []byte, size int64, ok bool) {
	e, ok := s.table[key]
	if !ok {
		return
	}
	if s.policy != nil {
		s.policy.Touch(key)
	}
	value = append([]byte(nil), e.value...)
	size = e.size
	return
}

func (s *Store) Delete(key string) (deleted bool) {
	defer s.checkInvariants()
	e, ok := s.table[key]
	if !ok {
		return false
	}
	s.remove(key, e)
	return true
}

func (s *Store) SpaceUsed() int64 { return s.used }

// Reset removes all entries. Policy keeps its state: keys it returns
// after reset are absent, and their eviction is no-op.
func (s *Store) Reset() {
	defer s.checkInvariants()
	s.table = make(map[string]*entry)
	s.used = 0
}

func (s *Store) Len() int            { return len(s.table) }
func (s *Store) Capacity() int64     { return s.capacity }
func (s *Store) free() int64         { return s.capacity - s.used }
func (s *Store) totalOverflow() bool { return s.free() < 0 }

// delta returns how used will change after set of key with passed size.
func (s *Store) delta(key string, size int64) int64 {
	if e, ok := s.table[key]; ok {
		return size - e.size
	}
	return size
}

func (s *Store) fits(key string, size int64) bool {
	return s.delta(key, size) <= s.free()
}

// evictFor evicts entries until key with size fits.
// Delta is recalculated every iteration, because evicted key can be the one being set.
func (s *Store) evictFor(key string, size int64) error {
	for !s.fits(key, size) {
		victim, err := s.policy.Evict()
		if err != nil {
			return errors.Wrapf(err, "no room for %q: %v used, %v required", key, s.used, size)
		}
		e, ok := s.table[victim]
		if !ok {
			s.log.Debugf("Evicted key %q is already absent.", victim)
			continue
		}
		s.log.Debugf("Evict %q of size %v.", victim, e.size)
		s.remove(victim, e)
		if s.onEvict != nil {
			s.onEvict(victim, e.size)
		}
	}
	return nil
}

func (s *Store) upsert(key string, value []byte, size int64) {
	value = append([]byte(nil), value...)
	if e, ok := s.table[key]; ok {
		s.used += size - e.size
		e.value = value
		e.size = size
		return
	}
	s.table[key] = &entry{value: value, size: size}
	s.used += size
}

func (s *Store) remove(key string, e *entry) {
	delete(s.table, key)
	s.used -= e.size
}
