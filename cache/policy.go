package cache

import (
	"strings"

	"github.com/pkg/errors"
)

var ErrEmptyPolicy = errors.New("eviction policy is empty")

// Policy orders keys by freshness.
// Touch and Evict are called by Store under its synchronization.
type Policy interface {
	// Touch records that key was inserted or accessed just now.
	// It may be called for key which is tracked already.
	Touch(key string)
	// Evict removes and returns least fresh key.
	// ErrEmptyPolicy returned if there is no tracked keys.
	Evict() (key string, err error)
	// Len returns number of tracked elements.
	Len() int
}

const (
	PolicyNone = "none"
	PolicyFIFO = "fifo"
	PolicyLRU  = "lru"
)

// NewPolicy returns policy by name. Nil policy and nil error returned for PolicyNone.
func NewPolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case PolicyNone, "":
		return nil, nil
	case PolicyFIFO:
		return NewFIFO(), nil
	case PolicyLRU:
		return NewLRU(), nil
	}
	return nil, errors.Errorf("unknown eviction policy %q, expected one of: %s, %s, %s",
		name, PolicyNone, PolicyFIFO, PolicyLRU)
}
