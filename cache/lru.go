package cache

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRU evicts least recently touched key. Touch of tracked key makes it most recent,
// so every key is tracked once.
type LRU struct {
	// Size limit is unreachable: only Store decides when to evict.
	list *simplelru.LRU[string, struct{}]
}

var _ Policy = (*LRU)(nil)

func NewLRU() *LRU {
	list, err := simplelru.NewLRU[string, struct{}](math.MaxInt, nil)
	if err != nil {
		panic(err) // Only non positive size is an error.
	}
	return &LRU{list: list}
}

func (l *LRU) Touch(key string) {
	l.list.Add(key, struct{}{})
}

func (l *LRU) Evict() (key string, err error) {
	key, _, ok := l.list.RemoveOldest()
	if !ok {
		err = ErrEmptyPolicy
	}
	return
}

func (l *LRU) Len() int { return l.list.Len() }
