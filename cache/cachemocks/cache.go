// Package cachemocks contains testify mocks of cache interfaces.
package cachemocks

import "github.com/stretchr/testify/mock"

// Cache is mock of cache.Cache.
type Cache struct {
	mock.Mock
}

func (m *Cache) Set(key string, value []byte, size int64) error {
	ret := m.Called(key, value, size)
	return ret.Error(0)
}

func (m *Cache) Get(key string) (value []byte, size int64, ok bool) {
	ret := m.Called(key)
	if v := ret.Get(0); v != nil {
		value = v.([]byte)
	}
	size = ret.Get(1).(int64)
	ok = ret.Bool(2)
	return
}

func (m *Cache) Delete(key string) (deleted bool) {
	ret := m.Called(key)
	return ret.Bool(0)
}

func (m *Cache) SpaceUsed() int64 {
	ret := m.Called()
	return ret.Get(0).(int64)
}

func (m *Cache) Reset() {
	m.Called()
}
