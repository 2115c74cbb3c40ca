// Package cache provides the in-process key-value cache used for
// per-sighting dedup and short-TTL page caching.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/progscrape/progscrape/internal/ports"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is a bounded LRU with per-entry TTL. It is best-effort:
// entries may be evicted early under pressure, which only costs a
// redundant store write downstream.
type Memory struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

var _ ports.Cache = (*Memory)(nil)

// NewMemory builds a cache bounded to the given entry count.
func NewMemory(entries int) (*Memory, error) {
	if entries <= 0 {
		entries = 4096
	}
	inner, err := lru.New[string, entry](entries)
	if err != nil {
		return nil, err
	}
	return &Memory{lru: inner, now: time.Now}, nil
}

// Get returns the live value for a key, expiring stale entries.
func (m *Memory) Get(key string) ([]byte, bool) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	if m.now().After(e.expires) {
		m.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Add stores a value only when no live entry exists for the key.
func (m *Memory) Add(key string, value []byte, ttl time.Duration) bool {
	if _, ok := m.Get(key); ok {
		return false
	}
	m.lru.Add(key, entry{value: value, expires: m.now().Add(ttl)})
	return true
}

// Set overwrites the value for a key.
func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	m.lru.Add(key, entry{value: value, expires: m.now().Add(ttl)})
}
