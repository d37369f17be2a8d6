package launchstate

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local Cache. It is safe for concurrent use and performs
// opportunistic purging on writes. Only suitable for a single instance.
type Memory struct {
	mu      sync.Mutex
	entries map[string]LaunchState

	// every purgeN calls to Put, expired entries are dropped
	putCount uint64
	purgeN   uint64

	// Now overrides the clock (tests).
	Now func() time.Time
}

// NewMemory creates an in-memory cache. If purgeEvery <= 0, a default of 1024 is used.
func NewMemory(purgeEvery int) *Memory {
	if purgeEvery <= 0 {
		purgeEvery = 1024
	}
	return &Memory{
		entries: make(map[string]LaunchState, 64),
		purgeN:  uint64(purgeEvery),
	}
}

func (m *Memory) Put(_ context.Context, s LaunchState, ttl time.Duration) error {
	now := nowOr(m.Now)
	s, err := prepare(s, ttl, now)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.putCount++
	if m.putCount%m.purgeN == 0 {
		m.purgeLocked(now)
	}
	if old, ok := m.entries[s.State]; ok && !old.Expired(now) {
		return ErrExists
	}
	m.entries[s.State] = s
	return nil
}

func (m *Memory) Take(_ context.Context, state string) (LaunchState, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return LaunchState{}, ErrNotFound
	}
	m.mu.Lock()
	s, ok := m.entries[state]
	delete(m.entries, state)
	m.mu.Unlock()

	if !ok || s.Expired(nowOr(m.Now)) {
		return LaunchState{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(now), nil
}

func (m *Memory) purgeLocked(now time.Time) int {
	n := 0
	for k, s := range m.entries {
		if s.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored records, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
