package indexer

import (
	"time"

	"github.com/hyperjump/kioku/internal/metrics"
	"go.uber.org/zap"
)

// Evict drops userID's in-memory state after in-flight operations finish. The next
// operation for the user reloads it from disk. Reports whether an entry was removed.
func (m *Manager) Evict(userID string) bool {
	m.mu.Lock()
	e, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return m.evictEntry(userID, e, time.Time{})
}

// EvictIdle evicts every user not accessed within maxIdle and returns how many were
// evicted. A non-positive maxIdle evicts nothing.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-maxIdle)
	m.mu.Lock()
	entries := make(map[string]*userEntry, len(m.users))
	for id, e := range m.users {
		entries[id] = e
	}
	m.mu.Unlock()

	n := 0
	for id, e := range entries {
		if m.evictEntry(id, e, cutoff) {
			n++
		}
	}
	return n
}

// evictEntry takes e's write lock before touching the map, so no operation on e is in
// flight when it disappears. A non-zero idleBefore skips entries used after it.
func (m *Manager) evictEntry(userID string, e *userEntry, idleBefore time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false
	}
	if !idleBefore.IsZero() && e.lastUsed.Load() > idleBefore.UnixNano() {
		return false
	}
	m.mu.Lock()
	if m.users[userID] == e {
		delete(m.users, userID)
	}
	m.mu.Unlock()

	e.evicted = true
	if e.state != nil {
		e.state.close()
		e.state = nil
		metrics.ResidentUsers.Dec()
		m.logger.Debug("user index evicted", zap.String("user", userID))
	}
	return true
}
