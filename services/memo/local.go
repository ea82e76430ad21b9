package memo

import (
	"context"
	"sync"
	"time"

	"github.com/upb/image-gateway/models"
)

// LocalMemo is a process-local FailureMemo.
// Cooldowns recorded here are only visible to this process.
type LocalMemo struct {
	mu      sync.RWMutex
	entries map[string]*models.FailureRecord
	now     Clock
}

// NewLocalMemo creates an empty process-local memo
func NewLocalMemo() *LocalMemo {
	return NewLocalMemoWithClock(time.Now)
}

// NewLocalMemoWithClock creates a memo reading time from clock
func NewLocalMemoWithClock(clock Clock) *LocalMemo {
	if clock == nil {
		clock = time.Now
	}
	return &LocalMemo{
		entries: make(map[string]*models.FailureRecord),
		now:     clock,
	}
}

// Get returns the record only while it has not expired
func (m *LocalMemo) Get(_ context.Context, identifier string) *models.FailureRecord {
	m.mu.RLock()
	rec, ok := m.entries[identifier]
	m.mu.RUnlock()

	if !ok {
		return nil
	}
	if rec.IsExpired(m.now()) {
		m.mu.Lock()
		// Re-check under the write lock; a fresh Set may have replaced it.
		if cur, ok := m.entries[identifier]; ok && cur.IsExpired(m.now()) {
			delete(m.entries, identifier)
		}
		m.mu.Unlock()
		return nil
	}

	out := *rec
	return &out
}

// Set overwrites any existing record for the identifier
func (m *LocalMemo) Set(_ context.Context, identifier string, kind models.FailureKind, details string, ttl time.Duration) {
	rec := models.NewFailureRecord(identifier, kind, details, m.now(), ttl)

	m.mu.Lock()
	m.entries[identifier] = rec
	m.mu.Unlock()
}

// CleanupExpired removes all expired entries and returns how many were removed
func (m *LocalMemo) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, rec := range m.entries {
		if rec.IsExpired(now) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired entries until stopCh is closed
func (m *LocalMemo) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// Len returns the number of stored entries, expired or not
func (m *LocalMemo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
