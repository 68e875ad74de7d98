// Package sessionstore keeps the latest snapshot of every assessment
// session so that the HTTP API can report on sessions it does not own.
//
// [Memory] serves single-process deployments; [Redis] shares snapshots
// between replicas and expires them after a TTL.
package sessionstore

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/vivavoce/internal/assessment"
)

// ErrNotFound is returned by Get for an unknown session.
var ErrNotFound = errors.New("sessionstore: session not found")

// Store holds session snapshots. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put replaces the snapshot stored under snap.ID.
	Put(ctx context.Context, snap assessment.Snapshot) error

	// Get returns the latest snapshot for id or [ErrNotFound].
	Get(ctx context.Context, id string) (assessment.Snapshot, error)

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}

// Memory is an in-process [Store]. Snapshots never expire.
type Memory struct {
	mu    sync.RWMutex
	snaps map[string]assessment.Snapshot
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{snaps: make(map[string]assessment.Snapshot)}
}

// Put implements [Store]. A snapshot older than the stored one is ignored.
func (m *Memory) Put(_ context.Context, snap assessment.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.snaps[snap.ID]; ok && snap.UpdatedAt.Before(cur.UpdatedAt) {
		return nil
	}
	m.snaps[snap.ID] = snap
	return nil
}

// Get implements [Store].
func (m *Memory) Get(_ context.Context, id string) (assessment.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[id]
	if !ok {
		return assessment.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// List implements [Store]. IDs are sorted.
func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
