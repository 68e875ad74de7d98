// Package results persists scored assessments.
//
// [Store] is implemented by [Memory] for tests and DSN-less deployments and
// by the postgres sub-package for production. [evaluation.Local] and the
// /store-exam-result handler write through it.
package results

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/vivavoce/internal/evaluation"
)

// Record is a stored result.
type Record struct {
	ID int64 `json:"id"`
	evaluation.Result
}

// ListOptions filters [Store.List].
type ListOptions struct {
	// StudentName, if non-empty, restricts results to one candidate
	// (case-insensitive).
	StudentName string

	// Limit caps the number of records. Zero means no limit.
	Limit int
}

// Store persists assessment results. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save appends res.
	Save(ctx context.Context, res evaluation.Result) error

	// List returns stored results, newest first.
	List(ctx context.Context, opts ListOptions) ([]Record, error)
}

// Memory is an in-process [Store].
type Memory struct {
	mu      sync.Mutex
	records []Record
	nextID  int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save implements [Store]. A zero EntryTime is set to now.
func (m *Memory) Save(_ context.Context, res evaluation.Result) error {
	if res.EntryTime.IsZero() {
		res.EntryTime = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.records = append(m.records, Record{ID: m.nextID, Result: res})
	return nil
}

// List implements [Store].
func (m *Memory) List(_ context.Context, opts ListOptions) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range slices.Backward(m.records) {
		if opts.StudentName != "" && !strings.EqualFold(r.StudentName, opts.StudentName) {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}
