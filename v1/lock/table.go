package lock

import (
	"context"
	"sync"
)

// Table stores the held flag of every key.
type Table interface {
	// TrySet marks key as held unless it already is. It reports whether the
	// flag was set by this call. The check and the set are atomic.
	TrySet(ctx context.Context, key string) (bool, error)
	// Clear marks key as not held and reports whether it was held.
	Clear(ctx context.Context, key string) (bool, error)
	// Held reports whether key is currently held.
	Held(ctx context.Context, key string) (bool, error)
}

// MemoryTable is a process local Table. It never returns an error.
type MemoryTable struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryTable returns an empty MemoryTable.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{held: make(map[string]bool)}
}

// TrySet implements Table.TrySet.
func (t *MemoryTable) TrySet(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[key] {
		return false, nil
	}
	t.held[key] = true
	return true, nil
}

// Clear implements Table.Clear.
func (t *MemoryTable) Clear(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.held[key]
	delete(t.held, key)
	return was, nil
}

// Held implements Table.Held.
func (t *MemoryTable) Held(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held[key], nil
}

// Len returns the number of held keys.
func (t *MemoryTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}
