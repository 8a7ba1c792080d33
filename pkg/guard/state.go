package guard

import (
	"context"
	"sync"
)

// State holds the counters the guard checks read and update.
// Each method is one atomic step on the backing store.
type State interface {
	// IncrRedirects bumps the redirect counter for key and returns the new value
	IncrRedirects(ctx context.Context, key string) (int64, error)
	// PushRedirectTarget appends target to the redirect chain for key, trims the chain to
	// its last limit entries and returns the chain length before trimming
	PushRedirectTarget(ctx context.Context, key, target string, limit int) (int64, error)
	// MarkFingerprint records fp and reports whether it had been recorded before
	MarkFingerprint(ctx context.Context, fp string) (seen bool, err error)
	// IncrVisits bumps the visit counter for key and returns the new value
	IncrVisits(ctx context.Context, key string) (int64, error)
	Close() error
}

// MemoryState keeps guard state for one process. It grows for the life of the run.
type MemoryState struct {
	mu        sync.Mutex
	redirects map[string]int64
	chains    map[string][]string
	seen      map[string]struct{}
	visits    map[string]int64
}

// NewMemoryState returns empty per-process state
func NewMemoryState() *MemoryState {
	return &MemoryState{
		redirects: make(map[string]int64),
		chains:    make(map[string][]string),
		seen:      make(map[string]struct{}),
		visits:    make(map[string]int64),
	}
}

func (m *MemoryState) IncrRedirects(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirects[key]++
	return m.redirects[key], nil
}

func (m *MemoryState) PushRedirectTarget(_ context.Context, key, target string, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := append(m.chains[key], target)
	n := int64(len(chain))
	if limit > 0 && len(chain) > limit {
		chain = append([]string(nil), chain[len(chain)-limit:]...)
	}
	m.chains[key] = chain
	return n, nil
}

func (m *MemoryState) MarkFingerprint(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[fp]; ok {
		return true, nil
	}
	m.seen[fp] = struct{}{}
	return false, nil
}

func (m *MemoryState) IncrVisits(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visits[key]++
	return m.visits[key], nil
}

func (m *MemoryState) Close() error { return nil }
