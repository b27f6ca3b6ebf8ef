package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps records in process. It has no expiry and serves
// single-instance setups and tests.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
	streams  map[string][]StreamRecord
	// Publishes counts successful Publish calls.
	Publishes int
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]SessionRecord),
		streams:  make(map[string][]StreamRecord),
	}
}

func (m *MemoryRegistry) Publish(ctx context.Context, session SessionRecord, streams []StreamRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Instance] = session
	m.streams[session.Instance] = append([]StreamRecord(nil), streams...)
	m.Publishes++
	return nil
}

func (m *MemoryRegistry) Withdraw(ctx context.Context, instance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, instance)
	delete(m.streams, instance)
	return nil
}

func (m *MemoryRegistry) Session(ctx context.Context, instance string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[instance]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &rec, nil
}

func (m *MemoryRegistry) Streams(ctx context.Context, instance string) ([]StreamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]StreamRecord{}, m.streams[instance]...), nil
}

func (m *MemoryRegistry) Instances(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]SessionRecord)
	m.streams = make(map[string][]StreamRecord)
	return nil
}
