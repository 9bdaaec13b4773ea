package store

import (
	"context"
	"sort"
	"sync"

	"github.com/handauncle/hubot-relay/internal/model"
)

// Memory is a process-local Store used for development and tests.
type Memory struct {
	mu    sync.RWMutex
	convs map[string]model.Conversation
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{convs: make(map[string]model.Conversation)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, userKey string) (model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[userKey]
	if !ok {
		return model.Conversation{}, nil
	}
	out := make(model.Conversation, len(conv))
	copy(out, conv)
	return out, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, userKey string, conv model.Conversation) error {
	stored := make(model.Conversation, len(conv))
	copy(stored, conv)

	m.mu.Lock()
	m.convs[userKey] = stored
	m.mu.Unlock()
	return nil
}

// Keys implements Store.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.convs))
	for k := range m.convs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }
