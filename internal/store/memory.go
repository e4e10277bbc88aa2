package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used when no database path is configured.
// Its contents are lost on restart.
type Memory struct {
	mu    sync.Mutex
	data  Data
	token string
}

func NewMemory(initial Data) *Memory {
	return &Memory{data: initial.normalized().Clone()}
}

func (m *Memory) Load(ctx context.Context) (Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.normalized().Clone(), nil
}

func (m *Memory) Save(ctx context.Context, d Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = d.normalized().Clone()
	return nil
}

func (m *Memory) LoadToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *Memory) SaveToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}
