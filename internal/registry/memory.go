package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a process-local Store (dev/tests, or a static seed file).
type Memory struct {
	mu   sync.RWMutex
	data map[string]DeploymentConfig
}

func NewMemory(seed ...DeploymentConfig) *Memory {
	m := &Memory{data: make(map[string]DeploymentConfig, len(seed))}
	for _, d := range seed {
		m.data[d.DeploymentID] = d
	}
	return m
}

func (m *Memory) Lookup(_ context.Context, deploymentID string) (DeploymentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[deploymentID]
	if !ok {
		return DeploymentConfig{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) Upsert(_ context.Context, d DeploymentConfig) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[d.DeploymentID] = d
	return nil
}

func (m *Memory) List(_ context.Context) ([]DeploymentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DeploymentConfig, 0, len(m.data))
	for _, d := range m.data {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeploymentID < out[j].DeploymentID })
	return out, nil
}

func (m *Memory) Delete(_ context.Context, deploymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[strings.TrimSpace(deploymentID)]; !ok {
		return ErrNotFound
	}
	delete(m.data, strings.TrimSpace(deploymentID))
	return nil
}
