package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/finscenario/scenariomap/internal/audit"
	"github.com/finscenario/scenariomap/internal/scenario"
)

// Memory is an in-process store. Records are copied on the way in and out.
type Memory struct {
	mu        sync.RWMutex
	scenarios map[string]*scenario.Scenario
	order     []string
	audit     []audit.Entry
}

func NewMemory() *Memory {
	return &Memory{scenarios: make(map[string]*scenario.Scenario)}
}

func (m *Memory) Driver() string { return "memory" }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Create(_ context.Context, s *scenario.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[s.ID]; ok {
		return fmt.Errorf("scenario %s: %w", s.ID, ErrConflict)
	}
	m.scenarios[s.ID] = s.Clone()
	m.order = append(m.order, s.ID)
	return nil
}

func (m *Memory) Update(_ context.Context, s *scenario.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.scenarios[s.ID]
	if !ok {
		return fmt.Errorf("scenario %s: %w", s.ID, ErrNotFound)
	}
	c := s.Clone()
	c.CreatedAt = existing.CreatedAt
	m.scenarios[s.ID] = c
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*scenario.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]scenario.Summary, error) {
	limit = ClampRecent(limit)
	m.mu.RLock()
	all := make([]*scenario.Scenario, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		all = append(all, m.scenarios[m.order[i]])
	}
	m.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]scenario.Summary, len(all))
	for i, s := range all {
		out[i] = s.Summarize()
	}
	return out, nil
}

func (m *Memory) AppendAudit(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, limit int) ([]audit.Entry, error) {
	limit = clampAudit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]audit.Entry, 0, limit)
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}
