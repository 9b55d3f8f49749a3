package bus

import (
	"context"
	"sync"

	"github.com/gobwas/glob"
)

// Memory is an in-process Bus double. It is used by package tests that
// exercise Supervisor and worker reconcile logic without a real TagBus
// connection, and by the engine's --clean handling before a session to a
// real bus is established.
type Memory struct {
	mu          sync.Mutex
	values      map[string]string
	subscribers []memorySub
}

type memorySub struct {
	globs   []glob.Glob
	handler Handler
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Sync(_ context.Context, patterns []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	globs, err := compile(patterns)
	if err != nil {
		return err
	}
	for key, value := range m.values {
		if matchesAny(globs, key) {
			m.dispatchLocked(key, value)
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, patterns []string, handler Handler) error {
	globs, err := compile(patterns)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, memorySub{globs: globs, handler: handler})
	return nil
}

func (m *Memory) Publish(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Commit dispatches every value currently staged to matching
// subscribers. The in-memory double treats Publish+Commit as
// synchronous, so Commit simply re-broadcasts the current table; real
// bus clients provide actual write-then-flush semantics.
func (m *Memory) Commit(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range m.values {
		m.dispatchLocked(key, value)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = nil
	return nil
}

// Get returns the last published value for key, for test assertions.
func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// Reset clears every published key, implementing the engine's --clean
// flag (spec §6: "reset bus state on connect").
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
}

func (m *Memory) dispatchLocked(key, value string) {
	for _, s := range m.subscribers {
		if matchesAny(s.globs, key) {
			go s.handler(key, value)
		}
	}
}

func compile(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchesAny(globs []glob.Glob, key string) bool {
	for _, g := range globs {
		if g.Match(key) {
			return true
		}
	}
	return false
}
