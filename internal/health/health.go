// Package health aggregates per-dependency connectivity checks for the
// health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Status is the aggregate health report.
type Status struct {
	Healthy    bool            `json:"healthy"`
	Components map[string]bool `json:"components"`
}

// Manager runs registered checkers with a shared budget per probe.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check probes every dependency concurrently.
func (m *Manager) Check(ctx context.Context) Status {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	st := Status{Healthy: true, Components: make(map[string]bool, len(checkers))}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			err := c.Check(cctx)
			mu.Lock()
			st.Components[c.Name()] = err == nil
			if err != nil {
				st.Healthy = false
				m.logger.Warn("health check failed", zap.String("component", c.Name()), zap.Error(err))
			}
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return st
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckerName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
