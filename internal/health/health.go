// Package health aggregates component checks behind liveness and readiness
// endpoints.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of one check or of the service overall.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is one component's check outcome.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Critical  bool          `json:"critical"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	// Check returns nil when the dependency is usable.
	Check(ctx context.Context) error
	// Critical marks checks whose failure makes the service not ready.
	Critical() bool
}

// CheckFunc adapts a function to a Checker.
type CheckFunc struct {
	CheckName  string
	IsCritical bool
	Fn         func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
func (c CheckFunc) Critical() bool                  { return c.IsCritical }

// Overall is the aggregated service health.
type Overall struct {
	Status     Status            `json:"status"`
	Ready      bool              `json:"ready"`
	Components map[string]Result `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Manager runs registered checks on demand. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager returns a manager applying timeout to each individual check.
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check runs every checker and aggregates: any critical failure makes the
// service unhealthy and not ready; non-critical failures only degrade it.
func (m *Manager) Check(ctx context.Context) Overall {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	overall := Overall{
		Status:     StatusHealthy,
		Ready:      true,
		Components: make(map[string]Result, len(checkers)),
		Timestamp:  time.Now().UTC(),
	}
	for _, c := range checkers {
		res := m.run(ctx, c)
		overall.Components[c.Name()] = res
		if res.Status == StatusHealthy {
			continue
		}
		if res.Critical {
			overall.Status = StatusUnhealthy
			overall.Ready = false
		} else if overall.Status == StatusHealthy {
			overall.Status = StatusDegraded
		}
	}
	return overall
}

func (m *Manager) run(ctx context.Context, c Checker) Result {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := Result{
		Component: c.Name(),
		Status:    StatusHealthy,
		Duration:  time.Since(start),
		Critical:  c.Critical(),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		m.logger.Warn("health check failed",
			zap.String("component", c.Name()), zap.Error(err))
	}
	return res
}
