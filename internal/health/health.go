package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of one component check.
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

// Result is one component's check outcome.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"-"`
	State     string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Critical  bool          `json:"critical"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// Checker probes one dependency. Critical failures mark the service not
// ready; non-critical ones only degrade it.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}

// Overall is the aggregate served on the health endpoints.
type Overall struct {
	Status     Status            `json:"-"`
	State      string            `json:"status"`
	Ready      bool              `json:"ready"`
	Components map[string]Result `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

const checkTimeout = 5 * time.Second

// Manager runs the registered checkers and caches results between the
// periodic sweeps so probes stay cheap.
type Manager struct {
	checkers []Checker
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	results map[string]Result

	stopCh  chan struct{}
	stopped sync.Once
}

func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		interval: interval,
		logger:   logger,
		results:  make(map[string]Result),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a checker. Not safe to call after Start.
func (m *Manager) Register(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Start runs an immediate sweep and then checks periodically.
func (m *Manager) Start() {
	m.sweep()
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
}

func (m *Manager) sweep() {
	for _, c := range m.checkers {
		res := m.runCheck(c)
		m.mu.Lock()
		m.results[c.Name()] = res
		m.mu.Unlock()
		if res.Status != StatusHealthy {
			m.logger.Warn("health check failed",
				zap.String("component", res.Component),
				zap.String("status", res.State),
				zap.String("message", res.Message),
			)
		}
	}
}

func (m *Manager) runCheck(c Checker) Result {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := Result{
		Component: c.Name(),
		Critical:  c.Critical(),
		Latency:   time.Since(start),
		Timestamp: start,
	}
	switch {
	case err != nil && c.Critical():
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	case err != nil:
		res.Status = StatusDegraded
		res.Message = err.Error()
	default:
		res.Status = StatusHealthy
	}
	res.State = res.Status.String()
	return res
}

// Snapshot aggregates the cached results. With no checkers registered the
// service reports healthy; liveness never depends on dependencies.
func (m *Manager) Snapshot() Overall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := Overall{
		Status:     StatusHealthy,
		Ready:      true,
		Components: make(map[string]Result, len(m.results)),
		Timestamp:  time.Now(),
	}
	for name, res := range m.results {
		overall.Components[name] = res
		switch res.Status {
		case StatusUnhealthy:
			overall.Status = StatusUnhealthy
			overall.Ready = false
		case StatusDegraded:
			if overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
			}
		}
	}
	overall.State = overall.Status.String()
	return overall
}
