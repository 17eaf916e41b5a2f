package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeChecker struct {
	name     string
	critical bool
	err      error
}

func (f *fakeChecker) Name() string   { return f.name }
func (f *fakeChecker) Critical() bool { return f.critical }

func (f *fakeChecker) Check(_ context.Context) error { return f.err }

func newStartedManager(t *testing.T, checkers ...Checker) *Manager {
	t.Helper()
	m := NewManager(time.Hour, zaptest.NewLogger(t))
	for _, c := range checkers {
		m.Register(c)
	}
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestSnapshotAllHealthy(t *testing.T) {
	m := newStartedManager(t,
		&fakeChecker{name: "database", critical: true},
		&fakeChecker{name: "redis"},
	)
	overall := m.Snapshot()
	if overall.Status != StatusHealthy || !overall.Ready {
		t.Fatalf("expected healthy and ready, got %+v", overall)
	}
	if len(overall.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(overall.Components))
	}
}

func TestSnapshotCriticalFailureNotReady(t *testing.T) {
	m := newStartedManager(t,
		&fakeChecker{name: "database", critical: true, err: errors.New("down")},
		&fakeChecker{name: "redis"},
	)
	overall := m.Snapshot()
	if overall.Status != StatusUnhealthy || overall.Ready {
		t.Fatalf("critical failure must be unhealthy and not ready: %+v", overall)
	}
}

func TestSnapshotNonCriticalFailureDegrades(t *testing.T) {
	m := newStartedManager(t,
		&fakeChecker{name: "database", critical: true},
		&fakeChecker{name: "vectordb", err: errors.New("timeout")},
	)
	overall := m.Snapshot()
	if overall.Status != StatusDegraded || !overall.Ready {
		t.Fatalf("non-critical failure must degrade but stay ready: %+v", overall)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	m := newStartedManager(t,
		&fakeChecker{name: "database", critical: true, err: errors.New("down")},
	)
	h := NewHandler(m, zaptest.NewLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("liveness must not depend on dependencies, got %d", rec.Code)
	}
}
