package budget

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted is returned when a stage asks for time the request no longer has.
var ErrExhausted = errors.New("request time budget exhausted")

// Tracker is the single source of truth for how much wall-clock time a
// request has left. It is constructed once per request from the caller's
// hard deadline minus a safety margin, and every sub-step timeout in the
// orchestrator is derived from Remaining() at call time.
//
// Remaining() is computed from the wall clock, never from a counter, so it
// stays correct across awaited calls regardless of how long they actually
// took. Consumers must not cache its value across blocking operations.
type Tracker struct {
	started  time.Time
	deadline time.Time
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a Tracker whose effective deadline is hardDeadline minus
// safetyMargin. The margin keeps the orchestrator from being killed by the
// host mid-write: all derived timeouts land before the hard limit.
func New(hardDeadline time.Time, safetyMargin time.Duration, logger *zap.Logger) *Tracker {
	return newTracker(hardDeadline, safetyMargin, time.Now, logger)
}

// NewWithClock is New with an injectable clock for tests.
func NewWithClock(hardDeadline time.Time, safetyMargin time.Duration, now func() time.Time, logger *zap.Logger) *Tracker {
	return newTracker(hardDeadline, safetyMargin, now, logger)
}

func newTracker(hardDeadline time.Time, safetyMargin time.Duration, now func() time.Time, logger *zap.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		started:  now(),
		deadline: hardDeadline.Add(-safetyMargin),
		now:      now,
		logger:   logger,
	}
}

// Remaining returns the time left until the effective deadline, clamped to
// zero. It is monotonically non-increasing for a fixed Tracker.
func (t *Tracker) Remaining() time.Duration {
	left := t.deadline.Sub(t.now())
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed returns wall-clock time consumed since the Tracker was created.
func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.started)
}

// Deadline returns the effective (margin-adjusted) deadline.
func (t *Tracker) Deadline() time.Time {
	return t.deadline
}

// Exhausted reports whether no usable time remains.
func (t *Tracker) Exhausted() bool {
	return t.Remaining() <= 0
}

// CanStart reports whether a stage with the given minimum viable slice may
// begin. Stages that cannot start are skipped, not failed.
func (t *Tracker) CanStart(minSlice time.Duration) bool {
	return t.Remaining() >= minSlice
}

// Slice derives a sub-step timeout: min(desiredCap, remaining - reserve),
// clamped to zero. reserve protects time set aside for later stages (e.g.
// generation time is never handed to web research).
func (t *Tracker) Slice(desiredCap, reserve time.Duration) time.Duration {
	left := t.Remaining() - reserve
	if left <= 0 {
		return 0
	}
	if desiredCap > 0 && desiredCap < left {
		return desiredCap
	}
	return left
}

// StageContext returns a context cancelled after Slice(desiredCap, reserve).
// It returns ErrExhausted without creating a context when the slice is zero,
// so callers can branch on budget exhaustion before issuing any I/O.
func (t *Tracker) StageContext(ctx context.Context, stage string, desiredCap, reserve time.Duration) (context.Context, context.CancelFunc, error) {
	slice := t.Slice(desiredCap, reserve)
	if slice <= 0 {
		t.logger.Debug("Stage skipped: no budget slice available",
			zap.String("stage", stage),
			zap.Duration("remaining", t.Remaining()),
			zap.Duration("reserve", reserve),
		)
		return nil, nil, ErrExhausted
	}
	cctx, cancel := context.WithTimeout(ctx, slice)
	return cctx, cancel, nil
}
