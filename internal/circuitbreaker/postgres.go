package circuitbreaker

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper wraps Postgres access with a circuit breaker. Catalog
// lookups behind an open breaker degrade to empty results; persistence
// writes are retried by the write queue.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *CircuitBreaker
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker.
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("postgresql", PostgresConfig(), logger)
	register("postgresql", "oracle", cb)
	return &DatabaseWrapper{db: db, cb: cb}
}

// PingContext wraps database ping with the circuit breaker.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	var pingErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		pingErr = dw.db.PingContext(ctx)
		return pingErr
	})
	recordRequest("postgresql", "oracle", dw.cb.State(), cbErr == nil && pingErr == nil)
	if cbErr != nil {
		return cbErr
	}
	return pingErr
}

// SelectContext wraps a sqlx select with the circuit breaker.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var selErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		selErr = dw.db.SelectContext(ctx, dest, query, args...)
		return selErr
	})
	recordRequest("postgresql", "oracle", dw.cb.State(), cbErr == nil && selErr == nil)
	if cbErr != nil {
		return cbErr
	}
	return selErr
}

// QueryContext wraps a query with the circuit breaker.
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var queryErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		rows, queryErr = dw.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	recordRequest("postgresql", "oracle", dw.cb.State(), cbErr == nil && queryErr == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return rows, queryErr
}

// ExecContext wraps an exec with the circuit breaker.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var execErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		result, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	recordRequest("postgresql", "oracle", dw.cb.State(), cbErr == nil && execErr == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return result, execErr
}

// IsCircuitBreakerOpen reports whether the breaker currently rejects requests.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
