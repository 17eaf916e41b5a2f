package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/circuitbreaker"
	"github.com/lumenlab/oracle/internal/config"
	ometrics "github.com/lumenlab/oracle/internal/metrics"
	"github.com/lumenlab/oracle/internal/models"
)

// Connect opens the Postgres pool shared by catalogs and persistence.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Record is one persisted answer.
type Record struct {
	RequestID string
	SessionID string
	Query     string
	Answer    models.Answer
}

// Writer persists answers asynchronously. Enqueue never blocks the
// response path; a full queue drops the write and counts it.
type Writer struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	queue    chan Record
	stopCh   chan struct{}
	workerWg sync.WaitGroup
}

const (
	queueSize    = 256
	writeTimeout = 5 * time.Second
)

// NewWriter starts the write workers. The breaker-wrapped handle keeps a
// dead database from stalling the workers.
func NewWriter(db *circuitbreaker.DatabaseWrapper, workers int, logger *zap.Logger) *Writer {
	if workers <= 0 {
		workers = 2
	}
	w := &Writer{
		db:     db,
		logger: logger,
		queue:  make(chan Record, queueSize),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		w.workerWg.Add(1)
		go w.worker(i)
	}
	return w
}

// Enqueue schedules an answer for persistence and returns immediately.
func (w *Writer) Enqueue(rec Record) {
	select {
	case w.queue <- rec:
		ometrics.PersistQueueDepth.Set(float64(len(w.queue)))
	default:
		ometrics.PersistWrites.WithLabelValues("dropped").Inc()
		w.logger.Warn("persist queue full, dropping write",
			zap.String("session_id", rec.SessionID),
		)
	}
}

// Stop drains the queue and waits for the workers.
func (w *Writer) Stop() {
	close(w.stopCh)
	w.workerWg.Wait()
}

func (w *Writer) worker(id int) {
	defer w.workerWg.Done()
	for {
		select {
		case rec := <-w.queue:
			w.write(rec)
			ometrics.PersistQueueDepth.Set(float64(len(w.queue)))
		case <-w.stopCh:
			// drain whatever is left
			for {
				select {
				case rec := <-w.queue:
					w.write(rec)
				default:
					w.logger.Debug("persist worker stopped", zap.Int("worker_id", id))
					return
				}
			}
		}
	}
}

func (w *Writer) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	prov, err := json.Marshal(rec.Answer.Provenance)
	if err != nil {
		ometrics.PersistWrites.WithLabelValues("error").Inc()
		return
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO answers (request_id, session_id, query_text, answer_text, provenance, model_used, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.RequestID, rec.SessionID, rec.Query, rec.Answer.Text, prov,
		rec.Answer.Provenance.ModelUsed, rec.Answer.Provenance.Attempts, time.Now().UTC(),
	)
	if err != nil {
		ometrics.PersistWrites.WithLabelValues("error").Inc()
		w.logger.Warn("answer persistence failed",
			zap.String("session_id", rec.SessionID),
			zap.Error(err),
		)
		return
	}
	ometrics.PersistWrites.WithLabelValues("ok").Inc()
}
