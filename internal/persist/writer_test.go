package persist

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	"github.com/lumenlab/oracle/internal/circuitbreaker"
	"github.com/lumenlab/oracle/internal/models"
)

func newTestWriter(t *testing.T) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := zaptest.NewLogger(t)
	wrapper := circuitbreaker.NewDatabaseWrapper(sqlx.NewDb(db, "sqlmock"), logger)
	return NewWriter(wrapper, 1, logger), mock
}

func TestEnqueuePersistsAnswer(t *testing.T) {
	w, mock := newTestWriter(t)

	mock.ExpectExec("INSERT INTO answers").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w.Enqueue(Record{
		SessionID: "sess-1",
		Query:     "the question",
		Answer: models.Answer{
			Text: "the answer",
			Provenance: models.Provenance{
				ModelUsed: "model-a",
				Attempts:  1,
			},
		},
	})
	w.Stop()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	w, mock := newTestWriter(t)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < queueSize+50; i++ {
		mock.ExpectExec("INSERT INTO answers").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize+50; i++ {
			w.Enqueue(Record{SessionID: "s", Query: "q"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue must never block the caller")
	}
	w.Stop()
}

func TestWriteErrorDoesNotPanic(t *testing.T) {
	w, mock := newTestWriter(t)
	mock.ExpectExec("INSERT INTO answers").
		WillReturnError(sqlmock.ErrCancelled)

	w.Enqueue(Record{SessionID: "sess-err", Query: "q"})
	w.Stop()
}
