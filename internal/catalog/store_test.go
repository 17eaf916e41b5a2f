package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	"github.com/lumenlab/oracle/internal/circuitbreaker"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := zaptest.NewLogger(t)
	wrapper := circuitbreaker.NewDatabaseWrapper(sqlx.NewDb(db, "sqlmock"), logger)
	return NewStore(wrapper, logger), mock
}

func TestListDocumentsScoped(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "title", "searchable_text"}).
		AddRow("doc-1", "Timeout tuning", "how to tune request timeouts").
		AddRow("doc-2", "Retry budgets", "retry budgets and backoff")
	mock.ExpectQuery("SELECT id, title, searchable_text").
		WithArgs("src-9", listCap).
		WillReturnRows(rows)

	out, err := store.ListDocuments(context.Background(), "src-9")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].ID != "doc-1" || out[1].Title != "Retry budgets" {
		t.Fatalf("unexpected candidates: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListDocumentsUnscoped(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, title, searchable_text").
		WithArgs(listCap).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "searchable_text"}))

	out, err := store.ListDocuments(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty, got %d", len(out))
	}
}

func TestListIncidentsError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, title, searchable_text").
		WillReturnError(errors.New("connection refused"))

	if _, err := store.ListIncidents(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestListDiscussionsNoTags(t *testing.T) {
	store, _ := newMockStore(t)

	out, err := store.ListDiscussions(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil without tags, got %+v", out)
	}
}

func TestListDocumentsBreakerOpensAfterRepeatedFailures(t *testing.T) {
	store, mock := newMockStore(t)

	for i := 0; i < 5; i++ {
		mock.ExpectQuery("SELECT id, title, searchable_text").
			WillReturnError(errors.New("connection refused"))
	}

	for i := 0; i < 5; i++ {
		if _, err := store.ListDocuments(context.Background(), ""); err == nil {
			t.Fatal("expected error from failing database")
		}
	}
	// Breaker is open now; the next lookup fails fast without a query.
	_, err := store.ListDocuments(context.Background(), "")
	if !errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		t.Fatalf("expected open breaker error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListDiscussionsTagged(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "title", "searchable_text"}).
		AddRow("disc-4", "GPU quotas", "discussion about gpu quota limits")
	mock.ExpectQuery("SELECT id, title, searchable_text").
		WillReturnRows(rows)

	out, err := store.ListDiscussions(context.Background(), []string{"gpu", "quota"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != "disc-4" {
		t.Fatalf("unexpected candidates: %+v", out)
	}
}
