package catalog

import (
	"context"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/circuitbreaker"
	ometrics "github.com/lumenlab/oracle/internal/metrics"
)

// Catalog names used in provenance and metrics labels.
const (
	Documents   = "documents"
	Incidents   = "incidents"
	Discussions = "discussions"
)

// Candidate is one scoreable row from a catalog. Ranking happens in the
// caller; the store only lists rows for a scope.
type Candidate struct {
	ID             string `db:"id"`
	Title          string `db:"title"`
	SearchableText string `db:"searchable_text"`
}

// listCap bounds how many rows a single catalog query can return so the
// in-process keyword scoring stays cheap.
const listCap = 500

// Store reads the three knowledge catalogs through the breaker-wrapped
// database handle. All methods are read-only and safe for concurrent use;
// an open breaker surfaces as a lookup error and the caller degrades the
// catalog to empty.
type Store struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

func NewStore(db *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ListDocuments returns study-material candidates, optionally restricted to
// a single knowledge source.
func (s *Store) ListDocuments(ctx context.Context, sourceID string) ([]Candidate, error) {
	start := time.Now()
	var out []Candidate
	var err error
	if sourceID != "" {
		err = s.db.SelectContext(ctx, &out,
			`SELECT id, title, searchable_text
			 FROM knowledge_documents
			 WHERE source_id = $1
			 ORDER BY updated_at DESC
			 LIMIT $2`, sourceID, listCap)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT id, title, searchable_text
			 FROM knowledge_documents
			 ORDER BY updated_at DESC
			 LIMIT $1`, listCap)
	}
	s.observe(Documents, start, err, len(out))
	return out, err
}

// ListIncidents returns the curated incident compendium.
func (s *Store) ListIncidents(ctx context.Context) ([]Candidate, error) {
	start := time.Now()
	var out []Candidate
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, title, searchable_text
		 FROM incident_compendium
		 ORDER BY updated_at DESC
		 LIMIT $1`, listCap)
	s.observe(Incidents, start, err, len(out))
	return out, err
}

// ListDiscussions returns tagged discussion excerpts overlapping any of the
// supplied topic tags.
func (s *Store) ListDiscussions(ctx context.Context, tags []string) ([]Candidate, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	start := time.Now()
	var out []Candidate
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, title, searchable_text
		 FROM discussion_excerpts
		 WHERE tags && $1
		 ORDER BY updated_at DESC
		 LIMIT $2`, pq.Array(tags), listCap)
	s.observe(Discussions, start, err, len(out))
	return out, err
}

func (s *Store) observe(name string, start time.Time, err error, n int) {
	if err != nil {
		ometrics.CatalogLookups.WithLabelValues(name, "error").Inc()
		s.logger.Warn("catalog lookup failed",
			zap.String("catalog", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	ometrics.CatalogLookups.WithLabelValues(name, "ok").Inc()
	s.logger.Debug("catalog lookup",
		zap.String("catalog", name),
		zap.Int("candidates", n),
		zap.Duration("elapsed", time.Since(start)),
	)
}
