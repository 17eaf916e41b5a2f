package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/lumenlab/oracle/internal/config"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return NewClient(config.VectorDBConfig{
		Enabled:    true,
		Host:       u.Hostname(),
		Port:       port,
		Collection: "knowledge_excerpts",
		Timeout:    time.Second,
	}, zaptest.NewLogger(t))
}

func TestSearchCatalogParsesHits(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/knowledge_excerpts/points/query" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req qdrantQueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ScoreThreshold == nil || *req.ScoreThreshold != 0.4 {
			t.Fatalf("expected threshold 0.4, got %v", req.ScoreThreshold)
		}
		resp := qdrantQueryResponse{Status: "ok"}
		resp.Result.Points = []qdrantPoint{
			{ID: "p1", Score: 0.91, Payload: map[string]interface{}{
				"source_id": "doc-7", "catalog": "documents", "excerpt": "retry budget guidance", "title": "Retry policy",
			}},
			{ID: "p2", Score: 0.55, Payload: map[string]interface{}{
				"source_id": "doc-9", "excerpt": "timeout tuning",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	hits, err := client.SearchCatalog(context.Background(), []float32{0.1, 0.2}, "documents", 5, 0.4)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].SourceID != "doc-7" || hits[0].Title != "Retry policy" {
		t.Fatalf("unexpected first hit: %+v", hits[0])
	}
	if hits[0].Catalog != "documents" {
		t.Fatalf("catalog not carried: %+v", hits[0])
	}
	if hits[1].Score != 0.55 {
		t.Fatalf("unexpected score: %v", hits[1].Score)
	}
}

func TestSearchCatalogLegacyFallback(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/knowledge_excerpts/points/query":
			w.WriteHeader(http.StatusNotFound)
		case "/collections/knowledge_excerpts/points/search":
			_ = json.NewEncoder(w).Encode(qdrantSearchResponse{
				Status: "ok",
				Result: []qdrantPoint{{ID: 1, Score: 0.8, Payload: map[string]interface{}{"source_id": "inc-3"}}},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	hits, err := client.SearchCatalog(context.Background(), []float32{0.3}, "incidents", 3, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].SourceID != "inc-3" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestSearchCatalogDisabled(t *testing.T) {
	client := NewClient(config.VectorDBConfig{Enabled: false}, zaptest.NewLogger(t))
	if _, err := client.SearchCatalog(context.Background(), []float32{0.1}, "documents", 3, 0.4); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}
