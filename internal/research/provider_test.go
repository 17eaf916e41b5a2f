package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/lumenlab/oracle/internal/config"
)

func TestCustomProviderParsesResults(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"title":"A","url":"https://example.com/a","content":"fact a"},
			{"title":"no url","url":"","content":"dropped"},
			{"title":"B","url":"https://example.com/b","content":"fact b"}
		]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(config.SearchProviderConfig{
		Name:    "custom-test",
		Type:    "custom",
		BaseURL: srv.URL,
		APIKey:  "secret",
		Enabled: true,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	finding, err := p.Search(context.Background(), "what changed?")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(finding.Sources) != 2 || finding.Sources[0].URL != "https://example.com/a" {
		t.Fatalf("unexpected sources: %+v", finding.Sources)
	}
	if len(finding.KeyFacts) != 2 {
		t.Fatalf("expected 2 key facts, got %d", len(finding.KeyFacts))
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
}

func TestTavilyProviderBaseURLOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/search") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"T","url":"https://example.com/t","content":"fact"}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(config.SearchProviderConfig{
		Name:    "tavily-test",
		Type:    "tavily",
		BaseURL: srv.URL,
		Enabled: true,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	finding, err := p.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(finding.Sources) != 1 || finding.Sources[0].Title != "T" {
		t.Fatalf("unexpected sources: %+v", finding.Sources)
	}
}

func TestProviderBreakerOpensOnRepeatedServerErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewProvider(config.SearchProviderConfig{
		Name:    "flaky-test",
		Type:    "custom",
		BaseURL: srv.URL,
		Enabled: true,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := p.Search(context.Background(), "q"); err == nil {
			t.Fatal("expected error from 5xx backend")
		}
	}
	// Breaker tripped; the next search fails fast without another request.
	if _, err := p.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error while breaker is open")
	}
	if hits != 5 {
		t.Fatalf("open breaker must not reach the backend, saw %d hits", hits)
	}
}
