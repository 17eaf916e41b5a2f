package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumenlab/oracle/internal/config"
)

func newTestService(t *testing.T, calls *int32) *Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		vecs := make([][]float64, len(req.Texts))
		for i := range req.Texts {
			vecs[i] = []float64{float64(len(req.Texts[i])), 0.5}
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: vecs, Dimensions: 2, ModelUsed: req.Model})
	}))
	t.Cleanup(srv.Close)
	return NewService(config.EmbeddingsConfig{BaseURL: srv.URL, DefaultModel: "test-model", Timeout: time.Second}, nil)
}

func TestEmbedCachesResult(t *testing.T) {
	var calls int32
	svc := newTestService(t, &calls)
	ctx := context.Background()

	v1, err := svc.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v1) != 2 {
		t.Fatalf("expected 2 dims, got %d", len(v1))
	}

	v2, err := svc.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("embed cached: %v", err)
	}
	if v2[0] != v1[0] || v2[1] != v1[1] {
		t.Fatalf("cached vector differs: %v vs %v", v2, v1)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
}

func TestEmbedBatchSkipsCached(t *testing.T) {
	var calls int32
	svc := newTestService(t, &calls)
	ctx := context.Background()

	if _, err := svc.Embed(ctx, "alpha"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	vecs, err := svc.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 2 {
			t.Fatalf("vector %d has %d dims", i, len(v))
		}
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls)
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	var calls int32
	svc := newTestService(t, &calls)

	vecs, err := svc.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("expected no vectors, got %d", len(vecs))
	}
	if calls != 0 {
		t.Fatal("empty batch must not call upstream")
	}
}

func TestLocalLRUEviction(t *testing.T) {
	lru := NewLocalLRU(2)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)
	lru.Set(ctx, "c", []float32{3}, time.Minute)

	if _, ok := lru.Get(ctx, "a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := lru.Get(ctx, "b"); !ok {
		t.Fatal("entry b should survive")
	}
	if _, ok := lru.Get(ctx, "c"); !ok {
		t.Fatal("entry c should survive")
	}
}

func TestLocalLRUExpiry(t *testing.T) {
	lru := NewLocalLRU(4)
	ctx := context.Background()

	lru.Set(ctx, "x", []float32{1}, -time.Second)
	if _, ok := lru.Get(ctx, "x"); ok {
		t.Fatal("expired entry must miss")
	}
}
