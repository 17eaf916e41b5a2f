package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenlab/oracle/internal/circuitbreaker"
	"github.com/lumenlab/oracle/internal/config"
	ometrics "github.com/lumenlab/oracle/internal/metrics"
	"github.com/lumenlab/oracle/internal/tracing"
	"go.uber.org/zap"
)

// Client is a minimal Qdrant HTTP client over the knowledge excerpt index.
// All reads are scoped to a single collection; the catalog name travels in
// the point payload and is matched with a filter.
type Client struct {
	cfg   config.VectorDBConfig
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a Qdrant client. A disabled config yields a client whose
// searches report ErrDisabled so callers can fall back to keyword ranking.
func NewClient(cfg config.VectorDBConfig, logger *zap.Logger) *Client {
	c := cfg
	if c.Port == 0 {
		c.Port = 6333
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Collection == "" {
		c.Collection = "knowledge_excerpts"
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", circuitbreaker.DefaultConfig(), logger)
	return &Client{
		cfg:   c,
		base:  fmt.Sprintf("http://%s:%d", c.Host, c.Port),
		httpw: httpw,
		log:   logger,
	}
}

// ErrDisabled is returned when the semantic index is switched off.
var ErrDisabled = fmt.Errorf("vectordb: disabled")

// Enabled reports whether semantic search is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.Enabled }

// Hit is one scored point from the excerpt index.
type Hit struct {
	SourceID string
	Catalog  string
	Score    float64
	Excerpt  string
	Title    string
	Payload  map[string]interface{}
}

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which has nested structure
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// SearchCatalog runs a similarity search restricted to one catalog. Points
// below threshold never come back; the caller decides what a miss means.
func (c *Client) SearchCatalog(ctx context.Context, embedding []float32, catalog string, limit int, threshold float64) ([]Hit, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	filter := map[string]interface{}{
		"must": []map[string]interface{}{
			{
				"key":   "catalog",
				"match": map[string]interface{}{"value": catalog},
			},
		},
	}
	points, err := c.search(ctx, c.cfg.Collection, embedding, limit, threshold, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		payload := point.Payload
		if payload == nil {
			payload = make(map[string]interface{})
		}
		if point.ID != nil {
			payload["_point_id"] = fmt.Sprintf("%v", point.ID)
		}
		h := Hit{
			Score:   point.Score,
			Catalog: catalog,
			Payload: payload,
		}
		if v, ok := payload["source_id"].(string); ok {
			h.SourceID = v
		}
		if v, ok := payload["excerpt"].(string); ok {
			h.Excerpt = v
		}
		if v, ok := payload["title"].(string); ok {
			h.Title = v
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (c *Client) search(ctx context.Context, collection string, vec []float32, limit int, threshold float64, filter map[string]interface{}) ([]qdrantPoint, error) {
	start := time.Now()

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", fmt.Sprintf("%s/collections/%s/points/query", c.base, collection))
	defer span.End()

	// Prefer modern /points/query; on failure, fallback to /points/search for compatibility
	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	reqBody := qdrantQueryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}
	buf, _ := json.Marshal(reqBody)

	call := func(url string, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)
		return c.httpw.Do(req)
	}

	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, collection)
	resp, err := call(urlQuery, buf)
	if err != nil {
		ometrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// fallback to /points/search
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, collection)
		legacy := map[string]interface{}{"vector": vec, "limit": limit, "with_payload": true}
		if threshold > 0 {
			legacy["score_threshold"] = threshold
		}
		if filter != nil {
			legacy["filter"] = filter
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err2 := call(urlSearch, buf2)
		if err2 != nil {
			ometrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			ometrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var sr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			ometrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
			return nil, err
		}
		ometrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
		return sr.Result, nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		ometrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	ometrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
	return qr.Result.Points, nil
}
