package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/circuitbreaker"
	"github.com/lumenlab/oracle/internal/config"
	"github.com/lumenlab/oracle/internal/models"
)

// Provider is one interchangeable web-search backend. Providers are tried
// in a fixed preference order per sub-query; the first one returning a
// usable citation wins.
type Provider interface {
	Name() string
	Enabled() bool
	Search(ctx context.Context, query string) (*models.ResearchFinding, error)
}

// NewProvider builds a provider from configuration. Each provider carries
// its own circuit breaker so one flaky backend never drags down the chain.
func NewProvider(cfg config.SearchProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "tavily":
		return newTavilyProvider(cfg, logger), nil
	case "custom":
		return newCustomProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("research: unknown search provider type %q", cfg.Type)
	}
}

const maxFactsPerQuery = 5

func searchHTTPWrapper(name string, logger *zap.Logger) *circuitbreaker.HTTPWrapper {
	client := &http.Client{Timeout: 30 * time.Second}
	return circuitbreaker.NewHTTPWrapper(client, name, "research", circuitbreaker.DefaultConfig(), logger)
}

// tavilyProvider calls the Tavily search API.
type tavilyProvider struct {
	name    string
	apiKey  string
	baseURL string
	enabled bool
	client  *circuitbreaker.HTTPWrapper
}

func newTavilyProvider(cfg config.SearchProviderConfig, logger *zap.Logger) *tavilyProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	return &tavilyProvider{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		enabled: cfg.Enabled,
		client:  searchHTTPWrapper(cfg.Name, logger),
	}
}

func (p *tavilyProvider) Name() string  { return p.name }
func (p *tavilyProvider) Enabled() bool { return p.enabled }

func (p *tavilyProvider) Search(ctx context.Context, query string) (*models.ResearchFinding, error) {
	requestBody := map[string]interface{}{
		"api_key":        p.apiKey,
		"query":          query,
		"search_depth":   "basic",
		"include_answer": false,
		"include_images": false,
		"max_results":    maxFactsPerQuery,
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/search", p.baseURL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	finding := &models.ResearchFinding{Query: query}
	for _, r := range apiResponse.Results {
		if r.URL == "" {
			continue
		}
		if r.Content != "" {
			finding.KeyFacts = append(finding.KeyFacts, r.Content)
		}
		finding.Sources = append(finding.Sources, models.WebSource{Title: r.Title, URL: r.URL})
		if len(finding.Sources) >= maxFactsPerQuery {
			break
		}
	}
	return finding, nil
}

// customProvider calls any JSON search endpoint shaped like
// POST {query, limit} -> {results: [{title, url, content}]}.
type customProvider struct {
	name    string
	apiKey  string
	baseURL string
	enabled bool
	client  *circuitbreaker.HTTPWrapper
}

func newCustomProvider(cfg config.SearchProviderConfig, logger *zap.Logger) *customProvider {
	return &customProvider{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		enabled: cfg.Enabled,
		client:  searchHTTPWrapper(cfg.Name, logger),
	}
}

func (p *customProvider) Name() string  { return p.name }
func (p *customProvider) Enabled() bool { return p.enabled }

func (p *customProvider) Search(ctx context.Context, query string) (*models.ResearchFinding, error) {
	requestBody := map[string]interface{}{
		"query": query,
		"limit": maxFactsPerQuery,
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider %s status %d", p.name, resp.StatusCode)
	}

	var apiResponse struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	finding := &models.ResearchFinding{Query: query}
	for _, r := range apiResponse.Results {
		if r.URL == "" {
			continue
		}
		if r.Content != "" {
			finding.KeyFacts = append(finding.KeyFacts, r.Content)
		}
		finding.Sources = append(finding.Sources, models.WebSource{Title: r.Title, URL: r.URL})
		if len(finding.Sources) >= maxFactsPerQuery {
			break
		}
	}
	return finding, nil
}
