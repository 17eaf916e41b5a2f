package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/lumenlab/oracle/internal/cascade"
	"github.com/lumenlab/oracle/internal/catalog"
	"github.com/lumenlab/oracle/internal/config"
	"github.com/lumenlab/oracle/internal/llm"
	"github.com/lumenlab/oracle/internal/models"
	"github.com/lumenlab/oracle/internal/research"
	"github.com/lumenlab/oracle/internal/retrieval"
	"github.com/lumenlab/oracle/internal/vectordb"
)

type fakeCatalogs struct {
	documents []catalog.Candidate
}

func (f *fakeCatalogs) ListDocuments(_ context.Context, _ string) ([]catalog.Candidate, error) {
	return f.documents, nil
}

func (f *fakeCatalogs) ListIncidents(_ context.Context) ([]catalog.Candidate, error) {
	return nil, nil
}

func (f *fakeCatalogs) ListDiscussions(_ context.Context, _ []string) ([]catalog.Candidate, error) {
	return nil, nil
}

type fakeSearch struct {
	finding *models.ResearchFinding
	calls   int
}

func (f *fakeSearch) Name() string  { return "fake" }
func (f *fakeSearch) Enabled() bool { return true }

func (f *fakeSearch) Search(_ context.Context, query string) (*models.ResearchFinding, error) {
	f.calls++
	if f.finding == nil {
		return &models.ResearchFinding{Query: query}, nil
	}
	out := *f.finding
	out.Query = query
	return &out, nil
}

type scriptedLLM struct {
	model string
	texts []string
	reqs  []llm.Request
}

func (p *scriptedLLM) Model() string { return p.model }

func (p *scriptedLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	p.reqs = append(p.reqs, req)
	if len(p.texts) == 0 {
		return llm.Response{Text: "fallback"}, nil
	}
	text := p.texts[0]
	if len(p.texts) > 1 {
		p.texts = p.texts[1:]
	}
	return llm.Response{Text: text}, nil
}

type harness struct {
	orch     *Orchestrator
	search   *fakeSearch
	provider *scriptedLLM
}

func newHarness(t *testing.T, cfg *config.Config, docs []catalog.Candidate, finding *models.ResearchFinding) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cats := &fakeCatalogs{documents: docs}
	index := vectordb.NewClient(config.VectorDBConfig{Enabled: false}, logger)
	ranker := retrieval.NewRanker(cfg.Retrieval, cfg.Budget, cats, nil, index, logger)

	searchProv := &fakeSearch{finding: finding}
	researcher := research.NewPlanner(cfg.Research, []research.Provider{searchProv}, nil, nil, logger)

	provider := &scriptedLLM{model: "model-a", texts: []string{"generated answer"}}
	executor := cascade.NewExecutor(cfg.Cascade, cfg.Budget, logger)
	candidates := []cascade.Candidate{{Provider: provider}}

	return &harness{
		orch:     New(cfg, ranker, researcher, executor, candidates, Options{}, logger),
		search:   searchProv,
		provider: provider,
	}
}

func TestHandleHighConfidenceSkipsResearch(t *testing.T) {
	cfg := config.Default()
	docs := []catalog.Candidate{
		{ID: "doc-1", Title: "Timeout tuning", SearchableText: "timeout timeout timeout advice"},
	}
	h := newHarness(t, cfg, docs, &models.ResearchFinding{
		Sources: []models.WebSource{{URL: "https://example.com/x"}},
	})

	ans, err := h.orch.Handle(context.Background(), models.Query{
		RawText: "how do I tune the timeout?",
		Intent:  models.IntentOpenChat,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ans.Provenance.UsedWebResearch {
		t.Fatal("high keyword confidence must not trigger web research")
	}
	if h.search.calls != 0 {
		t.Fatal("search provider must never be called")
	}
	if ans.Text == "" || ans.Provenance.Attempts != 1 {
		t.Fatalf("unexpected answer: %+v", ans.Provenance)
	}
	if ans.Provenance.UsedKeywordSources != 1 {
		t.Fatalf("expected one keyword source, got %d", ans.Provenance.UsedKeywordSources)
	}
}

func TestHandleTriggerPhraseRunsResearch(t *testing.T) {
	cfg := config.Default()
	finding := &models.ResearchFinding{
		KeyFacts: []string{"fact one", "fact two", "fact three"},
		Sources: []models.WebSource{
			{Title: "A", URL: "https://example.com/a"},
			{Title: "B", URL: "https://example.com/b"},
			{Title: "C", URL: "https://example.com/c"},
		},
	}
	h := newHarness(t, cfg, nil, finding)

	ans, err := h.orch.Handle(context.Background(), models.Query{
		RawText: "What changed recently? Please cite your sources.",
		Intent:  models.IntentOpenChat,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !ans.Provenance.UsedWebResearch {
		t.Fatal("trigger phrase must activate web research")
	}
	if h.search.calls == 0 {
		t.Fatal("search provider must be called")
	}
	if !strings.Contains(ans.Text, "Sources:") || !strings.Contains(ans.Text, "https://example.com/a") {
		t.Fatalf("answer must carry a sources section: %q", ans.Text)
	}
	if len(ans.Provenance.WebSources) != 3 {
		t.Fatalf("expected 3 web sources, got %d", len(ans.Provenance.WebSources))
	}
}

func TestHandleStarvedBudgetMinimalGeneration(t *testing.T) {
	cfg := config.Default()
	cfg.Budget.SafetyMargin = 0
	cfg.Budget.ContinuationReserve = 100 * time.Millisecond
	cfg.Retrieval.MinSlice = 10 * time.Second
	cfg.Research.MinSlice = 10 * time.Second
	cfg.Cascade.MinSlice = 100 * time.Millisecond
	h := newHarness(t, cfg, []catalog.Candidate{
		{ID: "doc-1", SearchableText: "timeout advice"},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ans, err := h.orch.Handle(ctx, models.Query{
		RawText: "timeout question",
		Intent:  models.IntentOpenChat,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	p := ans.Provenance
	if !p.RetrievalSkipped || !p.ResearchSkipped {
		t.Fatalf("both stages must be skipped: %+v", p)
	}
	if p.UsedSemantic || p.UsedKeywordSources != 0 || p.UsedWebResearch {
		t.Fatalf("skipped stages must contribute nothing: %+v", p)
	}
	if ans.Text == "" {
		t.Fatal("generation must still be attempted")
	}
	if len(h.provider.reqs) != 1 {
		t.Fatalf("expected one generation call, got %d", len(h.provider.reqs))
	}
	if len(h.provider.reqs[0].History) != 1 {
		t.Fatalf("starved request must use the minimal prompt: %+v", h.provider.reqs[0].History)
	}
}

func TestHandleActivationRuleDeterministic(t *testing.T) {
	cfg := config.Default()
	docs := []catalog.Candidate{
		{ID: "doc-1", SearchableText: "timeout timeout material"},
	}
	for i := 0; i < 5; i++ {
		h := newHarness(t, cfg, docs, &models.ResearchFinding{
			Sources: []models.WebSource{{URL: "https://example.com"}},
		})
		ans, err := h.orch.Handle(context.Background(), models.Query{
			RawText: "tell me about timeout handling",
			Intent:  models.IntentOpenChat,
		})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if ans.Provenance.UsedWebResearch || h.search.calls != 0 {
			t.Fatal("activation rule must be deterministic for confidence at the floor")
		}
	}
}
