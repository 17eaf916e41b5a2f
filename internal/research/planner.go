package research

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lumenlab/oracle/internal/budget"
	"github.com/lumenlab/oracle/internal/config"
	"github.com/lumenlab/oracle/internal/llm"
	ometrics "github.com/lumenlab/oracle/internal/metrics"
	"github.com/lumenlab/oracle/internal/models"
)

// Planner decides whether web research is warranted, expands the question
// into sub-queries, runs them against the provider chain with bounded
// parallelism, and synthesizes a compact brief with citations.
type Planner struct {
	cfg       config.ResearchConfig
	providers []Provider
	planLLM   llm.Provider
	synthLLM  llm.Provider
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewPlanner wires the research pass. planLLM and synthLLM may be nil; the
// deterministic fallbacks cover both.
func NewPlanner(cfg config.ResearchConfig, providers []Provider, planLLM, synthLLM llm.Provider, logger *zap.Logger) *Planner {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Planner{
		cfg:       cfg,
		providers: providers,
		planLLM:   planLLM,
		synthLLM:  synthLLM,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		logger:    logger,
	}
}

// ShouldRun applies the activation rule: an explicit trigger phrase always
// wins; otherwise low confidence activates research only for intents that
// allow web augmentation. The returned reason feeds metrics and logs.
func (p *Planner) ShouldRun(q models.Query, confidence, floor float64, triggers []string) (bool, string) {
	lower := strings.ToLower(q.RawText)
	for _, phrase := range triggers {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true, "trigger_phrase"
		}
	}
	if confidence < floor && q.Intent.AllowsWebAugmentation() {
		return true, "low_confidence"
	}
	return false, ""
}

// Run executes the research pass. A nil brief is a valid, expected outcome.
func (p *Planner) Run(ctx context.Context, q models.Query, bud *budget.Tracker) *models.ResearchBrief {
	if !bud.CanStart(p.cfg.MinSlice) {
		ometrics.StagesSkipped.WithLabelValues("research").Inc()
		return nil
	}
	start := time.Now()

	subqueries := p.plan(ctx, q, bud)
	if len(subqueries) == 0 {
		return nil
	}

	findings := p.searchAll(ctx, subqueries, bud)
	if len(findings) == 0 {
		ometrics.StageDuration.WithLabelValues("research", "empty").Observe(time.Since(start).Seconds())
		return nil
	}

	brief := p.synthesize(ctx, q, findings, bud)
	ometrics.StageDuration.WithLabelValues("research", "ok").Observe(time.Since(start).Seconds())
	p.logger.Info("web research completed",
		zap.Int("subqueries", len(subqueries)),
		zap.Int("findings", len(findings)),
		zap.Int("sources", len(brief.Sources)),
		zap.Duration("remaining", bud.Remaining()),
	)
	return brief
}

// searchAll fans sub-queries across the worker pool. Sub-queries are
// dispatched in insertion order; completion order is unconstrained. Workers
// skip queries once the remaining budget drops below the per-query floor.
func (p *Planner) searchAll(ctx context.Context, subqueries []string, bud *budget.Tracker) []models.ResearchFinding {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(subqueries) {
		workers = len(subqueries)
	}

	type job struct {
		idx   int
		query string
	}
	jobs := make(chan job)
	results := make([]*models.ResearchFinding, len(subqueries))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if !bud.CanStart(p.cfg.PerQueryFloor) {
					ometrics.ResearchSubqueries.WithLabelValues("skipped").Inc()
					continue
				}
				if err := p.limiter.Wait(ctx); err != nil {
					ometrics.ResearchSubqueries.WithLabelValues("skipped").Inc()
					continue
				}
				results[j.idx] = p.searchOne(ctx, j.query, bud)
			}
		}()
	}
	for i, q := range subqueries {
		jobs <- job{idx: i, query: q}
	}
	close(jobs)
	wg.Wait()

	var findings []models.ResearchFinding
	for _, f := range results {
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}

// searchOne tries the provider chain in preference order; the first
// provider returning a usable citation wins for this sub-query.
func (p *Planner) searchOne(ctx context.Context, query string, bud *budget.Tracker) *models.ResearchFinding {
	qctx, cancel, err := bud.StageContext(ctx, "research_search", p.cfg.PerQueryTimeout, 0)
	if err != nil {
		ometrics.ResearchSubqueries.WithLabelValues("skipped").Inc()
		return nil
	}
	defer cancel()

	for _, provider := range p.providers {
		if !provider.Enabled() {
			continue
		}
		finding, serr := provider.Search(qctx, query)
		if serr != nil {
			ometrics.SearchProviderCalls.WithLabelValues(provider.Name(), "error").Inc()
			p.logger.Debug("search provider failed",
				zap.String("provider", provider.Name()),
				zap.String("query", query),
				zap.Error(serr),
			)
			continue
		}
		if finding == nil || len(finding.Sources) == 0 {
			ometrics.SearchProviderCalls.WithLabelValues(provider.Name(), "no_citation").Inc()
			continue
		}
		ometrics.SearchProviderCalls.WithLabelValues(provider.Name(), "ok").Inc()
		ometrics.ResearchSubqueries.WithLabelValues("ok").Inc()
		return finding
	}
	ometrics.ResearchSubqueries.WithLabelValues("failed").Inc()
	return nil
}

const synthSystemPrompt = `You summarize web research findings.
Use ONLY the facts and links provided. Do not add outside knowledge.
End with a "Sources:" section listing every link you used.`

// synthesize produces the brief from the findings, falling back to the
// mechanical bullet list when the model is unavailable or out of time.
// Findings are never silently dropped.
func (p *Planner) synthesize(ctx context.Context, q models.Query, findings []models.ResearchFinding, bud *budget.Tracker) *models.ResearchBrief {
	sources := dedupSources(findings)

	if p.synthLLM != nil && bud.CanStart(p.cfg.SynthTimeout/2) {
		sctx, cancel, err := bud.StageContext(ctx, "research_synth", p.cfg.SynthTimeout, 0)
		if err == nil {
			defer cancel()
			text, lerr := llm.TextCompletion(sctx, p.synthLLM, synthSystemPrompt, synthUserPrompt(q, findings), 700)
			if lerr == nil && strings.TrimSpace(text) != "" {
				return &models.ResearchBrief{Text: text, Sources: sources}
			}
			p.logger.Debug("synthesis failed, using mechanical brief", zap.Error(lerr))
		}
	}
	return mechanicalBrief(findings, sources)
}

func synthUserPrompt(q models.Query, findings []models.ResearchFinding) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(q.RawText)
	b.WriteString("\n\nFindings:\n")
	for _, f := range findings {
		b.WriteString("- query: ")
		b.WriteString(f.Query)
		b.WriteString("\n")
		for _, fact := range f.KeyFacts {
			b.WriteString("  fact: ")
			b.WriteString(fact)
			b.WriteString("\n")
		}
		for _, s := range f.Sources {
			b.WriteString("  link: ")
			b.WriteString(s.URL)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// mechanicalBrief is the deterministic fallback: bullets straight from the
// key facts plus the deduplicated source list.
func mechanicalBrief(findings []models.ResearchFinding, sources []models.WebSource) *models.ResearchBrief {
	var b strings.Builder
	for _, f := range findings {
		for _, fact := range f.KeyFacts {
			b.WriteString("- ")
			b.WriteString(fact)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nSources:\n")
	for _, s := range sources {
		b.WriteString("- ")
		if s.Title != "" {
			b.WriteString(s.Title)
			b.WriteString(": ")
		}
		b.WriteString(s.URL)
		b.WriteString("\n")
	}
	return &models.ResearchBrief{Text: b.String(), Sources: sources}
}

func dedupSources(findings []models.ResearchFinding) []models.WebSource {
	seen := map[string]bool{}
	var out []models.WebSource
	for _, f := range findings {
		for _, s := range f.Sources {
			if s.URL == "" || seen[s.URL] {
				continue
			}
			seen[s.URL] = true
			out = append(out, s)
		}
	}
	return out
}
