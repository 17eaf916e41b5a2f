package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/budget"
	"github.com/lumenlab/oracle/internal/catalog"
	"github.com/lumenlab/oracle/internal/config"
	ometrics "github.com/lumenlab/oracle/internal/metrics"
	"github.com/lumenlab/oracle/internal/models"
	"github.com/lumenlab/oracle/internal/vectordb"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticIndex is the similarity search over chunked knowledge.
type SemanticIndex interface {
	Enabled() bool
	SearchCatalog(ctx context.Context, embedding []float32, catalog string, limit int, threshold float64) ([]vectordb.Hit, error)
}

// Catalogs lists scoreable candidates per knowledge catalog.
type Catalogs interface {
	ListDocuments(ctx context.Context, sourceID string) ([]catalog.Candidate, error)
	ListIncidents(ctx context.Context) ([]catalog.Candidate, error)
	ListDiscussions(ctx context.Context, tags []string) ([]catalog.Candidate, error)
}

// Result is everything the ranker could gather, plus the confidence score
// that gates web research. The ranker never fails a request; a result built
// from partial data is still a result.
type Result struct {
	Items          []models.KnowledgeItem
	Confidence     float64
	UsedSemantic   bool
	KeywordSources int
	Catalogs       []string
	Context        string
}

// Ranker fuses semantic similarity and keyword overlap into a ranked,
// capped context.
type Ranker struct {
	cfg      config.RetrievalConfig
	budCfg   config.BudgetConfig
	catalogs Catalogs
	embedder Embedder
	index    SemanticIndex
	logger   *zap.Logger

	// excerptCap overrides cfg.ExcerptMaxChars when set via hot reload.
	excerptCap atomic.Int64
}

func NewRanker(cfg config.RetrievalConfig, budCfg config.BudgetConfig, catalogs Catalogs, embedder Embedder, index SemanticIndex, logger *zap.Logger) *Ranker {
	return &Ranker{cfg: cfg, budCfg: budCfg, catalogs: catalogs, embedder: embedder, index: index, logger: logger}
}

// SetExcerptMaxChars swaps the excerpt cap at runtime. Safe for concurrent
// use with Rank.
func (r *Ranker) SetExcerptMaxChars(n int) {
	if n > 0 {
		r.excerptCap.Store(int64(n))
	}
}

func (r *Ranker) excerptMaxChars() int {
	if n := r.excerptCap.Load(); n > 0 {
		return int(n)
	}
	return r.cfg.ExcerptMaxChars
}

// Rank assembles the knowledge context for a query. Confidence is
// max(2 if semantic hits exist, best keyword score across catalogs).
func (r *Ranker) Rank(ctx context.Context, q models.Query, bud *budget.Tracker) Result {
	start := time.Now()
	keywords := ExtractKeywords(q.RawText, r.cfg.AcronymAllowList)

	res := Result{}

	semanticItems := r.semanticPass(ctx, q, bud)
	if len(semanticItems) > 0 {
		res.UsedSemantic = true
		res.Items = append(res.Items, semanticItems...)
	}

	keywordItems, bestScore, catalogsHit := r.keywordPass(ctx, q, keywords, bud)
	res.Items = append(res.Items, keywordItems...)
	res.KeywordSources = len(keywordItems)
	res.Catalogs = catalogsHit

	res.Confidence = bestScore
	if res.UsedSemantic && res.Confidence < 2 {
		res.Confidence = 2
	}
	r.capExcerpts(res.Items, keywords)
	res.Context = assembleContext(res.Items)

	ometrics.RetrievalConfidence.Observe(res.Confidence)
	ometrics.StageDuration.WithLabelValues("retrieval", "ok").Observe(time.Since(start).Seconds())
	r.logger.Debug("retrieval ranked",
		zap.Int("items", len(res.Items)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("semantic", res.UsedSemantic),
		zap.Duration("remaining", bud.Remaining()),
	)
	return res
}

// semanticPass embeds the query and searches the excerpt index, keeping the
// top excerpts per source and the best sources by peak similarity. Any
// failure degrades to no semantic contribution.
func (r *Ranker) semanticPass(ctx context.Context, q models.Query, bud *budget.Tracker) []models.KnowledgeItem {
	if r.index == nil || !r.index.Enabled() || r.embedder == nil {
		return nil
	}
	if !bud.CanStart(r.cfg.SemanticMinSlice) {
		ometrics.StagesSkipped.WithLabelValues("semantic").Inc()
		return nil
	}

	sctx, cancel, err := bud.StageContext(ctx, "semantic", r.cfg.SemanticMinSlice*2, 0)
	if err != nil {
		return nil
	}
	defer cancel()

	vec, err := r.embedder.Embed(sctx, q.RawText)
	if err != nil {
		r.logger.Warn("query embedding failed, keyword-only retrieval", zap.Error(err))
		return nil
	}
	hits, err := r.index.SearchCatalog(sctx, vec, catalog.Documents, r.cfg.SemanticTopK, r.cfg.SimilarityFloor)
	if err != nil {
		r.logger.Warn("semantic search failed, keyword-only retrieval", zap.Error(err))
		return nil
	}
	return groupSemanticHits(hits, r.cfg.MaxSources, r.cfg.ExcerptsPerSource)
}

// groupSemanticHits keeps the top excerpts per source and the best sources
// by peak similarity.
func groupSemanticHits(hits []vectordb.Hit, maxSources, excerptsPerSource int) []models.KnowledgeItem {
	type sourceGroup struct {
		id   string
		peak float64
		hits []vectordb.Hit
	}
	groups := map[string]*sourceGroup{}
	order := []string{}
	for _, h := range hits {
		id := h.SourceID
		if id == "" {
			id = fmt.Sprintf("%v", h.Payload["_point_id"])
		}
		g, ok := groups[id]
		if !ok {
			g = &sourceGroup{id: id}
			groups[id] = g
			order = append(order, id)
		}
		g.hits = append(g.hits, h)
		if h.Score > g.peak {
			g.peak = h.Score
		}
	}

	sorted := make([]*sourceGroup, 0, len(order))
	for _, id := range order {
		sorted = append(sorted, groups[id])
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].peak > sorted[j].peak })
	if len(sorted) > maxSources {
		sorted = sorted[:maxSources]
	}

	var items []models.KnowledgeItem
	for _, g := range sorted {
		sort.SliceStable(g.hits, func(i, j int) bool { return g.hits[i].Score > g.hits[j].Score })
		kept := g.hits
		if len(kept) > excerptsPerSource {
			kept = kept[:excerptsPerSource]
		}
		for _, h := range kept {
			items = append(items, models.KnowledgeItem{
				SourceID: g.id,
				Title:    h.Title,
				Excerpt:  h.Excerpt,
				Score:    h.Score,
				Origin:   models.OriginSemantic,
			})
		}
	}
	return items
}

// keywordPass scores candidates from each applicable catalog inside a
// budget-derived slice that never encroaches on the generation reserve.
// A failed or cancelled lookup degrades to an empty result for that
// catalog only.
func (r *Ranker) keywordPass(ctx context.Context, q models.Query, keywords []Keyword, bud *budget.Tracker) (items []models.KnowledgeItem, bestScore float64, catalogsHit []string) {
	kctx, cancel, err := bud.StageContext(ctx, "keyword", r.cfg.MinSlice*2, r.budCfg.GenerationReserve)
	if err != nil {
		ometrics.StagesSkipped.WithLabelValues("keyword").Inc()
		return nil, 0, nil
	}
	defer cancel()

	type pass struct {
		name   string
		origin models.Origin
		topN   int
		list   func() ([]catalog.Candidate, error)
	}
	passes := []pass{
		{catalog.Documents, models.OriginKeyword, r.cfg.DocumentsTopN, func() ([]catalog.Candidate, error) {
			return r.catalogs.ListDocuments(kctx, q.SourceID)
		}},
	}
	if LooksIncidentRelated(q.RawText) {
		passes = append(passes, pass{catalog.Incidents, models.OriginCompendium, r.cfg.IncidentsTopN, func() ([]catalog.Candidate, error) {
			return r.catalogs.ListIncidents(kctx)
		}})
	}
	if len(q.TopicTags) > 0 {
		passes = append(passes, pass{catalog.Discussions, models.OriginDiscussion, r.cfg.DiscussionsTopN, func() ([]catalog.Candidate, error) {
			return r.catalogs.ListDiscussions(kctx, q.TopicTags)
		}})
	}

	for _, p := range passes {
		cands, err := p.list()
		if err != nil {
			// degrade this catalog to empty, keep going
			continue
		}
		scored := scoreCandidates(cands, keywords, p.topN)
		if len(scored) == 0 {
			continue
		}
		catalogsHit = append(catalogsHit, p.name)
		for _, sc := range scored {
			if sc.score > bestScore {
				bestScore = sc.score
			}
			items = append(items, models.KnowledgeItem{
				SourceID: sc.cand.ID,
				Title:    sc.cand.Title,
				Excerpt:  sc.cand.SearchableText,
				Score:    sc.score,
				Origin:   p.origin,
			})
		}
	}
	return items, bestScore, catalogsHit
}

type scoredCandidate struct {
	cand  catalog.Candidate
	score float64
}

func scoreCandidates(cands []catalog.Candidate, keywords []Keyword, topN int) []scoredCandidate {
	scored := make([]scoredCandidate, 0, len(cands))
	for _, c := range cands {
		s := ScoreText(c.SearchableText+" "+c.Title, keywords)
		if s > 0 {
			scored = append(scored, scoredCandidate{cand: c, score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}

// capExcerpts applies the centered-window cap to every kept item, so the
// capped text is what provenance and the context block both carry.
func (r *Ranker) capExcerpts(items []models.KnowledgeItem, keywords []Keyword) {
	maxChars := r.excerptMaxChars()
	for i := range items {
		capped := CenterExcerpt(items[i].Excerpt, keywords, maxChars)
		if capped != items[i].Excerpt {
			ometrics.ExcerptTruncations.Inc()
			items[i].Excerpt = capped
		}
	}
}

// assembleContext renders the capped items as a text block.
func assembleContext(items []models.KnowledgeItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, it := range items {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if it.Title != "" {
			b.WriteString("### ")
			b.WriteString(it.Title)
			b.WriteString("\n")
		}
		b.WriteString(it.Excerpt)
	}
	return b.String()
}
