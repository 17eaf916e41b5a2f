package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/assemble"
	"github.com/lumenlab/oracle/internal/budget"
	"github.com/lumenlab/oracle/internal/cascade"
	"github.com/lumenlab/oracle/internal/config"
	ometrics "github.com/lumenlab/oracle/internal/metrics"
	"github.com/lumenlab/oracle/internal/models"
	"github.com/lumenlab/oracle/internal/persist"
	"github.com/lumenlab/oracle/internal/research"
	"github.com/lumenlab/oracle/internal/retrieval"
	"github.com/lumenlab/oracle/internal/session"
	"github.com/lumenlab/oracle/internal/tracing"
)

// Orchestrator coordinates one request end to end: retrieval, the optional
// research pass, the generation cascade, and assembly. Every stage derives
// its timeout from the request's live budget; a stage that cannot start
// inside its minimum slice is skipped, not failed.
type Orchestrator struct {
	cfg        *config.Config
	tunables   *config.Manager
	ranker     *retrieval.Ranker
	researcher *research.Planner
	executor   *cascade.Executor
	candidates []cascade.Candidate
	sessions   *session.Store
	writer     *persist.Writer
	logger     *zap.Logger
}

// Options carries the optional collaborators.
type Options struct {
	Tunables *config.Manager
	Sessions *session.Store
	Writer   *persist.Writer
}

func New(cfg *config.Config, ranker *retrieval.Ranker, researcher *research.Planner, executor *cascade.Executor, candidates []cascade.Candidate, opts Options, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		tunables:   opts.Tunables,
		ranker:     ranker,
		researcher: researcher,
		executor:   executor,
		candidates: candidates,
		sessions:   opts.Sessions,
		writer:     opts.Writer,
		logger:     logger,
	}
}

// Handle answers one query inside the caller's deadline. The context
// deadline, when present, is the hard limit; otherwise the configured
// request deadline applies.
func (o *Orchestrator) Handle(ctx context.Context, q models.Query) (models.Answer, error) {
	start := time.Now()
	requestID := uuid.NewString()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = start.Add(o.cfg.Budget.RequestDeadline)
	}
	bud := budget.New(deadline, o.cfg.Budget.SafetyMargin, o.logger)

	ctx, span := tracing.StartSpan(ctx, "orchestrator.handle")
	defer span.End()

	tier := q.Tier
	if tier == "" {
		tier = models.TierBalanced
	}
	intent := q.Intent
	if intent == "" {
		intent = models.IntentOpenChat
		q.Intent = intent
	}
	ometrics.RequestsStarted.WithLabelValues(string(intent), string(tier)).Inc()

	history := o.loadHistory(ctx, q)

	// Stage 1: retrieval. Cheap relative to generation, always first.
	var ret retrieval.Result
	retrievalSkipped := true
	if bud.CanStart(o.cfg.Retrieval.MinSlice) {
		retrievalSkipped = false
		ret = o.ranker.Rank(ctx, q, bud)
	} else {
		ometrics.StagesSkipped.WithLabelValues("retrieval").Inc()
	}

	// Stage 2: optional web research, never encroaching on the
	// generation reserve.
	floor, triggers := o.currentTunables()
	var brief *models.ResearchBrief
	researchSkipped := false
	if !retrievalSkipped {
		if should, reason := o.researcher.ShouldRun(q, ret.Confidence, floor, triggers); should {
			if bud.Remaining()-o.cfg.Budget.GenerationReserve >= o.cfg.Research.MinSlice {
				ometrics.ResearchRuns.WithLabelValues(reason).Inc()
				brief = o.runResearch(ctx, q, bud)
			} else {
				researchSkipped = true
				ometrics.StagesSkipped.WithLabelValues("research").Inc()
			}
		}
	} else {
		researchSkipped = true
	}

	// Stage 3: generation cascade.
	in := cascade.Input{
		SystemContext:    o.systemContext(q, ret, brief),
		History:          append(history, models.Turn{Role: "user", Content: q.RawText}),
		HasResearchBrief: brief != nil,
		Tier:             tier,
		MinimalOnly:      retrievalSkipped,
	}
	gen, err := o.executor.Run(ctx, in, o.candidates, bud)
	if err != nil {
		ometrics.RequestsCompleted.WithLabelValues(string(intent), string(tier), "error").Inc()
		o.logger.Error("generation failed",
			zap.String("request_id", requestID),
			zap.String("session_id", q.SessionID),
			zap.Int("attempts", len(gen.Attempts)),
			zap.Error(err),
		)
		return models.Answer{}, err
	}

	answer := assemble.Build(assemble.Inputs{
		Query:            q,
		Retrieval:        ret,
		RetrievalSkipped: retrievalSkipped,
		Brief:            brief,
		ResearchSkipped:  researchSkipped,
		Generation:       gen,
		Elapsed:          time.Since(start),
	})

	o.finish(requestID, q, answer)

	ometrics.RequestsCompleted.WithLabelValues(string(intent), string(tier), "ok").Inc()
	ometrics.RequestDuration.WithLabelValues(string(intent), string(tier)).Observe(time.Since(start).Seconds())
	o.logger.Info("request completed",
		zap.String("request_id", requestID),
		zap.String("session_id", q.SessionID),
		zap.String("model", answer.Provenance.ModelUsed),
		zap.Int("attempts", answer.Provenance.Attempts),
		zap.Bool("web_research", answer.Provenance.UsedWebResearch),
		zap.Bool("truncated", answer.Provenance.Truncated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return answer, nil
}

// runResearch wraps the research pass in its stage span.
func (o *Orchestrator) runResearch(ctx context.Context, q models.Query, bud *budget.Tracker) *models.ResearchBrief {
	rctx, span := tracing.StartStageSpan(ctx, "research")
	defer span.End()
	return o.researcher.Run(rctx, q, bud)
}

// loadHistory fetches the capped transcript; a dead session store means an
// empty history, never a failed request.
func (o *Orchestrator) loadHistory(ctx context.Context, q models.Query) []models.Turn {
	if o.sessions == nil || q.SessionID == "" {
		return nil
	}
	history, err := o.sessions.History(ctx, q.SessionID)
	if err != nil {
		return nil
	}
	return history
}

// finish hands the answer to the async collaborators. Neither persistence
// nor transcript writes ever block the response.
func (o *Orchestrator) finish(requestID string, q models.Query, answer models.Answer) {
	if o.writer != nil {
		o.writer.Enqueue(persist.Record{
			RequestID: requestID,
			SessionID: q.SessionID,
			Query:     q.RawText,
			Answer:    answer,
		})
	}
	if o.sessions != nil && q.SessionID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			o.sessions.Append(ctx, q.SessionID,
				models.Turn{Role: "user", Content: q.RawText},
				models.Turn{Role: "assistant", Content: answer.Text},
			)
		}()
	}
}

func (o *Orchestrator) currentTunables() (float64, []string) {
	if o.tunables != nil {
		t := o.tunables.Current()
		return t.ConfidenceFloor, t.TriggerPhrases
	}
	return o.cfg.Research.ConfidenceFloor, o.cfg.Research.TriggerPhrases
}

// systemContext builds the system prompt from the stage outputs.
func (o *Orchestrator) systemContext(q models.Query, ret retrieval.Result, brief *models.ResearchBrief) string {
	var b strings.Builder
	b.WriteString("You are a careful assistant. Answer using the supplied material when it is relevant.")
	if q.Language != "" {
		b.WriteString(" Respond in ")
		b.WriteString(q.Language)
		b.WriteString(".")
	}
	if ret.Context != "" {
		b.WriteString("\n\n## Knowledge\n")
		b.WriteString(ret.Context)
	}
	if brief != nil {
		b.WriteString("\n\n## Web research\n")
		b.WriteString(brief.Text)
	}
	return b.String()
}
