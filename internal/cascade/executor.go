package cascade

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/budget"
	"github.com/lumenlab/oracle/internal/config"
	"github.com/lumenlab/oracle/internal/llm"
	ometrics "github.com/lumenlab/oracle/internal/metrics"
	"github.com/lumenlab/oracle/internal/models"
)

// Candidate pairs a provider with its parameter capabilities. Order in the
// slice encodes preference.
type Candidate struct {
	Provider          llm.Provider
	SupportsEffort    bool
	SupportsVerbosity bool
}

// Input is everything the executor needs for one request.
type Input struct {
	SystemContext    string
	History          []models.Turn
	HasResearchBrief bool
	Tier             models.QualityTier
	// MinimalOnly starts directly on the minimal prompt variant, used when
	// the budget was too tight for any context assembly.
	MinimalOnly bool
}

// Result is the accepted answer plus the full attempt history.
type Result struct {
	Text      string
	Truncated bool
	Continued bool
	ModelUsed string
	Attempts  []Attempt
}

// Failure is the structured error when no attempt produced an answer.
type Failure struct {
	Fatal     bool
	LastError string
	Attempts  int
}

func (f *Failure) Error() string {
	kind := "exhausted"
	if f.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("generation %s after %d attempt(s): %s", kind, f.Attempts, f.LastError)
}

// Executor drives the candidate cascade. Attempts are strictly sequential:
// each attempt's configuration depends on the previous classification.
type Executor struct {
	cfg    config.CascadeConfig
	budCfg config.BudgetConfig
	logger *zap.Logger
}

func NewExecutor(cfg config.CascadeConfig, budCfg config.BudgetConfig, logger *zap.Logger) *Executor {
	return &Executor{cfg: cfg, budCfg: budCfg, logger: logger}
}

const perCandidateCap = 2

func maxTotalAttempts(hasBrief bool) int {
	if hasBrief {
		return 2
	}
	return 3
}

// Run executes the cascade until first success, fatal error, or exhaustion
// of attempts or budget.
func (e *Executor) Run(ctx context.Context, in Input, candidates []Candidate, bud *budget.Tracker) (Result, error) {
	res := Result{}
	history := capHistory(in.History, e.cfg.MaxHistoryTurns)
	lastUser := lastUserTurn(history)

	maxTotal := maxTotalAttempts(in.HasResearchBrief)
	tokens := e.cfg.BaseMaxTokens
	usedMinimal := in.MinimalOnly
	lastErr := "no attempt started"

	var accepted *llm.Response
	var acceptedModel string

cascade:
	for _, cand := range candidates {
		effort := effortForTier(in.Tier)
		verbosity := verbosityForTier(in.Tier)
		allowEffort := cand.SupportsEffort
		allowVerbosity := cand.SupportsVerbosity

		for perCand := 0; perCand < perCandidateCap && len(res.Attempts) < maxTotal; {
			if !bud.CanStart(e.cfg.MinSlice) {
				e.logger.Info("generation stopped, budget below minimum slice",
					zap.Duration("remaining", bud.Remaining()),
					zap.Int("attempts", len(res.Attempts)),
				)
				break cascade
			}

			variant := VariantFull
			if usedMinimal {
				variant = VariantMinimal
			}
			req := e.buildRequest(in, history, lastUser, variant, tokens)
			if allowEffort {
				req.ReasoningEffort = effort
			}
			if allowVerbosity {
				req.Verbosity = verbosity
			}

			resp, err := e.attempt(ctx, cand.Provider, req, bud)

			// Unsupported optional parameter: retry immediately without it.
			// Free retry, does not count against the attempt budget.
			if err != nil {
				if class, param := llm.Classify(err); class == llm.ClassUnsupportedParam && (allowEffort || allowVerbosity) {
					switch param {
					case "reasoning_effort":
						allowEffort = false
					case "verbosity":
						allowVerbosity = false
					default:
						allowEffort, allowVerbosity = false, false
					}
					e.logger.Debug("retrying without unsupported parameter",
						zap.String("model", cand.Provider.Model()),
						zap.String("param", param),
					)
					continue
				}
			}

			outcome := classify(resp, err)
			attempt := Attempt{
				Model:     cand.Provider.Model(),
				Variant:   variant,
				MaxTokens: tokens,
				Outcome:   outcome,
			}
			if err != nil {
				attempt.Err = err.Error()
				lastErr = err.Error()
			}
			res.Attempts = append(res.Attempts, attempt)
			perCand++
			ometrics.GenerationAttempts.WithLabelValues(attempt.Model, outcome.String()).Inc()

			switch outcome {
			case OutcomeSuccess:
				accepted = &resp
				acceptedModel = attempt.Model
				break cascade

			case OutcomeTruncated:
				if tokens < e.cfg.MaxTokensCap {
					tokens = escalateTokens(tokens, e.cfg.MaxTokensCap)
					continue
				}
				// at the cap: accept the partial text, continuation may finish it
				accepted = &resp
				acceptedModel = attempt.Model
				break cascade

			case OutcomeEmpty:
				lastErr = "empty response"
				if !usedMinimal {
					usedMinimal = true
					continue
				}
				// already minimal: treat as transient, move on

			case OutcomeFatal:
				ometrics.AttemptsPerRequest.Observe(float64(len(res.Attempts)))
				return res, &Failure{Fatal: true, LastError: lastErr, Attempts: len(res.Attempts)}
			}
			// transient (or repeated empty): next attempt or candidate
		}
		if len(res.Attempts) >= maxTotal {
			break
		}
	}

	ometrics.AttemptsPerRequest.Observe(float64(len(res.Attempts)))
	if accepted == nil {
		return res, &Failure{LastError: lastErr, Attempts: len(res.Attempts)}
	}

	res.Text = accepted.Text
	res.Truncated = accepted.Truncated
	res.ModelUsed = acceptedModel

	if res.Truncated && bud.CanStart(e.cfg.ContinuationFloor) {
		e.continueAnswer(ctx, in, lastUser, &res, candidates, bud)
	}
	return res, nil
}

// attempt runs one provider call inside its derived budget slice.
func (e *Executor) attempt(ctx context.Context, p llm.Provider, req llm.Request, bud *budget.Tracker) (llm.Response, error) {
	actx, cancel, err := bud.StageContext(ctx, "generation", 0, e.budCfg.ContinuationReserve)
	if err != nil {
		return llm.Response{}, err
	}
	defer cancel()

	start := time.Now()
	resp, err := p.Complete(actx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	ometrics.StageDuration.WithLabelValues("generation", status).Observe(time.Since(start).Seconds())
	return resp, err
}

// continueAnswer issues the single follow-up request for a truncated
// accepted answer. Failure here never degrades the accepted text.
func (e *Executor) continueAnswer(ctx context.Context, in Input, lastUser models.Turn, res *Result, candidates []Candidate, bud *budget.Tracker) {
	var provider llm.Provider
	for _, cand := range candidates {
		if cand.Provider.Model() == res.ModelUsed {
			provider = cand.Provider
			break
		}
	}
	if provider == nil {
		return
	}

	cctx, cancel, err := bud.StageContext(ctx, "continuation", 0, 0)
	if err != nil {
		return
	}
	defer cancel()

	req := llm.Request{
		System: in.SystemContext,
		History: []models.Turn{
			lastUser,
			{Role: "assistant", Content: res.Text},
			{Role: "user", Content: "Continue your previous answer exactly where it stopped. Do not repeat anything."},
		},
		MaxTokens: e.cfg.MaxTokensCap,
	}
	ometrics.Continuations.Inc()
	resp, err := provider.Complete(cctx, req)
	if err != nil || resp.Text == "" {
		e.logger.Warn("continuation failed, keeping partial answer", zap.Error(err))
		return
	}
	res.Text += resp.Text
	res.Continued = true
	res.Truncated = resp.Truncated
}

func (e *Executor) buildRequest(in Input, history []models.Turn, lastUser models.Turn, variant PromptVariant, tokens int) llm.Request {
	req := llm.Request{
		System:    in.SystemContext,
		MaxTokens: tokens,
	}
	if variant == VariantMinimal {
		req.History = []models.Turn{lastUser}
		return req
	}
	req.History = history
	return req
}

func escalateTokens(current, limit int) int {
	next := current * 2
	if next > limit {
		next = limit
	}
	return next
}

func capHistory(history []models.Turn, maxTurns int) []models.Turn {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}

func lastUserTurn(history []models.Turn) models.Turn {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i]
		}
	}
	if len(history) > 0 {
		return history[len(history)-1]
	}
	return models.Turn{Role: "user"}
}

func effortForTier(tier models.QualityTier) string {
	switch tier {
	case models.TierDeep:
		return "high"
	case models.TierFast:
		return "low"
	default:
		return "medium"
	}
}

func verbosityForTier(tier models.QualityTier) string {
	switch tier {
	case models.TierDeep:
		return "high"
	case models.TierFast:
		return "low"
	default:
		return "medium"
	}
}
