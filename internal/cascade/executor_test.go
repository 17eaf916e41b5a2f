package cascade

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap/zaptest"

	"github.com/lumenlab/oracle/internal/budget"
	"github.com/lumenlab/oracle/internal/config"
	"github.com/lumenlab/oracle/internal/llm"
	"github.com/lumenlab/oracle/internal/models"
)

type step struct {
	resp llm.Response
	err  error
}

type scriptedProvider struct {
	model string
	steps []step
	reqs  []llm.Request
}

func (p *scriptedProvider) Model() string { return p.model }

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	p.reqs = append(p.reqs, req)
	if len(p.steps) == 0 {
		return llm.Response{}, errors.New("script exhausted")
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s.resp, s.err
}

func rateLimitErr() error {
	return &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "rate limit"}
}

func unsupportedErr(param string) error {
	return &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "Unsupported parameter", Param: &param}
}

func testExecutor(t *testing.T, mutate func(*config.CascadeConfig)) *Executor {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg.Cascade)
	}
	return NewExecutor(cfg.Cascade, cfg.Budget, zaptest.NewLogger(t))
}

func ample(t *testing.T) *budget.Tracker {
	t.Helper()
	return budget.New(time.Now().Add(30*time.Second), 0, zaptest.NewLogger(t))
}

func userInput() Input {
	return Input{
		SystemContext: "context block",
		History: []models.Turn{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
			{Role: "user", Content: "current question"},
		},
		Tier: models.TierBalanced,
	}
}

func TestRunFirstAttemptSuccess(t *testing.T) {
	p := &scriptedProvider{model: "model-a", steps: []step{{resp: llm.Response{Text: "the answer"}}}}
	e := testExecutor(t, nil)

	res, err := e.Run(context.Background(), userInput(), []Candidate{{Provider: p}}, ample(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text != "the answer" || res.ModelUsed != "model-a" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Outcome != OutcomeSuccess {
		t.Fatalf("unexpected attempts: %+v", res.Attempts)
	}
	if res.Truncated || res.Continued {
		t.Fatal("clean success must not be truncated or continued")
	}
}

func TestRunFatalHaltsCascade(t *testing.T) {
	p1 := &scriptedProvider{model: "model-a", steps: []step{{err: rateLimitErr()}}}
	p2 := &scriptedProvider{model: "model-b", steps: []step{{resp: llm.Response{Text: "never"}}}}
	p3 := &scriptedProvider{model: "model-c", steps: []step{{resp: llm.Response{Text: "never"}}}}
	e := testExecutor(t, nil)

	_, err := e.Run(context.Background(), userInput(),
		[]Candidate{{Provider: p1}, {Provider: p2}, {Provider: p3}}, ample(t))

	var f *Failure
	if !errors.As(err, &f) || !f.Fatal {
		t.Fatalf("expected fatal failure, got %v", err)
	}
	if f.Attempts != 1 {
		t.Fatalf("expected 1 attempt before halt, got %d", f.Attempts)
	}
	if len(p2.reqs) != 0 || len(p3.reqs) != 0 {
		t.Fatal("no candidate may be attempted after a fatal classification")
	}
}

func TestRunAttemptCapWithoutBrief(t *testing.T) {
	transient := errors.New("connection reset")
	p1 := &scriptedProvider{model: "model-a", steps: []step{{err: transient}, {err: transient}}}
	p2 := &scriptedProvider{model: "model-b", steps: []step{{err: transient}, {err: transient}}}
	e := testExecutor(t, nil)

	_, err := e.Run(context.Background(), userInput(),
		[]Candidate{{Provider: p1}, {Provider: p2}}, ample(t))

	var f *Failure
	if !errors.As(err, &f) || f.Fatal {
		t.Fatalf("expected exhausted failure, got %v", err)
	}
	if f.Attempts != 3 {
		t.Fatalf("hard cap is 3 attempts without a research brief, got %d", f.Attempts)
	}
	if len(p1.reqs) != 2 || len(p2.reqs) != 1 {
		t.Fatalf("expected 2+1 attempts, got %d+%d", len(p1.reqs), len(p2.reqs))
	}
}

func TestRunAttemptCapWithBrief(t *testing.T) {
	transient := errors.New("connection reset")
	p1 := &scriptedProvider{model: "model-a", steps: []step{{err: transient}, {err: transient}, {err: transient}}}
	e := testExecutor(t, nil)

	in := userInput()
	in.HasResearchBrief = true
	_, err := e.Run(context.Background(), in, []Candidate{{Provider: p1}}, ample(t))

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected failure, got %v", err)
	}
	if f.Attempts != 2 {
		t.Fatalf("hard cap is 2 attempts with a research brief, got %d", f.Attempts)
	}
}

func TestRunUnsupportedParamFreeRetry(t *testing.T) {
	p := &scriptedProvider{model: "model-a", steps: []step{
		{err: unsupportedErr("reasoning_effort")},
		{resp: llm.Response{Text: "fine without it"}},
	}}
	e := testExecutor(t, nil)

	in := userInput()
	in.Tier = models.TierDeep
	res, err := e.Run(context.Background(), in,
		[]Candidate{{Provider: p, SupportsEffort: true, SupportsVerbosity: true}}, ample(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("unsupported-param retry must not count as an attempt, got %d", len(res.Attempts))
	}
	if len(p.reqs) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(p.reqs))
	}
	if p.reqs[0].ReasoningEffort == "" {
		t.Fatal("first call should carry reasoning effort")
	}
	if p.reqs[1].ReasoningEffort != "" {
		t.Fatal("retry must drop the rejected parameter")
	}
	if p.reqs[1].Verbosity == "" {
		t.Fatal("other supported parameters must survive the retry")
	}
}

func TestRunEmptyTriggersMinimalPrompt(t *testing.T) {
	p := &scriptedProvider{model: "model-a", steps: []step{
		{resp: llm.Response{Text: "   "}},
		{resp: llm.Response{Text: "minimal worked"}},
	}}
	e := testExecutor(t, nil)

	res, err := e.Run(context.Background(), userInput(), []Candidate{{Provider: p}}, ample(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text != "minimal worked" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Outcome != OutcomeEmpty {
		t.Fatalf("unexpected attempts: %+v", res.Attempts)
	}
	if res.Attempts[1].Variant != VariantMinimal {
		t.Fatal("retry after empty must use the minimal variant")
	}
	second := p.reqs[1]
	if len(second.History) != 1 || second.History[0].Content != "current question" {
		t.Fatalf("minimal prompt must carry only the last user turn: %+v", second.History)
	}
}

func TestRunTruncationEscalatesThenContinues(t *testing.T) {
	p := &scriptedProvider{model: "model-a", steps: []step{
		{resp: llm.Response{Text: "part one ", Truncated: true}},
		{resp: llm.Response{Text: "part two ", Truncated: true}},
		{resp: llm.Response{Text: "and the rest"}},
	}}
	e := testExecutor(t, func(c *config.CascadeConfig) {
		c.BaseMaxTokens = 1024
		c.MaxTokensCap = 2048
	})

	res, err := e.Run(context.Background(), userInput(), []Candidate{{Provider: p}}, ample(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(res.Attempts))
	}
	if p.reqs[0].MaxTokens != 1024 || p.reqs[1].MaxTokens != 2048 {
		t.Fatalf("token caps must escalate: %d then %d", p.reqs[0].MaxTokens, p.reqs[1].MaxTokens)
	}
	if !res.Continued {
		t.Fatal("continuation must be issued with ample budget")
	}
	if res.Text != "part two and the rest" {
		t.Fatalf("continuation text must be appended, got %q", res.Text)
	}
	if res.Truncated {
		t.Fatal("completed continuation resolves the truncation")
	}
	if len(p.reqs) != 3 {
		t.Fatalf("exactly one continuation call, got %d total calls", len(p.reqs))
	}
}

func TestRunContinuationSkippedWhenBudgetLow(t *testing.T) {
	p := &scriptedProvider{model: "model-a", steps: []step{
		{resp: llm.Response{Text: "partial", Truncated: true}},
	}}
	e := testExecutor(t, func(c *config.CascadeConfig) {
		c.BaseMaxTokens = 2048
		c.MaxTokensCap = 2048
		c.MinSlice = 50 * time.Millisecond
		c.ContinuationFloor = 10 * time.Second
	})

	bud := budget.New(time.Now().Add(5*time.Second), 0, zaptest.NewLogger(t))
	res, err := e.Run(context.Background(), userInput(), []Candidate{{Provider: p}}, bud)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Continued {
		t.Fatal("continuation must be skipped below its floor")
	}
	if !res.Truncated {
		t.Fatal("unresolved truncation must stay flagged")
	}
}

func TestRunNoBudgetNoAttempts(t *testing.T) {
	p := &scriptedProvider{model: "model-a", steps: []step{{resp: llm.Response{Text: "never"}}}}
	e := testExecutor(t, nil)

	bud := budget.New(time.Now().Add(10*time.Millisecond), 0, zaptest.NewLogger(t))
	_, err := e.Run(context.Background(), userInput(), []Candidate{{Provider: p}}, bud)

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected failure, got %v", err)
	}
	if f.Attempts != 0 || len(p.reqs) != 0 {
		t.Fatal("no attempt may start below the minimum slice")
	}
}
