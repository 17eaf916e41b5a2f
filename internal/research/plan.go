package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lumenlab/oracle/internal/budget"
	"github.com/lumenlab/oracle/internal/llm"
	"github.com/lumenlab/oracle/internal/models"
)

const planSystemPrompt = `You expand a user question into short web search queries.
Return between 2 and 5 queries, one per line, no numbering, no commentary.`

// plan asks a lightweight model for sub-queries and falls back to the
// deterministic heuristic expansion on any failure or timeout.
func (p *Planner) plan(ctx context.Context, q models.Query, bud *budget.Tracker) []string {
	if p.planLLM != nil {
		pctx, cancel, err := bud.StageContext(ctx, "research_plan", p.cfg.PlanTimeout, 0)
		if err == nil {
			defer cancel()
			text, lerr := llm.TextCompletion(pctx, p.planLLM, planSystemPrompt, q.RawText, 200)
			if lerr == nil {
				if queries := parseSubqueries(text, p.cfg.MaxSubqueries); len(queries) >= 2 {
					return queries
				}
			} else {
				p.logger.Debug("subquery planning failed, using heuristics", zap.Error(lerr))
			}
		}
	}
	return heuristicSubqueries(q, p.cfg.MaxSubqueries)
}

// parseSubqueries extracts usable queries from model output, one per line.
func parseSubqueries(text string, maxQueries int) []string {
	var out []string
	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		line = strings.Trim(line, `"`)
		if line == "" || len(line) > 200 {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if len(out) >= maxQueries {
			break
		}
	}
	return out
}

var versionTopicRe = regexp.MustCompile(`(?i)\b(version|release|changelog|pricing|price|deprecat\w*)\b`)

// heuristicSubqueries is the deterministic expansion used when planning is
// unavailable: the question itself, an official-sources variant, and
// topic-specific qualifiers detected by regex.
func heuristicSubqueries(q models.Query, maxQueries int) []string {
	base := strings.TrimSpace(q.RawText)
	out := []string{base, base + " official sources"}
	if versionTopicRe.MatchString(base) {
		out = append(out, base+" latest release notes")
	}
	for _, tag := range q.TopicTags {
		out = append(out, fmt.Sprintf("%s %s", base, tag))
	}
	if len(out) > maxQueries {
		out = out[:maxQueries]
	}
	return out
}
