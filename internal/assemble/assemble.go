package assemble

import (
	"strings"
	"time"

	"github.com/lumenlab/oracle/internal/cascade"
	"github.com/lumenlab/oracle/internal/models"
	"github.com/lumenlab/oracle/internal/retrieval"
)

// Inputs carries the stage outputs. The assembler is a pure function of
// these values and performs no I/O.
type Inputs struct {
	Query            models.Query
	Retrieval        retrieval.Result
	RetrievalSkipped bool
	Brief            *models.ResearchBrief
	ResearchSkipped  bool
	Generation       cascade.Result
	Elapsed          time.Duration
}

// Build packages the final answer and its provenance record.
func Build(in Inputs) models.Answer {
	text := in.Generation.Text
	if in.Brief != nil && !mentionsAnySource(text, in.Brief.Sources) {
		text = appendSources(text, in.Brief.Sources)
	}

	prov := models.Provenance{
		UsedSemantic:       in.Retrieval.UsedSemantic,
		UsedKeywordSources: in.Retrieval.KeywordSources,
		Catalogs:           in.Retrieval.Catalogs,
		UsedWebResearch:    in.Brief != nil,
		RetrievalSkipped:   in.RetrievalSkipped,
		ResearchSkipped:    in.ResearchSkipped,
		Truncated:          in.Generation.Truncated,
		Continued:          in.Generation.Continued,
		ModelUsed:          in.Generation.ModelUsed,
		Attempts:           len(in.Generation.Attempts),
		Elapsed:            in.Elapsed,
	}
	if in.Brief != nil {
		prov.WebSources = in.Brief.Sources
	}
	return models.Answer{Text: text, Provenance: prov}
}

func mentionsAnySource(text string, sources []models.WebSource) bool {
	for _, s := range sources {
		if s.URL != "" && strings.Contains(text, s.URL) {
			return true
		}
	}
	return false
}

func appendSources(text string, sources []models.WebSource) string {
	if len(sources) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(text, "\n"))
	b.WriteString("\n\nSources:\n")
	for _, s := range sources {
		b.WriteString("- ")
		if s.Title != "" {
			b.WriteString(s.Title)
			b.WriteString(": ")
		}
		b.WriteString(s.URL)
		b.WriteString("\n")
	}
	return b.String()
}
