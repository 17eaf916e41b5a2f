package assemble

import (
	"strings"
	"testing"
	"time"

	"github.com/lumenlab/oracle/internal/cascade"
	"github.com/lumenlab/oracle/internal/models"
	"github.com/lumenlab/oracle/internal/retrieval"
)

func TestBuildProvenance(t *testing.T) {
	in := Inputs{
		Retrieval: retrieval.Result{
			UsedSemantic:   true,
			KeywordSources: 2,
			Catalogs:       []string{"documents", "incidents"},
		},
		Generation: cascade.Result{
			Text:      "the answer",
			ModelUsed: "model-a",
			Attempts:  []cascade.Attempt{{Model: "model-a", Outcome: cascade.OutcomeSuccess}},
		},
		Elapsed: 3 * time.Second,
	}
	ans := Build(in)

	p := ans.Provenance
	if !p.UsedSemantic || p.UsedKeywordSources != 2 || p.UsedWebResearch {
		t.Fatalf("unexpected provenance: %+v", p)
	}
	if p.ModelUsed != "model-a" || p.Attempts != 1 || p.Elapsed != 3*time.Second {
		t.Fatalf("unexpected provenance: %+v", p)
	}
	if ans.Text != "the answer" {
		t.Fatalf("text must pass through unchanged, got %q", ans.Text)
	}
}

func TestBuildAppendsSourcesWhenMissing(t *testing.T) {
	brief := &models.ResearchBrief{
		Text:    "brief",
		Sources: []models.WebSource{{Title: "Ref", URL: "https://example.com/ref"}},
	}
	ans := Build(Inputs{
		Brief:      brief,
		Generation: cascade.Result{Text: "answer without citations"},
	})

	if !ans.Provenance.UsedWebResearch {
		t.Fatal("brief present must mark used_web_research")
	}
	if !strings.Contains(ans.Text, "Sources:") || !strings.Contains(ans.Text, "https://example.com/ref") {
		t.Fatalf("sources section missing: %q", ans.Text)
	}
	if len(ans.Provenance.WebSources) != 1 {
		t.Fatalf("web sources missing from provenance: %+v", ans.Provenance)
	}
}

func TestBuildKeepsModelCitations(t *testing.T) {
	brief := &models.ResearchBrief{
		Sources: []models.WebSource{{URL: "https://example.com/cited"}},
	}
	text := "answer citing https://example.com/cited already"
	ans := Build(Inputs{Brief: brief, Generation: cascade.Result{Text: text}})

	if ans.Text != text {
		t.Fatalf("text with citations must not be amended, got %q", ans.Text)
	}
}

func TestBuildTruncationFlags(t *testing.T) {
	ans := Build(Inputs{Generation: cascade.Result{Text: "x", Truncated: true, Continued: true}})
	if !ans.Provenance.Truncated || !ans.Provenance.Continued {
		t.Fatalf("flags must pass through: %+v", ans.Provenance)
	}

	resolved := Build(Inputs{Generation: cascade.Result{Text: "x", Truncated: false, Continued: true}})
	if resolved.Provenance.Truncated {
		t.Fatal("resolved continuation must clear the truncation flag")
	}
}

func TestBuildSkippedStages(t *testing.T) {
	ans := Build(Inputs{
		RetrievalSkipped: true,
		ResearchSkipped:  true,
		Generation:       cascade.Result{Text: "minimal answer"},
	})
	p := ans.Provenance
	if !p.RetrievalSkipped || !p.ResearchSkipped {
		t.Fatalf("skips must be recorded: %+v", p)
	}
	if p.UsedSemantic || p.UsedKeywordSources != 0 || p.UsedWebResearch {
		t.Fatalf("skipped stages must contribute nothing: %+v", p)
	}
}
