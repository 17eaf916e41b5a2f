package models

import "time"

// Intent is the caller-declared purpose of a query.
type Intent string

const (
	IntentStudy    Intent = "study"
	IntentOracle   Intent = "oracle"
	IntentOpenChat Intent = "open_chat"
)

// AllowsWebAugmentation reports whether low retrieval confidence may
// trigger web research for this intent. Study mode stays on local
// materials; everything else may reach out.
func (i Intent) AllowsWebAugmentation() bool {
	return i != IntentStudy
}

// QualityTier selects the latency/quality tradeoff for generation.
type QualityTier string

const (
	TierFast     QualityTier = "fast"
	TierBalanced QualityTier = "balanced"
	TierDeep     QualityTier = "deep"
)

// Query is one user question. Immutable once received. Attachments are
// opaque references resolved by the ingestion collaborator; they never
// reach the provider boundary here.
type Query struct {
	RawText     string      `json:"raw_text"`
	Language    string      `json:"language,omitempty"`
	Intent      Intent      `json:"intent"`
	SourceID    string      `json:"source_id,omitempty"`
	TopicTags   []string    `json:"topic_tags,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
	Tier        QualityTier `json:"tier,omitempty"`
	Attachments []string    `json:"attachments,omitempty"`
}

// Origin tags where a knowledge item came from.
type Origin string

const (
	OriginSemantic   Origin = "semantic"
	OriginKeyword    Origin = "keyword"
	OriginCompendium Origin = "curated-compendium"
	OriginDiscussion Origin = "tagged-discussion"
)

// KnowledgeItem is one ranked excerpt assembled for a query. Produced
// fresh per request, never persisted.
type KnowledgeItem struct {
	SourceID string  `json:"source_id"`
	Title    string  `json:"title,omitempty"`
	Excerpt  string  `json:"excerpt"`
	Score    float64 `json:"score"`
	Origin   Origin  `json:"origin"`
}

// WebSource is one citation from a research finding.
type WebSource struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// ResearchFinding is the result of one successful web sub-query.
type ResearchFinding struct {
	Query    string      `json:"query"`
	KeyFacts []string    `json:"key_facts"`
	Sources  []WebSource `json:"sources"`
}

// ResearchBrief is the synthesized, citation-bearing summary of all
// findings. A nil brief is an expected outcome, not an error.
type ResearchBrief struct {
	Text    string      `json:"text"`
	Sources []WebSource `json:"sources"`
}

// Turn is one entry of conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provenance records what a response was built from. It is the primary
// observability surface and drives the automated tests.
type Provenance struct {
	UsedSemantic       bool          `json:"used_semantic"`
	UsedKeywordSources int           `json:"used_keyword_sources"`
	Catalogs           []string      `json:"catalogs,omitempty"`
	UsedWebResearch    bool          `json:"used_web_research"`
	WebSources         []WebSource   `json:"web_sources,omitempty"`
	RetrievalSkipped   bool          `json:"retrieval_skipped,omitempty"`
	ResearchSkipped    bool          `json:"research_skipped,omitempty"`
	Truncated          bool          `json:"truncated"`
	Continued          bool          `json:"continued"`
	ModelUsed          string        `json:"model_used"`
	Attempts           int           `json:"attempts"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Answer is the final externally visible artifact.
type Answer struct {
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
}
