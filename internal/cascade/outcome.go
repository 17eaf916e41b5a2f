package cascade

import (
	"strings"

	"github.com/lumenlab/oracle/internal/llm"
)

// Outcome classifies one generation attempt. A single dispatch in the
// executor consumes it; nothing else branches on provider error shapes.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeEmpty
	OutcomeTruncated
	OutcomeTransient
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeTruncated:
		return "truncated"
	case OutcomeTransient:
		return "transient_error"
	case OutcomeFatal:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// classify folds a provider response and error into one Outcome. The
// unsupported-parameter case is handled before this point because it is a
// free retry, not an attempt outcome.
func classify(resp llm.Response, err error) Outcome {
	if err != nil {
		class, _ := llm.Classify(err)
		if class == llm.ClassFatal {
			return OutcomeFatal
		}
		return OutcomeTransient
	}
	if strings.TrimSpace(resp.Text) == "" {
		return OutcomeEmpty
	}
	if resp.Truncated {
		return OutcomeTruncated
	}
	return OutcomeSuccess
}

// PromptVariant names which prompt shape an attempt used.
type PromptVariant string

const (
	VariantFull    PromptVariant = "full"
	VariantMinimal PromptVariant = "minimal"
)

// Attempt is one entry of the per-request attempt history, kept for
// provenance and logging.
type Attempt struct {
	Model     string
	Variant   PromptVariant
	MaxTokens int
	Outcome   Outcome
	Err       string
}
