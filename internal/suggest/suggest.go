// Package suggest holds the result type shared by the retrieval, ranking
// and orchestration layers.
package suggest

import "github.com/chatbi-labs/queryassist/internal/tokenize"

// Suggestion sources. A suggestion carries the label of the strongest
// signal that produced it.
const (
	SourceKeyword         = "keyword"
	SourceVector          = "vector"
	SourceHybrid          = "hybrid"
	SourcePersonalized    = "personalized"
	SourceHistory         = "history"
	SourceSequenceNext    = "sequence_next"
	SourceSequencePrev    = "sequence_prev"
	SourceLLM             = "llm"
	SourcePrefixPreserved = "prefix_preserved"
)

// Suggestion is one ranked completion or related query.
type Suggestion struct {
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DedupKey normalizes text for duplicate detection: case-insensitive,
// whitespace-collapsed.
func DedupKey(text string) string {
	return tokenize.NormalizeText(text)
}
