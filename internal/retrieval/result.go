package retrieval

import (
	"fmt"
	"strings"
	"time"
)

// Status classifies a retrieval outcome.
type Status string

const (
	StatusOK              Status = "ok"
	StatusNoKnowledgeBase Status = "no_knowledge_base"
	StatusQueryTooShort   Status = "query_too_short"
	StatusInvalidK        Status = "invalid_k"
	StatusNoResults       Status = "no_results"
)

// Messages returned in place of context blocks.
const (
	MsgNoKnowledgeBase = "No knowledge base available."
	MsgQueryTooShort   = "Query text too short for retrieval."
	MsgNoResults       = "No relevant context found in knowledge base."
)

// Item is one chunk in a result.
type Item struct {
	Rank    int      `json:"rank"`
	ChunkID int      `json:"chunk_id"`
	Course  string   `json:"course"`
	Topics  []string `json:"topics"`
	Text    string   `json:"text"`

	// Score is the similarity recomputed from the stored vectors. It is only
	// set for vector results.
	Score float64 `json:"score,omitempty"`
	// RankScore is the score the index ranked by.
	RankScore float64 `json:"rank_score,omitempty"`
	// Overlap counts shared query words for keyword results.
	Overlap int `json:"overlap,omitempty"`
	// BM25 is the keyword score when the bm25 mode ranked the item.
	BM25 float64 `json:"bm25,omitempty"`
}

// Result is the structured outcome of a retrieval.
type Result struct {
	Status Status `json:"status"`
	Query  string `json:"query"`
	K      int    `json:"k"`
	// Strategy is "vector" or "keyword"; empty when no search ran.
	Strategy string `json:"strategy,omitempty"`
	// FallbackReason explains why keyword search replaced the vector path.
	FallbackReason string `json:"fallback_reason,omitempty"`
	// KeywordMode is the keyword searcher that ran ("scan" or "bm25").
	KeywordMode string `json:"keyword_mode,omitempty"`
	// Unfiltered is set when no chunk matched and the first k were returned.
	Unfiltered bool   `json:"unfiltered,omitempty"`
	Items      []Item `json:"items"`
	// ScoreDrift is the largest gap between Score and RankScore.
	ScoreDrift float64       `json:"score_drift,omitempty"`
	Generation uint64        `json:"generation"`
	Duration   time.Duration `json:"duration_ns"`
}

// Message returns the fixed text for a non-OK status.
func (r Result) Message() string {
	switch r.Status {
	case StatusNoKnowledgeBase:
		return MsgNoKnowledgeBase
	case StatusQueryTooShort:
		return MsgQueryTooShort
	case StatusInvalidK:
		return fmt.Sprintf("Invalid result count %d: k must be at least 1.", r.K)
	case StatusNoResults:
		return MsgNoResults
	default:
		return ""
	}
}

// Format renders r as a context block for a language model prompt.
func Format(r Result) string {
	if r.Status != StatusOK {
		return r.Message()
	}

	var parts []string
	if r.Strategy != StrategyVector && r.FallbackReason != "" {
		parts = append(parts, fmt.Sprintf("_Semantic search unavailable (%s); showing keyword matches._", r.FallbackReason), "")
	}
	for _, it := range r.Items {
		heading := fmt.Sprintf("### Content %d", it.Rank)
		if r.Strategy == StrategyVector {
			heading = fmt.Sprintf("### Relevant Content %d (Score: %.3f)", it.Rank, it.Score)
		}
		parts = append(parts,
			heading,
			"**Course**: "+it.Course,
			"**Topics**: "+strings.Join(it.Topics, ", "),
			"**Content**: "+it.Text,
			"")
	}
	return strings.Join(parts, "\n")
}
