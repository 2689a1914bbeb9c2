package mcp

import "github.com/Aman-CERP/kbcontext/internal/retrieval"

// Tool names.
const (
	ToolRetrieveContext = "retrieve_context"
	ToolRetrieveKeyword = "retrieve_keyword"
	ToolKBStatus        = "kb_status"
	ToolKBReload        = "kb_reload"
)

// RetrieveInput defines the input schema for the retrieval tools.
type RetrieveInput struct {
	Query string `json:"query" jsonschema:"natural-language question to find course content for"`
	K     *int   `json:"k,omitempty" jsonschema:"number of chunks to return, at least 1; defaults to the configured value"`
}

// RetrieveOutput is the structured result of a retrieval tool call.
type RetrieveOutput struct {
	Status         string           `json:"status" jsonschema:"ok, no_knowledge_base, query_too_short, invalid_k or no_results"`
	Strategy       string           `json:"strategy,omitempty" jsonschema:"vector or keyword"`
	FallbackReason string           `json:"fallback_reason,omitempty" jsonschema:"why semantic search was skipped"`
	Items          []retrieval.Item `json:"items" jsonschema:"retrieved chunks in rank order"`
	Generation     uint64           `json:"generation" jsonschema:"knowledge base generation that answered"`
}

// StatusInput defines the input schema for kb_status (no parameters).
type StatusInput struct{}

// StatusOutput defines the output schema for kb_status.
type StatusOutput struct {
	KB        KBStatus        `json:"kb"`
	Embedder  EmbedderStatus  `json:"embedder"`
	Retrieval RetrievalConfig `json:"retrieval"`
}

// KBStatus describes the loaded knowledge base.
type KBStatus struct {
	State      string `json:"state" jsonschema:"ready, degraded or unavailable"`
	Reason     string `json:"reason,omitempty"`
	Chunks     int    `json:"chunks"`
	Vectors    int    `json:"vectors"`
	Dimensions int    `json:"dimensions"`
	Backend    string `json:"backend"`
	Keyword    string `json:"keyword_mode"`
	Model      string `json:"model,omitempty"`
	Generation uint64 `json:"generation"`
	LoadedAt   string `json:"loaded_at,omitempty"`
	Malformed  int    `json:"malformed_records"`
}

// EmbedderStatus describes the query embedder.
type EmbedderStatus struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Circuit    string `json:"circuit,omitempty" jsonschema:"closed, open or half-open"`
}

// RetrievalConfig echoes the retrieval settings in effect.
type RetrievalConfig struct {
	DefaultK       int `json:"default_k"`
	MinQueryLength int `json:"min_query_length"`
}

// ReloadInput defines the input schema for kb_reload (no parameters).
type ReloadInput struct{}
