package pipeline

// QueryRequest is the Query API request body (spec §6.1).
type QueryRequest struct {
	Query                string   `json:"query"`
	TopK                 int      `json:"top_k,omitempty"`
	UseMultiAgent        bool     `json:"use_multi_agent,omitempty"`
	EnableVerification   *bool    `json:"enable_verification,omitempty"`
	EnableFuzzyCache     *bool    `json:"enable_fuzzy_cache,omitempty"`
	ConfidenceThreshold  *float32 `json:"confidence_threshold,omitempty"`
	FuzzyThreshold       *float32 `json:"fuzzy_threshold,omitempty"`
}

// withDefaults fills in the documented request defaults for any field the
// caller left unset.
func (r QueryRequest) withDefaults(cfg requestDefaults) resolvedRequest {
	topK := r.TopK
	if topK <= 0 {
		topK = cfg.topK
	}
	enableVerification := cfg.enableVerification
	if r.EnableVerification != nil {
		enableVerification = *r.EnableVerification
	}
	enableFuzzyCache := cfg.enableFuzzyCache
	if r.EnableFuzzyCache != nil {
		enableFuzzyCache = *r.EnableFuzzyCache
	}
	confidenceThreshold := cfg.confidenceThreshold
	if r.ConfidenceThreshold != nil {
		confidenceThreshold = *r.ConfidenceThreshold
	}
	fuzzyThreshold := cfg.fuzzyThreshold
	if r.FuzzyThreshold != nil {
		fuzzyThreshold = *r.FuzzyThreshold
	}
	return resolvedRequest{
		Query:               r.Query,
		TopK:                topK,
		UseMultiAgent:       r.UseMultiAgent,
		EnableVerification:  enableVerification,
		EnableFuzzyCache:    enableFuzzyCache,
		ConfidenceThreshold: confidenceThreshold,
		FuzzyThreshold:      fuzzyThreshold,
	}
}

type requestDefaults struct {
	topK                int
	enableVerification  bool
	enableFuzzyCache    bool
	confidenceThreshold float32
	fuzzyThreshold      float32
}

type resolvedRequest struct {
	Query               string
	TopK                int
	UseMultiAgent       bool
	EnableVerification  bool
	EnableFuzzyCache    bool
	ConfidenceThreshold float32
	FuzzyThreshold      float32
}

// ResponseCitation is one entry in QueryResponse.Citations.
type ResponseCitation struct {
	DocID   string  `json:"doc_id"`
	ChunkID int     `json:"chunk_id"`
	Score   float32 `json:"score"`
}

// VerificationInfo reports whether the winning solver's citations survived
// verification against the retrieved passages.
type VerificationInfo struct {
	Verified bool   `json:"verified"`
	Details  string `json:"details,omitempty"`
}

// QueryResponse is the Query API response body (spec §6.1).
type QueryResponse struct {
	Answer       string             `json:"answer"`
	Citations    []ResponseCitation `json:"citations"`
	Confidence   float32            `json:"confidence"`
	LatencyMs    int64              `json:"latency_ms"`
	FromCache    bool               `json:"from_cache"`
	Coalesced    bool               `json:"coalesced,omitempty"`
	MatchType    string             `json:"match_type,omitempty"`
	Similarity   float32            `json:"similarity,omitempty"`
	Verification *VerificationInfo  `json:"verification,omitempty"`
}

// IndexRequest is the Index API request body (spec §6.2).
type IndexRequest struct {
	DocID    string            `json:"doc_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IndexResponse is the Index API response body (spec §6.2).
type IndexResponse struct {
	OK     bool   `json:"ok"`
	DocID  string `json:"doc_id"`
	Chunks int    `json:"chunks"`
}
