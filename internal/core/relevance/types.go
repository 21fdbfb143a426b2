package relevance

// Mode selects how the evaluator derives its cutoff from a batch of scores.
type Mode string

const (
	ModeAbsolute   Mode = "absolute"
	ModeRelative   Mode = "relative"
	ModePercentile Mode = "percentile"
)

// MissingScorePolicy decides what happens to candidates without a usable score.
type MissingScorePolicy string

const (
	// MissingScoreExclude drops unscored candidates during extraction.
	MissingScoreExclude MissingScorePolicy = "exclude"
	// MissingScorePassThrough keeps them and lets them bypass the threshold.
	MissingScorePassThrough MissingScorePolicy = "passthrough"
)

// Candidate is a raw record as returned by a retriever.
// Document is nil when the retriever did not return a body.
type Candidate struct {
	ID       string
	Document *string
	Metadata map[string]any
	Score    *float64
}

// ScoredDocument is a normalized retrieval hit. Score is a similarity, higher is better.
type ScoredDocument struct {
	ID       string         `json:"id"`
	Document string         `json:"document"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
	// Unscored marks documents kept under MissingScorePassThrough.
	Unscored bool `json:"unscored,omitempty"`
}

// ThresholdConfig is the caller-chosen filtering policy.
type ThresholdConfig struct {
	Mode          Mode     `json:"threshold_mode"`
	Value         float64  `json:"threshold_value"`
	AbsoluteFloor *float64 `json:"absolute_floor,omitempty"`
	MinDocuments  int      `json:"min_documents"`
}

// EvaluationResult is the outcome of Evaluate.
type EvaluationResult struct {
	Filtered           []ScoredDocument `json:"results"`
	TotalRetrieved     int              `json:"total_retrieved"`
	FilteredCount      int              `json:"count"`
	MaxScore           float64          `json:"max_score"`
	MinScoreInFiltered float64          `json:"min_score"`
	ThresholdUsed      float64          `json:"threshold_used"`
	IsValid            bool             `json:"is_valid"`
	Mode               string           `json:"mode"`
}

// ExtractOptions tunes Extract.
type ExtractOptions struct {
	MissingScore MissingScorePolicy
}

// ExtractReport counts what Extract dropped or flagged.
type ExtractReport struct {
	Skipped  int `json:"skipped"`
	Unscored int `json:"unscored"`
}
