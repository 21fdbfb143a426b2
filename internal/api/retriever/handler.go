package retriever

import (
	"context"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/api/common"
	"chroma-rag/internal/core/relevance"
	"chroma-rag/internal/core/retriever"
	"chroma-rag/internal/database"
	"chroma-rag/internal/services/audit"
	"chroma-rag/pkg/apperror"

	"github.com/gofiber/fiber/v3"
)

type Handler struct {
	ret     *retriever.Retriever
	audit   audit.Recorder
	cfg     config.RetrieverConfig
	timeout time.Duration
}

func NewHandler(ret *retriever.Retriever, rec audit.Recorder, cfg config.RetrieverConfig) *Handler {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Handler{ret: ret, audit: rec, cfg: cfg, timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
}

// thresholdFields are the evaluation knobs shared by both endpoints.
type thresholdFields struct {
	ThresholdMode  string   `json:"threshold_mode"`
	ThresholdValue *float64 `json:"threshold_value"`
	AbsoluteFloor  *float64 `json:"absolute_floor"`
	MinDocuments   *int     `json:"min_documents" validate:"omitempty,gte=0"`
	MissingScore   string   `json:"missing_score"`
}

type mmrRequest struct {
	Query      string         `json:"query" validate:"required"`
	K          int            `json:"k" validate:"gte=0,lte=100"`
	FetchK     int            `json:"fetch_k" validate:"gte=0,lte=500"`
	LambdaMult *float64       `json:"lambda_mult"`
	Filters    map[string]any `json:"filters"`
	MinScore   *float64       `json:"min_score"`
	thresholdFields
}

type retrieveRequest struct {
	Query    string         `json:"query" validate:"required"`
	K        int            `json:"k" validate:"gte=0,lte=100"`
	Strategy string         `json:"strategy"`
	UseCase  string         `json:"use_case"`
	Filters  map[string]any `json:"filters"`
	thresholdFields
}

type evaluationSummary struct {
	TotalRetrieved     int     `json:"total_retrieved"`
	FilteredCount      int     `json:"filtered_count"`
	MaxScore           float64 `json:"max_score"`
	MinScoreInFiltered float64 `json:"min_score"`
	ThresholdUsed      float64 `json:"threshold_used"`
	IsValid            bool    `json:"is_valid"`
	Mode               string  `json:"mode"`
}

type mmrResponse struct {
	Collection string                     `json:"collection"`
	Query      string                     `json:"query"`
	Results    []relevance.ScoredDocument `json:"results"`
	Count      int                        `json:"count"`
	SearchType string                     `json:"search_type"`
	MinScore   float64                    `json:"min_score"`
	Evaluation evaluationSummary          `json:"evaluation"`
}

type retrieveResponse struct {
	Collection string                     `json:"collection"`
	Query      string                     `json:"query"`
	Strategy   retriever.Strategy         `json:"strategy"`
	Results    []relevance.ScoredDocument `json:"results"`
	Count      int                        `json:"count"`
	Evaluation evaluationSummary          `json:"evaluation"`
	Extraction relevance.ExtractReport    `json:"extraction"`
	TopScores  []float64                  `json:"top_scores"`
	Context    string                     `json:"context"`
	Answer     string                     `json:"answer"`
}

// MMR runs one pass with explicit k, fetch_k and lambda_mult. Without a
// threshold_mode the legacy min_score acts as an absolute threshold.
func (h *Handler) MMR(c fiber.Ctx) error {
	var req mmrRequest
	if ok, err := common.BindJSON(config.ModuleRetriever, c, &req); !ok {
		return err
	}

	params := h.ret.DefaultParams()
	if req.K > 0 {
		params.K = req.K
	}
	if req.FetchK > 0 {
		params.FetchK = req.FetchK
	}
	if req.LambdaMult != nil {
		params.LambdaMult = *req.LambdaMult
	}
	params.Filters = req.Filters

	minScore := h.cfg.MinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	fields := req.thresholdFields
	if fields.ThresholdMode == "" {
		fields.ThresholdMode = string(relevance.ModeAbsolute)
		if fields.ThresholdValue == nil {
			fields.ThresholdValue = &minScore
		}
	}
	threshold, missing, err := h.threshold(fields)
	if err != nil {
		return common.RetrievalError(config.ModuleRetriever, c, err)
	}

	name := c.Params("name")
	out, err := h.run(c, retriever.Request{
		Collection:   name,
		Query:        req.Query,
		Strategy:     retriever.StrategyMMR,
		Params:       params,
		Threshold:    threshold,
		MissingScore: missing,
	})
	if err != nil {
		return common.RetrievalError(config.ModuleRetriever, c, err)
	}

	return apperror.Success(config.ModuleRetriever, c, "mmr search ok", mmrResponse{
		Collection: name,
		Query:      req.Query,
		Results:    out.Evaluation.Filtered,
		Count:      out.Evaluation.FilteredCount,
		SearchType: "mmr",
		MinScore:   minScore,
		Evaluation: summarize(out.Evaluation),
	})
}

// Retrieve runs a strategy (or the one a use case maps to) and returns the
// evaluated results with a prompt-ready context.
func (h *Handler) Retrieve(c fiber.Ctx) error {
	var req retrieveRequest
	if ok, err := common.BindJSON(config.ModuleRetriever, c, &req); !ok {
		return err
	}
	strategy, err := retriever.ParseStrategy(req.Strategy)
	if err != nil {
		return common.RetrievalError(config.ModuleRetriever, c, err)
	}
	threshold, missing, err := h.threshold(req.thresholdFields)
	if err != nil {
		return common.RetrievalError(config.ModuleRetriever, c, err)
	}

	params := h.ret.DefaultParams()
	if req.K > 0 {
		params.K = req.K
	}
	params.Filters = req.Filters

	name := c.Params("name")
	out, err := h.run(c, retriever.Request{
		Collection:   name,
		Query:        req.Query,
		Strategy:     strategy,
		UseCase:      retriever.UseCase(req.UseCase),
		Params:       params,
		Threshold:    threshold,
		MissingScore: missing,
	})
	if err != nil {
		return common.RetrievalError(config.ModuleRetriever, c, err)
	}

	h.audit.RecordRetrieval(c.Context(), database.RetrievalLog{
		Collection:    name,
		Query:         req.Query,
		Strategy:      string(out.Strategy),
		Mode:          out.Evaluation.Mode,
		ThresholdUsed: out.Evaluation.ThresholdUsed,
		MaxScore:      out.Evaluation.MaxScore,
		Retrieved:     out.Evaluation.TotalRetrieved,
		Kept:          out.Evaluation.FilteredCount,
		Valid:         out.Evaluation.IsValid,
		TrackingID:    apperror.TrackingID(c),
	})

	return apperror.Success(config.ModuleRetriever, c, "retrieval ok", retrieveResponse{
		Collection: name,
		Query:      req.Query,
		Strategy:   out.Strategy,
		Results:    out.Evaluation.Filtered,
		Count:      out.Evaluation.FilteredCount,
		Evaluation: summarize(out.Evaluation),
		Extraction: out.Extraction,
		TopScores:  out.TopScores,
		Context:    out.Context,
		Answer:     out.Answer,
	})
}

func (h *Handler) run(c fiber.Ctx, req retriever.Request) (retriever.Outcome, error) {
	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	defer cancel()
	return h.ret.Retrieve(ctx, req)
}

// threshold overlays the request fields on the configured policy.
func (h *Handler) threshold(f thresholdFields) (relevance.ThresholdConfig, relevance.MissingScorePolicy, error) {
	t := h.ret.DefaultThreshold()
	if f.ThresholdMode != "" {
		mode, err := relevance.ParseMode(f.ThresholdMode)
		if err != nil {
			return t, "", err
		}
		if mode != t.Mode && f.ThresholdValue == nil && mode == relevance.ModeAbsolute {
			// the configured value belongs to another mode
			v := h.cfg.MinScore
			f.ThresholdValue = &v
		}
		t.Mode = mode
	}
	if f.ThresholdValue != nil {
		t.Value = *f.ThresholdValue
	}
	if f.AbsoluteFloor != nil {
		t.AbsoluteFloor = f.AbsoluteFloor
	}
	if f.MinDocuments != nil {
		t.MinDocuments = *f.MinDocuments
	}
	missing, err := relevance.ParseMissingScorePolicy(f.MissingScore)
	if err != nil {
		return t, "", err
	}
	if f.MissingScore == "" {
		missing = h.ret.DefaultMissingScore()
	}
	return t, missing, nil
}

func summarize(e relevance.EvaluationResult) evaluationSummary {
	return evaluationSummary{
		TotalRetrieved:     e.TotalRetrieved,
		FilteredCount:      e.FilteredCount,
		MaxScore:           e.MaxScore,
		MinScoreInFiltered: e.MinScoreInFiltered,
		ThresholdUsed:      e.ThresholdUsed,
		IsValid:            e.IsValid,
		Mode:               e.Mode,
	}
}
