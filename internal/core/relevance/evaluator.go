package relevance

import (
	"math"
	"sort"
)

// Evaluate filters docs by the threshold derived from cfg and decides whether
// enough documents survived. The input slice is never modified.
func Evaluate(docs []ScoredDocument, cfg ThresholdConfig) (EvaluationResult, error) {
	if err := cfg.Validate(); err != nil {
		return EvaluationResult{}, err
	}

	res := EvaluationResult{
		Filtered:       []ScoredDocument{},
		TotalRetrieved: len(docs),
		Mode:           string(cfg.Mode),
	}
	if len(docs) == 0 {
		return res, nil
	}

	scores := make([]float64, 0, len(docs))
	for _, d := range docs {
		if !d.Unscored {
			scores = append(scores, d.Score)
		}
	}
	res.MaxScore = maxOf(scores)

	threshold := computeThreshold(scores, res.MaxScore, cfg)
	if cfg.AbsoluteFloor != nil {
		threshold = math.Max(threshold, *cfg.AbsoluteFloor)
	}
	res.ThresholdUsed = threshold

	minKept := math.Inf(1)
	for _, d := range docs {
		if d.Unscored {
			res.Filtered = append(res.Filtered, d)
			continue
		}
		if d.Score >= threshold {
			res.Filtered = append(res.Filtered, d)
			minKept = math.Min(minKept, d.Score)
		}
	}
	res.FilteredCount = len(res.Filtered)
	if !math.IsInf(minKept, 1) {
		res.MinScoreInFiltered = minKept
	}
	res.IsValid = res.FilteredCount >= cfg.MinDocuments
	return res, nil
}

func computeThreshold(scores []float64, maxScore float64, cfg ThresholdConfig) float64 {
	switch cfg.Mode {
	case ModeRelative:
		return maxScore * cfg.Value
	case ModePercentile:
		return Percentile(scores, cfg.Value)
	default:
		return cfg.Value
	}
}

// Percentile returns the p-th quantile (p in [0,1]) of scores using linear
// interpolation between closest ranks. With fewer than two scores it returns
// the single score, or 0 for none.
func Percentile(scores []float64, p float64) float64 {
	switch len(scores) {
	case 0:
		return 0
	case 1:
		return scores[0]
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func maxOf(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	m := scores[0]
	for _, s := range scores[1:] {
		if s > m {
			m = s
		}
	}
	return m
}
