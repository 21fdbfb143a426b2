package relevance

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// idKeys are tried in order when a candidate carries no explicit ID.
var idKeys = []string{"id", "_id", "doc_id"}

// scoreKeys are metadata fields some retrievers use to smuggle the score.
var scoreKeys = []string{"score", "relevance_score"}

// reservedKeys never reach the caller.
var reservedKeys = map[string]struct{}{
	"score":           {},
	"relevance_score": {},
	"distance":        {},
}

// Extract normalizes retriever output into ScoredDocuments.
// Candidates without a document body are skipped. Unscored candidates are
// dropped or kept according to opts.MissingScore.
func Extract(candidates []Candidate, opts ExtractOptions) ([]ScoredDocument, ExtractReport) {
	var report ExtractReport
	out := make([]ScoredDocument, 0, len(candidates))
	for i, c := range candidates {
		if c.Document == nil {
			report.Skipped++
			continue
		}
		score, ok := resolveScore(c)
		if !ok {
			if opts.MissingScore != MissingScorePassThrough {
				report.Skipped++
				continue
			}
			report.Unscored++
		}
		out = append(out, ScoredDocument{
			ID:       resolveID(c, i),
			Document: *c.Document,
			Score:    score,
			Metadata: SanitizeMetadata(c.Metadata),
			Unscored: !ok,
		})
	}
	return out, report
}

func resolveID(c Candidate, index int) string {
	if id := strings.TrimSpace(c.ID); id != "" {
		return id
	}
	for _, k := range idKeys {
		if v, ok := c.Metadata[k]; ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("doc_%d", index)
}

func resolveScore(c Candidate) (float64, bool) {
	if c.Score != nil && isFinite(*c.Score) {
		return *c.Score, true
	}
	for _, k := range scoreKeys {
		if f, ok := toFloat(c.Metadata[k]); ok && isFinite(f) {
			return f, true
		}
	}
	return 0, false
}

// SanitizeMetadata strips retriever-internal keys and non-scalar values.
func SanitizeMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, reserved := reservedKeys[k]; reserved || strings.HasPrefix(k, "_") {
			continue
		}
		if !isScalar(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func isScalar(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(json.Number); ok {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int32, int64:
		return fmt.Sprintf("%d", t)
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
