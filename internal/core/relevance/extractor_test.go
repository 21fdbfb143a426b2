package relevance

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestExtract_IDResolutionOrder(t *testing.T) {
	body := strPtr("body")
	score := floatPtr(0.5)
	candidates := []Candidate{
		{ID: "explicit", Document: body, Score: score, Metadata: map[string]any{"id": "meta", "_id": "under"}},
		{Document: body, Score: score, Metadata: map[string]any{"id": "meta", "_id": "under", "doc_id": "docid"}},
		{Document: body, Score: score, Metadata: map[string]any{"_id": "under", "doc_id": "docid"}},
		{Document: body, Score: score, Metadata: map[string]any{"doc_id": 42.0}},
		{Document: body, Score: score, Metadata: map[string]any{"id": "  "}},
	}

	docs, report := Extract(candidates, ExtractOptions{})
	require.Len(t, docs, 5)
	assert.Zero(t, report.Skipped)

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"explicit", "meta", "under", "42", "doc_4"}, ids)
}

func TestExtract_SanitizesMetadata(t *testing.T) {
	docs, _ := Extract([]Candidate{{
		ID:       "a",
		Document: strPtr("x"),
		Score:    floatPtr(0.7),
		Metadata: map[string]any{
			"score":           0.7,
			"relevance_score": 0.9,
			"distance":        0.3,
			"_collection":     "internal",
			"_":               1,
			"source":          "whatsapp",
			"page":            3,
			"ok":              true,
			"nested":          map[string]any{"a": 1},
			"list":            []string{"a"},
			"nothing":         nil,
			"n":               json.Number("1.5"),
		},
	}}, ExtractOptions{})

	require.Len(t, docs, 1)
	assert.Equal(t, map[string]any{
		"source": "whatsapp",
		"page":   3,
		"ok":     true,
		"n":      json.Number("1.5"),
	}, docs[0].Metadata)
}

func TestExtract_SkipsMissingBody(t *testing.T) {
	docs, report := Extract([]Candidate{
		{ID: "a", Score: floatPtr(0.9)},
		{ID: "b", Document: strPtr(""), Score: floatPtr(0.8)},
	}, ExtractOptions{})

	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, 1, report.Skipped)
}

func TestExtract_ScoreFallbacks(t *testing.T) {
	docs, _ := Extract([]Candidate{
		{ID: "meta-score", Document: strPtr("x"), Metadata: map[string]any{"score": 0.4}},
		{ID: "relevance", Document: strPtr("x"), Metadata: map[string]any{"relevance_score": "0.6"}},
		{ID: "nan-then-meta", Document: strPtr("x"), Score: floatPtr(math.NaN()), Metadata: map[string]any{"score": 0.2}},
	}, ExtractOptions{})

	require.Len(t, docs, 3)
	assert.Equal(t, 0.4, docs[0].Score)
	assert.Equal(t, 0.6, docs[1].Score)
	assert.Equal(t, 0.2, docs[2].Score)
}

func TestExtract_MissingScorePolicies(t *testing.T) {
	candidates := []Candidate{
		{ID: "scored", Document: strPtr("x"), Score: floatPtr(0.5)},
		{ID: "unscored", Document: strPtr("y"), Score: floatPtr(math.Inf(1))},
	}

	docs, report := Extract(candidates, ExtractOptions{MissingScore: MissingScoreExclude})
	require.Len(t, docs, 1)
	assert.Equal(t, 1, report.Skipped)

	docs, report = Extract(candidates, ExtractOptions{MissingScore: MissingScorePassThrough})
	require.Len(t, docs, 2)
	assert.Equal(t, 1, report.Unscored)
	assert.True(t, docs[1].Unscored)
	assert.Equal(t, 0.0, docs[1].Score)
}

func TestExtract_DoesNotAliasMetadata(t *testing.T) {
	meta := map[string]any{"source": "a"}
	docs, _ := Extract([]Candidate{{ID: "a", Document: strPtr("x"), Score: floatPtr(1), Metadata: meta}}, ExtractOptions{})
	docs[0].Metadata["source"] = "changed"
	assert.Equal(t, "a", meta["source"])
}

func TestParseMissingScorePolicy(t *testing.T) {
	p, err := ParseMissingScorePolicy("")
	require.NoError(t, err)
	assert.Equal(t, MissingScoreExclude, p)

	_, err = ParseMissingScorePolicy("ignore")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
