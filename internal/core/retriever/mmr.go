package retriever

import (
	"math"

	"chroma-rag/internal/vectorstore"
)

// SelectMMR picks up to k candidates by maximal marginal relevance.
// Each step maximizes lambda*relevance - (1-lambda)*redundancy, where relevance is
// the cosine similarity to the query and redundancy the highest cosine similarity
// to an already selected candidate. The first pick is always the most relevant.
// Candidates without embeddings fall back to the store similarity and count as
// non-redundant. When an embedding is present the returned Similarity is its
// cosine to the query, whatever distance space the store ranked with.
func SelectMMR(query []float32, candidates []vectorstore.Match, k int, lambda float64) []vectorstore.Match {
	if k <= 0 || len(candidates) == 0 {
		return []vectorstore.Match{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	rel := make([]float64, len(candidates))
	embedded := make([]bool, len(candidates))
	for i, c := range candidates {
		rel[i], embedded[i] = relevanceOf(query, c)
	}

	selected := make([]int, 0, k)
	used := make([]bool, len(candidates))
	redundancy := make([]float64, len(candidates))
	for i := range redundancy {
		redundancy[i] = math.Inf(-1)
	}

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if used[i] {
				continue
			}
			score := rel[i]
			if len(selected) > 0 {
				red := redundancy[i]
				if math.IsInf(red, -1) {
					red = 0
				}
				score = lambda*rel[i] - (1-lambda)*red
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		selected = append(selected, best)
		for i := range candidates {
			if used[i] {
				continue
			}
			if s, ok := pairSimilarity(candidates[i].Embedding, candidates[best].Embedding); ok && s > redundancy[i] {
				redundancy[i] = s
			}
		}
	}

	out := make([]vectorstore.Match, 0, len(selected))
	for _, i := range selected {
		m := candidates[i]
		if embedded[i] {
			s := rel[i]
			m.Similarity = &s
		}
		m.Embedding = nil
		out = append(out, m)
	}
	return out
}

// relevanceOf reports the cosine to the query and true when m carries a
// comparable embedding, otherwise the store similarity.
func relevanceOf(query []float32, m vectorstore.Match) (float64, bool) {
	if s, ok := pairSimilarity(query, m.Embedding); ok {
		return s, true
	}
	if m.Similarity != nil {
		return *m.Similarity, false
	}
	return 0, false
}

func pairSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	return Cosine(a, b), true
}

// Cosine returns the cosine similarity of two equal length vectors, 0 for zero vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
