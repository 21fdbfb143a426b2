package retriever

import (
	"fmt"
	"sort"
	"strings"

	"chroma-rag/internal/core/relevance"
)

// FormatContext renders kept documents as numbered blocks for a prompt.
func FormatContext(docs []relevance.ScoredDocument) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(docs))
	for i, d := range docs {
		var b strings.Builder
		fmt.Fprintf(&b, "[Documento %d] (Relevancia: %.4f)\n%s", i+1, d.Score, d.Document)
		if len(d.Metadata) > 0 {
			keys := make([]string, 0, len(d.Metadata))
			for k := range d.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, len(keys))
			for j, k := range keys {
				pairs[j] = fmt.Sprintf("%s: %v", k, d.Metadata[k])
			}
			b.WriteString("\nMetadatos: ")
			b.WriteString(strings.Join(pairs, ", "))
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

// Answer is the user facing message for an evaluation. An invalid result never
// reads as a success.
func Answer(eval relevance.EvaluationResult, context string) string {
	if !eval.IsValid {
		return fmt.Sprintf("No encontré información suficientemente relevante para tu consulta. "+
			"Los documentos encontrados no alcanzaron el umbral de similitud requerido (umbral usado: %.4f).", eval.ThresholdUsed)
	}
	return fmt.Sprintf("Contexto recuperado (%d documentos):\n\n%s", eval.FilteredCount, context)
}
