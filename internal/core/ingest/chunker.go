package ingest

import (
	"strings"
)

type Chunk struct {
	Index   int
	Page    int
	Content string
}

// BuildChunks makes ~token-sized chunks with overlap from page texts.
// Token approximation: ~4 chars per token. Pages are numbered from 1.
func BuildChunks(pages []string, targetTokens int, overlapTokens int) []Chunk {
	if targetTokens <= 0 {
		targetTokens = 600
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	targetChars := targetTokens * 4
	overlapChars := overlapTokens * 4

	chunks := make([]Chunk, 0, len(pages))
	idx := 0
	for pageIdx, page := range pages {
		text := strings.TrimSpace(page)
		if text == "" {
			continue
		}
		runes := []rune(text)
		for start := 0; start < len(runes); {
			end := start + targetChars
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, Chunk{
				Index:   idx,
				Page:    pageIdx + 1,
				Content: strings.TrimSpace(string(runes[start:end])),
			})
			idx++
			if end == len(runes) {
				break
			}
			next := end - overlapChars
			if next <= start {
				next = end
			}
			start = next
		}
	}
	return chunks
}
