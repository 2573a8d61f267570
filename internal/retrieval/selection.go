package retrieval

import (
	"encoding/json"
	"sort"
)

// BudgetOverhead is reserved from a token budget for the context preamble and
// response headroom.
const BudgetOverhead = 500

// EstimateTokens approximates token count as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ChunkTokens estimates the cost of a chunk as it is serialized for the
// context: its text plus citation metadata.
func ChunkTokens(c ScoredChunk) int {
	b, err := json.Marshal(struct {
		Content  string   `json:"content"`
		Metadata Metadata `json:"metadata"`
	}{c.Content, c.Metadata})
	if err != nil {
		return EstimateTokens(c.Content)
	}
	return EstimateTokens(string(b))
}

// CapPerDocument keeps at most perDoc chunks from each source document,
// preserving order. perDoc <= 0 disables the cap.
func CapPerDocument(chunks []ScoredChunk, perDoc int) []ScoredChunk {
	if perDoc <= 0 {
		return chunks
	}
	counts := make(map[string]int)
	out := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		doc := documentKey(c)
		if counts[doc] >= perDoc {
			continue
		}
		counts[doc]++
		out = append(out, c)
	}
	return out
}

// SelectWithinBudget picks chunks whose ChunkTokens fit in target minus
// BudgetOverhead. The first pass takes the best chunk of every document, the
// second fills the remainder in score order. When nothing fits, the top
// chunk is returned alone. Input must be sorted by fused score.
func SelectWithinBudget(chunks []ScoredChunk, target int) []ScoredChunk {
	if len(chunks) == 0 {
		return nil
	}
	remaining := target - BudgetOverhead
	picked := make([]bool, len(chunks))
	seenDoc := make(map[string]bool)
	cost := make([]int, len(chunks))
	for i, c := range chunks {
		cost[i] = ChunkTokens(c)
	}

	take := func(i int) {
		picked[i] = true
		remaining -= cost[i]
	}

	for i, c := range chunks {
		doc := documentKey(c)
		if seenDoc[doc] {
			continue
		}
		seenDoc[doc] = true
		if cost[i] <= remaining {
			take(i)
		}
	}
	for i := range chunks {
		if !picked[i] && cost[i] <= remaining {
			take(i)
		}
	}

	var out []ScoredChunk
	for i, c := range chunks {
		if picked[i] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return chunks[:1]
	}
	return out
}

// FilterByThreshold keeps chunks whose vector similarity exceeds threshold.
func FilterByThreshold(chunks []ScoredChunk, threshold float64) []ScoredChunk {
	out := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.VectorScore > threshold {
			out = append(out, c)
		}
	}
	return out
}

// YearRange returns the earliest and latest known publication year.
// Both are zero when no chunk carries a year.
func YearRange(chunks []ScoredChunk) (minYear, maxYear int) {
	years := make([]int, 0, len(chunks))
	for _, c := range chunks {
		if c.Metadata.Year > 0 {
			years = append(years, c.Metadata.Year)
		}
	}
	if len(years) == 0 {
		return 0, 0
	}
	sort.Ints(years)
	return years[0], years[len(years)-1]
}

// documentKey groups chunks by source document, falling back to the chunk ID
// when the document is unknown so such chunks are never merged.
func documentKey(c ScoredChunk) string {
	if c.Metadata.DocumentID != "" {
		return "doc:" + c.Metadata.DocumentID
	}
	return "chunk:" + c.ID
}
