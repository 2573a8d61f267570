package generation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kalambet/paperqa/internal/composer"
)

var (
	bracketCitation = regexp.MustCompile(`\[(\d+(?:\s*[,;\-–]\s*\d+)*)\]`)
	parenCitation   = regexp.MustCompile(`\((\d+(?:\s*[,;\-–]\s*\d+)*)\)`)
	pmidCitation    = regexp.MustCompile(`(?i)PMID:\s*(\d+)`)
	indexSeparator  = regexp.MustCompile(`\s*[,;]\s*`)
)

// maxRangeSpan bounds [a-b] expansion so a stray year range is not walked.
const maxRangeSpan = 50

// ExtractCitations returns the sorted 1-based indices of context entries the
// answer cites, either by number ([2], (1, 3), [4-6]) or by PMID.
func ExtractCitations(answer string, entries []composer.Entry) []int {
	if len(entries) == 0 {
		return nil
	}
	valid := make(map[int]bool, len(entries))
	byPMID := make(map[string][]int)
	for _, e := range entries {
		valid[e.Index] = true
		if pmid := e.Chunk.Metadata.DocumentID; pmid != "" {
			byPMID[pmid] = append(byPMID[pmid], e.Index)
		}
	}

	cited := make(map[int]bool)
	for _, re := range []*regexp.Regexp{bracketCitation, parenCitation} {
		for _, m := range re.FindAllStringSubmatch(answer, -1) {
			for _, idx := range expandIndices(m[1]) {
				if valid[idx] {
					cited[idx] = true
				}
			}
		}
	}
	for _, m := range pmidCitation.FindAllStringSubmatch(answer, -1) {
		for _, idx := range byPMID[m[1]] {
			cited[idx] = true
		}
	}

	out := make([]int, 0, len(cited))
	for idx := range cited {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func expandIndices(list string) []int {
	var out []int
	for _, part := range indexSeparator.Split(strings.TrimSpace(list), -1) {
		lo, hi, isRange := cutRange(part)
		a, err := strconv.Atoi(lo)
		if err != nil {
			continue
		}
		if !isRange {
			out = append(out, a)
			continue
		}
		b, err := strconv.Atoi(hi)
		if err != nil || b < a || b-a > maxRangeSpan {
			continue
		}
		for i := a; i <= b; i++ {
			out = append(out, i)
		}
	}
	return out
}

func cutRange(s string) (string, string, bool) {
	for _, sep := range []string{"-", "–"} {
		if lo, hi, ok := strings.Cut(s, sep); ok {
			return strings.TrimSpace(lo), strings.TrimSpace(hi), true
		}
	}
	return s, "", false
}
