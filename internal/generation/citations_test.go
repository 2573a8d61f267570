package generation

import (
	"reflect"
	"testing"

	"github.com/kalambet/paperqa/internal/composer"
	"github.com/kalambet/paperqa/internal/retrieval"
)

func entries(pmids ...string) []composer.Entry {
	out := make([]composer.Entry, len(pmids))
	for i, p := range pmids {
		out[i] = composer.Entry{Index: i + 1, Chunk: retrieval.ScoredChunk{ID: p, Metadata: retrieval.Metadata{DocumentID: p}}}
	}
	return out
}

func TestExtractCitations(t *testing.T) {
	es := entries("111", "222", "333", "444", "222")
	tests := []struct {
		name   string
		answer string
		want   []int
	}{
		{"none", "No citations here.", []int{}},
		{"brackets", "Shown in [1] and [3].", []int{1, 3}},
		{"bracket list and range", "See [1, 2] and [3-4].", []int{1, 2, 3, 4}},
		{"parenthetical", "Increased (2).", []int{2}},
		{"pmid", "Observed (2019, PMID:333).", []int{3}},
		{"pmid shared by two chunks", "Per PMID: 222.", []int{2, 5}},
		{"unknown pmid ignored", "PMID:999", []int{}},
		{"out of range index ignored", "[9] and (2019)", []int{}},
		{"mixed", "Both [1] and (2020, PMID:444).", []int{1, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCitations(tt.answer, es)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractCitations(%q) = %v, want %v", tt.answer, got, tt.want)
			}
		})
	}
}

func TestExtractCitations_NoEntries(t *testing.T) {
	if got := ExtractCitations("[1]", nil); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}
