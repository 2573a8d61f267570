// Package composer assembles the citation-labelled context block handed to
// the answer model.
package composer

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/kalambet/paperqa/internal/retrieval"
)

const (
	maxTitleLen   = 80
	maxJournalLen = 30
)

// Entry is a chunk promoted into the context with its 1-based citation index.
type Entry struct {
	Index int
	Chunk retrieval.ScoredChunk
}

// Context is the assembled prompt context and the chunks it contains.
type Context struct {
	Text    string
	Entries []Entry
}

// IDs returns the set of chunk IDs fed to the model.
func (c *Context) IDs() map[string]int {
	ids := make(map[string]int, len(c.Entries))
	for _, e := range c.Entries {
		ids[e.Chunk.ID] = e.Index
	}
	return ids
}

// Assemble builds the context for query from ranked chunks. Chunks are added
// whole in order until the next one would push the estimate past ceiling;
// the first chunk is always included.
func Assemble(query string, chunks []retrieval.ScoredChunk, ceiling int) *Context {
	var (
		blocks []string
		out    Context
		used   int
	)
	for _, ch := range chunks {
		block := formatBlock(len(out.Entries)+1, ch)
		cost := retrieval.EstimateTokens(block)
		if len(out.Entries) > 0 && used+cost > ceiling {
			break
		}
		used += cost
		blocks = append(blocks, block)
		out.Entries = append(out.Entries, Entry{Index: len(out.Entries) + 1, Chunk: ch})
	}

	var sb strings.Builder
	sb.WriteString(summaryLine(query, out.Entries))
	for _, b := range blocks {
		sb.WriteString("\n\n")
		sb.WriteString(b)
	}
	out.Text = sb.String()
	return &out
}

func summaryLine(query string, entries []Entry) string {
	chunks := make([]retrieval.ScoredChunk, len(entries))
	for i, e := range entries {
		chunks[i] = e.Chunk
	}
	noun := "sources"
	if len(entries) == 1 {
		noun = "source"
	}
	minYear, maxYear := retrieval.YearRange(chunks)
	switch {
	case minYear == 0:
		return fmt.Sprintf("%d %s for the question: %q", len(entries), noun, query)
	case minYear == maxYear:
		return fmt.Sprintf("%d %s (%d) for the question: %q", len(entries), noun, minYear, query)
	default:
		return fmt.Sprintf("%d %s (%d-%d) for the question: %q", len(entries), noun, minYear, maxYear, query)
	}
}

func formatBlock(index int, ch retrieval.ScoredChunk) string {
	m := ch.Metadata
	parts := []string{fmt.Sprintf("[%d] %s", index, truncate(orDefault(m.Title, "Untitled"), maxTitleLen))}
	if m.Journal != "" {
		parts = append(parts, truncate(m.Journal, maxJournalLen))
	}
	if m.Year > 0 {
		parts = append(parts, fmt.Sprint(m.Year))
	} else {
		parts = append(parts, "n.d.")
	}
	parts = append(parts,
		ShortAuthors(m.Authors),
		"PMID:"+orDefault(m.DocumentID, "unknown"),
		fmt.Sprintf("%d%% match", int(math.Round(ch.VectorScore*100))),
	)
	return strings.Join(parts, " | ") + "\n" + ch.Content
}

// ShortAuthors renders an author list for a citation header: one author as
// "Last F.", two or three as comma-joined last names, more as "Last et al.".
func ShortAuthors(authors []string) string {
	var names []string
	for _, a := range authors {
		if strings.TrimSpace(a) != "" {
			names = append(names, a)
		}
	}
	switch n := len(names); {
	case n == 0:
		return "Unknown authors"
	case n == 1:
		last, first := splitName(names[0])
		if first == "" {
			return last
		}
		return fmt.Sprintf("%s %c.", last, []rune(first)[0])
	case n <= 3:
		lasts := make([]string, n)
		for i, a := range names {
			lasts[i], _ = splitName(a)
		}
		return strings.Join(lasts, ", ")
	default:
		last, _ := splitName(names[0])
		return last + " et al."
	}
}

// splitName returns the family name and the given-name part of an author.
// It accepts "Last, First", PubMed "Last FM" and "First Last" forms.
func splitName(name string) (last, first string) {
	name = strings.TrimSpace(name)
	if l, f, ok := strings.Cut(name, ","); ok {
		return strings.TrimSpace(l), strings.TrimSpace(f)
	}
	fields := strings.Fields(name)
	if len(fields) == 1 {
		return fields[0], ""
	}
	tail := fields[len(fields)-1]
	if isInitials(tail) {
		return strings.Join(fields[:len(fields)-1], " "), tail
	}
	return tail, strings.Join(fields[:len(fields)-1], " ")
}

func isInitials(s string) bool {
	s = strings.ReplaceAll(s, ".", "")
	if s == "" || len([]rune(s)) > 3 {
		return false
	}
	for _, r := range s {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
