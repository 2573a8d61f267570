package corpus

import (
	"regexp"
	"strings"
)

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 800

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`[.!?]\s+`)
)

// ChunkText splits text into chunks of roughly size characters, packing whole
// paragraphs together. Paragraphs longer than size are split at sentence
// ends, then at whitespace.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		for _, piece := range splitLong(para, size) {
			if cur.Len() > 0 && cur.Len()+2+len(piece) > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func splitLong(para string, size int) []string {
	if len(para) <= size {
		return []string{para}
	}
	var out []string
	var cur strings.Builder
	for _, sent := range splitSentences(para) {
		for len(sent) > size {
			cut := strings.LastIndexByte(sent[:size], ' ')
			if cut <= 0 {
				cut = size
			}
			if cur.Len() > 0 {
				out = append(out, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
			out = append(out, strings.TrimSpace(sent[:cut]))
			sent = strings.TrimSpace(sent[cut:])
		}
		if cur.Len() > 0 && cur.Len()+1+len(sent) > size {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sent)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func splitSentences(para string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(para, -1) {
		out = append(out, strings.TrimSpace(para[last:loc[1]]))
		last = loc[1]
	}
	if rest := strings.TrimSpace(para[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
