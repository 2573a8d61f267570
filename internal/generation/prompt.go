// Package generation turns an assembled context into a cited answer and
// optionally fact-checks that answer against the same sources.
package generation

import (
	"fmt"
	"strings"

	"github.com/kalambet/paperqa/internal/complexity"
	"github.com/kalambet/paperqa/internal/composer"
)

// Style selects the answer template.
type Style string

const (
	Structured Style = "structured"
	Narrative  Style = "narrative"
)

// ParseStyle maps a user-supplied style name. Empty selects Structured.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return Structured, nil
	case Structured, Narrative:
		return st, nil
	}
	return "", fmt.Errorf("unknown output style %q", s)
}

const systemPrompt = `You are a biomedical research assistant. Answer only from the numbered sources you are given. When the sources do not support a statement, say so instead of guessing.`

const citationRule = `Cite every claim with the source's year and PMID in the form (2019, PMID:12345678). Do not invent citations or PMIDs that are not in the sources.`

const structuredTemplate = `Question: %s

%s

Write the answer using exactly these five sections, each starting with its label on its own line:
1. Summary
2. Key Findings
3. Mechanisms and Evidence
4. Clinical or Practical Implications
5. Limitations and Open Questions

%s
%s`

const narrativeTemplate = `Question: %s

%s

Write the answer as flowing prose in well-formed paragraphs without headings or bullet lists.

%s
%s`

const verifyTemplate = `You are fact-checking a draft answer against its sources.

Sources:
%s

Draft answer:
%s

Check each claim in the draft against the sources. Keep supported claims as they are. Mark every claim the sources do not support by appending [UNVERIFIED] directly after it. Then rate your overall confidence that the answer is supported, from 0 to 100.

Reply in exactly this format:
VERIFIED_RESPONSE:
<the draft answer with [UNVERIFIED] markers>
CONFIDENCE: <integer 0-100>`

// AnswerPrompt renders the user prompt for style and tier over an assembled context.
func AnswerPrompt(style Style, tier complexity.Tier, query string, ctx *composer.Context) string {
	tmpl := structuredTemplate
	if style == Narrative {
		tmpl = narrativeTemplate
	}
	return fmt.Sprintf(tmpl, query, ctx.Text, tier.Profile().Instruction, citationRule)
}

// VerifyPrompt renders the fact-checking prompt for a draft answer.
func VerifyPrompt(answer string, ctx *composer.Context) string {
	return fmt.Sprintf(verifyTemplate, ctx.Text, answer)
}
