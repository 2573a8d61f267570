// Package complexity holds the per-tier knobs shared by retrieval, context
// assembly and generation.
package complexity

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the requested depth of an answer.
type Tier string

const (
	Simple   Tier = "simple"
	Moderate Tier = "moderate"
	Complex  Tier = "complex"
)

// Profile is the set of limits applied for a tier.
type Profile struct {
	// CandidateLimit is how many fused-score candidates feed the context.
	CandidateLimit int
	// ContextCeiling caps the assembled context, in estimated tokens.
	ContextCeiling int
	// MaxTokens caps the completion length.
	MaxTokens int
	// Instruction is embedded in the answer prompt.
	Instruction string
	// Estimate is the typical end-to-end time reported on submission.
	Estimate time.Duration
}

var profiles = map[Tier]Profile{
	Simple: {
		CandidateLimit: 5,
		ContextCeiling: 3000,
		MaxTokens:      1000,
		Instruction:    "Give a concise answer of one or two short paragraphs aimed at a general reader.",
		Estimate:       20 * time.Second,
	},
	Moderate: {
		CandidateLimit: 8,
		ContextCeiling: 5000,
		MaxTokens:      2000,
		Instruction:    "Give a balanced answer with supporting detail from several sources, suitable for a clinician or graduate student.",
		Estimate:       40 * time.Second,
	},
	Complex: {
		CandidateLimit: 15,
		ContextCeiling: 8000,
		MaxTokens:      4000,
		Instruction:    "Give a thorough, technical synthesis that compares findings, notes methodological differences and highlights open questions.",
		Estimate:       75 * time.Second,
	},
}

// BudgetPool is the candidate count fetched when a token budget drives selection.
const BudgetPool = 50

// VerificationEstimate is added to the estimate when verification is requested.
const VerificationEstimate = 20 * time.Second

// Parse maps a user-supplied tier name to a Tier. Empty selects Moderate.
func Parse(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return Moderate, nil
	case Simple, Moderate, Complex:
		return t, nil
	}
	return "", fmt.Errorf("unknown complexity %q", s)
}

// Profile returns the limits for t, falling back to Moderate for unknown tiers.
func (t Tier) Profile() Profile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[Moderate]
}

// EstimatedTime is the rough completion time reported to a submitter.
func (t Tier) EstimatedTime(verify bool) time.Duration {
	d := t.Profile().Estimate
	if verify {
		d += VerificationEstimate
	}
	return d
}
