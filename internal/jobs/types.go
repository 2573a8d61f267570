// Package jobs owns the query-job state machine and drives a job through
// retrieval, context assembly, generation and verification.
package jobs

import (
	"time"

	"github.com/kalambet/paperqa/internal/complexity"
	"github.com/kalambet/paperqa/internal/generation"
	"github.com/kalambet/paperqa/internal/retrieval"
	"github.com/kalambet/paperqa/internal/scoring"
	"github.com/kalambet/paperqa/internal/storage"
)

// DefaultTTL is how long a job and its result are retained after creation.
const DefaultTTL = time.Hour

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = storage.StatusPending
	StatusProcessing Status = storage.StatusProcessing
	StatusCompleted  Status = storage.StatusCompleted
	StatusFailed     Status = storage.StatusFailed
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Params is the immutable request recorded on a job.
type Params struct {
	CorpusID          string           `json:"corpusId"`
	Query             string           `json:"query"`
	Model             string           `json:"model,omitempty"`
	Complexity        complexity.Tier  `json:"complexity"`
	Verify            bool             `json:"verify"`
	MaxChunksPerPaper int              `json:"maxChunksPerPaper"`
	TargetTokens      int              `json:"targetTokens,omitempty"`
	Threshold         float64          `json:"similarityThreshold"`
	Weights           scoring.Weights  `json:"weights"`
	Style             generation.Style `json:"outputStyle"`
}

// Source is a scored chunk as reported to clients. Index is the 1-based
// citation index when the chunk was part of the context, zero otherwise.
type Source struct {
	Index           int                `json:"index,omitempty"`
	ChunkID         string             `json:"chunkId"`
	Content         string             `json:"content"`
	Metadata        retrieval.Metadata `json:"metadata"`
	VectorScore     float64            `json:"vectorScore"`
	LexicalScore    float64            `json:"lexicalScore"`
	FusedScore      float64            `json:"fusedScore"`
	UsedInContext   bool               `json:"usedInContext"`
	CitedInResponse bool               `json:"citedInResponse"`
}

// Result is written once when a job completes.
type Result struct {
	Response    string
	Sources     []Source
	AllMatching []Source
	Confidence  *float64
	Verified    bool
}

// Job is the decoded view of a stored query job.
type Job struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Params      Params     `json:"params"`
	Progress    string     `json:"progress,omitempty"`
	Response    string     `json:"response,omitempty"`
	Sources     []Source   `json:"sources,omitempty"`
	AllMatching []Source   `json:"allMatchingChunks,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Verified    bool       `json:"verified"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

// Elapsed is the time from creation to completion, or to now while running.
func (j *Job) Elapsed(now time.Time) time.Duration {
	end := now
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	if end.Before(j.CreatedAt) {
		return 0
	}
	return end.Sub(j.CreatedAt)
}
