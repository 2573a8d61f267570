package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrTerminal is returned when a write targets a job that already completed or failed.
var ErrTerminal = errors.New("job already in terminal state")

// Job statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// QueryJob is the persisted form of one query's lifecycle.
type QueryJob struct {
	ID              string
	Status          string
	ParamsJSON      string
	Progress        string
	Response        string
	SourcesJSON     string // JSON array stored as text
	AllMatchingJSON string // JSON array stored as text
	Confidence      *float64
	Verified        bool
	Error           string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ExpiresAt       time.Time
}

// JobResult is written once on successful completion.
type JobResult struct {
	Response        string
	SourcesJSON     string
	AllMatchingJSON string
	Confidence      *float64
	Verified        bool
}

// Corpus is a registry entry describing how a corpus was embedded.
type Corpus struct {
	ID             string
	DisplayName    string
	EmbeddingModel string
	Dimensions     int
	CreatedAt      time.Time
}
