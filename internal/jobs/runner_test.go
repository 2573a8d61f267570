package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/paperqa/internal/apperr"
	"github.com/kalambet/paperqa/internal/engine"
	"github.com/kalambet/paperqa/internal/generation"
	"github.com/kalambet/paperqa/internal/retrieval"
	"github.com/kalambet/paperqa/internal/storage"
)

type mockRetriever struct {
	retrieveFn func(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
	calls      atomic.Int32
}

func (m *mockRetriever) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error) {
	m.calls.Add(1)
	return m.retrieveFn(ctx, req)
}

// mockCompleter answers generation and verification prompts separately.
type mockCompleter struct {
	answerFn func(ctx context.Context) (string, error)
	verifyFn func(ctx context.Context) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req engine.CompletionRequest) (string, error) {
	if strings.Contains(req.Prompt, "VERIFIED_RESPONSE:") {
		return m.verifyFn(ctx)
	}
	return m.answerFn(ctx)
}

func scored(id, pmid string, v float64) retrieval.ScoredChunk {
	return retrieval.ScoredChunk{
		ID:          id,
		Content:     "content of " + id,
		Metadata:    retrieval.Metadata{DocumentID: pmid, Title: "Paper " + pmid, Year: 2020},
		VectorScore: v,
		FusedScore:  v,
	}
}

func fixedRetrieval() *mockRetriever {
	return &mockRetriever{retrieveFn: func(_ context.Context, req retrieval.Request) (*retrieval.Result, error) {
		return &retrieval.Result{
			Context: []retrieval.ScoredChunk{scored("a1", "111", 0.9), scored("b1", "222", 0.8)},
			AllMatching: []retrieval.ScoredChunk{
				scored("a1", "111", 0.9), scored("b1", "222", 0.8), scored("c1", "333", 0.4),
			},
		}, nil
	}}
}

func answerWith(text string) *mockCompleter {
	return &mockCompleter{
		answerFn: func(context.Context) (string, error) { return text, nil },
		verifyFn: func(context.Context) (string, error) {
			return "VERIFIED_RESPONSE:\n" + text + "\nCONFIDENCE: 88", nil
		},
	}
}

func newTestRunner(t *testing.T, store Store, r Retriever, c engine.Completer, timeout time.Duration) (*Runner, *Manager) {
	t.Helper()
	m := NewManager(store, 0)
	return NewRunner(m, r, generation.New(c, "llama3.1", timeout)), m
}

func TestExecute_CompletesAndTagsSources(t *testing.T) {
	runner, m := newTestRunner(t, openStore(t), fixedRetrieval(), answerWith("Gene X is regulated by Y [1]."), 0)
	ctx := context.Background()
	job, _ := m.Create(ctx, testParams())

	if err := runner.Execute(ctx, job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted || got.Response == "" {
		t.Fatalf("job = %+v", got)
	}
	if got.Confidence != nil || got.Verified {
		t.Errorf("unverified job carries confidence %v verified %v", got.Confidence, got.Verified)
	}

	if len(got.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(got.Sources))
	}
	byIndex := map[int]Source{}
	for _, s := range got.Sources {
		if !s.UsedInContext {
			t.Errorf("source %s not marked usedInContext", s.ChunkID)
		}
		byIndex[s.Index] = s
	}
	for _, s := range got.AllMatching {
		if s.UsedInContext {
			if src, ok := byIndex[s.Index]; !ok || src.ChunkID != s.ChunkID {
				t.Errorf("matching chunk %s used in context without matching source index %d", s.ChunkID, s.Index)
			}
		}
	}
	all := map[string]Source{}
	for _, s := range got.AllMatching {
		all[s.ChunkID] = s
	}
	if !all["a1"].CitedInResponse || all["b1"].CitedInResponse {
		t.Errorf("citation flags: a1=%v b1=%v", all["a1"].CitedInResponse, all["b1"].CitedInResponse)
	}
	if all["c1"].UsedInContext || all["c1"].Index != 0 {
		t.Errorf("c1 was never sent to the model: %+v", all["c1"])
	}
}

func TestExecute_VerificationTimeoutStillCompletes(t *testing.T) {
	c := &mockCompleter{
		answerFn: func(context.Context) (string, error) { return "draft answer", nil },
		verifyFn: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	runner, m := newTestRunner(t, openStore(t), fixedRetrieval(), c, 20*time.Millisecond)
	ctx := context.Background()
	p := testParams()
	p.Verify = true
	job, _ := m.Create(ctx, p)

	runner.Execute(ctx, job.ID)

	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", got.Status, got.Error)
	}
	if got.Confidence == nil || *got.Confidence != 50 || !got.Verified {
		t.Errorf("confidence = %v verified = %v, want 50 and true", got.Confidence, got.Verified)
	}
	if got.Response != "draft answer" {
		t.Errorf("response = %q, want the unverified draft", got.Response)
	}
}

func TestExecute_VerifiedResponse(t *testing.T) {
	runner, m := newTestRunner(t, openStore(t), fixedRetrieval(), answerWith("checked [2]"), 0)
	ctx := context.Background()
	p := testParams()
	p.Verify = true
	job, _ := m.Create(ctx, p)

	runner.Execute(ctx, job.ID)

	got, _ := m.Get(ctx, job.ID)
	if got.Confidence == nil || *got.Confidence != 88 {
		t.Errorf("confidence = %v, want 88", got.Confidence)
	}
}

func TestExecute_UpstreamFailureFailsJob(t *testing.T) {
	r := &mockRetriever{retrieveFn: func(context.Context, retrieval.Request) (*retrieval.Result, error) {
		return nil, apperr.Upstream(errors.New("connection refused"), "embedding query")
	}}
	runner, m := newTestRunner(t, openStore(t), r, answerWith("unused"), 0)
	ctx := context.Background()
	job, _ := m.Create(ctx, testParams())

	if err := runner.Execute(ctx, job.ID); err != nil {
		t.Fatalf("Execute returned %v; pipeline failures belong on the job", err)
	}
	got, _ := m.Get(ctx, job.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "connection refused") {
		t.Errorf("error = %q", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("failed job must have CompletedAt")
	}
}

func TestExecute_GenerationFailureFailsJob(t *testing.T) {
	c := &mockCompleter{answerFn: func(context.Context) (string, error) { return "", errors.New("HTTP 500") }}
	runner, m := newTestRunner(t, openStore(t), fixedRetrieval(), c, 0)
	ctx := context.Background()
	job, _ := m.Create(ctx, testParams())

	runner.Execute(ctx, job.ID)

	got, _ := m.Get(ctx, job.ID)
	if got.Status != StatusFailed || !strings.Contains(got.Error, "HTTP 500") {
		t.Errorf("job = %s %q", got.Status, got.Error)
	}
}

func TestExecute_SecondTriggerIsNoOp(t *testing.T) {
	r := fixedRetrieval()
	runner, m := newTestRunner(t, openStore(t), r, answerWith("ok"), 0)
	ctx := context.Background()
	job, _ := m.Create(ctx, testParams())

	runner.Execute(ctx, job.ID)
	if err := runner.Execute(ctx, job.ID); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if n := r.calls.Load(); n != 1 {
		t.Errorf("retriever called %d times, want 1", n)
	}
}

func TestExecute_UnknownJob(t *testing.T) {
	runner, _ := newTestRunner(t, openStore(t), fixedRetrieval(), answerWith("ok"), 0)
	if err := runner.Execute(context.Background(), "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

// flakyStore fails progress writes and, optionally, the failure write.
type flakyStore struct {
	*storage.Store
	failWrite bool
}

func (f *flakyStore) UpdateJobProgress(context.Context, string, string, time.Time) error {
	return errors.New("disk I/O error")
}

func (f *flakyStore) FailQueryJob(ctx context.Context, id, msg string, at time.Time) error {
	if f.failWrite {
		return errors.New("disk I/O error")
	}
	return f.Store.FailQueryJob(ctx, id, msg, at)
}

func TestExecute_PersistenceFailureOnProgress(t *testing.T) {
	store := &flakyStore{Store: openStore(t)}
	runner, m := newTestRunner(t, store, fixedRetrieval(), answerWith("ok"), 0)
	ctx := context.Background()
	job, _ := m.Create(ctx, testParams())

	runner.Execute(ctx, job.ID)

	got, _ := m.Get(ctx, job.ID)
	if got.Status != StatusFailed || !strings.Contains(got.Error, "disk I/O error") {
		t.Errorf("job = %s %q, want failed with persistence message", got.Status, got.Error)
	}
}

func TestExecute_FailureWriteFailsLeavesLastState(t *testing.T) {
	store := &flakyStore{Store: openStore(t), failWrite: true}
	runner, m := newTestRunner(t, store, fixedRetrieval(), answerWith("ok"), 0)
	ctx := context.Background()
	job, _ := m.Create(ctx, testParams())

	if err := runner.Execute(ctx, job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := m.Get(ctx, job.ID)
	if got.Status != StatusProcessing || got.Progress != "Searching corpus" {
		t.Errorf("job = %s %q, want last persisted state", got.Status, got.Progress)
	}
}
