package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the chunk and job indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_chunks_corpus", "idx_chunks_document", "idx_query_jobs_expires", "idx_query_jobs_status"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func createJob(t *testing.T, s *Store, id string, created time.Time) {
	t.Helper()
	err := s.CreateQueryJob(context.Background(), QueryJob{
		ID:         id,
		ParamsJSON: `{"query":"q"}`,
		CreatedAt:  created,
		ExpiresAt:  created.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateQueryJob: %v", err)
	}
}

func TestCreateAndGetQueryJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	createJob(t, s, "job-1", now)

	got, err := s.GetQueryJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetQueryJob: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if got.ExpiresAt.Sub(got.CreatedAt) != time.Hour {
		t.Errorf("ExpiresAt - CreatedAt = %v, want 1h", got.ExpiresAt.Sub(got.CreatedAt))
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Errorf("timestamps set on new job: started=%v completed=%v", got.StartedAt, got.CompletedAt)
	}
	if got.SourcesJSON != "[]" {
		t.Errorf("SourcesJSON = %q, want []", got.SourcesJSON)
	}
}

func TestGetQueryJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetQueryJob(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateJobProgressSetsStartedOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	createJob(t, s, "job-p", now)

	first := now.Add(2 * time.Second)
	if err := s.UpdateJobProgress(ctx, "job-p", "retrieving", first); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	if err := s.UpdateJobProgress(ctx, "job-p", "generating", now.Add(10*time.Second)); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}

	got, err := s.GetQueryJob(ctx, "job-p")
	if err != nil {
		t.Fatalf("GetQueryJob: %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("Status = %q, want processing", got.Status)
	}
	if got.Progress != "generating" {
		t.Errorf("Progress = %q, want generating", got.Progress)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(first) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, first)
	}
}

func TestCompleteQueryJobIsTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	createJob(t, s, "job-c", now)

	conf := 87.0
	done := now.Add(30 * time.Second)
	err := s.CompleteQueryJob(ctx, "job-c", JobResult{
		Response:    "answer",
		SourcesJSON: `[{"index":1}]`,
		Confidence:  &conf,
		Verified:    true,
	}, done)
	if err != nil {
		t.Fatalf("CompleteQueryJob: %v", err)
	}

	if err := s.FailQueryJob(ctx, "job-c", "late failure", now.Add(time.Minute)); err != ErrTerminal {
		t.Errorf("FailQueryJob after completion: error = %v, want ErrTerminal", err)
	}
	if err := s.UpdateJobProgress(ctx, "job-c", "again", now.Add(time.Minute)); err != ErrTerminal {
		t.Errorf("UpdateJobProgress after completion: error = %v, want ErrTerminal", err)
	}

	got, err := s.GetQueryJob(ctx, "job-c")
	if err != nil {
		t.Fatalf("GetQueryJob: %v", err)
	}
	if got.Status != StatusCompleted || got.Response != "answer" || got.Error != "" {
		t.Errorf("got status=%q response=%q error=%q", got.Status, got.Response, got.Error)
	}
	if got.Confidence == nil || *got.Confidence != 87 {
		t.Errorf("Confidence = %v, want 87", got.Confidence)
	}
	if !got.Verified {
		t.Error("Verified = false, want true")
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}
	if got.AllMatchingJSON != "[]" {
		t.Errorf("AllMatchingJSON = %q, want []", got.AllMatchingJSON)
	}
}

func TestWritesToMissingJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.UpdateJobProgress(ctx, "nope", "x", now); err != ErrNotFound {
		t.Errorf("UpdateJobProgress: error = %v, want ErrNotFound", err)
	}
	if err := s.FailQueryJob(ctx, "nope", "x", now); err != ErrNotFound {
		t.Errorf("FailQueryJob: error = %v, want ErrNotFound", err)
	}
	if _, err := s.ClaimQueryJob(ctx, "nope", "x", now); err != ErrNotFound {
		t.Errorf("ClaimQueryJob: error = %v, want ErrNotFound", err)
	}
}

func TestClaimQueryJobOnlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	createJob(t, s, "job-claim", now)

	ok, err := s.ClaimQueryJob(ctx, "job-claim", "starting", now)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.ClaimQueryJob(ctx, "job-claim", "starting", now)
	if err != nil || ok {
		t.Errorf("second claim = %v, %v; want false, nil", ok, err)
	}
}

func TestDeleteExpiredJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	createJob(t, s, "old", now.Add(-2*time.Hour))
	createJob(t, s, "fresh", now)

	n, err := s.DeleteExpiredJobs(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := s.GetQueryJob(ctx, "old"); err != ErrNotFound {
		t.Errorf("old job: error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetQueryJob(ctx, "fresh"); err != nil {
		t.Errorf("fresh job: %v", err)
	}

	n, err = s.DeleteExpiredJobs(ctx, now)
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", n, err)
	}
}

func TestCountJobsByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	createJob(t, s, "a", now)
	createJob(t, s, "b", now)
	if err := s.FailQueryJob(ctx, "b", "boom", now); err != nil {
		t.Fatalf("FailQueryJob: %v", err)
	}

	counts, err := s.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if counts[StatusPending] != 1 || counts[StatusFailed] != 1 {
		t.Errorf("counts = %v, want pending=1 failed=1", counts)
	}
}

func TestCorpusRegistry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetCorpus(ctx, "pubmed"); err != ErrNotFound {
		t.Fatalf("GetCorpus before save: error = %v, want ErrNotFound", err)
	}

	c := Corpus{ID: "pubmed", DisplayName: "PubMed abstracts", EmbeddingModel: "nomic-embed-text", Dimensions: 768}
	if err := s.SaveCorpus(ctx, c); err != nil {
		t.Fatalf("SaveCorpus: %v", err)
	}
	c.Dimensions = 384
	c.EmbeddingModel = "all-minilm"
	if err := s.SaveCorpus(ctx, c); err != nil {
		t.Fatalf("SaveCorpus (update): %v", err)
	}

	got, err := s.GetCorpus(ctx, "pubmed")
	if err != nil {
		t.Fatalf("GetCorpus: %v", err)
	}
	if got.Dimensions != 384 || got.EmbeddingModel != "all-minilm" {
		t.Errorf("got %+v, want updated model/dimensions", got)
	}

	list, err := s.ListCorpora(ctx)
	if err != nil {
		t.Fatalf("ListCorpora: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListCorpora len = %d, want 1", len(list))
	}
}

func TestOpenCreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DatabaseFile)); err != nil {
		t.Errorf("database file not created: %v", err)
	}

	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}
