package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/paperqa/internal/scoring"
)

// Compile-time check that SQLiteStore implements ChunkStore.
var _ ChunkStore = (*SQLiteStore)(nil)

// SQLiteStore keeps chunks in the chunks table and ranks them with a
// brute-force scan: cosine similarity and lexical score are computed in Go for
// every chunk of the corpus.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB. The chunks table must already
// exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert adds chunks in a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, corpus_id, document_id, chunk_index, title, authors, year, journal, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		authors, err := json.Marshal(nonNilStrings(c.Metadata.Authors))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding authors for %s: %w", c.ID, err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		m := c.Metadata
		if _, err := stmt.ExecContext(ctx, c.ID, c.CorpusID, m.DocumentID, m.ChunkIndex, m.Title, string(authors),
			m.Year, m.Journal, c.Content, encodeFloat32s(c.Embedding), createdAt.UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// candidate holds only the ID and scores during the scan phase of Search.
// Full chunk details are fetched only for the winners.
type candidate struct {
	ID      string
	Vector  float64
	Lexical float64
	Fused   float64
}

// Search scans every chunk of the corpus, keeps those that pass the lexical
// or distance test, and returns the top q.Limit by fused score.
func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) ([]ScoredChunk, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	queryNorm := norm(q.Vector)

	// Phase 1: scan id + content + embedding to find top candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, embedding FROM chunks WHERE corpus_id = ?`, q.CorpusID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	h := &candidateHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id, content string
		var blob []byte
		if err := rows.Scan(&id, &content, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		var v float64
		if queryNorm > 0 {
			v = scoring.Similarity(1 - float64(dotProduct(q.Vector, buf, queryNorm)))
		}
		lexical, fused, ok := evaluate(q, content, v)
		if !ok {
			continue
		}

		c := candidate{ID: id, Vector: v, Lexical: lexical, Fused: fused}
		if h.Len() < q.Limit {
			heap.Push(h, c)
		} else if c.Fused > (*h)[0].Fused {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full chunks only for the winners.
	winners := make(map[string]candidate, h.Len())
	ids := make([]string, 0, h.Len())
	for h.Len() > 0 {
		c := heap.Pop(h).(candidate)
		winners[c.ID] = c
		ids = append(ids, c.ID)
	}

	chunks, err := s.getByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		w := winners[c.ID]
		results = append(results, ScoredChunk{
			ID:           c.ID,
			Content:      c.Content,
			Metadata:     c.Metadata,
			VectorScore:  w.Vector,
			LexicalScore: w.Lexical,
			FusedScore:   w.Fused,
		})
	}

	// IN query doesn't preserve order.
	SortByFusedScore(results)
	return results, nil
}

// SortByFusedScore orders results by fused score descending, breaking ties by ID.
func SortByFusedScore(results []ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].ID < results[j].ID
	})
}

// Count returns the number of chunks stored for a corpus.
func (s *SQLiteStore) Count(ctx context.Context, corpusID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE corpus_id = ?", corpusID).Scan(&count)
	return count, err
}

// Export returns every chunk of a corpus with its embedding, oldest first.
// Used to copy a corpus into another ChunkStore.
func (s *SQLiteStore) Export(ctx context.Context, corpusID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+`, embedding
		FROM chunks WHERE corpus_id = ? ORDER BY created_at ASC, id ASC`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("querying corpus chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var blob []byte
		c, err := scanChunk(rows, &blob)
		if err != nil {
			return nil, err
		}
		if c.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

const chunkColumns = `id, corpus_id, document_id, chunk_index, title, authors, year, journal, content, created_at`

func (s *SQLiteStore) getByIDs(ctx context.Context, ids []string) ([]Chunk, error) {
	queryArgs := make([]interface{}, len(ids))
	for i, id := range ids {
		queryArgs[i] = id
	}
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(rows *sql.Rows, extra ...any) (Chunk, error) {
	var c Chunk
	var authors, createdAt string
	dest := []any{&c.ID, &c.CorpusID, &c.Metadata.DocumentID, &c.Metadata.ChunkIndex, &c.Metadata.Title,
		&authors, &c.Metadata.Year, &c.Metadata.Journal, &c.Content, &createdAt}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Chunk{}, fmt.Errorf("scanning chunk: %w", err)
	}
	if err := json.Unmarshal([]byte(authors), &c.Metadata.Authors); err != nil {
		return Chunk{}, fmt.Errorf("decoding authors for %s: %w", c.ID, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Chunk{}, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
	}
	c.CreatedAt = t
	return c, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// candidateHeap is a min-heap of candidate ordered by fused score.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].Fused != h[j].Fused {
		return h[i].Fused < h[j].Fused
	}
	return h[i].ID > h[j].ID
}
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
