package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ledongthuc/pdf"
	"github.com/oklog/ulid/v2"

	"github.com/kalambet/paperqa/internal/engine"
	"github.com/kalambet/paperqa/internal/retrieval"
	"github.com/kalambet/paperqa/internal/storage"
)

const insertBatch = 64

// Record is one document line of a JSONL import file.
type Record struct {
	PMID    string   `json:"pmid"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Year    int      `json:"year"`
	Journal string   `json:"journal"`
	Content string   `json:"content"`
}

// Stats summarizes an import.
type Stats struct {
	Files     int
	Documents int
	Chunks    int
	Skipped   []string
}

// Importer reads documents from disk, chunks and embeds them, and stores the
// chunks in a corpus.
type Importer struct {
	corpora   RegistryStore
	embedder  engine.Embedder
	store     retrieval.ChunkStore
	chunkSize int

	mu      sync.Mutex
	entropy *rand.Rand
	logger  *slog.Logger
}

// NewImporter creates an Importer writing to store.
func NewImporter(corpora RegistryStore, embedder engine.Embedder, store retrieval.ChunkStore) *Importer {
	return &Importer{
		corpora:   corpora,
		embedder:  embedder,
		store:     store,
		chunkSize: DefaultChunkSize,
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    slog.Default(),
	}
}

// Import loads every .txt, .md, .pdf and .jsonl file matching pattern into
// corpusID. Files of other types are reported in Stats.Skipped.
func (im *Importer) Import(ctx context.Context, corpusID, pattern string) (Stats, error) {
	var stats Stats
	c, err := im.corpora.GetCorpus(ctx, corpusID)
	if errors.Is(err, storage.ErrNotFound) {
		return stats, fmt.Errorf("corpus %q is not registered", corpusID)
	}
	if err != nil {
		return stats, err
	}

	if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
		return stats, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return stats, fmt.Errorf("expanding %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return stats, fmt.Errorf("no files match %q", pattern)
	}

	embedder := retrieval.NewEmbedder(im.embedder, c.EmbeddingModel, c.Dimensions)
	for _, path := range paths {
		docs, err := readDocuments(path)
		if errors.Is(err, errUnsupported) {
			stats.Skipped = append(stats.Skipped, path)
			continue
		}
		if err != nil {
			return stats, err
		}
		stats.Files++

		var chunks []retrieval.Chunk
		for _, d := range docs {
			parts := ChunkText(d.Content, im.chunkSize)
			if len(parts) == 0 {
				continue
			}
			stats.Documents++
			for i, text := range parts {
				chunks = append(chunks, retrieval.Chunk{
					ID:       im.newID(),
					CorpusID: c.ID,
					Content:  text,
					Metadata: retrieval.Metadata{
						DocumentID: d.PMID,
						Title:      d.Title,
						Authors:    d.Authors,
						Year:       d.Year,
						Journal:    d.Journal,
						ChunkIndex: i,
					},
					CreatedAt: time.Now().UTC(),
				})
			}
		}

		if err := im.embedAndInsert(ctx, embedder, chunks); err != nil {
			return stats, fmt.Errorf("importing %s: %w", path, err)
		}
		stats.Chunks += len(chunks)
		im.logger.Info("imported file", "path", path, "corpus", c.ID, "documents", len(docs), "chunks", len(chunks))
	}
	return stats, nil
}

func (im *Importer) embedAndInsert(ctx context.Context, embedder *retrieval.Embedder, chunks []retrieval.Chunk) error {
	for start := 0; start < len(chunks); start += insertBatch {
		batch := chunks[start:min(start+insertBatch, len(chunks))]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}
		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}
		if err := im.store.Insert(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) newID() string {
	im.mu.Lock()
	defer im.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), im.entropy).String()
}

var errUnsupported = errors.New("unsupported file type")

func readDocuments(path string) ([]Record, error) {
	ext := strings.ToLower(filepath.Ext(path))
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch ext {
	case ".jsonl":
		return readJSONL(path)
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		text := string(data)
		return []Record{{PMID: base, Title: titleOf(text, base), Content: text}}, nil
	case ".pdf":
		text, err := readPDF(path)
		if err != nil {
			return nil, err
		}
		return []Record{{PMID: base, Title: titleOf(text, base), Content: text}}, nil
	}
	return nil, errUnsupported
}

func readJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	return buf.String(), nil
}

// titleOf returns a leading markdown heading or the first short line.
func titleOf(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		if len(line) <= 200 {
			return line
		}
		break
	}
	return fallback
}
