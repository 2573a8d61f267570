package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveCorpus inserts or replaces a registry entry.
func (s *Store) SaveCorpus(ctx context.Context, c Corpus) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corpora (id, display_name, embedding_model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name,
			embedding_model = excluded.embedding_model, dimensions = excluded.dimensions`,
		c.ID, c.DisplayName, c.EmbeddingModel, c.Dimensions, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("saving corpus %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetCorpus(ctx context.Context, id string) (Corpus, error) {
	var c Corpus
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, embedding_model, dimensions, created_at FROM corpora WHERE id = ?`, id,
	).Scan(&c.ID, &c.DisplayName, &c.EmbeddingModel, &c.Dimensions, &createdAt)
	if err == sql.ErrNoRows {
		return Corpus{}, ErrNotFound
	}
	if err != nil {
		return Corpus{}, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Corpus{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

func (s *Store) ListCorpora(ctx context.Context) ([]Corpus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, embedding_model, dimensions, created_at FROM corpora ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Corpus
	for rows.Next() {
		var c Corpus
		var createdAt string
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.EmbeddingModel, &c.Dimensions, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}
