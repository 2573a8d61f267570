// Package corpus manages the corpus registry and imports documents into a
// corpus's chunk store.
package corpus

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/paperqa/internal/storage"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// RegistryStore is the persistence the registry needs.
type RegistryStore interface {
	SaveCorpus(ctx context.Context, c storage.Corpus) error
	GetCorpus(ctx context.Context, id string) (storage.Corpus, error)
	ListCorpora(ctx context.Context) ([]storage.Corpus, error)
}

// Registry validates and stores corpus definitions.
type Registry struct {
	store RegistryStore
}

// NewRegistry creates a Registry.
func NewRegistry(store RegistryStore) *Registry {
	return &Registry{store: store}
}

// Register validates c and saves it, replacing any entry with the same id.
func (r *Registry) Register(ctx context.Context, c storage.Corpus) error {
	if err := Validate(c); err != nil {
		return err
	}
	return r.store.SaveCorpus(ctx, c)
}

func (r *Registry) Get(ctx context.Context, id string) (storage.Corpus, error) {
	return r.store.GetCorpus(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]storage.Corpus, error) {
	return r.store.ListCorpora(ctx)
}

// Validate checks that a corpus definition is usable for retrieval.
func Validate(c storage.Corpus) error {
	if !idPattern.MatchString(c.ID) {
		return fmt.Errorf("invalid corpus id %q: use lowercase letters, digits, '-' or '_'", c.ID)
	}
	if strings.TrimSpace(c.EmbeddingModel) == "" {
		return fmt.Errorf("corpus %s: embedding model is required", c.ID)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("corpus %s: dimensions must be positive", c.ID)
	}
	return nil
}

type seedFile struct {
	Corpora []struct {
		ID             string `yaml:"id"`
		DisplayName    string `yaml:"display_name"`
		EmbeddingModel string `yaml:"embedding_model"`
		Dimensions     int    `yaml:"dimensions"`
	} `yaml:"corpora"`
}

// LoadSeed reads corpus definitions from a YAML file of the form:
//
//	corpora:
//	  - id: pubmed
//	    display_name: PubMed abstracts
//	    embedding_model: nomic-embed-text
//	    dimensions: 768
func LoadSeed(path string) ([]storage.Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus seed: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing corpus seed %s: %w", path, err)
	}
	out := make([]storage.Corpus, 0, len(f.Corpora))
	for _, c := range f.Corpora {
		corpus := storage.Corpus{
			ID:             c.ID,
			DisplayName:    c.DisplayName,
			EmbeddingModel: c.EmbeddingModel,
			Dimensions:     c.Dimensions,
		}
		if corpus.DisplayName == "" {
			corpus.DisplayName = corpus.ID
		}
		if err := Validate(corpus); err != nil {
			return nil, err
		}
		out = append(out, corpus)
	}
	return out, nil
}

// Seed registers every corpus in the YAML file at path.
func (r *Registry) Seed(ctx context.Context, path string) ([]storage.Corpus, error) {
	corpora, err := LoadSeed(path)
	if err != nil {
		return nil, err
	}
	for _, c := range corpora {
		if err := r.store.SaveCorpus(ctx, c); err != nil {
			return nil, err
		}
	}
	return corpora, nil
}
