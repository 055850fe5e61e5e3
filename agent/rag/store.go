package rag

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

// StoreConfig selects where the vector index lives. An empty PersistPath
// keeps it in memory, which is what the tests use.
type StoreConfig struct {
	PersistPath string `envconfig:"PERSIST_PATH" split_words:"true" default:"./apex_kb"`
	Collection  string `envconfig:"COLLECTION" split_words:"true" default:"knowledge_base"`
	Compress    bool   `envconfig:"COMPRESS" split_words:"true" default:"false"`
}

// Store is the chromem-go backed document store. Vectors are computed
// upstream, so the collection's embedding function must never run.
type Store struct {
	mu  sync.RWMutex
	col *chromem.Collection
}

func OpenStore(cfg StoreConfig) (*Store, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	name := cfg.Collection
	if name == "" {
		name = "knowledge_base"
	}
	precomputedOnly := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vectors must be precomputed")
	}
	col, err := db.GetOrCreateCollection(name, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("open collection %q: %w", name, err)
	}
	return &Store{col: col}, nil
}

func (s *Store) Upsert(ctx context.Context, chunks []contractx.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", contractx.ErrValidation, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Content,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"source":     chunk.Metadata.Source,
				"type":       chunk.Metadata.Type,
				"page":       strconv.Itoa(chunk.Metadata.Page),
				"chunk_id":   strconv.Itoa(chunk.Metadata.ChunkID),
				"chunk_size": strconv.Itoa(chunk.Metadata.ChunkSize),
			},
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	return nil
}

// Search returns up to k chunks by cosine similarity. k is clamped to
// the collection size because the underlying store rejects asking for
// more results than it holds.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]contractx.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 1
	}
	if k > count {
		k = count
	}

	results, err := s.col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make([]contractx.ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, contractx.ScoredChunk{
			Chunk: contractx.Chunk{
				ID:      r.ID,
				Content: r.Content,
				Metadata: contractx.ChunkMetadata{
					Source:    r.Metadata["source"],
					Type:      r.Metadata["type"],
					Page:      atoiOrZero(r.Metadata["page"]),
					ChunkID:   atoiOrZero(r.Metadata["chunk_id"]),
					ChunkSize: atoiOrZero(r.Metadata["chunk_size"]),
				},
			},
			Score: r.Similarity,
		})
	}
	return out, nil
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col.Count()
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

var _ contractx.DocumentStore = (*Store)(nil)
