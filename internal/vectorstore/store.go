// Package vectorstore persists documents with embeddings and serves
// cosine-similarity search over them.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/recall/internal/db/sqlite"
	"github.com/thebtf/recall/internal/engine"
	"github.com/thebtf/recall/pkg/models"
	"github.com/thebtf/recall/pkg/vectors"
)

// Service is the durable document collection with similarity search.
//
// Search is a brute-force scan: at the scale this store serves (tens to
// low thousands of documents) an index structure buys nothing.
type Service struct {
	docs             *sqlite.DocumentStore
	embedder         engine.Embedder
	metrics          *storeMetrics
	statsGroup       singleflight.Group
	maxDocumentBytes int
}

// NewService creates a vector store over the given document store and
// embedder. maxDocumentBytes bounds ingested content size; zero or
// negative disables the bound.
func NewService(docs *sqlite.DocumentStore, embedder engine.Embedder, maxDocumentBytes int) (*Service, error) {
	if docs == nil {
		return nil, fmt.Errorf("document store required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	return &Service{
		docs:             docs,
		embedder:         embedder,
		metrics:          newStoreMetrics(),
		maxDocumentBytes: maxDocumentBytes,
	}, nil
}

// AddDocument embeds content and persists it as a new document.
// Re-ingesting identical content inserts a new document; the store is
// insert-only.
func (s *Service) AddDocument(ctx context.Context, content string, metadata map[string]string) (*models.Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty document content", ErrInvalidInput)
	}
	if s.maxDocumentBytes > 0 && len(content) > s.maxDocumentBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrInvalidInput, s.maxDocumentBytes)
	}

	embedding, err := s.embed(ctx, content)
	if err != nil {
		return nil, err
	}
	if vectors.IsZero(embedding) {
		return nil, fmt.Errorf("%w: content produced a zero embedding", ErrInvalidInput)
	}

	doc := models.NewDocument(content, metadata)
	doc.Embedding = embedding

	if err := s.docs.Insert(ctx, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.metrics.recordIngest(ctx)
	log.Debug().Str("id", doc.ID).Int("content_bytes", len(doc.Content)).Msg("Document ingested")
	return doc, nil
}

// Search embeds the query and returns the top k documents by cosine
// similarity, scores descending. Ties keep insertion order, earliest
// first, so results are deterministic for a fixed store state. An empty
// store yields an empty result without error.
func (s *Service) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	started := time.Now()

	queryEmbedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	docs, err := s.docs.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if len(docs) == 0 || k == 0 {
		s.metrics.recordSearch(ctx, started)
		return []models.SearchResult{}, nil
	}

	results := make([]models.SearchResult, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Embedding) != len(queryEmbedding) {
			return nil, fmt.Errorf("%w: document %q has %d dims, query has %d",
				ErrDimensionMismatch, doc.ID, len(doc.Embedding), len(queryEmbedding))
		}
		score, err := vectors.Cosine(queryEmbedding, doc.Embedding)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
		results = append(results, models.SearchResult{
			Document:  *doc,
			Score:     score,
			Relevance: models.BucketRelevance(score),
		})
	}

	// Stable sort keeps the insertion-order tie break from docs.All.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < 0 {
		k = 0
	}
	if k > len(results) {
		k = len(results)
	}
	results = results[:k]

	s.metrics.recordSearch(ctx, started)
	return results, nil
}

// Stats recomputes collection statistics from the persisted documents.
// Concurrent calls collapse into a single recomputation. The flight runs
// detached from the initiating caller's context: joined callers must not
// fail because the first caller was abandoned.
func (s *Service) Stats(ctx context.Context) (models.StoreStats, error) {
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.statsGroup.Do("stats", func() (interface{}, error) {
		count, err := s.docs.Count(flightCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		size, err := s.docs.EstimatedSizeBytes(flightCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		return models.StoreStats{DocumentCount: count, EstimatedSizeBytes: size}, nil
	})
	if err != nil {
		return models.StoreStats{}, err
	}
	return v.(models.StoreStats), nil
}

// Clear removes every document. Subsequent stats report zero and
// searches return empty results without error.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.docs.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	log.Info().Msg("Vector store cleared")
	return nil
}

// embed produces an embedding, mapping any engine failure to
// ErrEmbeddingUnavailable.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: engine returned empty vector", ErrEmbeddingUnavailable)
	}
	if want := s.embedder.Dimensions(); want > 0 && len(embedding) != want {
		return nil, fmt.Errorf("%w: engine returned %d dims, expected %d",
			ErrDimensionMismatch, len(embedding), want)
	}
	return embedding, nil
}
