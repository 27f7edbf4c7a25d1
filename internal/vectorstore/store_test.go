package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/recall/internal/db/sqlite"
	"github.com/thebtf/recall/pkg/models"
)

// fakeEmbedder maps known phrases to fixed vectors so similarity is
// fully deterministic in tests.
type fakeEmbedder struct {
	mu      sync.Mutex
	dim     int
	byText  map[string][]float32
	fail    error
	calls   int
	returns []float32 // overrides byText when set
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, byText: make(map[string][]float32)}
}

func (f *fakeEmbedder) set(text string, v []float32) {
	f.mu.Lock()
	f.byText[text] = v
	f.mu.Unlock()
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	if f.returns != nil {
		return f.returns, nil
	}
	if v, ok := f.byText[text]; ok {
		return v, nil
	}
	// Unknown text gets a unit vector on the first axis
	v := make([]float32, f.dim)
	v[0] = 1
	return v, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

// StoreServiceSuite is a test suite for vector store operations.
type StoreServiceSuite struct {
	suite.Suite
	tempDir  string
	store    *sqlite.Store
	embedder *fakeEmbedder
	svc      *Service
	ctx      context.Context
}

func (s *StoreServiceSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "vectorstore-test-*")
	s.Require().NoError(err)

	s.store, err = sqlite.NewStore(sqlite.StoreConfig{
		Path: filepath.Join(s.tempDir, "test.db"),
	})
	s.Require().NoError(err)

	s.embedder = newFakeEmbedder(3)
	s.svc, err = NewService(sqlite.NewDocumentStore(s.store), s.embedder, 1<<20)
	s.Require().NoError(err)
	s.ctx = context.Background()
}

func (s *StoreServiceSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
	os.RemoveAll(s.tempDir)
}

func TestStoreServiceSuite(t *testing.T) {
	suite.Run(t, new(StoreServiceSuite))
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil, newFakeEmbedder(3), 0); err == nil {
		t.Fatal("expected error for nil document store")
	}
}

// TestAddDocument tests ingestion of a valid document.
func (s *StoreServiceSuite) TestAddDocument() {
	s.embedder.set("go is a language", []float32{0.2, 0.8, 0})

	doc, err := s.svc.AddDocument(s.ctx, "go is a language", map[string]string{"topic": "go"})
	s.Require().NoError(err)
	s.Require().NotNil(doc)
	s.NotEmpty(doc.ID)
	s.Equal([]float32{0.2, 0.8, 0}, doc.Embedding)

	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.DocumentCount)
}

// TestAddDocumentValidation tests input rejection paths.
func (s *StoreServiceSuite) TestAddDocumentValidation() {
	tests := []struct {
		name    string
		content string
		setup   func()
		wantErr error
	}{
		{
			name:    "empty content",
			content: "",
			wantErr: ErrInvalidInput,
		},
		{
			name:    "whitespace only",
			content: "   \n\t  ",
			wantErr: ErrInvalidInput,
		},
		{
			name:    "oversized content",
			content: strings.Repeat("x", (1<<20)+1),
			wantErr: ErrInvalidInput,
		},
		{
			name:    "zero embedding",
			content: "stopwords only",
			setup: func() {
				s.embedder.set("stopwords only", []float32{0, 0, 0})
			},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "embedder down",
			content: "anything",
			setup: func() {
				s.embedder.fail = fmt.Errorf("connection refused")
			},
			wantErr: ErrEmbeddingUnavailable,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := s.svc.AddDocument(s.ctx, tt.content, nil)
			s.ErrorIs(err, tt.wantErr)
		})
	}
}

// seedCorpus ingests three documents with known similarity to "query".
func (s *StoreServiceSuite) seedCorpus() {
	s.embedder.set("query", []float32{1, 0, 0})
	s.embedder.set("close match", []float32{0.9, 0.1, 0}) // ~0.994
	s.embedder.set("partial match", []float32{1, 1, 0})   // ~0.707
	s.embedder.set("unrelated", []float32{0, 1, 0})       // 0

	for _, content := range []string{"close match", "partial match", "unrelated"} {
		_, err := s.svc.AddDocument(s.ctx, content, nil)
		s.Require().NoError(err)
	}
}

// TestSearchRanking tests score-descending order and relevance buckets.
func (s *StoreServiceSuite) TestSearchRanking() {
	s.seedCorpus()

	results, err := s.svc.Search(s.ctx, "query", 10)
	s.Require().NoError(err)
	s.Require().Len(results, 3)

	s.Equal("close match", results[0].Document.Content)
	s.Equal(models.RelevanceHigh, results[0].Relevance)
	s.InDelta(0.994, results[0].Score, 0.01)

	s.Equal("partial match", results[1].Document.Content)
	s.Equal(models.RelevanceMedium, results[1].Relevance)

	s.Equal("unrelated", results[2].Document.Content)
	s.Equal(models.RelevanceLow, results[2].Relevance)
	s.InDelta(0, results[2].Score, 1e-6)
}

// TestSearchTopK tests the k bound.
func (s *StoreServiceSuite) TestSearchTopK() {
	s.seedCorpus()

	results, err := s.svc.Search(s.ctx, "query", 2)
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	s.Equal("close match", results[0].Document.Content)
	s.Equal("partial match", results[1].Document.Content)
}

// TestSearchTieBreak tests insertion-order determinism for equal scores.
func (s *StoreServiceSuite) TestSearchTieBreak() {
	s.embedder.set("query", []float32{1, 0, 0})
	s.embedder.set("twin a", []float32{1, 0, 0})
	s.embedder.set("twin b", []float32{1, 0, 0})

	_, err := s.svc.AddDocument(s.ctx, "twin a", nil)
	s.Require().NoError(err)
	_, err = s.svc.AddDocument(s.ctx, "twin b", nil)
	s.Require().NoError(err)

	for i := 0; i < 5; i++ {
		results, err := s.svc.Search(s.ctx, "query", 10)
		s.Require().NoError(err)
		s.Require().Len(results, 2)
		s.Equal("twin a", results[0].Document.Content)
		s.Equal("twin b", results[1].Document.Content)
	}
}

// TestSearchEmptyStore tests that an empty store is not an error.
func (s *StoreServiceSuite) TestSearchEmptyStore() {
	results, err := s.svc.Search(s.ctx, "query", 5)
	s.Require().NoError(err)
	s.Empty(results)
	s.NotNil(results)
}

// TestSearchEmptyQuery tests query validation.
func (s *StoreServiceSuite) TestSearchEmptyQuery() {
	_, err := s.svc.Search(s.ctx, "  ", 5)
	s.ErrorIs(err, ErrInvalidInput)
}

// TestSearchEmbedderDown tests the unavailable-engine path.
func (s *StoreServiceSuite) TestSearchEmbedderDown() {
	s.seedCorpus()
	s.embedder.fail = fmt.Errorf("connection refused")

	_, err := s.svc.Search(s.ctx, "query", 5)
	s.ErrorIs(err, ErrEmbeddingUnavailable)
}

// TestSearchDimensionMismatch tests detection of an embedder swap.
func (s *StoreServiceSuite) TestSearchDimensionMismatch() {
	s.seedCorpus()

	// Engine now reports a different dimensionality than stored docs
	s.embedder.dim = 5
	s.embedder.returns = []float32{1, 0, 0, 0, 0}

	_, err := s.svc.Search(s.ctx, "query", 5)
	s.ErrorIs(err, ErrDimensionMismatch)
}

// TestEngineDimMismatchOnIngest tests embed-time dimension validation.
func (s *StoreServiceSuite) TestEngineDimMismatchOnIngest() {
	s.embedder.returns = []float32{1, 0} // engine says 3, returns 2

	_, err := s.svc.AddDocument(s.ctx, "short vector", nil)
	s.ErrorIs(err, ErrDimensionMismatch)
}

// TestStats tests count and size accounting.
func (s *StoreServiceSuite) TestStats() {
	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, stats.DocumentCount)
	s.Equal(int64(0), stats.EstimatedSizeBytes)

	s.embedder.set("hello", []float32{1, 0, 0})
	_, err = s.svc.AddDocument(s.ctx, "hello", nil)
	s.Require().NoError(err)

	stats, err = s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.DocumentCount)
	// 5 content bytes + 3 dims x 4 bytes
	s.Equal(int64(17), stats.EstimatedSizeBytes)
}

// TestStatsDetachedFromCallerContext tests that a caller whose context
// is already cancelled still gets a result: the singleflight recompute
// must not inherit any one caller's cancellation.
func (s *StoreServiceSuite) TestStatsDetachedFromCallerContext() {
	s.embedder.set("hello", []float32{1, 0, 0})
	_, err := s.svc.AddDocument(s.ctx, "hello", nil)
	s.Require().NoError(err)

	cancelled, cancel := context.WithCancel(s.ctx)
	cancel()

	stats, err := s.svc.Stats(cancelled)
	s.Require().NoError(err)
	s.Equal(1, stats.DocumentCount)
}

// TestConcurrentAddsKeepCountConsistent tests that overlapping ingests
// never lose or double-count documents.
func (s *StoreServiceSuite) TestConcurrentAddsKeepCountConsistent() {
	const adds = 20

	var wg sync.WaitGroup
	errs := make([]error, adds)
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.AddDocument(s.ctx, fmt.Sprintf("document %d", i), nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	s.Equal(adds, succeeded)

	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(succeeded, stats.DocumentCount)
}

// TestClear tests full collection removal.
func (s *StoreServiceSuite) TestClear() {
	s.seedCorpus()

	s.Require().NoError(s.svc.Clear(s.ctx))

	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, stats.DocumentCount)

	results, err := s.svc.Search(s.ctx, "query", 5)
	s.Require().NoError(err)
	s.Empty(results)
}

// TestPersistenceAcrossReopen tests that documents survive a restart.
func (s *StoreServiceSuite) TestPersistenceAcrossReopen() {
	s.embedder.set("durable", []float32{0.5, 0.5, 0})
	doc, err := s.svc.AddDocument(s.ctx, "durable", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Close())

	reopened, err := sqlite.NewStore(sqlite.StoreConfig{
		Path: filepath.Join(s.tempDir, "test.db"),
	})
	s.Require().NoError(err)
	s.store = reopened

	svc, err := NewService(sqlite.NewDocumentStore(reopened), s.embedder, 0)
	s.Require().NoError(err)

	s.embedder.set("query", []float32{0.5, 0.5, 0})
	results, err := svc.Search(s.ctx, "query", 5)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal(doc.ID, results[0].Document.ID)
	s.InDelta(1.0, results[0].Score, 1e-6)
}
