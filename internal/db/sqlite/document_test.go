package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/recall/pkg/models"
)

// DocumentStoreSuite is a test suite for DocumentStore operations.
type DocumentStoreSuite struct {
	suite.Suite
	db      *sql.DB
	docs    *DocumentStore
	cleanup func()
	ctx     context.Context
}

func (s *DocumentStoreSuite) SetupTest() {
	s.db, _, s.cleanup = testDB(s.T())
	s.docs = NewDocumentStore(newStoreFromDB(s.db))
	s.ctx = context.Background()
}

func (s *DocumentStoreSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func TestDocumentStoreSuite(t *testing.T) {
	suite.Run(t, new(DocumentStoreSuite))
}

// newTestDocument builds a document with an embedding attached.
func newTestDocument(content string, embedding []float32) *models.Document {
	doc := models.NewDocument(content, map[string]string{"topic": "testing"})
	doc.Embedding = embedding
	return doc
}

// TestInsertAndGetByID tests the persistence round trip.
func (s *DocumentStoreSuite) TestInsertAndGetByID() {
	doc := newTestDocument("hello world", []float32{0.1, 0.2, 0.3})

	err := s.docs.Insert(s.ctx, doc)
	s.Require().NoError(err)

	got, err := s.docs.GetByID(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got)

	s.Equal(doc.ID, got.ID)
	s.Equal("hello world", got.Content)
	s.Equal("testing", got.Metadata["topic"])
	s.Equal(models.SourceManual, got.Source())
	s.Equal(doc.Embedding, got.Embedding)
	s.Equal(doc.CreatedAtEpoch, got.CreatedAtEpoch)
}

// TestInsertValidation tests required field checks.
func (s *DocumentStoreSuite) TestInsertValidation() {
	tests := []struct {
		name    string
		doc     *models.Document
		wantErr bool
	}{
		{
			name:    "valid document",
			doc:     newTestDocument("content", []float32{1}),
			wantErr: false,
		},
		{
			name: "missing id",
			doc: &models.Document{
				Content:   "content",
				Embedding: []float32{1},
			},
			wantErr: true,
		},
		{
			name:    "missing embedding",
			doc:     models.NewDocument("content", nil),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.docs.Insert(s.ctx, tt.doc)
			if tt.wantErr {
				s.Error(err)
			} else {
				s.NoError(err)
			}
		})
	}
}

// TestGetByIDAbsent tests that a missing document is not an error.
func (s *DocumentStoreSuite) TestGetByIDAbsent() {
	got, err := s.docs.GetByID(s.ctx, "nonexistent")
	s.NoError(err)
	s.Nil(got)
}

// TestAllOrdering tests insertion-time ordering with ID tie-break.
func (s *DocumentStoreSuite) TestAllOrdering() {
	seedDocument(s.T(), s.db, "doc-c", "third", 3000, []float32{1})
	seedDocument(s.T(), s.db, "doc-b", "tied-b", 1000, []float32{1})
	seedDocument(s.T(), s.db, "doc-a", "tied-a", 1000, []float32{1})

	docs, err := s.docs.All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(docs, 3)

	// Epoch ascending, equal epochs ordered by id
	s.Equal("doc-a", docs[0].ID)
	s.Equal("doc-b", docs[1].ID)
	s.Equal("doc-c", docs[2].ID)
}

// TestAllEmpty tests listing an empty collection.
func (s *DocumentStoreSuite) TestAllEmpty() {
	docs, err := s.docs.All(s.ctx)
	s.NoError(err)
	s.Empty(docs)
}

// TestCount tests document counting.
func (s *DocumentStoreSuite) TestCount() {
	count, err := s.docs.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, count)

	seedDocument(s.T(), s.db, "doc-1", "one", 1000, []float32{1})
	seedDocument(s.T(), s.db, "doc-2", "two", 2000, []float32{1})

	count, err = s.docs.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, count)
}

// TestEstimatedSizeBytes tests the content-plus-embedding size estimate.
func (s *DocumentStoreSuite) TestEstimatedSizeBytes() {
	size, err := s.docs.EstimatedSizeBytes(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), size)

	// "hello" = 5 bytes, 3 dims x 4 bytes = 12 bytes
	seedDocument(s.T(), s.db, "doc-1", "hello", 1000, []float32{1, 2, 3})

	size, err = s.docs.EstimatedSizeBytes(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(17), size)
}

// TestClear tests removing all documents.
func (s *DocumentStoreSuite) TestClear() {
	seedDocument(s.T(), s.db, "doc-1", "one", 1000, []float32{1})
	seedDocument(s.T(), s.db, "doc-2", "two", 2000, []float32{1})

	err := s.docs.Clear(s.ctx)
	s.Require().NoError(err)

	count, err := s.docs.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, count)
}

// TestDimMismatchDetected tests that a corrupted dim column surfaces an error.
func (s *DocumentStoreSuite) TestDimMismatchDetected() {
	seedDocument(s.T(), s.db, "doc-1", "one", 1000, []float32{1, 2})

	_, err := s.db.Exec("UPDATE documents SET dim = 5 WHERE id = 'doc-1'")
	s.Require().NoError(err)

	_, err = s.docs.All(s.ctx)
	s.Error(err)
}
