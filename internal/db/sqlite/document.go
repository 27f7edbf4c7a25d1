package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/thebtf/recall/pkg/models"
	"github.com/thebtf/recall/pkg/vectors"
)

// DocumentStore provides document persistence operations.
type DocumentStore struct {
	store *Store
}

// NewDocumentStore creates a new document store.
func NewDocumentStore(store *Store) *DocumentStore {
	return &DocumentStore{store: store}
}

// Insert persists a document with its embedding.
// The document must already carry an ID, timestamps, and embedding.
func (s *DocumentStore) Insert(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id required")
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document embedding required")
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO documents
		(id, content, metadata, embedding, dim, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.store.ExecContext(ctx, query,
		doc.ID, doc.Content, string(metadataJSON),
		vectors.Encode(doc.Embedding), len(doc.Embedding),
		doc.CreatedAt, doc.CreatedAtEpoch,
	)
	if err != nil {
		return fmt.Errorf("insert document %q: %w", doc.ID, err)
	}
	return nil
}

// All returns every stored document ordered by insertion time, earliest
// first. The order is the tie-break order for equal search scores.
func (s *DocumentStore) All(ctx context.Context) ([]*models.Document, error) {
	const query = `
		SELECT id, content, metadata, embedding, dim, created_at, created_at_epoch
		FROM documents
		ORDER BY created_at_epoch ASC, id ASC
	`
	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

// GetByID retrieves a document by ID. Returns (nil, nil) when absent.
func (s *DocumentStore) GetByID(ctx context.Context, id string) (*models.Document, error) {
	const query = `
		SELECT id, content, metadata, embedding, dim, created_at, created_at_epoch
		FROM documents
		WHERE id = ?
	`
	doc, err := scanDocument(s.store.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// Count returns the number of stored documents.
func (s *DocumentStore) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM documents`
	var count int
	err := s.store.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// EstimatedSizeBytes sums content bytes plus embedding bytes (dim x 4)
// across all documents.
func (s *DocumentStore) EstimatedSizeBytes(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(SUM(LENGTH(CAST(content AS BLOB)) + dim * 4), 0) FROM documents`
	var size int64
	err := s.store.QueryRowContext(ctx, query).Scan(&size)
	return size, err
}

// Clear removes every document in a single statement.
func (s *DocumentStore) Clear(ctx context.Context) error {
	const query = `DELETE FROM documents`
	_, err := s.store.ExecContext(ctx, query)
	return err
}

// scanDocument scans a single document from a row scanner.
func scanDocument(scanner interface{ Scan(...interface{}) error }) (*models.Document, error) {
	var (
		doc          models.Document
		metadataJSON string
		blob         []byte
		dim          int
	)
	if err := scanner.Scan(
		&doc.ID, &doc.Content, &metadataJSON, &blob, &dim,
		&doc.CreatedAt, &doc.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("parse metadata for %q: %w", doc.ID, err)
	}

	embedding, err := vectors.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode embedding for %q: %w", doc.ID, err)
	}
	if len(embedding) != dim {
		return nil, fmt.Errorf("embedding for %q has %d dims, recorded %d", doc.ID, len(embedding), dim)
	}
	doc.Embedding = embedding
	return &doc, nil
}

// scanDocumentRows scans multiple documents from rows.
func scanDocumentRows(rows *sql.Rows) ([]*models.Document, error) {
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
