// Package models contains domain models for recall.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MetadataSourceKey is the reserved metadata key naming the ingestion origin.
const MetadataSourceKey = "source"

// SourceManual marks documents ingested directly by the user.
const SourceManual = "manual"

// Document is a stored text document with its embedding vector.
// Documents are created at ingestion and never mutated in place.
type Document struct {
	Metadata       map[string]string `db:"metadata" json:"metadata,omitempty"`
	ID             string            `db:"id" json:"id"`
	Content        string            `db:"content" json:"content"`
	CreatedAt      string            `db:"created_at" json:"created_at"`
	Embedding      []float32         `db:"embedding" json:"-"`
	CreatedAtEpoch int64             `db:"created_at_epoch" json:"created_at_epoch"`
}

// NewDocument creates a Document with a fresh ID and timestamps.
// The embedding is attached by the vector store once computed.
// The metadata map is copied; the caller's map is never written to.
func NewDocument(content string, metadata map[string]string) *Document {
	now := time.Now()
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if meta[MetadataSourceKey] == "" {
		meta[MetadataSourceKey] = SourceManual
	}
	return &Document{
		ID:             uuid.NewString(),
		Content:        content,
		Metadata:       meta,
		CreatedAt:      now.Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
	}
}

// Source returns the document's ingestion origin tag.
func (d *Document) Source() string {
	return d.Metadata[MetadataSourceKey]
}

// EstimatedSizeBytes returns the storage footprint estimate for the
// document: content bytes plus four bytes per embedding dimension.
func (d *Document) EstimatedSizeBytes() int64 {
	return int64(len(d.Content)) + int64(len(d.Embedding))*4
}

// Relevance is a coarse three-level bucket derived from a similarity score.
type Relevance string

const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

// Relevance bucket thresholds. Scores at or above RelevanceHighThreshold
// bucket as high, at or above RelevanceMediumThreshold as medium,
// everything below as low.
const (
	RelevanceHighThreshold   = 0.75
	RelevanceMediumThreshold = 0.50
)

// BucketRelevance maps a cosine similarity score to a Relevance bucket.
func BucketRelevance(score float64) Relevance {
	switch {
	case score >= RelevanceHighThreshold:
		return RelevanceHigh
	case score >= RelevanceMediumThreshold:
		return RelevanceMedium
	default:
		return RelevanceLow
	}
}

// SearchResult is a document matched by a similarity search.
// It carries the full document so callers can render snippets directly.
type SearchResult struct {
	Document  Document  `json:"document"`
	Relevance Relevance `json:"relevance"`
	Score     float64   `json:"score"`
}

// StoreStats describes the current state of the document collection.
// Recomputed on demand, never cached beyond a single refresh.
type StoreStats struct {
	DocumentCount      int   `json:"document_count"`
	EstimatedSizeBytes int64 `json:"estimated_size_bytes"`
}
