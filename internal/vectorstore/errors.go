package vectorstore

import "errors"

// Error kinds surfaced by the vector store. Callers match with errors.Is.
var (
	// ErrEmbeddingUnavailable means no embedding could be produced for
	// the operation, typically because the embedding model is not ready.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrInvalidInput means the query or document content was empty,
	// oversized, or produced a degenerate embedding.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageFailure means the durable persistence layer failed.
	ErrStorageFailure = errors.New("storage failure")

	// ErrDimensionMismatch means a stored embedding's dimension differs
	// from the query embedding's. Mixed-dimension collections are not
	// comparable; the store fails loudly instead of scoring them.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
