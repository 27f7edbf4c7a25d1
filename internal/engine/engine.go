// Package engine defines the model engine contracts for recall.
//
// Engines are injected service instances, never package-level singletons,
// so tests can substitute fakes without cross-test state leakage.
package engine

import (
	"context"
	"errors"
)

// ErrNotLoaded is returned by inference calls on an engine whose model
// has not been loaded.
var ErrNotLoaded = errors.New("model not loaded")

// LoadProgressFunc receives load progress in percent, 0 through 100.
// Values reported during a single load are non-decreasing.
type LoadProgressFunc func(pct int)

// TokenFunc receives one generated text fragment. Returning an error
// stops delivery of further fragments to this consumer; the underlying
// generation is not guaranteed to halt mid-token.
type TokenFunc func(fragment string) error

// Loader is the lifecycle surface of a locally managed model engine.
// Load and Unload are driven exclusively by the lifecycle coordinator.
type Loader interface {
	Load(ctx context.Context, onProgress LoadProgressFunc) error
	Unload(ctx context.Context) error
}

// Embedder produces fixed-length embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length the engine produces.
	Dimensions() int
}

// Message is one turn of a chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator streams generated text for a chat history. Fragments are
// pushed to onToken until the stream ends or ctx is cancelled.
type Generator interface {
	Generate(ctx context.Context, messages []Message, onToken TokenFunc) error
}
