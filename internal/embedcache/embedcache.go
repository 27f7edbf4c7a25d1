// Package embedcache decorates an embedder with an expiring LRU cache.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/engine"
)

// Embedder wraps another engine.Embedder, serving repeated texts from
// an in-memory LRU keyed by content hash.
type Embedder struct {
	next  engine.Embedder
	cache *expirable.LRU[string, []float32]
}

// DefaultSize is used when Wrap is given a non-positive cache size.
const DefaultSize = 128

// Wrap decorates next with an LRU of the given size and TTL. A
// non-positive size falls back to DefaultSize; a non-positive ttl
// disables expiry.
func Wrap(next engine.Embedder, size int, ttl time.Duration) *Embedder {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Embedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// Embed returns a cached vector for text when present, delegating to
// the wrapped embedder otherwise.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := e.cache.Get(key); ok {
		log.Debug().Msg("embedding cache hit")
		return v, nil
	}

	v, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, v)
	return v, nil
}

// Dimensions returns the wrapped embedder's vector length.
func (e *Embedder) Dimensions() int {
	return e.next.Dimensions()
}

// Purge drops all cached vectors. Called when the underlying model is
// unloaded so a different model never serves stale vectors.
func (e *Embedder) Purge() {
	e.cache.Purge()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
