// Package rag coordinates retrieval-augmented search, ingestion, and chat.
//
// The manager sequences calls: it ensures the embedding model is ready
// before any embedding-dependent operation, then delegates to the vector
// store. Failures from the coordinator or the store surface unchanged;
// the manager adds no error kinds of its own.
package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/engine"
	"github.com/thebtf/recall/internal/lifecycle"
	"github.com/thebtf/recall/internal/privacy"
	"github.com/thebtf/recall/internal/vectorstore"
	"github.com/thebtf/recall/pkg/models"
)

// DefaultTopK is the number of documents retrieved for search and chat
// context when the caller does not specify one.
const DefaultTopK = 5

// Manager is the top-level RAG use case.
type Manager struct {
	store       *vectorstore.Service
	coordinator *lifecycle.Coordinator
	localGen    engine.Generator
	cloudGen    engine.Generator
	tokenBudget int

	mu             sync.Mutex
	statsListeners []func(models.StoreStats)
}

// NewManager creates a RAG manager. localGen and cloudGen serve chat in
// the respective execution modes; either may be nil if that mode is
// not configured.
func NewManager(
	store *vectorstore.Service,
	coordinator *lifecycle.Coordinator,
	localGen engine.Generator,
	cloudGen engine.Generator,
	tokenBudget int,
) *Manager {
	return &Manager{
		store:       store,
		coordinator: coordinator,
		localGen:    localGen,
		cloudGen:    cloudGen,
		tokenBudget: tokenBudget,
	}
}

// SubscribeStats registers a listener notified after any operation that
// changes the document collection.
func (m *Manager) SubscribeStats(fn func(models.StoreStats)) {
	m.mu.Lock()
	m.statsListeners = append(m.statsListeners, fn)
	m.mu.Unlock()
}

// Search ensures the embedding model is ready, then runs a similarity
// search. k <= 0 uses DefaultTopK.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if err := m.ensureEmbedder(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}
	return m.store.Search(ctx, query, k)
}

// Ingest embeds and stores a new document, then refreshes stats for
// subscribers so callers observe updated counts without polling.
// Private spans are stripped before the content touches the store.
func (m *Manager) Ingest(ctx context.Context, content string, metadata map[string]string) (*models.Document, error) {
	if err := m.ensureEmbedder(ctx); err != nil {
		return nil, err
	}
	doc, err := m.store.AddDocument(ctx, privacy.Clean(content), metadata)
	if err != nil {
		return nil, err
	}
	m.notifyStats(ctx)
	return doc, nil
}

// Stats returns current collection statistics.
func (m *Manager) Stats(ctx context.Context) (models.StoreStats, error) {
	return m.store.Stats(ctx)
}

// Clear removes all documents and refreshes stats for subscribers.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.notifyStats(ctx)
	return nil
}

// Chat answers a question with retrieved context, streaming the answer
// through onToken. The generator follows the persisted execution mode;
// in local mode the generation model is loaded lazily if needed.
func (m *Manager) Chat(ctx context.Context, question string, history []engine.Message, onToken engine.TokenFunc) error {
	results, err := m.Search(ctx, question, DefaultTopK)
	if err != nil {
		return err
	}

	systemPrompt, err := buildContext(results, m.tokenBudget)
	if err != nil {
		return err
	}

	messages := make([]engine.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, engine.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, engine.Message{Role: "user", Content: question})

	gen, err := m.generator(ctx)
	if err != nil {
		return err
	}
	return gen.Generate(ctx, messages, onToken)
}

// generator picks the generation engine for the persisted mode.
func (m *Manager) generator(ctx context.Context) (engine.Generator, error) {
	mode, err := m.coordinator.Mode(ctx)
	if err != nil {
		return nil, err
	}

	switch mode {
	case models.ModeLocal:
		if m.localGen == nil {
			return nil, fmt.Errorf("local generation engine not configured")
		}
		if err := m.coordinator.Load(ctx, models.ModelGeneration, nil); err != nil {
			return nil, err
		}
		return m.localGen, nil
	default:
		if m.cloudGen == nil {
			return nil, fmt.Errorf("cloud generation gateway not configured")
		}
		return m.cloudGen, nil
	}
}

// ensureEmbedder lazily loads the embedding model through the
// coordinator. The load happens on first use, never on mode switch.
func (m *Manager) ensureEmbedder(ctx context.Context) error {
	status, err := m.coordinator.Status(models.ModelEmbedding)
	if err != nil {
		return err
	}
	if status.State == models.ModelReady {
		return nil
	}
	return m.coordinator.Load(ctx, models.ModelEmbedding, nil)
}

// notifyStats recomputes stats and fans them out to subscribers.
func (m *Manager) notifyStats(ctx context.Context) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to refresh stats after collection change")
		return
	}

	m.mu.Lock()
	listeners := make([]func(models.StoreStats), len(m.statsListeners))
	copy(listeners, m.statsListeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(stats)
	}
}
