package vectorstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// storeMetrics holds the vector store's OpenTelemetry instruments.
type storeMetrics struct {
	searches       metric.Int64Counter
	ingests        metric.Int64Counter
	searchDuration metric.Float64Histogram
}

// newStoreMetrics creates the instruments. Instrument creation errors
// are ignored: the otel API returns usable no-op instruments alongside
// them, and metrics must never break the store.
func newStoreMetrics() *storeMetrics {
	meter := otel.Meter("github.com/thebtf/recall/internal/vectorstore")

	searches, _ := meter.Int64Counter("recall.vectorstore.searches",
		metric.WithDescription("Number of similarity searches served"))
	ingests, _ := meter.Int64Counter("recall.vectorstore.ingests",
		metric.WithDescription("Number of documents ingested"))
	searchDuration, _ := meter.Float64Histogram("recall.vectorstore.search.duration",
		metric.WithDescription("Similarity search duration"),
		metric.WithUnit("ms"))

	return &storeMetrics{
		searches:       searches,
		ingests:        ingests,
		searchDuration: searchDuration,
	}
}

func (m *storeMetrics) recordSearch(ctx context.Context, started time.Time) {
	m.searches.Add(ctx, 1)
	m.searchDuration.Record(ctx, float64(time.Since(started).Microseconds())/1000.0)
}

func (m *storeMetrics) recordIngest(ctx context.Context) {
	m.ingests.Add(ctx, 1)
}
