// Package worker provides the recall HTTP service.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/recall/internal/capability"
	"github.com/thebtf/recall/internal/config"
	"github.com/thebtf/recall/internal/lifecycle"
	"github.com/thebtf/recall/internal/rag"
	"github.com/thebtf/recall/internal/worker/sse"
	"github.com/thebtf/recall/pkg/models"
)

// statsEvent is pushed on the event stream after collection changes.
type statsEvent struct {
	Type  string            `json:"type"`
	Stats models.StoreStats `json:"stats"`
}

// Service wires the RAG manager, lifecycle coordinator, and capability
// prober behind a localhost HTTP API with an SSE event stream.
type Service struct {
	version     string
	config      *config.Config
	ragManager  *rag.Manager
	coordinator *lifecycle.Coordinator
	prober      *capability.Prober
	broadcaster *sse.Broadcaster
	router      chi.Router
	startTime   time.Time
	ready       atomic.Bool
}

// NewService creates the HTTP service and subscribes the event stream
// to coordinator and collection changes.
func NewService(
	version string,
	cfg *config.Config,
	ragManager *rag.Manager,
	coordinator *lifecycle.Coordinator,
	prober *capability.Prober,
) *Service {
	svc := &Service{
		version:     version,
		config:      cfg,
		ragManager:  ragManager,
		coordinator: coordinator,
		prober:      prober,
		broadcaster: sse.NewBroadcaster(),
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}

	coordinator.Subscribe(func(ev lifecycle.Event) {
		svc.broadcaster.Broadcast(ev)
	})
	ragManager.SubscribeStats(func(stats models.StoreStats) {
		svc.broadcaster.Broadcast(statsEvent{Type: "stats", Stats: stats})
	})

	svc.setupRoutes()
	svc.ready.Store(true)
	return svc
}

// setupRoutes registers all HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/documents", s.handleAddDocument)
		r.Delete("/documents", s.handleClearStore)
		r.Get("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)

		r.Get("/capability", s.handleCapability)

		r.Get("/mode", s.handleGetMode)
		r.Put("/mode", s.handleSetMode)

		r.Route("/models/{kind}", func(r chi.Router) {
			r.Get("/", s.handleModelStatus)
			r.Post("/load", s.handleModelLoad)
			r.Delete("/", s.handleModelUnload)
		})

		r.Post("/chat", s.handleChat)
		r.Get("/events", s.broadcaster.ServeHTTP)
	})
}

// Router returns the HTTP handler. Used by tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// requestLogger logs each request with zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Msg("Request served")
	})
}
