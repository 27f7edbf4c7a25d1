// Package main provides the recall worker entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/capability"
	"github.com/thebtf/recall/internal/config"
	"github.com/thebtf/recall/internal/db/sqlite"
	"github.com/thebtf/recall/internal/embedcache"
	"github.com/thebtf/recall/internal/engine"
	"github.com/thebtf/recall/internal/engine/gateway"
	"github.com/thebtf/recall/internal/engine/runtime"
	"github.com/thebtf/recall/internal/lifecycle"
	"github.com/thebtf/recall/internal/rag"
	"github.com/thebtf/recall/internal/vectorstore"
	"github.com/thebtf/recall/internal/watcher"
	"github.com/thebtf/recall/internal/worker"
	"github.com/thebtf/recall/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP port (default: settings worker_port)")
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.recall)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port > 0 {
		cfg.WorkerPort = *port
	}
	config.Set(cfg)

	dbPath := config.DBPath()
	if *dataDir != "" {
		dbPath = filepath.Join(*dataDir, "recall.db")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	store, err := sqlite.NewStore(sqlite.StoreConfig{
		Path:     dbPath,
		MaxConns: cfg.MaxConns,
		WALMode:  true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SQLite store")
	}
	defer store.Close()

	docStore := sqlite.NewDocumentStore(store)
	prefStore := sqlite.NewPrefStore(store)

	embedClient, err := runtime.NewClient(runtime.Config{
		BaseURL: cfg.RuntimeURL,
		Model:   cfg.EmbeddingModel,
		Dim:     cfg.EmbeddingDim,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create embedding runtime client")
	}
	genClient, err := runtime.NewClient(runtime.Config{
		BaseURL: cfg.RuntimeURL,
		Model:   cfg.GenerationModel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create generation runtime client")
	}

	embedder := embedcache.Wrap(embedClient, cfg.EmbedCacheSize,
		time.Duration(cfg.EmbedCacheTTLSecs)*time.Second)

	coordinator := lifecycle.NewCoordinator(map[models.ModelKind]engine.Loader{
		models.ModelEmbedding:  embedClient,
		models.ModelGeneration: genClient,
	}, prefStore)

	// Cached embeddings belong to the loaded model; drop them when it goes away.
	coordinator.Subscribe(func(ev lifecycle.Event) {
		if ev.Type == lifecycle.EventModelStatus &&
			ev.Kind == models.ModelEmbedding &&
			ev.Status.State == models.ModelIdle {
			embedder.Purge()
		}
	})

	vecStore, err := vectorstore.NewService(docStore, embedder, cfg.MaxDocumentBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vector store")
	}

	var cloudGen engine.Generator
	if cfg.GatewayURL != "" {
		gc, err := gateway.NewClient(gateway.Config{
			URL:   cfg.GatewayURL,
			Token: cfg.GatewayToken,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Gateway unavailable, cloud mode disabled")
		} else {
			cloudGen = gc
		}
	}

	ragMgr := rag.NewManager(vecStore, coordinator, genClient, cloudGen, cfg.ContextTokenBudget)
	prober := capability.NewProber()

	startWatcher(dbPath)

	svc := worker.NewService(Version, cfg, ragMgr, coordinator, prober)
	log.Info().Str("version", Version).Int("port", cfg.WorkerPort).Msg("Starting recall worker")

	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Worker error")
	}
}

// startWatcher exits the process when the database file is deleted so a
// supervisor can restart with a fresh store instead of writing into a
// detached inode.
func startWatcher(dbPath string) {
	w, err := watcher.New(dbPath, func() {
		log.Warn().Str("path", dbPath).Msg("Database deleted, exiting for restart...")
		time.Sleep(100 * time.Millisecond) // Give logs time to flush
		os.Exit(0)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create database watcher")
		return
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start database watcher")
		return
	}
	log.Info().Str("path", dbPath).Msg("Database file watcher started")
}
