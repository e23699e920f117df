package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/memoro/internal/api"
	"github.com/nidhogg/memoro/internal/assembler"
	"github.com/nidhogg/memoro/internal/chunker"
	"github.com/nidhogg/memoro/internal/config"
	"github.com/nidhogg/memoro/internal/embedding"
	"github.com/nidhogg/memoro/internal/journal"
	"github.com/nidhogg/memoro/internal/memory"
	"github.com/nidhogg/memoro/internal/orchestrator"
	"github.com/nidhogg/memoro/internal/retriever"
	"github.com/nidhogg/memoro/internal/store"
	"github.com/nidhogg/memoro/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting memoro...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/memoro.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// PostgreSQL: journal entries + memory rows.
	db, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx, cfg.MigrationsDir); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	entries := journal.NewStore(db.Pool(), logger)
	memories := memory.NewStore(db.Pool(), logger)

	// Embedding provider, optionally fronted by a Redis cache.
	provider, err := embedding.New(cfg.Embedding)
	if err != nil {
		logger.Fatal("embedding provider", zap.Error(err))
	}
	var cache *embedding.Cache
	if cfg.Database.Redis.URL != "" {
		ttl := time.Duration(cfg.Database.Redis.CacheTTLSeconds) * time.Second
		c, cacheErr := embedding.NewCache(cfg.Database.Redis.URL, ttl, logger)
		if cacheErr != nil {
			logger.Warn("Redis unavailable, running without embedding cache", zap.Error(cacheErr))
		} else {
			cache = c
			defer cache.Close()
		}
	}
	embedder := embedding.NewCachedProvider(provider, cache, cfg.Embedding.Model)

	// Qdrant: coarse similarity search over memory vectors.
	vectors, err := vectorstore.NewClient(cfg.Database.Qdrant)
	if err != nil {
		logger.Fatal("qdrant unavailable", zap.Error(err))
	}
	defer vectors.Close()

	dim := uint64(embedder.Dimension())
	if dim == 0 {
		dim = 768
	}
	if err := vectors.EnsureCollection(ctx, vectorstore.Collection, dim); err != nil {
		logger.Fatal("qdrant collection", zap.Error(err))
	}

	chunks := chunker.New(chunker.DefaultMaxChunkSize)
	orch := orchestrator.New(embedder, chunks, memories, entries, vectors, cfg.Backlog.BatchSize, logger)
	search := retriever.New(embedder, vectors, memories, entries, logger)
	assemble := assembler.New(memories, logger)
	defer assemble.Close()

	// Background catch-up: embed the backlog and reclaim orphans.
	backlogCtx, stopBacklog := context.WithCancel(ctx)
	defer stopBacklog()
	go runBacklogLoop(backlogCtx, orch, time.Duration(cfg.Backlog.IntervalSeconds)*time.Second, logger)

	handler := api.NewHandler(db, entries, search, assemble, orch,
		cfg.Retrieval.DefaultLimit, cfg.Assembler.MaxContextLength, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	stopBacklog()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

// runBacklogLoop periodically embeds unprocessed entries and cleans up
// orphaned memories until the context is cancelled.
func runBacklogLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, _, err := orch.ProcessBacklog(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("backlog processing failed", zap.Error(err))
		}
		if _, err := orch.CleanupOrphans(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("orphan cleanup failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
