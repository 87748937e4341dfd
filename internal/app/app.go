// Package app wires the pipeline from configuration. The server, the worker
// and the importer CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mail-archive-search/internal/ai"
	"mail-archive-search/internal/archive"
	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/config"
	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/queue"
	"mail-archive-search/internal/search"
	"mail-archive-search/internal/sender"
	"mail-archive-search/internal/store"
	"mail-archive-search/internal/telemetry"
	"mail-archive-search/internal/textnorm"
	"mail-archive-search/services"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// EnrichTaskTimeout bounds one queued enrichment batch.
const EnrichTaskTimeout = 2 * time.Hour

type App struct {
	Config  *config.Config
	Log     *slog.Logger
	Metrics *telemetry.Metrics

	Repo    store.Repository
	Redis   *redis.Client
	LLM     *ai.Clients
	Storage *attachment.Storage
	Parser  *archive.Parser
	Lexical *search.Lexical
	Vector  *search.Vector

	Enrichment *services.EnrichmentService
	Search     *services.SearchService
	Chat       *services.ChatService

	closers []func(context.Context) error
}

// New connects the store, Redis and the language model and builds the
// services. Redis is optional; a failure to reach it is logged and the
// pipeline runs without cache, queue and rate limiting.
func New(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, log *slog.Logger) (*App, error) {
	log = logger.OrDefault(log)
	a := &App{Config: cfg, Log: log, Metrics: metrics}

	repo, err := store.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)

	if cfg.RedisEnabled() {
		rdb, err := config.NewRedisClient(cfg)
		if err != nil {
			log.Warn("Redis unavailable, continuing without it", "error", err)
		} else {
			a.Redis = rdb
			a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		}
	}

	clients, err := ai.NewClients(ctx, cfg, a.Redis, log)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.LLM = clients
	a.closers = append(a.closers, func(context.Context) error { return clients.Close() })

	p := cfg.Pipeline
	a.Storage = attachment.NewStorage(cfg.AttachmentsDir, attachment.NewExtractor(p.MaxExtractedChars, log), log)
	a.Parser = archive.NewParser(textnorm.NewNormalizer(p.HeaderKeys), sender.NewResolver(), a.Storage, log)
	a.Lexical = search.NewLexical(repo, p.FullFieldCorpusLimit, log)
	a.Vector = search.NewVector(repo, clients.Embedder, search.VectorOptions{
		ChunkSize:  p.ChunkSize,
		Overlap:    p.ChunkOverlap,
		Threshold:  p.SimilarityThreshold,
		Dimensions: cfg.VectorDimensions,
	}, log)

	a.Enrichment = services.NewEnrichmentService(repo, clients.Chat, a.Vector, metrics, log)
	a.Search = services.NewSearchService(a.Lexical, a.Vector, repo, metrics, log)
	a.Chat = services.NewChatService(a.Vector, clients.Chat, metrics, log)
	return a, nil
}

// Imports builds the import service around dispatcher.
func (a *App) Imports(dispatcher services.EnrichmentDispatcher) *services.ImportService {
	return services.NewImportService(a.Parser, a.Repo, a.Storage, dispatcher,
		a.Config.BatchSize, a.Config.Pipeline.MaxTraversalDepth, a.Metrics, a.Log)
}

// Dispatcher picks how enrichment runs after an import: through the queue when
// Redis is reachable, in a background goroutine otherwise. Without a language
// model the batch takes the offline path and events are extracted locally.
// The returned stop function drains or closes the dispatcher.
func (a *App) Dispatcher() (services.EnrichmentDispatcher, func()) {
	if a.Redis != nil {
		opt, err := a.Config.RedisOptions()
		if err == nil {
			client := asynq.NewClient(queue.RedisConnOpt(opt))
			return queue.NewDispatcher(client, EnrichTaskTimeout), func() {
				if err := client.Close(); err != nil {
					a.Log.Warn("Failed to close queue client", "error", err)
				}
			}
		}
		a.Log.Warn("Queue disabled, enriching in process", "error", err)
	}

	bg := services.NewBackgroundDispatcher(a.Enrichment, EnrichTaskTimeout, a.Log)
	return bg, bg.Wait
}

// Close releases connections in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
