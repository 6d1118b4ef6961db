package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/app"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/archive"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/cache"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/config"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/graph/surreal"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/logging"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/search"
	"github.com/flxbl-dev/kickass-cms-sub001/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", false)
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	graphStore, closeStore, err := openGraph(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.GraphBackend).Msg("graph store unavailable")
	}
	defer closeStore()

	service := app.New(cfg, graphStore, log)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, cfg.StateCacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		service.WithStateCache(redisStore)
		log.Info().Msg("workflow state cache enabled")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewGraphScan(graphStore, service.Engine()), log)
	service.WithSearch(searchService)

	archiveService, err := archive.NewService(ctx, cfg.Archive, log)
	if err != nil {
		log.Fatal().Err(err).Msg("revision archive unavailable")
	}
	if archiveService.Enabled() {
		service.WithArchive(archiveService)
	}

	if err := service.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("bootstrap error (will retry on next restart)")
	}
	go searchService.ReindexAll(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.GraphBackend).Msg("CMS API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

// openGraph builds the configured graph backend and returns its closer.
func openGraph(ctx context.Context, cfg config.Config, log zerolog.Logger) (graph.Store, func(), error) {
	switch cfg.GraphBackend {
	case config.BackendSurreal:
		s, err := surreal.Open(ctx, cfg.Surreal, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close(context.Background()) }, nil
	case config.BackendPostgres:
		db, err := store.Open(ctx, cfg.Postgres.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.ApplyMigrations(ctx, db, store.MigrationsFS(cfg.Postgres.MigrationsDir), log); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
	default:
		log.Warn().Msg("using in-memory graph store; data is lost on restart")
		return graph.NewMemoryStore(), func() {}, nil
	}
}
