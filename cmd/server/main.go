package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"refinery.app/engine/common/id"
	"refinery.app/engine/common/llm"
	"refinery.app/engine/common/logger"
	"refinery.app/engine/common/otel"
	"refinery.app/engine/core/config"
	"refinery.app/engine/internal/analyzer"
	httpmiddleware "refinery.app/engine/internal/http/middleware"
	httprouter "refinery.app/engine/internal/http/router"
	"refinery.app/engine/internal/orchestrator"
	"refinery.app/engine/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(".env.server")
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses the OTel log provider in production).
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "engine starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	memStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build memory store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	chatClient, err := llm.NewChatClient(llm.Config{
		Provider: cfg.Analyzer.Provider,
		APIKey:   cfg.Analyzer.APIKey,
		BaseURL:  cfg.Analyzer.Endpoint,
		Model:    cfg.Analyzer.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to build analyzer chat client", "error", err)
		os.Exit(1)
	}
	chatAnalyzer := analyzer.NewChatAnalyzer(chatClient)

	orch := orchestrator.New(memStore, chatAnalyzer, orchestratorConfig(cfg))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, orch)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Duration(cfg.Orchestrator.RequestTimeoutMS)*time.Millisecond + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "address", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// buildStore assembles the MemoryStore decorator stack: Postgres durable
// storage, a Redis recent-entry/stats cache in front of it, and a Typesense
// search index in front of that when configured. The returned close func
// releases whichever pools were opened.
func buildStore(ctx context.Context, cfg config.Config) (store.MemoryStore, func(), error) {
	pool, err := store.NewPostgresPool(ctx, cfg.DB.DSN, cfg.DB.MaxConns, cfg.DB.MinConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	slog.InfoContext(ctx, "postgres connected")

	postgresStore := store.NewPostgresStore(pool, cfg.Orchestrator.DuplicateWindow)
	if err := postgresStore.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrating store schema: %w", err)
	}

	redisClient, err := store.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("building redis client: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging redis: %w", err)
	}
	slog.InfoContext(ctx, "redis connected")

	var memStore store.MemoryStore = store.NewCachedStore(redisClient, postgresStore)

	closeFn := func() {
		pool.Close()
		_ = redisClient.Close()
	}

	if !cfg.Typesense.Enabled() {
		return memStore, closeFn, nil
	}

	typesenseClient := store.NewTypesenseClient(cfg.Typesense.URL, cfg.Typesense.APIKey)
	typesenseIndex := store.NewTypesenseIndex(typesenseClient, cfg.Typesense.Collection, memStore)
	if err := typesenseIndex.EnsureCollection(ctx); err != nil {
		slog.WarnContext(ctx, "typesense collection setup failed, search falls back to substring match", "error", err)
		return memStore, closeFn, nil
	}
	slog.InfoContext(ctx, "typesense connected", "collection", cfg.Typesense.Collection)

	return typesenseIndex, closeFn, nil
}

func orchestratorConfig(cfg config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	if cfg.Orchestrator.HistoryContextLimit > 0 {
		oc.HistoryContextLimit = cfg.Orchestrator.HistoryContextLimit
	}
	if cfg.Analyzer.TimeoutMS > 0 {
		oc.AnalyzerTimeout = time.Duration(cfg.Analyzer.TimeoutMS) * time.Millisecond
	}
	if cfg.Orchestrator.RequestTimeoutMS > 0 {
		oc.RequestTimeout = time.Duration(cfg.Orchestrator.RequestTimeoutMS) * time.Millisecond
	}
	if cfg.Orchestrator.RetryMaxAttempts > 0 {
		oc.Retry.MaxAttempts = cfg.Orchestrator.RetryMaxAttempts
	}
	if cfg.Orchestrator.RetryBaseDelayMS > 0 {
		oc.Retry.BaseDelay = time.Duration(cfg.Orchestrator.RetryBaseDelayMS) * time.Millisecond
	}
	return oc
}

func setupRouter(cfg config.Config, orch *orchestrator.Orchestrator) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates the span, Recovery catches panics inside
	// it, Logger logs with the resulting trace context.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(httpmiddleware.Recovery())
	router.Use(httpmiddleware.Logger())

	httprouter.SetupRoutes(router, orch, httprouter.RouterConfig{
		IsProduction: cfg.IsProduction(),
		AdminAPIKey:  cfg.AdminAPIKey,
	})

	return router
}

const banner = `
 ██████╗ ███████╗███████╗██╗███╗   ██╗███████╗
 ██╔══██╗██╔════╝██╔════╝██║████╗  ██║██╔════╝
 ██████╔╝█████╗  █████╗  ██║██╔██╗ ██║█████╗
 ██╔══██╗██╔══╝  ██╔══╝  ██║██║╚██╗██║██╔══╝
 ██║  ██║███████╗██║     ██║██║ ╚████║███████╗
 ╚═╝  ╚═╝╚══════╝╚═╝     ╚═╝╚═╝  ╚═══╝╚══════╝
`
