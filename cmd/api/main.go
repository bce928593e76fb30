package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sehatline/triage-ai/internal/api/router"
	"github.com/sehatline/triage-ai/internal/cart"
	"github.com/sehatline/triage-ai/internal/catalog"
	"github.com/sehatline/triage-ai/internal/chatgateway"
	appconfig "github.com/sehatline/triage-ai/internal/config"
	"github.com/sehatline/triage-ai/internal/events"
	"github.com/sehatline/triage-ai/internal/observability/metrics"
	"github.com/sehatline/triage-ai/internal/sessionstore"
	"github.com/sehatline/triage-ai/internal/transcript"
	"github.com/sehatline/triage-ai/internal/triage"
	"github.com/sehatline/triage-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting triage-ai API server", "env", cfg.Env, "port", cfg.Port)

	triageMetrics := metrics.NewTriageMetrics(nil)

	// Transcript cache is optional; without Redis the gateway simply skips
	// history replay.
	var transcriptStore *transcript.Store
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		transcriptStore = transcript.NewStore(redisClient)
	}

	// Bundled session-store service backed by Postgres.
	var storeHandler *sessionstore.Handler
	var pool *pgxpool.Pool
	if cfg.SessionStoreEnabled && cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create pgx pool", "error", err)
			os.Exit(1)
		}
		storeHandler = sessionstore.NewHandler(sessionstore.NewStore(pool), logger)
	}

	triageClient := triage.NewAPIClient(triage.APIClientConfig{
		BaseURL: cfg.TriageBaseURL,
		Logger:  logger,
	})

	bus := events.NewMedicationBus()
	startCartConsumer(cfg, bus, triageMetrics, logger)

	newConversation := func() chatgateway.Conversation {
		return triage.NewCoordinator(triageClient, logger,
			triage.WithMetrics(triageMetrics),
			triage.WithMedicationBus(bus),
			triage.WithTranscriptCache(transcriptStore),
			triage.WithCompletionDelay(cfg.CompletionDelay),
			triage.WithWelcomeMessage(cfg.WelcomeMessage),
			triage.WithHistoryLimit(cfg.HistoryTurnLimit),
		)
	}
	gateway := chatgateway.NewHandler(newConversation, transcriptStore, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Gateway:            gateway,
		SessionStore:       storeHandler,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ChatRateLimit:      5,
		ChatRateBurst:      20,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	bus.Close()
	if pool != nil {
		pool.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("server stopped")
}

// startCartConsumer subscribes the medication-to-cart pipeline to the bus.
// Without catalog and cart endpoints configured the bus has no consumer and
// add-to-cart requests are dropped with a log line.
func startCartConsumer(cfg *appconfig.Config, bus *events.MedicationBus, m *metrics.TriageMetrics, logger *logging.Logger) {
	if cfg.CatalogBaseURL == "" || cfg.CartBaseURL == "" {
		logger.Warn("catalog/cart endpoints not configured, medication requests will be ignored")
		return
	}

	catalogClient, err := catalog.NewClient(catalog.ClientConfig{BaseURL: cfg.CatalogBaseURL, Logger: logger})
	if err != nil {
		logger.Error("failed to create catalog client", "error", err)
		os.Exit(1)
	}
	cartClient, err := cart.NewClient(cart.ClientConfig{BaseURL: cfg.CartBaseURL, Logger: logger})
	if err != nil {
		logger.Error("failed to create cart client", "error", err)
		os.Exit(1)
	}
	resolver := cart.NewResolver(catalogClient, cartClient, m, logger)

	requests, _ := bus.Subscribe()
	go func() {
		for req := range requests {
			result := resolver.ResolveAll(context.Background(), req.Suggestions, cart.ResolveOptions{
				ReplaceCart: req.ReplaceCart,
			})
			logger.Info("medication batch applied",
				"session_id", req.SessionID,
				"added", result.Added,
				"failed", len(result.Failed),
			)
		}
	}()
}
