package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/puri-adityakumar/mednotes-ai/internal/api/router"
	"github.com/puri-adityakumar/mednotes-ai/internal/appointments"
	appconfig "github.com/puri-adityakumar/mednotes-ai/internal/config"
	"github.com/puri-adityakumar/mednotes-ai/internal/conversation"
	"github.com/puri-adityakumar/mednotes-ai/internal/http/handlers"
	"github.com/puri-adityakumar/mednotes-ai/internal/observability/metrics"
	"github.com/puri-adityakumar/mednotes-ai/internal/profiles"
	"github.com/puri-adityakumar/mednotes-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting mednotes-ai API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.AuthJWTSecret == "" {
		logger.Error("AUTH_JWT_SECRET is required")
		os.Exit(1)
	}
	if cfg.GeminiAPIKey == "" {
		logger.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	clinicTZ, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid clinic timezone", "tz", cfg.ClinicTimezone, "error", err)
		os.Exit(1)
	}

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	primary, err := conversation.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}
	defer primary.Close()

	var fallback conversation.StreamingLLMClient
	if cfg.GroqAPIKey != "" {
		fallback = conversation.NewGroqClient(cfg.GroqBaseURL, cfg.GroqAPIKey, cfg.GroqModelID)
	} else {
		logger.Warn("GROQ_API_KEY not set, running without a fallback model")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	chatMetrics := metrics.NewChatMetrics(registry)

	profilesRepo := profiles.NewRepository(pool)
	scheduler := appointments.NewService(appointments.NewRepository(pool), logger)
	turnStore := conversation.NewStore(pool)
	transcriptCache := conversation.NewTranscriptCache(redisClient, cfg.TranscriptTTL)

	orchestrator, err := conversation.NewOrchestrator(conversation.OrchestratorConfig{
		Primary:   primary,
		Fallback:  fallback,
		Store:     turnStore,
		Cache:     transcriptCache,
		Patients:  profilesRepo,
		Directory: profilesRepo,
		Scheduler: scheduler,

		Logger:  logger,
		Metrics: chatMetrics,

		Location:          clinicTZ,
		SlotMins:          cfg.SlotDurationMins,
		MaxToolSteps:      cfg.MaxToolSteps,
		PromptDoctorLimit: cfg.PromptDoctorLimit,
	})
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	var corsOrigins []string
	if cfg.CORSAllowedOrigins != "" {
		for _, origin := range strings.Split(cfg.CORSAllowedOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				corsOrigins = append(corsOrigins, origin)
			}
		}
	}

	r := router.New(&router.Config{
		Logger:         logger,
		BookingChat:    handlers.NewBookingChatHandler(orchestrator, logger),
		Health:         handlers.NewHealthHandler(pool),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),

		AuthJWTSecret:      cfg.AuthJWTSecret,
		CORSAllowedOrigins: corsOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Streaming responses stay open for the length of a model turn, so
		// rely on per-request contexts rather than a server write deadline.
		WriteTimeout: 0,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
