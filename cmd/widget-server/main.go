// Package main is the entry point for the reference widget server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxloop/widget-core/internal/config"
	"github.com/voxloop/widget-core/internal/handler"
	"github.com/voxloop/widget-core/internal/llm"
	"github.com/voxloop/widget-core/internal/middleware"
	"github.com/voxloop/widget-core/internal/service"
	"github.com/voxloop/widget-core/internal/session"
	"github.com/voxloop/widget-core/pkg/logger"
	"github.com/voxloop/widget-core/pkg/tracing"
)

func main() {
	cfg := config.LoadServer()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Infow("starting widget server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "widget-server", cfg.TracingEndpoint)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Session history: NATS when configured, otherwise in-memory.
	var sessions session.Store = session.NewMemoryStore()
	var ready func() bool
	if cfg.NATSURL != "" {
		natsStore, err := session.ConnectNATS(ctx, session.NATSConfig{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, log)
		if err != nil {
			log.Errorw("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsStore.Close()
		sessions = natsStore
		ready = natsStore.IsConnected
		log.Infow("session history backed by NATS", "url", cfg.NATSURL)
	}

	llmClient := buildLLMClient(cfg, log)
	log.Infow("completion provider ready", "provider", llmClient.Name())

	chatSvc := service.NewChatService(llmClient, sessions, log)

	healthHandler := handler.NewHealthHandler(ready)
	chatHandler := handler.NewChatHandler(chatSvc, log)
	callHandler := handler.NewCallHandler(llmClient, cfg.PublicURL, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.PublicKey, cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat/web", chatHandler.Stream)
		r.Post("/call/web", callHandler.Create)
		r.Get("/call/ws/{id}", callHandler.Join)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infow("server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Infow("server stopped")
}

// buildLLMClient picks the first provider with credentials, falling back to
// the keyless echo provider for local development.
func buildLLMClient(cfg *config.Server, log *logger.Logger) llm.Client {
	if cfg.AnthropicAPIKey != "" {
		client, err := llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
		if err == nil {
			return client
		}
		log.Warnw("failed to create Anthropic client", "error", err)
	}
	if cfg.OpenAIAPIKey != "" {
		client, err := llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
		if err == nil {
			return client
		}
		log.Warnw("failed to create OpenAI client", "error", err)
	}
	client, _ := llm.NewClient(llm.ProviderEcho, "")
	return client
}
