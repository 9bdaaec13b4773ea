// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/bootstrap"
	"github.com/handauncle/hubot-relay/internal/config"
	"github.com/handauncle/hubot-relay/internal/dedup"
	"github.com/handauncle/hubot-relay/internal/handler"
	"github.com/handauncle/hubot-relay/internal/llm"
	"github.com/handauncle/hubot-relay/internal/service"
	"github.com/handauncle/hubot-relay/pkg/logger"
	"github.com/handauncle/hubot-relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting hubot relay",
		zap.String("provider", cfg.LLMProvider),
		zap.String("store", cfg.StoreBackend),
	)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "hubot-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	// Conversation store
	st, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open conversation store", zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("failed to close conversation store", zap.Error(err))
		}
	}()

	// Completion gateway
	apiKey := cfg.OpenAIAPIKey
	if cfg.LLMProvider == string(llm.ProviderAnthropic) {
		apiKey = cfg.AnthropicAPIKey
	}
	llmClient, err := llm.NewClient(llm.ProviderConfig{
		Provider: llm.Provider(cfg.LLMProvider),
		APIKey:   apiKey,
		BaseURL:  cfg.OpenAIBaseURL,
	})
	if err != nil {
		log.Fatal("failed to create completion client", zap.Error(err))
	}
	gateway := llm.NewGateway(llmClient, llm.GatewayConfig{
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	})

	// Initialize services
	guard := dedup.NewGuard(cfg.DedupRetention, dedup.WithProcessingTTL(cfg.LLMTimeout+time.Minute))
	knowledgeBase := service.NewTextBlob(service.BlobKnowledgeBase, "")
	systemPrompt := service.NewTextBlob(service.BlobSystemPrompt, llm.DefaultSystemPrompt)

	conversationSvc := service.NewConversationService(st, log)
	messageSvc := service.NewMessageService(guard, gateway, conversationSvc, knowledgeBase, systemPrompt,
		service.MessageConfig{PersistTimeout: cfg.PersistTimeout}, log)
	cleanupSvc := service.NewCleanupService(conversationSvc, 0, log)

	router := handler.NewRouter(handler.Deps{
		Messages:      messageSvc,
		Conversations: conversationSvc,
		Cleanup:       cleanupSvc,
		KnowledgeBase: knowledgeBase,
		SystemPrompt:  systemPrompt,
		Store:         st,
		Resolver:      bootstrap.NewResolver(cfg, log),
		Logger:        log,
	}, handler.RouterConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		UploadMaxBytes:     cfg.UploadMaxBytes,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
